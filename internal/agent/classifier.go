package agent

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/llm"
	"github.com/soyeahso/wayfarer/internal/logging"
)

// LLMClassifier classifies messages with a language model and falls back
// to keyword rules when no model is configured or its reply is unusable.
type LLMClassifier struct {
	client      Completer
	temperature float64
	now         func() time.Time
	log         *logging.Logger
}

// NewLLMClassifier creates a classifier. A nil client means keyword rules only.
func NewLLMClassifier(client Completer, log *logging.Logger) *LLMClassifier {
	return &LLMClassifier{
		client:      client,
		temperature: 0.3,
		now:         time.Now,
		log:         log.Sub("classifier"),
	}
}

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, in ClassifyInput) (Classification, error) {
	if c.client == nil {
		return KeywordClassify(in.Message), nil
	}

	temp := c.temperature
	resp, err := c.client.Complete(ctx, llm.CompletionRequest{
		System:      BuildClassifierPrompt(c.now(), in.Preferences),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: BuildClassifierMessage(in)}},
		Temperature: &temp,
		JSON:        true,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Classification{}, err
		}
		c.log.Warn().Err(err).Msg("classifier model failed, using keyword rules")
		return KeywordClassify(in.Message), nil
	}

	cls, err := ParseClassification(resp.Content)
	if err != nil {
		c.log.Warn().Err(err).Str("reply", truncate(resp.Content, 200)).Msg("unparseable classification, using keyword rules")
		return KeywordClassify(in.Message), nil
	}
	return cls, nil
}

// jsonFenceRe matches a fenced code block, with or without a language hint.
var jsonFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*\n?(.*?)```")

// ParseClassification decodes a classifier reply. Code fences and text
// around the JSON object are tolerated.
func ParseClassification(text string) (Classification, error) {
	raw := strings.TrimSpace(text)
	if m := jsonFenceRe.FindStringSubmatch(raw); m != nil {
		raw = strings.TrimSpace(m[1])
	}
	if i, j := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); i >= 0 && j > i {
		raw = raw[i : j+1]
	}

	var reply classifierReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return Classification{}, err
	}
	if reply.Intent == "" {
		return Classification{}, errors.New("classification has no intent")
	}

	cls := Classification{
		Intent:       domain.ParseIntent(reply.Intent),
		IsCorrection: reply.IsCorrection,
	}
	if fp := reply.FlightParams; fp != nil {
		cls.FlightParams = &domain.FlightParams{
			Origin:      fp.Origin,
			Destination: fp.Destination,
			DepartDate:  fp.DepartDate,
			ReturnDate:  fp.ReturnDate,
			Passengers:  int(fp.Passengers),
			CabinClass:  strings.ToLower(fp.CabinClass),
			MaxStops:    fp.MaxStops,
		}
	}
	if hp := reply.HotelParams; hp != nil {
		cls.HotelParams = &domain.HotelParams{
			City:      hp.City,
			CheckIn:   hp.CheckIn,
			CheckOut:  hp.CheckOut,
			Guests:    int(hp.Guests),
			Budget:    string(hp.Budget),
			MinRating: hp.MinRating,
		}
	}
	if it := reply.SelectedItem; it != nil && (it.Type == "flight" || it.Type == "hotel") {
		action := domain.ActionSelect
		if strings.EqualFold(it.Action, "book") || strings.EqualFold(it.Identifier, "confirmed") {
			action = domain.ActionBook
		}
		cls.Selection = &domain.Selection{
			Kind:       domain.ItemKind(it.Type),
			Action:     action,
			Identifier: it.Identifier,
		}
	}
	return cls, nil
}

type classifierReply struct {
	Intent       string `json:"intent"`
	FlightParams *struct {
		Origin      string     `json:"origin"`
		Destination string     `json:"destination"`
		DepartDate  string     `json:"depart_date"`
		ReturnDate  string     `json:"return_date"`
		Passengers  flexNumber `json:"passengers"`
		CabinClass  string     `json:"cabin_class"`
		MaxStops    *int       `json:"max_stops"`
	} `json:"flight_params"`
	HotelParams *struct {
		City      string     `json:"city"`
		CheckIn   string     `json:"check_in"`
		CheckOut  string     `json:"check_out"`
		Guests    flexNumber `json:"guests"`
		Budget    flexString `json:"budget"`
		MinRating *float64   `json:"min_rating"`
	} `json:"hotel_params"`
	SelectedItem *struct {
		Type       string `json:"type"`
		Identifier string `json:"identifier"`
		Action     string `json:"action"`
	} `json:"selected_item"`
	IsCorrection bool `json:"is_correction"`
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexNumber accepts a JSON number or a numeric string.
type flexNumber int

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	n, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		return err
	}
	*f = flexNumber(n)
	return nil
}

var (
	confirmWords   = []string{"yes", "yeah", "sure", "ok", "yep", "yup", "confirm", "proceed", "book it", "go ahead"}
	selectPhrases  = []string{"i'll take", "i will take", "select", "choose", "take the", "take that"}
	airlineAliases = []string{"delta", "united", "american", "southwest", "jetblue", "alaska", "spirit", "frontier"}

	routeRe = regexp.MustCompile(`(?i)\bfrom\s+([a-z][a-z .]*?)\s+to\s+([a-z][a-z .]*?)(?:\s+(?:on|in|for|next|this|tomorrow|with)\b|[,.!?]|$)`)
	toRe    = regexp.MustCompile(`\b[Tt]o\s+([A-Z][a-zA-Z]*(?:\s[A-Z][a-zA-Z]*)?)`)
	cityRe  = regexp.MustCompile(`\b[Ii]n\s+([A-Z][a-zA-Z]*(?:\s[A-Z][a-zA-Z]*)?)`)
	dateRe  = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	stopsRe = regexp.MustCompile(`(?i)\b(direct|non-?stop)\b`)
)

// KeywordClassify classifies a message without a language model.
func KeywordClassify(message string) Classification {
	lower := strings.ToLower(strings.TrimSpace(message))
	book := Classification{
		Intent:    domain.IntentOther,
		Selection: &domain.Selection{Kind: domain.ItemFlight, Action: domain.ActionBook, Identifier: "confirmed"},
	}

	if slices.Contains(confirmWords, strings.TrimRight(lower, ".!")) {
		return book
	}
	if strings.Contains(lower, "book it") || strings.Contains(lower, "confirm") || strings.Contains(lower, "proceed") {
		return book
	}

	mentionsAirline := slices.ContainsFunc(airlineAliases, func(a string) bool { return strings.Contains(lower, a) })
	if slices.ContainsFunc(selectPhrases, func(p string) bool { return strings.Contains(lower, p) }) {
		switch {
		case strings.Contains(lower, "flight") || mentionsAirline:
			return selectItem(domain.ItemFlight, message)
		case strings.Contains(lower, "hotel"):
			return selectItem(domain.ItemHotel, message)
		}
	}
	if mentionsAirline && len(strings.Fields(lower)) <= 4 {
		return selectItem(domain.ItemFlight, message)
	}

	flights := strings.Contains(lower, "flight") || strings.Contains(lower, "fly")
	hotels := strings.Contains(lower, "hotel") || strings.Contains(lower, "stay") || strings.Contains(lower, "accommodation")
	cls := Classification{Intent: domain.IntentOther}
	switch {
	case flights && hotels, strings.Contains(lower, "trip"):
		cls.Intent = domain.IntentCombined
	case flights:
		cls.Intent = domain.IntentFlight
	case hotels:
		cls.Intent = domain.IntentHotel
	}

	if cls.Intent.WantsFlights() {
		fp := &domain.FlightParams{}
		if m := routeRe.FindStringSubmatch(message); m != nil {
			fp.Origin, fp.Destination = strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
		} else if m := toRe.FindStringSubmatch(message); m != nil {
			fp.Destination = m[1]
		}
		if m := dateRe.FindStringSubmatch(message); m != nil {
			fp.DepartDate = m[1]
		}
		if stopsRe.MatchString(message) {
			zero := 0
			fp.MaxStops = &zero
		}
		if *fp != (domain.FlightParams{}) {
			cls.FlightParams = fp
		}
	}
	if cls.Intent.WantsHotels() {
		if m := cityRe.FindStringSubmatch(message); m != nil {
			cls.HotelParams = &domain.HotelParams{City: m[1]}
		}
	}
	return cls
}

func selectItem(kind domain.ItemKind, identifier string) Classification {
	return Classification{
		Intent:    domain.IntentOther,
		Selection: &domain.Selection{Kind: kind, Action: domain.ActionSelect, Identifier: identifier},
	}
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
