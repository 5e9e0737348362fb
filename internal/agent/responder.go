package agent

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/llm"
	"github.com/soyeahso/wayfarer/internal/logging"
)

// LLMResponder writes replies with a language model and falls back to
// templates when no model is configured or the model fails.
type LLMResponder struct {
	client      Completer
	temperature float64
	maxTokens   int
	log         *logging.Logger
}

// NewLLMResponder creates a responder. A nil client means templates only.
func NewLLMResponder(client Completer, maxTokens int, log *logging.Logger) *LLMResponder {
	return &LLMResponder{
		client:      client,
		temperature: 0.8,
		maxTokens:   maxTokens,
		log:         log.Sub("responder"),
	}
}

// Respond implements Responder.
func (r *LLMResponder) Respond(ctx context.Context, rc ResponseContext) (string, error) {
	if r.client == nil {
		return TemplateResponse(rc), nil
	}

	temp := r.temperature
	resp, err := r.client.Complete(ctx, llm.CompletionRequest{
		System:      responderGuidelines,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: BuildResponsePrompt(rc)}},
		Temperature: &temp,
		MaxTokens:   r.maxTokens,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		r.log.Warn().Err(err).Msg("responder model failed, using template")
		return TemplateResponse(rc), nil
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return TemplateResponse(rc), nil
	}
	return text, nil
}

// TemplateResponse builds a reply without a language model.
func TemplateResponse(rc ResponseContext) string {
	if sel := rc.Selection; sel != nil {
		switch rc.SelectionOutcome {
		case "pending":
			if sel.Kind == domain.ItemFlight {
				if f, ok := findFlight(rc.Flights, sel.Identifier); ok {
					return fmt.Sprintf("Great choice! %s flight %s for $%.2f. Shall I proceed with booking?", f.Airline, f.FlightNumber, f.Price)
				}
			}
			return fmt.Sprintf("Great choice! I've noted %s. Shall I proceed with booking?", sel.Identifier)
		case "confirmed":
			return fmt.Sprintf("Perfect! Your %s booking is confirmed.", sel.Kind)
		case "ignored":
			if sel.Action == domain.ActionBook {
				return "There is nothing waiting to be booked yet. Which option would you like?"
			}
		}
	}

	var parts []string
	switch {
	case rc.FlightError != "" && rc.HotelError != "":
		return "Sorry, I couldn't reach the flight or hotel search just now. Please try again in a moment."
	case rc.FlightError != "":
		parts = append(parts, "Sorry, the flight search failed just now.")
	case rc.HotelError != "":
		parts = append(parts, "Sorry, the hotel search failed just now.")
	}

	if rc.Intent == domain.IntentFlight && rc.FlightError == "" && len(rc.Flights) == 0 {
		return "I couldn't find any flights matching your criteria. Try flexible dates, nearby airports or allowing connections. Would you like me to search again with different parameters?"
	}
	if rc.Intent == domain.IntentHotel && rc.HotelError == "" && len(rc.Hotels) == 0 {
		return "I couldn't find any hotels matching your criteria. Try a wider budget, a nearby neighborhood or a lower minimum rating. Would you like me to search again with adjusted filters?"
	}

	if len(rc.Flights) > 0 {
		cheapest := slices.MinFunc(rc.Flights, func(a, b domain.FlightResult) int {
			switch {
			case a.Price < b.Price:
				return -1
			case a.Price > b.Price:
				return 1
			}
			return 0
		})
		parts = append(parts, fmt.Sprintf("I found %d flights for you! The cheapest option is $%.2f with %s.", len(rc.Flights), cheapest.Price, cheapest.Airline))
	}
	if len(rc.Hotels) > 0 {
		best := rc.Hotels[0]
		parts = append(parts, fmt.Sprintf("I also found %d hotels. Check out %s at $%.2f/night (%.1f stars).", len(rc.Hotels), best.Name, best.PricePerNight, best.StarRating))
	}
	if len(parts) == 0 {
		parts = append(parts, "I'm ready to help you search for flights and hotels. What are you looking for?")
	}
	return strings.Join(parts, " ")
}

// findFlight resolves a loose identifier (id, airline or flight number)
// against a result list.
func findFlight(flights []domain.FlightResult, identifier string) (domain.FlightResult, bool) {
	lower := strings.ToLower(identifier)
	for _, f := range flights {
		if domain.MatchesID(identifier, f.ID) ||
			strings.Contains(lower, strings.ToLower(f.Airline)) ||
			(f.FlightNumber != "" && strings.Contains(lower, strings.ToLower(f.FlightNumber))) {
			return f, true
		}
	}
	return domain.FlightResult{}, false
}
