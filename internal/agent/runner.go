package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/logging"
	"github.com/soyeahso/wayfarer/internal/runs"
	"github.com/soyeahso/wayfarer/internal/session"
)

// Agent names shown in agent_status events.
const (
	agentCoordinator = "Coordinator"
	agentFlights     = "Flight Agent"
	agentHotels      = "Hotel Agent"
	agentResponder   = "Response Agent"
)

// Stages at which a run checks whether it should stop.
const (
	StageCompact       = "compact"
	StageClassify      = "classify"
	StageRoute         = "route"
	StageFlightResults = "flight_results"
	StageHotelResults  = "hotel_results"
	StageRespond       = "respond"
	StagePublish       = "publish"
)

// errStopped unwinds a run that was cancelled, timed out or superseded.
var errStopped = errors.New("run stopped")

// RunnerConfig configures the agent runner.
type RunnerConfig struct {
	RunTimeout        time.Duration
	StageTimeout      time.Duration
	CompactAfterTurns int
	KeepRecentTurns   int
}

// Collaborators are the services a run calls out to.
type Collaborators struct {
	Classifier Classifier
	Flights    FlightSearcher
	Hotels     HotelSearcher
	Responder  Responder
	Summarizer Summarizer
}

// Outcome is how a run ended.
type Outcome struct {
	RunID    string           `json:"runId"`
	Status   domain.RunStatus `json:"status"`
	Intent   domain.Intent    `json:"intent,omitempty"`
	Stage    string           `json:"stage,omitempty"` // last stage reached
	Stale    bool             `json:"stale,omitempty"` // superseded before finishing
	Err      error            `json:"-"`               // collaborator failures or the stop cause
	Duration time.Duration    `json:"duration"`
}

// Runner executes runs: classify, route, search and respond, with a
// cancellation check between stages. Every session write goes through
// UpdateForRun so a run that no longer owns its session cannot change it.
type Runner struct {
	cfg      RunnerConfig
	col      Collaborators
	store    *session.Store
	registry *runs.Registry
	now      func() time.Time
	log      *logging.Logger
}

// NewRunner creates an agent runner.
func NewRunner(cfg RunnerConfig, col Collaborators, store *session.Store, registry *runs.Registry, log *logging.Logger) *Runner {
	return &Runner{
		cfg:      cfg,
		col:      col,
		store:    store,
		registry: registry,
		now:      time.Now,
		log:      log.Sub("agent"),
	}
}

// Execute runs the pipeline for message. It always deregisters the run
// before returning.
func (r *Runner) Execute(run *runs.Run, message string) (out Outcome) {
	start := time.Now()
	ctx := run.Context()
	if r.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.RunTimeout)
		defer cancel()
	}

	p := &pass{
		r:       r,
		run:     run,
		ctx:     ctx,
		sctx:    context.WithoutCancel(ctx),
		message: message,
		log:     r.log.With("sessionId", run.SessionID).With("runId", run.ID),
	}
	out.RunID = run.ID

	defer r.registry.Deregister(run.SessionID, run.ID)
	defer run.Stop()
	defer func() {
		if rec := recover(); rec != nil {
			p.log.Error().Interface("panic", rec).Str("stage", p.stage).Msg("run panicked")
			out.Err = fmt.Errorf("panic in %s: %v", p.stage, rec)
			p.abort(out.Err)
			out.Status = domain.StatusCancelled
		}
		out.Intent = p.intent
		out.Stage = p.stage
		out.Stale = p.stale
		out.Duration = time.Since(start)
		p.log.Info().
			Str("status", string(out.Status)).
			Str("intent", string(out.Intent)).
			Str("stage", out.Stage).
			Bool("stale", out.Stale).
			Dur("duration", out.Duration).
			Msg("run finished")
	}()

	p.log.Debug().Msg("run started")
	err := p.execute()
	switch {
	case err == nil:
		out.Status = domain.StatusCompleted
		out.Err = errors.Join(p.failures...)
	case errors.Is(err, errStopped):
		out.Status = domain.StatusCancelled
		out.Err = context.Cause(ctx)
		if !run.CancelRequested() && !p.stale {
			// Stopped by the run timeout or shutdown rather than by a newer
			// message, so nobody else will close the run for the client.
			p.abort(out.Err)
		}
	default:
		p.log.Error().Err(err).Str("stage", p.stage).Msg("run failed")
		out.Status = domain.StatusCancelled
		out.Err = err
		p.abort(err)
	}
	return out
}

// pass is the state of one Execute call.
type pass struct {
	r       *Runner
	run     *runs.Run
	ctx     context.Context // cancelled on stop or run timeout
	sctx    context.Context // for session writes, never cancelled
	message string
	log     *logging.Logger

	stage    string
	stale    bool
	intent   domain.Intent
	failures []error
}

// checkpoint records the stage and reports errStopped if the run must stop.
func (p *pass) checkpoint(stage string) error {
	p.stage = stage
	if p.run.CancelRequested() || p.ctx.Err() != nil {
		p.log.Debug().Str("stage", stage).Msg("run stopping at checkpoint")
		return errStopped
	}
	return nil
}

// update applies fn to the session if the run still owns it.
func (p *pass) update(fn func(tx *session.Tx) error) error {
	err := p.r.store.UpdateForRun(p.sctx, p.run.SessionID, p.run.ID, fn)
	if errors.Is(err, session.ErrStaleRun) {
		p.stale = true
		return errStopped
	}
	return err
}

func (p *pass) agentStatus(agent, status, step string) error {
	return p.update(func(tx *session.Tx) error {
		tx.Publish(domain.EventAgentStatus, domain.AgentStatusData{Agent: agent, Status: status, Step: step})
		return nil
	})
}

// stageContext bounds a single collaborator call.
func (p *pass) stageContext() (context.Context, context.CancelFunc) {
	if p.r.cfg.StageTimeout > 0 {
		return context.WithTimeout(p.ctx, p.r.cfg.StageTimeout)
	}
	return context.WithCancel(p.ctx)
}

// abort closes the run for the client after an unplanned stop.
func (p *pass) abort(cause error) {
	msg := "Something went wrong while handling your message. Please try again."
	if errors.Is(cause, context.DeadlineExceeded) {
		msg = "That took too long, so I stopped. Please try again."
	}
	err := p.update(func(tx *session.Tx) error {
		tx.Publish(domain.EventError, domain.ErrorData{Message: msg, Stage: p.stage})
		tx.Publish(domain.EventStatus, domain.StatusData{Status: domain.StatusCancelled})
		p.run.MarkFinished()
		return nil
	})
	if err != nil {
		p.log.Debug().Err(err).Msg("abort not published")
	}
}

func (p *pass) execute() error {
	if err := p.compact(); err != nil {
		return err
	}

	if err := p.checkpoint(StageClassify); err != nil {
		return err
	}
	in, err := p.learn()
	if err != nil {
		return err
	}
	cls := p.classify(in)

	if err := p.checkpoint(StageRoute); err != nil {
		return err
	}
	plan, err := p.route(cls)
	if err != nil {
		return err
	}

	var flightErr, hotelErr error
	if plan.intent.WantsFlights() {
		if flightErr, err = p.searchFlights(*plan.flights, plan.intent); err != nil {
			return err
		}
	}
	if plan.intent.WantsHotels() {
		if hotelErr, err = p.searchHotels(*plan.hotels, plan.intent, flightErr); err != nil {
			return err
		}
	}

	if err := p.checkpoint(StageRespond); err != nil {
		return err
	}
	text, err := p.respond(plan, flightErr, hotelErr)
	if err != nil {
		return err
	}

	if err := p.checkpoint(StagePublish); err != nil {
		return err
	}
	return p.update(func(tx *session.Tx) error {
		tx.AppendTurn(domain.Turn{Sender: domain.SenderAssistant, Text: text, RunID: p.run.ID, Timestamp: p.r.now()})
		tx.Publish(domain.EventMessage, domain.MessageData{Sender: domain.SenderAssistant, Text: text})
		tx.Publish(domain.EventStatus, domain.StatusData{Status: domain.StatusCompleted})
		p.run.MarkFinished()
		return nil
	})
}

// compact summarizes older turns once the history grows past the threshold.
func (p *pass) compact() error {
	threshold, keep := p.r.cfg.CompactAfterTurns, p.r.cfg.KeepRecentTurns
	if threshold <= 0 || p.r.col.Summarizer == nil {
		return nil
	}

	var older []domain.Turn
	err := p.update(func(tx *session.Tx) error {
		if h := tx.History(); len(h) > threshold && len(h) > keep {
			older = h[:len(h)-keep]
		}
		return nil
	})
	if err != nil || len(older) == 0 {
		return err
	}

	sctx, cancel := p.stageContext()
	text, err := p.r.col.Summarizer.Summarize(sctx, older)
	cancel()
	if err := p.checkpoint(StageCompact); err != nil {
		return err
	}
	if err != nil || strings.TrimSpace(text) == "" {
		p.log.Warn().Err(err).Int("turns", len(older)).Msg("summarizer failed, using placeholder")
		text = FallbackSummary(older)
	}

	return p.update(func(tx *session.Tx) error {
		tx.Compact(domain.Summary{
			Text:      text,
			TurnCount: len(older),
			StartedAt: older[0].Timestamp,
			EndedAt:   older[len(older)-1].Timestamp,
			CreatedAt: p.r.now(),
		})
		return nil
	})
}

// learn merges preferences stated in the message and snapshots what the
// classifier needs.
func (p *pass) learn() (ClassifyInput, error) {
	items := ExtractPreferences(p.message, p.r.now())
	in := ClassifyInput{Message: p.message}

	err := p.update(func(tx *session.Tx) error {
		tx.Publish(domain.EventAgentStatus, domain.AgentStatusData{
			Agent: agentCoordinator, Status: "Understanding your request...", Step: "intent_classification",
		})
		applied := tx.MergePreferences(items)
		for _, it := range applied {
			tx.Publish(domain.EventPreferenceUpdate, domain.PreferenceData{Category: it.Category, Value: it.Value})
		}
		if len(applied) > 0 {
			tx.Publish(domain.EventAgentStatus, domain.AgentStatusData{
				Agent:  agentCoordinator,
				Status: "Learned preference: " + applied[len(applied)-1].Value,
				Step:   "preference_learning",
			})
		}

		in.History = tx.History()
		in.Summaries = tx.Summaries()
		in.Preferences = tx.Preferences()
		return nil
	})
	return in, err
}

// classify calls the classifier, falling back to keyword rules on failure.
func (p *pass) classify(in ClassifyInput) Classification {
	if p.r.col.Classifier == nil {
		return KeywordClassify(in.Message)
	}
	sctx, cancel := p.stageContext()
	defer cancel()

	cls, err := p.r.col.Classifier.Classify(sctx, in)
	if err != nil {
		if p.ctx.Err() == nil {
			p.log.Warn().Err(&CollaboratorError{Stage: StageClassify, Err: err}).Msg("classification failed, using keyword rules")
		}
		return KeywordClassify(in.Message)
	}
	if cls.Intent == "" {
		cls.Intent = domain.IntentOther
	}
	return cls
}

type plan struct {
	intent    domain.Intent
	flights   *domain.FlightParams
	hotels    *domain.HotelParams
	selection *domain.Selection
	outcome   session.SelectionOutcome
}

// route records the classification and decides which searches to run.
func (p *pass) route(cls Classification) (plan, error) {
	pl := plan{intent: cls.Intent, selection: cls.Selection}
	p.intent = cls.Intent
	p.run.SetKind(cls.Intent)

	err := p.update(func(tx *session.Tx) error {
		prefs := tx.Preferences()
		tx.SetIntent(pl.intent)

		if pl.intent.WantsFlights() {
			fp := flightParams(cls.FlightParams)
			fp = prefs.ApplyToFlight(fp)
			pl.flights = &fp
			tx.SetFlightParams(&fp)
		}
		if pl.intent.WantsHotels() {
			hp := hotelParams(cls.HotelParams, cls.FlightParams)
			hp = prefs.ApplyToHotel(hp)
			pl.hotels = &hp
			tx.SetHotelParams(&hp)
		}

		if sel := cls.Selection; sel != nil {
			pl.outcome = tx.ApplySelection(*sel)
			if pl.outcome == session.SelectionIgnored && sel.Action == domain.ActionBook {
				// "Book it" names no kind; confirm whichever item is pending.
				other := *sel
				other.Kind = otherKind(sel.Kind)
				if out := tx.ApplySelection(other); out != session.SelectionIgnored {
					pl.outcome, pl.selection = out, &other
				}
			}
		}

		// Hide the panel a single-kind search doesn't refresh.
		switch pl.intent {
		case domain.IntentFlight:
			tx.Publish(domain.EventHotelResults, domain.HotelResultsData{Results: []domain.HotelResult{}})
		case domain.IntentHotel:
			tx.Publish(domain.EventFlightResults, domain.FlightResultsData{Results: []domain.FlightResult{}})
		}
		tx.Publish(domain.EventAgentStatus, domain.AgentStatusData{
			Agent: agentCoordinator, Status: "Intent: " + string(pl.intent), Step: "routing",
		})
		return nil
	})
	return pl, err
}

// searchFlights runs the flight stage. The first result is the collaborator
// failure, if any; the second stops the run.
func (p *pass) searchFlights(params domain.FlightParams, intent domain.Intent) (error, error) {
	status := fmt.Sprintf("Searching flights from %s to %s...", params.Origin, params.Destination)
	if err := p.agentStatus(agentFlights, status, "search_start"); err != nil {
		return nil, err
	}

	sctx, cancel := p.stageContext()
	res, err := p.r.col.Flights.SearchFlights(sctx, params)
	cancel()
	if err := p.checkpoint(StageFlightResults); err != nil {
		return nil, err
	}

	if err != nil {
		failure := &CollaboratorError{Stage: "flight_search", Err: err}
		p.failures = append(p.failures, failure)
		p.log.Warn().Err(err).Msg("flight search failed")
		if intent == domain.IntentCombined {
			// Reported together with the hotel stage.
			return failure, nil
		}
		return failure, p.update(func(tx *session.Tx) error {
			tx.Publish(domain.EventError, domain.ErrorData{Message: "Flight search is unavailable right now.", Stage: "flight_search"})
			return nil
		})
	}

	return nil, p.update(func(tx *session.Tx) error {
		tx.ReplaceFlightResults(res.Results, res.Partial)
		tx.Publish(domain.EventFlightResults, domain.FlightResultsData{Results: tx.FlightResults(), IsPartial: res.Partial})
		tx.Publish(domain.EventAgentStatus, domain.AgentStatusData{
			Agent: agentFlights, Status: fmt.Sprintf("Found %d flights", len(res.Results)), Step: "search_complete",
		})
		return nil
	})
}

// searchHotels runs the hotel stage. For a combined request it also reports
// a deferred flight failure, as a single error when both searches failed.
func (p *pass) searchHotels(params domain.HotelParams, intent domain.Intent, flightErr error) (error, error) {
	if err := p.agentStatus(agentHotels, "Searching hotels in "+params.City+"...", "search_start"); err != nil {
		return nil, err
	}

	sctx, cancel := p.stageContext()
	res, err := p.r.col.Hotels.SearchHotels(sctx, params)
	cancel()
	if err := p.checkpoint(StageHotelResults); err != nil {
		return nil, err
	}

	var failure error
	if err != nil {
		failure = &CollaboratorError{Stage: "hotel_search", Err: err}
		p.failures = append(p.failures, failure)
		p.log.Warn().Err(err).Msg("hotel search failed")
	}

	return failure, p.update(func(tx *session.Tx) error {
		switch {
		case failure != nil && flightErr != nil && intent == domain.IntentCombined:
			tx.Publish(domain.EventError, domain.ErrorData{Message: "Flight and hotel searches are unavailable right now.", Stage: "search"})
			return nil
		case flightErr != nil && intent == domain.IntentCombined:
			tx.Publish(domain.EventError, domain.ErrorData{Message: "Flight search is unavailable right now.", Stage: "flight_search"})
		}
		if failure != nil {
			tx.Publish(domain.EventError, domain.ErrorData{Message: "Hotel search is unavailable right now.", Stage: "hotel_search"})
			return nil
		}
		tx.ReplaceHotelResults(res.Results, res.Partial)
		tx.Publish(domain.EventHotelResults, domain.HotelResultsData{Results: tx.HotelResults(), IsPartial: res.Partial})
		tx.Publish(domain.EventAgentStatus, domain.AgentStatusData{
			Agent: agentHotels, Status: fmt.Sprintf("Found %d hotels", len(res.Results)), Step: "search_complete",
		})
		return nil
	})
}

// respond generates the reply, using a template if the responder fails.
func (p *pass) respond(pl plan, flightErr, hotelErr error) (string, error) {
	rc := ResponseContext{Intent: pl.intent, Message: p.message, Selection: pl.selection}
	if pl.selection != nil {
		rc.SelectionOutcome = string(pl.outcome)
	}
	if flightErr != nil {
		rc.FlightError = errors.Unwrap(flightErr).Error()
	}
	if hotelErr != nil {
		rc.HotelError = errors.Unwrap(hotelErr).Error()
	}

	err := p.update(func(tx *session.Tx) error {
		rc.History = tx.History()
		rc.Summaries = tx.Summaries()
		rc.Flights = tx.FlightResults()
		rc.Hotels = tx.HotelResults()
		rc.SelectedFlightID, rc.PendingFlightID = tx.Selected(domain.ItemFlight)
		rc.SelectedHotelID, rc.PendingHotelID = tx.Selected(domain.ItemHotel)
		if prefs := tx.Preferences(); !prefs.Empty() {
			rc.PreferenceSummary = prefs.Summary()
		}
		tx.Publish(domain.EventAgentStatus, domain.AgentStatusData{
			Agent: agentResponder, Status: "Writing a reply...", Step: "response_generation",
		})
		return nil
	})
	if err != nil {
		return "", err
	}

	if p.r.col.Responder == nil {
		return TemplateResponse(rc), nil
	}
	sctx, cancel := p.stageContext()
	defer cancel()
	text, err := p.r.col.Responder.Respond(sctx, rc)
	if err != nil || strings.TrimSpace(text) == "" {
		if p.ctx.Err() == nil {
			p.log.Warn().Err(err).Msg("responder failed, using template")
		}
		return TemplateResponse(rc), nil
	}
	return text, nil
}

func flightParams(in *domain.FlightParams) domain.FlightParams {
	var fp domain.FlightParams
	if in != nil {
		fp = *in
	}
	if fp.Origin == "" {
		fp.Origin = domain.DefaultOrigin
	}
	if fp.Destination == "" {
		fp.Destination = domain.DefaultDestination
	}
	if fp.Passengers <= 0 {
		fp.Passengers = 1
	}
	return fp
}

// hotelParams fills hotel criteria from the flight criteria when the message
// gave none of its own.
func hotelParams(in *domain.HotelParams, flights *domain.FlightParams) domain.HotelParams {
	var hp domain.HotelParams
	if in != nil {
		hp = *in
	}
	if flights != nil {
		if hp.City == "" {
			hp.City = cityForAirport(flights.Destination)
		}
		if hp.CheckIn == "" {
			hp.CheckIn = flights.DepartDate
		}
		if hp.CheckOut == "" {
			hp.CheckOut = flights.ReturnDate
		}
		if hp.Guests <= 0 {
			hp.Guests = flights.Passengers
		}
	}
	if hp.City == "" {
		hp.City = domain.DefaultCity
	}
	if hp.Guests <= 0 {
		hp.Guests = 1
	}
	return hp
}

var airportCities = map[string]string{
	"JFK": "New York", "LAX": "Los Angeles", "ORD": "Chicago", "ATL": "Atlanta",
	"DFW": "Dallas", "DEN": "Denver", "SFO": "San Francisco", "SEA": "Seattle",
	"MIA": "Miami", "LAS": "Las Vegas", "MCO": "Orlando", "BOS": "Boston",
	"PHX": "Phoenix", "IAH": "Houston", "LHR": "London", "CDG": "Paris",
	"HND": "Tokyo", "NRT": "Tokyo", "DXB": "Dubai", "SIN": "Singapore",
}

func cityForAirport(code string) string {
	if city, ok := airportCities[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return city
	}
	return code
}

func otherKind(k domain.ItemKind) domain.ItemKind {
	if k == domain.ItemFlight {
		return domain.ItemHotel
	}
	return domain.ItemFlight
}
