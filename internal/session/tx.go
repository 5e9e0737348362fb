package session

import (
	"encoding/hex"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/wayfarer/internal/domain"
)

// ErrNothingToBook is returned by ConfirmBooking when the request names no item.
var ErrNothingToBook = errors.New("booking request names no flight or hotel")

// Tx is the view of a session handed to Update callbacks. It is only valid
// for the duration of the callback.
//
// Selections and pending bookings change only through ApplySelection and
// ConfirmBooking; nothing else on Tx touches them.
type Tx struct {
	st    *domain.SessionState
	runID string

	events       []domain.Event
	newTurns     []domain.Turn
	bookings     []domain.Booking
	prefsChanged bool
}

// SessionID is the id of the session being updated.
func (tx *Tx) SessionID() string { return tx.st.ID }

// CurrentRunID is the run that owns the session's results, or "".
func (tx *Tx) CurrentRunID() string { return tx.st.CurrentRunID }

// Interrupted reports the session's interruption flag.
func (tx *Tx) Interrupted() bool { return tx.st.IsInterrupted }

// SetInterrupted sets the interruption flag.
func (tx *Tx) SetInterrupted(v bool) { tx.st.IsInterrupted = v }

// SetCurrentRun hands ownership of the session's results to runID.
// Passing "" leaves the session unowned so every run write is rejected.
func (tx *Tx) SetCurrentRun(runID string) { tx.st.CurrentRunID = runID }

// ClearSearch drops results, search criteria and intent. Selections,
// pending bookings, history and preferences are kept.
func (tx *Tx) ClearSearch() {
	tx.st.FlightResults = nil
	tx.st.HotelResults = nil
	tx.st.FlightParams = nil
	tx.st.HotelParams = nil
	tx.st.Intent = ""
}

// AppendTurn adds a turn to the conversation history.
func (tx *Tx) AppendTurn(t domain.Turn) {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	tx.st.History = append(tx.st.History, t)
	tx.newTurns = append(tx.newTurns, t)
}

// History returns a copy of the conversation history.
func (tx *Tx) History() []domain.Turn { return slices.Clone(tx.st.History) }

// Summaries returns a copy of the compaction summaries.
func (tx *Tx) Summaries() []domain.Summary { return slices.Clone(tx.st.Summaries) }

// Compact replaces the oldest summarized turns with their summary. It is a
// no-op if fewer turns remain than the summary covers.
func (tx *Tx) Compact(sum domain.Summary) {
	if sum.TurnCount <= 0 || sum.TurnCount > len(tx.st.History) {
		return
	}
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = time.Now()
	}
	tx.st.Summaries = append(tx.st.Summaries, sum)
	tx.st.History = slices.Clone(tx.st.History[sum.TurnCount:])
}

// Preferences returns a copy of the session's preferences.
func (tx *Tx) Preferences() domain.Preferences { return tx.st.Preferences.Clone() }

// MergePreferences folds learned items in and returns those that changed something.
func (tx *Tx) MergePreferences(items []domain.PreferenceItem) []domain.PreferenceItem {
	applied := tx.st.Preferences.Merge(items)
	if len(applied) > 0 {
		tx.prefsChanged = true
	}
	return applied
}

// ClearPreferences empties the preference set.
func (tx *Tx) ClearPreferences() {
	tx.st.Preferences = domain.Preferences{}
	tx.prefsChanged = true
}

// SetIntent records the current run's classified intent.
func (tx *Tx) SetIntent(i domain.Intent) { tx.st.Intent = i }

// SetFlightParams records the criteria used for the flight search.
func (tx *Tx) SetFlightParams(p *domain.FlightParams) { tx.st.FlightParams = p }

// SetHotelParams records the criteria used for the hotel search.
func (tx *Tx) SetHotelParams(p *domain.HotelParams) { tx.st.HotelParams = p }

// ReplaceFlightResults swaps in a new flight result set.
func (tx *Tx) ReplaceFlightResults(results []domain.FlightResult, partial bool) {
	out := slices.Clone(results)
	for i := range out {
		out[i].IsPartial = out[i].IsPartial || partial
	}
	tx.st.FlightResults = out
}

// ReplaceHotelResults swaps in a new hotel result set.
func (tx *Tx) ReplaceHotelResults(results []domain.HotelResult, partial bool) {
	out := slices.Clone(results)
	for i := range out {
		out[i].IsPartial = out[i].IsPartial || partial
	}
	tx.st.HotelResults = out
}

// FlightResults returns a copy of the current flight results.
func (tx *Tx) FlightResults() []domain.FlightResult { return slices.Clone(tx.st.FlightResults) }

// HotelResults returns a copy of the current hotel results.
func (tx *Tx) HotelResults() []domain.HotelResult { return slices.Clone(tx.st.HotelResults) }

// Selected returns the selected and pending ids for a kind of item.
func (tx *Tx) Selected(kind domain.ItemKind) (selected, pending string) {
	if kind == domain.ItemFlight {
		return tx.st.SelectedFlightID, tx.st.PendingFlightBooking
	}
	return tx.st.SelectedHotelID, tx.st.PendingHotelBooking
}

// SelectionOutcome describes what ApplySelection did.
type SelectionOutcome string

const (
	SelectionPending   SelectionOutcome = "pending"
	SelectionConfirmed SelectionOutcome = "confirmed"
	SelectionIgnored   SelectionOutcome = "ignored"
)

// ApplySelection applies a user selection. Selecting a new item marks it
// pending; selecting the pending item again, or a book action, confirms it.
func (tx *Tx) ApplySelection(sel domain.Selection) SelectionOutcome {
	var selected, pending *string
	switch sel.Kind {
	case domain.ItemFlight:
		selected, pending = &tx.st.SelectedFlightID, &tx.st.PendingFlightBooking
	case domain.ItemHotel:
		selected, pending = &tx.st.SelectedHotelID, &tx.st.PendingHotelBooking
	default:
		return SelectionIgnored
	}

	switch sel.Action {
	case domain.ActionSelect:
		if sel.Identifier == "" {
			return SelectionIgnored
		}
		if *pending != "" && domain.MatchesID(sel.Identifier, *pending) {
			*selected = *pending
			*pending = ""
			return SelectionConfirmed
		}
		*selected = sel.Identifier
		*pending = sel.Identifier
		return SelectionPending
	case domain.ActionBook:
		if *pending == "" {
			return SelectionIgnored
		}
		*selected = *pending
		*pending = ""
		return SelectionConfirmed
	default:
		return SelectionIgnored
	}
}

// ConfirmBooking records a completed booking. It clears the matching
// pending booking, keeps the selection, and stores the reference.
func (tx *Tx) ConfirmBooking(req domain.BookingRequest) (domain.Booking, error) {
	if req.FlightID == "" && req.HotelID == "" {
		return domain.Booking{}, ErrNothingToBook
	}
	b := domain.Booking{
		Reference: NewBookingReference(),
		SessionID: tx.st.ID,
		Kind:      req.Kind(),
		ItemID:    req.ItemID(),
		Passenger: req.Passenger,
		Seat:      req.Seat,
		CreatedAt: time.Now(),
	}

	switch b.Kind {
	case domain.ItemFlight:
		if i := slices.IndexFunc(tx.st.FlightResults, func(f domain.FlightResult) bool { return f.ID == b.ItemID }); i >= 0 {
			f := tx.st.FlightResults[i]
			b.Flight = &f
		}
		tx.st.SelectedFlightID = b.ItemID
		if tx.st.PendingFlightBooking != "" && domain.MatchesID(b.ItemID, tx.st.PendingFlightBooking) {
			tx.st.PendingFlightBooking = ""
		}
	case domain.ItemHotel:
		if i := slices.IndexFunc(tx.st.HotelResults, func(h domain.HotelResult) bool { return h.ID == b.ItemID }); i >= 0 {
			h := tx.st.HotelResults[i]
			b.Hotel = &h
		}
		tx.st.SelectedHotelID = b.ItemID
		if tx.st.PendingHotelBooking != "" && domain.MatchesID(b.ItemID, tx.st.PendingHotelBooking) {
			tx.st.PendingHotelBooking = ""
		}
	}

	tx.st.ConfirmedBooking = b.Reference
	tx.bookings = append(tx.bookings, b)
	return b, nil
}

// Publish queues an event for the session, attributed to the updating run
// if there is one.
func (tx *Tx) Publish(kind domain.EventKind, data any) {
	tx.PublishFor(tx.runID, kind, data)
}

// PublishFor queues an event attributed to an explicit run.
func (tx *Tx) PublishFor(runID string, kind domain.EventKind, data any) {
	tx.events = append(tx.events, domain.Event{
		Kind:      kind,
		SessionID: tx.st.ID,
		RunID:     runID,
		Data:      data,
	})
}

// NewBookingReference returns a reference of the form TRV followed by
// eight upper-case hex digits.
func NewBookingReference() string {
	id := uuid.New()
	return "TRV" + strings.ToUpper(hex.EncodeToString(id[:4]))
}
