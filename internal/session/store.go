// Package session holds per-session conversation state. Every mutation
// runs inside the session's critical section; writes made on behalf of a
// run are rejected once that run no longer owns the session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/events"
	"github.com/soyeahso/wayfarer/internal/logging"
)

var (
	// ErrStaleRun is returned when a run writes to a session it no longer owns.
	ErrStaleRun = errors.New("run no longer owns session")
	// ErrNotFound is returned for sessions that have never been seen.
	ErrNotFound = errors.New("session not found")
)

// Journal persists the durable parts of a session. Failures are logged and
// never roll back in-memory state.
type Journal interface {
	Restore(ctx context.Context, sessionID string) (Restored, bool, error)
	AppendTurns(ctx context.Context, sessionID string, turns []domain.Turn) error
	SavePreferences(ctx context.Context, sessionID string, prefs domain.Preferences) error
	SaveBooking(ctx context.Context, b domain.Booking) error
}

// Restored is what a Journal hands back for a previously seen session.
type Restored struct {
	CreatedAt   time.Time
	History     []domain.Turn
	Preferences domain.Preferences
}

type entry struct {
	mu sync.Mutex
	st domain.SessionState
}

// Store is the process-wide session table.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
	pub      events.Publisher
	journal  Journal
	log      *logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithJournal enables write-through persistence.
func WithJournal(j Journal) Option {
	return func(s *Store) { s.journal = j }
}

// NewStore creates an empty store publishing through pub.
func NewStore(pub events.Publisher, log *logging.Logger, opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*entry),
		pub:      pub,
		log:      log.Sub("session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) entry(ctx context.Context, id string, create bool) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.sessions[id]; ok {
		return e, nil
	}
	if !create {
		return nil, ErrNotFound
	}

	now := time.Now()
	e := &entry{st: domain.SessionState{ID: id, CreatedAt: now, UpdatedAt: now}}
	if s.journal != nil {
		restored, ok, err := s.journal.Restore(ctx, id)
		switch {
		case err != nil:
			s.log.Warn().Err(err).Str("sessionId", id).Msg("restoring session failed, starting fresh")
		case ok:
			e.st.CreatedAt = restored.CreatedAt
			e.st.History = restored.History
			e.st.Preferences = restored.Preferences
		}
	}
	s.sessions[id] = e
	s.log.Debug().Str("sessionId", id).Msg("session created")
	return e, nil
}

// Ensure creates the session if it doesn't exist yet.
func (s *Store) Ensure(ctx context.Context, id string) error {
	_, err := s.entry(ctx, id, true)
	return err
}

// Exists reports whether the session is known.
func (s *Store) Exists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	return ok
}

// Count returns the number of known sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Update runs fn inside the session's critical section, creating the
// session if needed. Events queued on the Tx are published before the
// section ends, and only if fn succeeds.
func (s *Store) Update(ctx context.Context, id string, fn func(tx *Tx) error) error {
	e, err := s.entry(ctx, id, true)
	if err != nil {
		return err
	}
	return s.run(ctx, e, "", fn)
}

// UpdateForRun is Update for writes made by a run. It fails with
// ErrStaleRun, without calling fn, unless runID currently owns the session.
func (s *Store) UpdateForRun(ctx context.Context, id, runID string, fn func(tx *Tx) error) error {
	if runID == "" {
		return fmt.Errorf("%w: empty run id", ErrStaleRun)
	}
	e, err := s.entry(ctx, id, false)
	if err != nil {
		return err
	}
	return s.run(ctx, e, runID, fn)
}

func (s *Store) run(ctx context.Context, e *entry, runID string, fn func(tx *Tx) error) error {
	e.mu.Lock()
	if runID != "" && e.st.CurrentRunID != runID {
		current := e.st.CurrentRunID
		e.mu.Unlock()
		s.log.Debug().
			Str("sessionId", e.st.ID).
			Str("runId", runID).
			Str("currentRunId", current).
			Msg("stale run write dropped")
		return fmt.Errorf("%w: %s", ErrStaleRun, runID)
	}

	tx := &Tx{st: &e.st, runID: runID}
	if err := fn(tx); err != nil {
		e.mu.Unlock()
		return err
	}
	e.st.UpdatedAt = time.Now()
	for _, ev := range tx.events {
		s.pub.Publish(ev)
	}
	var prefs *domain.Preferences
	if tx.prefsChanged {
		p := e.st.Preferences.Clone()
		prefs = &p
	}
	sessionID := e.st.ID
	e.mu.Unlock()

	s.persist(ctx, sessionID, tx.newTurns, prefs, tx.bookings)
	return nil
}

func (s *Store) persist(ctx context.Context, id string, turns []domain.Turn, prefs *domain.Preferences, bookings []domain.Booking) {
	if s.journal == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if len(turns) > 0 {
		if err := s.journal.AppendTurns(ctx, id, turns); err != nil {
			s.log.Warn().Err(err).Str("sessionId", id).Msg("journal turns failed")
		}
	}
	if prefs != nil {
		if err := s.journal.SavePreferences(ctx, id, *prefs); err != nil {
			s.log.Warn().Err(err).Str("sessionId", id).Msg("journal preferences failed")
		}
	}
	for _, b := range bookings {
		if err := s.journal.SaveBooking(ctx, b); err != nil {
			s.log.Warn().Err(err).Str("sessionId", id).Str("reference", b.Reference).Msg("journal booking failed")
		}
	}
}

// Snapshot returns a copy of the session's state.
func (s *Store) Snapshot(id string) (domain.SessionState, error) {
	e, err := s.entry(context.Background(), id, false)
	if err != nil {
		return domain.SessionState{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return clone(e.st), nil
}

// GetPreferences returns the session's learned preferences.
func (s *Store) GetPreferences(id string) (domain.Preferences, error) {
	st, err := s.Snapshot(id)
	if err != nil {
		return domain.Preferences{}, err
	}
	return st.Preferences, nil
}

// UpdatePreference records a preference set explicitly by the user.
func (s *Store) UpdatePreference(ctx context.Context, id, category, value string) (domain.PreferenceItem, error) {
	item := domain.PreferenceItem{
		Category:   category,
		Value:      value,
		Confidence: 1.0,
		Source:     "Manual update",
		LearnedAt:  time.Now(),
	}
	err := s.Update(ctx, id, func(tx *Tx) error {
		if len(tx.MergePreferences([]domain.PreferenceItem{item})) == 0 {
			return nil
		}
		tx.Publish(domain.EventPreferenceUpdate, domain.PreferenceData{Category: category, Value: value})
		return nil
	})
	return item, err
}

// ClearPreferences forgets every learned preference. Clearing an already
// empty set is not an error.
func (s *Store) ClearPreferences(ctx context.Context, id string) error {
	return s.Update(ctx, id, func(tx *Tx) error {
		tx.ClearPreferences()
		tx.Publish(domain.EventPreferencesCleared, nil)
		return nil
	})
}

// Select applies a user selection made outside of a chat message.
func (s *Store) Select(ctx context.Context, id string, sel domain.Selection) (SelectionOutcome, error) {
	var out SelectionOutcome
	err := s.Update(ctx, id, func(tx *Tx) error {
		out = tx.ApplySelection(sel)
		return nil
	})
	return out, err
}

// RecordBooking completes a booking for a session.
func (s *Store) RecordBooking(ctx context.Context, id string, req domain.BookingRequest) (domain.Booking, error) {
	var b domain.Booking
	err := s.Update(ctx, id, func(tx *Tx) error {
		var err error
		b, err = tx.ConfirmBooking(req)
		if err != nil {
			return err
		}
		tx.Publish(domain.EventBookingConfirmed, domain.BookingData{Reference: b.Reference, Kind: b.Kind, ItemID: b.ItemID})
		return nil
	})
	return b, err
}

func clone(st domain.SessionState) domain.SessionState {
	out := st
	out.History = append([]domain.Turn(nil), st.History...)
	out.Summaries = append([]domain.Summary(nil), st.Summaries...)
	out.Preferences = st.Preferences.Clone()
	out.FlightResults = append([]domain.FlightResult{}, st.FlightResults...)
	out.HotelResults = append([]domain.HotelResult{}, st.HotelResults...)
	if st.FlightParams != nil {
		fp := *st.FlightParams
		out.FlightParams = &fp
	}
	if st.HotelParams != nil {
		hp := *st.HotelParams
		out.HotelParams = &hp
	}
	return out
}
