// Package runs tracks the single active agent run per session and
// implements the cooperative cancellation handshake.
package runs

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/wayfarer/internal/logging"
)

// ConflictError is returned by Register when the session already has an
// active run. It signals a coordination bug, never a user condition.
type ConflictError struct {
	SessionID string
	ActiveID  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("session %s already has active run %s", e.SessionID, e.ActiveID)
}

// CancelOutcome is the result of RequestCancel.
type CancelOutcome int

const (
	NoActiveRun CancelOutcome = iota
	CancelledCleanly
	TimedOut
)

func (o CancelOutcome) String() string {
	switch o {
	case NoActiveRun:
		return "no_active_run"
	case CancelledCleanly:
		return "cancelled_cleanly"
	case TimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("CancelOutcome(%d)", int(o))
	}
}

// MarshalText renders the outcome by name.
func (o CancelOutcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText parses an outcome name written by MarshalText.
func (o *CancelOutcome) UnmarshalText(b []byte) error {
	for _, c := range []CancelOutcome{NoActiveRun, CancelledCleanly, TimedOut} {
		if c.String() == string(b) {
			*o = c
			return nil
		}
	}
	return fmt.Errorf("unknown cancel outcome %q", b)
}

// Registry maps session ids to their active run. A session has an entry
// only while a run is registered for it.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*Run
	log  *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		runs: make(map[string]*Run),
		log:  log.Sub("registry"),
	}
}

// Register makes run the active run for its session.
func (r *Registry) Register(run *Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if active, ok := r.runs[run.SessionID]; ok {
		return &ConflictError{SessionID: run.SessionID, ActiveID: active.ID}
	}
	r.runs[run.SessionID] = run
	r.log.Debug().Str("sessionId", run.SessionID).Str("runId", run.ID).Msg("run registered")
	return nil
}

// Lookup returns the active run for a session, or nil.
func (r *Registry) Lookup(sessionID string) *Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[sessionID]
}

// IsActive reports whether runID is the session's registered run.
func (r *Registry) IsActive(sessionID, runID string) bool {
	run := r.Lookup(sessionID)
	return run != nil && run.ID == runID
}

// RequestCancel signals the session's active run to stop and waits up to
// grace for it to deregister. When the wait expires the entry is removed
// anyway; the run keeps executing but no longer owns the session.
func (r *Registry) RequestCancel(sessionID string, grace time.Duration) CancelOutcome {
	run := r.Lookup(sessionID)
	if run == nil {
		return NoActiveRun
	}

	log := r.log.With("sessionId", sessionID).With("runId", run.ID)
	run.requestCancel()
	log.Debug().Dur("grace", grace).Msg("cancellation requested")

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-run.Released():
		log.Debug().Dur("elapsed", time.Since(run.StartedAt)).Msg("run stopped cleanly")
		return CancelledCleanly
	case <-timer.C:
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.runs[sessionID] != run {
		// Released between the timer firing and taking the lock.
		return CancelledCleanly
	}
	delete(r.runs, sessionID)
	run.disowned.Store(true)
	log.Warn().Dur("grace", grace).Msg("run did not stop within grace period, disowned")
	return TimedOut
}

// Deregister removes the session's entry if it still belongs to runID.
// It reports false when the run was already superseded or disowned.
func (r *Registry) Deregister(sessionID, runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[sessionID]
	if !ok || run.ID != runID {
		r.log.Debug().Str("sessionId", sessionID).Str("runId", runID).Msg("stale deregister ignored")
		return false
	}
	delete(r.runs, sessionID)
	run.release()
	return true
}

// Active lists the currently registered runs, oldest first.
func (r *Registry) Active() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run.Info())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Count returns the number of active runs.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}
