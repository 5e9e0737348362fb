package runs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/wayfarer/internal/domain"
)

// ErrCancelRequested is the cause attached to a run's context when the
// coordinator asks it to stop.
var ErrCancelRequested = errors.New("run cancellation requested")

// Run is the handle for one pass of the agent pipeline. The registry owns
// the slot a run occupies; the run owns its own execution.
type Run struct {
	ID        string
	SessionID string
	StartedAt time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc

	kind            atomic.Value // domain.Intent
	cancelRequested atomic.Bool
	disowned        atomic.Bool
	finished        atomic.Bool

	released    chan struct{}
	releaseOnce sync.Once
}

// New creates a run for a session with a fresh id. The run's context is
// derived from parent and is cancelled when cancellation is requested.
func New(parent context.Context, sessionID string) *Run {
	ctx, cancel := context.WithCancelCause(parent)
	return &Run{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		released:  make(chan struct{}),
	}
}

// Context is the run's execution context.
func (r *Run) Context() context.Context { return r.ctx }

// Kind returns the classified intent, or "" before classification.
func (r *Run) Kind() domain.Intent {
	if v, ok := r.kind.Load().(domain.Intent); ok {
		return v
	}
	return ""
}

// SetKind records the classification outcome.
func (r *Run) SetKind(k domain.Intent) { r.kind.Store(k) }

// CancelRequested reports whether the run has been asked to stop.
func (r *Run) CancelRequested() bool { return r.cancelRequested.Load() }

// MarkFinished records that the run published its terminal status. It is
// called inside the session critical section that publishes it.
func (r *Run) MarkFinished() { r.finished.Store(true) }

// Finished reports whether the run published its terminal status.
func (r *Run) Finished() bool { return r.finished.Load() }

// Disowned reports whether the registry gave up waiting and dropped the run.
func (r *Run) Disowned() bool { return r.disowned.Load() }

// Released is closed once the run has deregistered itself.
func (r *Run) Released() <-chan struct{} { return r.released }

// Stop releases the run's context resources. Safe to call more than once.
func (r *Run) Stop() { r.cancel(context.Canceled) }

// Info is a read-only view of a run for status reporting.
type Info struct {
	ID              string        `json:"id"`
	SessionID       string        `json:"sessionId"`
	Kind            domain.Intent `json:"kind,omitempty"`
	StartedAt       time.Time     `json:"startedAt"`
	CancelRequested bool          `json:"cancelRequested"`
}

// Info snapshots the run.
func (r *Run) Info() Info {
	return Info{
		ID:              r.ID,
		SessionID:       r.SessionID,
		Kind:            r.Kind(),
		StartedAt:       r.StartedAt,
		CancelRequested: r.CancelRequested(),
	}
}

func (r *Run) requestCancel() {
	r.cancelRequested.Store(true)
	r.cancel(ErrCancelRequested)
}

func (r *Run) release() {
	r.releaseOnce.Do(func() { close(r.released) })
}
