// Package eventstest provides an in-memory event publisher for tests that
// need to observe what a session emitted.
package eventstest

import (
	"sync"
	"time"

	"github.com/soyeahso/wayfarer/internal/domain"
)

// Recorder is an events.Publisher that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	seq    map[string]uint64
	events []domain.Event
	notify chan struct{}
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{seq: make(map[string]uint64), notify: make(chan struct{})}
}

// Publish stamps ev with the session's next sequence number and records it.
func (r *Recorder) Publish(ev domain.Event) domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq[ev.SessionID]++
	ev.Seq = r.seq[ev.SessionID]
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	r.events = append(r.events, ev)
	close(r.notify)
	r.notify = make(chan struct{})
	return ev
}

// Events returns a copy of the events recorded for a session.
func (r *Recorder) Events(sessionID string) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, ev := range r.events {
		if ev.SessionID == sessionID {
			out = append(out, ev)
		}
	}
	return out
}

// WaitFor blocks until an event matching match has been recorded for the
// session, or the timeout elapses. It reports whether one was seen.
func (r *Recorder) WaitFor(sessionID string, timeout time.Duration, match func(domain.Event) bool) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		r.mu.Lock()
		for _, ev := range r.events {
			if ev.SessionID == sessionID && match(ev) {
				r.mu.Unlock()
				return true
			}
		}
		wake := r.notify
		r.mu.Unlock()

		select {
		case <-wake:
		case <-deadline.C:
			return false
		}
	}
}

// IsStatus matches status events carrying status s.
func IsStatus(s domain.RunStatus) func(domain.Event) bool {
	return func(ev domain.Event) bool {
		got, ok := ev.StatusOf()
		return ok && got == s
	}
}

// IsRunStatus matches status events carrying s for one run.
func IsRunStatus(runID string, s domain.RunStatus) func(domain.Event) bool {
	return func(ev domain.Event) bool {
		got, ok := ev.StatusOf()
		return ok && got == s && ev.RunID == runID
	}
}
