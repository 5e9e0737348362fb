// Package events fans session events out to whatever transports are
// listening. Events for one session are stamped with a gapless sequence
// number and delivered in that order; nothing is kept for late subscribers.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/logging"
)

// Publisher accepts events for delivery and returns them stamped with
// their sequence number and time.
type Publisher interface {
	Publish(ev domain.Event) domain.Event
}

// DefaultBuffer is the per-subscriber queue length used when none is given.
const DefaultBuffer = 64

// Hub is the in-process Publisher. A session only holds a topic while it
// has subscribers; otherwise just its sequence number is kept.
type Hub struct {
	mu     sync.Mutex
	topics map[string]*topic
	idle   map[string]uint64 // last seq of sessions without a topic
	buffer int
	log    *logging.Logger
}

type topic struct {
	id   string
	mu   sync.Mutex
	seq  uint64
	subs map[string]*Subscription
	gone bool // pruned from the hub; callers must fetch a fresh topic
}

// NewHub creates a hub whose subscribers queue up to buffer events.
func NewHub(buffer int, log *logging.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		topics: make(map[string]*topic),
		idle:   make(map[string]uint64),
		buffer: buffer,
		log:    log.Sub("events"),
	}
}

// lock returns the session's topic, locked.
func (h *Hub) lock(sessionID string) *topic {
	for {
		h.mu.Lock()
		t, ok := h.topics[sessionID]
		if !ok {
			t = &topic{id: sessionID, seq: h.idle[sessionID], subs: make(map[string]*Subscription)}
			delete(h.idle, sessionID)
			h.topics[sessionID] = t
		}
		h.mu.Unlock()

		t.mu.Lock()
		if !t.gone {
			return t
		}
		t.mu.Unlock()
	}
}

// prune drops t from the hub if nobody is listening, keeping its sequence.
func (h *Hub) prune(t *topic) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gone || len(t.subs) > 0 {
		return
	}
	t.gone = true
	delete(h.topics, t.id)
	h.idle[t.id] = t.seq
}

// Publish stamps ev and hands it to every current subscriber of its
// session. It never blocks: a subscriber whose queue is full is dropped
// and must resubscribe and refetch session state.
func (h *Hub) Publish(ev domain.Event) domain.Event {
	t := h.lock(ev.SessionID)
	ev = h.deliver(t, ev)
	empty := len(t.subs) == 0
	t.mu.Unlock()
	if empty {
		h.prune(t)
	}
	return ev
}

func (h *Hub) deliver(t *topic, ev domain.Event) domain.Event {
	t.seq++
	ev.Seq = t.seq
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	for id, sub := range t.subs {
		select {
		case sub.ch <- ev:
		default:
			delete(t.subs, id)
			sub.closeLocked()
			h.log.Warn().
				Str("sessionId", ev.SessionID).
				Str("subscriber", id).
				Uint64("seq", ev.Seq).
				Msg("subscriber too slow, dropped")
		}
	}
	return ev
}

// Subscribe attaches a listener to a session's stream. Only events
// published after this call are delivered.
func (h *Hub) Subscribe(sessionID string) *Subscription {
	t := h.lock(sessionID)
	sub := &Subscription{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		ch:        make(chan domain.Event, h.buffer),
		hub:       h,
		topic:     t,
	}
	t.subs[sub.ID] = sub
	t.mu.Unlock()
	h.log.Debug().Str("sessionId", sessionID).Str("subscriber", sub.ID).Msg("subscribed")
	return sub
}

// Subscribers returns how many listeners a session has.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	t, ok := h.topics[sessionID]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// LastSeq returns the sequence number of the session's latest event.
func (h *Hub) LastSeq(sessionID string) uint64 {
	h.mu.Lock()
	t, ok := h.topics[sessionID]
	seq := h.idle[sessionID]
	h.mu.Unlock()
	if !ok {
		return seq
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}

// Subscription is one listener's view of a session stream.
type Subscription struct {
	ID        string
	SessionID string

	ch     chan domain.Event
	hub    *Hub
	topic  *topic
	closed bool
}

// Events yields the session's events in order. The channel is closed when
// the subscription ends, either by Close or by being dropped for lagging.
func (s *Subscription) Events() <-chan domain.Event { return s.ch }

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.topic.mu.Lock()
	delete(s.topic.subs, s.ID)
	s.closeLocked()
	s.topic.mu.Unlock()
	s.hub.prune(s.topic)
}

func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
