// Package interrupt accepts user messages for a session, stopping whatever
// run is still working on the previous message before starting a new one.
package interrupt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/wayfarer/internal/agent"
	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/hooks"
	"github.com/soyeahso/wayfarer/internal/logging"
	"github.com/soyeahso/wayfarer/internal/runs"
	"github.com/soyeahso/wayfarer/internal/session"
)

// DefaultGracePeriod is how long a previous run gets to stop on its own.
const DefaultGracePeriod = 2 * time.Second

var (
	// ErrEmptyMessage is returned for a blank message.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNoSession is returned when no session id is given.
	ErrNoSession = errors.New("session id is required")
	// ErrClosed is returned once the coordinator is shutting down.
	ErrClosed = errors.New("coordinator is shut down")
	// ErrUnavailable hides internal failures from callers.
	ErrUnavailable = errors.New("message could not be accepted, please retry")
)

// Executor runs a registered run to completion. It must deregister the run
// before returning.
type Executor interface {
	Execute(run *runs.Run, message string) agent.Outcome
}

// Emitter receives lifecycle hook events. *hooks.Manager satisfies it.
type Emitter interface {
	EmitAsync(ctx context.Context, event string, data map[string]any)
}

// Config configures the coordinator.
type Config struct {
	GracePeriod time.Duration
}

// Receipt acknowledges an accepted message.
type Receipt struct {
	SessionID     string             `json:"sessionId"`
	RunID         string             `json:"runId"`
	Interrupted   bool               `json:"interrupted"`
	CancelOutcome runs.CancelOutcome `json:"cancelOutcome"`
}

// Coordinator is the entry point for inbound user messages.
type Coordinator struct {
	cfg      Config
	store    *session.Store
	registry *runs.Registry
	exec     Executor
	hooks    Emitter

	gatesMu sync.Mutex
	gates   map[string]*gate

	base   context.Context
	cancel context.CancelCauseFunc

	// mu orders wg.Add against Shutdown so no run starts once closed is set.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	now func() time.Time
	log *logging.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithHooks sets the hook emitter notified about runs.
func WithHooks(e Emitter) Option {
	return func(c *Coordinator) { c.hooks = e }
}

// New creates a coordinator.
func New(cfg Config, store *session.Store, registry *runs.Registry, exec Executor, log *logging.Logger, opts ...Option) *Coordinator {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	base, cancel := context.WithCancelCause(context.Background())
	c := &Coordinator{
		cfg:      cfg,
		store:    store,
		registry: registry,
		exec:     exec,
		gates:    make(map[string]*gate),
		base:     base,
		cancel:   cancel,
		now:      time.Now,
		log:      log.Sub("interrupt"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitMessage accepts a user message for a session. Any run still
// working on the session is cancelled first; the new run starts in the
// background and SubmitMessage returns once it is registered.
//
// Submissions for one session are handled one at a time in arrival order.
// ctx only bounds the wait for an earlier submission of the same session.
func (c *Coordinator) SubmitMessage(ctx context.Context, sessionID, text string) (Receipt, error) {
	text = strings.TrimSpace(text)
	switch {
	case sessionID == "":
		return Receipt{}, ErrNoSession
	case text == "":
		return Receipt{}, ErrEmptyMessage
	case c.isClosed():
		return Receipt{}, ErrClosed
	}

	release, err := c.acquire(ctx, sessionID)
	if err != nil {
		return Receipt{}, err
	}
	defer release()
	// Shutdown may have happened while this submission was queued.
	if c.isClosed() {
		return Receipt{}, ErrClosed
	}

	sctx := context.WithoutCancel(ctx)
	log := c.log.With("sessionId", sessionID)
	rc := Receipt{SessionID: sessionID}

	// Always re-read the registry: the run to stop is whatever is
	// registered now, not what an earlier submission saw.
	if prev := c.registry.Lookup(sessionID); prev != nil {
		rc.Interrupted, rc.CancelOutcome, err = c.interrupt(sctx, log, prev)
		if err != nil {
			return Receipt{}, err
		}
	}

	run, err := c.start(sctx, log, sessionID, text)
	if err != nil {
		return Receipt{}, err
	}
	rc.RunID = run.ID

	c.emit(hooks.EventMessageReceived, map[string]any{
		"sessionId":   sessionID,
		"runId":       run.ID,
		"interrupted": rc.Interrupted,
	})
	return rc, nil
}

// interrupt stops prev. The session stops accepting prev's writes before
// cancellation is requested, so nothing prev produces afterwards lands.
func (c *Coordinator) interrupt(ctx context.Context, log *logging.Logger, prev *runs.Run) (bool, runs.CancelOutcome, error) {
	log = log.With("previousRunId", prev.ID)

	announced := false
	err := c.store.Update(ctx, prev.SessionID, func(tx *session.Tx) error {
		tx.SetCurrentRun("")
		tx.ClearSearch()
		if prev.Finished() {
			// Already published its terminal status; nothing to interrupt.
			return nil
		}
		announced = true
		tx.SetInterrupted(true)
		tx.PublishFor(prev.ID, domain.EventStatus, domain.StatusData{Status: domain.StatusCancellingPrevious})
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("marking session interrupted failed")
		return false, runs.NoActiveRun, ErrUnavailable
	}

	start := time.Now()
	outcome := c.registry.RequestCancel(prev.SessionID, c.cfg.GracePeriod)
	switch outcome {
	case runs.TimedOut:
		log.Warn().Dur("grace", c.cfg.GracePeriod).Msg("previous run did not stop in time, continuing without it")
	default:
		log.Debug().Str("outcome", outcome.String()).Dur("waited", time.Since(start)).Msg("previous run stopped")
	}

	if !announced {
		return false, outcome, nil
	}
	err = c.store.Update(ctx, prev.SessionID, func(tx *session.Tx) error {
		tx.PublishFor(prev.ID, domain.EventStatus, domain.StatusData{Status: domain.StatusCancelled})
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("publishing cancellation failed")
	}
	return true, outcome, nil
}

// start registers a run for text, makes it the session's owner and
// launches it.
func (c *Coordinator) start(ctx context.Context, log *logging.Logger, sessionID, text string) (_ *runs.Run, err error) {
	if !c.track() {
		return nil, ErrClosed
	}
	defer func() {
		if err != nil {
			c.wg.Done()
		}
	}()

	var run *runs.Run
	for attempt := 0; ; attempt++ {
		run = runs.New(c.base, sessionID)
		err := c.store.Update(ctx, sessionID, func(tx *session.Tx) error {
			tx.ClearSearch()
			if err := c.registry.Register(run); err != nil {
				return err
			}
			tx.AppendTurn(domain.Turn{Sender: domain.SenderUser, Text: text, RunID: run.ID, Timestamp: c.now()})
			tx.SetCurrentRun(run.ID)
			tx.SetInterrupted(false)
			tx.PublishFor(run.ID, domain.EventMessage, domain.MessageData{Sender: domain.SenderUser, Text: text})
			tx.PublishFor(run.ID, domain.EventStatus, domain.StatusData{Status: domain.StatusProcessing})
			return nil
		})
		if err == nil {
			break
		}

		var conflict *runs.ConflictError
		if !errors.As(err, &conflict) {
			run.Stop()
			log.Error().Err(err).Msg("starting run failed")
			return nil, ErrUnavailable
		}
		// Submissions are serialized per session, so a registered run here
		// is a bug. Clear it once before giving up.
		log.Error().Err(err).Int("attempt", attempt).Msg("run registry conflict")
		run.Stop()
		if attempt > 0 {
			return nil, ErrUnavailable
		}
		if prev := c.registry.Lookup(sessionID); prev != nil {
			if _, _, err := c.interrupt(ctx, log, prev); err != nil {
				return nil, err
			}
		}
	}

	log.Debug().Str("runId", run.ID).Msg("run started")
	go c.execute(run, text)
	return run, nil
}

func (c *Coordinator) execute(run *runs.Run, text string) {
	defer c.wg.Done()

	c.emit(hooks.EventRunStarted, map[string]any{
		"sessionId": run.SessionID,
		"runId":     run.ID,
	})

	out := c.exec.Execute(run, text)

	event := hooks.EventRunCompleted
	if out.Status != domain.StatusCompleted {
		event = hooks.EventRunCancelled
	}
	data := map[string]any{
		"sessionId":  run.SessionID,
		"runId":      run.ID,
		"status":     string(out.Status),
		"intent":     string(out.Intent),
		"stage":      out.Stage,
		"stale":      out.Stale,
		"durationMs": out.Duration.Milliseconds(),
	}
	if out.Err != nil {
		data["error"] = out.Err.Error()
	}
	c.emit(event, data)
}

// gate serializes submissions for one session. refs counts the holder and
// waiters; the gate is dropped from the table when it reaches zero.
type gate struct {
	ch   chan struct{}
	refs int
}

// acquire takes the session's submission gate.
func (c *Coordinator) acquire(ctx context.Context, sessionID string) (func(), error) {
	c.gatesMu.Lock()
	g := c.gates[sessionID]
	if g == nil {
		g = &gate{ch: make(chan struct{}, 1)}
		c.gates[sessionID] = g
	}
	g.refs++
	c.gatesMu.Unlock()

	leave := func() {
		c.gatesMu.Lock()
		g.refs--
		if g.refs == 0 {
			delete(c.gates, sessionID)
		}
		c.gatesMu.Unlock()
	}

	select {
	case g.ch <- struct{}{}:
		return func() {
			<-g.ch
			leave()
		}, nil
	case <-ctx.Done():
		leave()
		return nil, ctx.Err()
	}
}

// track counts a run about to start, unless the coordinator is shut down.
func (c *Coordinator) track() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	return true
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Coordinator) emit(event string, data map[string]any) {
	if c.hooks != nil {
		c.hooks.EmitAsync(c.base, event, data)
	}
}

// Active lists the runs currently executing.
func (c *Coordinator) Active() []runs.Info {
	return c.registry.Active()
}

// Wait blocks until every started run has returned.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Shutdown stops accepting messages, cancels running runs and waits for
// them until ctx expires.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.cancel(ErrClosed)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.log.Info().Msg("all runs stopped")
		return nil
	case <-ctx.Done():
		c.log.Warn().Int("active", c.registry.Count()).Msg("shutdown deadline reached with runs still active")
		return ctx.Err()
	}
}
