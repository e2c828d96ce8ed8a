// Package dispatch runs reasoning sessions as cancellable, event-streaming
// tasks.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/zen-systems/thinkgate/pkg/budget"
	"github.com/zen-systems/thinkgate/pkg/config"
	"github.com/zen-systems/thinkgate/pkg/metrics"
	"github.com/zen-systems/thinkgate/pkg/mode"
	"github.com/zen-systems/thinkgate/pkg/reasoning"
	"github.com/zen-systems/thinkgate/pkg/record"
	"github.com/zen-systems/thinkgate/pkg/search"
	"github.com/zen-systems/thinkgate/pkg/signal"
)

var (
	// ErrAtCapacity is returned by Begin when max_concurrent_sessions are running.
	ErrAtCapacity = errors.New("dispatcher at capacity")
	// ErrShuttingDown is returned by Begin after Shutdown.
	ErrShuttingDown = errors.New("dispatcher is shutting down")
	// ErrEmptyQuery is returned by Begin for a blank query.
	ErrEmptyQuery = errors.New("query is required")
)

// Cancellation causes.
var (
	errCancelled    = errors.New("session cancelled")
	errDeadline     = errors.New("session deadline exceeded")
	errBackpressure = errors.New("event consumer fell behind")
	errShutdown     = errors.New("dispatcher shut down")
)

// Dispatcher owns the live session registry. Selection and allocation run
// inline in Begin; the search runs on one goroutine per session.
type Dispatcher struct {
	selector  *mode.Selector
	allocator *budget.Allocator
	engine    *search.Engine
	sink      record.Sink

	buffer    int
	grace     time.Duration
	retention time.Duration
	sem       *semaphore.Weighted
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Handle
	closed   bool
	wg       sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithRetention keeps finished sessions addressable by ID for d, so late
// subscribers can still drain their events.
func WithRetention(r time.Duration) Option {
	return func(d *Dispatcher) {
		d.retention = r
	}
}

// New builds a dispatcher. sink may be nil, in which case sessions are not
// persisted.
func New(selector *mode.Selector, allocator *budget.Allocator, engine *search.Engine, sink record.Sink, cfg config.DispatchConfig, opts ...Option) (*Dispatcher, error) {
	if selector == nil || allocator == nil || engine == nil {
		return nil, errors.New("dispatch: selector, allocator and engine are required")
	}
	if cfg.EventBuffer < 1 {
		return nil, &config.ConfigurationError{Field: "dispatch.event_buffer", Reason: "must be positive"}
	}
	if sink == nil {
		sink = record.Nop{}
	}

	d := &Dispatcher{
		selector:  selector,
		allocator: allocator,
		engine:    engine,
		sink:      sink,
		buffer:    cfg.EventBuffer,
		grace:     cfg.Grace(),
		retention: time.Minute,
		logger:    slog.Default(),
		sessions:  make(map[string]*Handle),
	}
	if cfg.MaxConcurrentSessions > 0 {
		d.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentSessions))
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Plan runs mode selection and budget allocation without starting a session.
func (d *Dispatcher) Plan(sig signal.Vector) (mode.Decision, budget.Budget, error) {
	decision := d.selector.Select(sig)
	b, err := d.allocator.Allocate(decision, sig, d.allocator.Ceiling())
	if err != nil {
		return mode.Decision{}, budget.Budget{}, err
	}
	return decision, b, nil
}

// BeginOption adjusts a single session.
type BeginOption func(*beginOptions)

type beginOptions struct {
	discardEvents bool
}

// DiscardEvents starts a session whose only observable event is the
// terminal one. Use it for callers that only Wait.
func DiscardEvents() BeginOption {
	return func(o *beginOptions) {
		o.discardEvents = true
	}
}

// Begin selects a mode, allocates a budget and starts the session.
func (d *Dispatcher) Begin(query string, sig signal.Vector, opts ...BeginOption) (*Handle, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	var o beginOptions
	for _, opt := range opts {
		opt(&o)
	}

	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, ErrShuttingDown
	}

	if d.sem != nil && !d.sem.TryAcquire(1) {
		metrics.SessionRejected()
		return nil, ErrAtCapacity
	}

	sig = sig.Clamp()
	decision, b, err := d.Plan(sig)
	if err != nil {
		d.release()
		return nil, err
	}

	h := newHandle(uuid.NewString(), query, decision, b, d.buffer, o.discardEvents)
	h.session = record.NewSession(h.ID, query, sig, decision, b)

	deadline := time.Duration(decision.EstimatedDurationMs)*time.Millisecond + d.grace
	ctx, cancel := context.WithCancelCause(context.Background())
	ctx, stop := context.WithTimeoutCause(ctx, deadline, errDeadline)
	h.cancel = cancel

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		stop()
		cancel(errShutdown)
		d.release()
		return nil, ErrShuttingDown
	}
	d.sessions[h.ID] = h
	d.wg.Add(1)
	d.mu.Unlock()

	metrics.ObserveDecision(string(decision.Mode), string(b.Tier), b.TotalTokens, b.Fallback)
	metrics.SessionStarted()

	d.logger.Info("session started",
		slog.String("session", h.ID),
		slog.String("mode", string(decision.Mode)),
		slog.String("tier", string(b.Tier)),
		slog.Int("reasoning_tokens", b.ReasoningTokens),
		slog.Duration("deadline", deadline))

	go func() {
		defer d.wg.Done()
		defer d.release()
		defer stop()
		defer cancel(nil)
		d.run(ctx, h)
	}()
	return h, nil
}

// Cancel stops a running session. It reports whether a running session was
// signalled; unknown and already-sealed sessions return false.
func (d *Dispatcher) Cancel(id string) bool {
	h, ok := d.Lookup(id)
	if !ok || h.finished() {
		return false
	}
	h.cancel(errCancelled)
	return true
}

// Lookup returns a live or recently finished session.
func (d *Dispatcher) Lookup(id string) (*Handle, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.sessions[id]
	return h, ok
}

// Active returns the number of running sessions.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, h := range d.sessions {
		if !h.finished() {
			n++
		}
	}
	return n
}

// Shutdown refuses new sessions, cancels running ones and waits for them to
// seal or for ctx to expire. Finished sessions are no longer retained.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	handles := make([]*Handle, 0, len(d.sessions))
	for _, h := range d.sessions {
		handles = append(handles, h)
	}
	d.mu.Unlock()

	for _, h := range handles {
		if !h.finished() {
			h.cancel(errShutdown)
		}
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.expire()
		return nil
	case <-ctx.Done():
		d.expire()
		return ctx.Err()
	}
}

// expire stops retention timers and drops every finished handle.
func (d *Dispatcher) expire() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, h := range d.sessions {
		if !h.finished() {
			continue
		}
		if h.retain != nil {
			h.retain.Stop()
		}
		delete(d.sessions, id)
	}
}

func (d *Dispatcher) release() {
	if d.sem != nil {
		d.sem.Release(1)
	}
}

// run drives one session to its terminal event.
func (d *Dispatcher) run(ctx context.Context, h *Handle) {
	logger := d.logger.With(slog.String("session", h.ID))

	var res *search.Result
	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("session panic: %v", r)
			}
		}()

		if !h.emit(Event{Type: EventThinkingStarted, ThinkingStarted: &ThinkingStarted{EstimatedDurationMs: h.Decision.EstimatedDurationMs}}) ||
			!h.emit(Event{Type: EventModeSelected, ModeSelected: &ModeSelected{
				Mode:            h.Decision.Mode,
				Confidence:      h.Decision.Confidence,
				Tier:            h.Budget.Tier,
				Explanation:     h.Decision.Explanation,
				ReasoningTokens: h.Budget.ReasoningTokens,
				AnswerTokens:    h.Budget.AnswerTokens,
			}}) {
			h.cancel(errBackpressure)
		}

		res, runErr = d.engine.Run(ctx, search.Request{
			Query:    h.Query,
			Decision: h.Decision,
			Budget:   h.Budget,
			OnStep: func(step reasoning.Step) {
				if err := h.session.AddStep(step); err != nil {
					logger.Warn("step after seal", slog.Int("index", step.Index))
				}
				ok := h.emit(Event{Type: EventReasoningStep, Step: &StepEvent{
					Index:      step.Index,
					Content:    step.Content,
					Strategy:   step.Strategy,
					Confidence: step.Confidence,
				}})
				if !ok {
					logger.Warn("event consumer fell behind, dropping session", slog.Int("buffer", h.buffer))
					h.cancel(errBackpressure)
				}
			},
		})
	}()

	elapsed := time.Since(h.started)
	outcome, terminal := d.conclude(ctx, h, res, runErr, elapsed)

	var snap reasoning.Snapshot
	if res != nil {
		snap = res.Chain.Snapshot()
	} else {
		snap = reasoning.Snapshot{Query: h.Query, Mode: h.Decision.Mode, Steps: h.session.Clone().Chain.Steps, Sealed: true}
	}
	h.session.Seal(snap, outcome)
	h.finish(terminal)

	metrics.SessionFinished(string(outcome.Status), outcome.ErrorKind, outcome.Degraded, elapsed,
		len(snap.Steps), outcome.TokensUsed, outcome.Failures)

	if err := d.sink.Persist(context.Background(), h.session); err != nil {
		logger.Error("session not persisted", slog.String("error", err.Error()))
	}

	logger.Info("session sealed",
		slog.String("status", string(outcome.Status)),
		slog.String("event", string(terminal.Type)),
		slog.Int("steps", len(snap.Steps)),
		slog.Duration("elapsed", elapsed))

	d.mu.Lock()
	if d.retention > 0 && !d.closed {
		h.retain = time.AfterFunc(d.retention, func() { d.forget(h.ID) })
	} else {
		delete(d.sessions, h.ID)
	}
	d.mu.Unlock()
}

// conclude maps a search result to the session outcome and terminal event.
func (d *Dispatcher) conclude(ctx context.Context, h *Handle, res *search.Result, runErr error, elapsed time.Duration) (record.Outcome, Event) {
	outcome := record.Outcome{ElapsedMs: elapsed.Milliseconds()}
	if res != nil {
		outcome.TokensUsed = res.TokensUsed
		outcome.Failures = res.Failures
		outcome.Degraded = res.Degraded
	}

	if runErr != nil {
		outcome.Status = record.StatusError
		outcome.ErrorKind = KindInternal
		outcome.ErrorMessage = runErr.Error()
		d.logger.Error("session failed", slog.String("session", h.ID), slog.String("error", runErr.Error()))
		return outcome, Event{Type: EventError, Error: &ErrorEvent{Kind: KindInternal, Message: runErr.Error()}}
	}

	cause := context.Cause(ctx)
	if errors.Is(cause, errBackpressure) {
		outcome.Status = record.StatusError
		outcome.ErrorKind = KindBackpressure
		outcome.ErrorMessage = cause.Error()
		return outcome, Event{Type: EventError, Error: &ErrorEvent{Kind: KindBackpressure, Message: cause.Error()}}
	}

	if res.Outcome == search.Cancelled {
		outcome.Status = record.StatusCancelled
		if errors.Is(cause, errDeadline) {
			outcome.ErrorKind = "deadline"
		}
		return outcome, Event{Type: EventCancelled, Cancelled: &Cancelled{AtIndex: res.Chain.Len()}}
	}

	outcome.Status = record.StatusCompleted
	return outcome, Event{Type: EventReasoningComplete, ReasoningComplete: &ReasoningComplete{
		StepCount:  res.Chain.Len(),
		ElapsedMs:  elapsed.Milliseconds(),
		Conclusion: res.Chain.Conclusion(),
		Degraded:   res.Degraded,
	}}
}

func (d *Dispatcher) forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, id)
}
