package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/thinkgate/pkg/budget"
	"github.com/zen-systems/thinkgate/pkg/config"
	"github.com/zen-systems/thinkgate/pkg/mode"
	"github.com/zen-systems/thinkgate/pkg/reasoning"
	"github.com/zen-systems/thinkgate/pkg/record"
	"github.com/zen-systems/thinkgate/pkg/search"
	"github.com/zen-systems/thinkgate/pkg/signal"
)

var (
	confident  = signal.Vector{Complexity: 0.1, Affect: 0.9, Load: 0.9, Readiness: 0.9}
	struggling = signal.Vector{Complexity: 0.2, Affect: 0.2, Load: 0.2, Readiness: 0.3}
)

func newDispatcher(t *testing.T, gen reasoning.Generator, sink record.Sink, tweak func(*config.SchedulerConfig)) *Dispatcher {
	t.Helper()
	cfg := config.DefaultSchedulerConfig()
	if tweak != nil {
		tweak(cfg)
	}
	allocator, err := budget.NewAllocator(cfg)
	require.NoError(t, err)
	engine, err := search.NewEngine(gen, cfg)
	require.NoError(t, err)
	d, err := New(mode.NewSelector(cfg.Mode), allocator, engine, sink, cfg.Dispatch)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})
	return d
}

// finalAfter concludes on the n-th call.
func finalAfter(n int) reasoning.Generator {
	var calls atomic.Int32
	return reasoning.GeneratorFunc(func(ctx context.Context, req reasoning.StepRequest) (*reasoning.Proposal, error) {
		i := int(calls.Add(1))
		p := &reasoning.Proposal{
			Content:    fmt.Sprintf("step %d", i),
			Strategy:   reasoning.Deductive,
			Confidence: 0.6,
			TokensUsed: 10,
		}
		if i >= n {
			p.Content = "The answer is 4."
			p.Confidence = 0.95
			p.IsFinal = true
		}
		return p, nil
	})
}

// blocking waits for cancellation, honouring ctx.
func blocking() reasoning.Generator {
	return reasoning.GeneratorFunc(func(ctx context.Context, req reasoning.StepRequest) (*reasoning.Proposal, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

func drain(t *testing.T, h *Handle) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-h.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("event stream did not close; got %d events", len(out))
		}
	}
}

func types(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func waitFor(t *testing.T, h *Handle, want EventType) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-h.Events():
			require.True(t, ok, "stream closed before %s", want)
			if ev.Type == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestBegin_EventOrderAndPersistence(t *testing.T) {
	store := record.NewMemoryStore()
	d := newDispatcher(t, finalAfter(2), store, nil)

	h, err := d.Begin("What is 2+2?", confident)
	require.NoError(t, err)
	assert.Equal(t, mode.Fast, h.Decision.Mode)
	assert.Equal(t, budget.Minimal, h.Budget.Tier)

	events := drain(t, h)
	assert.Equal(t, []EventType{
		EventThinkingStarted,
		EventModeSelected,
		EventReasoningStep,
		EventReasoningStep,
		EventReasoningComplete,
	}, types(events))

	for i, ev := range events {
		assert.Equal(t, i+1, ev.Seq)
		assert.Equal(t, h.ID, ev.SessionID)
	}
	assert.Equal(t, mode.Fast, events[1].ModeSelected.Mode)
	assert.Equal(t, budget.Minimal, events[1].ModeSelected.Tier)
	assert.Equal(t, 2, events[3].Step.Index)

	done := events[4].ReasoningComplete
	require.NotNil(t, done)
	assert.Equal(t, 2, done.StepCount)
	require.NotNil(t, done.Conclusion)
	assert.Equal(t, "The answer is 4.", *done.Conclusion)
	assert.False(t, done.Degraded)

	sess, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, sess.Sealed())
	assert.Equal(t, record.StatusCompleted, sess.Outcome.Status)
	assert.Equal(t, 2, sess.Outcome.StepCount)
	assert.Equal(t, 20, sess.Outcome.TokensUsed)

	require.Eventually(t, func() bool {
		_, err := store.Get(context.Background(), h.ID)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	term, ok := h.Terminal()
	require.True(t, ok)
	assert.Equal(t, EventReasoningComplete, term.Type)
}

func TestCancel_Idempotent(t *testing.T) {
	d := newDispatcher(t, blocking(), nil, nil)

	h, err := d.Begin("Explain entropy", struggling)
	require.NoError(t, err)
	waitFor(t, h, EventModeSelected)

	assert.True(t, d.Cancel(h.ID))
	d.Cancel(h.ID)

	events := drain(t, h)
	cancelled := 0
	for _, ev := range events {
		if ev.Type.Terminal() {
			assert.Equal(t, EventCancelled, ev.Type)
			cancelled++
		}
	}
	assert.Equal(t, 1, cancelled)

	sess, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, record.StatusCancelled, sess.Outcome.Status)
	assert.Nil(t, sess.Chain.Conclusion)

	assert.False(t, d.Cancel(h.ID))
	assert.False(t, d.Cancel("no-such-session"))
}

func TestCancel_ReportsIndexReached(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	gen := reasoning.GeneratorFunc(func(ctx context.Context, req reasoning.StepRequest) (*reasoning.Proposal, error) {
		if calls.Add(1) > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-release:
			}
		}
		return &reasoning.Proposal{Content: "first thought", Confidence: 0.5, TokensUsed: 5}, nil
	})
	defer close(release)

	d := newDispatcher(t, gen, nil, nil)
	h, err := d.Begin("Explain entropy", struggling)
	require.NoError(t, err)
	waitFor(t, h, EventReasoningStep)

	require.True(t, d.Cancel(h.ID))
	events := drain(t, h)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, EventCancelled, last.Type)
	assert.Equal(t, 1, last.Cancelled.AtIndex)
}

func TestBackpressure(t *testing.T) {
	never := reasoning.GeneratorFunc(func(ctx context.Context, req reasoning.StepRequest) (*reasoning.Proposal, error) {
		return &reasoning.Proposal{Content: "more", Confidence: 0.5, TokensUsed: 1}, nil
	})
	d := newDispatcher(t, never, nil, func(cfg *config.SchedulerConfig) {
		cfg.Dispatch.EventBuffer = 2
	})

	h, err := d.Begin("Explain entropy", struggling)
	require.NoError(t, err)

	sess, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, record.StatusError, sess.Outcome.Status)
	assert.Equal(t, KindBackpressure, sess.Outcome.ErrorKind)

	events := drain(t, h)
	require.Len(t, events, 3)
	last := events[2]
	assert.Equal(t, EventError, last.Type)
	assert.Equal(t, KindBackpressure, last.Error.Kind)
}

func TestDeadlineCancels(t *testing.T) {
	d := newDispatcher(t, blocking(), nil, func(cfg *config.SchedulerConfig) {
		for name := range cfg.Mode.Estimates {
			cfg.Mode.Estimates[name] = config.ModeEstimate{BaseMs: 20}
		}
		grace := 0
		cfg.Dispatch.DeadlineGraceMs = &grace
	})

	h, err := d.Begin("Explain entropy", struggling)
	require.NoError(t, err)

	events := drain(t, h)
	require.NotEmpty(t, events)
	assert.Equal(t, EventCancelled, events[len(events)-1].Type)

	sess, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, record.StatusCancelled, sess.Outcome.Status)
	assert.Equal(t, "deadline", sess.Outcome.ErrorKind)
}

// Scenario D through the dispatcher: the caller sees a degraded completion.
func TestGenerationFailureCompletesDegraded(t *testing.T) {
	failing := reasoning.GeneratorFunc(func(ctx context.Context, req reasoning.StepRequest) (*reasoning.Proposal, error) {
		return nil, errors.New("503 from provider")
	})
	d := newDispatcher(t, failing, nil, nil)

	h, err := d.Begin("Explain entropy", struggling)
	require.NoError(t, err)
	events := drain(t, h)

	last := events[len(events)-1]
	require.Equal(t, EventReasoningComplete, last.Type)
	assert.True(t, last.ReasoningComplete.Degraded)
	require.NotNil(t, last.ReasoningComplete.Conclusion)
	assert.NotEmpty(t, *last.ReasoningComplete.Conclusion)

	sess, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, record.StatusCompleted, sess.Outcome.Status)
	assert.True(t, sess.Outcome.Degraded)
	assert.Equal(t, 2, sess.Outcome.Failures)
}

func TestAdmissionControl(t *testing.T) {
	d := newDispatcher(t, blocking(), nil, func(cfg *config.SchedulerConfig) {
		cfg.Dispatch.MaxConcurrentSessions = 1
	})

	first, err := d.Begin("one", struggling, DiscardEvents())
	require.NoError(t, err)

	_, err = d.Begin("two", struggling)
	assert.ErrorIs(t, err, ErrAtCapacity)

	require.True(t, d.Cancel(first.ID))
	_, err = first.Wait(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		h, err := d.Begin("three", struggling, DiscardEvents())
		if err != nil {
			return false
		}
		d.Cancel(h.ID)
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDiscardEventsDeliversOnlyTerminal(t *testing.T) {
	d := newDispatcher(t, finalAfter(3), nil, nil)

	h, err := d.Begin("What is 2+2?", confident, DiscardEvents())
	require.NoError(t, err)

	events := drain(t, h)
	require.Len(t, events, 1)
	assert.Equal(t, EventReasoningComplete, events[0].Type)
	assert.Equal(t, 6, events[0].Seq)
}

func TestShutdown(t *testing.T) {
	d := newDispatcher(t, blocking(), nil, nil)

	h, err := d.Begin("Explain entropy", struggling, DiscardEvents())
	require.NoError(t, err)
	assert.Equal(t, 1, d.Active())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))

	term, ok := h.Terminal()
	require.True(t, ok)
	assert.Equal(t, EventCancelled, term.Type)
	assert.Zero(t, d.Active())

	_, err = d.Begin("late", confident)
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestShutdownReleasesRetainedSessions(t *testing.T) {
	d := newDispatcher(t, finalAfter(1), nil, nil)

	h, err := d.Begin("What is 2+2?", confident)
	require.NoError(t, err)
	drain(t, h)
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return h.retain != nil
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := d.Lookup(h.ID)
	require.True(t, ok, "finished session should be retained")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))

	_, ok = d.Lookup(h.ID)
	assert.False(t, ok)
	assert.False(t, h.retain.Stop(), "retention timer should already be stopped")
}

func TestPlanScenarioB(t *testing.T) {
	d := newDispatcher(t, finalAfter(1), nil, nil)
	decision, b, err := d.Plan(confident)
	require.NoError(t, err)
	assert.Equal(t, mode.Fast, decision.Mode)
	assert.Equal(t, budget.Minimal, b.Tier)
	assert.Equal(t, 1139, b.TotalTokens)
	assert.Equal(t, b.TotalTokens, b.ReasoningTokens+b.AnswerTokens)
}

func TestBeginRejectsEmptyQuery(t *testing.T) {
	d := newDispatcher(t, finalAfter(1), nil, nil)
	_, err := d.Begin("", confident)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestLookup(t *testing.T) {
	d := newDispatcher(t, finalAfter(1), nil, nil)
	h, err := d.Begin("q", confident, DiscardEvents())
	require.NoError(t, err)

	got, ok := d.Lookup(h.ID)
	require.True(t, ok)
	assert.Same(t, h, got)

	_, ok = d.Lookup("missing")
	assert.False(t, ok)
}
