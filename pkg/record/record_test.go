package record

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/thinkgate/pkg/budget"
	"github.com/zen-systems/thinkgate/pkg/mode"
	"github.com/zen-systems/thinkgate/pkg/reasoning"
	"github.com/zen-systems/thinkgate/pkg/signal"
)

func sealedSession(id string) *Session {
	s := NewSession(id, "What is 2+2?",
		signal.Vector{Complexity: 0.1, Affect: 0.9, Load: 0.9, Readiness: 0.9},
		mode.Decision{Mode: mode.Fast, Confidence: 0.85},
		budget.Budget{Tier: budget.Minimal, TotalTokens: 1139})
	conclusion := "4"
	s.Seal(reasoning.Snapshot{
		Query:      s.Query,
		Mode:       mode.Fast,
		Steps:      []reasoning.Step{{Index: 1, Content: "2+2=4", Strategy: reasoning.Algorithmic, Confidence: 0.9}},
		Conclusion: &conclusion,
		Sealed:     true,
	}, Outcome{Status: StatusCompleted, TokensUsed: 12})
	return s
}

func TestSession_SealIsIdempotent(t *testing.T) {
	s := sealedSession("a")
	first := *s.SealedAt

	s.Seal(reasoning.Snapshot{}, Outcome{Status: StatusError})
	assert.Equal(t, StatusCompleted, s.Outcome.Status)
	assert.Equal(t, first, *s.SealedAt)
	assert.Equal(t, 1, s.Outcome.StepCount)

	assert.ErrorIs(t, s.AddStep(reasoning.Step{Index: 2}), ErrSessionSealed)
}

func TestSession_AddStepWhileOpen(t *testing.T) {
	s := NewSession("b", "q", signal.Vector{}, mode.Decision{Mode: mode.Adaptive}, budget.Budget{})
	require.NoError(t, s.AddStep(reasoning.Step{Index: 1, Content: "x"}))
	assert.Len(t, s.Chain.Steps, 1)
	assert.False(t, s.Sealed())
}

func TestSession_WithFeedbackLeavesOriginal(t *testing.T) {
	s := sealedSession("c")
	rated := s.WithFeedback(4)
	require.NotNil(t, rated.Outcome.Feedback)
	assert.Equal(t, 4, *rated.Outcome.Feedback)
	assert.Nil(t, s.Outcome.Feedback)
}

func TestValidateRating(t *testing.T) {
	assert.NoError(t, ValidateRating(1))
	assert.NoError(t, ValidateRating(5))
	assert.Error(t, ValidateRating(0))
	assert.Error(t, ValidateRating(6))
}

func TestCheckPersistable(t *testing.T) {
	assert.Error(t, CheckPersistable(nil))
	open := NewSession("d", "q", signal.Vector{}, mode.Decision{}, budget.Budget{})
	assert.ErrorIs(t, CheckPersistable(open), ErrUnsealed)
	assert.NoError(t, CheckPersistable(sealedSession("d")))
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	older := sealedSession("older")
	older.CreatedAt = time.Now().Add(-time.Minute)
	require.NoError(t, m.Persist(ctx, older))
	require.NoError(t, m.Persist(ctx, sealedSession("newer")))

	_, err := m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.RecordFeedback(ctx, "older", 5))
	assert.ErrorIs(t, m.RecordFeedback(ctx, "missing", 3), ErrNotFound)
	assert.Error(t, m.RecordFeedback(ctx, "older", 9))

	got, err := m.Get(ctx, "older")
	require.NoError(t, err)
	require.NotNil(t, got.Outcome.Feedback)
	assert.Equal(t, 5, *got.Outcome.Feedback)

	list, err := m.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "newer", list[0].ID)
	assert.Equal(t, "older", list[1].ID)

	list, err = m.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

// flakySink fails the first n writes of every session.
type flakySink struct {
	mu       sync.Mutex
	failures int
	attempts map[string]int
	stored   map[string]bool
}

func newFlakySink(failures int) *flakySink {
	return &flakySink{failures: failures, attempts: map[string]int{}, stored: map[string]bool{}}
}

func (f *flakySink) Persist(_ context.Context, s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[s.ID]++
	if f.attempts[s.ID] <= f.failures {
		return errors.New("disk busy")
	}
	f.stored[s.ID] = true
	return nil
}

func TestAsyncSink_RetriesUntilStored(t *testing.T) {
	inner := newFlakySink(2)
	a := NewAsyncSink(inner, WithRetry(3, time.Millisecond, 5*time.Millisecond))

	require.NoError(t, a.Submit(sealedSession("s1")))
	require.NoError(t, a.Close(context.Background()))

	inner.mu.Lock()
	defer inner.mu.Unlock()
	assert.True(t, inner.stored["s1"])
	assert.Equal(t, 3, inner.attempts["s1"])
}

func TestAsyncSink_GivesUpAfterMaxTries(t *testing.T) {
	inner := newFlakySink(10)
	var failed atomic.Int32
	a := NewAsyncSink(inner,
		WithRetry(2, time.Millisecond, time.Millisecond),
		WithResultHook(func(_ *Session, err error) {
			if err != nil {
				failed.Add(1)
			}
		}))

	require.NoError(t, a.Submit(sealedSession("s1")))
	require.NoError(t, a.Close(context.Background()))

	assert.EqualValues(t, 1, failed.Load())
	inner.mu.Lock()
	defer inner.mu.Unlock()
	assert.Equal(t, 2, inner.attempts["s1"])
	assert.False(t, inner.stored["s1"])
}

// blockingSink holds every write until release is closed.
type blockingSink struct {
	release chan struct{}
}

func (b *blockingSink) Persist(ctx context.Context, _ *Session) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestAsyncSink_DropsWhenQueueFull(t *testing.T) {
	inner := &blockingSink{release: make(chan struct{})}
	a := NewAsyncSink(inner, WithQueueSize(1))

	// The worker may or may not have taken the first session yet, so fill
	// until the queue rejects one.
	var err error
	for i := 0; i < 3 && err == nil; i++ {
		err = a.Submit(sealedSession("s" + string(rune('a'+i))))
	}
	assert.ErrorIs(t, err, ErrQueueFull)

	close(inner.release)
	require.NoError(t, a.Close(context.Background()))
}

func TestAsyncSink_SubmitNeverBlocks(t *testing.T) {
	inner := &blockingSink{release: make(chan struct{})}
	a := NewAsyncSink(inner, WithQueueSize(2))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			_ = a.Submit(sealedSession("s" + string(rune('a'+i))))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.Close(ctx), context.DeadlineExceeded)
	close(inner.release)
}

func TestAsyncSink_RejectsAfterClose(t *testing.T) {
	a := NewAsyncSink(Nop{})
	require.NoError(t, a.Close(context.Background()))
	require.NoError(t, a.Close(context.Background()))
	assert.ErrorIs(t, a.Submit(sealedSession("late")), ErrSinkClosed)
}

func TestAsyncSink_RejectsUnsealed(t *testing.T) {
	a := NewAsyncSink(Nop{})
	defer a.Close(context.Background())
	open := NewSession("open", "q", signal.Vector{}, mode.Decision{}, budget.Budget{})
	assert.ErrorIs(t, a.Submit(open), ErrUnsealed)
}
