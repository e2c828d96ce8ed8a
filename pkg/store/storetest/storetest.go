// Package storetest holds behaviour tests shared by every record.Store.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/thinkgate/pkg/budget"
	"github.com/zen-systems/thinkgate/pkg/mode"
	"github.com/zen-systems/thinkgate/pkg/reasoning"
	"github.com/zen-systems/thinkgate/pkg/record"
	"github.com/zen-systems/thinkgate/pkg/signal"
)

// Session builds a sealed session created at the given time.
func Session(id string, created time.Time, status record.Status) *record.Session {
	s := record.NewSession(id, "Explain how photosynthesis works",
		signal.Vector{Complexity: 0.6, Affect: 0.5, Load: 0.5, Readiness: 0.7},
		mode.Decision{Mode: mode.Deliberate, Confidence: 0.85, Reasons: []string{"low affect (0.50)"}},
		budget.Budget{Tier: budget.Extended, ReasoningTokens: 1500, AnswerTokens: 1000, TotalTokens: 2500})
	s.CreatedAt = created.UTC()

	snap := reasoning.Snapshot{
		Query: s.Query,
		Mode:  mode.Deliberate,
		Steps: []reasoning.Step{
			{Index: 1, Content: "Plants absorb light with chlorophyll", Strategy: reasoning.Causal, Confidence: 0.7},
			{Index: 2, Content: "Light energy splits water", Strategy: reasoning.Causal, Confidence: 0.8},
		},
		Sealed: true,
	}
	if status == record.StatusCompleted {
		c := "Light energy is stored as glucose."
		snap.Conclusion = &c
	}
	s.Seal(snap, record.Outcome{Status: status, TokensUsed: 321, ElapsedMs: 1200})
	return s
}

// Run exercises store against the record.Store contract. newStore must
// return an empty store; Run closes it.
func Run(t *testing.T, newStore func(t *testing.T) record.Store) {
	t.Run("PersistAndGet", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		defer store.Close()

		want := Session("s1", time.Now(), record.StatusCompleted)
		require.NoError(t, store.Persist(ctx, want))

		got, err := store.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Query, got.Query)
		assert.Equal(t, mode.Deliberate, got.Decision.Mode)
		assert.Equal(t, []string{"low affect (0.50)"}, got.Decision.Reasons)
		assert.Equal(t, budget.Extended, got.Budget.Tier)
		assert.Equal(t, 2500, got.Budget.TotalTokens)
		assert.Len(t, got.Chain.Steps, 2)
		assert.Equal(t, 2, got.Chain.Steps[1].Index)
		require.NotNil(t, got.Chain.Conclusion)
		assert.Equal(t, "Light energy is stored as glucose.", *got.Chain.Conclusion)
		assert.Equal(t, record.StatusCompleted, got.Outcome.Status)
		assert.Equal(t, 2, got.Outcome.StepCount)
		assert.Equal(t, 321, got.Outcome.TokensUsed)
		assert.True(t, got.Sealed())
		assert.Nil(t, got.Outcome.Feedback)
	})

	t.Run("CancelledKeepsNullConclusion", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		defer store.Close()

		require.NoError(t, store.Persist(ctx, Session("c1", time.Now(), record.StatusCancelled)))
		got, err := store.Get(ctx, "c1")
		require.NoError(t, err)
		assert.Nil(t, got.Chain.Conclusion)
		assert.Equal(t, record.StatusCancelled, got.Outcome.Status)
	})

	t.Run("GetMissing", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()
		_, err := store.Get(context.Background(), "nope")
		assert.ErrorIs(t, err, record.ErrNotFound)
	})

	t.Run("RejectsUnsealed", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()
		open := record.NewSession("open", "q", signal.Vector{}, mode.Decision{Mode: mode.Fast}, budget.Budget{})
		assert.ErrorIs(t, store.Persist(context.Background(), open), record.ErrUnsealed)
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		defer store.Close()

		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		for i := 0; i < 4; i++ {
			s := Session(fmt.Sprintf("s%d", i), base.Add(time.Duration(i)*time.Minute), record.StatusCompleted)
			require.NoError(t, store.Persist(ctx, s))
		}

		all, err := store.List(ctx, 0)
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, []string{"s3", "s2", "s1", "s0"}, ids(all))
		assert.Equal(t, mode.Deliberate, all[0].Mode)
		assert.Equal(t, "extended", all[0].Tier)
		assert.Equal(t, 2, all[0].StepCount)

		two, err := store.List(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"s3", "s2"}, ids(two))
	})

	t.Run("Feedback", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		defer store.Close()

		require.NoError(t, store.Persist(ctx, Session("f1", time.Now(), record.StatusCompleted)))
		require.NoError(t, store.RecordFeedback(ctx, "f1", 3))
		require.NoError(t, store.RecordFeedback(ctx, "f1", 5))
		assert.Error(t, store.RecordFeedback(ctx, "f1", 0))
		assert.ErrorIs(t, store.RecordFeedback(ctx, "missing", 4), record.ErrNotFound)

		got, err := store.Get(ctx, "f1")
		require.NoError(t, err)
		require.NotNil(t, got.Outcome.Feedback)
		assert.Equal(t, 5, *got.Outcome.Feedback)

		list, err := store.List(ctx, 0)
		require.NoError(t, err)
		require.Len(t, list, 1)
		require.NotNil(t, list[0].Feedback)
		assert.Equal(t, 5, *list[0].Feedback)
	})
}

func ids(sums []record.Summary) []string {
	out := make([]string, len(sums))
	for i, s := range sums {
		out[i] = s.ID
	}
	return out
}
