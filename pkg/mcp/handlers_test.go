package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/thinkgate/pkg/budget"
	"github.com/zen-systems/thinkgate/pkg/config"
	"github.com/zen-systems/thinkgate/pkg/dispatch"
	"github.com/zen-systems/thinkgate/pkg/mode"
	"github.com/zen-systems/thinkgate/pkg/reasoning"
	"github.com/zen-systems/thinkgate/pkg/record"
	"github.com/zen-systems/thinkgate/pkg/search"
)

func newHandlers(t *testing.T) (*Handlers, *record.MemoryStore) {
	t.Helper()
	cfg := config.DefaultSchedulerConfig()
	gen := reasoning.GeneratorFunc(func(ctx context.Context, req reasoning.StepRequest) (*reasoning.Proposal, error) {
		if len(req.Path) == 0 {
			return &reasoning.Proposal{Content: "Add the two numbers.", Confidence: 0.7, TokensUsed: 8}, nil
		}
		return &reasoning.Proposal{Content: "2+2 = 4.", Confidence: 0.95, IsFinal: true, TokensUsed: 6}, nil
	})

	allocator, err := budget.NewAllocator(cfg)
	require.NoError(t, err)
	engine, err := search.NewEngine(gen, cfg)
	require.NoError(t, err)
	store := record.NewMemoryStore()
	d, err := dispatch.New(mode.NewSelector(cfg.Mode), allocator, engine, store, cfg.Dispatch)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})

	s, h := NewServer("test", d, store)
	require.NotNil(t, s.GetTool("reason"))
	return h, store
}

func call(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok, "expected text content")
	return tc.Text
}

func TestSelectMode(t *testing.T) {
	h, _ := newHandlers(t)
	res, err := h.SelectMode(context.Background(), call("select_mode", map[string]any{
		"query":      "What is 2+2?",
		"complexity": 0.1,
		"affect":     0.9,
		"load":       0.9,
		"readiness":  0.9,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	var decision mode.Decision
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &decision))
	assert.Equal(t, mode.Fast, decision.Mode)
	assert.NotEmpty(t, decision.Explanation)
}

func TestSelectModeStruggling(t *testing.T) {
	h, _ := newHandlers(t)
	res, err := h.SelectMode(context.Background(), call("select_mode", map[string]any{
		"query":     "Explain entropy",
		"affect":    0.2,
		"readiness": 0.3,
	}))
	require.NoError(t, err)

	var decision mode.Decision
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &decision))
	assert.Equal(t, mode.Deliberate, decision.Mode)
}

func TestAllocateBudget(t *testing.T) {
	h, _ := newHandlers(t)
	res, err := h.AllocateBudget(context.Background(), call("allocate_budget", map[string]any{
		"query":      "What is 2+2?",
		"complexity": 0.1,
		"affect":     0.9,
		"load":       0.9,
		"readiness":  0.9,
	}))
	require.NoError(t, err)

	var out struct {
		Budget budget.Budget `json:"budget"`
	}
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &out))
	assert.Equal(t, budget.Minimal, out.Budget.Tier)
	assert.Equal(t, 1139, out.Budget.TotalTokens)
}

func TestMissingQuery(t *testing.T) {
	h, _ := newHandlers(t)
	res, err := h.SelectMode(context.Background(), call("select_mode", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestReasonThenFetchAndRate(t *testing.T) {
	h, store := newHandlers(t)
	res, err := h.Reason(context.Background(), call("reason", map[string]any{"query": "What is 2+2?"}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	var out ReasonResult
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &out))
	assert.Equal(t, record.StatusCompleted, out.Status)
	require.NotNil(t, out.Conclusion)
	assert.Equal(t, "2+2 = 4.", *out.Conclusion)
	assert.Equal(t, []string{"Add the two numbers.", "2+2 = 4."}, out.Steps)

	require.Eventually(t, func() bool {
		_, err := store.Get(context.Background(), out.SessionID)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	res, err = h.GetSession(context.Background(), call("get_session", map[string]any{"session_id": out.SessionID}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	res, err = h.RecordFeedback(context.Background(), call("record_feedback", map[string]any{"session_id": out.SessionID, "rating": 9}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = h.RecordFeedback(context.Background(), call("record_feedback", map[string]any{"session_id": out.SessionID, "rating": 5}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	res, err = h.ListSessions(context.Background(), call("list_sessions", map[string]any{}))
	require.NoError(t, err)
	var list struct {
		Count    int              `json:"count"`
		Sessions []record.Summary `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &list))
	require.Equal(t, 1, list.Count)
	require.NotNil(t, list.Sessions[0].Feedback)
	assert.Equal(t, 5, *list.Sessions[0].Feedback)
}

func TestGetSessionMissing(t *testing.T) {
	h, _ := newHandlers(t)
	res, err := h.GetSession(context.Background(), call("get_session", map[string]any{"session_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
