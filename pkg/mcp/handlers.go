package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/zen-systems/thinkgate/pkg/dispatch"
	"github.com/zen-systems/thinkgate/pkg/record"
	"github.com/zen-systems/thinkgate/pkg/signal"
)

const defaultListLimit = 20

// Handlers implements the tool callbacks.
type Handlers struct {
	dispatcher *dispatch.Dispatcher
	store      record.Store
}

// ReasonResult is the reason tool's payload.
type ReasonResult struct {
	SessionID  string         `json:"session_id"`
	Mode       string         `json:"mode"`
	Tier       string         `json:"tier"`
	Status     record.Status  `json:"status"`
	Degraded   bool           `json:"degraded,omitempty"`
	Conclusion *string        `json:"conclusion"`
	Steps      []string       `json:"steps"`
	Outcome    record.Outcome `json:"outcome"`
}

// SelectMode handles select_mode.
func (h *Handlers) SelectMode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, sig, errResult := parseSignal(request)
	if errResult != nil {
		return errResult, nil
	}
	decision, _, err := h.dispatcher.Plan(sig)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("planning failed: %v", err)), nil
	}
	return jsonResult(decision)
}

// AllocateBudget handles allocate_budget.
func (h *Handlers) AllocateBudget(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, sig, errResult := parseSignal(request)
	if errResult != nil {
		return errResult, nil
	}
	decision, b, err := h.dispatcher.Plan(sig)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("planning failed: %v", err)), nil
	}
	return jsonResult(map[string]any{"decision": decision, "budget": b})
}

// Reason handles reason. It blocks until the session seals; a cancelled
// request context cancels the session.
func (h *Handlers) Reason(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, sig, errResult := parseSignal(request)
	if errResult != nil {
		return errResult, nil
	}

	handle, err := h.dispatcher.Begin(query, sig, dispatch.DiscardEvents())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("could not start session: %v", err)), nil
	}

	sess, err := handle.Wait(ctx)
	if err != nil {
		h.dispatcher.Cancel(handle.ID)
		return mcp.NewToolResultError(fmt.Sprintf("session %s abandoned: %v", handle.ID, err)), nil
	}

	out := ReasonResult{
		SessionID:  sess.ID,
		Mode:       string(sess.Decision.Mode),
		Tier:       string(sess.Budget.Tier),
		Status:     sess.Outcome.Status,
		Degraded:   sess.Outcome.Degraded,
		Conclusion: sess.Chain.Conclusion,
		Steps:      make([]string, 0, len(sess.Chain.Steps)),
		Outcome:    sess.Outcome,
	}
	for _, step := range sess.Chain.Steps {
		out.Steps = append(out.Steps, step.Content)
	}
	if sess.Outcome.Status == record.StatusError {
		return mcp.NewToolResultError(fmt.Sprintf("session %s failed (%s): %s",
			sess.ID, sess.Outcome.ErrorKind, sess.Outcome.ErrorMessage)), nil
	}
	return jsonResult(out)
}

// GetSession handles get_session.
func (h *Handlers) GetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if h.store == nil {
		return mcp.NewToolResultError("no session store configured"), nil
	}
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id argument is required and must be a string"), nil
	}
	sess, err := h.store.Get(ctx, id)
	if errors.Is(err, record.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("session %q not found", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load session: %v", err)), nil
	}
	return jsonResult(sess)
}

// ListSessions handles list_sessions.
func (h *Handlers) ListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if h.store == nil {
		return mcp.NewToolResultError("no session store configured"), nil
	}
	limit := request.GetInt("limit", defaultListLimit)
	if limit < 1 {
		limit = defaultListLimit
	}
	sessions, err := h.store.List(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sessions: %v", err)), nil
	}
	if sessions == nil {
		sessions = []record.Summary{}
	}
	return jsonResult(map[string]any{"count": len(sessions), "sessions": sessions})
}

// RecordFeedback handles record_feedback.
func (h *Handlers) RecordFeedback(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if h.store == nil {
		return mcp.NewToolResultError("no session store configured"), nil
	}
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id argument is required and must be a string"), nil
	}
	rating, err := request.RequireInt("rating")
	if err != nil {
		return mcp.NewToolResultError("rating argument is required and must be a number"), nil
	}
	if err := record.ValidateRating(rating); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := h.store.RecordFeedback(ctx, id, rating); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to record feedback: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("recorded rating %d for session %s", rating, id)), nil
}

func parseSignal(request mcp.CallToolRequest) (string, signal.Vector, *mcp.CallToolResult) {
	query, err := request.RequireString("query")
	if err != nil || query == "" {
		return "", signal.Vector{}, mcp.NewToolResultError("query argument is required and must be a non-empty string")
	}

	args := request.GetArguments()
	var in signal.Input
	for key, dst := range map[string]**float64{
		"complexity": &in.Complexity,
		"affect":     &in.Affect,
		"load":       &in.Load,
		"readiness":  &in.Readiness,
	} {
		if _, ok := args[key]; ok {
			v := request.GetFloat(key, signal.Neutral)
			*dst = &v
		}
	}
	return query, in.Resolve(query), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
