// Package mcp exposes the scheduler as Model Context Protocol tools.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/zen-systems/thinkgate/pkg/dispatch"
	"github.com/zen-systems/thinkgate/pkg/record"
)

// NewServer builds an MCP server with every scheduler tool registered.
func NewServer(version string, d *dispatch.Dispatcher, store record.Store) (*mcpserver.MCPServer, *Handlers) {
	s := mcpserver.NewMCPServer("thinkgate", version, mcpserver.WithToolCapabilities(false))
	return s, RegisterTools(s, d, store)
}

func signalOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("query", mcp.Required(), mcp.Description("The learner's question")),
		mcp.WithNumber("complexity", mcp.Min(0), mcp.Max(1),
			mcp.Description("Query complexity in [0,1]; estimated from the query when omitted")),
		mcp.WithNumber("affect", mcp.Min(0), mcp.Max(1), mcp.Description("Emotional state in [0,1]; 0.5 when omitted")),
		mcp.WithNumber("load", mcp.Min(0), mcp.Max(1), mcp.Description("Cognitive load headroom in [0,1]; 0.5 when omitted")),
		mcp.WithNumber("readiness", mcp.Min(0), mcp.Max(1), mcp.Description("Readiness to learn in [0,1]; 0.5 when omitted")),
	}
}

// RegisterTools registers the scheduler tools on s.
func RegisterTools(s *mcpserver.MCPServer, d *dispatch.Dispatcher, store record.Store) *Handlers {
	h := &Handlers{dispatcher: d, store: store}

	s.AddTool(mcp.NewTool("select_mode",
		append([]mcp.ToolOption{
			mcp.WithDescription("Choose fast, deliberate or adaptive reasoning for a query and learner state, with an explanation."),
			mcp.WithReadOnlyHintAnnotation(true),
		}, signalOptions()...)...,
	), h.SelectMode)

	s.AddTool(mcp.NewTool("allocate_budget",
		append([]mcp.ToolOption{
			mcp.WithDescription("Select a mode and split the token budget between reasoning and the final answer."),
			mcp.WithReadOnlyHintAnnotation(true),
		}, signalOptions()...)...,
	), h.AllocateBudget)

	s.AddTool(mcp.NewTool("reason",
		append([]mcp.ToolOption{
			mcp.WithDescription("Run a full reasoning session and return its chain and conclusion."),
		}, signalOptions()...)...,
	), h.Reason)

	s.AddTool(mcp.NewTool("get_session",
		mcp.WithDescription("Fetch a sealed session record by ID."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID returned by reason")),
	), h.GetSession)

	s.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List recent sessions, newest first."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithNumber("limit", mcp.Min(1), mcp.Description("Maximum sessions to return (default: 20)")),
	), h.ListSessions)

	s.AddTool(mcp.NewTool("record_feedback",
		mcp.WithDescription("Attach a 1-5 rating to a finished session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithNumber("rating", mcp.Required(), mcp.Min(1), mcp.Max(5), mcp.Description("Rating from 1 to 5")),
	), h.RecordFeedback)

	return h
}
