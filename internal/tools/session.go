package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/calebrosier/timetree/internal/store"
)

// SessionStartTool handles the tt_session_start MCP tool.
type SessionStartTool struct {
	store *store.Store
}

// NewSessionStartTool creates a SessionStartTool.
func NewSessionStartTool(st *store.Store) *SessionStartTool {
	return &SessionStartTool{store: st}
}

// Definition returns the MCP tool definition for tt_session_start.
func (t *SessionStartTool) Definition() mcp.Tool {
	return mcp.NewTool("tt_session_start",
		mcp.WithDescription(
			"Register a new reasoning session. All branches, checkpoints, snapshots "+
				"and timelines are scoped to a session; deleting the session removes them all.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Unique session identifier"),
		),
		mcp.WithString("mode",
			mcp.Description("Reasoning mode label (default: tree)"),
		),
	)
}

// Handle processes the tt_session_start tool call.
func (t *SessionStartTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}
	mode := req.GetString("mode", "")

	if err := t.store.CreateSession(id, mode); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to start session: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Session %q started", id)), nil
}

// ─── SessionEndTool ─────────────────────────────────────────────────────────

// SessionEndTool handles the tt_session_end MCP tool.
type SessionEndTool struct {
	store *store.Store
}

// NewSessionEndTool creates a SessionEndTool.
func NewSessionEndTool(st *store.Store) *SessionEndTool {
	return &SessionEndTool{store: st}
}

// Definition returns the MCP tool definition for tt_session_end.
func (t *SessionEndTool) Definition() mcp.Tool {
	return mcp.NewTool("tt_session_end",
		mcp.WithDescription(
			"Mark a reasoning session as ended. Its records stay queryable until the "+
				"session is deleted.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Session identifier to close"),
		),
	)
}

// Handle processes the tt_session_end tool call.
func (t *SessionEndTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}

	if err := t.store.EndSession(id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to end session: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Session %q ended", id)), nil
}

// ─── StatsTool ──────────────────────────────────────────────────────────────

// StatsTool handles the tt_stats MCP tool.
type StatsTool struct {
	store *store.Store
}

// NewStatsTool creates a StatsTool.
func NewStatsTool(st *store.Store) *StatsTool {
	return &StatsTool{store: st}
}

// Definition returns the MCP tool definition for tt_stats.
func (t *StatsTool) Definition() mcp.Tool {
	return mcp.NewTool("tt_stats",
		mcp.WithDescription(
			"Aggregate record counts for one session: branches, cross-references, "+
				"checkpoints, snapshots, timelines, search nodes, and analyses.",
		),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session to summarize"),
		),
	)
}

// Handle processes the tt_stats tool call.
func (t *StatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError("'session_id' is required"), nil
	}

	stats, err := t.store.SessionStats(sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to collect stats: %v", err)), nil
	}

	return jsonResult(stats), nil
}
