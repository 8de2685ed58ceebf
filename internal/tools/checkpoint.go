package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/calebrosier/timetree/internal/snapshot"
	"github.com/calebrosier/timetree/internal/store"
)

// CheckpointCreateTool handles the tt_checkpoint_create MCP tool.
type CheckpointCreateTool struct {
	snapshots *snapshot.Service
}

// NewCheckpointCreateTool creates a CheckpointCreateTool.
func NewCheckpointCreateTool(svc *snapshot.Service) *CheckpointCreateTool {
	return &CheckpointCreateTool{snapshots: svc}
}

// Definition returns the MCP tool definition for tt_checkpoint_create.
func (t *CheckpointCreateTool) Definition() mcp.Tool {
	return mcp.NewTool("tt_checkpoint_create",
		mcp.WithDescription(
			"Record a named, immutable restore target. Restoring it later forks a "+
				"fresh branch carrying the payload — the checkpoint itself never changes.",
		),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session owning the checkpoint"),
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Human-readable checkpoint name"),
		),
		mcp.WithString("payload",
			mcp.Required(),
			mcp.Description("Reasoning state to preserve"),
		),
		mcp.WithString("branch_id",
			mcp.Description("Branch to anchor the checkpoint on (optional)"),
		),
	)
}

// Handle processes the tt_checkpoint_create tool call.
func (t *CheckpointCreateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	name := req.GetString("name", "")
	payload := req.GetString("payload", "")
	if sessionID == "" {
		return mcp.NewToolResultError("'session_id' is required"), nil
	}
	if name == "" {
		return mcp.NewToolResultError("'name' is required"), nil
	}

	ckpt, err := t.snapshots.CreateCheckpoint(sessionID, optionalString(req, "branch_id"), name, payload)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create checkpoint: %v", err)), nil
	}

	return jsonResult(ckpt), nil
}

// ─── CheckpointRestoreTool ──────────────────────────────────────────────────

// CheckpointRestoreTool handles the tt_checkpoint_restore MCP tool.
type CheckpointRestoreTool struct {
	snapshots *snapshot.Service
}

// NewCheckpointRestoreTool creates a CheckpointRestoreTool.
func NewCheckpointRestoreTool(svc *snapshot.Service) *CheckpointRestoreTool {
	return &CheckpointRestoreTool{snapshots: svc}
}

// Definition returns the MCP tool definition for tt_checkpoint_restore.
func (t *CheckpointRestoreTool) Definition() mcp.Tool {
	return mcp.NewTool("tt_checkpoint_restore",
		mcp.WithDescription(
			"Travel back to a checkpoint: fork a fresh active branch carrying the "+
				"checkpoint payload. Non-destructive — the source branch and checkpoint "+
				"are untouched.",
		),
		mcp.WithString("checkpoint_id",
			mcp.Required(),
			mcp.Description("Checkpoint to restore"),
		),
	)
}

// Handle processes the tt_checkpoint_restore tool call.
func (t *CheckpointRestoreTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	checkpointID := req.GetString("checkpoint_id", "")
	if checkpointID == "" {
		return mcp.NewToolResultError("'checkpoint_id' is required"), nil
	}

	b, err := t.snapshots.RestoreCheckpoint(checkpointID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to restore checkpoint: %v", err)), nil
	}

	return jsonResult(b), nil
}

// ─── SnapshotCreateTool ─────────────────────────────────────────────────────

// SnapshotCreateTool handles the tt_snapshot_create MCP tool.
type SnapshotCreateTool struct {
	snapshots *snapshot.Service
}

// NewSnapshotCreateTool creates a SnapshotCreateTool.
func NewSnapshotCreateTool(svc *snapshot.Service) *SnapshotCreateTool {
	return &SnapshotCreateTool{snapshots: svc}
}

// Definition returns the MCP tool definition for tt_snapshot_create.
func (t *SnapshotCreateTool) Definition() mcp.Tool {
	return mcp.NewTool("tt_snapshot_create",
		mcp.WithDescription(
			"Record a state snapshot. Full and branch snapshots carry a complete "+
				"payload; incremental snapshots carry a JSON object diff against their "+
				"parent (a null value deletes the key).",
		),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session owning the snapshot"),
		),
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Description("Snapshot kind"),
			mcp.Enum("full", "incremental", "branch"),
		),
		mcp.WithString("payload",
			mcp.Required(),
			mcp.Description("Snapshot payload (a JSON object diff for incremental snapshots)"),
		),
		mcp.WithString("parent_id",
			mcp.Description("Parent snapshot (required for incremental snapshots)"),
		),
	)
}

// Handle processes the tt_snapshot_create tool call.
func (t *SnapshotCreateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError("'session_id' is required"), nil
	}
	kind := store.SnapshotKind(req.GetString("kind", ""))
	payload := req.GetString("payload", "")

	snap, err := t.snapshots.CreateSnapshot(sessionID, kind, payload, optionalString(req, "parent_id"))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create snapshot: %v", err)), nil
	}

	return jsonResult(snap), nil
}

// ─── SnapshotResolveTool ────────────────────────────────────────────────────

// SnapshotResolveTool handles the tt_snapshot_resolve MCP tool.
type SnapshotResolveTool struct {
	snapshots *snapshot.Service
}

// NewSnapshotResolveTool creates a SnapshotResolveTool.
func NewSnapshotResolveTool(svc *snapshot.Service) *SnapshotResolveTool {
	return &SnapshotResolveTool{snapshots: svc}
}

// Definition returns the MCP tool definition for tt_snapshot_resolve.
func (t *SnapshotResolveTool) Definition() mcp.Tool {
	return mcp.NewTool("tt_snapshot_resolve",
		mcp.WithDescription(
			"Materialize the full payload of a snapshot by walking its chain to the "+
				"nearest full snapshot and applying diffs in order. Deterministic: the "+
				"same chain always resolves to byte-identical output.",
		),
		mcp.WithString("snapshot_id",
			mcp.Required(),
			mcp.Description("Snapshot to resolve"),
		),
	)
}

// Handle processes the tt_snapshot_resolve tool call.
func (t *SnapshotResolveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snapshotID := req.GetString("snapshot_id", "")
	if snapshotID == "" {
		return mcp.NewToolResultError("'snapshot_id' is required"), nil
	}

	payload, err := t.snapshots.Resolve(snapshotID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to resolve snapshot: %v", err)), nil
	}

	return mcp.NewToolResultText(payload), nil
}

// ─── SnapshotRestoreTool ────────────────────────────────────────────────────

// SnapshotRestoreTool handles the tt_snapshot_restore MCP tool.
type SnapshotRestoreTool struct {
	snapshots *snapshot.Service
}

// NewSnapshotRestoreTool creates a SnapshotRestoreTool.
func NewSnapshotRestoreTool(svc *snapshot.Service) *SnapshotRestoreTool {
	return &SnapshotRestoreTool{snapshots: svc}
}

// Definition returns the MCP tool definition for tt_snapshot_restore.
func (t *SnapshotRestoreTool) Definition() mcp.Tool {
	return mcp.NewTool("tt_snapshot_restore",
		mcp.WithDescription(
			"Resolve a snapshot chain and fork a fresh active root branch carrying "+
				"the resolved payload.",
		),
		mcp.WithString("snapshot_id",
			mcp.Required(),
			mcp.Description("Snapshot to restore"),
		),
	)
}

// Handle processes the tt_snapshot_restore tool call.
func (t *SnapshotRestoreTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snapshotID := req.GetString("snapshot_id", "")
	if snapshotID == "" {
		return mcp.NewToolResultError("'snapshot_id' is required"), nil
	}

	b, err := t.snapshots.RestoreSnapshot(snapshotID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to restore snapshot: %v", err)), nil
	}

	return jsonResult(b), nil
}
