package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/calebrosier/timetree/internal/store"
)

// BranchCreateTool handles the tt_branch_create MCP tool.
type BranchCreateTool struct {
	store *store.Store
}

// NewBranchCreateTool creates a BranchCreateTool.
func NewBranchCreateTool(st *store.Store) *BranchCreateTool {
	return &BranchCreateTool{store: st}
}

// Definition returns the MCP tool definition for tt_branch_create.
func (t *BranchCreateTool) Definition() mcp.Tool {
	return mcp.NewTool("tt_branch_create",
		mcp.WithDescription(
			"Fork a new reasoning branch. With a parent_id the branch continues that "+
				"line of thought; without one it starts a new root. The branch content "+
				"is the thought for this step.",
		),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session owning the branch"),
		),
		mcp.WithString("content",
			mcp.Description("Thought content carried by this branch"),
		),
		mcp.WithString("parent_id",
			mcp.Description("Parent branch to fork from (omit for a root branch)"),
		),
		mcp.WithNumber("priority",
			mcp.Description("Exploration priority hint in [0, 1]"),
		),
		mcp.WithNumber("confidence",
			mcp.Description("Confidence in this line of thought in [0, 1]"),
		),
	)
}

// Handle processes the tt_branch_create tool call.
func (t *BranchCreateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError("'session_id' is required"), nil
	}

	b, err := t.store.CreateBranch(store.CreateBranchParams{
		SessionID:  sessionID,
		ParentID:   optionalString(req, "parent_id"),
		Content:    req.GetString("content", ""),
		Priority:   floatArg(req, "priority", 0),
		Confidence: floatArg(req, "confidence", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create branch: %v", err)), nil
	}

	return jsonResult(b), nil
}

// ─── BranchTransitionTool ───────────────────────────────────────────────────

// BranchTransitionTool handles the tt_branch_transition MCP tool.
type BranchTransitionTool struct {
	store *store.Store
}

// NewBranchTransitionTool creates a BranchTransitionTool.
func NewBranchTransitionTool(st *store.Store) *BranchTransitionTool {
	return &BranchTransitionTool{store: st}
}

// Definition returns the MCP tool definition for tt_branch_transition.
func (t *BranchTransitionTool) Definition() mcp.Tool {
	return mcp.NewTool("tt_branch_transition",
		mcp.WithDescription(
			"Move a branch through its lifecycle. Only active branches can change "+
				"state, and only to completed or abandoned — terminal states are final.",
		),
		mcp.WithString("branch_id",
			mcp.Required(),
			mcp.Description("Branch to transition"),
		),
		mcp.WithString("state",
			mcp.Required(),
			mcp.Description("Target state: completed or abandoned"),
			mcp.Enum("completed", "abandoned"),
		),
	)
}

// Handle processes the tt_branch_transition tool call.
func (t *BranchTransitionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	branchID := req.GetString("branch_id", "")
	if branchID == "" {
		return mcp.NewToolResultError("'branch_id' is required"), nil
	}
	state := store.BranchState(req.GetString("state", ""))

	if err := t.store.TransitionBranch(branchID, state); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to transition branch: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Branch %q is now %s", branchID, state)), nil
}

// ─── BranchPathTool ─────────────────────────────────────────────────────────

// BranchPathTool handles the tt_branch_path MCP tool.
type BranchPathTool struct {
	store *store.Store
}

// NewBranchPathTool creates a BranchPathTool.
func NewBranchPathTool(st *store.Store) *BranchPathTool {
	return &BranchPathTool{store: st}
}

// Definition returns the MCP tool definition for tt_branch_path.
func (t *BranchPathTool) Definition() mcp.Tool {
	return mcp.NewTool("tt_branch_path",
		mcp.WithDescription(
			"Resolve the root-to-leaf ancestry of a branch: the ordered chain of "+
				"thoughts that led to it.",
		),
		mcp.WithString("branch_id",
			mcp.Required(),
			mcp.Description("Leaf branch to trace back to its root"),
		),
	)
}

// Handle processes the tt_branch_path tool call.
func (t *BranchPathTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	branchID := req.GetString("branch_id", "")
	if branchID == "" {
		return mcp.NewToolResultError("'branch_id' is required"), nil
	}

	path, err := t.store.BranchPath(branchID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to resolve path: %v", err)), nil
	}

	return jsonResult(path), nil
}

// ─── CrossRefTool ───────────────────────────────────────────────────────────

// CrossRefTool handles the tt_cross_ref_add MCP tool.
type CrossRefTool struct {
	store *store.Store
}

// NewCrossRefTool creates a CrossRefTool.
func NewCrossRefTool(st *store.Store) *CrossRefTool {
	return &CrossRefTool{store: st}
}

// Definition returns the MCP tool definition for tt_cross_ref_add.
func (t *CrossRefTool) Definition() mcp.Tool {
	return mcp.NewTool("tt_cross_ref_add",
		mcp.WithDescription(
			"Link two branches with a typed, weighted relation: supports, contradicts, "+
				"extends, refines, or merges.",
		),
		mcp.WithString("from_id",
			mcp.Required(),
			mcp.Description("Source branch"),
		),
		mcp.WithString("to_id",
			mcp.Required(),
			mcp.Description("Target branch"),
		),
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Description("Relation kind"),
			mcp.Enum("supports", "contradicts", "extends", "refines", "merges"),
		),
		mcp.WithNumber("strength",
			mcp.Description("Relation strength in [0, 1] (default: 1)"),
		),
	)
}

// Handle processes the tt_cross_ref_add tool call.
func (t *CrossRefTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fromID := req.GetString("from_id", "")
	toID := req.GetString("to_id", "")
	if fromID == "" {
		return mcp.NewToolResultError("'from_id' is required"), nil
	}
	if toID == "" {
		return mcp.NewToolResultError("'to_id' is required"), nil
	}
	kind := store.CrossRefKind(req.GetString("kind", ""))
	strength := floatArg(req, "strength", 1)

	ref, err := t.store.AddCrossRef(fromID, toID, kind, strength)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to add cross-ref: %v", err)), nil
	}

	return jsonResult(ref), nil
}
