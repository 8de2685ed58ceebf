package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/calebrosier/timetree/internal/mcts"
	"github.com/calebrosier/timetree/internal/oracle"
	"github.com/calebrosier/timetree/internal/store"
)

// TimelineStartTool handles the tt_timeline_start MCP tool.
type TimelineStartTool struct {
	store *store.Store
}

// NewTimelineStartTool creates a TimelineStartTool.
func NewTimelineStartTool(st *store.Store) *TimelineStartTool {
	return &TimelineStartTool{store: st}
}

// Definition returns the MCP tool definition for tt_timeline_start.
func (t *TimelineStartTool) Definition() mcp.Tool {
	return mcp.NewTool("tt_timeline_start",
		mcp.WithDescription(
			"Start a tree-mode exploration timeline. Pass root_branch_id to grow from "+
				"an existing branch, or root_content to fork a fresh root.",
		),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session owning the timeline"),
		),
		mcp.WithString("root_branch_id",
			mcp.Description("Existing branch to use as the timeline root"),
		),
		mcp.WithString("root_content",
			mcp.Description("Thought content for a freshly created root branch"),
		),
	)
}

// Handle processes the tt_timeline_start tool call.
func (t *TimelineStartTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError("'session_id' is required"), nil
	}

	rootID := req.GetString("root_branch_id", "")
	if rootID == "" {
		b, err := t.store.CreateBranch(store.CreateBranchParams{
			SessionID: sessionID,
			Content:   req.GetString("root_content", ""),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to create root branch: %v", err)), nil
		}
		rootID = b.ID
	}

	tl, err := t.store.CreateTimeline(sessionID, rootID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to start timeline: %v", err)), nil
	}

	return jsonResult(tl), nil
}

// ─── ExploreStepTool ────────────────────────────────────────────────────────

// ExploreStepTool handles the tt_explore_step MCP tool. The client acts
// as the model: the request carries the candidate continuations and the
// reward, which feed the engine through the scripted oracle for exactly
// one selection → expansion → simulation → backpropagation pass.
type ExploreStepTool struct {
	engine *mcts.Engine
	oracle *oracle.Scripted
}

// NewExploreStepTool creates an ExploreStepTool.
func NewExploreStepTool(engine *mcts.Engine, scripted *oracle.Scripted) *ExploreStepTool {
	return &ExploreStepTool{engine: engine, oracle: scripted}
}

// Definition returns the MCP tool definition for tt_explore_step.
func (t *ExploreStepTool) Definition() mcp.Tool {
	return mcp.NewTool("tt_explore_step",
		mcp.WithDescription(
			"Run one search step on a timeline. YOU are the oracle: supply candidate "+
				"continuations of the selected thought path (used when the step expands a "+
				"frontier node) and a reward in [0, 1] scoring the simulated path. The "+
				"response names the simulated branch; call tt_branch_path on it to see "+
				"the thought prefix before scoring the next step.",
		),
		mcp.WithString("timeline_id",
			mcp.Required(),
			mcp.Description("Timeline to advance"),
		),
		mcp.WithNumber("reward",
			mcp.Required(),
			mcp.Description("Reward for the simulated path, in [0, 1]"),
		),
		mcp.WithArray("candidates",
			mcp.Description("Candidate continuations as {content, prior} objects (needed when the step expands)"),
		),
	)
}

// Handle processes the tt_explore_step tool call.
func (t *ExploreStepTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	timelineID := req.GetString("timeline_id", "")
	if timelineID == "" {
		return mcp.NewToolResultError("'timeline_id' is required"), nil
	}

	if conts, ok := continuationsArg(req, "candidates"); ok {
		t.oracle.PushContinuations(conts)
	}
	t.oracle.PushReward(floatArg(req, "reward", 0))

	res, err := t.engine.Step(ctx, timelineID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("exploration step failed: %v", err)), nil
	}

	return jsonResult(res), nil
}

// ─── ExploreRunTool ─────────────────────────────────────────────────────────

// ExploreRunTool handles the tt_explore_run MCP tool: a batch of
// episodes pre-scripted in one call.
type ExploreRunTool struct {
	engine *mcts.Engine
	oracle *oracle.Scripted
}

// NewExploreRunTool creates an ExploreRunTool.
func NewExploreRunTool(engine *mcts.Engine, scripted *oracle.Scripted) *ExploreRunTool {
	return &ExploreRunTool{engine: engine, oracle: scripted}
}

// Definition returns the MCP tool definition for tt_explore_run.
func (t *ExploreRunTool) Definition() mcp.Tool {
	return mcp.NewTool("tt_explore_run",
		mcp.WithDescription(
			"Run multiple search episodes on a timeline in one call. Pre-script the "+
				"oracle with candidate batches (one per expected expansion, consumed in "+
				"order) and rewards (one per episode). Episodes whose oracle data runs "+
				"out fail softly and are skipped.",
		),
		mcp.WithString("timeline_id",
			mcp.Required(),
			mcp.Description("Timeline to explore"),
		),
		mcp.WithNumber("episodes",
			mcp.Required(),
			mcp.Description("Number of exploration episodes to run"),
		),
		mcp.WithArray("rewards",
			mcp.Description("Rewards in [0, 1], consumed one per simulation"),
		),
		mcp.WithArray("batches",
			mcp.Description("Candidate batches: array of arrays of {content, prior} objects"),
		),
	)
}

// Handle processes the tt_explore_run tool call.
func (t *ExploreRunTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	timelineID := req.GetString("timeline_id", "")
	if timelineID == "" {
		return mcp.NewToolResultError("'timeline_id' is required"), nil
	}
	episodes := intArg(req, "episodes", 0)
	if episodes <= 0 {
		return mcp.NewToolResultError("'episodes' must be a positive number"), nil
	}

	if rewards, ok := rewardsArg(req, "rewards"); ok {
		for _, r := range rewards {
			t.oracle.PushReward(r)
		}
	}
	if rawBatches, ok := req.GetArguments()["batches"].([]any); ok {
		for _, rawBatch := range rawBatches {
			items, ok := rawBatch.([]any)
			if !ok {
				return mcp.NewToolResultError("'batches' must be an array of candidate arrays"), nil
			}
			batch := make([]oracle.Continuation, 0, len(items))
			for _, item := range items {
				obj, ok := item.(map[string]any)
				if !ok {
					return mcp.NewToolResultError("candidates must be {content, prior} objects"), nil
				}
				c := oracle.Continuation{}
				if content, ok := obj["content"].(string); ok {
					c.Content = content
				}
				if prior, ok := obj["prior"].(float64); ok {
					c.Prior = prior
				}
				batch = append(batch, c)
			}
			t.oracle.PushContinuations(batch)
		}
	}

	completed, err := t.engine.Explore(ctx, timelineID, episodes)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("exploration failed: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Completed %d of %d episodes", completed, episodes)), nil
}

// ─── TimelineStatusTool ─────────────────────────────────────────────────────

// TimelineStatusTool handles the tt_timeline_status MCP tool.
type TimelineStatusTool struct {
	store  *store.Store
	engine *mcts.Engine
}

// NewTimelineStatusTool creates a TimelineStatusTool.
func NewTimelineStatusTool(st *store.Store, engine *mcts.Engine) *TimelineStatusTool {
	return &TimelineStatusTool{store: st, engine: engine}
}

// Definition returns the MCP tool definition for tt_timeline_status.
func (t *TimelineStatusTool) Definition() mcp.Tool {
	return mcp.NewTool("tt_timeline_status",
		mcp.WithDescription(
			"Inspect a timeline: its metadata, every search node with visit counts "+
				"and values, and the engine's aggregate counters.",
		),
		mcp.WithString("timeline_id",
			mcp.Required(),
			mcp.Description("Timeline to inspect"),
		),
	)
}

// timelineStatus is the structured tt_timeline_status response.
type timelineStatus struct {
	Timeline *store.Timeline    `json:"timeline"`
	Nodes    []store.SearchNode `json:"nodes"`
	Metrics  mcts.Snapshot      `json:"metrics"`
}

// Handle processes the tt_timeline_status tool call.
func (t *TimelineStatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	timelineID := req.GetString("timeline_id", "")
	if timelineID == "" {
		return mcp.NewToolResultError("'timeline_id' is required"), nil
	}

	tl, err := t.store.GetTimeline(timelineID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load timeline: %v", err)), nil
	}
	nodes, err := t.store.TimelineSearchNodes(timelineID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load search nodes: %v", err)), nil
	}

	return jsonResult(timelineStatus{
		Timeline: tl,
		Nodes:    nodes,
		Metrics:  t.engine.Metrics(),
	}), nil
}
