package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/calebrosier/timetree/internal/counterfactual"
	"github.com/calebrosier/timetree/internal/oracle"
	"github.com/calebrosier/timetree/internal/store"
)

// CounterfactualTool handles the tt_counterfactual_analyze MCP tool.
// Like tt_explore_step, the client acts as the oracle: the request
// carries the regenerated candidates and the reward samples for both
// sides of the comparison.
type CounterfactualTool struct {
	analyzer *counterfactual.Analyzer
	oracle   *oracle.Scripted
}

// NewCounterfactualTool creates a CounterfactualTool.
func NewCounterfactualTool(a *counterfactual.Analyzer, scripted *oracle.Scripted) *CounterfactualTool {
	return &CounterfactualTool{analyzer: a, oracle: scripted}
}

// Definition returns the MCP tool definition for tt_counterfactual_analyze.
func (t *CounterfactualTool) Definition() mcp.Tool {
	return mcp.NewTool("tt_counterfactual_analyze",
		mcp.WithDescription(
			"Run a what-if probe: clone the thought prefix of a branch, alter one "+
				"thought on it, and compare outcomes. Supply candidates continuing the "+
				"altered prefix and reward samples — original-path samples first, then "+
				"counterfactual-path samples (one each per configured sample count). "+
				"Returns the outcome delta, causal attribution, and confidence.",
		),
		mcp.WithString("original_branch_id",
			mcp.Required(),
			mcp.Description("Leaf branch whose path is probed"),
		),
		mcp.WithString("target_branch_id",
			mcp.Required(),
			mcp.Description("Thought on the path to intervene on"),
		),
		mcp.WithString("intervention_type",
			mcp.Required(),
			mcp.Description("How to alter the target thought"),
			mcp.Enum("change", "remove", "replace", "inject"),
		),
		mcp.WithString("payload",
			mcp.Description("Replacement or injected thought content (unused for remove)"),
		),
		mcp.WithArray("candidates",
			mcp.Description("Candidate continuations of the altered prefix as {content, prior} objects"),
		),
		mcp.WithArray("rewards",
			mcp.Description("Reward samples in [0, 1]: original-path samples first, then counterfactual"),
		),
	)
}

// Handle processes the tt_counterfactual_analyze tool call.
func (t *CounterfactualTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	originalID := req.GetString("original_branch_id", "")
	targetID := req.GetString("target_branch_id", "")
	if originalID == "" {
		return mcp.NewToolResultError("'original_branch_id' is required"), nil
	}
	if targetID == "" {
		return mcp.NewToolResultError("'target_branch_id' is required"), nil
	}

	if conts, ok := continuationsArg(req, "candidates"); ok {
		t.oracle.PushContinuations(conts)
	}
	if rewards, ok := rewardsArg(req, "rewards"); ok {
		for _, r := range rewards {
			t.oracle.PushReward(r)
		}
	}

	analysis, err := t.analyzer.Analyze(ctx, originalID, targetID, counterfactual.Intervention{
		Type:    store.InterventionType(req.GetString("intervention_type", "")),
		Payload: req.GetString("payload", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("analysis failed: %v", err)), nil
	}

	return jsonResult(analysis), nil
}
