// Package prompts implements MCP prompt handlers for the time-travel
// reasoning server.
package prompts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the tt-status MCP prompt.
// It instructs the AI to inspect and present the current search state.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("tt-status",
		mcp.WithPromptDescription(
			"Review the state of a reasoning session: branch counts, active "+
				"timelines, search-tree statistics, and promising lines of thought.",
		),
		mcp.WithArgument("session_id",
			mcp.ArgumentDescription("Session to review"),
			mcp.RequiredArgument(),
		),
	)
}

// Handle processes the tt-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	sessionID := req.Params.Arguments["session_id"]
	return &mcp.GetPromptResult{
		Description: "Reasoning session status",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Please run `tt_stats` for session \"" + sessionID + "\".\n\n" +
						"Then:\n" +
						"1. Summarize the session: branches, timelines, checkpoints, analyses\n" +
						"2. For each timeline, run `tt_timeline_status` and highlight the highest-value nodes\n" +
						"3. Point out abandoned or low-scoring branches worth a counterfactual probe\n" +
						"4. Suggest the next exploration step",
				),
			},
		},
	}, nil
}
