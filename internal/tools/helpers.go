// Package tools provides MCP tool handlers for the time-travel
// reasoning server.
//
// Each tool handler follows the same pattern:
// - A struct with dependencies (store, engine, …) injected via constructor
// - Definition() returns the mcp.Tool schema
// - Handle() processes the request and returns a result
//
// Handlers never panic on bad input: validation failures come back as
// tool-result errors so the client can correct the call.
package tools

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/calebrosier/timetree/internal/oracle"
)

// intArg extracts an integer argument from a tool request, returning
// defaultVal if the key is missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// floatArg extracts a float argument from a tool request.
func floatArg(req mcp.CallToolRequest, key string, defaultVal float64) float64 {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return v
}

// optionalString returns a pointer to the named string argument, or nil
// when it is missing or empty.
func optionalString(req mcp.CallToolRequest, key string) *string {
	v := req.GetString(key, "")
	if v == "" {
		return nil
	}
	return &v
}

// continuationsArg decodes an array of {content, prior} objects from a
// tool request argument.
func continuationsArg(req mcp.CallToolRequest, key string) ([]oracle.Continuation, bool) {
	raw, ok := req.GetArguments()[key].([]any)
	if !ok {
		return nil, false
	}
	conts := make([]oracle.Continuation, 0, len(raw))
	for _, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		c := oracle.Continuation{}
		if content, ok := obj["content"].(string); ok {
			c.Content = content
		}
		if prior, ok := obj["prior"].(float64); ok {
			c.Prior = prior
		}
		conts = append(conts, c)
	}
	return conts, true
}

// rewardsArg decodes an array of numbers from a tool request argument.
func rewardsArg(req mcp.CallToolRequest, key string) ([]float64, bool) {
	raw, ok := req.GetArguments()[key].([]any)
	if !ok {
		return nil, false
	}
	rewards := make([]float64, 0, len(raw))
	for _, item := range raw {
		r, ok := item.(float64)
		if !ok {
			return nil, false
		}
		rewards = append(rewards, r)
	}
	return rewards, true
}

// jsonResult marshals a value as an indented JSON tool result.
func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}
