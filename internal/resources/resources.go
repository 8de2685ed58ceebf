// Package resources implements MCP resource handlers for the
// time-travel reasoning server.
//
// Resources provide read-only data that the host can consume for
// context. They use URI-based addressing (timetree://...) following MCP
// conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/calebrosier/timetree/internal/store"
)

// Handler manages the server's resource endpoints.
type Handler struct {
	store *store.Store
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(st *store.Store) *Handler {
	return &Handler{store: st}
}

// StatsTemplate returns the templated resource definition for
// per-session statistics.
func (h *Handler) StatsTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(
		"timetree://sessions/{session_id}/stats",
		"Session statistics",
		mcp.WithTemplateDescription("Aggregate record counts and timeline summaries for one session"),
		mcp.WithTemplateMIMEType("application/json"),
	)
}

// sessionStats is the resource payload: aggregate counts plus the
// session's timelines.
type sessionStats struct {
	Session   *store.Session   `json:"session"`
	Stats     *store.Stats     `json:"stats"`
	Timelines []store.Timeline `json:"timelines"`
}

// HandleStats serves timetree://sessions/{session_id}/stats.
func (h *Handler) HandleStats(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	sessionID := sessionIDFromURI(req.Params.URI)
	if sessionID == "" {
		return errorResource(req.Params.URI, "session ID missing from URI"), nil
	}

	sess, err := h.store.GetSession(sessionID)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	stats, err := h.store.SessionStats(sessionID)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	timelines, err := h.store.SessionTimelines(sessionID)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}

	data, err := json.MarshalIndent(sessionStats{
		Session:   sess,
		Stats:     stats,
		Timelines: timelines,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling stats: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// sessionIDFromURI extracts the session ID from a
// timetree://sessions/<id>/stats URI.
func sessionIDFromURI(uri string) string {
	rest, ok := strings.CutPrefix(uri, "timetree://sessions/")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, "/")
	return id
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
