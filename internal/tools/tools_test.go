package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/calebrosier/timetree/internal/counterfactual"
	"github.com/calebrosier/timetree/internal/mcts"
	"github.com/calebrosier/timetree/internal/oracle"
	"github.com/calebrosier/timetree/internal/snapshot"
	"github.com/calebrosier/timetree/internal/store"
)

// ─── Test helpers ────────────────────────────────────────────────────────────

type deps struct {
	store     *store.Store
	snapshots *snapshot.Service
	oracle    *oracle.Scripted
	engine    *mcts.Engine
	analyzer  *counterfactual.Analyzer
}

func newTestDeps(t *testing.T) *deps {
	t.Helper()
	st, err := store.New(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.CreateSession("sess-1", "tree"); err != nil {
		t.Fatal(err)
	}

	scripted := oracle.NewScripted()
	return &deps{
		store:     st,
		snapshots: snapshot.New(st),
		oracle:    scripted,
		engine:    mcts.NewEngine(st, scripted),
		analyzer:  counterfactual.New(st, scripted),
	}
}

// makeReq builds a mcp.CallToolRequest with the given arguments.
func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultText extracts the text content from a tool result.
func resultText(r *mcp.CallToolResult) string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// ─── Definitions ─────────────────────────────────────────────────────────────

func TestDefinitions_RequiredParams(t *testing.T) {
	d := newTestDeps(t)
	cases := []struct {
		def      mcp.Tool
		name     string
		required []string
	}{
		{NewSessionStartTool(d.store).Definition(), "tt_session_start", []string{"id"}},
		{NewBranchCreateTool(d.store).Definition(), "tt_branch_create", []string{"session_id"}},
		{NewBranchTransitionTool(d.store).Definition(), "tt_branch_transition", []string{"branch_id", "state"}},
		{NewCheckpointCreateTool(d.snapshots).Definition(), "tt_checkpoint_create", []string{"session_id", "name", "payload"}},
		{NewSnapshotCreateTool(d.snapshots).Definition(), "tt_snapshot_create", []string{"session_id", "kind", "payload"}},
		{NewExploreStepTool(d.engine, d.oracle).Definition(), "tt_explore_step", []string{"timeline_id", "reward"}},
		{NewCounterfactualTool(d.analyzer, d.oracle).Definition(), "tt_counterfactual_analyze",
			[]string{"original_branch_id", "target_branch_id", "intervention_type"}},
	}
	for _, tc := range cases {
		if tc.def.Name != tc.name {
			t.Errorf("tool name = %q, want %q", tc.def.Name, tc.name)
		}
		for _, want := range tc.required {
			found := false
			for _, r := range tc.def.InputSchema.Required {
				if r == want {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("%s: parameter %q not marked required", tc.name, want)
			}
		}
	}
}

// ─── Handlers ────────────────────────────────────────────────────────────────

func TestBranchCreateTool_Handle(t *testing.T) {
	d := newTestDeps(t)
	tool := NewBranchCreateTool(d.store)

	res, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"session_id": "sess-1",
		"content":    "first thought",
		"priority":   0.7,
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", resultText(res))
	}

	var b store.Branch
	if err := json.Unmarshal([]byte(resultText(res)), &b); err != nil {
		t.Fatalf("result is not a branch JSON: %v", err)
	}
	if b.Content != "first thought" || b.State != store.BranchActive {
		t.Errorf("unexpected branch: %+v", b)
	}
}

func TestBranchCreateTool_MissingSession(t *testing.T) {
	d := newTestDeps(t)
	tool := NewBranchCreateTool(d.store)

	res, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected a tool error for missing session_id")
	}
}

func TestBranchTransitionTool_TerminalIsFinal(t *testing.T) {
	d := newTestDeps(t)
	b, err := d.store.CreateBranch(store.CreateBranchParams{SessionID: "sess-1"})
	if err != nil {
		t.Fatal(err)
	}
	tool := NewBranchTransitionTool(d.store)

	res, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"branch_id": b.ID, "state": "completed",
	}))
	if res.IsError {
		t.Fatalf("first transition failed: %s", resultText(res))
	}

	res, _ = tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"branch_id": b.ID, "state": "abandoned",
	}))
	if !res.IsError {
		t.Fatal("expected a tool error transitioning out of a terminal state")
	}
}

func TestExploreStepTool_DrivesOneEpisode(t *testing.T) {
	d := newTestDeps(t)
	root, err := d.store.CreateBranch(store.CreateBranchParams{SessionID: "sess-1", Content: "premise"})
	if err != nil {
		t.Fatal(err)
	}
	tl, err := d.store.CreateTimeline("sess-1", root.ID)
	if err != nil {
		t.Fatal(err)
	}
	tool := NewExploreStepTool(d.engine, d.oracle)

	res, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"timeline_id": tl.ID,
		"reward":      0.8,
		"candidates": []interface{}{
			map[string]interface{}{"content": "alt-a", "prior": 0.5},
			map[string]interface{}{"content": "alt-b", "prior": 0.5},
		},
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", resultText(res))
	}

	var step mcts.StepResult
	if err := json.Unmarshal([]byte(resultText(res)), &step); err != nil {
		t.Fatalf("result is not a step JSON: %v", err)
	}
	if step.Expanded != 2 {
		t.Errorf("expanded = %d, want 2", step.Expanded)
	}
	if step.SimulatedBranch == root.ID {
		t.Error("simulation should have landed on a freshly expanded child")
	}
}

func TestSnapshotTools_RoundTrip(t *testing.T) {
	d := newTestDeps(t)
	create := NewSnapshotCreateTool(d.snapshots)
	resolve := NewSnapshotResolveTool(d.snapshots)

	res, _ := create.Handle(context.Background(), makeReq(map[string]interface{}{
		"session_id": "sess-1", "kind": "full", "payload": `{"a":1}`,
	}))
	if res.IsError {
		t.Fatalf("full snapshot: %s", resultText(res))
	}
	var full store.StateSnapshot
	if err := json.Unmarshal([]byte(resultText(res)), &full); err != nil {
		t.Fatal(err)
	}

	res, _ = create.Handle(context.Background(), makeReq(map[string]interface{}{
		"session_id": "sess-1", "kind": "incremental", "payload": `{"b":2}`, "parent_id": full.ID,
	}))
	if res.IsError {
		t.Fatalf("incremental snapshot: %s", resultText(res))
	}
	var inc store.StateSnapshot
	if err := json.Unmarshal([]byte(resultText(res)), &inc); err != nil {
		t.Fatal(err)
	}

	res, _ = resolve.Handle(context.Background(), makeReq(map[string]interface{}{
		"snapshot_id": inc.ID,
	}))
	if res.IsError {
		t.Fatalf("resolve: %s", resultText(res))
	}
	if got := resultText(res); got != `{"a":1,"b":2}` {
		t.Errorf("resolved = %q, want merged object", got)
	}
}

func TestStatsTool_UnknownSession(t *testing.T) {
	d := newTestDeps(t)
	tool := NewStatsTool(d.store)

	res, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"session_id": "nope",
	}))
	if !res.IsError {
		t.Fatal("expected a tool error for an unknown session")
	}
	if !strings.Contains(resultText(res), "not found") {
		t.Errorf("error should mention not found, got %q", resultText(res))
	}
}
