// Package server wires all MCP components and creates the server instance.
//
// This is the composition root: it creates concrete implementations and
// injects them into the tools/prompts/resources that depend on them. No
// business logic lives here — only wiring.
package server

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/calebrosier/timetree/internal/counterfactual"
	"github.com/calebrosier/timetree/internal/mcts"
	"github.com/calebrosier/timetree/internal/oracle"
	"github.com/calebrosier/timetree/internal/prompts"
	"github.com/calebrosier/timetree/internal/resources"
	"github.com/calebrosier/timetree/internal/snapshot"
	"github.com/calebrosier/timetree/internal/store"
	"github.com/calebrosier/timetree/internal/tools"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates and configures the MCP server with all tools, prompts,
// and resources registered. This is the single place where all
// dependencies are resolved.
//
// The returned cleanup function closes the store's database connection
// and must be called on shutdown (typically via defer).
func New() (*server.MCPServer, func(), error) {
	// Logs must stay off stdout: it belongs to the MCP stdio transport.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// --- Create shared dependencies ---

	st, err := store.New(store.DefaultConfig())
	if err != nil {
		return nil, func() {}, fmt.Errorf("opening store: %w", err)
	}
	cleanup := func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("store close")
		}
	}

	snapshots := snapshot.New(st)

	// One scripted oracle shared by the engine and the analyzer: the
	// client supplies candidates and rewards through the explore and
	// analyze tool requests.
	scripted := oracle.NewScripted()
	engine := mcts.NewEngine(st, scripted)
	analyzer := counterfactual.New(st, scripted)

	// --- Create the MCP server ---

	s := server.NewMCPServer(
		"timetree",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	// --- Register session tools ---

	sessionStart := tools.NewSessionStartTool(st)
	s.AddTool(sessionStart.Definition(), sessionStart.Handle)

	sessionEnd := tools.NewSessionEndTool(st)
	s.AddTool(sessionEnd.Definition(), sessionEnd.Handle)

	statsTool := tools.NewStatsTool(st)
	s.AddTool(statsTool.Definition(), statsTool.Handle)

	// --- Register branch tools ---

	branchCreate := tools.NewBranchCreateTool(st)
	s.AddTool(branchCreate.Definition(), branchCreate.Handle)

	branchTransition := tools.NewBranchTransitionTool(st)
	s.AddTool(branchTransition.Definition(), branchTransition.Handle)

	branchPath := tools.NewBranchPathTool(st)
	s.AddTool(branchPath.Definition(), branchPath.Handle)

	crossRef := tools.NewCrossRefTool(st)
	s.AddTool(crossRef.Definition(), crossRef.Handle)

	// --- Register checkpoint and snapshot tools ---

	checkpointCreate := tools.NewCheckpointCreateTool(snapshots)
	s.AddTool(checkpointCreate.Definition(), checkpointCreate.Handle)

	checkpointRestore := tools.NewCheckpointRestoreTool(snapshots)
	s.AddTool(checkpointRestore.Definition(), checkpointRestore.Handle)

	snapshotCreate := tools.NewSnapshotCreateTool(snapshots)
	s.AddTool(snapshotCreate.Definition(), snapshotCreate.Handle)

	snapshotResolve := tools.NewSnapshotResolveTool(snapshots)
	s.AddTool(snapshotResolve.Definition(), snapshotResolve.Handle)

	snapshotRestore := tools.NewSnapshotRestoreTool(snapshots)
	s.AddTool(snapshotRestore.Definition(), snapshotRestore.Handle)

	// --- Register exploration tools ---

	timelineStart := tools.NewTimelineStartTool(st)
	s.AddTool(timelineStart.Definition(), timelineStart.Handle)

	exploreStep := tools.NewExploreStepTool(engine, scripted)
	s.AddTool(exploreStep.Definition(), exploreStep.Handle)

	exploreRun := tools.NewExploreRunTool(engine, scripted)
	s.AddTool(exploreRun.Definition(), exploreRun.Handle)

	timelineStatus := tools.NewTimelineStatusTool(st, engine)
	s.AddTool(timelineStatus.Definition(), timelineStatus.Handle)

	// --- Register analysis tools ---

	analyze := tools.NewCounterfactualTool(analyzer, scripted)
	s.AddTool(analyze.Definition(), analyze.Handle)

	// --- Register prompts ---

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	// --- Register resources ---

	resourceHandler := resources.NewHandler(st)
	s.AddResourceTemplate(resourceHandler.StatsTemplate(), resourceHandler.HandleStats)

	return s, cleanup, nil
}

// serverInstructions returns the system instructions that tell the AI
// how to use timetree effectively.
func serverInstructions() string {
	return `You have access to timetree, a branching time-travel reasoning MCP server.

## What timetree does

timetree lets you reason in a TREE instead of a line. Thoughts become
branches; branches fork, get scored, get abandoned, and can be revisited.
You can checkpoint a reasoning state, travel back to it without losing
anything, and run counterfactual probes ("what if I had thought X
instead of Y at step 3?").

## Core workflow

1. tt_session_start — open a session before anything else
2. tt_branch_create — record each thought as a branch; pass parent_id to
   continue a line, omit it to start a fresh root
3. tt_branch_transition — complete or abandon lines of thought; terminal
   states are final
4. tt_cross_ref_add — link related branches (supports, contradicts,
   extends, refines, merges)
5. tt_session_end when done; tt_stats any time for an overview

## Checkpoints and snapshots

- tt_checkpoint_create saves a named restore target anchored on a branch.
- tt_checkpoint_restore travels back: it forks a NEW active branch with
  the saved payload. Nothing is deleted or overwritten — abandoned work
  stays inspectable.
- tt_snapshot_create records full or incremental state snapshots;
  incremental payloads are JSON object diffs against their parent
  (null deletes a key). tt_snapshot_resolve materializes the chained
  state; tt_snapshot_restore forks a branch from it.

## Guided search (you are the oracle)

tt_timeline_start opens a search timeline over a root thought. Then you
drive Monte-Carlo exploration where YOU supply the content:

1. Call tt_explore_step with candidate continuations ({content, prior})
   and a reward in [0, 1] scoring the current best path
2. The engine selects where to search (UCB1), expands your candidates
   into real branches, and backpropagates your reward
3. Call tt_timeline_status to see visit counts and values per node
4. Repeat — over many steps the statistics concentrate on strong lines

Generate REAL candidate thoughts, not placeholders, and score honestly:
the search quality is only as good as your rewards.

## Counterfactual analysis

tt_counterfactual_analyze answers "did thought X actually matter?":
pick a leaf branch and a thought on its path, choose an intervention
(change / remove / replace / inject), supply candidates continuing the
altered prefix, and reward samples for both paths (original first).
The result gives the outcome delta, a causal attribution in [0, 1],
and a confidence that shrinks with sample variance.

## Rules

- Always start with tt_session_start — every record needs a session
- Never expect a terminal branch to become active again
- Rewards must stay in [0, 1]; out-of-range rewards fail the step
- Restores create NEW branches; use tt_branch_path to read any branch's
  full line of thought`
}
