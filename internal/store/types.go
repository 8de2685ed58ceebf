package store

import "fmt"

// ─── Branch state enum ───────────────────────────────────────────────────────

// BranchState tracks the lifecycle of a reasoning branch.
// Transitions are one-directional: once a branch leaves "active" it
// never becomes active again (history is append-only).
type BranchState string

const (
	BranchActive    BranchState = "active"
	BranchCompleted BranchState = "completed"
	BranchAbandoned BranchState = "abandoned"
)

// validBranchStates is the set of allowed branch states.
var validBranchStates = map[BranchState]bool{
	BranchActive:    true,
	BranchCompleted: true,
	BranchAbandoned: true,
}

// ValidateBranchState returns an error if the state is not recognized.
func ValidateBranchState(s BranchState) error {
	if !validBranchStates[s] {
		return fmt.Errorf("%w: invalid branch state %q: must be one of: active, completed, abandoned", ErrValidation, s)
	}
	return nil
}

// ─── Cross-reference kind enum ───────────────────────────────────────────────

// CrossRefKind categorizes the directed relation between two branches.
type CrossRefKind string

const (
	RefSupports    CrossRefKind = "supports"
	RefContradicts CrossRefKind = "contradicts"
	RefExtends     CrossRefKind = "extends"
	RefRefines     CrossRefKind = "refines"
	RefMerges      CrossRefKind = "merges"
)

var validRefKinds = map[CrossRefKind]bool{
	RefSupports:    true,
	RefContradicts: true,
	RefExtends:     true,
	RefRefines:     true,
	RefMerges:      true,
}

// ValidateRefKind returns an error if the kind is not recognized.
func ValidateRefKind(k CrossRefKind) error {
	if !validRefKinds[k] {
		return fmt.Errorf("%w: invalid cross-ref kind %q", ErrValidation, k)
	}
	return nil
}

// ─── Snapshot kind enum ──────────────────────────────────────────────────────

// SnapshotKind distinguishes full snapshots from incremental diffs and
// branch-scoped snapshots.
type SnapshotKind string

const (
	SnapshotFull        SnapshotKind = "full"
	SnapshotIncremental SnapshotKind = "incremental"
	SnapshotBranch      SnapshotKind = "branch"
)

var validSnapshotKinds = map[SnapshotKind]bool{
	SnapshotFull:        true,
	SnapshotIncremental: true,
	SnapshotBranch:      true,
}

// ValidateSnapshotKind returns an error if the kind is not recognized.
func ValidateSnapshotKind(k SnapshotKind) error {
	if !validSnapshotKinds[k] {
		return fmt.Errorf("%w: invalid snapshot kind %q: must be one of: full, incremental, branch", ErrValidation, k)
	}
	return nil
}

// ─── Timeline state enum ─────────────────────────────────────────────────────

// TimelineState tracks the lifecycle of a tree-mode exploration.
type TimelineState string

const (
	TimelineActive   TimelineState = "active"
	TimelineArchived TimelineState = "archived"
	TimelineMerged   TimelineState = "merged"
)

// ─── Intervention type enum ──────────────────────────────────────────────────

// InterventionType identifies how a counterfactual probe alters the
// target thought.
type InterventionType string

const (
	InterventionChange  InterventionType = "change"
	InterventionRemove  InterventionType = "remove"
	InterventionReplace InterventionType = "replace"
	InterventionInject  InterventionType = "inject"
)

var validInterventions = map[InterventionType]bool{
	InterventionChange:  true,
	InterventionRemove:  true,
	InterventionReplace: true,
	InterventionInject:  true,
}

// ValidateIntervention returns an error if the type is not recognized.
func ValidateIntervention(t InterventionType) error {
	if !validInterventions[t] {
		return fmt.Errorf("%w: invalid intervention type %q: must be one of: change, remove, replace, inject", ErrValidation, t)
	}
	return nil
}

// ─── Core records ────────────────────────────────────────────────────────────

// Session represents one reasoning run. It transitively owns every other
// record: deleting a session cascades to all of them.
type Session struct {
	ID        string  `json:"id"`
	Mode      string  `json:"mode"`
	StartedAt string  `json:"started_at"`
	EndedAt   *string `json:"ended_at,omitempty"`
}

// Branch is one path of a tree-mode exploration. Each branch carries the
// thought content of its step; BranchPath over the parent chain yields
// the thought prefix consumed downstream.
type Branch struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"session_id"`
	ParentID   *string     `json:"parent_id,omitempty"`
	TimelineID *string     `json:"timeline_id,omitempty"`
	Content    string      `json:"content"`
	Priority   float64     `json:"priority"`
	Confidence float64     `json:"confidence"`
	State      BranchState `json:"state"`
	CreatedAt  string      `json:"created_at"`
	UpdatedAt  string      `json:"updated_at"`
}

// CrossRef is a directed, immutable relation between two branches.
type CrossRef struct {
	ID        string       `json:"id"`
	FromID    string       `json:"from_id"`
	ToID      string       `json:"to_id"`
	Kind      CrossRefKind `json:"kind"`
	Strength  float64      `json:"strength"`
	CreatedAt string       `json:"created_at"`
}

// Checkpoint is a named point-in-time restore target. Immutable once
// written; restoring it materializes a new branch.
type Checkpoint struct {
	ID        string  `json:"id"`
	SessionID string  `json:"session_id"`
	BranchID  *string `json:"branch_id,omitempty"`
	Name      string  `json:"name"`
	Payload   string  `json:"payload"`
	CreatedAt string  `json:"created_at"`
}

// StateSnapshot is a general snapshot node: full, incremental (a diff
// against a parent snapshot), or branch-scoped. Snapshots form a DAG
// rooted at full snapshots.
type StateSnapshot struct {
	ID        string       `json:"id"`
	SessionID string       `json:"session_id"`
	Kind      SnapshotKind `json:"kind"`
	Payload   string       `json:"payload"`
	ParentID  *string      `json:"parent_id,omitempty"`
	CreatedAt string       `json:"created_at"`
}

// Timeline is the top-level container for one tree-mode exploration.
type Timeline struct {
	ID             string        `json:"id"`
	SessionID      string        `json:"session_id"`
	RootBranchID   string        `json:"root_branch_id"`
	ActiveBranchID string        `json:"active_branch_id"`
	BranchCount    int           `json:"branch_count"`
	MaxDepth       int           `json:"max_depth"`
	State          TimelineState `json:"state"`
	CreatedAt      string        `json:"created_at"`
	UpdatedAt      string        `json:"updated_at"`
}

// TimelineBranch is the MCTS/timeline metadata overlay on a branch.
// A branch may exist without one (e.g. created by checkpoint restore);
// the engine creates the overlay only for branches it explores.
type TimelineBranch struct {
	BranchID             string  `json:"branch_id"`
	TimelineID           string  `json:"timeline_id"`
	Depth                int     `json:"depth"`
	VisitCount           int     `json:"visit_count"`
	TotalValue           float64 `json:"total_value"`
	UCBScore             float64 `json:"ucb_score"`
	CounterfactualImpact float64 `json:"counterfactual_impact"`
	MCTSGenerated        bool    `json:"mcts_generated"`
}

// SearchNode is the durable projection of one MCTS tree node,
// 1:1-aligned with a branch when present.
type SearchNode struct {
	ID              string  `json:"id"`
	SessionID       string  `json:"session_id"`
	TimelineID      string  `json:"timeline_id"`
	BranchID        string  `json:"branch_id"`
	ParentID        *string `json:"parent_id,omitempty"`
	VisitCount      int     `json:"visit_count"`
	TotalValue      float64 `json:"total_value"`
	Prior           float64 `json:"prior"`
	UCBScore        float64 `json:"ucb_score"`
	IsExpanded      bool    `json:"is_expanded"`
	IsTerminal      bool    `json:"is_terminal"`
	SimulationDepth int     `json:"simulation_depth"`
	LastVisited     *string `json:"last_visited,omitempty"`
}

// Analysis is the persisted result of one counterfactual probe.
type Analysis struct {
	ID                   string           `json:"id"`
	SessionID            string           `json:"session_id"`
	OriginalBranchID     string           `json:"original_branch_id"`
	TargetBranchID       string           `json:"target_branch_id"`
	InterventionType     InterventionType `json:"intervention_type"`
	InterventionPayload  string           `json:"intervention_payload"`
	CounterfactualBranch string           `json:"counterfactual_branch_id"`
	OutcomeDelta         float64          `json:"outcome_delta"`
	CausalAttribution    float64          `json:"causal_attribution"`
	Confidence           float64          `json:"confidence"`
	Comparison           string           `json:"comparison"`
	CreatedAt            string           `json:"created_at"`
}

// Stats holds aggregate counts for one session.
type Stats struct {
	Branches       int `json:"branches"`
	CrossRefs      int `json:"cross_refs"`
	Checkpoints    int `json:"checkpoints"`
	StateSnapshots int `json:"state_snapshots"`
	Timelines      int `json:"timelines"`
	SearchNodes    int `json:"search_nodes"`
	Analyses       int `json:"analyses"`
}
