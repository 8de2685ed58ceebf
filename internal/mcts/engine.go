// Package mcts implements the Monte-Carlo tree search engine over the
// branch store: UCB1 selection with virtual loss, oracle-driven
// expansion and simulation, and lock-step backpropagation into both the
// in-memory tree and the durable node/timeline-branch records.
package mcts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/calebrosier/timetree/internal/oracle"
	"github.com/calebrosier/timetree/internal/store"
)

// ErrEvaluationFailed marks an exploration step aborted because the
// oracle timed out or returned a malformed response. The tree is left
// untouched by the aborted step (no partial credit) and the caller may
// retry.
var ErrEvaluationFailed = errors.New("evaluation failed")

// Engine drives exploration steps over one or more timelines. Steps on
// the same timeline may run concurrently: node stats are guarded per
// node, and virtual losses keep concurrent selections from piling onto
// the same path.
type Engine struct {
	store  *store.Store
	oracle oracle.Oracle

	exploration      float64
	branching        int
	maxDepth         int
	promoteThreshold int
	abandonFloor     float64
	minVisits        int
	rewardMin        float64
	rewardMax        float64
	goroutines       int

	metrics *Collector

	mu    sync.Mutex
	trees map[string]*tree
}

// tree is the live search tree of one timeline.
type tree struct {
	mu       sync.Mutex // guards structure and indexes, not node stats
	root     *node
	byID     map[string]*node
	byBranch map[string]*node
}

func (t *tree) index(n *node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[n.id] = n
	t.byBranch[n.branchID] = n
}

func (t *tree) nodeForBranch(branchID string) *node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byBranch[branchID]
}

// ─── Options ─────────────────────────────────────────────────────────────────

// Option configures an Engine.
type Option func(*Engine)

// WithExploration sets the UCB1 exploration constant c.
func WithExploration(c float64) Option {
	return func(e *Engine) {
		if c > 0 {
			e.exploration = c
		}
	}
}

// WithBranching sets how many candidate continuations each expansion
// requests from the oracle.
func WithBranching(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.branching = n
		}
	}
}

// WithMaxDepth bounds the search depth; nodes at the bound are treated
// as terminal.
func WithMaxDepth(d int) Option {
	return func(e *Engine) {
		if d > 0 {
			e.maxDepth = d
		}
	}
}

// WithPromotion tunes the advisory housekeeping policy: a node with
// more than threshold visits and no improving child has its branch
// completed; a sibling whose UCB1 stays below floor after minVisits
// visits has its branch abandoned.
func WithPromotion(threshold int, floor float64, minVisits int) Option {
	return func(e *Engine) {
		if threshold > 0 {
			e.promoteThreshold = threshold
		}
		if floor > 0 {
			e.abandonFloor = floor
		}
		if minVisits > 0 {
			e.minVisits = minVisits
		}
	}
}

// WithRewardBounds sets the policy-defined reward range; rewards
// outside it are treated as malformed.
func WithRewardBounds(min, max float64) Option {
	return func(e *Engine) {
		if max > min {
			e.rewardMin = min
			e.rewardMax = max
		}
	}
}

// WithOracleTimeout bounds every oracle call; an expired deadline
// aborts the step as an evaluation failure.
func WithOracleTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.oracle = oracle.WithTimeout(e.oracle, d)
		}
	}
}

// WithGoroutines sets the worker count for Explore.
func WithGoroutines(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.goroutines = n
		}
	}
}

// NewEngine creates an engine over the given store and oracle.
func NewEngine(st *store.Store, o oracle.Oracle, options ...Option) *Engine {
	e := &Engine{ // Default values
		store:            st,
		oracle:           o,
		exploration:      math.Sqrt2,
		branching:        3,
		maxDepth:         64,
		promoteThreshold: 32,
		abandonFloor:     0.1,
		minVisits:        8,
		rewardMin:        0,
		rewardMax:        1,
		goroutines:       4,
		metrics:          NewCollector(),
		trees:            map[string]*tree{},
	}
	for _, option := range options {
		option(e)
	}
	return e
}

// Metrics returns a snapshot of the engine's counters.
func (e *Engine) Metrics() Snapshot {
	return e.metrics.Snapshot()
}

// ─── Tree materialization ────────────────────────────────────────────────────

// treeFor returns the live tree for a timeline, rebuilding it from the
// durable node rows (or seeding a root node) on first touch.
func (e *Engine) treeFor(tl *store.Timeline) (*tree, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.trees[tl.ID]; ok {
		return t, nil
	}

	t := &tree{byID: map[string]*node{}, byBranch: map[string]*node{}}

	rows, err := e.store.TimelineSearchNodes(tl.ID)
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		// Seed a root node aligned with the timeline's root branch.
		sn, err := e.store.CreateSearchNode(store.SearchNode{
			SessionID:  tl.SessionID,
			TimelineID: tl.ID,
			BranchID:   tl.RootBranchID,
		})
		if err != nil {
			return nil, err
		}
		if err := e.store.PutTimelineBranch(store.TimelineBranch{
			BranchID:   tl.RootBranchID,
			TimelineID: tl.ID,
		}); err != nil {
			return nil, err
		}
		root := &node{id: sn.ID, branchID: tl.RootBranchID}
		t.root = root
		t.byID[root.id] = root
		t.byBranch[root.branchID] = root
		e.trees[tl.ID] = t
		return t, nil
	}

	// Rows come back parent-before-child, so a single pass links the
	// whole tree.
	for _, row := range rows {
		n := &node{
			id:       row.ID,
			branchID: row.BranchID,
			prior:    row.Prior,
			rewards:  row.TotalValue,
			visits:   row.VisitCount,
			depth:    row.SimulationDepth,
			expanded: row.IsExpanded,
			terminal: row.IsTerminal,
		}
		if row.ParentID != nil {
			parent := t.byID[*row.ParentID]
			if parent == nil {
				return nil, fmt.Errorf("%w: search node %q has unknown parent", store.ErrValidation, row.ID)
			}
			n.parent = parent
			parent.children = append(parent.children, n)
		} else {
			t.root = n
		}
		t.byID[n.id] = n
		t.byBranch[n.branchID] = n
	}
	if t.root == nil {
		return nil, fmt.Errorf("%w: timeline %q has nodes but no root", store.ErrValidation, tl.ID)
	}
	e.trees[tl.ID] = t
	return t, nil
}

// ─── Exploration ─────────────────────────────────────────────────────────────

// StepResult reports what one exploration step did.
type StepResult struct {
	SimulatedBranch string  `json:"simulated_branch"`
	Reward          float64 `json:"reward"`
	Expanded        int     `json:"expanded"`
	Depth           int     `json:"depth"`
}

// Step runs one selection → expansion → simulation → backpropagation
// pass on a timeline. An oracle failure aborts the step with
// ErrEvaluationFailed and leaves the tree statistics untouched: the
// virtual losses applied during selection are reversed on every exit
// path.
func (e *Engine) Step(ctx context.Context, timelineID string) (*StepResult, error) {
	tl, err := e.store.GetTimeline(timelineID)
	if err != nil {
		return nil, err
	}
	t, err := e.treeFor(tl)
	if err != nil {
		return nil, err
	}

	// Selection starts at the timeline's active node when it is part of
	// the search tree, else at the root. The path runs from the search
	// root regardless, so backpropagation credits every ancestor and
	// the root's visit count stays an upper bound for the whole tree.
	start := t.nodeForBranch(tl.ActiveBranchID)
	if start == nil {
		start = t.root
	}

	var path []*node
	for n := start; n != nil; n = n.parent {
		path = append(path, n)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	for _, n := range path {
		n.applyLoss()
	}
	cur := start
	for !cur.isFrontier() {
		child := cur.bestChild(e.exploration)
		if child == nil {
			break
		}
		child.applyLoss()
		path = append(path, child)
		cur = child
	}

	// The virtual losses on the path are a scoped guard: reversed on
	// failure, converted into real visits by backpropagation.
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		for _, n := range path {
			n.reverseLoss()
		}
	}
	defer release()

	sim := cur
	expanded := 0

	// The expansion claim is taken under the node lock: a concurrent
	// step that loses the claim simulates the frontier node as-is
	// instead of expanding it a second time.
	if depth, ok := cur.tryReserveExpansion(); ok {
		if depth >= e.maxDepth {
			cur.markExpanded(true)
			if err := e.store.MarkSearchNodeExpanded(cur.id, true); err != nil {
				return nil, err
			}
		} else {
			children, err := e.expand(ctx, tl, t, cur, depth)
			if err != nil {
				cur.releaseExpansion()
				e.metrics.AddFailure()
				return nil, err
			}
			expanded = len(children)
			if expanded > 0 {
				sim = children[0]
				sim.applyLoss()
				path = append(path, sim)
			}
		}
	}

	prefix, err := e.thoughtPrefix(sim.branchID)
	if err != nil {
		return nil, err
	}
	reward, err := e.oracle.Evaluate(ctx, prefix)
	if err != nil {
		e.metrics.AddFailure()
		return nil, fmt.Errorf("%w: %v", ErrEvaluationFailed, err)
	}
	if math.IsNaN(reward) || reward < e.rewardMin || reward > e.rewardMax {
		e.metrics.AddFailure()
		return nil, fmt.Errorf("%w: reward %v outside [%v, %v]", ErrEvaluationFailed, reward, e.rewardMin, e.rewardMax)
	}

	// Backpropagation: every node on the path converts its virtual loss
	// into a real visit carrying the reward, then gets its UCB1 score
	// recomputed and persisted. The path is the branch-store path of
	// the simulated branch, kept in lock-step with it.
	released = true
	for i := len(path) - 1; i >= 0; i-- {
		path[i].backup(reward)
	}
	for _, n := range path {
		visits, rewards := n.stats()
		score := e.persistedScore(n)
		if err := e.store.UpdateSearchNodeStats(n.id, visits, rewards, score); err != nil {
			return nil, err
		}
		if err := e.store.UpdateTimelineBranchStats(n.branchID, visits, rewards, score); err != nil {
			return nil, err
		}
	}

	e.metrics.AddEpisode()
	e.housekeep(path)

	return &StepResult{
		SimulatedBranch: sim.branchID,
		Reward:          reward,
		Expanded:        expanded,
		Depth:           sim.depth,
	}, nil
}

// expand asks the oracle for candidate continuations and materializes
// each as a new branch + search node. Attachment is all-or-nothing per
// child: a child either exists with branch, overlay, node row, and
// in-memory link, or not at all. The caller holds the parent's
// expansion claim and passes the depth it read under the lock.
func (e *Engine) expand(ctx context.Context, tl *store.Timeline, t *tree, parent *node, depth int) ([]*node, error) {
	prefix, err := e.thoughtPrefix(parent.branchID)
	if err != nil {
		return nil, err
	}

	conts, err := e.oracle.GenerateContinuations(ctx, prefix, e.branching)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEvaluationFailed, err)
	}

	var children []*node
	for _, c := range conts {
		prior := c.Prior
		if prior == 0 {
			prior = 1.0 / float64(len(conts)) // defaulted uniform prior
		}
		b, err := e.store.CreateBranch(store.CreateBranchParams{
			SessionID:  tl.SessionID,
			ParentID:   &parent.branchID,
			TimelineID: &tl.ID,
			Content:    c.Content,
			Priority:   prior,
		})
		if err != nil {
			return children, err
		}
		if err := e.store.PutTimelineBranch(store.TimelineBranch{
			BranchID:      b.ID,
			TimelineID:    tl.ID,
			Depth:         depth + 1,
			MCTSGenerated: true,
		}); err != nil {
			return children, err
		}
		sn, err := e.store.CreateSearchNode(store.SearchNode{
			SessionID:       tl.SessionID,
			TimelineID:      tl.ID,
			BranchID:        b.ID,
			ParentID:        &parent.id,
			Prior:           prior,
			SimulationDepth: depth + 1,
		})
		if err != nil {
			return children, err
		}
		if err := e.store.BumpTimeline(tl.ID, depth+1); err != nil {
			return children, err
		}

		child := &node{
			id:       sn.ID,
			branchID: b.ID,
			parent:   parent,
			prior:    prior,
			depth:    depth + 1,
		}
		parent.attach(child)
		t.index(child)
		children = append(children, child)
		e.metrics.AddExpansion()
	}

	terminal := len(children) == 0
	parent.markExpanded(terminal)
	if err := e.store.MarkSearchNodeExpanded(parent.id, terminal); err != nil {
		return children, err
	}
	return children, nil
}

// thoughtPrefix resolves the ordered thought contents from the root to
// the given branch.
func (e *Engine) thoughtPrefix(branchID string) ([]string, error) {
	pathBranches, err := e.store.BranchPath(branchID)
	if err != nil {
		return nil, err
	}
	prefix := make([]string, 0, len(pathBranches))
	for _, b := range pathBranches {
		prefix = append(prefix, b.Content)
	}
	return prefix, nil
}

// persistedScore computes the UCB1 score stored alongside a node. The
// root (and any node whose parent has a single visit) degrades to its
// mean reward; infinities never reach the database because every
// persisted node has at least one visit.
func (e *Engine) persistedScore(n *node) float64 {
	if n.parent == nil {
		return n.mean()
	}
	parentVisits, _ := n.parent.stats()
	if parentVisits == 0 {
		return n.mean()
	}
	normalizer := e.exploration * e.exploration * math.Log(float64(parentVisits))
	visits, rewards := n.stats()
	if visits == 0 {
		return n.mean()
	}
	return ucb1(rewards, visits, normalizer)
}

// ─── Housekeeping ────────────────────────────────────────────────────────────

// housekeep applies the advisory promotion/pruning policy along a
// freshly backpropagated path. Transitions are best-effort: a failure
// is logged, never surfaced, and never blocks search.
func (e *Engine) housekeep(path []*node) {
	for _, n := range path {
		visits, _ := n.stats()
		if visits <= e.promoteThreshold {
			continue
		}

		// Promote: no child improves on the node's own average.
		improving := false
		n.mu.RLock()
		children := n.children
		n.mu.RUnlock()
		mean := n.mean()
		for _, c := range children {
			if c.mean() > mean {
				improving = true
				break
			}
		}
		if !improving && len(children) > 0 {
			if err := e.store.TransitionBranch(n.branchID, store.BranchCompleted); err != nil &&
				!errors.Is(err, store.ErrInvalidTransition) {
				log.Debug().Err(err).Str("branch", n.branchID).Msg("promotion skipped")
			}
		}

		// Abandon: siblings stuck below the UCB floor after enough
		// visits.
		normalizer := e.exploration * e.exploration * math.Log(float64(visits))
		for _, c := range children {
			cv, cr := c.stats()
			if cv < e.minVisits {
				continue
			}
			if ucb1(cr, cv, normalizer) < e.abandonFloor {
				if err := e.store.TransitionBranch(c.branchID, store.BranchAbandoned); err != nil &&
					!errors.Is(err, store.ErrInvalidTransition) {
					log.Debug().Err(err).Str("branch", c.branchID).Msg("abandonment skipped")
				}
			}
		}
	}
}

// ─── Episode runner ──────────────────────────────────────────────────────────

// Explore runs up to episodes exploration steps using the configured
// worker count. Soft failures (ErrEvaluationFailed) are counted and
// skipped; Explore only errors when not a single episode completed.
func (e *Engine) Explore(ctx context.Context, timelineID string, episodes int) (int, error) {
	if episodes <= 0 {
		return 0, fmt.Errorf("%w: episodes must be positive", store.ErrValidation)
	}

	task := make(chan struct{}, episodes)
	for i := 0; i < episodes; i++ {
		task <- struct{}{}
	}
	close(task)

	var (
		wg        sync.WaitGroup
		completed atomic.Int64
		errMu     sync.Mutex
		lastErr   error
	)
	for i := 0; i < e.goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range task {
				if ctx.Err() != nil {
					return
				}
				if _, err := e.Step(ctx, timelineID); err != nil {
					errMu.Lock()
					lastErr = err
					errMu.Unlock()
					if !errors.Is(err, ErrEvaluationFailed) {
						return
					}
					continue
				}
				completed.Add(1)
			}
		}()
	}
	wg.Wait()

	if completed.Load() == 0 && lastErr != nil {
		return 0, lastErr
	}
	return int(completed.Load()), nil
}
