package mcts

import (
	"math"
	"sync"
)

// node is one live search-tree node, 1:1-aligned with a branch record.
// Stats are guarded by a per-node mutex with minimal critical sections
// (read-modify-write only), so concurrent backpropagation paths
// interleave without lost updates and without a broad tree lock.
type node struct {
	mu sync.RWMutex

	id       string // mcts_nodes row ID
	branchID string
	parent   *node
	children []*node

	prior     float64
	rewards   float64
	visits    int
	depth     int
	expanded  bool
	terminal  bool
	expanding bool
}

// ucb1 scores a child for selection. A child with zero visits has
// unbounded priority, guaranteeing every child is sampled at least once
// before re-visits.
func ucb1(rewards float64, visits int, c2LnN float64) float64 {
	if visits == 0 {
		return math.Inf(1)
	}
	return rewards/float64(visits) + math.Sqrt(c2LnN/float64(visits))
}

// score computes the node's UCB1 value given the parent-derived
// normalizer c²·ln(N).
func (n *node) score(normalizer float64) float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return ucb1(n.rewards, n.visits, normalizer)
}

// applyLoss charges a transient virtual loss: one visit with zero
// reward, discouraging concurrent selections from piling onto the same
// in-flight path. Reversed on backpropagation or on simulation failure.
func (n *node) applyLoss() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.visits++
}

// reverseLoss removes a previously applied virtual loss.
func (n *node) reverseLoss() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.visits--
}

// backup converts the in-flight virtual loss into a real visit by
// folding the simulation reward into the node. The loss already counted
// one visit with zero reward, so only the reward moves here. Returns
// the updated stats for persistence.
func (n *node) backup(reward float64) (visits int, rewards float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rewards += reward
	return n.visits, n.rewards
}

// stats returns a consistent snapshot of the node's counters.
func (n *node) stats() (visits int, rewards float64) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.visits, n.rewards
}

// mean returns the node's average reward, 0 when unvisited.
func (n *node) mean() float64 {
	visits, rewards := n.stats()
	if visits == 0 {
		return 0
	}
	return rewards / float64(visits)
}

// bestChild picks the child maximizing UCB1 under the given exploration
// constant. Returns nil for a childless node.
func (n *node) bestChild(c float64) *node {
	n.mu.RLock()
	children := n.children
	visits := n.visits
	n.mu.RUnlock()

	if len(children) == 0 {
		return nil
	}
	if visits == 0 {
		return children[0]
	}

	normalizer := c * c * math.Log(float64(visits))
	var best *node
	maxScore := math.Inf(-1)
	for _, child := range children {
		s := child.score(normalizer)
		if math.IsInf(s, 1) {
			return child
		}
		if s > maxScore {
			maxScore = s
			best = child
		}
	}
	return best
}

// attach links a fully materialized child under the node.
func (n *node) attach(child *node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.children = append(n.children, child)
}

// markExpanded flags the node once all known candidates are attached;
// terminal nodes are flagged when expansion yields no candidates.
func (n *node) markExpanded(terminal bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expanded = true
	n.terminal = terminal
	n.expanding = false
}

// tryReserveExpansion claims the node for expansion. The claim fails
// when the node is already expanded, terminal, or mid-expansion in a
// concurrent step — the caller then simulates the node as-is, so the
// same frontier never expands twice. A successful claim must end in
// markExpanded or releaseExpansion.
func (n *node) tryReserveExpansion() (depth int, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.expanded || n.terminal || n.expanding {
		return n.depth, false
	}
	n.expanding = true
	return n.depth, true
}

// releaseExpansion abandons a claim after a failed expansion.
func (n *node) releaseExpansion() {
	n.mu.Lock()
	n.expanding = false
	n.mu.Unlock()
}

// isFrontier reports whether selection should stop at this node: not
// yet fully expanded, or terminal.
func (n *node) isFrontier() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return !n.expanded || n.terminal || len(n.children) == 0
}
