package mcts

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBestChild_UnvisitedFirst(t *testing.T) {
	parent := &node{visits: 3}
	visited := &node{parent: parent, visits: 3, rewards: 2.4} // mean 0.8, a strong child
	fresh := &node{parent: parent}
	parent.children = []*node{visited, fresh}

	got := parent.bestChild(math.Sqrt2)
	require.Same(t, fresh, got, "an unvisited child must be selected before any re-visit")
}

func TestBestChild_HigherValueWins(t *testing.T) {
	parent := &node{visits: 20}
	low := &node{parent: parent, visits: 10, rewards: 2.0}
	high := &node{parent: parent, visits: 10, rewards: 8.0}
	parent.children = []*node{low, high}

	got := parent.bestChild(math.Sqrt2)
	require.Same(t, high, got, "with equal visit counts the higher-value child must win")
}

func TestBestChild_ExplorationTermFavorsUndersampled(t *testing.T) {
	// With a large exploration constant the rarely visited child
	// outscores a slightly better but heavily visited sibling.
	parent := &node{visits: 1000}
	exploited := &node{parent: parent, visits: 900, rewards: 540} // mean 0.60
	rare := &node{parent: parent, visits: 10, rewards: 5}         // mean 0.50
	parent.children = []*node{exploited, rare}

	require.Same(t, rare, parent.bestChild(2.0),
		"a large exploration constant must pull selection toward undersampled children")
}

func TestUCB1_ZeroVisitsIsUnbounded(t *testing.T) {
	require.True(t, math.IsInf(ucb1(0, 0, 1.5), 1))
}

func TestVirtualLoss_Lifecycle(t *testing.T) {
	n := &node{}

	n.applyLoss()
	visits, rewards := n.stats()
	require.Equal(t, 1, visits, "virtual loss counts as a visit")
	require.Zero(t, rewards, "virtual loss carries no reward")

	n.reverseLoss()
	visits, rewards = n.stats()
	require.Zero(t, visits, "reversed loss must leave no trace")
	require.Zero(t, rewards)
}

func TestBackup_ConvertsLossIntoRealVisit(t *testing.T) {
	n := &node{}
	n.applyLoss()

	visits, rewards := n.backup(0.7)
	require.Equal(t, 1, visits)
	require.InDelta(t, 0.7, rewards, 1e-12)
	require.InDelta(t, 0.7, n.mean(), 1e-12)
}

func TestTryReserveExpansion_SingleClaim(t *testing.T) {
	n := &node{depth: 3}

	depth, ok := n.tryReserveExpansion()
	require.True(t, ok)
	require.Equal(t, 3, depth, "the claim reports the depth read under the lock")

	_, ok = n.tryReserveExpansion()
	require.False(t, ok, "a second claim must lose while the first is in flight")

	n.releaseExpansion()
	_, ok = n.tryReserveExpansion()
	require.True(t, ok, "a released claim is reclaimable")

	n.markExpanded(false)
	_, ok = n.tryReserveExpansion()
	require.False(t, ok, "an expanded node is never claimed again")
}

func TestIsFrontier(t *testing.T) {
	n := &node{}
	require.True(t, n.isFrontier(), "unexpanded nodes are frontier")

	child := &node{parent: n}
	n.children = []*node{child}
	n.expanded = true
	require.False(t, n.isFrontier(), "expanded interior nodes are not frontier")

	n.terminal = true
	require.True(t, n.isFrontier(), "terminal nodes are always frontier")
}
