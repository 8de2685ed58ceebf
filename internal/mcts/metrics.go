package mcts

import "sync/atomic"

// Snapshot is a point-in-time view of the engine's counters.
type Snapshot struct {
	Episodes   int64 `json:"episodes"`
	Expansions int64 `json:"expansions"`
	Failures   int64 `json:"failures"`
}

// Collector accumulates engine counters with atomic updates so
// concurrent episodes never contend on a lock.
type Collector struct {
	episodes   atomic.Int64
	expansions atomic.Int64
	failures   atomic.Int64
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// AddEpisode counts one completed exploration step.
func (c *Collector) AddEpisode() {
	c.episodes.Add(1)
}

// AddExpansion counts one materialized search-tree child.
func (c *Collector) AddExpansion() {
	c.expansions.Add(1)
}

// AddFailure counts one step aborted by an oracle failure.
func (c *Collector) AddFailure() {
	c.failures.Add(1)
}

// Snapshot returns the current counter values.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Episodes:   c.episodes.Load(),
		Expansions: c.expansions.Load(),
		Failures:   c.failures.Load(),
	}
}
