// Package oracle defines the abstract contract for the external
// content-generation model: candidate continuations for expansion and
// scalar rewards for simulation.
//
// The engine treats every oracle call as blocking, cancellable, and
// time-bounded. Failures are soft: a Timeout or Malformed result aborts
// the in-flight step without mutating the tree, and the caller may
// retry the same step.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Continuation is one candidate thought produced for expansion,
// optionally with a prior supplied by the model.
type Continuation struct {
	Content string  `json:"content"`
	Prior   float64 `json:"prior,omitempty"`
}

// Oracle produces thought continuations and reward signals for a
// thought prefix (ordered root-to-leaf thought contents).
type Oracle interface {
	// GenerateContinuations returns up to n candidate continuations of
	// the prefix.
	GenerateContinuations(ctx context.Context, prefix []string, n int) ([]Continuation, error)

	// Evaluate returns a reward for the prefix in a known bounded
	// range (policy-defined, [0,1] by default).
	Evaluate(ctx context.Context, prefix []string) (float64, error)
}

// Soft failure modes of the oracle contract.
var (
	ErrTimeout   = errors.New("oracle timeout")
	ErrMalformed = errors.New("oracle returned malformed response")
)

// ─── Timeout wrapper ─────────────────────────────────────────────────────────

type timed struct {
	inner   Oracle
	timeout time.Duration
}

// WithTimeout wraps an oracle with a per-call deadline. An expired
// deadline surfaces as ErrTimeout.
func WithTimeout(o Oracle, d time.Duration) Oracle {
	if d <= 0 {
		return o
	}
	return &timed{inner: o, timeout: d}
}

func (t *timed) GenerateContinuations(ctx context.Context, prefix []string, n int) ([]Continuation, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	conts, err := t.inner.GenerateContinuations(ctx, prefix, n)
	return conts, translateDeadline(ctx, err)
}

func (t *timed) Evaluate(ctx context.Context, prefix []string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	reward, err := t.inner.Evaluate(ctx, prefix)
	return reward, translateDeadline(ctx, err)
}

func translateDeadline(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

// ─── Scripted oracle ─────────────────────────────────────────────────────────

// Scripted replays pre-supplied continuations and rewards in FIFO
// order. The MCP tool surface uses it to let the client act as the
// model: each explore_step request pushes its candidates and reward
// before driving one engine step. Tests use it the same way.
type Scripted struct {
	mu      sync.Mutex
	conts   [][]Continuation
	rewards []float64
}

// NewScripted creates an empty scripted oracle.
func NewScripted() *Scripted {
	return &Scripted{}
}

// PushContinuations queues one batch of candidates for the next
// GenerateContinuations call.
func (s *Scripted) PushContinuations(batch []Continuation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conts = append(s.conts, batch)
}

// PushReward queues one reward for the next Evaluate call.
func (s *Scripted) PushReward(r float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rewards = append(s.rewards, r)
}

// GenerateContinuations pops the next scripted batch, or fails with
// ErrMalformed when nothing is queued.
func (s *Scripted) GenerateContinuations(ctx context.Context, prefix []string, n int) ([]Continuation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conts) == 0 {
		return nil, fmt.Errorf("%w: no scripted continuations", ErrMalformed)
	}
	batch := s.conts[0]
	s.conts = s.conts[1:]
	if n > 0 && len(batch) > n {
		batch = batch[:n]
	}
	return batch, nil
}

// Evaluate pops the next scripted reward, or fails with ErrMalformed
// when nothing is queued.
func (s *Scripted) Evaluate(ctx context.Context, prefix []string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rewards) == 0 {
		return 0, fmt.Errorf("%w: no scripted reward", ErrMalformed)
	}
	r := s.rewards[0]
	s.rewards = s.rewards[1:]
	return r, nil
}
