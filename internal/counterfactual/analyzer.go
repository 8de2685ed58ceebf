// Package counterfactual implements "what-if" probes: clone a branch's
// thought prefix, alter one thought, let the oracle re-derive the
// continuation, and compare outcomes against the original.
package counterfactual

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"

	"github.com/calebrosier/timetree/internal/oracle"
	"github.com/calebrosier/timetree/internal/store"
)

// ErrAnalysisIncomplete marks a probe aborted by an oracle failure. No
// partial analysis is persisted; the caller may retry the same probe.
var ErrAnalysisIncomplete = errors.New("analysis incomplete")

// Intervention describes how a probe alters the target thought.
type Intervention struct {
	Type    store.InterventionType `json:"type"`
	Payload string                 `json:"payload,omitempty"`
}

// Comparison is the structured outcome record embedded in an analysis.
type Comparison struct {
	OriginalScore         float64   `json:"original_score"`
	CounterfactualScore   float64   `json:"counterfactual_score"`
	OriginalSamples       []float64 `json:"original_samples"`
	CounterfactualSamples []float64 `json:"counterfactual_samples"`
	Continuation          string    `json:"continuation"`
}

// Analyzer orchestrates branch cloning, intervention, and outcome
// comparison.
type Analyzer struct {
	store   *store.Store
	oracle  oracle.Oracle
	samples int
	rng     *rand.Rand
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithSamples sets how many rollout evaluations each side of the
// comparison collects; more samples sharpen the causal attribution.
func WithSamples(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.samples = n
		}
	}
}

// WithOracleTimeout bounds every oracle call made during a probe.
func WithOracleTimeout(d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.oracle = oracle.WithTimeout(a.oracle, d)
		}
	}
}

// New creates an Analyzer over the given store and oracle.
func New(st *store.Store, o oracle.Oracle, options ...Option) *Analyzer {
	a := &Analyzer{
		store:   st,
		oracle:  o,
		samples: 1,
		rng:     rand.New(rand.NewSource(uint64(time.Now().UnixNano()))),
	}
	for _, option := range options {
		option(a)
	}
	return a
}

// Analyze runs one counterfactual probe: the target thought must lie on
// the original branch's path; the prefix is cloned, the intervention
// applied at the cut point, the continuation regenerated, and both
// sides scored. The analysis record is only persisted once every oracle
// call has succeeded.
func (a *Analyzer) Analyze(ctx context.Context, originalBranchID, targetBranchID string, iv Intervention) (*store.Analysis, error) {
	if err := store.ValidateIntervention(iv.Type); err != nil {
		return nil, err
	}

	path, err := a.store.BranchPath(originalBranchID)
	if err != nil {
		return nil, err
	}
	targetIdx := -1
	for i, b := range path {
		if b.ID == targetBranchID {
			targetIdx = i
			break
		}
	}
	if targetIdx < 0 {
		return nil, fmt.Errorf("%w: thought %q is not on the path of branch %q",
			store.ErrNotFound, targetBranchID, originalBranchID)
	}

	original := path[len(path)-1]

	// (b)+(c): clone the prefix with the intervention applied at the
	// cut point. remove excises the target and closes the gap; inject
	// inserts the payload between the target and its successor.
	contents := make([]string, 0, targetIdx+2)
	for i := 0; i <= targetIdx; i++ {
		contents = append(contents, path[i].Content)
	}
	switch iv.Type {
	case store.InterventionChange, store.InterventionReplace:
		contents[targetIdx] = iv.Payload
	case store.InterventionRemove:
		contents = contents[:targetIdx]
	case store.InterventionInject:
		contents = append(contents, iv.Payload)
	}

	cloned, err := a.cloneChain(original.SessionID, contents)
	if err != nil {
		return nil, err
	}
	cleanup := func() {
		// Leaf-to-root so no child keeps a dangling parent.
		for i := len(cloned) - 1; i >= 0; i-- {
			if err := a.store.DeleteBranch(cloned[i].ID); err != nil {
				log.Warn().Err(err).Str("branch", cloned[i].ID).Msg("counterfactual cleanup failed")
			}
		}
	}

	// (d): regenerate the continuation on the counterfactual side, then
	// score both sides. Any oracle failure aborts the probe and removes
	// the cloned chain.
	cfPrefix := contents
	conts, err := a.oracle.GenerateContinuations(ctx, cfPrefix, 3)
	if err != nil || len(conts) == 0 {
		cleanup()
		return nil, fmt.Errorf("%w: regenerate continuation: %v", ErrAnalysisIncomplete, err)
	}
	chosen := conts[a.rng.Intn(len(conts))] // random rollout policy over candidates

	var cfLeafParent *string
	if len(cloned) > 0 {
		cfLeafParent = &cloned[len(cloned)-1].ID
	}
	cfLeaf, err := a.store.CreateBranch(store.CreateBranchParams{
		SessionID: original.SessionID,
		ParentID:  cfLeafParent,
		Content:   chosen.Content,
		Priority:  chosen.Prior,
	})
	if err != nil {
		cleanup()
		return nil, err
	}
	cloned = append(cloned, *cfLeaf)

	origPrefix := make([]string, 0, len(path))
	for _, b := range path {
		origPrefix = append(origPrefix, b.Content)
	}
	cfFull := append(append([]string{}, cfPrefix...), chosen.Content)

	origSamples, err := a.sampleRewards(ctx, origPrefix)
	if err != nil {
		cleanup()
		return nil, err
	}
	cfSamples, err := a.sampleRewards(ctx, cfFull)
	if err != nil {
		cleanup()
		return nil, err
	}

	// (e): outcome delta and variance-based causal attribution.
	origScore := mean(origSamples)
	cfScore := mean(cfSamples)
	delta := cfScore - origScore
	pooledVar := variance(origSamples) + variance(cfSamples)
	attribution := 0.0
	if delta != 0 {
		attribution = (delta * delta) / (delta*delta + pooledVar)
	}
	confidence := 1.0 / (1.0 + pooledVar)

	// Link the counterfactual to the original: contradicts for
	// removals, extends otherwise.
	kind := store.RefExtends
	if iv.Type == store.InterventionRemove {
		kind = store.RefContradicts
	}
	if _, err := a.store.AddCrossRef(cfLeaf.ID, original.ID, kind, attribution); err != nil {
		cleanup()
		return nil, err
	}

	comparison, err := json.Marshal(Comparison{
		OriginalScore:         origScore,
		CounterfactualScore:   cfScore,
		OriginalSamples:       origSamples,
		CounterfactualSamples: cfSamples,
		Continuation:          chosen.Content,
	})
	if err != nil {
		return nil, fmt.Errorf("counterfactual: marshal comparison: %w", err)
	}

	analysis, err := a.store.CreateAnalysis(store.Analysis{
		SessionID:            original.SessionID,
		OriginalBranchID:     original.ID,
		TargetBranchID:       targetBranchID,
		InterventionType:     iv.Type,
		InterventionPayload:  iv.Payload,
		CounterfactualBranch: cfLeaf.ID,
		OutcomeDelta:         delta,
		CausalAttribution:    attribution,
		Confidence:           confidence,
		Comparison:           string(comparison),
	})
	if err != nil {
		return nil, err
	}

	// Reflect the measured impact into the target's timeline overlay
	// when it has one. Best-effort: branches cloned via restore have no
	// overlay.
	if err := a.store.SetCounterfactualImpact(targetBranchID, attribution); err != nil {
		log.Debug().Err(err).Str("branch", targetBranchID).Msg("no overlay to record impact on")
	}

	return analysis, nil
}

// cloneChain materializes a fresh branch per thought, each parented on
// the previous clone.
func (a *Analyzer) cloneChain(sessionID string, contents []string) ([]store.Branch, error) {
	var out []store.Branch
	var parent *string
	for _, content := range contents {
		b, err := a.store.CreateBranch(store.CreateBranchParams{
			SessionID: sessionID,
			ParentID:  parent,
			Content:   content,
		})
		if err != nil {
			for i := len(out) - 1; i >= 0; i-- {
				_ = a.store.DeleteBranch(out[i].ID)
			}
			return nil, err
		}
		out = append(out, *b)
		id := b.ID
		parent = &id
	}
	return out, nil
}

// sampleRewards collects the configured number of reward samples for a
// prefix, wrapping oracle failures as an incomplete analysis.
func (a *Analyzer) sampleRewards(ctx context.Context, prefix []string) ([]float64, error) {
	samples := make([]float64, 0, a.samples)
	for i := 0; i < a.samples; i++ {
		r, err := a.oracle.Evaluate(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("%w: evaluate: %v", ErrAnalysisIncomplete, err)
		}
		samples = append(samples, r)
	}
	return samples, nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func variance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		sum += (x - m) * (x - m)
	}
	return sum / float64(len(xs)-1)
}
