package counterfactual_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calebrosier/timetree/internal/counterfactual"
	"github.com/calebrosier/timetree/internal/oracle"
	"github.com/calebrosier/timetree/internal/store"
)

type fixture struct {
	store  *store.Store
	oracle *oracle.Scripted
	chain  []*store.Branch // b0 → b1 → b2
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.New(store.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.CreateSession("sess-1", "tree"))

	f := &fixture{store: st, oracle: oracle.NewScripted()}
	var parent *string
	for _, content := range []string{"t0", "t1", "t2"} {
		b, err := st.CreateBranch(store.CreateBranchParams{
			SessionID: "sess-1", ParentID: parent, Content: content,
		})
		require.NoError(t, err)
		f.chain = append(f.chain, b)
		id := b.ID
		parent = &id
	}
	return f
}

func TestAnalyze_ReplaceIntervention(t *testing.T) {
	f := newFixture(t)
	a := counterfactual.New(f.store, f.oracle)

	// One continuation candidate, then one reward per side: the original
	// path is scored before the counterfactual one.
	f.oracle.PushContinuations([]oracle.Continuation{{Content: "t2-prime"}})
	f.oracle.PushReward(0.9) // original
	f.oracle.PushReward(0.3) // counterfactual

	analysis, err := a.Analyze(context.Background(), f.chain[2].ID, f.chain[1].ID,
		counterfactual.Intervention{Type: store.InterventionReplace, Payload: "t1-prime"})
	require.NoError(t, err)

	require.InDelta(t, -0.6, analysis.OutcomeDelta, 1e-9)
	// Single samples carry zero variance, so the full delta is
	// attributed to the intervention with full confidence.
	require.InDelta(t, 1.0, analysis.CausalAttribution, 1e-9)
	require.InDelta(t, 1.0, analysis.Confidence, 1e-9)
	require.Equal(t, f.chain[2].ID, analysis.OriginalBranchID)
	require.Equal(t, f.chain[1].ID, analysis.TargetBranchID)
	require.NotEqual(t, f.chain[2].ID, analysis.CounterfactualBranch,
		"the counterfactual must live on its own branch")

	var cmp counterfactual.Comparison
	require.NoError(t, json.Unmarshal([]byte(analysis.Comparison), &cmp))
	require.Equal(t, "t2-prime", cmp.Continuation)
	require.InDelta(t, 0.9, cmp.OriginalScore, 1e-9)
	require.InDelta(t, 0.3, cmp.CounterfactualScore, 1e-9)

	// The counterfactual leaf is linked back to the original.
	refs, err := f.store.CrossRefsFrom(analysis.CounterfactualBranch)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, f.chain[2].ID, refs[0].ToID)
	require.Equal(t, store.RefExtends, refs[0].Kind)
	require.InDelta(t, analysis.CausalAttribution, refs[0].Strength, 1e-9)

	// The original chain itself was never touched.
	for i, b := range f.chain {
		got, err := f.store.GetBranch(b.ID)
		require.NoError(t, err)
		require.Equal(t, b.Content, got.Content, "original thought %d mutated", i)
		require.Equal(t, store.BranchActive, got.State)
	}

	// Persisted and retrievable.
	stored, err := f.store.GetAnalysis(analysis.ID)
	require.NoError(t, err)
	require.Equal(t, analysis.CounterfactualBranch, stored.CounterfactualBranch)
}

func TestAnalyze_RemoveLinksAsContradiction(t *testing.T) {
	f := newFixture(t)
	a := counterfactual.New(f.store, f.oracle)

	f.oracle.PushContinuations([]oracle.Continuation{{Content: "without-t1"}})
	f.oracle.PushReward(0.5)
	f.oracle.PushReward(0.6)

	analysis, err := a.Analyze(context.Background(), f.chain[2].ID, f.chain[1].ID,
		counterfactual.Intervention{Type: store.InterventionRemove})
	require.NoError(t, err)

	refs, err := f.store.CrossRefsFrom(analysis.CounterfactualBranch)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, store.RefContradicts, refs[0].Kind,
		"a removal probe contradicts the original line of thought")
}

func TestAnalyze_TargetOffPath(t *testing.T) {
	f := newFixture(t)
	a := counterfactual.New(f.store, f.oracle)

	stray, err := f.store.CreateBranch(store.CreateBranchParams{SessionID: "sess-1", Content: "stray"})
	require.NoError(t, err)

	_, err = a.Analyze(context.Background(), f.chain[2].ID, stray.ID,
		counterfactual.Intervention{Type: store.InterventionChange, Payload: "x"})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAnalyze_InvalidInterventionType(t *testing.T) {
	f := newFixture(t)
	a := counterfactual.New(f.store, f.oracle)

	_, err := a.Analyze(context.Background(), f.chain[2].ID, f.chain[1].ID,
		counterfactual.Intervention{Type: "mutate"})
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestAnalyze_OracleFailureCleansClones(t *testing.T) {
	f := newFixture(t)
	a := counterfactual.New(f.store, f.oracle)

	before, err := f.store.SessionBranchCount("sess-1")
	require.NoError(t, err)

	// Nothing scripted: the continuation call fails after the prefix was
	// cloned, and the clones must be rolled back.
	_, err = a.Analyze(context.Background(), f.chain[2].ID, f.chain[1].ID,
		counterfactual.Intervention{Type: store.InterventionChange, Payload: "t1-alt"})
	require.ErrorIs(t, err, counterfactual.ErrAnalysisIncomplete)

	after, err := f.store.SessionBranchCount("sess-1")
	require.NoError(t, err)
	require.Equal(t, before, after, "aborted probes must not leak cloned branches")
}

func TestAnalyze_EvaluationFailureCleansClones(t *testing.T) {
	f := newFixture(t)
	a := counterfactual.New(f.store, f.oracle)

	before, err := f.store.SessionBranchCount("sess-1")
	require.NoError(t, err)

	// Continuation succeeds but no reward is scripted: the failure hits
	// mid-scoring, after the counterfactual leaf exists.
	f.oracle.PushContinuations([]oracle.Continuation{{Content: "t2-alt"}})
	_, err = a.Analyze(context.Background(), f.chain[2].ID, f.chain[1].ID,
		counterfactual.Intervention{Type: store.InterventionInject, Payload: "extra"})
	require.ErrorIs(t, err, counterfactual.ErrAnalysisIncomplete)

	after, err := f.store.SessionBranchCount("sess-1")
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestAnalyze_MultiSampleVarianceTempersAttribution(t *testing.T) {
	f := newFixture(t)
	a := counterfactual.New(f.store, f.oracle, counterfactual.WithSamples(2))

	f.oracle.PushContinuations([]oracle.Continuation{{Content: "t2-prime"}})
	// Original samples first, then counterfactual samples.
	f.oracle.PushReward(0.8)
	f.oracle.PushReward(0.6) // original mean 0.7, variance 0.02
	f.oracle.PushReward(0.4)
	f.oracle.PushReward(0.2) // counterfactual mean 0.3, variance 0.02

	analysis, err := a.Analyze(context.Background(), f.chain[2].ID, f.chain[1].ID,
		counterfactual.Intervention{Type: store.InterventionChange, Payload: "t1-prime"})
	require.NoError(t, err)

	require.InDelta(t, -0.4, analysis.OutcomeDelta, 1e-9)
	// Δ²/(Δ²+Var) with Δ²=0.16 and pooled variance 0.04.
	require.InDelta(t, 0.8, analysis.CausalAttribution, 1e-9)
	require.InDelta(t, 1.0/1.04, analysis.Confidence, 1e-9)
	require.Less(t, analysis.CausalAttribution, 1.0,
		"noisy samples must temper the attribution below certainty")
}
