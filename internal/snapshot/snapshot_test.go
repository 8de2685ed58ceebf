package snapshot_test

import (
	"errors"
	"testing"

	"github.com/calebrosier/timetree/internal/snapshot"
	"github.com/calebrosier/timetree/internal/store"
)

func newTestService(t *testing.T) (*snapshot.Service, *store.Store) {
	t.Helper()
	st, err := store.New(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.CreateSession("sess-1", "tree"); err != nil {
		t.Fatal(err)
	}
	return snapshot.New(st), st
}

// ─── Resolution ─────────────────────────────────────────────────────────────

func TestResolve_FullSnapshotIsVerbatim(t *testing.T) {
	svc, _ := newTestService(t)

	payload := `{"b":2,"a":1}`
	snap, err := svc.CreateSnapshot("sess-1", store.SnapshotFull, payload, nil)
	if err != nil {
		t.Fatal(err)
	}

	got, err := svc.Resolve(snap.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got != payload {
		t.Errorf("resolved = %q, want stored payload verbatim", got)
	}
}

func TestResolve_IncrementalChainDeterministic(t *testing.T) {
	svc, _ := newTestService(t)

	full, err := svc.CreateSnapshot("sess-1", store.SnapshotFull, `{"a":1,"b":2,"c":3}`, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Chain of depth 3 below the full root: override, delete, add.
	inc1, err := svc.CreateSnapshot("sess-1", store.SnapshotIncremental, `{"a":10}`, &full.ID)
	if err != nil {
		t.Fatal(err)
	}
	inc2, err := svc.CreateSnapshot("sess-1", store.SnapshotIncremental, `{"b":null}`, &inc1.ID)
	if err != nil {
		t.Fatal(err)
	}
	inc3, err := svc.CreateSnapshot("sess-1", store.SnapshotIncremental, `{"d":4}`, &inc2.ID)
	if err != nil {
		t.Fatal(err)
	}

	first, err := svc.Resolve(inc3.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"a":10,"c":3,"d":4}`
	if first != want {
		t.Errorf("resolved = %q, want %q", first, want)
	}

	// Byte-identical on repeat.
	second, err := svc.Resolve(inc3.ID)
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Errorf("second resolution %q differs from first %q", second, first)
	}
}

func TestResolve_BranchSnapshotAnchorsChain(t *testing.T) {
	svc, _ := newTestService(t)

	// Branch snapshots carry complete payloads, so a diff chain may
	// terminate at one just like at a full snapshot.
	base, err := svc.CreateSnapshot("sess-1", store.SnapshotBranch, `{"a":1,"b":2}`, nil)
	if err != nil {
		t.Fatal(err)
	}
	inc, err := svc.CreateSnapshot("sess-1", store.SnapshotIncremental, `{"b":null,"c":3}`, &base.ID)
	if err != nil {
		t.Fatal(err)
	}

	got, err := svc.Resolve(inc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"a":1,"c":3}`; got != want {
		t.Errorf("resolved = %q, want %q", got, want)
	}
}

func TestResolve_CorruptChain(t *testing.T) {
	svc, _ := newTestService(t)

	// A full root whose payload is not a JSON object cannot anchor a
	// diff chain.
	full, err := svc.CreateSnapshot("sess-1", store.SnapshotFull, `"just a string"`, nil)
	if err != nil {
		t.Fatal(err)
	}
	inc, err := svc.CreateSnapshot("sess-1", store.SnapshotIncremental, `{"a":1}`, &full.ID)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Resolve(inc.ID); !errors.Is(err, snapshot.ErrCorruptChain) {
		t.Fatalf("resolve over non-object root: got %v, want ErrCorruptChain", err)
	}
}

func TestCreateSnapshot_IncrementalNeedsParent(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.CreateSnapshot("sess-1", store.SnapshotIncremental, `{"a":1}`, nil); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("parentless incremental: got %v, want ErrValidation", err)
	}
}

// ─── Restore ────────────────────────────────────────────────────────────────

func TestRestoreCheckpoint_NonDestructive(t *testing.T) {
	svc, st := newTestService(t)

	b0, err := st.CreateBranch(store.CreateBranchParams{SessionID: "sess-1", Content: "original"})
	if err != nil {
		t.Fatal(err)
	}
	ckpt, err := svc.CreateCheckpoint("sess-1", &b0.ID, "before-pivot", `{"step":3}`)
	if err != nil {
		t.Fatal(err)
	}

	// Abandon the source branch, then travel back.
	if err := st.TransitionBranch(b0.ID, store.BranchAbandoned); err != nil {
		t.Fatal(err)
	}

	b1, err := svc.RestoreCheckpoint(ckpt.ID)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if b1.ID == b0.ID {
		t.Fatal("restore returned the source branch instead of a new one")
	}
	if b1.Content != `{"step":3}` {
		t.Errorf("restored content = %q, want checkpoint payload", b1.Content)
	}
	if b1.State != store.BranchActive {
		t.Errorf("restored state = %q, want active", b1.State)
	}

	// Neither the checkpoint nor the source branch changed.
	again, err := st.GetCheckpoint(ckpt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Payload != ckpt.Payload || again.BranchID == nil || *again.BranchID != b0.ID {
		t.Errorf("checkpoint mutated by restore: %+v", again)
	}
	src, _ := st.GetBranch(b0.ID)
	if src.State != store.BranchAbandoned || src.Content != "original" {
		t.Errorf("source branch mutated by restore: %+v", src)
	}
}

func TestRestoreCheckpoint_PromotesOnTimeline(t *testing.T) {
	svc, st := newTestService(t)

	root, _ := st.CreateBranch(store.CreateBranchParams{SessionID: "sess-1", Content: "root"})
	tl, err := st.CreateTimeline("sess-1", root.ID)
	if err != nil {
		t.Fatal(err)
	}
	ckpt, err := svc.CreateCheckpoint("sess-1", &root.ID, "cp", "payload")
	if err != nil {
		t.Fatal(err)
	}

	restored, err := svc.RestoreCheckpoint(ckpt.ID)
	if err != nil {
		t.Fatal(err)
	}

	got, _ := st.GetTimeline(tl.ID)
	if got.ActiveBranchID != restored.ID {
		t.Errorf("active branch = %q, want restored branch %q", got.ActiveBranchID, restored.ID)
	}
}

func TestRestoreSnapshot_MaterializesChain(t *testing.T) {
	svc, st := newTestService(t)

	full, _ := svc.CreateSnapshot("sess-1", store.SnapshotFull, `{"a":1}`, nil)
	inc, err := svc.CreateSnapshot("sess-1", store.SnapshotIncremental, `{"a":2}`, &full.ID)
	if err != nil {
		t.Fatal(err)
	}

	b, err := svc.RestoreSnapshot(inc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if b.Content != `{"a":2}` {
		t.Errorf("restored content = %q, want resolved payload", b.Content)
	}
	if b.State != store.BranchActive {
		t.Errorf("restored state = %q, want active", b.State)
	}
	if _, err := st.GetBranch(b.ID); err != nil {
		t.Errorf("restored branch not persisted: %v", err)
	}
}
