package store_test

import (
	"errors"
	"testing"

	"github.com/calebrosier/timetree/internal/store"
)

// newTestStore creates a Store backed by a temp directory for isolation.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ensureSession creates a session that branches depend on.
func ensureSession(t *testing.T, s *store.Store, id string) {
	t.Helper()
	if err := s.CreateSession(id, "tree"); err != nil {
		t.Fatalf("failed to create session %q: %v", id, err)
	}
}

// ─── Sessions ───────────────────────────────────────────────────────────────

func TestNew_IdempotentReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := store.Config{DataDir: dir}

	// Open, insert, close
	s1, err := store.New(cfg)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := s1.CreateSession("sess-1", "tree"); err != nil {
		t.Fatalf("create session: %v", err)
	}
	s1.Close()

	// Reopen — data should persist
	s2, err := store.New(cfg)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()

	sess, err := s2.GetSession("sess-1")
	if err != nil {
		t.Fatalf("session not found after reopen: %v", err)
	}
	if sess.Mode != "tree" {
		t.Errorf("mode = %q, want tree", sess.Mode)
	}
}

func TestEndSession_Missing(t *testing.T) {
	s := newTestStore(t)
	if err := s.EndSession("ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("EndSession(ghost) = %v, want ErrNotFound", err)
	}
}

func TestDeleteSession_Cascades(t *testing.T) {
	s := newTestStore(t)
	ensureSession(t, s, "sess-1")

	b, err := s.CreateBranch(store.CreateBranchParams{SessionID: "sess-1", Content: "root thought"})
	if err != nil {
		t.Fatalf("create branch: %v", err)
	}
	ckpt, err := s.CreateCheckpoint("sess-1", &b.ID, "before-risk", `{"k":"v"}`)
	if err != nil {
		t.Fatalf("create checkpoint: %v", err)
	}
	snap, err := s.CreateStateSnapshot("sess-1", store.SnapshotFull, `{"a":1}`, nil)
	if err != nil {
		t.Fatalf("create snapshot: %v", err)
	}
	tl, err := s.CreateTimeline("sess-1", b.ID)
	if err != nil {
		t.Fatalf("create timeline: %v", err)
	}

	if err := s.DeleteSession("sess-1"); err != nil {
		t.Fatalf("delete session: %v", err)
	}

	if _, err := s.GetBranch(b.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("branch survived cascade: %v", err)
	}
	if _, err := s.GetCheckpoint(ckpt.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("checkpoint survived cascade: %v", err)
	}
	if _, err := s.GetStateSnapshot(snap.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("snapshot survived cascade: %v", err)
	}
	if _, err := s.GetTimeline(tl.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("timeline survived cascade: %v", err)
	}
}

// ─── Branches ───────────────────────────────────────────────────────────────

func TestCreateBranch_RejectsMissingParent(t *testing.T) {
	s := newTestStore(t)
	ensureSession(t, s, "sess-1")

	ghost := "no-such-branch"
	_, err := s.CreateBranch(store.CreateBranchParams{SessionID: "sess-1", ParentID: &ghost})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("missing parent: got %v, want ErrValidation", err)
	}

	// A rejected create must persist nothing.
	n, err := s.SessionBranchCount("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("branch count = %d after rejected create, want 0", n)
	}
}

func TestCreateBranch_RejectsCrossSessionParent(t *testing.T) {
	s := newTestStore(t)
	ensureSession(t, s, "sess-1")
	ensureSession(t, s, "sess-2")

	parent, err := s.CreateBranch(store.CreateBranchParams{SessionID: "sess-1"})
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.CreateBranch(store.CreateBranchParams{SessionID: "sess-2", ParentID: &parent.ID})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("cross-session parent: got %v, want ErrValidation", err)
	}
	if n, _ := s.SessionBranchCount("sess-2"); n != 0 {
		t.Errorf("branch count = %d after rejected create, want 0", n)
	}
}

func TestTransitionBranch_StateMachine(t *testing.T) {
	s := newTestStore(t)
	ensureSession(t, s, "sess-1")
	b, err := s.CreateBranch(store.CreateBranchParams{SessionID: "sess-1"})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.TransitionBranch(b.ID, store.BranchCompleted); err != nil {
		t.Fatalf("active → completed: %v", err)
	}

	// Completed is terminal: no way back to active, no way sideways.
	if err := s.TransitionBranch(b.ID, store.BranchActive); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("completed → active: got %v, want ErrInvalidTransition", err)
	}
	if err := s.TransitionBranch(b.ID, store.BranchAbandoned); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("completed → abandoned: got %v, want ErrInvalidTransition", err)
	}

	if err := s.TransitionBranch(b.ID, "frozen"); !errors.Is(err, store.ErrValidation) {
		t.Errorf("unknown state: got %v, want ErrValidation", err)
	}
}

func TestBranchPath_RootToLeafOrder(t *testing.T) {
	s := newTestStore(t)
	ensureSession(t, s, "sess-1")

	b0, _ := s.CreateBranch(store.CreateBranchParams{SessionID: "sess-1", Content: "t0"})
	b1, _ := s.CreateBranch(store.CreateBranchParams{SessionID: "sess-1", ParentID: &b0.ID, Content: "t1"})
	b2, err := s.CreateBranch(store.CreateBranchParams{SessionID: "sess-1", ParentID: &b1.ID, Content: "t2"})
	if err != nil {
		t.Fatal(err)
	}

	path, err := s.BranchPath(b2.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 3 {
		t.Fatalf("path length = %d, want 3", len(path))
	}
	for i, want := range []string{"t0", "t1", "t2"} {
		if path[i].Content != want {
			t.Errorf("path[%d].Content = %q, want %q", i, path[i].Content, want)
		}
	}
}

func TestAddCrossRef(t *testing.T) {
	s := newTestStore(t)
	ensureSession(t, s, "sess-1")
	b0, _ := s.CreateBranch(store.CreateBranchParams{SessionID: "sess-1"})
	b1, _ := s.CreateBranch(store.CreateBranchParams{SessionID: "sess-1"})

	if _, err := s.AddCrossRef(b0.ID, "ghost", store.RefSupports, 0.9); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing to-branch: got %v, want ErrNotFound", err)
	}
	if _, err := s.AddCrossRef(b0.ID, b1.ID, "believes", 0.9); !errors.Is(err, store.ErrValidation) {
		t.Errorf("unknown kind: got %v, want ErrValidation", err)
	}

	r, err := s.AddCrossRef(b0.ID, b1.ID, store.RefContradicts, 0.7)
	if err != nil {
		t.Fatalf("add cross-ref: %v", err)
	}
	refs, err := s.CrossRefsFrom(b0.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0].ID != r.ID || refs[0].Kind != store.RefContradicts {
		t.Errorf("cross-refs = %+v, want the one just created", refs)
	}
}

func TestDeleteBranch_NullsChildParent(t *testing.T) {
	s := newTestStore(t)
	ensureSession(t, s, "sess-1")
	parent, _ := s.CreateBranch(store.CreateBranchParams{SessionID: "sess-1"})
	child, _ := s.CreateBranch(store.CreateBranchParams{SessionID: "sess-1", ParentID: &parent.ID})
	other, _ := s.CreateBranch(store.CreateBranchParams{SessionID: "sess-1"})
	if _, err := s.AddCrossRef(parent.ID, other.ID, store.RefSupports, 1); err != nil {
		t.Fatal(err)
	}
	ckpt, err := s.CreateCheckpoint("sess-1", &parent.ID, "cp", "{}")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteBranch(parent.ID); err != nil {
		t.Fatalf("delete branch: %v", err)
	}

	// Child survives with its parent pointer nulled.
	got, err := s.GetBranch(child.ID)
	if err != nil {
		t.Fatalf("child deleted by cascade: %v", err)
	}
	if got.ParentID != nil {
		t.Errorf("child parent = %v, want nil", *got.ParentID)
	}

	// Cross-refs and checkpoints anchored on the branch are gone.
	refs, _ := s.CrossRefsFrom(parent.ID)
	if len(refs) != 0 {
		t.Errorf("cross-refs survived branch delete: %+v", refs)
	}
	if _, err := s.GetCheckpoint(ckpt.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("checkpoint survived branch delete: %v", err)
	}
}

// ─── Timelines ──────────────────────────────────────────────────────────────

func TestCreateTimeline_And_ActiveBranch(t *testing.T) {
	s := newTestStore(t)
	ensureSession(t, s, "sess-1")
	ensureSession(t, s, "sess-2")
	root, _ := s.CreateBranch(store.CreateBranchParams{SessionID: "sess-1", Content: "root"})
	foreign, _ := s.CreateBranch(store.CreateBranchParams{SessionID: "sess-2"})

	if _, err := s.CreateTimeline("sess-2", root.ID); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("cross-session root: got %v, want ErrValidation", err)
	}

	tl, err := s.CreateTimeline("sess-1", root.ID)
	if err != nil {
		t.Fatalf("create timeline: %v", err)
	}
	if tl.ActiveBranchID != root.ID || tl.BranchCount != 1 {
		t.Errorf("timeline = %+v, want active=root, count=1", tl)
	}

	// The root branch is bound to its timeline.
	b, _ := s.GetBranch(root.ID)
	if b.TimelineID == nil || *b.TimelineID != tl.ID {
		t.Errorf("root branch timeline = %v, want %q", b.TimelineID, tl.ID)
	}

	if err := s.SetActiveBranch(tl.ID, foreign.ID); !errors.Is(err, store.ErrValidation) {
		t.Errorf("cross-session active branch: got %v, want ErrValidation", err)
	}

	next, _ := s.CreateBranch(store.CreateBranchParams{SessionID: "sess-1", ParentID: &root.ID})
	if err := s.SetActiveBranch(tl.ID, next.ID); err != nil {
		t.Fatalf("set active branch: %v", err)
	}
	got, _ := s.GetTimeline(tl.ID)
	if got.ActiveBranchID != next.ID {
		t.Errorf("active branch = %q, want %q", got.ActiveBranchID, next.ID)
	}
}

func TestTimelineBranchOverlay(t *testing.T) {
	s := newTestStore(t)
	ensureSession(t, s, "sess-1")
	root, _ := s.CreateBranch(store.CreateBranchParams{SessionID: "sess-1"})
	tl, err := s.CreateTimeline("sess-1", root.ID)
	if err != nil {
		t.Fatal(err)
	}

	tb := store.TimelineBranch{BranchID: root.ID, TimelineID: tl.ID, Depth: 0, MCTSGenerated: false}
	if err := s.PutTimelineBranch(tb); err != nil {
		t.Fatalf("put overlay: %v", err)
	}
	if err := s.UpdateTimelineBranchStats(root.ID, 4, 2.5, 0.8); err != nil {
		t.Fatalf("update overlay: %v", err)
	}

	got, err := s.GetTimelineBranch(root.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.VisitCount != 4 || got.TotalValue != 2.5 || got.UCBScore != 0.8 {
		t.Errorf("overlay = %+v, want visits=4 value=2.5 ucb=0.8", got)
	}
}

// ─── Stats ──────────────────────────────────────────────────────────────────

func TestSessionStats(t *testing.T) {
	s := newTestStore(t)
	ensureSession(t, s, "sess-1")
	b0, _ := s.CreateBranch(store.CreateBranchParams{SessionID: "sess-1"})
	b1, _ := s.CreateBranch(store.CreateBranchParams{SessionID: "sess-1", ParentID: &b0.ID})
	if _, err := s.AddCrossRef(b0.ID, b1.ID, store.RefExtends, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateCheckpoint("sess-1", &b0.ID, "cp", "{}"); err != nil {
		t.Fatal(err)
	}

	st, err := s.SessionStats("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Branches != 2 || st.CrossRefs != 1 || st.Checkpoints != 1 {
		t.Errorf("stats = %+v, want 2 branches, 1 cross-ref, 1 checkpoint", st)
	}
}
