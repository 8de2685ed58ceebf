package store

import (
	"database/sql"
	"fmt"
)

// ─── Timelines ───────────────────────────────────────────────────────────────

// CreateTimeline opens a new tree-mode exploration rooted at an
// existing branch of the same session. The root starts as the active
// branch.
func (s *Store) CreateTimeline(sessionID, rootBranchID string) (*Timeline, error) {
	root, err := s.GetBranch(rootBranchID)
	if err != nil {
		return nil, err
	}
	if root.SessionID != sessionID {
		return nil, fmt.Errorf("%w: root branch %q belongs to session %q, not %q",
			ErrValidation, rootBranchID, root.SessionID, sessionID)
	}

	tl := &Timeline{
		ID:             newID(),
		SessionID:      sessionID,
		RootBranchID:   rootBranchID,
		ActiveBranchID: rootBranchID,
		BranchCount:    1,
		MaxDepth:       0,
		State:          TimelineActive,
		CreatedAt:      now(),
		UpdatedAt:      now(),
	}
	_, err = s.db.Exec(
		`INSERT INTO timelines (id, session_id, root_branch_id, active_branch_id, branch_count, max_depth, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tl.ID, tl.SessionID, tl.RootBranchID, tl.ActiveBranchID, tl.BranchCount, tl.MaxDepth, tl.State, tl.CreatedAt, tl.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: insert timeline: %w", err)
	}

	// Bind the root branch to its timeline.
	if _, err := s.db.Exec(`UPDATE branches SET timeline_id = ? WHERE id = ?`, tl.ID, rootBranchID); err != nil {
		return nil, fmt.Errorf("store: bind root branch: %w", err)
	}
	return tl, nil
}

// GetTimeline retrieves a timeline by ID.
func (s *Store) GetTimeline(id string) (*Timeline, error) {
	row := s.db.QueryRow(
		`SELECT id, session_id, root_branch_id, active_branch_id, branch_count, max_depth, state, created_at, updated_at
		 FROM timelines WHERE id = ?`, id,
	)
	var tl Timeline
	err := row.Scan(&tl.ID, &tl.SessionID, &tl.RootBranchID, &tl.ActiveBranchID,
		&tl.BranchCount, &tl.MaxDepth, &tl.State, &tl.CreatedAt, &tl.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: timeline %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &tl, nil
}

// SessionTimelines lists all timelines of a session, newest first.
func (s *Store) SessionTimelines(sessionID string) ([]Timeline, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, root_branch_id, active_branch_id, branch_count, max_depth, state, created_at, updated_at
		 FROM timelines WHERE session_id = ? ORDER BY created_at DESC`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Timeline
	for rows.Next() {
		var tl Timeline
		if err := rows.Scan(&tl.ID, &tl.SessionID, &tl.RootBranchID, &tl.ActiveBranchID,
			&tl.BranchCount, &tl.MaxDepth, &tl.State, &tl.CreatedAt, &tl.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, tl)
	}
	return out, rows.Err()
}

// SetActiveBranch moves the timeline's active-branch pointer. Updates
// are serialized so two concurrent restores or promotions cannot race;
// the new active branch must belong to the timeline's session.
func (s *Store) SetActiveBranch(timelineID, branchID string) error {
	s.tlMu.Lock()
	defer s.tlMu.Unlock()

	tl, err := s.GetTimeline(timelineID)
	if err != nil {
		return err
	}
	b, err := s.GetBranch(branchID)
	if err != nil {
		return err
	}
	if b.SessionID != tl.SessionID {
		return fmt.Errorf("%w: branch %q belongs to session %q, not %q",
			ErrValidation, branchID, b.SessionID, tl.SessionID)
	}
	_, err = s.db.Exec(
		`UPDATE timelines SET active_branch_id = ?, updated_at = ? WHERE id = ?`,
		branchID, now(), timelineID,
	)
	return err
}

// BumpTimeline records one more branch on the timeline and raises
// max_depth when the new branch is deeper than any seen before.
func (s *Store) BumpTimeline(timelineID string, depth int) error {
	_, err := s.db.Exec(
		`UPDATE timelines
		 SET branch_count = branch_count + 1,
		     max_depth = MAX(max_depth, ?),
		     updated_at = ?
		 WHERE id = ?`,
		depth, now(), timelineID,
	)
	return err
}

// SetTimelineState moves a timeline to archived or merged.
func (s *Store) SetTimelineState(timelineID string, state TimelineState) error {
	res, err := s.db.Exec(
		`UPDATE timelines SET state = ?, updated_at = ? WHERE id = ?`,
		state, now(), timelineID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: timeline %q", ErrNotFound, timelineID)
	}
	return nil
}

// ─── Timeline-branch overlays ────────────────────────────────────────────────

// PutTimelineBranch creates or replaces the MCTS metadata overlay for a
// branch.
func (s *Store) PutTimelineBranch(tb TimelineBranch) error {
	_, err := s.db.Exec(
		`INSERT INTO timeline_branches (branch_id, timeline_id, depth, visit_count, total_value, ucb_score, counterfactual_impact, mcts_generated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(branch_id) DO UPDATE SET
		   depth = excluded.depth,
		   visit_count = excluded.visit_count,
		   total_value = excluded.total_value,
		   ucb_score = excluded.ucb_score,
		   counterfactual_impact = excluded.counterfactual_impact,
		   mcts_generated = excluded.mcts_generated`,
		tb.BranchID, tb.TimelineID, tb.Depth, tb.VisitCount, tb.TotalValue,
		tb.UCBScore, tb.CounterfactualImpact, boolToInt(tb.MCTSGenerated),
	)
	if err != nil {
		return fmt.Errorf("store: put timeline branch: %w", err)
	}
	return nil
}

// GetTimelineBranch retrieves the overlay for a branch, if any.
func (s *Store) GetTimelineBranch(branchID string) (*TimelineBranch, error) {
	row := s.db.QueryRow(
		`SELECT branch_id, timeline_id, depth, visit_count, total_value, ucb_score, counterfactual_impact, mcts_generated
		 FROM timeline_branches WHERE branch_id = ?`, branchID,
	)
	var tb TimelineBranch
	var gen int
	err := row.Scan(&tb.BranchID, &tb.TimelineID, &tb.Depth, &tb.VisitCount,
		&tb.TotalValue, &tb.UCBScore, &tb.CounterfactualImpact, &gen)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: timeline branch %q", ErrNotFound, branchID)
	}
	if err != nil {
		return nil, err
	}
	tb.MCTSGenerated = gen != 0
	return &tb, nil
}

// UpdateTimelineBranchStats reflects one backpropagation pass into the
// overlay row.
func (s *Store) UpdateTimelineBranchStats(branchID string, visitCount int, totalValue, ucbScore float64) error {
	_, err := s.db.Exec(
		`UPDATE timeline_branches SET visit_count = ?, total_value = ?, ucb_score = ? WHERE branch_id = ?`,
		visitCount, totalValue, ucbScore, branchID,
	)
	return err
}

// SetCounterfactualImpact records the measured impact of an
// intervention on a branch's overlay.
func (s *Store) SetCounterfactualImpact(branchID string, impact float64) error {
	_, err := s.db.Exec(
		`UPDATE timeline_branches SET counterfactual_impact = ? WHERE branch_id = ?`,
		impact, branchID,
	)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
