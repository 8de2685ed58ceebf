package store

import (
	"database/sql"
	"fmt"
)

// ─── Branch creation ─────────────────────────────────────────────────────────

// CreateBranchParams holds the input for forking a new branch.
type CreateBranchParams struct {
	SessionID  string  `json:"session_id"`
	ParentID   *string `json:"parent_id,omitempty"`
	TimelineID *string `json:"timeline_id,omitempty"`
	Content    string  `json:"content,omitempty"`
	Priority   float64 `json:"priority,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// CreateBranch forks a new active branch. The parent, when given, must
// exist, belong to the same session, and have finite ancestry; all of
// this is checked before any row is written, so a rejected call
// persists nothing.
func (s *Store) CreateBranch(p CreateBranchParams) (*Branch, error) {
	if p.SessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", ErrValidation)
	}
	if _, err := s.GetSession(p.SessionID); err != nil {
		return nil, err
	}

	if p.ParentID != nil {
		parent, err := s.GetBranch(*p.ParentID)
		if err != nil {
			// Spec contract: a missing parent is a validation failure
			// of the create call, not a lookup failure.
			return nil, fmt.Errorf("%w: parent branch %q not found", ErrValidation, *p.ParentID)
		}
		if parent.SessionID != p.SessionID {
			return nil, fmt.Errorf("%w: parent branch %q belongs to session %q, not %q",
				ErrValidation, parent.ID, parent.SessionID, p.SessionID)
		}
		if err := s.checkAncestry(parent.ID); err != nil {
			return nil, err
		}
	}

	b := &Branch{
		ID:         newID(),
		SessionID:  p.SessionID,
		ParentID:   p.ParentID,
		TimelineID: p.TimelineID,
		Content:    p.Content,
		Priority:   p.Priority,
		Confidence: p.Confidence,
		State:      BranchActive,
		CreatedAt:  now(),
		UpdatedAt:  now(),
	}
	_, err := s.db.Exec(
		`INSERT INTO branches (id, session_id, parent_id, timeline_id, content, priority, confidence, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.SessionID, b.ParentID, b.TimelineID, b.Content, b.Priority, b.Confidence, b.State, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: insert branch: %w", err)
	}
	return b, nil
}

// checkAncestry walks the parent chain from the given branch, rejecting
// on a repeated ID or on exceeding the hop bound. Both indicate
// corrupted data; the bound is the fail-safe against a true loop.
func (s *Store) checkAncestry(branchID string) error {
	seen := map[string]bool{}
	cur := &branchID
	for hops := 0; cur != nil; hops++ {
		if hops > maxAncestryHops {
			return fmt.Errorf("%w: ancestry of branch %q exceeds %d hops", ErrValidation, branchID, maxAncestryHops)
		}
		if seen[*cur] {
			return fmt.Errorf("%w: branch %q is its own ancestor", ErrValidation, *cur)
		}
		seen[*cur] = true

		var parent *string
		err := s.db.QueryRow(`SELECT parent_id FROM branches WHERE id = ?`, *cur).Scan(&parent)
		if err == sql.ErrNoRows {
			return nil // chain ends at a dangling (nulled) parent
		}
		if err != nil {
			return err
		}
		cur = parent
	}
	return nil
}

// GetBranch retrieves a branch by ID.
func (s *Store) GetBranch(id string) (*Branch, error) {
	row := s.db.QueryRow(
		`SELECT id, session_id, parent_id, timeline_id, content, priority, confidence, state, created_at, updated_at
		 FROM branches WHERE id = ?`, id,
	)
	var b Branch
	err := row.Scan(&b.ID, &b.SessionID, &b.ParentID, &b.TimelineID, &b.Content,
		&b.Priority, &b.Confidence, &b.State, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: branch %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ─── State machine ───────────────────────────────────────────────────────────

// TransitionBranch enforces the one-directional branch state machine:
// active → completed or active → abandoned. Completed and abandoned are
// terminal; any attempt to leave them fails with ErrInvalidTransition.
func (s *Store) TransitionBranch(id string, next BranchState) error {
	if err := ValidateBranchState(next); err != nil {
		return err
	}
	b, err := s.GetBranch(id)
	if err != nil {
		return err
	}
	if b.State != BranchActive || next == BranchActive {
		return fmt.Errorf("%w: branch %q cannot move %s → %s", ErrInvalidTransition, id, b.State, next)
	}
	_, err = s.db.Exec(
		`UPDATE branches SET state = ?, updated_at = ? WHERE id = ?`,
		next, now(), id,
	)
	return err
}

// ─── Path & cross-references ─────────────────────────────────────────────────

// BranchPath returns the ordered sequence of branches from the root to
// the given branch. Every downstream component that needs the thought
// prefix goes through here.
func (s *Store) BranchPath(id string) ([]Branch, error) {
	var path []Branch
	cur := &id
	for hops := 0; cur != nil; hops++ {
		if hops > maxAncestryHops {
			return nil, fmt.Errorf("%w: path of branch %q exceeds %d hops", ErrValidation, id, maxAncestryHops)
		}
		b, err := s.GetBranch(*cur)
		if err != nil {
			if hops == 0 {
				return nil, err
			}
			break // chain ends at a dangling (nulled) parent
		}
		path = append(path, *b)
		cur = b.ParentID
	}
	// Reverse into root-to-leaf order.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// AddCrossRef records a directed relation between two existing
// branches. The record is immutable after creation.
func (s *Store) AddCrossRef(fromID, toID string, kind CrossRefKind, strength float64) (*CrossRef, error) {
	if err := ValidateRefKind(kind); err != nil {
		return nil, err
	}
	if _, err := s.GetBranch(fromID); err != nil {
		return nil, err
	}
	if _, err := s.GetBranch(toID); err != nil {
		return nil, err
	}

	r := &CrossRef{
		ID:        newID(),
		FromID:    fromID,
		ToID:      toID,
		Kind:      kind,
		Strength:  strength,
		CreatedAt: now(),
	}
	_, err := s.db.Exec(
		`INSERT INTO cross_refs (id, from_id, to_id, kind, strength, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.FromID, r.ToID, r.Kind, r.Strength, r.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: insert cross-ref: %w", err)
	}
	return r, nil
}

// CrossRefsFrom lists the outgoing cross-references of a branch.
func (s *Store) CrossRefsFrom(branchID string) ([]CrossRef, error) {
	rows, err := s.db.Query(
		`SELECT id, from_id, to_id, kind, strength, created_at FROM cross_refs WHERE from_id = ? ORDER BY created_at`,
		branchID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var refs []CrossRef
	for rows.Next() {
		var r CrossRef
		if err := rows.Scan(&r.ID, &r.FromID, &r.ToID, &r.Kind, &r.Strength, &r.CreatedAt); err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// DeleteBranch removes a branch. The schema cascades to its cross-refs
// and checkpoints and nulls the parent pointer of any child branch.
func (s *Store) DeleteBranch(id string) error {
	res, err := s.db.Exec(`DELETE FROM branches WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: branch %q", ErrNotFound, id)
	}
	return nil
}

// SessionBranchCount returns the number of branches in a session.
func (s *Store) SessionBranchCount(sessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM branches WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}
