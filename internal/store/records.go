package store

import (
	"database/sql"
	"fmt"
)

// Raw record access for checkpoints, state snapshots, and analyses.
// Resolution and restore semantics live in internal/snapshot; this file
// only persists and retrieves rows.

// ─── Checkpoints ─────────────────────────────────────────────────────────────

// CreateCheckpoint persists a named restore target. The anchoring
// branch, when given, must already exist and belong to the session.
func (s *Store) CreateCheckpoint(sessionID string, branchID *string, name, payload string) (*Checkpoint, error) {
	if _, err := s.GetSession(sessionID); err != nil {
		return nil, err
	}
	if branchID != nil {
		b, err := s.GetBranch(*branchID)
		if err != nil {
			return nil, err
		}
		if b.SessionID != sessionID {
			return nil, fmt.Errorf("%w: branch %q belongs to session %q, not %q",
				ErrValidation, *branchID, b.SessionID, sessionID)
		}
	}

	c := &Checkpoint{
		ID:        newID(),
		SessionID: sessionID,
		BranchID:  branchID,
		Name:      name,
		Payload:   payload,
		CreatedAt: now(),
	}
	_, err := s.db.Exec(
		`INSERT INTO checkpoints (id, session_id, branch_id, name, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.BranchID, c.Name, c.Payload, c.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: insert checkpoint: %w", err)
	}
	return c, nil
}

// GetCheckpoint retrieves a checkpoint by ID.
func (s *Store) GetCheckpoint(id string) (*Checkpoint, error) {
	row := s.db.QueryRow(
		`SELECT id, session_id, branch_id, name, payload, created_at FROM checkpoints WHERE id = ?`, id,
	)
	var c Checkpoint
	err := row.Scan(&c.ID, &c.SessionID, &c.BranchID, &c.Name, &c.Payload, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: checkpoint %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ─── State snapshots ─────────────────────────────────────────────────────────

// CreateStateSnapshot persists a snapshot node. Incremental snapshots
// must name an existing parent in the same session.
func (s *Store) CreateStateSnapshot(sessionID string, kind SnapshotKind, payload string, parentID *string) (*StateSnapshot, error) {
	if err := ValidateSnapshotKind(kind); err != nil {
		return nil, err
	}
	if _, err := s.GetSession(sessionID); err != nil {
		return nil, err
	}
	if kind == SnapshotIncremental && parentID == nil {
		return nil, fmt.Errorf("%w: incremental snapshot requires a parent", ErrValidation)
	}
	if parentID != nil {
		parent, err := s.GetStateSnapshot(*parentID)
		if err != nil {
			return nil, err
		}
		if parent.SessionID != sessionID {
			return nil, fmt.Errorf("%w: parent snapshot %q belongs to session %q, not %q",
				ErrValidation, *parentID, parent.SessionID, sessionID)
		}
	}

	snap := &StateSnapshot{
		ID:        newID(),
		SessionID: sessionID,
		Kind:      kind,
		Payload:   payload,
		ParentID:  parentID,
		CreatedAt: now(),
	}
	_, err := s.db.Exec(
		`INSERT INTO state_snapshots (id, session_id, kind, payload, parent_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.SessionID, snap.Kind, snap.Payload, snap.ParentID, snap.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: insert snapshot: %w", err)
	}
	return snap, nil
}

// GetStateSnapshot retrieves a snapshot by ID.
func (s *Store) GetStateSnapshot(id string) (*StateSnapshot, error) {
	row := s.db.QueryRow(
		`SELECT id, session_id, kind, payload, parent_id, created_at FROM state_snapshots WHERE id = ?`, id,
	)
	var snap StateSnapshot
	err := row.Scan(&snap.ID, &snap.SessionID, &snap.Kind, &snap.Payload, &snap.ParentID, &snap.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: snapshot %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// ─── Counterfactual analyses ─────────────────────────────────────────────────

// CreateAnalysis persists the result of one counterfactual probe. The
// record is immutable after creation.
func (s *Store) CreateAnalysis(a Analysis) (*Analysis, error) {
	if a.ID == "" {
		a.ID = newID()
	}
	a.CreatedAt = now()
	_, err := s.db.Exec(
		`INSERT INTO counterfactual_analyses (id, session_id, original_branch_id, target_branch_id, intervention_type, intervention_payload, counterfactual_branch_id, outcome_delta, causal_attribution, confidence, comparison, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.OriginalBranchID, a.TargetBranchID, a.InterventionType,
		a.InterventionPayload, a.CounterfactualBranch, a.OutcomeDelta,
		a.CausalAttribution, a.Confidence, a.Comparison, a.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: insert analysis: %w", err)
	}
	return &a, nil
}

// GetAnalysis retrieves an analysis by ID.
func (s *Store) GetAnalysis(id string) (*Analysis, error) {
	row := s.db.QueryRow(
		`SELECT id, session_id, original_branch_id, target_branch_id, intervention_type, intervention_payload, counterfactual_branch_id, outcome_delta, causal_attribution, confidence, comparison, created_at
		 FROM counterfactual_analyses WHERE id = ?`, id,
	)
	var a Analysis
	err := row.Scan(&a.ID, &a.SessionID, &a.OriginalBranchID, &a.TargetBranchID,
		&a.InterventionType, &a.InterventionPayload, &a.CounterfactualBranch,
		&a.OutcomeDelta, &a.CausalAttribution, &a.Confidence, &a.Comparison, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: analysis %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
