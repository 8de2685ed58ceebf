package store

import (
	"database/sql"
	"fmt"
)

// Durable projection of the MCTS search tree. The engine owns the live
// in-memory tree; these rows exist so a search survives restarts and so
// statistics stay queryable alongside the branch records.

// CreateSearchNode persists a new search-tree node aligned with a
// branch. The branch must already exist (enforced by the schema FK).
func (s *Store) CreateSearchNode(n SearchNode) (*SearchNode, error) {
	if n.ID == "" {
		n.ID = newID()
	}
	_, err := s.db.Exec(
		`INSERT INTO mcts_nodes (id, session_id, timeline_id, branch_id, parent_id, visit_count, total_value, prior, ucb_score, is_expanded, is_terminal, simulation_depth, last_visited)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.SessionID, n.TimelineID, n.BranchID, n.ParentID,
		n.VisitCount, n.TotalValue, n.Prior, n.UCBScore,
		boolToInt(n.IsExpanded), boolToInt(n.IsTerminal), n.SimulationDepth, n.LastVisited,
	)
	if err != nil {
		return nil, fmt.Errorf("store: insert search node: %w", err)
	}
	return &n, nil
}

// GetSearchNode retrieves a search node by ID.
func (s *Store) GetSearchNode(id string) (*SearchNode, error) {
	row := s.db.QueryRow(
		`SELECT id, session_id, timeline_id, branch_id, parent_id, visit_count, total_value, prior, ucb_score, is_expanded, is_terminal, simulation_depth, last_visited
		 FROM mcts_nodes WHERE id = ?`, id,
	)
	return scanSearchNode(row)
}

// SearchNodeForBranch retrieves the node aligned with a branch, if any.
func (s *Store) SearchNodeForBranch(branchID string) (*SearchNode, error) {
	row := s.db.QueryRow(
		`SELECT id, session_id, timeline_id, branch_id, parent_id, visit_count, total_value, prior, ucb_score, is_expanded, is_terminal, simulation_depth, last_visited
		 FROM mcts_nodes WHERE branch_id = ?`, branchID,
	)
	return scanSearchNode(row)
}

// TimelineSearchNodes lists every node of a timeline's search tree in
// insertion order, which is also parent-before-child order.
func (s *Store) TimelineSearchNodes(timelineID string) ([]SearchNode, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, timeline_id, branch_id, parent_id, visit_count, total_value, prior, ucb_score, is_expanded, is_terminal, simulation_depth, last_visited
		 FROM mcts_nodes WHERE timeline_id = ? ORDER BY rowid`, timelineID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []SearchNode
	for rows.Next() {
		var n SearchNode
		var exp, term int
		if err := rows.Scan(&n.ID, &n.SessionID, &n.TimelineID, &n.BranchID, &n.ParentID,
			&n.VisitCount, &n.TotalValue, &n.Prior, &n.UCBScore,
			&exp, &term, &n.SimulationDepth, &n.LastVisited); err != nil {
			return nil, err
		}
		n.IsExpanded = exp != 0
		n.IsTerminal = term != 0
		out = append(out, n)
	}
	return out, rows.Err()
}

// UpdateSearchNodeStats reflects one backpropagation pass into a node
// row.
func (s *Store) UpdateSearchNodeStats(id string, visitCount int, totalValue, ucbScore float64) error {
	_, err := s.db.Exec(
		`UPDATE mcts_nodes
		 SET visit_count = ?, total_value = ?, ucb_score = ?, last_visited = ?
		 WHERE id = ?`,
		visitCount, totalValue, ucbScore, now(), id,
	)
	return err
}

// MarkSearchNodeExpanded flags a node once all known candidate children
// are attached.
func (s *Store) MarkSearchNodeExpanded(id string, terminal bool) error {
	_, err := s.db.Exec(
		`UPDATE mcts_nodes SET is_expanded = 1, is_terminal = ? WHERE id = ?`,
		boolToInt(terminal), id,
	)
	return err
}

func scanSearchNode(row *sql.Row) (*SearchNode, error) {
	var n SearchNode
	var exp, term int
	err := row.Scan(&n.ID, &n.SessionID, &n.TimelineID, &n.BranchID, &n.ParentID,
		&n.VisitCount, &n.TotalValue, &n.Prior, &n.UCBScore,
		&exp, &term, &n.SimulationDepth, &n.LastVisited)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: search node", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	n.IsExpanded = exp != 0
	n.IsTerminal = term != 0
	return &n, nil
}
