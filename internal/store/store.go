// Package store implements the durable record layer for timetree.
//
// It uses SQLite to persist the eight interlocking record types of the
// branching engine: sessions, branches, cross-references, checkpoints,
// state snapshots, timelines, timeline-branch overlays, MCTS nodes, and
// counterfactual analyses. Referential constraints (cascades, nulled
// parent pointers) are enforced by the schema; structural invariants
// (acyclic parent chains, one-directional state machines) are enforced
// by the operations in branch.go and timeline.go.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// maxAncestryHops bounds every parent-chain walk. A chain longer than
// this indicates corrupted data, not a legitimately deep tree.
const maxAncestryHops = 10000

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds store configuration.
type Config struct {
	DataDir string
}

// DefaultConfig returns the default configuration for the store.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir: filepath.Join(home, ".timetree"),
	}
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is the persistent record engine backed by SQLite.
type Store struct {
	db  *sql.DB
	cfg Config

	// tlMu serializes active-branch pointer updates (single logical
	// writer per store; readers see old or new value, never torn).
	tlMu sync.Mutex
}

// New creates a new Store with the given configuration. It creates the
// data directory if needed, opens SQLite with WAL mode, and runs
// migrations.
func New(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "timetree.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// SQLite performance and integrity pragmas
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, cfg: cfg}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store: migration: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// newID returns a fresh opaque record identifier.
func newID() string {
	return uuid.NewString()
}

// now returns the canonical timestamp format used across all records.
func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			mode       TEXT NOT NULL DEFAULT 'tree',
			started_at TEXT NOT NULL DEFAULT (datetime('now')),
			ended_at   TEXT
		);

		CREATE TABLE IF NOT EXISTS branches (
			id          TEXT PRIMARY KEY,
			session_id  TEXT NOT NULL,
			parent_id   TEXT,
			timeline_id TEXT,
			content     TEXT NOT NULL DEFAULT '',
			priority    REAL NOT NULL DEFAULT 0,
			confidence  REAL NOT NULL DEFAULT 0,
			state       TEXT NOT NULL DEFAULT 'active',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE,
			FOREIGN KEY (parent_id)  REFERENCES branches(id) ON DELETE SET NULL
		);

		CREATE INDEX IF NOT EXISTS idx_branch_session  ON branches(session_id);
		CREATE INDEX IF NOT EXISTS idx_branch_parent   ON branches(parent_id);
		CREATE INDEX IF NOT EXISTS idx_branch_timeline ON branches(timeline_id);

		CREATE TABLE IF NOT EXISTS cross_refs (
			id         TEXT PRIMARY KEY,
			from_id    TEXT NOT NULL,
			to_id      TEXT NOT NULL,
			kind       TEXT NOT NULL,
			strength   REAL NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			FOREIGN KEY (from_id) REFERENCES branches(id) ON DELETE CASCADE,
			FOREIGN KEY (to_id)   REFERENCES branches(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_ref_from ON cross_refs(from_id);
		CREATE INDEX IF NOT EXISTS idx_ref_to   ON cross_refs(to_id);

		CREATE TABLE IF NOT EXISTS checkpoints (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			branch_id  TEXT,
			name       TEXT NOT NULL,
			payload    TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE,
			FOREIGN KEY (branch_id)  REFERENCES branches(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_ckpt_session ON checkpoints(session_id);
		CREATE INDEX IF NOT EXISTS idx_ckpt_branch  ON checkpoints(branch_id);

		CREATE TABLE IF NOT EXISTS state_snapshots (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			kind       TEXT NOT NULL,
			payload    TEXT NOT NULL,
			parent_id  TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE,
			FOREIGN KEY (parent_id)  REFERENCES state_snapshots(id)
		);

		CREATE INDEX IF NOT EXISTS idx_snap_session ON state_snapshots(session_id);
		CREATE INDEX IF NOT EXISTS idx_snap_parent  ON state_snapshots(parent_id);

		CREATE TABLE IF NOT EXISTS timelines (
			id               TEXT PRIMARY KEY,
			session_id       TEXT NOT NULL,
			root_branch_id   TEXT NOT NULL,
			active_branch_id TEXT NOT NULL,
			branch_count     INTEGER NOT NULL DEFAULT 1,
			max_depth        INTEGER NOT NULL DEFAULT 0,
			state            TEXT NOT NULL DEFAULT 'active',
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL,
			FOREIGN KEY (session_id)       REFERENCES sessions(id) ON DELETE CASCADE,
			FOREIGN KEY (root_branch_id)   REFERENCES branches(id),
			FOREIGN KEY (active_branch_id) REFERENCES branches(id)
		);

		CREATE INDEX IF NOT EXISTS idx_tl_session ON timelines(session_id);

		CREATE TABLE IF NOT EXISTS timeline_branches (
			branch_id             TEXT PRIMARY KEY,
			timeline_id           TEXT NOT NULL,
			depth                 INTEGER NOT NULL DEFAULT 0,
			visit_count           INTEGER NOT NULL DEFAULT 0,
			total_value           REAL NOT NULL DEFAULT 0,
			ucb_score             REAL NOT NULL DEFAULT 0,
			counterfactual_impact REAL NOT NULL DEFAULT 0,
			mcts_generated        INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (branch_id)   REFERENCES branches(id)  ON DELETE CASCADE,
			FOREIGN KEY (timeline_id) REFERENCES timelines(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_tlb_timeline ON timeline_branches(timeline_id);

		CREATE TABLE IF NOT EXISTS mcts_nodes (
			id               TEXT PRIMARY KEY,
			session_id       TEXT NOT NULL,
			timeline_id      TEXT NOT NULL,
			branch_id        TEXT NOT NULL,
			parent_id        TEXT,
			visit_count      INTEGER NOT NULL DEFAULT 0,
			total_value      REAL NOT NULL DEFAULT 0,
			prior            REAL NOT NULL DEFAULT 0,
			ucb_score        REAL NOT NULL DEFAULT 0,
			is_expanded      INTEGER NOT NULL DEFAULT 0,
			is_terminal      INTEGER NOT NULL DEFAULT 0,
			simulation_depth INTEGER NOT NULL DEFAULT 0,
			last_visited     TEXT,
			FOREIGN KEY (session_id)  REFERENCES sessions(id)   ON DELETE CASCADE,
			FOREIGN KEY (timeline_id) REFERENCES timelines(id)  ON DELETE CASCADE,
			FOREIGN KEY (branch_id)   REFERENCES branches(id)   ON DELETE CASCADE,
			FOREIGN KEY (parent_id)   REFERENCES mcts_nodes(id)
		);

		CREATE INDEX IF NOT EXISTS idx_node_timeline ON mcts_nodes(timeline_id);
		CREATE INDEX IF NOT EXISTS idx_node_branch   ON mcts_nodes(branch_id);
		CREATE INDEX IF NOT EXISTS idx_node_parent   ON mcts_nodes(parent_id);

		CREATE TABLE IF NOT EXISTS counterfactual_analyses (
			id                       TEXT PRIMARY KEY,
			session_id               TEXT NOT NULL,
			original_branch_id       TEXT NOT NULL,
			target_branch_id         TEXT NOT NULL,
			intervention_type        TEXT NOT NULL,
			intervention_payload     TEXT NOT NULL DEFAULT '',
			counterfactual_branch_id TEXT NOT NULL,
			outcome_delta            REAL NOT NULL DEFAULT 0,
			causal_attribution       REAL NOT NULL DEFAULT 0,
			confidence               REAL NOT NULL DEFAULT 0,
			comparison               TEXT NOT NULL DEFAULT '{}',
			created_at               TEXT NOT NULL,
			FOREIGN KEY (session_id)               REFERENCES sessions(id) ON DELETE CASCADE,
			FOREIGN KEY (original_branch_id)       REFERENCES branches(id),
			FOREIGN KEY (counterfactual_branch_id) REFERENCES branches(id)
		);

		CREATE INDEX IF NOT EXISTS idx_cf_session  ON counterfactual_analyses(session_id);
		CREATE INDEX IF NOT EXISTS idx_cf_original ON counterfactual_analyses(original_branch_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// ─── Sessions ────────────────────────────────────────────────────────────────

// CreateSession registers a new reasoning session. Mode defaults to
// "tree" when empty.
func (s *Store) CreateSession(id, mode string) error {
	if mode == "" {
		mode = "tree"
	}
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO sessions (id, mode) VALUES (?, ?)`,
		id, mode,
	)
	return err
}

// EndSession marks a session as ended.
func (s *Store) EndSession(id string) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET ended_at = datetime('now') WHERE id = ?`, id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: session %q", ErrNotFound, id)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(
		`SELECT id, mode, started_at, ended_at FROM sessions WHERE id = ?`, id,
	)
	var sess Session
	if err := row.Scan(&sess.ID, &sess.Mode, &sess.StartedAt, &sess.EndedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: session %q", ErrNotFound, id)
		}
		return nil, err
	}
	return &sess, nil
}

// DeleteSession removes a session and, via the schema's cascades, every
// record it owns: branches, cross-refs, checkpoints, snapshots,
// timelines, search nodes, and analyses.
func (s *Store) DeleteSession(id string) error {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: session %q", ErrNotFound, id)
	}
	return nil
}

// SessionStats returns aggregate record counts for one session.
func (s *Store) SessionStats(sessionID string) (*Stats, error) {
	if _, err := s.GetSession(sessionID); err != nil {
		return nil, err
	}

	var st Stats
	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM branches WHERE session_id = ?`, &st.Branches},
		{`SELECT COUNT(*) FROM cross_refs WHERE from_id IN (SELECT id FROM branches WHERE session_id = ?)`, &st.CrossRefs},
		{`SELECT COUNT(*) FROM checkpoints WHERE session_id = ?`, &st.Checkpoints},
		{`SELECT COUNT(*) FROM state_snapshots WHERE session_id = ?`, &st.StateSnapshots},
		{`SELECT COUNT(*) FROM timelines WHERE session_id = ?`, &st.Timelines},
		{`SELECT COUNT(*) FROM mcts_nodes WHERE session_id = ?`, &st.SearchNodes},
		{`SELECT COUNT(*) FROM counterfactual_analyses WHERE session_id = ?`, &st.Analyses},
	}
	for _, c := range counts {
		if err := s.db.QueryRow(c.query, sessionID).Scan(c.dest); err != nil {
			return nil, err
		}
	}
	return &st, nil
}
