// Package snapshot implements checkpoints and composeable state
// snapshots: point-in-time restore targets plus full/incremental
// snapshot chains that resolve deterministically.
//
// Time travel here is non-destructive: restoring a checkpoint or a
// snapshot never mutates the source record — it materializes a fresh
// active branch whose content equals the resolved payload.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/calebrosier/timetree/internal/store"
)

// ErrCorruptChain marks a snapshot chain that does not terminate at a
// complete snapshot within the hop bound.
var ErrCorruptChain = errors.New("corrupt snapshot chain")

// maxChainHops bounds every parent-chain walk during resolution.
const maxChainHops = 256

// Service resolves and restores checkpoints and snapshot chains.
type Service struct {
	store *store.Store
}

// New creates a snapshot Service over the given store.
func New(st *store.Store) *Service {
	return &Service{store: st}
}

// ─── Creation ────────────────────────────────────────────────────────────────

// CreateCheckpoint records a named, immutable restore target. The
// anchoring branch must already exist before the checkpoint referencing
// it is valid; the store enforces that before writing.
func (s *Service) CreateCheckpoint(sessionID string, branchID *string, name, payload string) (*store.Checkpoint, error) {
	return s.store.CreateCheckpoint(sessionID, branchID, name, payload)
}

// CreateSnapshot records a snapshot node. Full and branch snapshots
// carry a complete payload; incremental snapshots carry a JSON object
// diff (key → value overrides, JSON null deletes) against their parent.
func (s *Service) CreateSnapshot(sessionID string, kind store.SnapshotKind, payload string, parentID *string) (*store.StateSnapshot, error) {
	if kind == store.SnapshotIncremental {
		var diff map[string]json.RawMessage
		if err := json.Unmarshal([]byte(payload), &diff); err != nil {
			return nil, fmt.Errorf("%w: incremental payload must be a JSON object: %v", store.ErrValidation, err)
		}
	}
	return s.store.CreateStateSnapshot(sessionID, kind, payload, parentID)
}

// ─── Resolution ──────────────────────────────────────────────────────────────

// Resolve materializes the full payload of a snapshot. For an
// incremental snapshot it walks the parent chain to the nearest
// non-incremental ancestor and applies diffs in root-to-leaf order.
// Full and branch snapshots both carry complete payloads, so either
// kind anchors a chain. Resolving the same snapshot twice yields
// byte-identical payloads.
func (s *Service) Resolve(snapshotID string) (string, error) {
	snap, err := s.store.GetStateSnapshot(snapshotID)
	if err != nil {
		return "", err
	}

	// Fast path: a non-incremental snapshot is its own payload.
	if snap.Kind != store.SnapshotIncremental {
		return snap.Payload, nil
	}

	// Collect the chain leaf-to-root until the nearest complete
	// (full or branch) snapshot.
	var diffs []string
	cur := snap
	for hops := 0; cur.Kind == store.SnapshotIncremental; hops++ {
		if hops > maxChainHops {
			return "", fmt.Errorf("%w: snapshot %q chain exceeds %d hops", ErrCorruptChain, snapshotID, maxChainHops)
		}
		diffs = append(diffs, cur.Payload)
		if cur.ParentID == nil {
			return "", fmt.Errorf("%w: snapshot %q has no full ancestor", ErrCorruptChain, snapshotID)
		}
		parent, err := s.store.GetStateSnapshot(*cur.ParentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return "", fmt.Errorf("%w: snapshot %q parent missing", ErrCorruptChain, snapshotID)
			}
			return "", err
		}
		cur = parent
	}

	base := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(cur.Payload), &base); err != nil {
		return "", fmt.Errorf("%w: full snapshot %q payload is not a JSON object", ErrCorruptChain, cur.ID)
	}

	// Apply diffs root-to-leaf: diffs was collected leaf-to-root.
	for i := len(diffs) - 1; i >= 0; i-- {
		var diff map[string]json.RawMessage
		if err := json.Unmarshal([]byte(diffs[i]), &diff); err != nil {
			return "", fmt.Errorf("%w: incremental payload is not a JSON object", ErrCorruptChain)
		}
		for k, v := range diff {
			if string(v) == "null" {
				delete(base, k)
				continue
			}
			base[k] = v
		}
	}

	// Marshaling a map sorts its keys, so repeated resolution of the
	// same chain is byte-identical.
	out, err := json.Marshal(base)
	if err != nil {
		return "", fmt.Errorf("snapshot: marshal resolved payload: %w", err)
	}
	return string(out), nil
}

// ─── Restore ─────────────────────────────────────────────────────────────────

// RestoreCheckpoint materializes a fresh active branch carrying the
// checkpoint's payload. The source checkpoint and its anchoring branch
// are left untouched; when the anchor belongs to a timeline, the new
// branch joins it and becomes the timeline's active branch.
func (s *Service) RestoreCheckpoint(checkpointID string) (*store.Branch, error) {
	ckpt, err := s.store.GetCheckpoint(checkpointID)
	if err != nil {
		return nil, err
	}

	params := store.CreateBranchParams{
		SessionID: ckpt.SessionID,
		ParentID:  ckpt.BranchID,
		Content:   ckpt.Payload,
	}

	var timelineID *string
	if ckpt.BranchID != nil {
		anchor, err := s.store.GetBranch(*ckpt.BranchID)
		if err == nil {
			params.TimelineID = anchor.TimelineID
			timelineID = anchor.TimelineID
		}
		// A deleted anchor leaves the checkpoint restorable as a root.
		if err != nil {
			params.ParentID = nil
		}
	}

	b, err := s.store.CreateBranch(params)
	if err != nil {
		return nil, err
	}
	if timelineID != nil {
		if err := s.store.SetActiveBranch(*timelineID, b.ID); err != nil {
			log.Warn().Err(err).Str("timeline", *timelineID).Msg("restored branch not promoted to active")
		}
	}
	return b, nil
}

// RestoreSnapshot resolves a snapshot chain and materializes a fresh
// active root branch carrying the resolved payload.
func (s *Service) RestoreSnapshot(snapshotID string) (*store.Branch, error) {
	snap, err := s.store.GetStateSnapshot(snapshotID)
	if err != nil {
		return nil, err
	}
	payload, err := s.Resolve(snapshotID)
	if err != nil {
		return nil, err
	}
	return s.store.CreateBranch(store.CreateBranchParams{
		SessionID: snap.SessionID,
		Content:   payload,
	})
}
