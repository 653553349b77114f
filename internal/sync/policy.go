package sync

import (
	"context"
	"fmt"

	"github.com/Ikey168/Modulo-sub010/internal/clock"
	"github.com/Ikey168/Modulo-sub010/internal/note"
	"github.com/Ikey168/Modulo-sub010/internal/store"
)

// outcome is the result of pushing one classified mutation through the
// policy: exactly one of applied/acked/conflict describes its fate.
type outcome struct {
	decision Decision

	// applied is the server-stamped note for apply paths, or the stored
	// copy being echoed for an acknowledged create retry. Nil for
	// acknowledged deletes and conflicts.
	applied *note.Note

	// conflict is set when the decision was a conflict.
	conflict *note.ConflictRecord
}

// policy executes decisions: clean ones write through the store with a
// fresh stamp, conflicts append to the audit log and touch nothing else.
type policy struct {
	store *store.Store
	clock clock.Clock
}

// apply executes one decision. The caller holds the note's lock and
// supplies the same current copy that Classify saw.
func (p *policy) apply(ctx context.Context, owner string, m note.Mutation, current *note.Note, d Decision) (*outcome, error) {
	out := &outcome{decision: d}

	switch d.Action {
	case ActionApplyCreate:
		n := m.Note.Clone()
		n.Owner = owner
		n.NormalizeTags()
		rev, ts := clock.Stamp(p.clock, nil)
		n.Revision = rev
		n.CreatedAt = ts
		n.ModifiedAt = ts
		n.Deleted = false
		if err := p.store.PutNoteContext(ctx, n); err != nil {
			return nil, fmt.Errorf("failed to apply create for note %s: %w", n.ID, err)
		}
		out.applied = n

	case ActionApplyUpdate:
		n := m.Note.Clone()
		n.Owner = owner
		n.NormalizeTags()
		rev, ts := clock.Stamp(p.clock, current)
		n.Revision = rev
		n.ModifiedAt = ts
		n.CreatedAt = current.CreatedAt
		n.Deleted = false
		if err := p.store.UpdateNoteExpected(ctx, n, current.Revision); err != nil {
			return nil, fmt.Errorf("failed to apply update for note %s: %w", n.ID, err)
		}
		out.applied = n

	case ActionApplyDelete:
		n := current.Clone()
		n.Deleted = true
		n.ClearContent()
		rev, ts := clock.Stamp(p.clock, current)
		n.Revision = rev
		n.ModifiedAt = ts
		if err := p.store.UpdateNoteExpected(ctx, n, current.Revision); err != nil {
			return nil, fmt.Errorf("failed to apply delete for note %s: %w", n.ID, err)
		}
		out.applied = n

	case ActionAckCreate:
		// The first attempt already landed; echo the stored copy unchanged
		out.applied = current.Clone()

	case ActionAckDelete:
		// Already a tombstone; nothing to write, the id alone is echoed

	case ActionConflict:
		rec := &note.ConflictRecord{
			NoteID:     m.NoteID,
			Kind:       d.Kind,
			ClientNote: clientSnapshot(owner, m),
			ServerNote: current.Clone(),
			DetectedAt: p.clock.Now().UTC(),
		}
		if _, err := p.store.LogConflict(ctx, owner, rec); err != nil {
			return nil, fmt.Errorf("failed to log conflict for note %s: %w", m.NoteID, err)
		}
		out.conflict = rec

	default:
		return nil, fmt.Errorf("unknown action %v for note %s", d.Action, m.NoteID)
	}

	return out, nil
}

// clientSnapshot preserves the mutation's payload as submitted for the
// conflict record. Deletes carry no payload; the record keeps nil.
func clientSnapshot(owner string, m note.Mutation) *note.Note {
	if m.Note == nil {
		return nil
	}
	n := m.Note.Clone()
	n.Owner = owner
	return n
}
