package sync

import (
	"github.com/Ikey168/Modulo-sub010/internal/note"
)

// Action is what the policy should do with a classified mutation.
type Action int

const (
	// ActionApplyCreate writes a brand-new note.
	ActionApplyCreate Action = iota
	// ActionApplyUpdate replaces the current copy.
	ActionApplyUpdate
	// ActionApplyDelete tombstones the current copy.
	ActionApplyDelete
	// ActionAckCreate acknowledges a retried create whose content already
	// landed: echo the stored note, write nothing.
	ActionAckCreate
	// ActionAckDelete acknowledges a delete of an already-tombstoned note:
	// echo the id, write nothing.
	ActionAckDelete
	// ActionConflict emits a conflict record and leaves the store untouched.
	ActionConflict
)

// String returns a human-readable action name for logs.
func (a Action) String() string {
	switch a {
	case ActionApplyCreate:
		return "apply-create"
	case ActionApplyUpdate:
		return "apply-update"
	case ActionApplyDelete:
		return "apply-delete"
	case ActionAckCreate:
		return "ack-create"
	case ActionAckDelete:
		return "ack-delete"
	case ActionConflict:
		return "conflict"
	}
	return "unknown"
}

// Decision is the outcome of classifying one mutation against the note's
// current server copy. Kind is set only for ActionConflict.
type Decision struct {
	Action Action
	Kind   note.ConflictKind
}

func conflict(kind note.ConflictKind) Decision {
	return Decision{Action: ActionConflict, Kind: kind}
}

// Classify decides the fate of one pending mutation given the note's
// current server copy (nil when the server holds no record at all, not
// even a tombstone). Pure: no I/O, no clock, no store access; the caller
// holds the note's lock and supplies a consistent current.
//
// The rules, in priority order:
//
//  1. Create with no current copy: clean create.
//  2. Create over a live copy with byte-identical content: a retried
//     create whose first attempt landed but whose response was lost.
//     Acknowledge without writing. Any other create collision (different
//     content, or a tombstone) is a create_both conflict.
//  3. Update or delete of a note the server has no record of: the note
//     was never created here or its tombstone aged out past retention.
//     Surfaced as orphaned_mutation rather than silently dropped.
//  4. Update whose base revision equals the live copy's revision: clean.
//  5. Update against any other live revision: both sides changed it,
//     modified_both.
//  6. Update over a tombstone: modify_vs_delete.
//  7. Delete of an already-tombstoned note: idempotent, acknowledge
//     without writing.
//  8. Delete whose base revision equals the live copy's revision: clean.
//  9. Delete against any other live revision: the server side moved on,
//     delete_vs_modify.
func Classify(m note.Mutation, current *note.Note) Decision {
	switch m.Op {
	case note.OpCreate:
		// Step 1: no server record at all
		if current == nil {
			return Decision{Action: ActionApplyCreate}
		}
		// Step 2: id collision; only an identical live copy is a retry
		if !current.Deleted && note.ContentEqual(m.Note, current) {
			return Decision{Action: ActionAckCreate}
		}
		return conflict(note.ConflictCreateBoth)

	case note.OpUpdate:
		// Step 3: nothing to update, not even a tombstone
		if current == nil {
			return conflict(note.ConflictOrphanedMutation)
		}
		// Step 6: the server deleted it while the client kept editing
		if current.Deleted {
			return conflict(note.ConflictModifyVsDelete)
		}
		// Steps 4 and 5: revision agreement decides
		if m.BaseRevision == current.Revision {
			return Decision{Action: ActionApplyUpdate}
		}
		return conflict(note.ConflictModifiedBoth)

	case note.OpDelete:
		// Step 3 again: no record anywhere
		if current == nil {
			return conflict(note.ConflictOrphanedMutation)
		}
		// Step 7: already gone; deleting twice is clean both times
		if current.Deleted {
			return Decision{Action: ActionAckDelete}
		}
		// Steps 8 and 9
		if m.BaseRevision == current.Revision {
			return Decision{Action: ActionApplyDelete}
		}
		return conflict(note.ConflictDeleteVsModify)
	}

	// Unreachable for validated mutations
	return conflict(note.ConflictOrphanedMutation)
}
