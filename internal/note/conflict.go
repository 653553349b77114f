package note

import "time"

// ConflictKind classifies why a mutation could not be applied. The set is
// closed: resolution UIs switch over it exhaustively, and an unknown kind
// is a programming error, not an extension point.
type ConflictKind string

const (
	// ConflictModifiedBoth: both replicas changed the same note since the
	// client's base revision.
	ConflictModifiedBoth ConflictKind = "modified_both"
	// ConflictDeleteVsModify: the client deleted a note the server has since
	// modified.
	ConflictDeleteVsModify ConflictKind = "delete_vs_modify"
	// ConflictModifyVsDelete: the client modified a note the server has since
	// deleted (tombstone present).
	ConflictModifyVsDelete ConflictKind = "modify_vs_delete"
	// ConflictCreateBoth: two replicas created the same id with different
	// content. With random ids this indicates an id collision or a buggy
	// client, but it is still surfaced rather than silently merged.
	ConflictCreateBoth ConflictKind = "create_both"
	// ConflictOrphanedMutation: the mutation references a note the server has
	// no record of, not even a tombstone. Either it never existed or its
	// tombstone aged out of the retention window.
	ConflictOrphanedMutation ConflictKind = "orphaned_mutation"
)

// Valid reports whether k is one of the known conflict kinds.
func (k ConflictKind) Valid() bool {
	switch k {
	case ConflictModifiedBoth, ConflictDeleteVsModify, ConflictModifyVsDelete,
		ConflictCreateBoth, ConflictOrphanedMutation:
		return true
	}
	return false
}

// ConflictRecord captures everything a client needs to resolve one conflict:
// the kind, the rejected client payload, and the server's current copy.
// ServerNote is nil for orphaned mutations, and carries the tombstone for
// modify-vs-delete. Conflicts never mutate the store; the record is the
// entire effect.
type ConflictRecord struct {
	NoteID     string       `json:"noteId"`
	Kind       ConflictKind `json:"kind"`
	ClientNote *Note        `json:"clientNote,omitempty"` // as submitted; nil for deletes
	ServerNote *Note        `json:"serverNote,omitempty"` // current server copy at detection time
	DetectedAt time.Time    `json:"detectedAt"`
}
