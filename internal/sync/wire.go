package sync

import (
	"time"

	"github.com/Ikey168/Modulo-sub010/internal/note"
)

// Request is one client sync submission: the mutations performed offline
// plus the cursor of server state the client has already applied.
//
// Deletes travel as bare ids; DeleteBaseRevisions carries the revision
// each deleting client last saw, keyed by note id. A delete whose id is
// missing from the map fails structural validation and lands in the
// rejected bucket: the server never guesses a base revision, because a
// guessed base could silently discard a concurrent edit.
type Request struct {
	NotesToCreate   []*note.Note `json:"notesToCreate,omitempty"`
	NotesToUpdate   []*note.Note `json:"notesToUpdate,omitempty"`
	NoteIDsToDelete []string     `json:"noteIdsToDelete,omitempty"`

	DeleteBaseRevisions map[string]int64 `json:"deleteBaseRevisions,omitempty"`

	// LastSyncTimestamp is nil on a device's very first sync.
	LastSyncTimestamp *time.Time `json:"lastSyncTimestamp"`
	LastSyncRevision  int64      `json:"lastSyncRevision,omitempty"`
}

// Cursor returns the watermark the request was built against.
func (r *Request) Cursor() note.Cursor {
	if r.LastSyncTimestamp == nil {
		return note.Cursor{}
	}
	return note.Cursor{Timestamp: r.LastSyncTimestamp.UTC(), Revision: r.LastSyncRevision}
}

// Mutations flattens the request buckets into processing order: creates,
// then updates, then deletes, preserving list order within each bucket.
// A later mutation to the same note id observes the earlier one's outcome.
func (r *Request) Mutations() []note.Mutation {
	out := make([]note.Mutation, 0, len(r.NotesToCreate)+len(r.NotesToUpdate)+len(r.NoteIDsToDelete))
	for _, n := range r.NotesToCreate {
		out = append(out, note.Mutation{Op: note.OpCreate, NoteID: noteID(n), Note: n})
	}
	for _, n := range r.NotesToUpdate {
		out = append(out, note.Mutation{Op: note.OpUpdate, NoteID: noteID(n), BaseRevision: baseRevision(n), Note: n})
	}
	for _, id := range r.NoteIDsToDelete {
		out = append(out, note.Mutation{Op: note.OpDelete, NoteID: id, BaseRevision: r.DeleteBaseRevisions[id]})
	}
	return out
}

// Size returns how many mutations the request carries.
func (r *Request) Size() int {
	return len(r.NotesToCreate) + len(r.NotesToUpdate) + len(r.NoteIDsToDelete)
}

func noteID(n *note.Note) string {
	if n == nil {
		return ""
	}
	return n.ID
}

func baseRevision(n *note.Note) int64 {
	if n == nil {
		return 0
	}
	return n.Revision
}

// ConflictInfo is the wire form of a conflict: which note, why, and both
// versions so the client can offer a resolution choice without another
// round trip.
type ConflictInfo struct {
	LocalNoteID  string            `json:"localNoteId"`
	ConflictType note.ConflictKind `json:"conflictType"`
	ClientNote   *note.Note        `json:"clientNote,omitempty"`
	ServerNote   *note.Note        `json:"serverNote,omitempty"`
}

// RejectedMutation reports a mutation that failed structural validation.
// Nothing server-side was examined; the client fixes the payload and
// resubmits.
type RejectedMutation struct {
	NoteID string          `json:"noteId"`
	Op     note.MutationOp `json:"op"`
	Reason string          `json:"reason"`
}

// Response reports the fate of every submitted mutation exactly once and
// delivers the server-side changes the client hadn't seen.
//
// DeletedNoteIDs is a union bucket: the client's own accepted deletes plus
// tombstones other replicas created since the cursor. Applying it is
// idempotent either way, so the client doesn't need to tell them apart.
type Response struct {
	CreatedNotes   []*note.Note `json:"createdNotes"`
	UpdatedNotes   []*note.Note `json:"updatedNotes"`
	DeletedNoteIDs []string     `json:"deletedNoteIds"`

	// ServerNotes carries live notes changed on the server side since the
	// client's cursor, excluding anything echoed in the buckets above.
	ServerNotes []*note.Note `json:"serverNotes"`

	Conflicts []ConflictInfo     `json:"conflicts"`
	Rejected  []RejectedMutation `json:"rejected,omitempty"`

	// Timestamp and Revision form the new cursor. The client persists them
	// only after applying everything above.
	Timestamp time.Time `json:"timestamp"`
	Revision  int64     `json:"revision"`
}

// Cursor returns the new watermark the client should persist after
// applying the response.
func (r *Response) Cursor() note.Cursor {
	return note.Cursor{Timestamp: r.Timestamp, Revision: r.Revision}
}
