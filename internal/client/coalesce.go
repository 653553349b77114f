package client

import (
	"time"

	"github.com/Ikey168/Modulo-sub010/internal/note"
	"github.com/Ikey168/Modulo-sub010/internal/store"
	notesync "github.com/Ikey168/Modulo-sub010/internal/sync"
)

// foldState tracks the collapsed outcome of a note's queued mutations.
type foldState int

const (
	foldNone    foldState = iota // no rows absorbed yet
	foldCreate                   // net-new note the server has never seen
	foldUpdate                   // edit of a note the server holds at base
	foldDelete                   // delete of a note the server holds at base
	foldGone                     // created and deleted locally; nothing to send
)

// fold is the net effect of every queued mutation for one note id.
//
// The outbox preserves raw history, but submitting it row by row would
// manufacture conflicts: the server processes duplicates for one id
// sequentially, so a create followed by a queued edit would apply the
// create at revision 1 and then reject the edit, whose base revision
// predates it. Collapsing to one mutation per id keeps the base revision
// honest: it is always the last revision this device synced.
type fold struct {
	noteID  string
	state   foldState
	base    int64      // base revision for updates and deletes
	payload *note.Note // final payload for creates and updates
	seqs    []int64    // every outbox row collapsed into this fold
}

// dead reports whether the rows cancelled out and nothing travels.
func (f *fold) dead() bool {
	return f.state == foldGone
}

// absorb advances the fold by one queued mutation. The transition table is
// total: any op sequence the outbox can hold collapses to a single net
// operation, including resurrections, where a delete of a synced note is
// followed by a same-id create and the pair collapses to an update so the
// server never observes the transient tombstone.
func (f *fold) absorb(qm *store.QueuedMutation) {
	f.seqs = append(f.seqs, qm.Seq)

	switch f.state {
	case foldNone:
		switch qm.Op {
		case note.OpCreate:
			f.state, f.payload = foldCreate, qm.Note
		case note.OpUpdate:
			f.state, f.base, f.payload = foldUpdate, qm.BaseRevision, qm.Note
		case note.OpDelete:
			f.state, f.base = foldDelete, qm.BaseRevision
		}

	case foldCreate:
		switch qm.Op {
		case note.OpCreate, note.OpUpdate:
			f.payload = qm.Note
		case note.OpDelete:
			f.state, f.payload = foldGone, nil
		}

	case foldUpdate:
		switch qm.Op {
		case note.OpCreate, note.OpUpdate:
			// Base stays pinned to the first row's revision; local edits
			// never advance the synced revision.
			f.payload = qm.Note
		case note.OpDelete:
			f.state, f.payload = foldDelete, nil
		}

	case foldDelete:
		switch qm.Op {
		case note.OpCreate, note.OpUpdate:
			f.state, f.payload = foldUpdate, qm.Note
		case note.OpDelete:
		}

	case foldGone:
		switch qm.Op {
		case note.OpCreate, note.OpUpdate:
			f.state, f.payload = foldCreate, qm.Note
		case note.OpDelete:
		}
	}
}

// coalesce collapses outbox rows into at most one net mutation per note
// id, preserving first-touch order across ids.
func coalesce(rows []*store.QueuedMutation) []*fold {
	byID := make(map[string]*fold, len(rows))
	folds := make([]*fold, 0, len(rows))
	for _, qm := range rows {
		f := byID[qm.NoteID]
		if f == nil {
			f = &fold{noteID: qm.NoteID}
			byID[qm.NoteID] = f
			folds = append(folds, f)
		}
		f.absorb(qm)
	}
	return folds
}

// buildRequest assembles the wire request for the folds against the
// device's cursor. Dead folds are omitted; an empty fold list yields a
// pure pull.
func buildRequest(folds []*fold, cur note.Cursor) *notesync.Request {
	req := &notesync.Request{}
	if !cur.IsZero() {
		ts := cur.Timestamp
		req.LastSyncTimestamp = &ts
		req.LastSyncRevision = cur.Revision
	}

	for _, f := range folds {
		switch f.state {
		case foldCreate:
			n := f.payload.Clone()
			n.Revision = 0
			n.Deleted = false
			req.NotesToCreate = append(req.NotesToCreate, n)
		case foldUpdate:
			// The engine reads the update's base revision off the payload.
			n := f.payload.Clone()
			n.Revision = f.base
			n.Deleted = false
			req.NotesToUpdate = append(req.NotesToUpdate, n)
		case foldDelete:
			req.NoteIDsToDelete = append(req.NoteIDsToDelete, f.noteID)
			if req.DeleteBaseRevisions == nil {
				req.DeleteBaseRevisions = make(map[string]int64)
			}
			req.DeleteBaseRevisions[f.noteID] = f.base
		}
	}
	return req
}

// submittedDeletes returns the set of note ids the request deletes, used
// to split the response's union deletedNoteIds bucket into echoes of our
// own deletes versus tombstones minted elsewhere.
func submittedDeletes(folds []*fold) map[string]bool {
	out := make(map[string]bool)
	for _, f := range folds {
		if f.state == foldDelete {
			out[f.noteID] = true
		}
	}
	return out
}

// conflictRecord converts a wire conflict into the locally logged form.
func conflictRecord(ci notesync.ConflictInfo) *note.ConflictRecord {
	return &note.ConflictRecord{
		NoteID:     ci.LocalNoteID,
		Kind:       ci.ConflictType,
		ClientNote: ci.ClientNote,
		ServerNote: ci.ServerNote,
		DetectedAt: time.Now().UTC(),
	}
}
