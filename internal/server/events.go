package server

import (
	"encoding/json"
	"time"

	notesync "github.com/Ikey168/Modulo-sub010/internal/sync"
)

// EventType defines the type of a change feed event.
type EventType string

const (
	// EventHello is sent once when a subscription is established
	EventHello EventType = "hello"

	// EventNoteChanged indicates a note was created or updated
	EventNoteChanged EventType = "note_changed"

	// EventNotesDeleted indicates one or more notes were deleted
	EventNotesDeleted EventType = "notes_deleted"

	// EventSyncComplete summarizes a finished sync round trip
	EventSyncComplete EventType = "sync_complete"
)

// Event is one change feed message. Owner routes the event to the right
// subscribers and never goes over the wire.
type Event struct {
	Type      EventType       `json:"type"`
	Owner     string          `json:"-"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NoteChangedData identifies a changed note. Content stays out of the
// feed; subscribers pull it with their own sync.
type NoteChangedData struct {
	NoteID   string `json:"noteId"`
	Revision int64  `json:"revision"`
	Action   string `json:"action"` // created, updated
}

// NotesDeletedData lists deleted note ids.
type NotesDeletedData struct {
	NoteIDs []string `json:"noteIds"`
}

// SyncCompleteData summarizes one processed sync request.
type SyncCompleteData struct {
	Created   int           `json:"created"`
	Updated   int           `json:"updated"`
	Deleted   int           `json:"deleted"`
	Conflicts int           `json:"conflicts"`
	Rejected  int           `json:"rejected"`
	Duration  time.Duration `json:"duration"`
}

// notifySync fans a processed sync response out to the owner's other
// devices so they learn about changes without polling. Only mutations the
// request itself got accepted are announced; deltas the response merely
// relayed were announced when their own request landed.
func (s *Server) notifySync(owner string, req *notesync.Request, resp *notesync.Response, took time.Duration) {
	submitted := make(map[string]bool, len(req.NoteIDsToDelete))
	for _, id := range req.NoteIDsToDelete {
		submitted[id] = true
	}
	var deleted []string
	for _, id := range resp.DeletedNoteIDs {
		if submitted[id] {
			deleted = append(deleted, id)
		}
	}

	if len(resp.CreatedNotes)+len(resp.UpdatedNotes)+len(deleted) == 0 {
		return
	}

	now := time.Now().UTC()
	for _, n := range resp.CreatedNotes {
		s.broadcastData(owner, EventNoteChanged, now, NoteChangedData{
			NoteID:   n.ID,
			Revision: n.Revision,
			Action:   "created",
		})
	}
	for _, n := range resp.UpdatedNotes {
		s.broadcastData(owner, EventNoteChanged, now, NoteChangedData{
			NoteID:   n.ID,
			Revision: n.Revision,
			Action:   "updated",
		})
	}
	if len(deleted) > 0 {
		s.broadcastData(owner, EventNotesDeleted, now, NotesDeletedData{
			NoteIDs: deleted,
		})
	}

	s.broadcastData(owner, EventSyncComplete, now, SyncCompleteData{
		Created:   len(resp.CreatedNotes),
		Updated:   len(resp.UpdatedNotes),
		Deleted:   len(deleted),
		Conflicts: len(resp.Conflicts),
		Rejected:  len(resp.Rejected),
		Duration:  took,
	})
}

func (s *Server) broadcastData(owner string, typ EventType, ts time.Time, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.Printf("Failed to marshal %s event: %v", typ, err)
		return
	}
	s.Broadcast(Event{
		Type:      typ,
		Owner:     owner,
		Timestamp: ts,
		Data:      payload,
	})
}
