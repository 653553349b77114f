package note

import "fmt"

// MutationOp identifies the kind of a pending mutation. String-typed so it
// survives the outbox table and wire logs without a translation layer.
type MutationOp string

const (
	OpCreate MutationOp = "create"
	OpUpdate MutationOp = "update"
	OpDelete MutationOp = "delete"
)

// Valid reports whether op is one of the three known operations.
func (op MutationOp) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Mutation is one client-side change queued for the server: an operation,
// the payload it needs, and the base revision the client last saw for the
// note (zero for creates, where no server copy existed).
//
// Creates and updates carry the full proposed note in Note; deletes carry
// only the id. NoteID is always set and is the locking key.
type Mutation struct {
	Op           MutationOp `json:"op"`
	NoteID       string     `json:"noteId"`
	BaseRevision int64      `json:"baseRevision,omitempty"`
	Note         *Note      `json:"note,omitempty"`
}

// Validate checks that the mutation is structurally sound for its operation.
// Payload-level note validation (title, sizes) is separate and reported per
// mutation by the engine.
func (m *Mutation) Validate() error {
	if !m.Op.Valid() {
		return fmt.Errorf("unknown mutation op %q", m.Op)
	}
	if m.NoteID == "" {
		return fmt.Errorf("noteId is required")
	}
	switch m.Op {
	case OpCreate:
		if m.Note == nil {
			return fmt.Errorf("create mutation requires a note payload")
		}
		if m.Note.ID != m.NoteID {
			return fmt.Errorf("note id %q does not match mutation noteId %q", m.Note.ID, m.NoteID)
		}
		if m.BaseRevision != 0 {
			return fmt.Errorf("create mutation must not carry a base revision (got %d)", m.BaseRevision)
		}
	case OpUpdate:
		if m.Note == nil {
			return fmt.Errorf("update mutation requires a note payload")
		}
		if m.Note.ID != m.NoteID {
			return fmt.Errorf("note id %q does not match mutation noteId %q", m.Note.ID, m.NoteID)
		}
		if m.BaseRevision < 1 {
			return fmt.Errorf("update mutation requires a base revision >= 1 (got %d)", m.BaseRevision)
		}
	case OpDelete:
		if m.BaseRevision < 1 {
			return fmt.Errorf("delete mutation requires a base revision >= 1 (got %d)", m.BaseRevision)
		}
	}
	return nil
}
