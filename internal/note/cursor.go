package note

import "time"

// Cursor is a client's sync watermark: the (modifiedAt, revision) key of the
// last server state it has fully applied. Delta queries return exactly the
// records whose key is lexicographically greater, so a record is never
// skipped even when several share one timestamp tick.
//
// The zero Cursor means "never synced" and admits every record.
type Cursor struct {
	Timestamp time.Time `json:"timestamp"`
	Revision  int64     `json:"revision"`
}

// IsZero reports whether the cursor is the never-synced watermark.
func (c Cursor) IsZero() bool {
	return c.Timestamp.IsZero() && c.Revision == 0
}

// Admits reports whether a record stamped (modifiedAt, revision) falls
// strictly after the cursor and therefore belongs in the delta.
func (c Cursor) Admits(modifiedAt time.Time, revision int64) bool {
	if modifiedAt.After(c.Timestamp) {
		return true
	}
	return modifiedAt.Equal(c.Timestamp) && revision > c.Revision
}

// Compare orders two cursors lexicographically: -1 if c precedes other,
// 0 if equal, 1 if c follows.
func (c Cursor) Compare(other Cursor) int {
	if c.Timestamp.Before(other.Timestamp) {
		return -1
	}
	if c.Timestamp.After(other.Timestamp) {
		return 1
	}
	switch {
	case c.Revision < other.Revision:
		return -1
	case c.Revision > other.Revision:
		return 1
	}
	return 0
}
