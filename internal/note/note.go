// Package note defines the data model shared by the sync engine, the store,
// the HTTP server, and the client: notes, pending mutations, sync cursors,
// and conflict records.
package note

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Field size limits enforced by Validate. Oversize payloads are rejected
// per mutation, never applied partially.
const (
	MaxTitleLen     = 500
	MaxContentBytes = 1 << 20 // 1 MiB
	MaxTags         = 64
	MaxTagLen       = 100
)

// Note is one synchronizable record. The structure is flat: it is the
// wire DTO, the store row, and the import/export record all at once, so
// a note survives a round trip through any of them unchanged.
type Note struct {
	// ===== Identity =====
	ID    string `json:"id"`              // UUID, assigned by the creating replica
	Owner string `json:"owner,omitempty"` // owner user id; server-side it comes from the auth token

	// ===== Content =====
	Title   string   `json:"title"`
	Content string   `json:"content,omitempty"`
	Tags    []string `json:"tags,omitempty"` // set semantics: stored sorted and deduplicated

	// ===== Sync bookkeeping =====
	Revision   int64     `json:"revision"`   // starts at 1, +1 per accepted mutation, never reused
	CreatedAt  time.Time `json:"createdAt"`  // server-stamped on create
	ModifiedAt time.Time `json:"modifiedAt"` // server-stamped on every accepted mutation
	Deleted    bool      `json:"deleted,omitempty"`
}

// NewID returns a fresh random note id. Replicas assign ids offline, so
// uniqueness must not depend on coordination.
func NewID() string {
	return uuid.NewString()
}

// Validate checks structural validity of a note as submitted by a client:
// well-formed id, presence and size of content fields. It does not check
// sync bookkeeping fields; those are server-assigned.
func (n *Note) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("id is required")
	}
	if err := uuid.Validate(n.ID); err != nil {
		return fmt.Errorf("id must be a valid UUID: %w", err)
	}
	if n.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(n.Title) > MaxTitleLen {
		return fmt.Errorf("title must be %d characters or less (got %d)", MaxTitleLen, len(n.Title))
	}
	if len(n.Content) > MaxContentBytes {
		return fmt.Errorf("content must be %d bytes or less (got %d)", MaxContentBytes, len(n.Content))
	}
	if len(n.Tags) > MaxTags {
		return fmt.Errorf("at most %d tags allowed (got %d)", MaxTags, len(n.Tags))
	}
	for _, tag := range n.Tags {
		if tag == "" {
			return fmt.Errorf("empty tag not allowed")
		}
		if len(tag) > MaxTagLen {
			return fmt.Errorf("tag must be %d characters or less (got %q)", MaxTagLen, tag[:20]+"...")
		}
	}
	return nil
}

// NormalizeTags sorts and deduplicates the tag list in place. Tags have set
// semantics: two notes with the same tags in different order are equal.
func (n *Note) NormalizeTags() {
	n.Tags = NormalizeTags(n.Tags)
}

// NormalizeTags returns the sorted, deduplicated form of a tag list.
// Nil and empty inputs return nil so that normalized forms compare equal.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, len(tags))
	copy(out, tags)
	sort.Strings(out)
	dst := out[:1]
	for _, t := range out[1:] {
		if t != dst[len(dst)-1] {
			dst = append(dst, t)
		}
	}
	return dst
}

// ContentEqual reports whether two notes carry the same user-visible content:
// title, content body, and tag set. Sync bookkeeping fields are ignored.
// Used to recognize a retried create of an identical note.
func ContentEqual(a, b *Note) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Title != b.Title || a.Content != b.Content {
		return false
	}
	at, bt := NormalizeTags(a.Tags), NormalizeTags(b.Tags)
	if len(at) != len(bt) {
		return false
	}
	for i := range at {
		if at[i] != bt[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy. Callers that hand notes across goroutine
// boundaries (the server's event feed, response assembly) clone first so
// later mutation of the original cannot race.
func (n *Note) Clone() *Note {
	if n == nil {
		return nil
	}
	out := *n
	if n.Tags != nil {
		out.Tags = make([]string, len(n.Tags))
		copy(out.Tags, n.Tags)
	}
	return &out
}

// ClearContent empties the user-visible fields. Tombstones keep identity and
// sync bookkeeping only; the content is gone for good.
func (n *Note) ClearContent() {
	n.Title = ""
	n.Content = ""
	n.Tags = nil
}
