package sync

import (
	"context"
	"time"

	"github.com/Ikey168/Modulo-sub010/internal/note"
)

// Engine drives sync round trips against the note store.
//
// The engine owns all coordination: per-note locking for the classify-and-
// apply step, per-owner gating for delta capture, and the bucketing rules
// that guarantee every submitted mutation's fate appears exactly once in
// the response.
//
// Engines are safe for concurrent use; requests for different owners
// proceed independently.
type Engine interface {
	// Sync processes one round trip for the owner: applies the request's
	// mutations where they classify clean, surfaces conflicts and
	// rejections, and returns the server-side changes the client's cursor
	// hasn't covered, together with the new cursor.
	//
	// Mutations are processed creates first, then updates, then deletes,
	// preserving list order within each bucket. A store failure aborts the
	// whole call with ErrStoreUnavailable and no partial response; the
	// client retries the identical request safely.
	//
	// An empty request is a pure pull: no mutations, just the delta since
	// the submitted cursor.
	//
	// Example:
	//
	//	resp, err := engine.Sync(ctx, owner, &sync.Request{
	//	    NotesToCreate:     []*note.Note{draft},
	//	    LastSyncTimestamp: &lastSeen,
	//	})
	Sync(ctx context.Context, owner string, req *Request) (*Response, error)

	// Changes returns the owner's delta in the open-ended window after
	// cur without touching any mutation path. Used by read-only listings;
	// a client advancing its cursor must use Sync instead, whose window
	// capture is what makes the returned cursor safe to persist.
	Changes(ctx context.Context, owner string, cur note.Cursor) (*Changes, error)

	// Note fetches a single live note. Tombstoned and unknown ids both
	// report store.ErrNotFound; callers cannot tell them apart.
	Note(ctx context.Context, owner, id string) (*note.Note, error)

	// Status reports the owner's store shape: live note and tombstone
	// counts, the live-set checksum, and the server's current time.
	// Two replicas whose checksums match hold the same live note set.
	Status(ctx context.Context, owner string) (*OwnerStatus, error)
}

// OwnerStatus is the divergence probe returned by Engine.Status.
type OwnerStatus struct {
	NoteCount      int       `json:"noteCount"`
	TombstoneCount int       `json:"tombstoneCount"`
	Checksum       string    `json:"checksum"`
	ServerTime     time.Time `json:"serverTime"`
}
