package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/Ikey168/Modulo-sub010/internal/note"
	"github.com/Ikey168/Modulo-sub010/internal/store"
)

// Changes is one delta window: every record whose (modifiedAt, revision)
// key falls inside it, split into live notes and tombstoned ids.
type Changes struct {
	Notes      []*note.Note
	DeletedIDs []string
}

// collector computes delta windows from the store's watermark index.
type collector struct {
	store *store.Store
}

// changesSince returns the owner's changes in the half-open window
// (cur, until), tombstones reported by id only. A zero until leaves the
// window open-ended.
func (c *collector) changesSince(ctx context.Context, owner string, cur note.Cursor, until time.Time) (*Changes, error) {
	rows, err := c.store.ListModifiedSince(ctx, owner, cur, until, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to collect changes: %w", err)
	}

	out := &Changes{}
	for _, n := range rows {
		if n.Deleted {
			out.DeletedIDs = append(out.DeletedIDs, n.ID)
			continue
		}
		out.Notes = append(out.Notes, n)
	}
	return out, nil
}
