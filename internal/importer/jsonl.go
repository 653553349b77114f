package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Ikey168/Modulo-sub010/internal/note"
	"github.com/Ikey168/Modulo-sub010/internal/store"
)

// ExportJSONL writes every note for the owner as one JSON object per line,
// tombstones included. The stream is a full-fidelity replica backup:
// revisions and timestamps survive, so restoring it reproduces the sync
// bookkeeping, not just the content.
func ExportJSONL(ctx context.Context, st *store.Store, owner string, w io.Writer) (int, error) {
	notes, err := st.ListNotes(ctx, owner, true)
	if err != nil {
		return 0, fmt.Errorf("failed to list notes: %w", err)
	}

	enc := json.NewEncoder(w)
	for i, n := range notes {
		if err := enc.Encode(n); err != nil {
			return i, fmt.Errorf("failed to encode note %s: %w", n.ID, err)
		}
	}
	return len(notes), nil
}

// ImportJSONL restores a JSONL backup into the store verbatim under the
// given owner. This is the inverse of ExportJSONL and it bypasses the
// outbox: a restore reproduces replica state, it does not author new
// mutations.
func ImportJSONL(ctx context.Context, st *store.Store, owner string, r io.Reader) (*Result, error) {
	result := &Result{}

	dec := json.NewDecoder(r)
	line := 0
	for {
		var n note.Note
		if err := dec.Decode(&n); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return result, fmt.Errorf("invalid JSON at record %d: %w", line+1, err)
		}
		line++

		if n.ID == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("record %d: missing id", line))
			continue
		}

		n.Owner = owner
		n.Tags = note.NormalizeTags(n.Tags)
		if err := st.PutNoteContext(ctx, &n); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("record %d (%s): %v", line, n.ID, err))
			continue
		}
		result.Imported++
	}

	return result, nil
}
