package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ikey168/Modulo-sub010/internal/note"
)

// PutNote inserts or updates a note, tombstones included.
//
// The write is unconditional: whatever revision the row held is replaced.
// The sync engine only calls this for creates (no prior row) and for client
// replicas applying server-stamped copies; guarded updates go through
// UpdateNoteExpected.
func (s *Store) PutNote(n *note.Note) error {
	return s.PutNoteContext(context.Background(), n)
}

// PutNoteContext inserts or updates a note with context support.
func (s *Store) PutNoteContext(ctx context.Context, n *note.Note) error {
	tagsJSON, err := marshalTags(n.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	query := `
	INSERT INTO notes (
		id, owner, title, content, tags,
		revision, created_at, modified_at, deleted
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		owner = excluded.owner,
		title = excluded.title,
		content = excluded.content,
		tags = excluded.tags,
		revision = excluded.revision,
		modified_at = excluded.modified_at,
		deleted = excluded.deleted
	`

	_, err = s.conn.ExecContext(ctx, query,
		n.ID,
		n.Owner,
		n.Title,
		n.Content,
		tagsJSON,
		n.Revision,
		timeToNanos(n.CreatedAt),
		timeToNanos(n.ModifiedAt),
		boolToInt(n.Deleted),
	)
	if err != nil {
		return fmt.Errorf("failed to put note %s: %w", n.ID, err)
	}

	return nil
}

// UpdateNoteExpected replaces a note's row only if its stored revision still
// equals expectedRevision. Returns ErrRevisionMismatch otherwise (including
// when the row is gone).
func (s *Store) UpdateNoteExpected(ctx context.Context, n *note.Note, expectedRevision int64) error {
	tagsJSON, err := marshalTags(n.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	query := `
	UPDATE notes SET
		title = ?,
		content = ?,
		tags = ?,
		revision = ?,
		modified_at = ?,
		deleted = ?
	WHERE id = ? AND owner = ? AND revision = ?
	`

	res, err := s.conn.ExecContext(ctx, query,
		n.Title,
		n.Content,
		tagsJSON,
		n.Revision,
		timeToNanos(n.ModifiedAt),
		boolToInt(n.Deleted),
		n.ID,
		n.Owner,
		expectedRevision,
	)
	if err != nil {
		return fmt.Errorf("failed to update note %s: %w", n.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update of note %s: %w", n.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("note %s at revision %d: %w", n.ID, expectedRevision, ErrRevisionMismatch)
	}

	return nil
}

// GetNote retrieves a single note by owner and id, tombstones included.
// Returns ErrNotFound if no row exists.
func (s *Store) GetNote(owner, id string) (*note.Note, error) {
	return s.GetNoteContext(context.Background(), owner, id)
}

// GetNoteContext retrieves a single note with context support.
func (s *Store) GetNoteContext(ctx context.Context, owner, id string) (*note.Note, error) {
	query := `
	SELECT id, owner, title, content, tags, revision, created_at, modified_at, deleted
	FROM notes
	WHERE id = ? AND owner = ?
	`

	rows, err := s.conn.QueryContext(ctx, query, id, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query note %s: %w", id, err)
	}
	defer rows.Close()

	notes, err := scanNotes(rows)
	if err != nil {
		return nil, err
	}
	if len(notes) == 0 {
		return nil, fmt.Errorf("note %s: %w", id, ErrNotFound)
	}
	return notes[0], nil
}

// ListNotes returns an owner's notes ordered by most recently modified
// first. Tombstones are excluded unless includeDeleted is set.
func (s *Store) ListNotes(ctx context.Context, owner string, includeDeleted bool) ([]*note.Note, error) {
	query := `
	SELECT id, owner, title, content, tags, revision, created_at, modified_at, deleted
	FROM notes
	WHERE owner = ?
	`
	if !includeDeleted {
		query += " AND deleted = 0"
	}
	query += " ORDER BY modified_at DESC, revision DESC"

	rows, err := s.conn.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	return scanNotes(rows)
}

// ListModifiedSince returns every note of the owner whose
// (modified_at, revision) key falls strictly after the cursor, tombstones
// included, ordered ascending by the same key.
//
// A non-zero until excludes records stamped at or after it, which gives the
// sync engine a half-open delivery window (cursor, until): records stamped
// exactly at the window edge are deferred to the next sync instead of being
// delivered twice. A zero limit means no limit.
func (s *Store) ListModifiedSince(ctx context.Context, owner string, cur note.Cursor, until time.Time, limit int) ([]*note.Note, error) {
	query := `
	SELECT id, owner, title, content, tags, revision, created_at, modified_at, deleted
	FROM notes
	WHERE owner = ?
	  AND (modified_at > ? OR (modified_at = ? AND revision > ?))
	`
	ts := timeToNanos(cur.Timestamp)
	args := []interface{}{owner, ts, ts, cur.Revision}

	if !until.IsZero() {
		query += " AND modified_at < ?"
		args = append(args, timeToNanos(until))
	}
	query += " ORDER BY modified_at ASC, revision ASC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query delta: %w", err)
	}
	defer rows.Close()

	return scanNotes(rows)
}

// CountNotes returns the owner's live note count. An empty owner counts
// every owner's notes.
func (s *Store) CountNotes(ctx context.Context, owner string) (int, error) {
	return s.countWhere(ctx, owner, "deleted = 0")
}

// CountTombstones returns the owner's tombstone count. An empty owner
// counts every owner's tombstones.
func (s *Store) CountTombstones(ctx context.Context, owner string) (int, error) {
	return s.countWhere(ctx, owner, "deleted = 1")
}

func (s *Store) countWhere(ctx context.Context, owner, cond string) (int, error) {
	query := "SELECT COUNT(*) FROM notes WHERE " + cond
	var args []interface{}
	if owner != "" {
		query += " AND owner = ?"
		args = append(args, owner)
	}

	var count int
	if err := s.conn.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count notes: %w", err)
	}
	return count, nil
}

// LiveChecksum returns the SHA-256 hex digest over the owner's live note
// ids and revisions in id order. Two replicas that hold the same live set
// produce the same digest, which makes divergence cheap to spot without
// shipping data.
func (s *Store) LiveChecksum(ctx context.Context, owner string) (string, error) {
	query := `
	SELECT id, revision FROM notes
	WHERE owner = ? AND deleted = 0
	ORDER BY id ASC
	`

	rows, err := s.conn.QueryContext(ctx, query, owner)
	if err != nil {
		return "", fmt.Errorf("failed to query checksum rows: %w", err)
	}
	defer rows.Close()

	h := sha256.New()
	for rows.Next() {
		var id string
		var revision int64
		if err := rows.Scan(&id, &revision); err != nil {
			return "", fmt.Errorf("failed to scan checksum row: %w", err)
		}
		fmt.Fprintf(h, "%s@%d\n", id, revision)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("error iterating checksum rows: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// PurgeTombstones hard-deletes tombstones whose modified_at is older than
// the given time and returns how many rows were removed. After a tombstone
// is purged, a late mutation against its note id classifies as orphaned.
func (s *Store) PurgeTombstones(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM notes WHERE deleted = 1 AND modified_at < ?`,
		timeToNanos(olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge tombstones: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged tombstones: %w", err)
	}
	return affected, nil
}

// scanNotes is a helper function to scan multiple notes from query results.
func scanNotes(rows *sql.Rows) ([]*note.Note, error) {
	var notes []*note.Note

	for rows.Next() {
		var n note.Note
		var tagsJSON sql.NullString
		var createdAt, modifiedAt int64
		var deleted int

		err := rows.Scan(
			&n.ID,
			&n.Owner,
			&n.Title,
			&n.Content,
			&tagsJSON,
			&n.Revision,
			&createdAt,
			&modifiedAt,
			&deleted,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}

		n.CreatedAt = nanosToTime(createdAt)
		n.ModifiedAt = nanosToTime(modifiedAt)
		n.Deleted = deleted != 0

		if tagsJSON.Valid && tagsJSON.String != "" && tagsJSON.String != "null" {
			if err := json.Unmarshal([]byte(tagsJSON.String), &n.Tags); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tags for note %s: %w", n.ID, err)
			}
		}

		notes = append(notes, &n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notes: %w", err)
	}

	return notes, nil
}

// marshalTags serializes a tag list to its JSON column form. Empty lists
// store as NULL so normalized and absent tags read back identically.
func marshalTags(tags []string) (sql.NullString, error) {
	if len(tags) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(note.NormalizeTags(tags))
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
