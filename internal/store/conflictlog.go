package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Ikey168/Modulo-sub010/internal/note"
)

// StoredConflict is a conflict record as persisted: the record itself plus
// the sequence number used to address it for later resolution or pruning.
type StoredConflict struct {
	Seq   int64
	Owner string
	note.ConflictRecord
}

// LogConflict appends a conflict record to the audit log and returns its
// sequence number. Logging never mutates the notes table; the record is the
// entire server-side effect of a detected conflict.
func (s *Store) LogConflict(ctx context.Context, owner string, rec *note.ConflictRecord) (int64, error) {
	clientJSON, err := marshalNoteColumn(rec.ClientNote)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal client note: %w", err)
	}
	serverJSON, err := marshalNoteColumn(rec.ServerNote)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal server note: %w", err)
	}

	res, err := s.conn.ExecContext(ctx, `
	INSERT INTO conflict_log (owner, note_id, kind, client_note, server_note, detected_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		owner,
		rec.NoteID,
		string(rec.Kind),
		clientJSON,
		serverJSON,
		timeToNanos(rec.DetectedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to log conflict for note %s: %w", rec.NoteID, err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read conflict sequence: %w", err)
	}
	return seq, nil
}

// ListConflicts returns an owner's logged conflicts, oldest first. A zero
// limit means no limit.
func (s *Store) ListConflicts(ctx context.Context, owner string, limit int) ([]*StoredConflict, error) {
	query := `
	SELECT seq, owner, note_id, kind, client_note, server_note, detected_at
	FROM conflict_log
	WHERE owner = ?
	ORDER BY seq ASC
	`
	args := []interface{}{owner}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	var out []*StoredConflict
	for rows.Next() {
		var sc StoredConflict
		var kind string
		var clientJSON, serverJSON sql.NullString
		var detectedAt int64

		if err := rows.Scan(&sc.Seq, &sc.Owner, &sc.NoteID, &kind, &clientJSON, &serverJSON, &detectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}

		sc.Kind = note.ConflictKind(kind)
		sc.DetectedAt = nanosToTime(detectedAt)
		if sc.ClientNote, err = unmarshalNoteColumn(clientJSON); err != nil {
			return nil, fmt.Errorf("failed to unmarshal client note for conflict %d: %w", sc.Seq, err)
		}
		if sc.ServerNote, err = unmarshalNoteColumn(serverJSON); err != nil {
			return nil, fmt.Errorf("failed to unmarshal server note for conflict %d: %w", sc.Seq, err)
		}

		out = append(out, &sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}

	return out, nil
}

// DeleteConflict removes one logged conflict by sequence number.
// Returns nil if the row doesn't exist (idempotent).
func (s *Store) DeleteConflict(ctx context.Context, seq int64) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM conflict_log WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("failed to delete conflict %d: %w", seq, err)
	}
	return nil
}

func marshalNoteColumn(n *note.Note) (sql.NullString, error) {
	if n == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(n)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalNoteColumn(ns sql.NullString) (*note.Note, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var n note.Note
	if err := json.Unmarshal([]byte(ns.String), &n); err != nil {
		return nil, err
	}
	return &n, nil
}
