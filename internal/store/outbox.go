package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Ikey168/Modulo-sub010/internal/note"
)

// QueuedMutation is an outbox row: a pending mutation plus its queue
// position. Sequence order is submission order, which the sync request
// preserves within each operation bucket.
type QueuedMutation struct {
	Seq      int64
	QueuedAt time.Time
	note.Mutation
}

// EnqueueMutation appends a mutation to the outbox and returns its sequence
// number. The caller has already applied the change locally; the outbox only
// remembers that the server hasn't seen it yet.
func (s *Store) EnqueueMutation(ctx context.Context, m *note.Mutation) (int64, error) {
	if err := m.Validate(); err != nil {
		return 0, fmt.Errorf("invalid mutation: %w", err)
	}

	var payload sql.NullString
	if m.Note != nil {
		data, err := json.Marshal(m.Note)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal mutation payload: %w", err)
		}
		payload = sql.NullString{String: string(data), Valid: true}
	}

	res, err := s.conn.ExecContext(ctx, `
	INSERT INTO outbox (op, note_id, base_revision, payload, queued_at)
	VALUES (?, ?, ?, ?, ?)`,
		string(m.Op),
		m.NoteID,
		m.BaseRevision,
		payload,
		timeToNanos(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue mutation for note %s: %w", m.NoteID, err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read outbox sequence: %w", err)
	}
	return seq, nil
}

// PendingMutations returns queued mutations in submission order. A zero
// limit means no limit.
func (s *Store) PendingMutations(ctx context.Context, limit int) ([]*QueuedMutation, error) {
	query := `
	SELECT seq, op, note_id, base_revision, payload, queued_at
	FROM outbox
	ORDER BY seq ASC
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var out []*QueuedMutation
	for rows.Next() {
		var qm QueuedMutation
		var op string
		var payload sql.NullString
		var queuedAt int64

		if err := rows.Scan(&qm.Seq, &op, &qm.NoteID, &qm.BaseRevision, &payload, &queuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}

		qm.Op = note.MutationOp(op)
		qm.QueuedAt = nanosToTime(queuedAt)
		if payload.Valid && payload.String != "" {
			var n note.Note
			if err := json.Unmarshal([]byte(payload.String), &n); err != nil {
				return nil, fmt.Errorf("failed to unmarshal outbox payload for note %s: %w", qm.NoteID, err)
			}
			qm.Note = &n
		}

		out = append(out, &qm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox: %w", err)
	}

	return out, nil
}

// DeleteMutations removes acknowledged outbox rows by sequence number.
func (s *Store) DeleteMutations(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(seqs)), ",")
	args := make([]interface{}, len(seqs))
	for i, seq := range seqs {
		args[i] = seq
	}

	query := fmt.Sprintf("DELETE FROM outbox WHERE seq IN (%s)", placeholders)
	if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete outbox rows: %w", err)
	}
	return nil
}

// DeleteMutationsForNote removes every queued mutation touching the given
// note. Used when a conflict resolution supersedes whatever was queued.
func (s *Store) DeleteMutationsForNote(ctx context.Context, noteID string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM outbox WHERE note_id = ?`, noteID); err != nil {
		return fmt.Errorf("failed to clear outbox for note %s: %w", noteID, err)
	}
	return nil
}

// OutboxDepth returns how many mutations are waiting for a sync round trip.
func (s *Store) OutboxDepth(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count outbox: %w", err)
	}
	return count, nil
}
