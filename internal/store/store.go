// Package store provides the SQLite persistence layer shared by the sync
// server and the offline client.
//
// The database runs embedded with WAL mode so delta reads proceed while
// mutations commit. One file holds three tables:
//
//   - notes: current copy of every note, tombstones included
//   - conflict_log: audit trail of detected conflicts
//   - outbox: client-side pending mutations awaiting a sync round trip
//
// Timestamps are stored as integer unix nanoseconds (UTC). The delta
// watermark compares (modified_at, revision) pairs inside SQL, and that
// comparison must agree with time ordering, which text timestamps with
// variable sub-second precision do not guarantee.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Sentinel errors returned by lookups and guarded writes.
var (
	// ErrNotFound indicates the requested note has no row at all, not even
	// a tombstone.
	ErrNotFound = errors.New("note not found")

	// ErrRevisionMismatch indicates a guarded write found a different
	// revision than expected. Under the engine's per-note lock this means a
	// logic error, but the guard stays on as a second line of defense.
	ErrRevisionMismatch = errors.New("revision mismatch")
)

// Store wraps the SQLite connection with note-domain operations.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads and
// is created, along with its parent directory, if missing. The caller MUST
// call Close() when done.
//
// Example:
//
//	st, err := store.Open(".modulo/notes.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn: conn,
		path: path,
	}

	// WAL mode lets readers proceed during writes
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := s.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return s, nil
}

// Path returns the database file path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// Idempotent - safe to call multiple times.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		tags TEXT,  -- JSON array, sorted and deduplicated
		revision INTEGER NOT NULL,
		created_at INTEGER NOT NULL,   -- unix nanoseconds UTC
		modified_at INTEGER NOT NULL,  -- unix nanoseconds UTC
		deleted INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS conflict_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		owner TEXT NOT NULL,
		note_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		client_note TEXT,  -- JSON snapshot as submitted
		server_note TEXT,  -- JSON snapshot at detection time
		detected_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS outbox (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		op TEXT NOT NULL,
		note_id TEXT NOT NULL,
		base_revision INTEGER NOT NULL DEFAULT 0,
		payload TEXT,  -- JSON note for create/update, empty for delete
		queued_at INTEGER NOT NULL
	);

	-- Delta watermark scans: strictly ordered per owner
	CREATE INDEX IF NOT EXISTS idx_notes_owner_watermark
	    ON notes(owner, modified_at, revision);

	-- Tombstone retention sweeps
	CREATE INDEX IF NOT EXISTS idx_notes_deleted ON notes(deleted, modified_at);

	CREATE INDEX IF NOT EXISTS idx_conflict_owner ON conflict_log(owner, detected_at);
	CREATE INDEX IF NOT EXISTS idx_outbox_note ON outbox(note_id);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// timeToNanos converts a time to the integer form stored in the database.
func timeToNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

// nanosToTime converts a stored integer timestamp back to UTC time.
func nanosToTime(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
