package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ikey168/Modulo-sub010/internal/note"
)

// testDBPath returns a temporary path for test databases
func testDBPath(t *testing.T) string {
	tmpDir := t.TempDir()
	return filepath.Join(tmpDir, "test.db")
}

// setupTestStore opens a store with initialized schema
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return s
}

// testNote builds a server-stamped note
func testNote(owner string, rev int64, at time.Time) *note.Note {
	return &note.Note{
		ID:         note.NewID(),
		Owner:      owner,
		Title:      "Test Note",
		Content:    "body",
		Tags:       []string{"b", "a"},
		Revision:   rev,
		CreatedAt:  at,
		ModifiedAt: at,
	}
}

func TestOpen_Success(t *testing.T) {
	path := testDBPath(t)
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
}

func TestInitSchema_Success(t *testing.T) {
	s := setupTestStore(t)

	tables := []string{"notes", "conflict_log", "outbox"}
	for _, table := range tables {
		var count int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
		if err := s.conn.QueryRow(query, table).Scan(&count); err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	if err := s.InitSchema(); err != nil {
		t.Errorf("Second InitSchema() failed: %v", err)
	}
}

func TestPutNote_InsertAndGet(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now().UTC()
	n := testNote("alice", 1, now)

	if err := s.PutNote(n); err != nil {
		t.Fatalf("PutNote() failed: %v", err)
	}

	got, err := s.GetNote("alice", n.ID)
	if err != nil {
		t.Fatalf("GetNote() failed: %v", err)
	}
	if got.Title != n.Title || got.Revision != 1 || got.Deleted {
		t.Errorf("GetNote() = %+v, want stored note back", got)
	}
	if !got.ModifiedAt.Equal(now) {
		t.Errorf("ModifiedAt = %v, want %v (nanosecond fidelity)", got.ModifiedAt, now)
	}
	// Tags come back normalized
	if len(got.Tags) != 2 || got.Tags[0] != "a" || got.Tags[1] != "b" {
		t.Errorf("Tags = %v, want sorted [a b]", got.Tags)
	}
}

func TestGetNote_NotFound(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.GetNote("alice", note.NewID())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetNote() error = %v, want ErrNotFound", err)
	}
}

func TestGetNote_OwnerScoped(t *testing.T) {
	s := setupTestStore(t)
	n := testNote("alice", 1, time.Now().UTC())
	if err := s.PutNote(n); err != nil {
		t.Fatalf("PutNote() failed: %v", err)
	}

	if _, err := s.GetNote("bob", n.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetNote() across owners = %v, want ErrNotFound", err)
	}
}

func TestUpdateNoteExpected_Success(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	n := testNote("alice", 1, now)
	if err := s.PutNote(n); err != nil {
		t.Fatalf("PutNote() failed: %v", err)
	}

	n2 := n.Clone()
	n2.Title = "Edited"
	n2.Revision = 2
	n2.ModifiedAt = now.Add(time.Second)
	if err := s.UpdateNoteExpected(ctx, n2, 1); err != nil {
		t.Fatalf("UpdateNoteExpected() failed: %v", err)
	}

	got, err := s.GetNote("alice", n.ID)
	if err != nil {
		t.Fatalf("GetNote() failed: %v", err)
	}
	if got.Title != "Edited" || got.Revision != 2 {
		t.Errorf("after guarded update: %+v", got)
	}
}

func TestUpdateNoteExpected_Mismatch(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	n := testNote("alice", 3, time.Now().UTC())
	if err := s.PutNote(n); err != nil {
		t.Fatalf("PutNote() failed: %v", err)
	}

	n2 := n.Clone()
	n2.Revision = 4
	err := s.UpdateNoteExpected(ctx, n2, 2) // stored revision is 3
	if !errors.Is(err, ErrRevisionMismatch) {
		t.Errorf("UpdateNoteExpected() error = %v, want ErrRevisionMismatch", err)
	}

	got, _ := s.GetNote("alice", n.ID)
	if got.Revision != 3 {
		t.Errorf("failed guard must not write; revision = %d, want 3", got.Revision)
	}
}

func TestListModifiedSince_Watermark(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Three notes: one before the cursor, one tied on timestamp with higher
	// revision, one strictly later.
	before := testNote("alice", 2, base.Add(-time.Second))
	tied := testNote("alice", 5, base)
	after := testNote("alice", 1, base.Add(time.Second))
	for _, n := range []*note.Note{before, tied, after} {
		if err := s.PutNote(n); err != nil {
			t.Fatalf("PutNote() failed: %v", err)
		}
	}

	cur := note.Cursor{Timestamp: base, Revision: 3}
	got, err := s.ListModifiedSince(ctx, "alice", cur, time.Time{}, 0)
	if err != nil {
		t.Fatalf("ListModifiedSince() failed: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("delta size = %d, want 2 (tied-higher and later)", len(got))
	}
	if got[0].ID != tied.ID || got[1].ID != after.ID {
		t.Errorf("delta order = [%s %s], want [tied after]", got[0].ID, got[1].ID)
	}
}

func TestListModifiedSince_UpperBound(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	inside := testNote("alice", 1, base.Add(time.Second))
	atEdge := testNote("alice", 1, base.Add(2*time.Second))
	for _, n := range []*note.Note{inside, atEdge} {
		if err := s.PutNote(n); err != nil {
			t.Fatalf("PutNote() failed: %v", err)
		}
	}

	got, err := s.ListModifiedSince(ctx, "alice", note.Cursor{Timestamp: base}, base.Add(2*time.Second), 0)
	if err != nil {
		t.Fatalf("ListModifiedSince() failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != inside.ID {
		t.Fatalf("window (base, base+2s) returned %d notes, want only the inside one", len(got))
	}

	// A cursor placed at the window edge picks the edge record up next time:
	// excluded-then-admitted, delivered exactly once overall.
	got, err = s.ListModifiedSince(ctx, "alice", note.Cursor{Timestamp: base.Add(2 * time.Second)}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("ListModifiedSince() failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != atEdge.ID {
		t.Fatalf("follow-up window returned %d notes, want only the edge one", len(got))
	}
}

func TestListModifiedSince_ZeroCursorIncludesTombstones(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	live := testNote("alice", 1, now)
	dead := testNote("alice", 2, now.Add(time.Second))
	dead.Deleted = true
	dead.ClearContent()
	for _, n := range []*note.Note{live, dead} {
		if err := s.PutNote(n); err != nil {
			t.Fatalf("PutNote() failed: %v", err)
		}
	}

	got, err := s.ListModifiedSince(ctx, "alice", note.Cursor{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("ListModifiedSince() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("delta size = %d, want 2 (tombstones included)", len(got))
	}
	if !got[1].Deleted {
		t.Error("tombstone lost its deleted flag in the delta")
	}
}

func TestCounts(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.PutNote(testNote("alice", 1, now)); err != nil {
		t.Fatalf("PutNote() failed: %v", err)
	}
	dead := testNote("alice", 2, now)
	dead.Deleted = true
	if err := s.PutNote(dead); err != nil {
		t.Fatalf("PutNote() failed: %v", err)
	}

	live, err := s.CountNotes(ctx, "alice")
	if err != nil {
		t.Fatalf("CountNotes() failed: %v", err)
	}
	tombs, err := s.CountTombstones(ctx, "alice")
	if err != nil {
		t.Fatalf("CountTombstones() failed: %v", err)
	}
	if live != 1 || tombs != 1 {
		t.Errorf("counts = (%d live, %d tombstones), want (1, 1)", live, tombs)
	}
}

func TestLiveChecksum_TracksLiveSet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a, err := s.LiveChecksum(ctx, "alice")
	if err != nil {
		t.Fatalf("LiveChecksum() failed: %v", err)
	}

	n := testNote("alice", 1, now)
	if err := s.PutNote(n); err != nil {
		t.Fatalf("PutNote() failed: %v", err)
	}
	b, err := s.LiveChecksum(ctx, "alice")
	if err != nil {
		t.Fatalf("LiveChecksum() failed: %v", err)
	}
	if a == b {
		t.Error("checksum unchanged after adding a note")
	}

	// Bumping the revision changes the digest too
	n2 := n.Clone()
	n2.Revision = 2
	if err := s.PutNote(n2); err != nil {
		t.Fatalf("PutNote() failed: %v", err)
	}
	c, err := s.LiveChecksum(ctx, "alice")
	if err != nil {
		t.Fatalf("LiveChecksum() failed: %v", err)
	}
	if b == c {
		t.Error("checksum unchanged after revision bump")
	}
}

func TestPurgeTombstones(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := testNote("alice", 2, now.Add(-48*time.Hour))
	old.Deleted = true
	fresh := testNote("alice", 3, now)
	fresh.Deleted = true
	live := testNote("alice", 1, now.Add(-72*time.Hour))
	for _, n := range []*note.Note{old, fresh, live} {
		if err := s.PutNote(n); err != nil {
			t.Fatalf("PutNote() failed: %v", err)
		}
	}

	purged, err := s.PurgeTombstones(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeTombstones() failed: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}

	// Old tombstone gone entirely
	if _, err := s.GetNote("alice", old.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("purged tombstone still present: %v", err)
	}
	// Live note untouched even though it is older than the window
	if _, err := s.GetNote("alice", live.ID); err != nil {
		t.Errorf("live note was purged: %v", err)
	}
}
