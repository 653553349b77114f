package sync

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ikey168/Modulo-sub010/internal/clock"
	"github.com/Ikey168/Modulo-sub010/internal/note"
	"github.com/Ikey168/Modulo-sub010/internal/store"
)

func setupSweeperStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "sweep.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return st
}

func putAged(t *testing.T, st *store.Store, deleted bool, age time.Duration) *note.Note {
	t.Helper()
	n := &note.Note{
		ID:         note.NewID(),
		Owner:      "alice",
		Title:      "Aged",
		Revision:   2,
		CreatedAt:  time.Now().UTC().Add(-age - time.Hour),
		ModifiedAt: time.Now().UTC().Add(-age),
		Deleted:    deleted,
	}
	if err := st.PutNote(n); err != nil {
		t.Fatalf("PutNote() failed: %v", err)
	}
	return n
}

func TestNewSweeper_Validation(t *testing.T) {
	st := setupSweeperStore(t)

	if _, err := NewSweeper(nil, nil); err == nil {
		t.Error("NewSweeper(nil, ...) should fail")
	}
	if _, err := NewSweeper(st, &SweeperConfig{Retention: -time.Hour, Interval: time.Hour}); err == nil {
		t.Error("negative retention should fail")
	}
	if _, err := NewSweeper(st, &SweeperConfig{Retention: time.Hour, Interval: 0}); err == nil {
		t.Error("zero interval should fail")
	}

	s, err := NewSweeper(st, nil)
	if err != nil {
		t.Fatalf("NewSweeper() with nil config failed: %v", err)
	}
	if s == nil {
		t.Fatal("NewSweeper() returned nil sweeper")
	}
}

func TestSweeper_RunOnce(t *testing.T) {
	st := setupSweeperStore(t)

	expired := putAged(t, st, true, 60*24*time.Hour)
	fresh := putAged(t, st, true, 24*time.Hour)
	oldLive := putAged(t, st, false, 60*24*time.Hour)

	s, err := NewSweeper(st, &SweeperConfig{
		Retention: 30 * 24 * time.Hour,
		Interval:  time.Hour,
		Logger:    log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewSweeper() failed: %v", err)
	}

	purged, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() failed: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}

	if _, err := st.GetNote("alice", expired.ID); err == nil {
		t.Error("expired tombstone survived the sweep")
	}
	if _, err := st.GetNote("alice", fresh.ID); err != nil {
		t.Errorf("fresh tombstone was purged: %v", err)
	}
	if _, err := st.GetNote("alice", oldLive.ID); err != nil {
		t.Errorf("live note was purged: %v", err)
	}
}

// A delete arriving after its tombstone was swept classifies as orphaned,
// not as a silent success.
func TestSweeper_LateDeleteBecomesOrphan(t *testing.T) {
	st := setupSweeperStore(t)
	expired := putAged(t, st, true, 60*24*time.Hour)

	s, err := NewSweeper(st, &SweeperConfig{
		Retention: 30 * 24 * time.Hour,
		Interval:  time.Hour,
		Logger:    log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewSweeper() failed: %v", err)
	}
	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() failed: %v", err)
	}

	e := New(st, clock.NewStepped(time.Now().UTC(), time.Millisecond), log.New(io.Discard, "", 0))
	resp, err := e.Sync(context.Background(), "alice", &Request{
		NoteIDsToDelete:     []string{expired.ID},
		DeleteBaseRevisions: map[string]int64{expired.ID: expired.Revision},
	})
	if err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}
	if len(resp.Conflicts) != 1 || resp.Conflicts[0].ConflictType != note.ConflictOrphanedMutation {
		t.Fatalf("late delete = %+v, want orphaned_mutation", resp.Conflicts)
	}
}

func TestSweeper_StartStop(t *testing.T) {
	st := setupSweeperStore(t)

	s, err := NewSweeper(st, &SweeperConfig{
		Retention: time.Hour,
		Interval:  time.Hour,
		Logger:    log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewSweeper() failed: %v", err)
	}

	s.Start()
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not return")
	}
}
