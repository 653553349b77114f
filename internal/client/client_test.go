package client

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ikey168/Modulo-sub010/internal/note"
	"github.com/Ikey168/Modulo-sub010/internal/server"
	"github.com/Ikey168/Modulo-sub010/internal/store"
	notesync "github.com/Ikey168/Modulo-sub010/internal/sync"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// startServer boots a real sync server on a random port and returns its
// base URL plus the server-side store for direct assertions.
func startServer(t *testing.T) (string, *store.Store) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	engine := notesync.New(st, nil, quietLogger())
	srv, err := server.NewServer(engine, &server.Config{
		Port:   0,
		Tokens: map[string]string{"tok-alice": "alice", "tok-bob": "bob"},
		Logger: quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })

	time.Sleep(100 * time.Millisecond)
	return "http://" + srv.GetAddr(), st
}

// setupDevice creates a client with its own local store and state file,
// the way one installed device looks.
func setupDevice(t *testing.T, base, token string) (*Client, *store.Store, *State) {
	t.Helper()

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "notes.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	state := NewState(filepath.Join(dir, "device.toml"))
	state.ServerURL = base
	state.Token = token

	cl, err := New(st, state, &Config{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return cl, st, state
}

// localAdd mirrors what the note command does: write the row locally at
// revision 0 and queue a create.
func localAdd(t *testing.T, st *store.Store, title, content string) *note.Note {
	t.Helper()

	now := time.Now().UTC()
	n := &note.Note{
		ID: note.NewID(), Owner: LocalOwner,
		Title: title, Content: content,
		CreatedAt: now, ModifiedAt: now,
	}
	if err := st.PutNote(n); err != nil {
		t.Fatalf("PutNote() failed: %v", err)
	}
	if _, err := st.EnqueueMutation(context.Background(), &note.Mutation{
		Op: note.OpCreate, NoteID: n.ID, Note: n,
	}); err != nil {
		t.Fatalf("EnqueueMutation() failed: %v", err)
	}
	return n
}

// localEdit applies an edit locally and queues it. Unsynced notes requeue
// as creates, because the server has no revision to base an update on.
func localEdit(t *testing.T, st *store.Store, n *note.Note, content string) {
	t.Helper()

	n.Content = content
	n.ModifiedAt = time.Now().UTC()
	if err := st.PutNote(n); err != nil {
		t.Fatalf("PutNote() failed: %v", err)
	}

	m := &note.Mutation{Op: note.OpUpdate, NoteID: n.ID, BaseRevision: n.Revision, Note: n}
	if n.Revision == 0 {
		m = &note.Mutation{Op: note.OpCreate, NoteID: n.ID, Note: n}
	}
	if _, err := st.EnqueueMutation(context.Background(), m); err != nil {
		t.Fatalf("EnqueueMutation() failed: %v", err)
	}
}

// localDelete tombstones locally and queues the delete.
func localDelete(t *testing.T, st *store.Store, n *note.Note) {
	t.Helper()

	base := n.Revision
	n.Deleted = true
	n.ClearContent()
	n.ModifiedAt = time.Now().UTC()
	if err := st.PutNote(n); err != nil {
		t.Fatalf("PutNote() failed: %v", err)
	}
	if _, err := st.EnqueueMutation(context.Background(), &note.Mutation{
		Op: note.OpDelete, NoteID: n.ID, BaseRevision: base,
	}); err != nil {
		t.Fatalf("EnqueueMutation() failed: %v", err)
	}
}

func mustRun(t *testing.T, cl *Client) *Summary {
	t.Helper()
	sum, err := cl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	return sum
}

func TestClient_FirstSyncPushesCreates(t *testing.T) {
	base, serverStore := startServer(t)
	cl, st, state := setupDevice(t, base, "tok-alice")

	n1 := localAdd(t, st, "Groceries", "milk, eggs")
	n2 := localAdd(t, st, "Ideas", "")

	sum := mustRun(t, cl)

	if sum.Pushed != 2 || sum.Created != 2 || !sum.Clean() {
		t.Fatalf("summary = %+v, want 2 clean creates", sum)
	}

	// Local copies now carry server stamps.
	for _, id := range []string{n1.ID, n2.ID} {
		got, err := st.GetNote(LocalOwner, id)
		if err != nil {
			t.Fatalf("GetNote(%s) failed: %v", id, err)
		}
		if got.Revision != 1 {
			t.Errorf("local revision = %d, want 1 after first sync", got.Revision)
		}
	}

	// The server holds them under the token's account.
	if srvCopy, err := serverStore.GetNote("alice", n1.ID); err != nil || srvCopy.Content != "milk, eggs" {
		t.Errorf("server copy = %+v, %v; want the pushed content", srvCopy, err)
	}

	depth, err := st.OutboxDepth(context.Background())
	if err != nil || depth != 0 {
		t.Errorf("outbox depth = %d, %v; want empty after settle", depth, err)
	}
	if state.Cursor().IsZero() {
		t.Error("cursor still zero after a successful round trip")
	}
}

func TestClient_StatePersistsAcrossRestart(t *testing.T) {
	base, _ := startServer(t)
	cl, st, state := setupDevice(t, base, "tok-alice")

	localAdd(t, st, "Persist me", "")
	sum := mustRun(t, cl)

	reloaded, err := LoadState(state.Path())
	if err != nil {
		t.Fatalf("LoadState() failed: %v", err)
	}
	if reloaded.DeviceID != state.DeviceID {
		t.Errorf("device id changed across reload: %s != %s", reloaded.DeviceID, state.DeviceID)
	}
	if !reloaded.Cursor().Timestamp.Equal(sum.Cursor.Timestamp) || reloaded.Cursor().Revision != sum.Cursor.Revision {
		t.Errorf("reloaded cursor = %+v, want %+v", reloaded.Cursor(), sum.Cursor)
	}
	if reloaded.ServerURL != base || reloaded.Token != "tok-alice" {
		t.Errorf("reloaded connection config = (%s, %s), want original values", reloaded.ServerURL, reloaded.Token)
	}
}

func TestClient_PullsRemoteChanges(t *testing.T) {
	base, _ := startServer(t)
	deskA, stA, _ := setupDevice(t, base, "tok-alice")
	deskB, stB, _ := setupDevice(t, base, "tok-alice")

	// A establishes its cursor before B pushes anything.
	mustRun(t, deskA)

	n := localAdd(t, stB, "From B", "hello A")
	mustRun(t, deskB)

	sum := mustRun(t, deskA)
	if sum.Pulled != 1 {
		t.Fatalf("Pulled = %d, want 1", sum.Pulled)
	}
	got, err := stA.GetNote(LocalOwner, n.ID)
	if err != nil {
		t.Fatalf("GetNote() after pull failed: %v", err)
	}
	if got.Content != "hello A" || got.Revision != 1 {
		t.Errorf("pulled copy = %+v, want B's content at revision 1", got)
	}

	// B deletes; A's next round trip applies the tombstone.
	fresh, err := stB.GetNote(LocalOwner, n.ID)
	if err != nil {
		t.Fatalf("GetNote() on B failed: %v", err)
	}
	localDelete(t, stB, fresh)
	mustRun(t, deskB)

	sum = mustRun(t, deskA)
	if sum.PulledDeletes != 1 {
		t.Fatalf("PulledDeletes = %d, want 1", sum.PulledDeletes)
	}
	gone, err := stA.GetNote(LocalOwner, n.ID)
	if err != nil {
		t.Fatalf("GetNote() after tombstone failed: %v", err)
	}
	if !gone.Deleted || gone.Content != "" {
		t.Errorf("local copy = %+v, want an empty tombstone", gone)
	}
}

func TestClient_EditBeforeFirstSyncCoalesces(t *testing.T) {
	base, serverStore := startServer(t)
	cl, st, _ := setupDevice(t, base, "tok-alice")

	n := localAdd(t, st, "Draft", "v1")
	localEdit(t, st, n, "v2")
	localEdit(t, st, n, "v3")

	sum := mustRun(t, cl)
	if sum.Pushed != 1 || sum.Created != 1 {
		t.Fatalf("summary = %+v, want a single collapsed create", sum)
	}

	srvCopy, err := serverStore.GetNote("alice", n.ID)
	if err != nil {
		t.Fatalf("server GetNote() failed: %v", err)
	}
	if srvCopy.Content != "v3" || srvCopy.Revision != 1 {
		t.Errorf("server copy = content %q revision %d, want final content at revision 1",
			srvCopy.Content, srvCopy.Revision)
	}
}

func TestClient_EditThenDeleteCollapses(t *testing.T) {
	base, serverStore := startServer(t)
	cl, st, _ := setupDevice(t, base, "tok-alice")

	n := localAdd(t, st, "Short lived", "v1")
	mustRun(t, cl)

	synced, err := st.GetNote(LocalOwner, n.ID)
	if err != nil {
		t.Fatalf("GetNote() failed: %v", err)
	}
	localEdit(t, st, synced, "v2")
	localDelete(t, st, synced)

	sum := mustRun(t, cl)
	if sum.Pushed != 1 || sum.Deleted != 1 || sum.Updated != 0 {
		t.Fatalf("summary = %+v, want one collapsed delete", sum)
	}

	srvCopy, err := serverStore.GetNote("alice", n.ID)
	if err != nil {
		t.Fatalf("server GetNote() failed: %v", err)
	}
	// One accepted mutation past the create, not two.
	if !srvCopy.Deleted || srvCopy.Revision != 2 {
		t.Errorf("server copy = deleted %v revision %d, want tombstone at revision 2",
			srvCopy.Deleted, srvCopy.Revision)
	}
}

func TestClient_ConflictLoggedAndQueueCleared(t *testing.T) {
	base, _ := startServer(t)
	deskA, stA, _ := setupDevice(t, base, "tok-alice")
	deskB, stB, _ := setupDevice(t, base, "tok-alice")

	n := localAdd(t, stA, "Contested", "original")
	mustRun(t, deskA)

	// B pulls, edits, and wins the race to the server.
	mustRun(t, deskB)
	bCopy, err := stB.GetNote(LocalOwner, n.ID)
	if err != nil {
		t.Fatalf("GetNote() on B failed: %v", err)
	}
	localEdit(t, stB, bCopy, "B's version")
	mustRun(t, deskB)

	// A edits its now-stale copy.
	aCopy, err := stA.GetNote(LocalOwner, n.ID)
	if err != nil {
		t.Fatalf("GetNote() on A failed: %v", err)
	}
	localEdit(t, stA, aCopy, "A's version")

	sum := mustRun(t, deskA)
	if len(sum.Conflicts) != 1 {
		t.Fatalf("Conflicts = %+v, want exactly one", sum.Conflicts)
	}
	rec := sum.Conflicts[0]
	if rec.Kind != note.ConflictModifiedBoth {
		t.Errorf("conflict kind = %s, want %s", rec.Kind, note.ConflictModifiedBoth)
	}
	if rec.ServerNote == nil || rec.ServerNote.Content != "B's version" {
		t.Errorf("conflict server copy = %+v, want B's version", rec.ServerNote)
	}

	// Logged for later resolution, queue cleared, local copy untouched.
	stored, err := stA.ListConflicts(context.Background(), LocalOwner, 0)
	if err != nil || len(stored) != 1 {
		t.Fatalf("ListConflicts() = %d records, %v; want 1", len(stored), err)
	}
	depth, err := stA.OutboxDepth(context.Background())
	if err != nil || depth != 0 {
		t.Errorf("outbox depth = %d, %v; want 0 after conflict settles the queue", depth, err)
	}
	local, err := stA.GetNote(LocalOwner, n.ID)
	if err != nil {
		t.Fatalf("GetNote() failed: %v", err)
	}
	if local.Content != "A's version" {
		t.Errorf("local content = %q; a conflict must not silently overwrite the user's copy", local.Content)
	}
}

func TestClient_UnauthorizedLeavesEverything(t *testing.T) {
	base, _ := startServer(t)
	cl, st, state := setupDevice(t, base, "tok-wrong")

	localAdd(t, st, "Stays queued", "")

	_, err := cl.Run(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Run() error = %v, want ErrUnauthorized", err)
	}

	depth, derr := st.OutboxDepth(context.Background())
	if derr != nil || depth != 1 {
		t.Errorf("outbox depth = %d, %v; want the row kept for retry", depth, derr)
	}
	if !state.Cursor().IsZero() {
		t.Error("cursor moved despite a failed round trip")
	}
}

func TestClient_PureAndRepeatPulls(t *testing.T) {
	base, _ := startServer(t)
	cl, _, _ := setupDevice(t, base, "tok-alice")

	sum := mustRun(t, cl)
	if sum.Pushed != 0 || !sum.Clean() {
		t.Fatalf("summary = %+v, want an empty clean pull", sum)
	}

	again := mustRun(t, cl)
	if again.Pulled != 0 || again.PulledDeletes != 0 {
		t.Errorf("repeat pull = %+v, want nothing new", again)
	}
}

func TestClient_ChecksumMatchesServerAfterSync(t *testing.T) {
	base, _ := startServer(t)
	cl, st, _ := setupDevice(t, base, "tok-alice")

	localAdd(t, st, "One", "1")
	localAdd(t, st, "Two", "2")
	mustRun(t, cl)

	remote, err := cl.ServerStatus(context.Background())
	if err != nil {
		t.Fatalf("ServerStatus() failed: %v", err)
	}
	local, err := st.LiveChecksum(context.Background(), LocalOwner)
	if err != nil {
		t.Fatalf("LiveChecksum() failed: %v", err)
	}

	if remote.NoteCount != 2 {
		t.Errorf("server note count = %d, want 2", remote.NoteCount)
	}
	if remote.Checksum != local {
		t.Errorf("checksums diverge after clean sync: server %s, local %s", remote.Checksum, local)
	}
}

func TestClient_OwnersDoNotLeakAcrossTokens(t *testing.T) {
	base, _ := startServer(t)
	alice, stAlice, _ := setupDevice(t, base, "tok-alice")
	bob, stBob, _ := setupDevice(t, base, "tok-bob")

	localAdd(t, stAlice, "Private", "alice only")
	mustRun(t, alice)

	sum := mustRun(t, bob)
	if sum.Pulled != 0 {
		t.Fatalf("bob pulled %d notes, want 0", sum.Pulled)
	}
	notes, err := stBob.ListNotes(context.Background(), LocalOwner, true)
	if err != nil {
		t.Fatalf("ListNotes() failed: %v", err)
	}
	if len(notes) != 0 {
		t.Errorf("bob's store holds %d notes, want none", len(notes))
	}
}

func TestClient_RequiresConfiguration(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "notes.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer st.Close()

	_, err = New(st, NewState(filepath.Join(dir, "device.toml")), nil)
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("New() error = %v, want ErrNotConfigured", err)
	}
}

func TestClient_ChangesPeeksWithoutAdvancingCursor(t *testing.T) {
	base, _ := startServer(t)
	alice, stAlice, _ := setupDevice(t, base, "tok-alice")
	peer, stPeer, statePeer := setupDevice(t, base, "tok-alice")

	localAdd(t, stAlice, "Shared", "from alice")
	mustRun(t, alice)
	mustRun(t, peer)
	cursorBefore := statePeer.Cursor()

	n := localAdd(t, stAlice, "Later", "after peer synced")
	mustRun(t, alice)

	ch, err := peer.Changes(context.Background(), statePeer.Cursor())
	if err != nil {
		t.Fatalf("Changes() failed: %v", err)
	}
	if len(ch.ServerNotes) != 1 || ch.ServerNotes[0].ID != n.ID {
		t.Fatalf("Changes() = %+v, want just the later note", ch)
	}
	if len(ch.DeletedNoteIDs) != 0 {
		t.Errorf("expected no deletions, got %v", ch.DeletedNoteIDs)
	}

	// A peek must not move the cursor; only a sync round trip may.
	if got := statePeer.Cursor(); got != cursorBefore {
		t.Errorf("cursor moved from %+v to %+v on a read-only peek", cursorBefore, got)
	}
	depth, err := stPeer.OutboxDepth(context.Background())
	if err != nil {
		t.Fatalf("OutboxDepth() failed: %v", err)
	}
	if depth != 0 {
		t.Errorf("peek queued %d mutations", depth)
	}
}

func TestClient_FetchNote(t *testing.T) {
	base, _ := startServer(t)
	cl, st, _ := setupDevice(t, base, "tok-alice")

	n := localAdd(t, st, "Fetch me", "payload")
	mustRun(t, cl)

	got, err := cl.FetchNote(context.Background(), n.ID)
	if err != nil {
		t.Fatalf("FetchNote() failed: %v", err)
	}
	if got.ID != n.ID || got.Content != "payload" || got.Revision != 1 {
		t.Errorf("FetchNote() = %+v, want server copy at revision 1", got)
	}

	_, err = cl.FetchNote(context.Background(), note.NewID())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("FetchNote(unknown) error = %v, want ErrNotFound", err)
	}
}
