package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Ikey168/Modulo-sub010/internal/note"
	"github.com/Ikey168/Modulo-sub010/internal/store"
	notesync "github.com/Ikey168/Modulo-sub010/internal/sync"
)

var testTokens = map[string]string{
	"tok-alice": "alice",
	"tok-bob":   "bob",
}

func setupServer(t *testing.T) (*Server, string) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	engine := notesync.New(st, nil, log.New(io.Discard, "", 0))
	srv, err := NewServer(engine, &Config{
		Port:   0,
		Tokens: testTokens,
		Logger: log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}

	if err := srv.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })

	time.Sleep(100 * time.Millisecond)
	return srv, "http://" + srv.GetAddr()
}

func doSync(t *testing.T, base, token string, req *notesync.Request) *notesync.Response {
	t.Helper()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	httpReq, err := http.NewRequest(http.MethodPost, base+"/api/v1/sync", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		t.Fatalf("POST /api/v1/sync failed: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(res.Body)
		t.Fatalf("POST /api/v1/sync status = %d, body %s", res.StatusCode, raw)
	}

	var resp notesync.Response
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return &resp
}

func doGet(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	return res
}

func TestServerStartStop(t *testing.T) {
	srv, _ := setupServer(t)
	if srv.GetAddr() == "" {
		t.Fatal("Server address is empty")
	}
}

func TestSyncEndpoint_RoundTrip(t *testing.T) {
	_, base := setupServer(t)

	d := &note.Note{ID: note.NewID(), Title: "Over the wire", Content: "payload"}
	resp := doSync(t, base, "tok-alice", &notesync.Request{NotesToCreate: []*note.Note{d}})

	if len(resp.CreatedNotes) != 1 || resp.CreatedNotes[0].Revision != 1 {
		t.Fatalf("create echo = %+v, want revision 1", resp.CreatedNotes)
	}
	if resp.Timestamp.IsZero() {
		t.Error("response carries no cursor timestamp")
	}

	// A second device pulls and sees the note
	pull := doSync(t, base, "tok-alice", &notesync.Request{})
	if len(pull.ServerNotes) != 1 || pull.ServerNotes[0].ID != d.ID {
		t.Fatalf("pull = %+v, want the created note", pull.ServerNotes)
	}
	if pull.ServerNotes[0].Content != "payload" {
		t.Errorf("content lost over the wire: %q", pull.ServerNotes[0].Content)
	}
}

func TestSyncEndpoint_OwnersIsolated(t *testing.T) {
	_, base := setupServer(t)

	d := &note.Note{ID: note.NewID(), Title: "Private"}
	doSync(t, base, "tok-alice", &notesync.Request{NotesToCreate: []*note.Note{d}})

	pull := doSync(t, base, "tok-bob", &notesync.Request{})
	if len(pull.ServerNotes) != 0 {
		t.Fatalf("bob can see alice's notes: %+v", pull.ServerNotes)
	}
}

func TestSyncEndpoint_Unauthorized(t *testing.T) {
	_, base := setupServer(t)

	for name, header := range map[string]string{
		"no token":  "",
		"bad token": "Bearer nope",
	} {
		req, _ := http.NewRequest(http.MethodPost, base+"/api/v1/sync", bytes.NewReader([]byte("{}")))
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s: request failed: %v", name, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", name, res.StatusCode)
		}
		if res.Header.Get("WWW-Authenticate") == "" {
			t.Errorf("%s: missing WWW-Authenticate challenge", name)
		}
	}
}

func TestSyncEndpoint_MalformedBody(t *testing.T) {
	_, base := setupServer(t)

	req, _ := http.NewRequest(http.MethodPost, base+"/api/v1/sync", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Authorization", "Bearer tok-alice")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", res.StatusCode)
	}
}

func TestGetNote(t *testing.T) {
	_, base := setupServer(t)

	d := &note.Note{ID: note.NewID(), Title: "Fetch me", Content: "body"}
	resp := doSync(t, base, "tok-alice", &notesync.Request{NotesToCreate: []*note.Note{d}})

	res := doGet(t, base+"/api/v1/notes/"+d.ID, "tok-alice")
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("GET note status = %d, want 200", res.StatusCode)
	}
	var got note.Note
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode note: %v", err)
	}
	if got.ID != d.ID || got.Content != "body" || got.Revision != 1 {
		t.Errorf("fetched note = %+v", got)
	}

	// Unknown id
	res = doGet(t, base+"/api/v1/notes/"+note.NewID(), "tok-alice")
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", res.StatusCode)
	}

	// Malformed id
	res = doGet(t, base+"/api/v1/notes/not-a-uuid", "tok-alice")
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", res.StatusCode)
	}

	// Other owner cannot fetch it
	res = doGet(t, base+"/api/v1/notes/"+d.ID, "tok-bob")
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("cross-owner fetch status = %d, want 404", res.StatusCode)
	}

	// Tombstoned notes read as gone
	doSync(t, base, "tok-alice", &notesync.Request{
		NoteIDsToDelete:     []string{d.ID},
		DeleteBaseRevisions: map[string]int64{d.ID: resp.CreatedNotes[0].Revision},
	})
	res = doGet(t, base+"/api/v1/notes/"+d.ID, "tok-alice")
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("deleted note status = %d, want 404", res.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	_, base := setupServer(t)

	doSync(t, base, "tok-alice", &notesync.Request{NotesToCreate: []*note.Note{
		{ID: note.NewID(), Title: "One"},
		{ID: note.NewID(), Title: "Two"},
	}})

	res := doGet(t, base+"/api/v1/sync/status", "tok-alice")
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status endpoint = %d, want 200", res.StatusCode)
	}

	var st notesync.OwnerStatus
	if err := json.NewDecoder(res.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.NoteCount != 2 || st.TombstoneCount != 0 {
		t.Errorf("status = %+v, want 2 live notes", st)
	}
	if st.Checksum == "" {
		t.Error("status missing checksum")
	}
}

func TestChangesEndpoint(t *testing.T) {
	_, base := setupServer(t)

	first := doSync(t, base, "tok-alice", &notesync.Request{NotesToCreate: []*note.Note{
		{ID: note.NewID(), Title: "Early"},
	}})
	doSync(t, base, "tok-alice", &notesync.Request{NotesToCreate: []*note.Note{
		{ID: note.NewID(), Title: "Late"},
	}})

	url := fmt.Sprintf("%s/api/v1/changes?since=%s", base, first.Timestamp.Format(time.RFC3339Nano))
	res := doGet(t, url, "tok-alice")
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("changes endpoint = %d, want 200", res.StatusCode)
	}

	var ch struct {
		ServerNotes    []*note.Note `json:"serverNotes"`
		DeletedNoteIDs []string     `json:"deletedNoteIds"`
	}
	if err := json.NewDecoder(res.Body).Decode(&ch); err != nil {
		t.Fatalf("decode changes: %v", err)
	}
	if len(ch.ServerNotes) != 1 || ch.ServerNotes[0].Title != "Late" {
		t.Errorf("changes since first cursor = %+v, want only the late note", ch.ServerNotes)
	}

	// Bad cursor parameter
	res = doGet(t, base+"/api/v1/changes?since=yesterday", "tok-alice")
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("bad since status = %d, want 400", res.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, base := setupServer(t)

	res, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", res.StatusCode)
	}

	var health struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("health status = %q, want ok", health.Status)
	}
}

func dialFeed(t *testing.T, srv *Server, token string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws://" + srv.GetAddr() + "/ws?token=" + token
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	// Read the hello greeting
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read hello: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("Failed to unmarshal hello: %v", err)
	}
	if ev.Type != EventHello {
		t.Fatalf("greeting type = %s, want %s", ev.Type, EventHello)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) (*Event, bool) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, false
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("Failed to unmarshal event: %v", err)
	}
	return &ev, true
}

func TestWebSocketFeed(t *testing.T) {
	srv, base := setupServer(t)
	conn := dialFeed(t, srv, "tok-alice")

	if count := srv.ClientCount(); count != 1 {
		t.Errorf("ClientCount() = %d, want 1", count)
	}

	d := &note.Note{ID: note.NewID(), Title: "Announced"}
	doSync(t, base, "tok-alice", &notesync.Request{NotesToCreate: []*note.Note{d}})

	// First the per-note change, then the round trip summary
	ev, ok := readEvent(t, conn, 5*time.Second)
	if !ok {
		t.Fatal("no note_changed event arrived")
	}
	if ev.Type != EventNoteChanged {
		t.Fatalf("event type = %s, want %s", ev.Type, EventNoteChanged)
	}
	var change NoteChangedData
	if err := json.Unmarshal(ev.Data, &change); err != nil {
		t.Fatalf("Failed to unmarshal change data: %v", err)
	}
	if change.NoteID != d.ID || change.Revision != 1 || change.Action != "created" {
		t.Errorf("change data = %+v", change)
	}

	ev, ok = readEvent(t, conn, 5*time.Second)
	if !ok {
		t.Fatal("no sync_complete event arrived")
	}
	if ev.Type != EventSyncComplete {
		t.Fatalf("event type = %s, want %s", ev.Type, EventSyncComplete)
	}
	var summary SyncCompleteData
	if err := json.Unmarshal(ev.Data, &summary); err != nil {
		t.Fatalf("Failed to unmarshal summary: %v", err)
	}
	if summary.Created != 1 {
		t.Errorf("summary = %+v, want 1 created", summary)
	}
}

func TestWebSocketFeed_PurePullIsQuiet(t *testing.T) {
	srv, base := setupServer(t)
	conn := dialFeed(t, srv, "tok-alice")

	doSync(t, base, "tok-alice", &notesync.Request{})

	if ev, ok := readEvent(t, conn, 500*time.Millisecond); ok {
		t.Fatalf("pure pull broadcast %s event", ev.Type)
	}
}

func TestWebSocketFeed_OwnersIsolated(t *testing.T) {
	srv, base := setupServer(t)
	bobConn := dialFeed(t, srv, "tok-bob")

	// Alice's activity must not reach bob's feed
	doSync(t, base, "tok-alice", &notesync.Request{NotesToCreate: []*note.Note{
		{ID: note.NewID(), Title: "Alice only"},
	}})
	if ev, ok := readEvent(t, bobConn, 500*time.Millisecond); ok {
		t.Fatalf("bob received alice's %s event", ev.Type)
	}

	// Bob's own activity still flows
	doSync(t, base, "tok-bob", &notesync.Request{NotesToCreate: []*note.Note{
		{ID: note.NewID(), Title: "Bob's note"},
	}})
	ev, ok := readEvent(t, bobConn, 5*time.Second)
	if !ok {
		t.Fatal("bob's own event never arrived")
	}
	if ev.Type != EventNoteChanged {
		t.Errorf("event type = %s, want %s", ev.Type, EventNoteChanged)
	}
}
