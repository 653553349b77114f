// Package client implements the device side of a sync round trip. It
// drains the local outbox, collapses queued mutations to their net effect,
// submits them with the device's cursor, applies the server's response to
// the local store, and only then advances the cursor. Interrupting a round
// trip at any point leaves the outbox and cursor in a state where retrying
// is safe.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Ikey168/Modulo-sub010/internal/note"
	"github.com/Ikey168/Modulo-sub010/internal/store"
	notesync "github.com/Ikey168/Modulo-sub010/internal/sync"
)

// LocalOwner keys every row in a device's local store. The server maps the
// bearer token to the real account; the device never needs to know it.
const LocalOwner = "local"

const (
	syncPath    = "/api/v1/sync"
	statusPath  = "/api/v1/sync/status"
	changesPath = "/api/v1/changes"
	notesPath   = "/api/v1/notes/"

	// DefaultTimeout bounds one round trip including body transfer.
	DefaultTimeout = 30 * time.Second
	// DefaultBatchLimit caps outbox rows drained per round trip. Rows past
	// the cap stay queued for the next one.
	DefaultBatchLimit = 500
)

var (
	// ErrNotConfigured means the device has no server URL yet.
	ErrNotConfigured = errors.New("server URL is not configured")
	// ErrUnauthorized means the server rejected the device's credentials.
	ErrUnauthorized = errors.New("server rejected this device's credentials")
	// ErrServerUnavailable means the server asked for a retry.
	ErrServerUnavailable = errors.New("server temporarily unavailable")
	// ErrNotFound means the server has no live note with that id.
	ErrNotFound = errors.New("not found on server")
)

// Config tunes a Client. The zero value is usable.
type Config struct {
	Timeout    time.Duration
	BatchLimit int
	Logger     *log.Logger
}

// Client runs sync round trips for one device against one server.
type Client struct {
	store      *store.Store
	state      *State
	http       *http.Client
	batchLimit int
	logger     *log.Logger
}

// New creates a client over the device's store and state. The state must
// carry a server URL.
func New(st *store.Store, state *State, config *Config) (*Client, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if state == nil {
		return nil, fmt.Errorf("device state is required")
	}
	if state.ServerURL == "" {
		return nil, ErrNotConfigured
	}

	if config == nil {
		config = &Config{}
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	limit := config.BatchLimit
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[client] ", log.LstdFlags)
	}

	return &Client{
		store:      st,
		state:      state,
		http:       &http.Client{Timeout: timeout},
		batchLimit: limit,
		logger:     logger,
	}, nil
}

// Summary reports one round trip for display.
type Summary struct {
	Pushed  int // net mutations submitted after collapsing the outbox
	Created int // our creates the server accepted
	Updated int // our updates the server accepted
	Deleted int // our deletes the server accepted

	Pulled        int // server-side notes applied locally
	PulledDeletes int // server-side tombstones applied locally

	Conflicts []note.ConflictRecord
	Rejected  []notesync.RejectedMutation

	Cursor   note.Cursor
	Duration time.Duration
}

// Clean reports whether the round trip had no conflicts and no rejections.
func (s *Summary) Clean() bool {
	return len(s.Conflicts) == 0 && len(s.Rejected) == 0
}

// Run performs one full round trip: drain outbox, submit, apply, advance
// cursor. An empty outbox degenerates to a pure pull.
//
// The cursor is persisted last. If anything before that fails, the next
// Run replays the same window; every application step is idempotent, so
// the replay converges instead of double-applying.
func (c *Client) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	rows, err := c.store.PendingMutations(ctx, c.batchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to read outbox: %w", err)
	}

	folds := coalesce(rows)
	req := buildRequest(folds, c.state.Cursor())

	// Rows that cancelled out locally are finished before anything travels:
	// the server must never learn about a note created and deleted between
	// round trips, or the pair would surface as a create conflict.
	if err := c.clearDead(ctx, folds); err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}

	sum, err := c.apply(ctx, folds, resp)
	if err != nil {
		return nil, err
	}

	c.state.SetCursor(resp.Cursor())
	if err := c.state.Save(); err != nil {
		return nil, fmt.Errorf("synced but failed to persist cursor: %w", err)
	}

	sum.Pushed = req.Size()
	sum.Cursor = resp.Cursor()
	sum.Duration = time.Since(start)

	c.logger.Printf("sync: pushed=%d created=%d updated=%d deleted=%d pulled=%d conflicts=%d rejected=%d in %v",
		sum.Pushed, sum.Created, sum.Updated, sum.Deleted,
		sum.Pulled+sum.PulledDeletes, len(sum.Conflicts), len(sum.Rejected),
		sum.Duration.Round(time.Millisecond))
	return sum, nil
}

// ServerStatus fetches the server's divergence probe for this device's
// account. Compare its checksum against store.LiveChecksum to tell whether
// the replicas hold the same live note set.
func (c *Client) ServerStatus(ctx context.Context) (*notesync.OwnerStatus, error) {
	var st notesync.OwnerStatus
	if err := c.getJSON(ctx, statusPath, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// RemoteChanges is the read-only delta returned by Changes. It carries no
// cursor: advancing the cursor is only safe through a sync round trip.
type RemoteChanges struct {
	ServerNotes    []*note.Note `json:"serverNotes"`
	DeletedNoteIDs []string     `json:"deletedNoteIds"`
}

// Changes peeks at the server-side delta after cur without running a sync.
func (c *Client) Changes(ctx context.Context, cur note.Cursor) (*RemoteChanges, error) {
	path := changesPath
	q := url.Values{}
	if !cur.Timestamp.IsZero() {
		q.Set("since", cur.Timestamp.UTC().Format(time.RFC3339Nano))
	}
	if cur.Revision > 0 {
		q.Set("revision", strconv.FormatInt(cur.Revision, 10))
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var ch RemoteChanges
	if err := c.getJSON(ctx, path, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// FetchNote fetches the server's live copy of one note. Tombstoned and
// unknown ids both return ErrNotFound.
func (c *Client) FetchNote(ctx context.Context, id string) (*note.Note, error) {
	var n note.Note
	if err := c.getJSON(ctx, notesPath+id, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	httpReq, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return c.serverError(httpResp)
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// clearDead removes outbox rows whose folds cancelled out.
func (c *Client) clearDead(ctx context.Context, folds []*fold) error {
	var seqs []int64
	for _, f := range folds {
		if f.dead() {
			seqs = append(seqs, f.seqs...)
		}
	}
	if len(seqs) == 0 {
		return nil
	}
	if err := c.store.DeleteMutations(ctx, seqs); err != nil {
		return fmt.Errorf("failed to drop cancelled mutations: %w", err)
	}
	return nil
}

// post submits the request and decodes the response.
func (c *Client) post(ctx context.Context, req *notesync.Request) (*notesync.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sync request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, syncPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sync request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, c.serverError(httpResp)
	}

	var resp notesync.Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode sync response: %w", err)
	}
	return &resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	url := strings.TrimRight(c.state.ServerURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if c.state.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.state.Token)
	}
	return req, nil
}

// serverError turns a non-200 response into an error, preferring the
// server's own message when the body carries one.
func (c *Client) serverError(r *http.Response) error {
	msg := r.Status
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}

	switch r.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", ErrServerUnavailable, msg)
	}
	return fmt.Errorf("server returned %d: %s", r.StatusCode, msg)
}

// apply folds the response into the local store and settles the outbox.
// Every step is idempotent; replaying the same response converges.
func (c *Client) apply(ctx context.Context, folds []*fold, resp *notesync.Response) (*Summary, error) {
	sum := &Summary{}

	conflicted := make(map[string]bool, len(resp.Conflicts))
	for _, ci := range resp.Conflicts {
		conflicted[ci.LocalNoteID] = true
	}

	// settled collects ids whose queued rows the response accounted for.
	settled := make(map[string]bool)

	for _, n := range resp.CreatedNotes {
		if err := c.upsertLocal(ctx, n); err != nil {
			return nil, err
		}
		settled[n.ID] = true
		sum.Created++
	}
	for _, n := range resp.UpdatedNotes {
		if err := c.upsertLocal(ctx, n); err != nil {
			return nil, err
		}
		settled[n.ID] = true
		sum.Updated++
	}

	ours := submittedDeletes(folds)
	for _, id := range resp.DeletedNoteIDs {
		if err := c.tombstoneLocal(ctx, id); err != nil {
			return nil, err
		}
		if ours[id] {
			settled[id] = true
			sum.Deleted++
		} else {
			sum.PulledDeletes++
		}
	}

	for _, n := range resp.ServerNotes {
		// A conflicted note's server copy already travels inside the
		// conflict record; overwriting the local version here would pull
		// the note out from under the user before they chose a side.
		if conflicted[n.ID] {
			continue
		}
		if err := c.upsertLocal(ctx, n); err != nil {
			return nil, err
		}
		sum.Pulled++
	}

	for _, ci := range resp.Conflicts {
		rec := conflictRecord(ci)
		if _, err := c.store.LogConflict(ctx, LocalOwner, rec); err != nil {
			return nil, fmt.Errorf("failed to record conflict for note %s: %w", ci.LocalNoteID, err)
		}
		// Whatever else was queued for this note is superseded: resubmitting
		// it verbatim would only conflict again. Resolution mints a fresh
		// mutation from the record.
		if err := c.store.DeleteMutationsForNote(ctx, ci.LocalNoteID); err != nil {
			return nil, fmt.Errorf("failed to clear queue for conflicted note %s: %w", ci.LocalNoteID, err)
		}
		settled[ci.LocalNoteID] = true
		sum.Conflicts = append(sum.Conflicts, *rec)
	}

	for _, rej := range resp.Rejected {
		c.logger.Printf("mutation rejected for note %s (%s): %s", rej.NoteID, rej.Op, rej.Reason)
		settled[rej.NoteID] = true
		sum.Rejected = append(sum.Rejected, rej)
	}

	var seqs []int64
	for _, f := range folds {
		if f.dead() {
			continue
		}
		if settled[f.noteID] {
			seqs = append(seqs, f.seqs...)
		} else {
			// Should not happen: the server accounts for every mutation.
			// Keeping the rows means the next round trip retries them.
			c.logger.Printf("note %s missing from sync response, keeping %d queued rows", f.noteID, len(f.seqs))
		}
	}
	if err := c.store.DeleteMutations(ctx, seqs); err != nil {
		return nil, fmt.Errorf("failed to settle outbox: %w", err)
	}

	return sum, nil
}

// upsertLocal stores a server copy under the local owner.
func (c *Client) upsertLocal(ctx context.Context, n *note.Note) error {
	cp := n.Clone()
	cp.Owner = LocalOwner
	if err := c.store.PutNoteContext(ctx, cp); err != nil {
		return fmt.Errorf("failed to store note %s: %w", n.ID, err)
	}
	return nil
}

// tombstoneLocal marks a local copy deleted. Unknown ids are fine: the
// union delete bucket includes tombstones for notes this device never had.
func (c *Client) tombstoneLocal(ctx context.Context, id string) error {
	n, err := c.store.GetNoteContext(ctx, LocalOwner, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load note %s: %w", id, err)
	}
	if n.Deleted {
		return nil
	}
	n.Deleted = true
	n.ClearContent()
	n.ModifiedAt = time.Now().UTC()
	if err := c.store.PutNoteContext(ctx, n); err != nil {
		return fmt.Errorf("failed to tombstone note %s: %w", id, err)
	}
	return nil
}
