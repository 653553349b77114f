package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Ikey168/Modulo-sub010/internal/note"
	"github.com/Ikey168/Modulo-sub010/internal/store"
	notesync "github.com/Ikey168/Modulo-sub010/internal/sync"
)

// maxSyncBody caps a sync request body. Content tops out at 1 MiB per
// note, so this still allows a healthy batch.
const maxSyncBody = 16 << 20

// handleSync runs one sync round trip for the authenticated owner.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request, owner string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSyncBody)

	var req notesync.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	start := time.Now()
	resp, err := s.engine.Sync(r.Context(), owner, &req)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.notifySync(owner, &req, resp, time.Since(start))
	writeJSON(w, http.StatusOK, resp)
}

// handleGetNote fetches a single live note.
func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request, owner string) {
	id := r.PathValue("id")
	if err := uuidCheck(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := s.engine.Note(r.Context(), owner, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// handleChanges lists changes after the cursor in the query string. This
// is a read-only peek; the returned data carries no new cursor, because
// only a sync round trip can capture one safely.
func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request, owner string) {
	cur, err := cursorFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ch, err := s.engine.Changes(r.Context(), owner, cur)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		ServerNotes    []*note.Note `json:"serverNotes"`
		DeletedNoteIDs []string     `json:"deletedNoteIds"`
	}{
		ServerNotes:    ch.Notes,
		DeletedNoteIDs: ch.DeletedIDs,
	})
}

// handleStatus reports the owner's store shape.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, owner string) {
	st, err := s.engine.Status(r.Context(), owner)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// cursorFromQuery parses the optional "since" (RFC 3339) and "revision"
// query parameters.
func cursorFromQuery(r *http.Request) (note.Cursor, error) {
	var cur note.Cursor
	if since := r.URL.Query().Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339Nano, since)
		if err != nil {
			return cur, errors.New("since must be an RFC 3339 timestamp")
		}
		cur.Timestamp = ts
	}
	if rev := r.URL.Query().Get("revision"); rev != "" {
		n, err := strconv.ParseInt(rev, 10, 64)
		if err != nil || n < 0 {
			return cur, errors.New("revision must be a non-negative integer")
		}
		cur.Revision = n
	}
	return cur, nil
}

func uuidCheck(id string) error {
	if err := uuid.Validate(id); err != nil {
		return errors.New("id must be a valid UUID")
	}
	return nil
}

// writeEngineError maps engine and store errors onto HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, notesync.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, notesync.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "note not found")
	case errors.Is(err, notesync.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store unavailable, retry the request")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
