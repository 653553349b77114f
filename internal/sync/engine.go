package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Ikey168/Modulo-sub010/internal/clock"
	"github.com/Ikey168/Modulo-sub010/internal/note"
	"github.com/Ikey168/Modulo-sub010/internal/store"
)

// engine implements the Engine interface.
type engine struct {
	store     *store.Store
	clock     clock.Clock
	logger    *log.Logger
	locks     *noteLocks
	gates     *ownerGates
	collector *collector
	policy    *policy
}

// New creates a new Engine instance.
//
// The store must be open with schema initialized. A nil clk uses the
// system clock; a nil logger writes to stderr.
//
// Example:
//
//	st, err := store.Open(".modulo/notes.db")
//	if err != nil {
//	    return err
//	}
//	if err := st.InitSchema(); err != nil {
//	    return err
//	}
//	engine := sync.New(st, nil, nil)
func New(st *store.Store, clk clock.Clock, logger *log.Logger) Engine {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &engine{
		store:     st,
		clock:     clk,
		logger:    logger,
		locks:     newNoteLocks(),
		gates:     newOwnerGates(),
		collector: &collector{store: st},
		policy:    &policy{store: st, clock: clk},
	}
}

// Sync implements Engine.Sync.
func (e *engine) Sync(ctx context.Context, owner string, req *Request) (*Response, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: empty owner", ErrUnauthorized)
	}
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}

	cursor := req.Cursor()
	resp := &Response{
		CreatedNotes:   []*note.Note{},
		UpdatedNotes:   []*note.Note{},
		DeletedNoteIDs: []string{},
		ServerNotes:    []*note.Note{},
		Conflicts:      []ConflictInfo{},
	}

	// ids this request accepted; excluded from the delta so a note is
	// never reported both as the client's own echo and as a server change
	touched := make(map[string]bool)

	// Final accepted outcome per note id. A request may carry several
	// mutations for one id (processed in submission order, each against
	// the previous result); the response echoes only the last accepted
	// state so the client never caches a stale intermediate snapshot.
	type echo struct {
		action  Action
		applied *note.Note
	}
	echoes := make(map[string]*echo)
	var echoOrder []string

	for _, m := range req.Mutations() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("sync canceled for owner %s: %w", owner, err)
		}

		if reason := validateMutation(m); reason != "" {
			resp.Rejected = append(resp.Rejected, RejectedMutation{
				NoteID: m.NoteID,
				Op:     m.Op,
				Reason: reason,
			})
			continue
		}

		out, err := e.applyOne(ctx, owner, m)
		if err != nil {
			return nil, storeFailure(err)
		}

		if out.decision.Action == ActionConflict {
			resp.Conflicts = append(resp.Conflicts, ConflictInfo{
				LocalNoteID:  m.NoteID,
				ConflictType: out.conflict.Kind,
				ClientNote:   out.conflict.ClientNote,
				ServerNote:   out.conflict.ServerNote,
			})
			continue
		}
		if _, seen := echoes[m.NoteID]; !seen {
			echoOrder = append(echoOrder, m.NoteID)
		}
		echoes[m.NoteID] = &echo{action: out.decision.Action, applied: out.applied}
	}

	for _, id := range echoOrder {
		ec := echoes[id]
		touched[id] = true
		switch ec.action {
		case ActionApplyCreate, ActionAckCreate:
			resp.CreatedNotes = append(resp.CreatedNotes, ec.applied)
		case ActionApplyUpdate:
			resp.UpdatedNotes = append(resp.UpdatedNotes, ec.applied)
		case ActionApplyDelete, ActionAckDelete:
			resp.DeletedNoteIDs = append(resp.DeletedNoteIDs, id)
		}
	}

	// Capture the new cursor and compute the delta under the owner's
	// write gate: every apply stamped before this point has committed,
	// and applies stamped after it are excluded from the window, so the
	// cursor's coverage claim is exact.
	gate := e.gates.gate(owner)
	gate.Lock()
	captureTime := e.clock.Now().UTC()
	delta, err := e.collector.changesSince(ctx, owner, cursor, captureTime)
	gate.Unlock()
	if err != nil {
		return nil, storeFailure(err)
	}

	for _, n := range delta.Notes {
		if !touched[n.ID] {
			resp.ServerNotes = append(resp.ServerNotes, n)
		}
	}
	for _, id := range delta.DeletedIDs {
		if !touched[id] {
			resp.DeletedNoteIDs = append(resp.DeletedNoteIDs, id)
		}
	}

	resp.Timestamp = captureTime
	resp.Revision = 0

	e.logger.Printf("sync %s: %d created, %d updated, %d deleted, %d pulled, %d conflicts, %d rejected",
		owner,
		len(resp.CreatedNotes), len(resp.UpdatedNotes), len(resp.DeletedNoteIDs),
		len(resp.ServerNotes), len(resp.Conflicts), len(resp.Rejected))

	return resp, nil
}

// applyOne runs the read-classify-write sequence for one mutation under
// the note's exclusive lock.
func (e *engine) applyOne(ctx context.Context, owner string, m note.Mutation) (*outcome, error) {
	gate := e.gates.gate(owner)
	gate.RLock()
	defer gate.RUnlock()

	e.locks.Lock(m.NoteID)
	defer e.locks.Unlock(m.NoteID)

	current, err := e.store.GetNoteContext(ctx, owner, m.NoteID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	d := Classify(m, current)
	return e.policy.apply(ctx, owner, m, current, d)
}

// Changes implements Engine.Changes.
func (e *engine) Changes(ctx context.Context, owner string, cur note.Cursor) (*Changes, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: empty owner", ErrUnauthorized)
	}
	ch, err := e.collector.changesSince(ctx, owner, cur, time.Time{})
	if err != nil {
		return nil, storeFailure(err)
	}
	return ch, nil
}

// Note implements Engine.Note.
func (e *engine) Note(ctx context.Context, owner, id string) (*note.Note, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: empty owner", ErrUnauthorized)
	}
	n, err := e.store.GetNoteContext(ctx, owner, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, storeFailure(err)
	}
	if n.Deleted {
		return nil, store.ErrNotFound
	}
	return n, nil
}

// Status implements Engine.Status.
func (e *engine) Status(ctx context.Context, owner string) (*OwnerStatus, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: empty owner", ErrUnauthorized)
	}

	notes, err := e.store.CountNotes(ctx, owner)
	if err != nil {
		return nil, storeFailure(err)
	}
	tombs, err := e.store.CountTombstones(ctx, owner)
	if err != nil {
		return nil, storeFailure(err)
	}
	sum, err := e.store.LiveChecksum(ctx, owner)
	if err != nil {
		return nil, storeFailure(err)
	}

	return &OwnerStatus{
		NoteCount:      notes,
		TombstoneCount: tombs,
		Checksum:       sum,
		ServerTime:     e.clock.Now().UTC(),
	}, nil
}

// validateMutation returns a rejection reason, or "" when the mutation is
// structurally sound. Rejections never examine server state.
func validateMutation(m note.Mutation) string {
	if err := m.Validate(); err != nil {
		return err.Error()
	}
	if m.Note != nil {
		if err := m.Note.Validate(); err != nil {
			return err.Error()
		}
	}
	return ""
}

func storeFailure(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
