package client

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/Ikey168/Modulo-sub010/internal/note"
)

// State is the per-device sync state persisted between round trips: which
// server the device talks to, its credentials, and the cursor of server
// state it has fully applied. It lives in a small TOML file next to the
// notes database.
//
// The cursor fields are advanced only after a response has been applied in
// full, so a crash mid-apply replays the window on the next round trip
// instead of skipping it.
type State struct {
	DeviceID  string `toml:"device_id"`
	ServerURL string `toml:"server_url"`
	Token     string `toml:"token,omitempty"`

	LastSyncAt       time.Time `toml:"last_sync_at"`
	LastSyncRevision int64     `toml:"last_sync_revision"`

	CreatedAt time.Time `toml:"created_at"`
	UpdatedAt time.Time `toml:"updated_at"`

	path string
}

// NewState returns a fresh device state bound to path. The device id is
// random: two devices must never share one, or their cursors would clobber
// each other on the server's conflict log.
func NewState(path string) *State {
	now := time.Now().UTC()
	return &State{
		DeviceID:  uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		path:      path,
	}
}

// LoadState reads device state from path. A missing file is not an error;
// it yields a fresh never-synced state that Save will create.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewState(path), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read device state: %w", err)
	}

	var st State
	if err := toml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse device state %s: %w", path, err)
	}
	if st.DeviceID == "" {
		st.DeviceID = uuid.NewString()
	}
	st.path = path
	return &st, nil
}

// Save writes the state back to its file with owner-only permissions,
// since the token lives inside.
func (s *State) Save() error {
	s.UpdatedAt = time.Now().UTC()

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return fmt.Errorf("failed to encode device state: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	if err := os.WriteFile(s.path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write device state: %w", err)
	}
	return nil
}

// Path returns where the state is persisted.
func (s *State) Path() string {
	return s.path
}

// Cursor returns the persisted sync watermark, zero when the device has
// never completed a round trip.
func (s *State) Cursor() note.Cursor {
	return note.Cursor{Timestamp: s.LastSyncAt, Revision: s.LastSyncRevision}
}

// SetCursor records a fully applied watermark. Callers Save afterwards;
// the split keeps cursor movement and disk IO separately testable.
func (s *State) SetCursor(c note.Cursor) {
	s.LastSyncAt = c.Timestamp.UTC()
	s.LastSyncRevision = c.Revision
}
