// Package importer ingests a vault directory of Markdown and JSON note
// files into the local store and outbox, so dropped files ride the next
// sync like any other offline edit. It can run as a one-shot scan or keep
// watching the directory for changes.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Ikey168/Modulo-sub010/internal/client"
	"github.com/Ikey168/Modulo-sub010/internal/note"
	"github.com/Ikey168/Modulo-sub010/internal/store"
)

// Config holds configuration for the importer.
type Config struct {
	// DebounceInterval is how long a file must sit quiet before it is
	// processed. Editors save in bursts; this batches them.
	DebounceInterval time.Duration

	// Logger for importer activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[import] ", log.LstdFlags),
	}
}

// Result reports what a scan did.
type Result struct {
	Imported int // new notes created
	Updated  int // existing notes whose content changed
	Removed  int // notes deleted because their file vanished
	Skipped  int // files already in sync with the store
	Errors   []string
}

// Importer mirrors one vault directory into the local store.
//
// Each ingested file is stamped with its note id (written back into the
// front matter or JSON), which is what makes rescans idempotent: the id in
// the file, not the file name, is the join key against the store.
type Importer struct {
	store  *store.Store
	dir    string
	config *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time
	changeQueueMu sync.Mutex

	// index remembers which note each path produced, so a deleted file can
	// still be mapped to its note.
	index   map[string]string
	indexMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an importer for the given vault directory. Use ImportOnce
// for a one-shot scan or Start to keep watching.
func New(st *store.Store, dir string, config *Config) (*Importer, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if dir == "" {
		return nil, fmt.Errorf("vault directory cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 500 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[import] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Importer{
		store:       st,
		dir:         dir,
		config:      config,
		changeQueue: make(map[string]time.Time),
		index:       make(map[string]string),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// ImportOnce scans the vault once and ingests every note file found.
func (im *Importer) ImportOnce(ctx context.Context) (*Result, error) {
	result := &Result{}

	entries, err := os.ReadDir(im.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read vault directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !noteFile(entry.Name()) {
			continue
		}
		path := filepath.Join(im.dir, entry.Name())
		if err := im.processFile(ctx, path, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", entry.Name(), err))
		}
	}
	return result, nil
}

// Start scans the vault, then watches it until ctx is cancelled. File
// events are debounced through a change queue before processing.
func (im *Importer) Start(ctx context.Context) error {
	im.config.Logger.Printf("Watching vault %s", im.dir)

	if _, err := im.ImportOnce(ctx); err != nil {
		return fmt.Errorf("initial scan failed: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	im.watcher = watcher

	if err := im.watcher.Add(im.dir); err != nil {
		_ = im.watcher.Close()
		return fmt.Errorf("failed to watch vault directory: %w", err)
	}

	im.wg.Add(2)
	go im.watchFileEvents()
	go im.processChangeQueue()

	select {
	case <-ctx.Done():
		return im.Stop()
	case <-im.ctx.Done():
		return nil
	}
}

// Stop shuts the watcher down and waits for in-flight processing.
func (im *Importer) Stop() error {
	im.cancel()
	if im.watcher != nil {
		if err := im.watcher.Close(); err != nil {
			im.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}
	im.wg.Wait()
	return nil
}

// watchFileEvents queues raw fsnotify events for debounced processing.
func (im *Importer) watchFileEvents() {
	defer im.wg.Done()

	for {
		select {
		case <-im.ctx.Done():
			return

		case event, ok := <-im.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !noteFile(event.Name) {
				continue
			}
			im.queueChange(event.Name)

		case err, ok := <-im.watcher.Errors:
			if !ok {
				return
			}
			im.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (im *Importer) queueChange(path string) {
	im.changeQueueMu.Lock()
	defer im.changeQueueMu.Unlock()
	im.changeQueue[path] = time.Now()
}

// processChangeQueue drains files that have sat quiet past the debounce
// interval.
func (im *Importer) processChangeQueue() {
	defer im.wg.Done()

	ticker := time.NewTicker(im.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-im.ctx.Done():
			return
		case <-ticker.C:
			im.processPendingChanges()
		}
	}
}

func (im *Importer) processPendingChanges() {
	im.changeQueueMu.Lock()
	var ready []string
	now := time.Now()
	for path, queuedAt := range im.changeQueue {
		if now.Sub(queuedAt) < im.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(im.changeQueue, path)
	}
	im.changeQueueMu.Unlock()

	for _, path := range ready {
		result := &Result{}
		if err := im.processFile(im.ctx, path, result); err != nil {
			im.config.Logger.Printf("Error processing %s: %v", path, err)
			continue
		}
		if result.Imported+result.Updated+result.Removed > 0 {
			im.config.Logger.Printf("Processed %s: +%d ~%d -%d",
				filepath.Base(path), result.Imported, result.Updated, result.Removed)
		}
	}
}

// processFile ingests one path: parse, join against the store by id, and
// write store row plus outbox entry when something actually changed. A
// vanished file turns into a local delete.
func (im *Importer) processFile(ctx context.Context, path string, result *Result) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return im.removeFile(ctx, path, result)
	}
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	parsed, err := im.parse(path, data)
	if err != nil {
		return err
	}

	// Files without an id get one, written back so the next scan joins
	// instead of duplicating.
	writeBack := false
	if parsed.ID == "" {
		parsed.ID = note.NewID()
		writeBack = true
	}

	existing, err := im.store.GetNoteContext(ctx, client.LocalOwner, parsed.ID)
	switch {
	case err == nil && existing.Deleted:
		// A tombstoned id never comes back; the file gets a fresh identity.
		parsed.ID = note.NewID()
		writeBack = true
		existing = nil
	case err != nil && !isNotFound(err):
		return fmt.Errorf("failed to look up note: %w", err)
	case err != nil:
		existing = nil
	}

	if existing != nil && note.ContentEqual(existing, parsed) {
		im.remember(path, parsed.ID)
		result.Skipped++
		return nil
	}

	if existing == nil {
		if err := im.createNote(ctx, parsed); err != nil {
			return err
		}
		result.Imported++
	} else {
		if err := im.updateNote(ctx, existing, parsed); err != nil {
			return err
		}
		result.Updated++
	}

	if writeBack {
		if err := im.writeBack(path, parsed); err != nil {
			im.config.Logger.Printf("Warning: failed to write id back to %s: %v", path, err)
		}
	}
	im.remember(path, parsed.ID)
	return nil
}

// removeFile maps a vanished path back to its note and deletes it the way
// an offline edit would.
func (im *Importer) removeFile(ctx context.Context, path string, result *Result) error {
	im.indexMu.Lock()
	id, ok := im.index[path]
	delete(im.index, path)
	im.indexMu.Unlock()
	if !ok {
		return nil
	}

	n, err := im.store.GetNoteContext(ctx, client.LocalOwner, id)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up note: %w", err)
	}
	if n.Deleted {
		return nil
	}

	base := n.Revision
	n.Deleted = true
	n.ClearContent()
	n.ModifiedAt = time.Now().UTC()
	if err := im.store.PutNoteContext(ctx, n); err != nil {
		return fmt.Errorf("failed to tombstone note: %w", err)
	}

	if base == 0 {
		// Never synced: the server must not hear about it at all.
		if err := im.store.DeleteMutationsForNote(ctx, id); err != nil {
			return fmt.Errorf("failed to clear queue: %w", err)
		}
	} else {
		if _, err := im.store.EnqueueMutation(ctx, &note.Mutation{
			Op: note.OpDelete, NoteID: id, BaseRevision: base,
		}); err != nil {
			return fmt.Errorf("failed to queue delete: %w", err)
		}
	}

	result.Removed++
	return nil
}

func (im *Importer) createNote(ctx context.Context, parsed *note.Note) error {
	now := time.Now().UTC()
	parsed.Owner = client.LocalOwner
	parsed.Revision = 0
	parsed.CreatedAt = now
	parsed.ModifiedAt = now

	if err := parsed.Validate(); err != nil {
		return fmt.Errorf("invalid note: %w", err)
	}
	if err := im.store.PutNoteContext(ctx, parsed); err != nil {
		return fmt.Errorf("failed to store note: %w", err)
	}
	if _, err := im.store.EnqueueMutation(ctx, &note.Mutation{
		Op: note.OpCreate, NoteID: parsed.ID, Note: parsed,
	}); err != nil {
		return fmt.Errorf("failed to queue create: %w", err)
	}
	return nil
}

func (im *Importer) updateNote(ctx context.Context, existing, parsed *note.Note) error {
	existing.Title = parsed.Title
	existing.Content = parsed.Content
	existing.Tags = parsed.Tags
	existing.ModifiedAt = time.Now().UTC()

	if err := existing.Validate(); err != nil {
		return fmt.Errorf("invalid note: %w", err)
	}
	if err := im.store.PutNoteContext(ctx, existing); err != nil {
		return fmt.Errorf("failed to store note: %w", err)
	}

	// Unsynced notes requeue as creates; the server has no revision to
	// base an update on.
	m := &note.Mutation{Op: note.OpUpdate, NoteID: existing.ID, BaseRevision: existing.Revision, Note: existing}
	if existing.Revision == 0 {
		m = &note.Mutation{Op: note.OpCreate, NoteID: existing.ID, Note: existing}
	}
	if _, err := im.store.EnqueueMutation(ctx, m); err != nil {
		return fmt.Errorf("failed to queue update: %w", err)
	}
	return nil
}

// parse dispatches on extension: Markdown with front matter, or the JSON
// note shape used on the wire.
func (im *Importer) parse(path string, data []byte) (*note.Note, error) {
	fallback := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".md":
		return ParseMarkdown(data, fallback)
	case ".json":
		var n note.Note
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, fmt.Errorf("invalid JSON note: %w", err)
		}
		n.Tags = note.NormalizeTags(n.Tags)
		if n.Title == "" {
			n.Title = fallback
		}
		// Sync bookkeeping in a dropped file is not trustworthy.
		n.Revision = 0
		n.Deleted = false
		return &n, nil
	}
	return nil, fmt.Errorf("unsupported file type %s", filepath.Ext(path))
}

// writeBack rewrites the file including its assigned id. Atomic via temp
// file and rename so a concurrent editor read never sees a torn write.
func (im *Importer) writeBack(path string, n *note.Note) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".md":
		data, err = RenderMarkdown(n)
	case ".json":
		data, err = json.MarshalIndent(struct {
			ID      string   `json:"id"`
			Title   string   `json:"title"`
			Content string   `json:"content,omitempty"`
			Tags    []string `json:"tags,omitempty"`
		}{n.ID, n.Title, n.Content, n.Tags}, "", "  ")
	}
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (im *Importer) remember(path, id string) {
	im.indexMu.Lock()
	im.index[path] = id
	im.indexMu.Unlock()
}

func noteFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".json":
		return true
	}
	return false
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
