package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	stdsync "sync"
	"time"

	"github.com/Ikey168/Modulo-sub010/internal/store"
)

// SweeperConfig holds configuration for the tombstone sweeper.
type SweeperConfig struct {
	// Retention is how long tombstones stay queryable. Clients offline
	// longer than this see their late deletes classify as orphaned.
	Retention time.Duration

	// Interval is how often the sweep runs.
	Interval time.Duration

	// Logger for sweep activity
	Logger *log.Logger
}

// DefaultSweeperConfig returns sensible defaults: 30 days of retention,
// swept hourly.
func DefaultSweeperConfig() *SweeperConfig {
	return &SweeperConfig{
		Retention: 30 * 24 * time.Hour,
		Interval:  time.Hour,
		Logger:    log.New(os.Stderr, "[sweep] ", log.LstdFlags),
	}
}

// Sweeper periodically purges tombstones older than the retention window.
// Purging is what eventually turns a very stale delete into an
// orphaned_mutation instead of an idempotent no-op: the trade is bounded
// storage for a loud answer to clients that slept through the window.
type Sweeper struct {
	store  *store.Store
	config *SweeperConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     stdsync.WaitGroup
}

// NewSweeper creates a sweeper over the given store. A nil config uses
// DefaultSweeperConfig.
func NewSweeper(st *store.Store, config *SweeperConfig) (*Sweeper, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config == nil {
		config = DefaultSweeperConfig()
	}
	if config.Retention <= 0 {
		return nil, fmt.Errorf("retention must be positive (got %v)", config.Retention)
	}
	if config.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive (got %v)", config.Interval)
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[sweep] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		store:  st,
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start launches the periodic sweep in the background. Call Stop to shut
// it down.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.RunOnce(s.ctx); err != nil {
					s.config.Logger.Printf("Sweep failed: %v", err)
				}
			}
		}
	}()
	s.config.Logger.Printf("Sweeper started (retention %v, interval %v)", s.config.Retention, s.config.Interval)
}

// Stop shuts the sweeper down and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()
}

// RunOnce performs a single sweep and returns how many tombstones were
// purged.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.config.Retention)
	purged, err := s.store.PurgeTombstones(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge tombstones: %w", err)
	}
	if purged > 0 {
		s.config.Logger.Printf("Purged %d tombstones older than %v", purged, cutoff.Format(time.RFC3339))
	}
	return purged, nil
}
