package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Ikey168/Modulo-sub010/internal/client"
	"github.com/Ikey168/Modulo-sub010/internal/config"
	"github.com/Ikey168/Modulo-sub010/internal/store"
	"github.com/Ikey168/Modulo-sub010/internal/ui"
)

var (
	cfgFile string
	noColor bool

	// cfg is resolved once per invocation in the persistent pre-run.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "modulo",
	Short: "Offline-first notes with bidirectional sync",
	Long: `Modulo keeps your notes in a local SQLite database and syncs them
with a server shared by all of your devices.

Edits always land locally first and queue in an outbox; a sync round trip
pushes the queue, pulls what other devices changed, and surfaces conflicts
instead of silently overwriting either side.

Typical workflow:
  modulo login https://notes.example.com   # connect this device
  modulo note add "Shopping" -c "milk"     # edit offline, any time
  modulo sync                              # reconcile with the server
  modulo conflicts list                    # review anything contested`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			ui.DisableColor()
		}
		c, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = c
	},
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ./modulo.yaml, then ~/.modulo/modulo.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory holding the database and device state (default ~/.modulo)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "notes", Title: "Notes:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "server", Title: "Server:"},
	)
}

// fatalf prints an error the way every command reports failure and exits.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// openStore opens the device database, creating it on first use.
func openStore() *store.Store {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		fatalf("failed to create data directory: %v", err)
	}
	st, err := store.Open(cfg.DBPath())
	if err != nil {
		fatalf("failed to open database: %v", err)
	}
	if err := st.InitSchema(); err != nil {
		fatalf("failed to initialize database: %v", err)
	}
	return st
}

// loadDeviceState reads device.toml, returning a fresh identity when the
// device has never been set up.
func loadDeviceState() *client.State {
	state, err := client.LoadState(cfg.StatePath())
	if err != nil {
		fatalf("failed to load device state: %v", err)
	}
	return state
}

// newSyncClient builds the sync client or explains how to get one.
func newSyncClient(st *store.Store, state *client.State) *client.Client {
	cl, err := client.New(st, state, &client.Config{
		Timeout:    cfg.Sync.Timeout,
		BatchLimit: cfg.Sync.BatchLimit,
	})
	if errors.Is(err, client.ErrNotConfigured) {
		fatalf("this device is not connected to a server yet; run 'modulo login <server-url>' first")
	}
	if err != nil {
		fatalf("failed to set up sync client: %v", err)
	}
	return cl
}

// shortID trims a UUID to its first block for listings.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
