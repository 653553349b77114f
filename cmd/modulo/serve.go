package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Ikey168/Modulo-sub010/internal/server"
	notesync "github.com/Ikey168/Modulo-sub010/internal/sync"
	"github.com/Ikey168/Modulo-sub010/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "server",
	Short:   "Run the sync server",
	Long: `Run the sync server that devices reconcile against.

The server owns the authoritative copy of every note, applies mutations
with optimistic concurrency, and classifies anything contested as a
conflict rather than guessing a winner. A retention sweeper purges old
tombstones in the background.

Endpoints:
  POST /api/v1/sync          one sync round trip
  GET  /api/v1/notes/{id}    single note
  GET  /api/v1/changes       read-only delta peek
  GET  /api/v1/sync/status   note counts and live-set checksum
  GET  /ws                   change feed (nudges, no note content)
  GET  /healthz              health check

Access control comes from the tokens map in modulo.yaml. With no tokens
configured the server runs in single-user mode and every request maps to
one account.

Example usage:
  modulo serve                   # listen on the configured port
  modulo serve --port 9000       # override the port
  modulo serve --log-file /var/log/modulo.log`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := log.New(os.Stderr, "[server] ", log.LstdFlags)
		if cfg.Log.File != "" {
			logger = log.New(&lumberjack.Logger{
				Filename:   cfg.Log.File,
				MaxSize:    cfg.Log.MaxSizeMB,
				MaxBackups: cfg.Log.MaxBackups,
				MaxAge:     cfg.Log.MaxAgeDays,
				Compress:   true,
			}, "[server] ", log.LstdFlags)
		}

		st := openStore()
		defer st.Close()

		engine := notesync.New(st, nil, logger)

		sweeper, err := notesync.NewSweeper(st, &notesync.SweeperConfig{
			Retention: cfg.Server.Retention,
			Interval:  cfg.Server.SweepInterval,
			Logger:    logger,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to set up sweeper: %v\n", err)
			os.Exit(1)
		}

		srv, err := server.NewServer(engine, &server.Config{
			Port:   cfg.Server.Port,
			Tokens: cfg.Server.Tokens,
			Logger: logger,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to set up server: %v\n", err)
			os.Exit(1)
		}

		if err := srv.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start server: %v\n", err)
			os.Exit(1)
		}
		sweeper.Start()

		addr := srv.GetAddr()
		fmt.Printf("%s Sync server listening on %s\n", ui.RenderAccent("🚀"), addr)
		fmt.Printf("Sync endpoint: http://%s/api/v1/sync\n", addr)
		fmt.Printf("Change feed:   ws://%s/ws\n", addr)
		if len(cfg.Server.Tokens) == 0 {
			fmt.Printf("%s No tokens configured; running in single-user mode\n", ui.RenderWarn("⚠"))
		}
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		<-ctx.Done()

		fmt.Println("\nShutting down...")
		sweeper.Stop()
		if err := srv.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Sync server stopped")
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().String("log-file", "", "Rotate server logs to this file instead of stderr")

	rootCmd.AddCommand(serveCmd)
}
