package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ikey168/Modulo-sub010/internal/client"
	"github.com/Ikey168/Modulo-sub010/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one sync round trip",
	Long: `Run one sync round trip against the configured server.

Queued local edits are collapsed to their net effect and pushed; changes
from other devices are pulled and applied; contested notes are logged as
conflicts for 'modulo conflicts' and your local version stays in place.

Sync is safe to interrupt and safe to repeat: the cursor only advances
after the server's response has been fully applied.`,
	Run: func(cmd *cobra.Command, args []string) {
		st := openStore()
		defer st.Close()

		state := loadDeviceState()
		cl := newSyncClient(st, state)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("%s Syncing with %s...\n", ui.RenderAccent("🔄"), state.ServerURL)

		sum, err := cl.Run(ctx)
		if err != nil {
			switch {
			case errors.Is(err, client.ErrUnauthorized):
				fmt.Fprintf(os.Stderr, "Error: the server rejected this device's token; run 'modulo login' again\n")
			case errors.Is(err, client.ErrServerUnavailable):
				fmt.Fprintf(os.Stderr, "Error: the server is temporarily unavailable; your edits stay queued, retry later\n")
			default:
				fmt.Fprintf(os.Stderr, "Error: sync failed: %v\n", err)
			}
			os.Exit(1)
		}

		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), sum.Duration.Round(time.Millisecond))

		if sum.Pushed == 0 && sum.Pulled == 0 && sum.PulledDeletes == 0 {
			fmt.Println("Already up to date")
		}
		if sum.Pushed > 0 {
			fmt.Printf("Pushed %d: %d created, %d updated, %d deleted\n",
				sum.Pushed, sum.Created, sum.Updated, sum.Deleted)
		}
		if sum.Pulled > 0 || sum.PulledDeletes > 0 {
			fmt.Printf("Pulled %d changed, %d deleted\n", sum.Pulled, sum.PulledDeletes)
		}

		for _, rej := range sum.Rejected {
			fmt.Printf("%s Rejected %s of %s: %s\n",
				ui.RenderFail("✗"), rej.Op, shortID(rej.NoteID), rej.Reason)
		}
		if n := len(sum.Conflicts); n > 0 {
			fmt.Printf("%s %d conflict(s) recorded; run 'modulo conflicts list' to review\n",
				ui.RenderWarn("⚠"), n)
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
