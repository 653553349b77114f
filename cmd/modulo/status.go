package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ikey168/Modulo-sub010/internal/client"
	"github.com/Ikey168/Modulo-sub010/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show device and server sync state",
	Long: `Show this device's sync state and, when reachable, the server's.

The checksums summarize each side's live notes; matching checksums mean
the replicas hold exactly the same note set.`,
	Run: func(cmd *cobra.Command, args []string) {
		st := openStore()
		defer st.Close()
		ctx := context.Background()

		state := loadDeviceState()

		fmt.Printf("%s Modulo Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Device id:    %s\n", state.DeviceID)
		if state.ServerURL == "" {
			fmt.Printf("Server:       %s\n", ui.RenderWarn("not configured (run 'modulo login')"))
		} else {
			fmt.Printf("Server:       %s\n", state.ServerURL)
		}
		if state.LastSyncAt.IsZero() {
			fmt.Printf("Last sync:    %s\n", ui.RenderWarn("never"))
		} else {
			fmt.Printf("Last sync:    %s (revision %d)\n",
				state.LastSyncAt.Local().Format("2006-01-02 15:04:05"), state.LastSyncRevision)
		}

		depth, err := st.OutboxDepth(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to read outbox: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Outbox:       %d pending mutation(s)\n", depth)

		conflicts, err := st.ListConflicts(ctx, client.LocalOwner, 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to read conflicts: %v\n", err)
			os.Exit(1)
		}
		if len(conflicts) > 0 {
			fmt.Printf("Conflicts:    %s\n", ui.RenderWarn(fmt.Sprintf("%d unresolved", len(conflicts))))
		} else {
			fmt.Printf("Conflicts:    none\n")
		}

		liveCount, err := st.CountNotes(ctx, client.LocalOwner)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to count notes: %v\n", err)
			os.Exit(1)
		}
		tombstones, err := st.CountTombstones(ctx, client.LocalOwner)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to count tombstones: %v\n", err)
			os.Exit(1)
		}
		localSum, err := st.LiveChecksum(ctx, client.LocalOwner)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to checksum notes: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nLocal:        %d notes, %d tombstones\n", liveCount, tombstones)
		fmt.Printf("Checksum:     %s\n", ui.RenderDim(localSum))

		if state.ServerURL == "" {
			return
		}

		cl := newSyncClient(st, state)
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		remote, err := cl.ServerStatus(probeCtx)
		if err != nil {
			fmt.Printf("\n%s Server unreachable: %v\n", ui.RenderWarn("⚠"), err)
			return
		}

		fmt.Printf("\nServer:       %d notes, %d tombstones\n", remote.NoteCount, remote.TombstoneCount)
		fmt.Printf("Checksum:     %s\n", ui.RenderDim(remote.Checksum))

		switch {
		case remote.Checksum == localSum:
			fmt.Printf("\n%s Replicas are in sync\n", ui.RenderPass("✓"))
		case depth > 0 || len(conflicts) > 0:
			fmt.Printf("\n%s Replicas differ; pending work explains it. Run 'modulo sync'\n", ui.RenderWarn("⚠"))
		default:
			fmt.Printf("\n%s Replicas differ with nothing pending. Run 'modulo sync' to reconcile\n", ui.RenderWarn("⚠"))
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
