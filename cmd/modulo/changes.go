package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/Ikey168/Modulo-sub010/internal/note"
	"github.com/Ikey168/Modulo-sub010/internal/ui"
)

var changesCmd = &cobra.Command{
	Use:     "changes",
	GroupID: "sync",
	Short:   "Peek at server-side changes without syncing",
	Long: `List what changed on the server without running a sync.

By default the window starts at this device's cursor, i.e. everything a
'modulo sync' would pull right now. --since accepts natural language or
an RFC 3339 timestamp.

This is a read-only peek: nothing is applied and the cursor does not
move.

Example usage:
  modulo changes
  modulo changes --since "yesterday at 3pm"
  modulo changes --since 2026-08-01T00:00:00Z`,
	Run: func(cmd *cobra.Command, args []string) {
		sinceExpr, _ := cmd.Flags().GetString("since")

		st := openStore()
		defer st.Close()
		state := loadDeviceState()
		cl := newSyncClient(st, state)

		cur := state.Cursor()
		sinceDesc := "last sync"
		if state.Cursor().IsZero() {
			sinceDesc = "the beginning"
		}
		if sinceExpr != "" {
			ts, err := parseSince(sinceExpr)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			cur = note.Cursor{Timestamp: ts}
			sinceDesc = ts.Local().Format("2006-01-02 15:04")
		}

		ch, err := cl.Changes(context.Background(), cur)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to fetch changes: %v\n", err)
			os.Exit(1)
		}

		if len(ch.ServerNotes) == 0 && len(ch.DeletedNoteIDs) == 0 {
			fmt.Printf("No changes on %s since %s\n", state.ServerURL, sinceDesc)
			return
		}

		fmt.Printf("%s Changes on %s since %s\n\n", ui.RenderAccent("🔄"), state.ServerURL, sinceDesc)
		for _, n := range ch.ServerNotes {
			fmt.Printf("%s  %-32s  %s\n",
				ui.RenderDim(n.ModifiedAt.Local().Format("2006-01-02 15:04")),
				n.Title,
				ui.RenderDim(shortID(n.ID)))
		}
		for _, id := range ch.DeletedNoteIDs {
			fmt.Printf("%s deleted %s\n", ui.RenderFail("✗"), shortID(id))
		}
		fmt.Println("\nRun 'modulo sync' to apply them")
	},
}

// parseSince accepts RFC 3339 timestamps, plain dates, and "yesterday at
// 3pm" style expressions. Exact layouts are tried first so a precise
// timestamp can never be reinterpreted by the fuzzy parser.
func parseSince(expr string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, expr); err == nil {
			return ts, nil
		}
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	if r, err := w.Parse(expr, time.Now()); err == nil && r != nil {
		return r.Time, nil
	}

	return time.Time{}, fmt.Errorf("could not understand the time %q; try an RFC 3339 timestamp", expr)
}

func init() {
	changesCmd.Flags().String("since", "", "Window start: natural language or RFC 3339")

	rootCmd.AddCommand(changesCmd)
}
