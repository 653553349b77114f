package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/Ikey168/Modulo-sub010/internal/client"
	"github.com/Ikey168/Modulo-sub010/internal/note"
	"github.com/Ikey168/Modulo-sub010/internal/store"
	"github.com/Ikey168/Modulo-sub010/internal/ui"
)

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	GroupID: "sync",
	Short:   "Review and resolve sync conflicts",
	Long: `Review and resolve conflicts recorded by sync.

A conflict means the same note changed on this device and elsewhere
between two syncs. Sync never picks a winner: your version stays in your
local database, the server copy is kept in the conflict record, and the
note stops syncing until you decide here.`,
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unresolved conflicts",
	Run: func(cmd *cobra.Command, args []string) {
		st := openStore()
		defer st.Close()

		rows, err := st.ListConflicts(context.Background(), client.LocalOwner, 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to list conflicts: %v\n", err)
			os.Exit(1)
		}
		if len(rows) == 0 {
			fmt.Printf("%s No conflicts\n", ui.RenderPass("✓"))
			return
		}

		fmt.Printf("%s %d unresolved conflict(s)\n\n", ui.RenderWarn("⚠"), len(rows))
		for _, sc := range rows {
			fmt.Printf("%s  %-32s  %s\n",
				ui.RenderDim(sc.DetectedAt.Local().Format("2006-01-02 15:04")),
				conflictTitle(sc),
				kindLabel(sc.Kind))
		}
		fmt.Println("\nRun 'modulo conflicts resolve' to work through them")
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve conflicts interactively",
	Long: `Walk through unresolved conflicts and decide each one.

Keeping your version re-submits it on top of the server's current
revision; taking the server's version replaces your local copy. Either
way the note syncs normally again afterwards.

Resolving needs the server: the winning version must be rebased onto
whatever revision the server holds right now.`,
	Run: func(cmd *cobra.Command, args []string) {
		st := openStore()
		defer st.Close()
		ctx := context.Background()

		rows, err := st.ListConflicts(ctx, client.LocalOwner, 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to list conflicts: %v\n", err)
			os.Exit(1)
		}
		if len(rows) == 0 {
			fmt.Printf("%s No conflicts\n", ui.RenderPass("✓"))
			return
		}

		state := loadDeviceState()
		cl := newSyncClient(st, state)

		resolved := 0
		for _, sc := range rows {
			choice, err := askResolution(st, sc)
			if errors.Is(err, huh.ErrUserAborted) {
				fmt.Println("\nStopped; remaining conflicts stay recorded")
				break
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			switch choice {
			case "skip":
				continue
			case "mine":
				err = resolveKeepMine(ctx, st, cl, sc)
			case "server":
				err = resolveTakeServer(ctx, st, cl, sc)
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s Failed to resolve %s: %v\n",
					ui.RenderFail("✗"), conflictTitle(sc), err)
				continue
			}

			if err := st.DeleteConflict(ctx, sc.Seq); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to clear conflict record: %v\n", err)
				os.Exit(1)
			}
			resolved++
		}

		if resolved > 0 {
			fmt.Printf("%s Resolved %d conflict(s)\n", ui.RenderPass("✓"), resolved)
			fmt.Println("Run 'modulo sync' to finish")
		}
	},
}

// askResolution shows the picker for one conflict.
func askResolution(st *store.Store, sc *store.StoredConflict) (string, error) {
	local, err := st.GetNoteContext(context.Background(), client.LocalOwner, sc.NoteID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	var choice string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(fmt.Sprintf("%s · %s", conflictTitle(sc), kindLabel(sc.Kind))).
			Description(describeSides(local, sc)).
			Options(
				huh.NewOption("Keep my version", "mine"),
				huh.NewOption("Take the server's version", "server"),
				huh.NewOption("Decide later", "skip"),
			).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return "", err
	}
	return choice, nil
}

// resolveKeepMine re-submits the local version on top of the server's
// current revision. The queue for the note is cleared first so stale
// bases cannot fold into the resolution and conflict all over again.
func resolveKeepMine(ctx context.Context, st *store.Store, cl *client.Client, sc *store.StoredConflict) error {
	if err := st.DeleteMutationsForNote(ctx, sc.NoteID); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}

	local, err := st.GetNoteContext(ctx, client.LocalOwner, sc.NoteID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	mineDeleted := local == nil || local.Deleted

	current, err := cl.FetchNote(ctx, sc.NoteID)
	switch {
	case err == nil && !mineDeleted:
		_, err := st.EnqueueMutation(ctx, &note.Mutation{
			Op: note.OpUpdate, NoteID: sc.NoteID, BaseRevision: current.Revision, Note: local,
		})
		return err

	case err == nil && mineDeleted:
		_, err := st.EnqueueMutation(ctx, &note.Mutation{
			Op: note.OpDelete, NoteID: sc.NoteID, BaseRevision: current.Revision,
		})
		return err

	case errors.Is(err, client.ErrNotFound) && !mineDeleted:
		// The server-side id is gone for good; tombstoned ids never come
		// back, so the content restarts under a fresh identity.
		now := time.Now().UTC()
		reborn := local.Clone()
		reborn.ID = note.NewID()
		reborn.Revision = 0
		reborn.CreatedAt = now
		reborn.ModifiedAt = now
		if err := st.PutNoteContext(ctx, reborn); err != nil {
			return err
		}
		if _, err := st.EnqueueMutation(ctx, &note.Mutation{
			Op: note.OpCreate, NoteID: reborn.ID, Note: reborn,
		}); err != nil {
			return err
		}
		local.Deleted = true
		local.ClearContent()
		local.ModifiedAt = now
		return st.PutNoteContext(ctx, local)

	case errors.Is(err, client.ErrNotFound):
		// Deleted on both sides; there is nothing left to argue about.
		return nil

	default:
		return err
	}
}

// resolveTakeServer replaces the local copy with whatever the server
// holds right now.
func resolveTakeServer(ctx context.Context, st *store.Store, cl *client.Client, sc *store.StoredConflict) error {
	if err := st.DeleteMutationsForNote(ctx, sc.NoteID); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}

	current, err := cl.FetchNote(ctx, sc.NoteID)
	if errors.Is(err, client.ErrNotFound) {
		local, gerr := st.GetNoteContext(ctx, client.LocalOwner, sc.NoteID)
		if errors.Is(gerr, store.ErrNotFound) {
			return nil
		}
		if gerr != nil {
			return gerr
		}
		if local.Deleted {
			return nil
		}
		local.Deleted = true
		local.ClearContent()
		local.ModifiedAt = time.Now().UTC()
		return st.PutNoteContext(ctx, local)
	}
	if err != nil {
		return err
	}

	cp := current.Clone()
	cp.Owner = client.LocalOwner
	return st.PutNoteContext(ctx, cp)
}

func conflictTitle(sc *store.StoredConflict) string {
	if sc.ClientNote != nil && sc.ClientNote.Title != "" {
		return sc.ClientNote.Title
	}
	if sc.ServerNote != nil && sc.ServerNote.Title != "" {
		return sc.ServerNote.Title
	}
	return shortID(sc.NoteID)
}

func kindLabel(k note.ConflictKind) string {
	switch k {
	case note.ConflictModifiedBoth:
		return "edited on both sides"
	case note.ConflictDeleteVsModify:
		return "deleted here, edited on the server"
	case note.ConflictModifyVsDelete:
		return "edited here, deleted on the server"
	case note.ConflictCreateBoth:
		return "created on both sides"
	case note.ConflictOrphanedMutation:
		return "the server no longer knows this note"
	}
	return string(k)
}

// describeSides summarizes both versions for the picker.
func describeSides(local *note.Note, sc *store.StoredConflict) string {
	return fmt.Sprintf("Yours:  %s\nServer: %s", summarize(local), summarize(sc.ServerNote))
}

func summarize(n *note.Note) string {
	if n == nil || n.Deleted {
		return "(deleted)"
	}
	s := n.Title
	if c := strings.TrimSpace(n.Content); c != "" {
		if line, _, found := strings.Cut(c, "\n"); found {
			c = line + "…"
		}
		if len(c) > 60 {
			c = c[:60] + "…"
		}
		s += " · " + c
	}
	return s
}

func init() {
	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)
	rootCmd.AddCommand(conflictsCmd)
}
