package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ikey168/Modulo-sub010/internal/client"
	"github.com/Ikey168/Modulo-sub010/internal/note"
	"github.com/Ikey168/Modulo-sub010/internal/store"
	"github.com/Ikey168/Modulo-sub010/internal/ui"
)

var noteCmd = &cobra.Command{
	Use:     "note",
	GroupID: "notes",
	Short:   "Create and manage notes",
	Long: `Create and manage notes in the local database.

Every change lands locally first and queues for the next sync; nothing
here talks to the server. Notes created offline carry revision 0 until
the server accepts them.`,
}

var noteAddCmd = &cobra.Command{
	Use:   "add <title>",
	Args:  cobra.ExactArgs(1),
	Short: "Create a note",
	Long: `Create a note with the given title.

Content comes from --content, or from stdin when --content is "-".

Example usage:
  modulo note add "Shopping" --content "milk, eggs"
  modulo note add "Meeting notes" --tags work,weekly
  cat draft.txt | modulo note add "Draft" --content -`,
	Run: func(cmd *cobra.Command, args []string) {
		content, _ := cmd.Flags().GetString("content")
		tags, _ := cmd.Flags().GetStringSlice("tags")

		if content == "-" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to read stdin: %v\n", err)
				os.Exit(1)
			}
			content = string(data)
		}

		st := openStore()
		defer st.Close()
		ctx := context.Background()

		now := time.Now().UTC()
		n := &note.Note{
			ID:         note.NewID(),
			Owner:      client.LocalOwner,
			Title:      args[0],
			Content:    content,
			Tags:       note.NormalizeTags(tags),
			CreatedAt:  now,
			ModifiedAt: now,
		}
		if err := n.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := st.PutNote(n); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to store note: %v\n", err)
			os.Exit(1)
		}
		if _, err := st.EnqueueMutation(ctx, &note.Mutation{
			Op: note.OpCreate, NoteID: n.ID, Note: n,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to queue note for sync: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Created %s %s\n", ui.RenderPass("✓"), n.Title, ui.RenderDim("("+shortID(n.ID)+")"))
	},
}

var noteEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Args:  cobra.ExactArgs(1),
	Short: "Edit a note",
	Long: `Edit a note's title, content, or tags.

The id may be abbreviated to any unique prefix. Only the fields you pass
change; --tags replaces the whole tag set.`,
	Run: func(cmd *cobra.Command, args []string) {
		if !cmd.Flags().Changed("title") && !cmd.Flags().Changed("content") && !cmd.Flags().Changed("tags") {
			fmt.Fprintf(os.Stderr, "Error: nothing to change; pass --title, --content, or --tags\n")
			os.Exit(1)
		}

		st := openStore()
		defer st.Close()
		ctx := context.Background()

		n := resolveNote(st, args[0])
		if cmd.Flags().Changed("title") {
			n.Title, _ = cmd.Flags().GetString("title")
		}
		if cmd.Flags().Changed("content") {
			n.Content, _ = cmd.Flags().GetString("content")
		}
		if cmd.Flags().Changed("tags") {
			tags, _ := cmd.Flags().GetStringSlice("tags")
			n.Tags = note.NormalizeTags(tags)
		}
		n.ModifiedAt = time.Now().UTC()

		if err := n.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := st.PutNote(n); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to store note: %v\n", err)
			os.Exit(1)
		}

		// Unsynced notes requeue as creates; the server has no revision
		// to base an update on.
		m := &note.Mutation{Op: note.OpUpdate, NoteID: n.ID, BaseRevision: n.Revision, Note: n}
		if n.Revision == 0 {
			m = &note.Mutation{Op: note.OpCreate, NoteID: n.ID, Note: n}
		}
		if _, err := st.EnqueueMutation(ctx, m); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to queue edit for sync: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Updated %s %s\n", ui.RenderPass("✓"), n.Title, ui.RenderDim("("+shortID(n.ID)+")"))
	},
}

var noteRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Args:  cobra.ExactArgs(1),
	Short: "Delete a note",
	Long: `Delete a note.

The note becomes a local tombstone immediately. If it has synced before,
the delete queues for the server; a note the server never saw is simply
withdrawn and the server hears nothing.`,
	Run: func(cmd *cobra.Command, args []string) {
		st := openStore()
		defer st.Close()
		ctx := context.Background()

		n := resolveNote(st, args[0])
		title := n.Title

		base := n.Revision
		n.Deleted = true
		n.ClearContent()
		n.ModifiedAt = time.Now().UTC()
		if err := st.PutNote(n); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to delete note: %v\n", err)
			os.Exit(1)
		}

		if base == 0 {
			// Never synced: the server must not hear about it at all.
			if err := st.DeleteMutationsForNote(ctx, n.ID); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to clear queue: %v\n", err)
				os.Exit(1)
			}
		} else {
			if _, err := st.EnqueueMutation(ctx, &note.Mutation{
				Op: note.OpDelete, NoteID: n.ID, BaseRevision: base,
			}); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to queue delete for sync: %v\n", err)
				os.Exit(1)
			}
		}

		fmt.Printf("%s Deleted %s %s\n", ui.RenderPass("✓"), title, ui.RenderDim("("+shortID(n.ID)+")"))
	},
}

var noteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notes",
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")
		tag, _ := cmd.Flags().GetString("tag")

		st := openStore()
		defer st.Close()

		notes, err := st.ListNotes(context.Background(), client.LocalOwner, all)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to list notes: %v\n", err)
			os.Exit(1)
		}

		shown := 0
		for _, n := range notes {
			if tag != "" && !hasTag(n, tag) {
				continue
			}
			marker := ""
			switch {
			case n.Deleted:
				marker = ui.RenderFail("deleted")
			case n.Revision == 0:
				marker = ui.RenderWarn("unsynced")
			}
			line := fmt.Sprintf("%s  %-32s", ui.RenderDim(shortID(n.ID)), n.Title)
			if len(n.Tags) > 0 {
				line += "  " + ui.RenderDim("#"+strings.Join(n.Tags, " #"))
			}
			if marker != "" {
				line += "  " + marker
			}
			fmt.Println(line)
			shown++
		}

		if shown == 0 {
			fmt.Println("No notes yet. Create one with 'modulo note add <title>'.")
		}
	},
}

var noteShowCmd = &cobra.Command{
	Use:   "show <id>",
	Args:  cobra.ExactArgs(1),
	Short: "Show a note",
	Run: func(cmd *cobra.Command, args []string) {
		st := openStore()
		defer st.Close()

		n := resolveNote(st, args[0])

		fmt.Println(ui.RenderHeader(n.Title))
		meta := fmt.Sprintf("id %s · revision %d · modified %s",
			n.ID, n.Revision, n.ModifiedAt.Local().Format("2006-01-02 15:04"))
		if n.Revision == 0 {
			meta = fmt.Sprintf("id %s · not yet synced", n.ID)
		}
		fmt.Println(ui.RenderDim(meta))
		if len(n.Tags) > 0 {
			fmt.Println(ui.RenderDim("#" + strings.Join(n.Tags, " #")))
		}
		if n.Content != "" {
			fmt.Println()
			fmt.Println(n.Content)
		}
	},
}

// resolveNote finds a live note by full id or unique id prefix.
func resolveNote(st *store.Store, arg string) *note.Note {
	if n, err := st.GetNote(client.LocalOwner, arg); err == nil && !n.Deleted {
		return n
	}

	notes, err := st.ListNotes(context.Background(), client.LocalOwner, false)
	if err != nil {
		fatalf("failed to list notes: %v", err)
	}
	var matches []*note.Note
	for _, n := range notes {
		if strings.HasPrefix(n.ID, arg) {
			matches = append(matches, n)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0]
	case 0:
		fatalf("no note matches %q", arg)
	default:
		fatalf("%q is ambiguous; %d notes match", arg, len(matches))
	}
	return nil
}

func hasTag(n *note.Note, tag string) bool {
	for _, t := range n.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func init() {
	noteAddCmd.Flags().StringP("content", "c", "", "Note content (\"-\" reads stdin)")
	noteAddCmd.Flags().StringSlice("tags", nil, "Comma-separated tags")

	noteEditCmd.Flags().String("title", "", "New title")
	noteEditCmd.Flags().StringP("content", "c", "", "New content")
	noteEditCmd.Flags().StringSlice("tags", nil, "Replacement tag set")

	noteListCmd.Flags().Bool("all", false, "Include deleted notes")
	noteListCmd.Flags().String("tag", "", "Only notes carrying this tag")

	noteCmd.AddCommand(noteAddCmd)
	noteCmd.AddCommand(noteEditCmd)
	noteCmd.AddCommand(noteRmCmd)
	noteCmd.AddCommand(noteListCmd)
	noteCmd.AddCommand(noteShowCmd)
	rootCmd.AddCommand(noteCmd)
}
