package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Ikey168/Modulo-sub010/internal/client"
	"github.com/Ikey168/Modulo-sub010/internal/importer"
	"github.com/Ikey168/Modulo-sub010/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import [dir]",
	GroupID: "notes",
	Args:    cobra.MaximumNArgs(1),
	Short:   "Import notes from a directory or a JSONL backup",
	Long: `Import notes from a directory of Markdown and JSON files.

Markdown files may carry YAML front matter (id, title, tags); files
without an id get one assigned and written back, so later rescans
recognize them. Imported notes queue for sync like any other edit.

With --watch the directory is monitored and changes flow in as they
happen, until interrupted.

With --jsonl the argument is a backup produced by 'modulo export': notes
are restored verbatim, revisions included, and nothing queues for sync.

Example usage:
  modulo import ~/vault
  modulo import ~/vault --watch
  modulo import --jsonl backup.jsonl`,
	Run: func(cmd *cobra.Command, args []string) {
		watch, _ := cmd.Flags().GetBool("watch")
		jsonlPath, _ := cmd.Flags().GetString("jsonl")

		if (jsonlPath == "") == (len(args) == 0) {
			fmt.Fprintf(os.Stderr, "Error: pass a directory or --jsonl <file>, not both\n")
			os.Exit(1)
		}

		st := openStore()
		defer st.Close()
		ctx := context.Background()

		if jsonlPath != "" {
			f, err := os.Open(jsonlPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			defer f.Close()

			res, err := importer.ImportJSONL(ctx, st, client.LocalOwner, f)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: restore failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%s Restored %d notes, updated %d\n", ui.RenderPass("✓"), res.Imported, res.Updated)
			printImportErrors(res)
			return
		}

		im, err := importer.New(st, args[0], &importer.Config{
			Logger: log.New(os.Stderr, "[import] ", log.LstdFlags),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if !watch {
			res, err := im.ImportOnce(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: import failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%s Imported %d, updated %d, skipped %d unchanged\n",
				ui.RenderPass("✓"), res.Imported, res.Updated, res.Skipped)
			printImportErrors(res)
			if res.Imported > 0 || res.Updated > 0 {
				fmt.Println("Run 'modulo sync' to push them")
			}
			return
		}

		sigCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("%s Watching %s for changes...\n", ui.RenderAccent("👀"), args[0])
		fmt.Println("Press Ctrl+C to stop...")

		if err := im.Start(sigCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: watcher failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("\nStopped watching")
	},
}

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "notes",
	Short:   "Export all notes as JSONL",
	Long: `Export every note, tombstones included, as one JSON object per line.

The output restores cleanly with 'modulo import --jsonl' and preserves
revisions, which makes it a full-fidelity replica backup rather than a
mere content dump.

Example usage:
  modulo export --jsonl backup.jsonl
  modulo export | jq .title`,
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("jsonl")

		st := openStore()
		defer st.Close()

		out := os.Stdout
		if path != "" && path != "-" {
			f, err := os.Create(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			defer f.Close()
			out = f
		}

		n, err := importer.ExportJSONL(context.Background(), st, client.LocalOwner, out)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: export failed: %v\n", err)
			os.Exit(1)
		}

		// Keep stdout clean when the backup itself goes there.
		if out == os.Stdout {
			fmt.Fprintf(os.Stderr, "Exported %d notes\n", n)
		} else {
			fmt.Printf("%s Exported %d notes to %s\n", ui.RenderPass("✓"), n, path)
		}
	},
}

func printImportErrors(res *importer.Result) {
	for _, msg := range res.Errors {
		fmt.Printf("%s %s\n", ui.RenderFail("✗"), msg)
	}
}

func init() {
	importCmd.Flags().Bool("watch", false, "Keep watching the directory for changes")
	importCmd.Flags().String("jsonl", "", "Restore from a JSONL backup instead of scanning a directory")

	exportCmd.Flags().String("jsonl", "", "Write to this file instead of stdout")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
}
