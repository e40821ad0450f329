package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/satchelhq/satchel/internal/store"
	"github.com/satchelhq/satchel/internal/ui"
	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print a document's content",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := openEnv()
		if err != nil {
			fatal("%v", err)
		}
		defer e.close()

		doc, err := e.store.Get(context.Background(), args[0])
		if errors.Is(err, store.ErrNotFound) {
			fatal("document %q not found", args[0])
		}
		if err != nil {
			fatal("%v", err)
		}

		if showRev, _ := cmd.Flags().GetBool("rev"); showRev {
			fmt.Println(doc.Rev)
			return
		}
		fmt.Println(string(doc.Content))
	},
}

var putCmd = &cobra.Command{
	Use:   "put <id> [file]",
	Short: "Create or update a document",
	Long: `Write a JSON document under the given id.

Content is read from the file argument, or from stdin when omitted.
Updating an existing document requires its current revision via --rev;
a stale revision is rejected without modifying anything. Use --force to
overwrite regardless of revision.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		var content []byte
		var err error
		if len(args) == 2 {
			content, err = os.ReadFile(args[1])
		} else {
			content, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			fatal("reading content: %v", err)
		}

		rev, _ := cmd.Flags().GetString("rev")
		force, _ := cmd.Flags().GetBool("force")

		e, err := openEnv()
		if err != nil {
			fatal("%v", err)
		}
		defer e.close()

		doc := &store.Document{ID: args[0], Rev: rev, Content: json.RawMessage(content)}
		res, err := e.store.Put(context.Background(), doc, &store.WriteOptions{Force: force})
		var conflictErr *store.ConflictError
		if errors.As(err, &conflictErr) {
			fatal("revision mismatch on %q: have %q, current is %q (re-read and retry, or use --force)",
				conflictErr.ID, conflictErr.GivenRev, conflictErr.CurrentRev)
		}
		if err != nil {
			fatal("%v", err)
		}

		fmt.Printf("%s %s @ %s\n", ui.RenderPass("✓"), res.ID, res.Rev)
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a document",
	Long: `Remove a document by id.

Removal writes a tombstone that replicates to other devices; the id
reads as not-found locally afterwards. Requires the current revision
via --rev unless --force is given.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rev, _ := cmd.Flags().GetString("rev")
		force, _ := cmd.Flags().GetBool("force")
		if rev == "" && !force {
			fatal("--rev is required (or pass --force)")
		}

		e, err := openEnv()
		if err != nil {
			fatal("%v", err)
		}
		defer e.close()

		tombRev, err := e.store.Remove(context.Background(), args[0], rev, &store.WriteOptions{Force: force})
		if errors.Is(err, store.ErrNotFound) {
			fatal("document %q not found", args[0])
		}
		var conflictErr *store.ConflictError
		if errors.As(err, &conflictErr) {
			fatal("revision mismatch on %q: have %q, current is %q",
				conflictErr.ID, conflictErr.GivenRev, conflictErr.CurrentRev)
		}
		if err != nil {
			fatal("%v", err)
		}

		fmt.Printf("%s removed %s @ %s\n", ui.RenderPass("✓"), args[0], tombRev)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	Run: func(cmd *cobra.Command, args []string) {
		prefix, _ := cmd.Flags().GetString("prefix")
		asJSON, _ := cmd.Flags().GetBool("json")

		e, err := openEnv()
		if err != nil {
			fatal("%v", err)
		}
		defer e.close()

		docs, err := e.store.List(context.Background(), prefix)
		if err != nil {
			fatal("%v", err)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(docs); err != nil {
				fatal("%v", err)
			}
			return
		}

		for _, doc := range docs {
			fmt.Printf("%s  %s  %s\n", doc.ID, ui.RenderDim(doc.Rev), doc.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
	},
}

func init() {
	getCmd.Flags().Bool("rev", false, "Print only the current revision")
	putCmd.Flags().String("rev", "", "Current revision of the document being updated")
	putCmd.Flags().Bool("force", false, "Overwrite regardless of revision")
	rmCmd.Flags().String("rev", "", "Current revision of the document")
	rmCmd.Flags().Bool("force", false, "Remove regardless of revision")
	listCmd.Flags().String("prefix", "", "Only list ids with this prefix")
	listCmd.Flags().Bool("json", false, "Output full documents as JSON")

	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(listCmd)
}
