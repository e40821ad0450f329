package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/satchelhq/satchel/internal/conflict"
	"github.com/satchelhq/satchel/internal/engine"
	"github.com/satchelhq/satchel/internal/ui"
	"github.com/spf13/cobra"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Inspect and resolve sync conflicts",
	Long: `Manage conflicts recorded by the sync engine.

A conflict is recorded when a document has a local edit waiting to be
pushed and a different remote version appears. The engine never merges
or discards either side; the local version stays the working copy and
the pair is held here until resolved.`,
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unresolved conflicts",
	Run: func(cmd *cobra.Command, args []string) {
		e, err := openEnv()
		if err != nil {
			fatal("%v", err)
		}
		defer e.close()

		records, err := e.conflicts.List(context.Background())
		if err != nil {
			fatal("%v", err)
		}

		if len(records) == 0 {
			fmt.Printf("%s No conflicts\n", ui.RenderPass("✓"))
			return
		}

		for _, rec := range records {
			fmt.Printf("%s #%d %s (%s)\n", ui.RenderWarn("⚠"), rec.ID, rec.DocID,
				rec.CreatedAt.Format("2006-01-02 15:04:05"))
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				fmt.Printf("   local:  %s\n", rec.LocalDoc)
				fmt.Printf("   remote: %s\n", rec.RemoteDoc)
			}
		}
		fmt.Printf("\nResolve with: satchel conflicts resolve <id> --keep-local | --keep-remote\n")
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Resolve a conflict by choosing a side",
	Long: `Resolve a recorded conflict by keeping one side.

--keep-local pushes the local version to the server, overwriting the
remote one. --keep-remote replaces the local version with the recorded
remote one, discarding the local edit.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fatal("invalid conflict id %q", args[0])
		}

		keepLocal, _ := cmd.Flags().GetBool("keep-local")
		keepRemote, _ := cmd.Flags().GetBool("keep-remote")
		if keepLocal == keepRemote {
			fatal("pass exactly one of --keep-local or --keep-remote")
		}

		e, err := openEnv()
		if err != nil {
			fatal("%v", err)
		}
		defer e.close()

		eng, err := buildEngine(e, log.New(os.Stderr, "[resolve] ", log.LstdFlags))
		if err != nil {
			fatal("%v", err)
		}

		res := engine.KeepLocal
		side := "local"
		if keepRemote {
			res = engine.KeepRemote
			side = "remote"
		}

		err = eng.Resolve(context.Background(), id, res)
		if errors.Is(err, conflict.ErrNotFound) {
			fatal("conflict #%d not found", id)
		}
		if err != nil {
			fatal("%v", err)
		}

		fmt.Printf("%s resolved conflict #%d, kept %s version\n", ui.RenderPass("✓"), id, side)
	},
}

func init() {
	conflictsListCmd.Flags().BoolP("verbose", "v", false, "Show both document versions")
	conflictsResolveCmd.Flags().Bool("keep-local", false, "Keep the local version")
	conflictsResolveCmd.Flags().Bool("keep-remote", false, "Keep the remote version")

	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)
	rootCmd.AddCommand(conflictsCmd)
}
