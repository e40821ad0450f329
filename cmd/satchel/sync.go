package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/satchelhq/satchel/internal/config"
	"github.com/satchelhq/satchel/internal/engine"
	"github.com/satchelhq/satchel/internal/remote"
	"github.com/satchelhq/satchel/internal/ui"
	"github.com/spf13/cobra"
)

// buildEngine wires a sync engine from the loaded config.
func buildEngine(e *env, logger *log.Logger) (*engine.Engine, error) {
	if e.cfg.ServerURL == "" {
		return nil, fmt.Errorf("no server_url configured (edit %s)", configPath())
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}

	client := remote.New(remote.Config{
		ServerURL: e.cfg.ServerURL,
		Username:  e.cfg.Username,
		Password:  e.cfg.Password,
		Root:      e.cfg.Root,
	})

	workers := e.cfg.Workers
	if workers <= 0 {
		workers = config.DefaultWorkers
	}

	return engine.New(e.db, e.store, e.queue, e.conflicts, client, &engine.Config{
		Workers: workers,
		Logger:  logger,
	}), nil
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle now",
	Long: `Run a single pull/push cycle against the configured WebDAV server.

The cycle pulls remote changes, records conflicts where local pending
edits diverge from remote ones, pushes the pending queue, and syncs
attachments. Per-document failures are reported but never abort the
rest of the cycle.`,
	Run: func(cmd *cobra.Command, args []string) {
		e, err := openEnv()
		if err != nil {
			fatal("%v", err)
		}
		defer e.close()

		eng, err := buildEngine(e, log.New(os.Stderr, "[sync] ", log.LstdFlags))
		if err != nil {
			fatal("%v", err)
		}

		fmt.Printf("%s Syncing with %s...\n", ui.RenderAccent("🔄"), e.cfg.ServerURL)
		start := time.Now()

		res, err := eng.Sync(context.Background())
		if err != nil {
			fatal("sync failed: %v", err)
		}

		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Uploaded:   %d\n", res.Uploaded)
		fmt.Printf("   Downloaded: %d\n", res.Downloaded)
		if res.Conflicts > 0 {
			fmt.Printf("   %s Conflicts: %d (see 'satchel conflicts list')\n", ui.RenderWarn("⚠"), res.Conflicts)
		}
		for _, se := range res.Errors {
			fmt.Printf("   %s %s %s: %s\n", ui.RenderFail("✗"), se.Op, se.DocID, se.Message)
		}
		if len(res.Errors) > 0 {
			os.Exit(1)
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local store and sync status",
	Run: func(cmd *cobra.Command, args []string) {
		e, err := openEnv()
		if err != nil {
			fatal("%v", err)
		}
		defer e.close()

		ctx := context.Background()

		docs, err := e.store.List(ctx, "")
		if err != nil {
			fatal("%v", err)
		}
		qs, err := e.queue.Stats(ctx)
		if err != nil {
			fatal("%v", err)
		}
		conflicts, err := e.conflicts.Count(ctx)
		if err != nil {
			fatal("%v", err)
		}

		info, err := os.Stat(dbPath())
		if err != nil {
			fatal("%v", err)
		}

		fmt.Printf("\n%s Satchel Status\n\n", ui.RenderAccent("📦"))
		fmt.Printf("Database:  %s (%s)\n", dbPath(), formatSize(info.Size()))
		fmt.Printf("Documents: %d\n", len(docs))
		fmt.Printf("Pending:   %d\n", qs.Pending)
		if qs.Exhausted > 0 {
			fmt.Printf("%s Exhausted: %d (retry budget spent, needs attention)\n",
				ui.RenderWarn("⚠"), qs.Exhausted)
		}
		if conflicts > 0 {
			fmt.Printf("%s Conflicts: %d\n", ui.RenderWarn("⚠"), conflicts)
		}

		if e.cfg.Enabled {
			fmt.Printf("Sync:      enabled, every %v against %s\n", e.cfg.SyncInterval, e.cfg.ServerURL)
		} else {
			fmt.Printf("Sync:      disabled\n")
		}

		eng := buildEngineForStatus(e)
		if last, ok, _ := eng.LastSyncTime(ctx); ok {
			fmt.Printf("Last sync: %s\n", last.Format("2006-01-02 15:04:05"))
		} else {
			fmt.Printf("Last sync: never\n")
		}
		fmt.Println()
	},
}

// buildEngineForStatus builds an engine without requiring a usable
// server config; only local state is read.
func buildEngineForStatus(e *env) *engine.Engine {
	client := remote.New(remote.Config{ServerURL: e.cfg.ServerURL, Root: e.cfg.Root})
	return engine.New(e.db, e.store, e.queue, e.conflicts, client, engine.DefaultConfig())
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}
