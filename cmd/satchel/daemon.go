package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/satchelhq/satchel/internal/dashboard"
	"github.com/satchelhq/satchel/internal/engine"
	"github.com/satchelhq/satchel/internal/ui"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon (foreground)",
	Long: `Run sync cycles on the configured interval until interrupted.

The daemon watches the config file and applies changes without a
restart: server endpoint, credentials, interval, and the enabled flag
all hot-reload. Logs rotate under the data directory.

With --dashboard, a WebSocket server broadcasts cycle results, new
conflicts, and queue statistics to connected clients.`,
	Run: func(cmd *cobra.Command, args []string) {
		e, err := openEnv()
		if err != nil {
			fatal("%v", err)
		}
		defer e.close()

		logOut := io.Writer(&lumberjack.Logger{
			Filename:   filepath.Join(dataDir(), "daemon.log"),
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			logOut = io.MultiWriter(logOut, os.Stderr)
		}
		logger := log.New(logOut, "[daemon] ", log.LstdFlags)

		eng, err := buildEngine(e, log.New(logOut, "[engine] ", log.LstdFlags))
		if err != nil {
			fatal("%v", err)
		}

		var dash *dashboard.Server
		var onResult func(*engine.SyncResult)
		if withDash, _ := cmd.Flags().GetBool("dashboard"); withDash {
			port, _ := cmd.Flags().GetInt("port")
			dash = dashboard.NewServer(&dashboard.Config{
				Port:   port,
				Logger: log.New(logOut, "[dashboard] ", log.LstdFlags),
			})
			if err := dash.Start(); err != nil {
				fatal("starting dashboard: %v", err)
			}
			defer dash.Stop()
			fmt.Printf("   Dashboard: ws://localhost:%d/ws\n", port)

			onResult = func(res *engine.SyncResult) {
				broadcastResult(dash, e, res, logger)
			}
		}

		d, err := engine.NewDaemon(eng, e.cfg, configPath(), &engine.DaemonConfig{
			Logger:   logger,
			OnResult: onResult,
		})
		if err != nil {
			fatal("%v", err)
		}

		fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Server:   %s\n", e.cfg.ServerURL)
		fmt.Printf("   Interval: %v\n", e.cfg.SyncInterval)
		fmt.Printf("   Log:      %s\n", filepath.Join(dataDir(), "daemon.log"))
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := d.Start(ctx); err != nil {
			fatal("daemon stopped with error: %v", err)
		}
	},
}

// broadcastResult feeds a finished cycle to dashboard clients.
func broadcastResult(dash *dashboard.Server, e *env, res *engine.SyncResult, logger *log.Logger) {
	msg, err := dashboard.NewMessage(dashboard.MessageTypeSyncResult, res)
	if err != nil {
		logger.Printf("dashboard broadcast failed: %v", err)
		return
	}
	dash.Broadcast(msg)

	if res.Conflicts > 0 {
		records, err := e.conflicts.List(context.Background())
		if err == nil {
			for _, rec := range records {
				if msg, err := dashboard.NewMessage(dashboard.MessageTypeConflict, rec); err == nil {
					dash.Broadcast(msg)
				}
			}
		}
	}

	if stats, err := e.queue.Stats(context.Background()); err == nil {
		if msg, err := dashboard.NewMessage(dashboard.MessageTypeQueueStats, stats); err == nil {
			dash.Broadcast(msg)
		}
	}
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Serve the WebSocket status dashboard")
	daemonCmd.Flags().IntP("port", "p", 8423, "Dashboard port")
	daemonCmd.Flags().BoolP("verbose", "v", false, "Also log to stderr")

	rootCmd.AddCommand(daemonCmd)
}
