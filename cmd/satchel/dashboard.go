package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/satchelhq/satchel/internal/dashboard"
	"github.com/spf13/cobra"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Start the WebSocket status dashboard",
	Long: `Start a standalone WebSocket server for monitoring sync state.

Connected clients receive JSON messages:
- sync_result: outcome of each completed sync cycle
- conflict:    a new conflict record was created
- queue_stats: pending and exhausted queue counts

For a live feed, prefer 'satchel daemon --dashboard', which runs the
server in-process with the sync engine. This standalone command serves
an idle socket, useful for testing dashboard clients. Connect at
ws://localhost:<port>/ws.`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")

		server := dashboard.NewServer(&dashboard.Config{
			Port:   port,
			Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
		})

		if err := server.Start(); err != nil {
			fatal("failed to start dashboard: %v", err)
		}

		fmt.Printf("Dashboard server started on http://localhost:%d\n", port)
		fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", port)
		fmt.Printf("Health check: http://localhost:%d/health\n", port)
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		<-ctx.Done()

		fmt.Println("\nShutting down dashboard server...")
		if err := server.Stop(); err != nil {
			fatal("error during shutdown: %v", err)
		}
	},
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 8423, "Port to listen on")
	rootCmd.AddCommand(dashboardCmd)
}
