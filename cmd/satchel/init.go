package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/satchelhq/satchel/internal/config"
	"github.com/satchelhq/satchel/internal/store"
	"github.com/satchelhq/satchel/internal/ui"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the satchel database and config",
	Long: `Create the satchel data directory, database, and default config file.

By default everything lives under ~/.satchel/:
  satchel.db    SQLite database (documents, sync queue, conflicts)
  config.yaml   Sync configuration

Running init on an existing installation is safe; it only fills in
what is missing.`,
	Run: func(cmd *cobra.Command, args []string) {
		path := dbPath()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			fatal("creating data directory: %v", err)
		}

		db, err := store.Open(path)
		if err != nil {
			fatal("opening database: %v", err)
		}
		defer db.Close()

		if err := db.InitSchema(); err != nil {
			fatal("initializing schema: %v", err)
		}

		// Load generates and persists a device id on first run.
		cfg, err := config.Load(configPath())
		if err != nil {
			fatal("loading config: %v", err)
		}
		if _, err := os.Stat(configPath()); os.IsNotExist(err) {
			if err := config.Save(configPath(), cfg); err != nil {
				fatal("writing config: %v", err)
			}
		}

		fmt.Printf("%s Initialized satchel\n", ui.RenderPass("✓"))
		fmt.Printf("   Database: %s\n", path)
		fmt.Printf("   Config:   %s\n", configPath())
		fmt.Printf("   Device:   %s\n", cfg.DeviceID)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
