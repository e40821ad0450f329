package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/satchelhq/satchel/internal/config"
	"github.com/satchelhq/satchel/internal/conflict"
	"github.com/satchelhq/satchel/internal/queue"
	"github.com/satchelhq/satchel/internal/store"
	"github.com/spf13/cobra"
)

var (
	flagConfig string
	flagDB     string
)

var rootCmd = &cobra.Command{
	Use:   "satchel",
	Short: "Local-first revisioned document store with WebDAV sync",
	Long: `Satchel stores revisioned JSON documents in a local SQLite database
and replicates them to a WebDAV server in the background.

Local reads and writes never touch the network. Every mutation gets a
new revision token and a durable sync queue entry; the sync engine
pushes pending changes and pulls remote ones on a configurable
interval, recording conflicts for manual resolution instead of merging.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default ~/.satchel/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "Database file (default ~/.satchel/satchel.db)")
}

// dataDir resolves the satchel home directory.
func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".satchel"
	}
	return filepath.Join(home, ".satchel")
}

func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	return filepath.Join(dataDir(), "config.yaml")
}

func dbPath() string {
	if flagDB != "" {
		return flagDB
	}
	return filepath.Join(dataDir(), "satchel.db")
}

// env bundles the opened database with the stores built on it.
type env struct {
	db        *store.DB
	store     *store.Store
	queue     *queue.Queue
	conflicts *conflict.Store
	cfg       *config.SyncConfig
}

func (e *env) close() {
	_ = e.db.Close()
}

// openEnv opens the database and constructs the store layer. The
// database must already exist (created by 'satchel init').
func openEnv() (*env, error) {
	path := dbPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found at %s (run 'satchel init' first)", path)
	}

	db, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(); err != nil {
		db.Close()
		return nil, err
	}

	cfg, err := config.Load(configPath())
	if err != nil {
		db.Close()
		return nil, err
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = queue.DefaultMaxRetries
	}

	return &env{
		db:        db,
		store:     store.New(db, nil),
		queue:     queue.New(db.RawDB(), maxRetries),
		conflicts: conflict.New(db.RawDB()),
		cfg:       cfg,
	}, nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
