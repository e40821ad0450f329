package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/satchelhq/satchel/internal/config"
	"github.com/satchelhq/satchel/internal/remote"
)

// DaemonConfig holds configuration for the sync daemon.
type DaemonConfig struct {
	// Logger for daemon activity.
	Logger *log.Logger

	// OnResult is invoked after every completed cycle, e.g. to feed
	// the dashboard. May be nil.
	OnResult func(*SyncResult)
}

// Daemon runs sync cycles on the configured interval and hot-reloads
// the sync configuration when the config file changes, rebuilding the
// engine's remote connection handle.
type Daemon struct {
	engine     *Engine
	configPath string
	logger     *log.Logger
	onResult   func(*SyncResult)

	mu       sync.Mutex
	interval time.Duration
	enabled  bool

	watcher *fsnotify.Watcher
	reload  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDaemon creates a Daemon driving the given engine. cfg is the
// currently loaded sync configuration; configPath is watched for
// changes.
func NewDaemon(e *Engine, cfg *config.SyncConfig, configPath string, dcfg *DaemonConfig) (*Daemon, error) {
	if e == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if dcfg == nil {
		dcfg = &DaemonConfig{}
	}
	logger := dcfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	interval := cfg.SyncInterval
	if interval <= 0 {
		interval = config.DefaultSyncInterval
	}

	return &Daemon{
		engine:     e,
		configPath: configPath,
		logger:     logger,
		onResult:   dcfg.OnResult,
		interval:   interval,
		enabled:    cfg.Enabled,
		watcher:    watcher,
		reload:     make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon runs one cycle immediately (when enabled), then on every
// interval tick, and reloads configuration whenever the config file
// changes. This blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Println("Starting sync daemon")

	// Watch the config file's directory; editors and viper replace the
	// file rather than writing in place.
	if err := d.watcher.Add(filepath.Dir(d.configPath)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	d.wg.Add(2)
	go d.watchConfig()
	go d.runCycles()

	select {
	case <-ctx.Done():
		d.logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. A cycle in flight finishes its
// current document operation before the engine returns.
func (d *Daemon) Stop() error {
	d.logger.Println("Stopping sync daemon")
	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()
	d.logger.Println("Sync daemon stopped")
	return nil
}

// runCycles drives the interval loop.
func (d *Daemon) runCycles() {
	defer d.wg.Done()

	d.runOnce()

	for {
		d.mu.Lock()
		interval := d.interval
		d.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-d.ctx.Done():
			timer.Stop()
			return
		case <-d.reload:
			timer.Stop()
			continue
		case <-timer.C:
			d.runOnce()
		}
	}
}

// runOnce runs a single cycle if sync is enabled.
func (d *Daemon) runOnce() {
	d.mu.Lock()
	enabled := d.enabled
	d.mu.Unlock()
	if !enabled {
		return
	}

	res, err := d.engine.Sync(d.ctx)
	if err != nil {
		if errors.Is(err, ErrSyncInProgress) {
			d.logger.Println("Cycle still in progress, skipping this slot")
			return
		}
		d.logger.Printf("Cycle failed: %v", err)
		return
	}
	if d.onResult != nil {
		d.onResult(res)
	}
}

// watchConfig reloads the sync configuration when the config file
// changes, rebuilding the remote connection handle.
func (d *Daemon) watchConfig() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(d.configPath) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			d.logger.Printf("Config change detected: %s", event.Op)
			d.applyConfig()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Printf("Watcher error: %v", err)
		}
	}
}

// applyConfig reloads the config file and applies it to the running
// daemon: new credentials/endpoint produce a fresh remote handle, and
// interval or enabled changes take effect immediately.
func (d *Daemon) applyConfig() {
	cfg, err := config.Load(d.configPath)
	if err != nil {
		d.logger.Printf("Failed to reload config, keeping previous: %v", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		d.logger.Printf("Invalid config, keeping previous: %v", err)
		return
	}

	d.engine.SetRemote(remote.New(remote.Config{
		ServerURL: cfg.ServerURL,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Root:      cfg.Root,
	}))

	d.mu.Lock()
	d.enabled = cfg.Enabled
	if cfg.SyncInterval > 0 {
		d.interval = cfg.SyncInterval
	}
	d.mu.Unlock()

	// Kick the cycle loop so the new interval takes effect now.
	select {
	case d.reload <- struct{}{}:
	default:
	}

	d.logger.Printf("Config applied: enabled=%v interval=%v", cfg.Enabled, cfg.SyncInterval)
}
