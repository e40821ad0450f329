// Package config loads and persists satchel's sync configuration.
//
// Configuration lives in a YAML file (default ~/.satchel/config.yaml)
// read through viper, with SATCHEL_-prefixed environment overrides.
// The device id is generated once per installation on first load and
// written back to the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Defaults applied when the config file omits a value.
const (
	DefaultSyncInterval = 5 * time.Minute
	DefaultRoot         = "satchel"
	DefaultWorkers      = 4
)

// SyncConfig controls whether sync runs at all, how often, and against
// which endpoint. Credentials are passed to the transport as-is; no
// further authentication scheme exists.
type SyncConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	ServerURL    string        `mapstructure:"server_url"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	Root         string        `mapstructure:"root"`
	SyncInterval time.Duration `mapstructure:"sync_interval"`
	Workers      int           `mapstructure:"workers"`
	MaxRetries   int           `mapstructure:"max_retries"`

	// DeviceID is generated once per installation and persisted.
	DeviceID string `mapstructure:"device_id"`
}

// Validate checks the config is usable for syncing.
func (c *SyncConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required when sync is enabled")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync_interval must be positive (got %v)", c.SyncInterval)
	}
	return nil
}

// Load reads the config file at path, applying defaults and SATCHEL_
// environment overrides. A missing file yields the defaults. If the
// loaded config has no device id, one is generated and persisted.
func Load(path string) (*SyncConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("enabled", false)
	v.SetDefault("root", DefaultRoot)
	v.SetDefault("sync_interval", DefaultSyncInterval)
	v.SetDefault("workers", DefaultWorkers)
	v.SetDefault("max_retries", 0) // 0 selects the queue's default cap

	v.SetEnvPrefix("SATCHEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	var cfg SyncConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
		if err := Save(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to persist device id: %w", err)
		}
	}

	return &cfg, nil
}

// Save writes the config back to path, creating parent directories as
// needed.
func Save(path string, cfg *SyncConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.Set("enabled", cfg.Enabled)
	v.Set("server_url", cfg.ServerURL)
	v.Set("username", cfg.Username)
	v.Set("password", cfg.Password)
	v.Set("root", cfg.Root)
	v.Set("sync_interval", cfg.SyncInterval.String())
	v.Set("workers", cfg.Workers)
	v.Set("max_retries", cfg.MaxRetries)
	v.Set("device_id", cfg.DeviceID)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}
