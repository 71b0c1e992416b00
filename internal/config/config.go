// Package config holds the daemon configuration: which replicas to
// sync and how the engine is tuned.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/openmirror/treesync/internal/storage"
	"github.com/openmirror/treesync/internal/utils"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".treesync", "config.yaml")
	DefaultLogPath    = filepath.Join(home, ".treesync", "logs", "treesync.log")
)

// Config is the full daemon configuration.
type Config struct {
	Targets []TargetSpec `mapstructure:"targets"`
	Sync    SyncConfig   `mapstructure:"sync"`
	Log     LogConfig    `mapstructure:"log"`
}

// TargetSpec declares one replica.
type TargetSpec struct {
	ID      string   `mapstructure:"id"`
	Backend string   `mapstructure:"backend"`
	Role    string   `mapstructure:"role"`
	Path    string   `mapstructure:"path"`
	Ignore  []string `mapstructure:"ignore"`
}

// SyncConfig tunes the engine. Zero values mean engine defaults.
type SyncConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Debounce     time.Duration `mapstructure:"debounce"`
	MaxBatch     int           `mapstructure:"max_batch"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	LockTimeout  time.Duration `mapstructure:"lock_timeout"`
}

// LogConfig tunes daemon logging and rotation.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads a config file through viper and validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config read %q: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config parse %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validRoles = map[string]bool{"primary": true, "secondary": true}

var validBackends = map[string]bool{
	string(storage.BackendLocalFS):   true,
	string(storage.BackendMemStore):  true,
	string(storage.BackendBlobStore): true,
}

// Validate checks structural constraints: unique ids, known backends
// and roles, exactly one primary, and paths where the backend needs
// one. Paths are resolved in place (~ expansion).
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return fmt.Errorf("no targets configured")
	}

	seen := make(map[string]bool, len(c.Targets))
	primaries := 0
	for i := range c.Targets {
		t := &c.Targets[i]
		if t.ID == "" {
			return fmt.Errorf("target %d: id is required", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("target %q: duplicate id", t.ID)
		}
		seen[t.ID] = true

		if !validBackends[t.Backend] {
			return fmt.Errorf("target %q: unknown backend %q", t.ID, t.Backend)
		}
		if t.Role == "" {
			t.Role = "secondary"
		}
		if !validRoles[t.Role] {
			return fmt.Errorf("target %q: unknown role %q", t.ID, t.Role)
		}
		if t.Role == "primary" {
			primaries++
		}

		if t.Backend != string(storage.BackendMemStore) {
			if t.Path == "" {
				return fmt.Errorf("target %q: backend %q requires a path", t.ID, t.Backend)
			}
			resolved, err := utils.ResolvePath(t.Path)
			if err != nil {
				return fmt.Errorf("target %q: resolve path: %w", t.ID, err)
			}
			t.Path = resolved
		}
	}

	if primaries != 1 {
		return fmt.Errorf("exactly one primary target required, found %d", primaries)
	}

	if c.Log.File == "" {
		c.Log.File = DefaultLogPath
	}
	return nil
}
