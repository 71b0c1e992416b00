package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Targets: []TargetSpec{
			{ID: "local", Backend: "localfs", Role: "primary", Path: "/tmp/primary"},
			{ID: "mirror", Backend: "memstore"},
		},
	}
}

func TestValidateHappyPath(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "secondary", cfg.Targets[1].Role)
	assert.Equal(t, DefaultLogPath, cfg.Log.File)
}

func TestValidateRejectsEmpty(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsDuplicateIDs(t *testing.T) {
	cfg := validConfig()
	cfg.Targets[1].ID = "local"
	assert.ErrorContains(t, cfg.Validate(), "duplicate id")
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Targets[1].Backend = "tape"
	assert.ErrorContains(t, cfg.Validate(), "unknown backend")
}

func TestValidateRequiresExactlyOnePrimary(t *testing.T) {
	cfg := validConfig()
	cfg.Targets[0].Role = "secondary"
	assert.ErrorContains(t, cfg.Validate(), "exactly one primary")

	cfg = validConfig()
	cfg.Targets[1].Role = "primary"
	assert.ErrorContains(t, cfg.Validate(), "exactly one primary")
}

func TestValidateRequiresPathForDiskBackends(t *testing.T) {
	cfg := validConfig()
	cfg.Targets[0].Path = ""
	assert.ErrorContains(t, cfg.Validate(), "requires a path")
}

func TestValidateExpandsHome(t *testing.T) {
	cfg := validConfig()
	cfg.Targets[0].Path = "~/data"
	require.NoError(t, cfg.Validate())
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data"), cfg.Targets[0].Path)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
targets:
  - id: local
    backend: localfs
    role: primary
    path: ` + dir + `
  - id: cache
    backend: blobstore
    path: ` + filepath.Join(dir, "cache.db") + `
sync:
  poll_interval: 1s
  debounce: 100ms
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Targets, 2)
	assert.Equal(t, "localfs", cfg.Targets[0].Backend)
	assert.Equal(t, "100ms", cfg.Sync.Debounce.String())
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
