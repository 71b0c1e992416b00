package sync

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmirror/treesync/internal/storage"
)

func TestRegisteredBackends(t *testing.T) {
	backends := RegisteredBackends()
	assert.Contains(t, backends, storage.BackendLocalFS)
	assert.Contains(t, backends, storage.BackendMemStore)
	assert.Contains(t, backends, storage.BackendBlobStore)
}

func TestNewAdapterByTag(t *testing.T) {
	mem, err := NewAdapter(storage.BackendMemStore, nil)
	require.NoError(t, err)
	assert.Equal(t, storage.BackendMemStore, mem.Backend())

	local, err := NewAdapter(storage.BackendLocalFS, &AdapterParams{Path: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, storage.BackendLocalFS, local.Backend())

	blob, err := NewAdapter(storage.BackendBlobStore, &AdapterParams{
		Path: filepath.Join(t.TempDir(), "store.db"),
	})
	require.NoError(t, err)
	assert.Equal(t, storage.BackendBlobStore, blob.Backend())
}

func TestNewAdapterRequiresPath(t *testing.T) {
	_, err := NewAdapter(storage.BackendLocalFS, nil)
	assert.Error(t, err)
	_, err = NewAdapter(storage.BackendBlobStore, &AdapterParams{})
	assert.Error(t, err)
}

func TestNewAdapterUnknownBackend(t *testing.T) {
	_, err := NewAdapter("tape", nil)
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
