package localfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openmirror/treesync/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Initialize(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	err := s.WriteFile(ctx, "/docs/readme.md", strings.NewReader("hello"), nil)
	require.NoError(t, err)

	r, err := s.ReadFile(ctx, "/docs/readme.md")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "hello", string(data))
}

func TestGetMetadata(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.WriteFile(ctx, "/a.txt", strings.NewReader("hello"), nil))

	meta, err := s.GetMetadata(ctx, "/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "/a.txt", meta.Path)
	assert.Equal(t, int64(5), meta.Size)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", meta.ContentHash)
	assert.WithinDuration(t, time.Now(), meta.LastModified, time.Minute)

	// second call is served from the hash cache
	meta2, err := s.GetMetadata(ctx, "/a.txt")
	require.NoError(t, err)
	assert.Equal(t, meta.ContentHash, meta2.ContentHash)

	_, err = s.GetMetadata(ctx, "/missing.txt")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListDirectorySkipsMetadataDir(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.WriteFile(ctx, "/a.txt", strings.NewReader("a"), nil))
	require.NoError(t, s.CreateDirectory(ctx, "/sub"))

	items, err := s.ListDirectory(ctx, "/")
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, it := range items {
		assert.NotContains(t, it.Path, metadataDirName)
	}
}

func TestDeleteItem(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.WriteFile(ctx, "/sub/a.txt", strings.NewReader("a"), nil))
	require.NoError(t, s.DeleteItem(ctx, "/sub"))

	exists, err := s.Exists(ctx, "/sub/a.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, s.DeleteItem(ctx, "/sub"), storage.ErrNotFound)
}

func TestLockWritesMetadataFile(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	err := s.Lock(ctx, &storage.LockRequest{
		Timeout: time.Second,
		Mode:    storage.LockModeSync,
		Owner:   "engine",
		Reason:  "propagating changes",
	})
	require.NoError(t, err)

	metaPath := filepath.Join(s.Root(), metadataDirName, lockMetaFileName)
	_, err = os.Stat(metaPath)
	require.NoError(t, err)

	holder, err := s.lockFile.holder()
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, "engine", holder.Owner)
	assert.Equal(t, storage.LockModeSync, holder.Mode)

	// sync-locked store rejects foreign writes but accepts engine writes
	err = s.WriteFile(ctx, "/x.txt", strings.NewReader("x"), nil)
	assert.ErrorIs(t, err, storage.ErrLocked)
	err = s.WriteFile(ctx, "/x.txt", strings.NewReader("x"), &storage.WriteOptions{IsSyncOperation: true})
	assert.NoError(t, err)

	require.NoError(t, s.Unlock("engine"))
	_, err = os.Stat(metaPath)
	assert.True(t, os.IsNotExist(err))
}

func TestNudgeOnWrite(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	// drain any startup noise
	time.Sleep(100 * time.Millisecond)
	select {
	case <-s.Nudges():
	default:
	}

	require.NoError(t, s.WriteFile(ctx, "/a.txt", strings.NewReader("a"), nil))

	select {
	case <-s.Nudges():
	case <-time.After(2 * time.Second):
		t.Skip("filesystem events not delivered in this environment")
	}
}

func TestBackendTag(t *testing.T) {
	s := newStore(t)
	assert.Equal(t, storage.BackendLocalFS, s.Backend())
	state := s.State()
	assert.Equal(t, storage.BackendLocalFS, state.Backend)
	assert.True(t, state.Initialized)
}
