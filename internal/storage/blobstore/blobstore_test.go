package blobstore

import (
	"context"
	"io"
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
	s := New(":memory:")
	require.NoError(t, s.Initialize(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUninitialized(t *testing.T) {
	s := New(":memory:")
	_, err := s.ListDirectory(context.Background(), "/")
	assert.ErrorIs(t, err, storage.ErrNotInitialized)
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

	meta, err := s.GetMetadata(ctx, "/docs/readme.md")
	require.NoError(t, err)
	assert.Equal(t, int64(5), meta.Size)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", meta.ContentHash)
	assert.WithinDuration(t, time.Now(), meta.LastModified, time.Minute)
}

func TestWriteCreatesParentDirectories(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.WriteFile(ctx, "/a/b/c.txt", strings.NewReader("c"), nil))

	meta, err := s.GetMetadata(ctx, "/a/b")
	require.NoError(t, err)
	assert.Equal(t, storage.FileTypeDirectory, meta.Type)

	exists, err := s.Exists(ctx, "/a")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestListDirectory(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.WriteFile(ctx, "/a.txt", strings.NewReader("a"), nil))
	require.NoError(t, s.WriteFile(ctx, "/sub/b.txt", strings.NewReader("b"), nil))
	require.NoError(t, s.WriteFile(ctx, "/sub/deep/c.txt", strings.NewReader("c"), nil))

	items, err := s.ListDirectory(ctx, "/")
	require.NoError(t, err)
	require.Len(t, items, 2)

	items, err = s.ListDirectory(ctx, "/sub")
	require.NoError(t, err)
	require.Len(t, items, 2)

	_, err = s.ListDirectory(ctx, "/a.txt")
	assert.ErrorIs(t, err, storage.ErrNotDirectory)

	_, err = s.ListDirectory(ctx, "/missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteRecursive(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.WriteFile(ctx, "/sub/a.txt", strings.NewReader("a"), nil))
	require.NoError(t, s.WriteFile(ctx, "/sub/deep/b.txt", strings.NewReader("b"), nil))

	require.NoError(t, s.DeleteItem(ctx, "/sub"))

	exists, err := s.Exists(ctx, "/sub/deep/b.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, s.DeleteItem(ctx, "/sub"), storage.ErrNotFound)
}

func TestLockModes(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	err := s.Lock(ctx, &storage.LockRequest{
		Timeout: time.Second,
		Mode:    storage.LockModeSync,
		Owner:   "engine",
	})
	require.NoError(t, err)

	err = s.WriteFile(ctx, "/x.txt", strings.NewReader("x"), nil)
	assert.ErrorIs(t, err, storage.ErrLocked)

	err = s.WriteFile(ctx, "/x.txt", strings.NewReader("x"), &storage.WriteOptions{IsSyncOperation: true})
	assert.NoError(t, err)

	require.NoError(t, s.Unlock("engine"))
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")

	s := New(path)
	require.NoError(t, s.Initialize(ctx))
	require.NoError(t, s.WriteFile(ctx, "/a.txt", strings.NewReader("persisted"), nil))
	require.NoError(t, s.Close())

	s2 := New(path)
	require.NoError(t, s2.Initialize(ctx))
	defer s2.Close()

	r, err := s2.ReadFile(ctx, "/a.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(data))
}
