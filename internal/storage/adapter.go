// Package storage defines the adapter contract that every sync backend
// implements. The engine consumes this interface only; backends are
// interchangeable behind their BackendType tag.
package storage

import (
	"context"
	"io"
)

// Adapter exposes file CRUD, metadata, and advisory locking over one
// storage backend. Paths are slash-separated and rooted at "/" relative
// to the adapter's root. Adapters never provide multi-file atomicity;
// the engine sequences multi-file operations explicitly.
type Adapter interface {
	// Initialize prepares the backend for use
	Initialize(ctx context.Context) error

	// ListDirectory returns the immediate children of path
	ListDirectory(ctx context.Context, path string) ([]*Item, error)

	// ReadFile opens a file for reading. The caller closes the reader.
	ReadFile(ctx context.Context, path string) (io.ReadCloser, error)

	// WriteFile creates or overwrites a file. A sync-mode lock rejects
	// writes unless opts marks them as the engine's own.
	WriteFile(ctx context.Context, path string, r io.Reader, opts *WriteOptions) error

	// CreateDirectory creates a directory and any missing parents
	CreateDirectory(ctx context.Context, path string) error

	// DeleteItem removes a file or directory (recursively)
	DeleteItem(ctx context.Context, path string) error

	// Exists checks if a path exists
	Exists(ctx context.Context, path string) (bool, error)

	// GetMetadata returns metadata for a single path
	GetMetadata(ctx context.Context, path string) (*FileMetadata, error)

	// Lock acquires the advisory lock, waiting up to req.Timeout
	Lock(ctx context.Context, req *LockRequest) error

	// Unlock releases the advisory lock held by owner
	Unlock(owner string) error

	// ForceUnlock releases the advisory lock regardless of owner
	ForceUnlock() error

	// State returns a point-in-time snapshot of the adapter
	State() AdapterState

	// Backend returns the backend type tag
	Backend() BackendType

	// Close releases any resources held by the adapter
	Close() error
}
