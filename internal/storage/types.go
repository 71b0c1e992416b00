package storage

import "time"

// BackendType tags an adapter implementation. Sync targets are paired
// with adapters through this tag, never through concrete types.
type BackendType string

const (
	BackendLocalFS   BackendType = "localfs"
	BackendMemStore  BackendType = "memstore"
	BackendBlobStore BackendType = "blobstore"
)

type FileType string

const (
	FileTypeFile      FileType = "file"
	FileTypeDirectory FileType = "directory"
)

// FileMetadata describes one stored file. ContentHash (MD5 hex) is the
// authoritative equality check; LastModified is only a cheap pre-filter.
type FileMetadata struct {
	Path         string
	Type         FileType
	ContentHash  string
	Size         int64
	LastModified time.Time
	MimeType     string
}

// IsDelete reports whether this metadata encodes a deletion
// (zero size and an empty hash).
func (m *FileMetadata) IsDelete() bool {
	return m.Size == 0 && m.ContentHash == ""
}

// Item is a single directory listing entry.
type Item struct {
	Path         string
	Type         FileType
	Size         int64
	LastModified time.Time
}

func (i *Item) IsDir() bool {
	return i.Type == FileTypeDirectory
}

// AdapterState is a point-in-time snapshot of an adapter.
type AdapterState struct {
	Backend     BackendType
	Initialized bool
	Locked      bool
	LockOwner   string
	LockMode    LockMode
	LockReason  string
	LockedAt    time.Time
}

// WriteOptions qualifies a WriteFile call. IsSyncOperation marks writes
// issued by the sync engine itself, which a sync-mode lock permits.
type WriteOptions struct {
	IsSyncOperation bool
}
