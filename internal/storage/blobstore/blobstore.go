// Package blobstore implements the storage adapter over a SQLite
// database. It is the durable local store: content survives restarts
// without requiring a native directory tree.
package blobstore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openmirror/treesync/internal/db"
	"github.com/openmirror/treesync/internal/storage"
	"github.com/openmirror/treesync/internal/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS files (
	path     TEXT PRIMARY KEY,
	type     TEXT NOT NULL,
	content  BLOB,
	hash     TEXT NOT NULL DEFAULT '',
	size     INTEGER NOT NULL DEFAULT 0,
	mtime_ns INTEGER NOT NULL DEFAULT 0,
	mime     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_files_type ON files(type);
`

type fileRow struct {
	Path    string `db:"path"`
	Type    string `db:"type"`
	Content []byte `db:"content"`
	Hash    string `db:"hash"`
	Size    int64  `db:"size"`
	MtimeNs int64  `db:"mtime_ns"`
	Mime    string `db:"mime"`
}

// Store is a SQLite-backed storage adapter.
type Store struct {
	dbPath string
	guard  *storage.Guard

	mu     sync.Mutex
	sqldb  *sqlx.DB
	closed bool
}

var _ storage.Adapter = (*Store)(nil)

// New creates a store persisting to dbPath. Use ":memory:" for an
// ephemeral store.
func New(dbPath string) *Store {
	return &Store{
		dbPath: dbPath,
		guard:  storage.NewGuard(),
	}
}

func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	if s.sqldb != nil {
		return nil
	}

	sqldb, err := db.NewSqliteDB(db.WithPath(s.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	if _, err := sqldb.ExecContext(ctx, schema); err != nil {
		sqldb.Close()
		return fmt.Errorf("create schema: %w", err)
	}

	s.sqldb = sqldb
	return nil
}

func (s *Store) conn() (*sqlx.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, storage.ErrClosed
	}
	if s.sqldb == nil {
		return nil, storage.ErrNotInitialized
	}
	return s.sqldb, nil
}

func (s *Store) ListDirectory(ctx context.Context, dirPath string) ([]*storage.Item, error) {
	sqldb, err := s.conn()
	if err != nil {
		return nil, err
	}

	dirPath = utils.NormPath(dirPath)
	if dirPath != "/" {
		var rowType string
		err := sqldb.GetContext(ctx, &rowType, "SELECT type FROM files WHERE path = ?", dirPath)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, dirPath)
		} else if err != nil {
			return nil, fmt.Errorf("query %s: %w", dirPath, err)
		}
		if rowType != string(storage.FileTypeDirectory) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotDirectory, dirPath)
		}
	}

	prefix := dirPath
	if prefix != "/" {
		prefix += "/"
	}

	var rows []fileRow
	query := "SELECT path, type, size, mtime_ns FROM files WHERE path LIKE ? ESCAPE '\\'"
	if err := sqldb.SelectContext(ctx, &rows, query, likePrefix(prefix)+"%"); err != nil {
		return nil, fmt.Errorf("list %s: %w", dirPath, err)
	}

	seen := make(map[string]struct{})
	items := make([]*storage.Item, 0, len(rows))
	for _, row := range rows {
		rest := strings.TrimPrefix(row.Path, prefix)
		if rest == "" {
			continue
		}
		if i := strings.Index(rest, "/"); i >= 0 {
			// indirect descendant, surfaces as its top directory
			child := prefix + rest[:i]
			if _, ok := seen[child]; !ok {
				seen[child] = struct{}{}
				items = append(items, &storage.Item{Path: child, Type: storage.FileTypeDirectory})
			}
			continue
		}
		if _, ok := seen[row.Path]; ok {
			continue
		}
		seen[row.Path] = struct{}{}
		items = append(items, &storage.Item{
			Path:         row.Path,
			Type:         storage.FileType(row.Type),
			Size:         row.Size,
			LastModified: time.Unix(0, row.MtimeNs),
		})
	}
	return items, nil
}

// likePrefix escapes LIKE metacharacters in a path prefix.
func likePrefix(p string) string {
	p = strings.ReplaceAll(p, `\`, `\\`)
	p = strings.ReplaceAll(p, "%", `\%`)
	return strings.ReplaceAll(p, "_", `\_`)
}

func (s *Store) ReadFile(ctx context.Context, filePath string) (io.ReadCloser, error) {
	sqldb, err := s.conn()
	if err != nil {
		return nil, err
	}

	var row fileRow
	err = sqldb.GetContext(ctx, &row, "SELECT content FROM files WHERE path = ? AND type = ?", utils.NormPath(filePath), storage.FileTypeFile)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, filePath)
	} else if err != nil {
		return nil, fmt.Errorf("read %s: %w", filePath, err)
	}
	return io.NopCloser(bytes.NewReader(row.Content)), nil
}

func (s *Store) WriteFile(ctx context.Context, filePath string, r io.Reader, opts *storage.WriteOptions) error {
	sqldb, err := s.conn()
	if err != nil {
		return err
	}

	isSync := opts != nil && opts.IsSyncOperation
	if err := s.guard.CheckWrite(isSync); err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read content: %w", err)
	}

	filePath = utils.NormPath(filePath)
	tx, err := sqldb.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write: %w", err)
	}
	defer tx.Rollback()

	if err := upsertParents(ctx, tx, filePath); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO files (path, type, content, hash, size, mtime_ns, mime)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			type = excluded.type, content = excluded.content, hash = excluded.hash,
			size = excluded.size, mtime_ns = excluded.mtime_ns, mime = excluded.mime`,
		filePath, storage.FileTypeFile, data, utils.ContentHash(data),
		int64(len(data)), time.Now().UnixNano(), utils.DetectContentType(filePath))
	if err != nil {
		return fmt.Errorf("write %s: %w", filePath, err)
	}
	return tx.Commit()
}

func upsertParents(ctx context.Context, tx *sqlx.Tx, p string) error {
	for d := path.Dir(p); d != "/"; d = path.Dir(d) {
		_, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO files (path, type, mtime_ns) VALUES (?, ?, ?)",
			d, storage.FileTypeDirectory, time.Now().UnixNano())
		if err != nil {
			return fmt.Errorf("create parent %s: %w", d, err)
		}
	}
	return nil
}

func (s *Store) CreateDirectory(ctx context.Context, dirPath string) error {
	sqldb, err := s.conn()
	if err != nil {
		return err
	}

	dirPath = utils.NormPath(dirPath)
	if dirPath == "/" {
		return nil
	}

	tx, err := sqldb.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mkdir: %w", err)
	}
	defer tx.Rollback()

	if err := upsertParents(ctx, tx, dirPath); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO files (path, type, mtime_ns) VALUES (?, ?, ?)",
		dirPath, storage.FileTypeDirectory, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("mkdir %s: %w", dirPath, err)
	}
	return tx.Commit()
}

func (s *Store) DeleteItem(ctx context.Context, itemPath string) error {
	sqldb, err := s.conn()
	if err != nil {
		return err
	}
	if err := s.guard.CheckWrite(true); err != nil {
		return err
	}

	itemPath = utils.NormPath(itemPath)
	res, err := sqldb.ExecContext(ctx,
		"DELETE FROM files WHERE path = ? OR path LIKE ? ESCAPE '\\'",
		itemPath, likePrefix(itemPath+"/")+"%")
	if err != nil {
		return fmt.Errorf("delete %s: %w", itemPath, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, itemPath)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, itemPath string) (bool, error) {
	sqldb, err := s.conn()
	if err != nil {
		return false, err
	}

	itemPath = utils.NormPath(itemPath)
	if itemPath == "/" {
		return true, nil
	}

	var count int
	if err := sqldb.GetContext(ctx, &count, "SELECT COUNT(1) FROM files WHERE path = ?", itemPath); err != nil {
		return false, fmt.Errorf("query %s: %w", itemPath, err)
	}
	return count > 0, nil
}

func (s *Store) GetMetadata(ctx context.Context, itemPath string) (*storage.FileMetadata, error) {
	sqldb, err := s.conn()
	if err != nil {
		return nil, err
	}

	itemPath = utils.NormPath(itemPath)
	var row fileRow
	err = sqldb.GetContext(ctx, &row, "SELECT path, type, hash, size, mtime_ns, mime FROM files WHERE path = ?", itemPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, itemPath)
	} else if err != nil {
		return nil, fmt.Errorf("query %s: %w", itemPath, err)
	}

	return &storage.FileMetadata{
		Path:         row.Path,
		Type:         storage.FileType(row.Type),
		ContentHash:  row.Hash,
		Size:         row.Size,
		LastModified: time.Unix(0, row.MtimeNs),
		MimeType:     row.Mime,
	}, nil
}

func (s *Store) Lock(ctx context.Context, req *storage.LockRequest) error {
	return s.guard.Acquire(ctx, req)
}

func (s *Store) Unlock(owner string) error {
	return s.guard.Release(owner)
}

func (s *Store) ForceUnlock() error {
	s.guard.ForceRelease()
	return nil
}

func (s *Store) State() storage.AdapterState {
	s.mu.Lock()
	ready := s.sqldb != nil && !s.closed
	s.mu.Unlock()

	state := storage.AdapterState{
		Backend:     storage.BackendBlobStore,
		Initialized: ready,
	}
	s.guard.Snapshot(&state)
	return state
}

func (s *Store) Backend() storage.BackendType {
	return storage.BackendBlobStore
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.sqldb != nil {
		return s.sqldb.Close()
	}
	return nil
}
