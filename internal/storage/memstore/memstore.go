// Package memstore implements the storage adapter over an in-memory
// tree. It models the sandboxed runtime filesystem: nothing persists
// beyond the process, but the adapter contract is identical to the
// durable backends.
package memstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmirror/treesync/internal/storage"
	"github.com/openmirror/treesync/internal/utils"
)

type entry struct {
	data []byte
	meta storage.FileMetadata
}

// Store is an in-memory storage adapter.
type Store struct {
	mu     sync.RWMutex
	files  map[string]*entry
	dirs   mapset.Set[string]
	guard  *storage.Guard
	ready  bool
	closed bool
}

var _ storage.Adapter = (*Store)(nil)

func New() *Store {
	return &Store{
		files: make(map[string]*entry),
		dirs:  mapset.NewSet[string](),
		guard: storage.NewGuard(),
	}
}

func (s *Store) Initialize(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	s.dirs.Add("/")
	s.ready = true
	return nil
}

func (s *Store) checkReady() error {
	if s.closed {
		return storage.ErrClosed
	}
	if !s.ready {
		return storage.ErrNotInitialized
	}
	return nil
}

func (s *Store) ListDirectory(_ context.Context, dirPath string) ([]*storage.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkReady(); err != nil {
		return nil, err
	}

	dirPath = utils.NormPath(dirPath)
	if _, isFile := s.files[dirPath]; isFile {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotDirectory, dirPath)
	}
	if dirPath != "/" && !s.dirs.Contains(dirPath) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, dirPath)
	}

	seen := mapset.NewSet[string]()
	items := make([]*storage.Item, 0)

	for p, e := range s.files {
		child, ok := directChild(dirPath, p)
		if !ok || !seen.Add(child) {
			continue
		}
		if child == p {
			items = append(items, &storage.Item{
				Path:         p,
				Type:         storage.FileTypeFile,
				Size:         e.meta.Size,
				LastModified: e.meta.LastModified,
			})
		} else {
			items = append(items, &storage.Item{Path: child, Type: storage.FileTypeDirectory})
		}
	}
	for d := range s.dirs.Iter() {
		child, ok := directChild(dirPath, d)
		if !ok || !seen.Add(child) {
			continue
		}
		items = append(items, &storage.Item{Path: child, Type: storage.FileTypeDirectory})
	}

	return items, nil
}

// directChild returns the immediate child of dir on the way to p.
func directChild(dir, p string) (string, bool) {
	if p == dir {
		return "", false
	}
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}
	if !strings.HasPrefix(p, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(p, prefix)
	if i := strings.Index(rest, "/"); i >= 0 {
		return prefix + rest[:i], true
	}
	return p, true
}

func (s *Store) ReadFile(_ context.Context, filePath string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkReady(); err != nil {
		return nil, err
	}

	e, ok := s.files[utils.NormPath(filePath)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, filePath)
	}
	return io.NopCloser(bytes.NewReader(e.data)), nil
}

func (s *Store) WriteFile(_ context.Context, filePath string, r io.Reader, opts *storage.WriteOptions) error {
	isSync := opts != nil && opts.IsSyncOperation
	if err := s.guard.CheckWrite(isSync); err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read content: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkReady(); err != nil {
		return err
	}

	filePath = utils.NormPath(filePath)
	s.addParents(filePath)
	s.files[filePath] = &entry{
		data: data,
		meta: storage.FileMetadata{
			Path:         filePath,
			Type:         storage.FileTypeFile,
			ContentHash:  utils.ContentHash(data),
			Size:         int64(len(data)),
			LastModified: time.Now(),
			MimeType:     utils.DetectContentType(filePath),
		},
	}
	return nil
}

// addParents records every ancestor directory of p. Callers hold s.mu.
func (s *Store) addParents(p string) {
	for d := path.Dir(p); ; d = path.Dir(d) {
		s.dirs.Add(d)
		if d == "/" {
			break
		}
	}
}

func (s *Store) CreateDirectory(_ context.Context, dirPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkReady(); err != nil {
		return err
	}

	dirPath = utils.NormPath(dirPath)
	s.addParents(dirPath)
	s.dirs.Add(dirPath)
	return nil
}

func (s *Store) DeleteItem(_ context.Context, itemPath string) error {
	if err := s.guard.CheckWrite(true); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkReady(); err != nil {
		return err
	}

	itemPath = utils.NormPath(itemPath)
	if _, ok := s.files[itemPath]; ok {
		delete(s.files, itemPath)
		return nil
	}
	if !s.dirs.Contains(itemPath) {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, itemPath)
	}

	// recursive directory delete
	prefix := itemPath + "/"
	for p := range s.files {
		if strings.HasPrefix(p, prefix) {
			delete(s.files, p)
		}
	}
	// removing while Iter holds the set's read lock wedges the
	// iterator goroutine; collect first, then remove
	for _, d := range s.dirs.ToSlice() {
		if d == itemPath || strings.HasPrefix(d, prefix) {
			s.dirs.Remove(d)
		}
	}
	return nil
}

func (s *Store) Exists(_ context.Context, itemPath string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkReady(); err != nil {
		return false, err
	}

	itemPath = utils.NormPath(itemPath)
	if _, ok := s.files[itemPath]; ok {
		return true, nil
	}
	return s.dirs.Contains(itemPath), nil
}

func (s *Store) GetMetadata(_ context.Context, itemPath string) (*storage.FileMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkReady(); err != nil {
		return nil, err
	}

	itemPath = utils.NormPath(itemPath)
	if e, ok := s.files[itemPath]; ok {
		meta := e.meta
		return &meta, nil
	}
	if s.dirs.Contains(itemPath) {
		return &storage.FileMetadata{Path: itemPath, Type: storage.FileTypeDirectory}, nil
	}
	return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, itemPath)
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
	s.mu.RLock()
	ready := s.ready && !s.closed
	s.mu.RUnlock()

	state := storage.AdapterState{
		Backend:     storage.BackendMemStore,
		Initialized: ready,
	}
	s.guard.Snapshot(&state)
	return state
}

func (s *Store) Backend() storage.BackendType {
	return storage.BackendMemStore
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.files = make(map[string]*entry)
	s.dirs = mapset.NewSet[string]()
	return nil
}
