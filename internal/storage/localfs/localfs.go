// Package localfs implements the storage adapter over a native OS
// directory tree. The advisory lock is mirrored to a lock file guarded
// by flock so that foreign processes can respect it too.
package localfs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rjeczalik/notify"

	"github.com/openmirror/treesync/internal/storage"
	"github.com/openmirror/treesync/internal/utils"
)

const (
	metadataDirName  = ".treesync"
	hashCacheSize    = 4096
	nudgeBufferSize  = 1
	eventBufferSize  = 64
	defaultFileMode  = 0o644
	defaultWriteTemp = ".treesync-write-*"
)

type hashEntry struct {
	size  int64
	mtime int64
	hash  string
}

// Store is a storage adapter rooted at a native filesystem directory.
type Store struct {
	root      string
	guard     *storage.Guard
	lockFile  *lockFile
	hashCache *lru.Cache[string, hashEntry]

	mu     sync.Mutex
	ready  bool
	closed bool

	rawEvents chan notify.EventInfo
	nudges    chan struct{}
	watchDone chan struct{}
	wg        sync.WaitGroup
}

var _ storage.Adapter = (*Store)(nil)

func New(rootDir string) (*Store, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", rootDir, err)
	}

	cache, err := lru.New[string, hashEntry](hashCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create hash cache: %w", err)
	}

	return &Store{
		root:      root,
		guard:     storage.NewGuard(),
		lockFile:  newLockFile(filepath.Join(root, metadataDirName)),
		hashCache: cache,
		nudges:    make(chan struct{}, nudgeBufferSize),
		watchDone: make(chan struct{}),
	}, nil
}

func (s *Store) Initialize(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	if s.ready {
		return nil
	}

	if err := utils.EnsureDir(s.root); err != nil {
		return fmt.Errorf("create root %s: %w", s.root, err)
	}
	if err := utils.EnsureDir(filepath.Join(s.root, metadataDirName)); err != nil {
		return fmt.Errorf("create metadata dir: %w", err)
	}

	// filesystem events only nudge the poll loop into an earlier scan,
	// polling remains the source of truth for change detection
	s.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	if err := notify.Watch(filepath.Join(s.root, "..."), s.rawEvents, notify.All); err != nil {
		slog.Warn("localfs watch unavailable, falling back to plain polling", "root", s.root, "error", err)
		s.rawEvents = nil
	} else {
		s.wg.Add(1)
		go s.coalesceEvents()
	}

	s.ready = true
	return nil
}

// Nudges signals that something under the root changed and a scan is
// worth running ahead of the next poll interval. Signals are coalesced.
func (s *Store) Nudges() <-chan struct{} {
	return s.nudges
}

func (s *Store) coalesceEvents() {
	defer s.wg.Done()
	for {
		select {
		case <-s.watchDone:
			return
		case ev, ok := <-s.rawEvents:
			if !ok {
				return
			}
			if s.isOwnArtifact(ev.Path()) {
				continue
			}
			select {
			case s.nudges <- struct{}{}:
			default:
			}
		}
	}
}

func (s *Store) isOwnArtifact(absPath string) bool {
	rel, err := filepath.Rel(s.root, absPath)
	if err != nil {
		return false
	}
	return strings.HasPrefix(filepath.ToSlash(rel), metadataDirName)
}

func (s *Store) checkReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	if !s.ready {
		return storage.ErrNotInitialized
	}
	return nil
}

func (s *Store) absPath(p string) string {
	return filepath.Join(s.root, filepath.FromSlash(utils.NormPath(p)))
}

func (s *Store) relPath(abs string) (string, error) {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return "", err
	}
	return utils.NormPath(rel), nil
}

func (s *Store) ListDirectory(_ context.Context, dirPath string) ([]*storage.Item, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}

	abs := s.absPath(dirPath)
	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, dirPath)
	} else if err != nil {
		return nil, fmt.Errorf("stat %s: %w", dirPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotDirectory, dirPath)
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dirPath, err)
	}

	items := make([]*storage.Item, 0, len(entries))
	for _, e := range entries {
		if e.Name() == metadataDirName {
			continue
		}
		rel, err := s.relPath(filepath.Join(abs, e.Name()))
		if err != nil {
			continue
		}
		item := &storage.Item{Path: rel, Type: storage.FileTypeFile}
		if e.IsDir() {
			item.Type = storage.FileTypeDirectory
		} else if fi, err := e.Info(); err == nil {
			item.Size = fi.Size()
			item.LastModified = fi.ModTime()
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Store) ReadFile(_ context.Context, filePath string) (io.ReadCloser, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.absPath(filePath))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, filePath)
	} else if err != nil {
		return nil, fmt.Errorf("open %s: %w", filePath, err)
	}
	return f, nil
}

func (s *Store) WriteFile(_ context.Context, filePath string, r io.Reader, opts *storage.WriteOptions) error {
	if err := s.checkReady(); err != nil {
		return err
	}

	isSync := opts != nil && opts.IsSyncOperation
	if err := s.guard.CheckWrite(isSync); err != nil {
		return err
	}

	abs := s.absPath(filePath)
	if err := utils.EnsureParent(abs); err != nil {
		return fmt.Errorf("create parent of %s: %w", filePath, err)
	}

	// write to a temp file then rename so readers never see torn content
	tmp, err := os.CreateTemp(filepath.Dir(abs), defaultWriteTemp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", filePath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), defaultFileMode); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename into place %s: %w", filePath, err)
	}

	s.hashCache.Remove(utils.NormPath(filePath))
	return nil
}

func (s *Store) CreateDirectory(_ context.Context, dirPath string) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	return utils.EnsureDir(s.absPath(dirPath))
}

func (s *Store) DeleteItem(_ context.Context, itemPath string) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	if err := s.guard.CheckWrite(true); err != nil {
		return err
	}

	abs := s.absPath(itemPath)
	if _, err := os.Stat(abs); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, itemPath)
	}
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("delete %s: %w", itemPath, err)
	}
	s.hashCache.Remove(utils.NormPath(itemPath))
	return nil
}

func (s *Store) Exists(_ context.Context, itemPath string) (bool, error) {
	if err := s.checkReady(); err != nil {
		return false, err
	}
	_, err := os.Stat(s.absPath(itemPath))
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("stat %s: %w", itemPath, err)
	}
	return true, nil
}

func (s *Store) GetMetadata(_ context.Context, itemPath string) (*storage.FileMetadata, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}

	norm := utils.NormPath(itemPath)
	abs := s.absPath(norm)
	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, itemPath)
	} else if err != nil {
		return nil, fmt.Errorf("stat %s: %w", itemPath, err)
	}

	if info.IsDir() {
		return &storage.FileMetadata{
			Path:         norm,
			Type:         storage.FileTypeDirectory,
			LastModified: info.ModTime(),
		}, nil
	}

	hash, err := s.cachedHash(norm, abs, info.Size(), info.ModTime().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", itemPath, err)
	}

	return &storage.FileMetadata{
		Path:         norm,
		Type:         storage.FileTypeFile,
		ContentHash:  hash,
		Size:         info.Size(),
		LastModified: info.ModTime(),
		MimeType:     utils.DetectContentType(norm),
	}, nil
}

// cachedHash reuses a previously computed hash when size and mtime are
// unchanged, so repeated scans stay cheap.
func (s *Store) cachedHash(norm, abs string, size, mtime int64) (string, error) {
	if cached, ok := s.hashCache.Get(norm); ok && cached.size == size && cached.mtime == mtime {
		return cached.hash, nil
	}

	hash, err := utils.FileHash(abs)
	if err != nil {
		return "", err
	}
	s.hashCache.Add(norm, hashEntry{size: size, mtime: mtime, hash: hash})
	return hash, nil
}

func (s *Store) Lock(ctx context.Context, req *storage.LockRequest) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	if err := s.guard.Acquire(ctx, req); err != nil {
		return err
	}
	if err := s.lockFile.acquire(ctx, req); err != nil {
		// roll back the in-process lock so the adapter stays usable
		if relErr := s.guard.Release(req.Owner); relErr != nil {
			slog.Warn("localfs lock rollback failed", "owner", req.Owner, "error", relErr)
		}
		return err
	}
	return nil
}

func (s *Store) Unlock(owner string) error {
	if err := s.guard.Release(owner); err != nil {
		return err
	}
	return s.lockFile.release()
}

func (s *Store) ForceUnlock() error {
	s.guard.ForceRelease()
	return s.lockFile.forceRelease()
}

func (s *Store) State() storage.AdapterState {
	s.mu.Lock()
	ready := s.ready && !s.closed
	s.mu.Unlock()

	state := storage.AdapterState{
		Backend:     storage.BackendLocalFS,
		Initialized: ready,
	}
	s.guard.Snapshot(&state)
	return state
}

func (s *Store) Backend() storage.BackendType {
	return storage.BackendLocalFS
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	raw := s.rawEvents
	s.mu.Unlock()

	close(s.watchDone)
	if raw != nil {
		notify.Stop(raw)
	}
	s.wg.Wait()
	return s.lockFile.forceRelease()
}
