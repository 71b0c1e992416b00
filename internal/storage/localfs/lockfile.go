package localfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"

	"github.com/openmirror/treesync/internal/storage"
	"github.com/openmirror/treesync/internal/utils"
)

const (
	lockFileName     = "treesync.lock"
	lockMetaFileName = "lock.json"
	lockRetryDelay   = 50 * time.Millisecond
)

// lockMeta is written next to the flock file so foreign processes can
// see who holds the advisory lock and why.
type lockMeta struct {
	Owner      string           `json:"owner"`
	Mode       storage.LockMode `json:"mode"`
	Reason     string           `json:"reason"`
	AcquiredAt time.Time        `json:"acquired_at"`
}

// lockFile mirrors the in-process guard onto disk.
type lockFile struct {
	mu       sync.Mutex
	dir      string
	flock    *flock.Flock
	metaPath string
}

func newLockFile(dir string) *lockFile {
	return &lockFile{
		dir:      dir,
		flock:    flock.New(filepath.Join(dir, lockFileName)),
		metaPath: filepath.Join(dir, lockMetaFileName),
	}
}

func (l *lockFile) acquire(ctx context.Context, req *storage.LockRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := utils.EnsureDir(l.dir); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}

	lockCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	locked, err := l.flock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("%w: lock file held by another process: %v", storage.ErrLockTimeout, err)
	}
	if !locked {
		return fmt.Errorf("%w: lock file held by another process", storage.ErrLockTimeout)
	}

	meta := lockMeta{
		Owner:      req.Owner,
		Mode:       req.Mode,
		Reason:     req.Reason,
		AcquiredAt: time.Now(),
	}
	data, err := json.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("encode lock metadata: %w", err)
	}
	if err := os.WriteFile(l.metaPath, data, 0o644); err != nil {
		return fmt.Errorf("write lock metadata: %w", err)
	}
	return nil
}

func (l *lockFile) release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.flock.Locked() {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("unlock lock file: %w", err)
	}
	os.Remove(l.metaPath)
	return nil
}

func (l *lockFile) forceRelease() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.flock.Locked() {
		if err := l.flock.Unlock(); err != nil {
			return fmt.Errorf("unlock lock file: %w", err)
		}
	}
	os.Remove(l.metaPath)
	return nil
}

// holder reads the metadata of the current on-disk lock, if any.
func (l *lockFile) holder() (*lockMeta, error) {
	data, err := os.ReadFile(l.metaPath)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("read lock metadata: %w", err)
	}

	var meta lockMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode lock metadata: %w", err)
	}
	return &meta, nil
}
