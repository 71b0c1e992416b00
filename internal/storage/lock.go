package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LockMode selects who an advisory lock blocks.
type LockMode string

const (
	// LockModeSync blocks foreign writers but permits the engine's own
	// sync writes.
	LockModeSync LockMode = "sync"

	// LockModeExternal blocks all writers, used while a caller inspects
	// a diff.
	LockModeExternal LockMode = "external"
)

// LockRequest carries the parameters of a Lock call.
type LockRequest struct {
	Timeout time.Duration
	Reason  string
	Mode    LockMode
	Owner   string
}

// Guard is the in-process advisory lock shared by all adapter
// implementations. It is cooperative: it arbitrates between the engine's
// sync writes and foreign writers by convention, not OS enforcement.
type Guard struct {
	sem    chan struct{}
	mu     sync.Mutex
	held   bool
	owner  string
	mode   LockMode
	reason string
	since  time.Time
}

func NewGuard() *Guard {
	return &Guard{sem: make(chan struct{}, 1)}
}

// Acquire takes the lock, waiting up to req.Timeout. Re-acquisition by
// the current owner succeeds and updates the mode and reason.
func (g *Guard) Acquire(ctx context.Context, req *LockRequest) error {
	g.mu.Lock()
	if g.held && g.owner == req.Owner {
		g.mode = req.Mode
		g.reason = req.Reason
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()

	select {
	case g.sem <- struct{}{}:
	case <-timer.C:
		return fmt.Errorf("%w: owner=%s mode=%s after %s", ErrLockTimeout, req.Owner, req.Mode, req.Timeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	g.mu.Lock()
	g.held = true
	g.owner = req.Owner
	g.mode = req.Mode
	g.reason = req.Reason
	g.since = time.Now()
	g.mu.Unlock()
	return nil
}

// Release frees the lock if owner holds it.
func (g *Guard) Release(owner string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.held {
		return nil
	}
	if g.owner != owner {
		return fmt.Errorf("%w: held by %s, release requested by %s", ErrNotLockOwner, g.owner, owner)
	}
	g.clearLocked()
	return nil
}

// ForceRelease frees the lock regardless of who holds it.
func (g *Guard) ForceRelease() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.held {
		return
	}
	g.clearLocked()
}

// clearLocked resets holder state. Callers hold g.mu.
func (g *Guard) clearLocked() {
	g.held = false
	g.owner = ""
	g.mode = ""
	g.reason = ""
	g.since = time.Time{}
	<-g.sem
}

// CheckWrite returns ErrLocked when the current lock forbids the write.
// Sync-mode locks permit the engine's own writes.
func (g *Guard) CheckWrite(isSyncOperation bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.held {
		return nil
	}
	if g.mode == LockModeSync && isSyncOperation {
		return nil
	}
	return fmt.Errorf("%w: mode=%s owner=%s reason=%q", ErrLocked, g.mode, g.owner, g.reason)
}

// Snapshot reports the holder state into an AdapterState.
func (g *Guard) Snapshot(state *AdapterState) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state.Locked = g.held
	state.LockOwner = g.owner
	state.LockMode = g.mode
	state.LockReason = g.reason
	state.LockedAt = g.since
}
