package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openmirror/treesync/internal/clock"
	"github.com/openmirror/treesync/internal/ignore"
	"github.com/openmirror/treesync/internal/storage"
	"github.com/openmirror/treesync/internal/utils"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultDebounce     = 500 * time.Millisecond
	DefaultMaxBatch     = 512
	DefaultLockTimeout  = 5 * time.Second

	// consecutive scan failures before the target gives up and enters
	// the error state
	maxScanFailures = 5
)

// TargetConfig carries the tunables of one sync target. Zero values
// fall back to the defaults above.
type TargetConfig struct {
	ID             string
	Role           Role
	PollInterval   time.Duration
	Debounce       time.Duration
	MaxBatch       int
	LockTimeout    time.Duration
	IgnorePatterns []string
	Clock          clock.Clock
	Logger         *slog.Logger

	// SkipInitialScan leaves the baseline empty, so the first poll
	// reports every existing file as a create.
	SkipInitialScan bool
}

func (c *TargetConfig) withDefaults() {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Role == "" {
		c.Role = RoleSecondary
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = DefaultMaxBatch
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// nudger is implemented by adapters that can hint at filesystem
// activity between polls. The poll cycle stays the source of truth.
type nudger interface {
	Nudges() <-chan struct{}
}

// Target binds one storage adapter into the sync engine. It polls the
// adapter for changes, buffers them through a debounce window, and
// accepts incoming changes from other targets via the apply protocol.
type Target struct {
	id           string
	role         Role
	pollInterval time.Duration
	debounce     time.Duration
	maxBatch     int
	lockTimeout  time.Duration
	lockOwner    string
	skipScan     bool
	clk          clock.Clock
	ignore       *ignore.Matcher
	watchers     *watchRegistry
	log          *slog.Logger

	// scanMu serializes tree scans against incoming sync cycles.
	// Polls use TryLock and skip the tick when it is contended.
	scanMu sync.Mutex

	mu           sync.Mutex
	adapter      storage.Adapter
	status       TargetStatus
	lastErr      error
	lastKnown    map[string]*storage.FileMetadata
	buffer       []*FileChangeInfo
	bufferIdx    map[string]int
	scanFailures int
	mirrorArmed  bool
	lastSync     time.Time
	locked       bool

	done    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewTarget creates a target over adapter. The target is not usable
// until Initialize.
func NewTarget(adapter storage.Adapter, cfg *TargetConfig) *Target {
	if cfg == nil {
		cfg = &TargetConfig{}
	}
	cfg.withDefaults()

	matcher := ignore.NewMatcher()
	if len(cfg.IgnorePatterns) > 0 {
		matcher.SetPatterns(cfg.IgnorePatterns)
	}

	return &Target{
		id:           cfg.ID,
		role:         cfg.Role,
		pollInterval: cfg.PollInterval,
		debounce:     cfg.Debounce,
		maxBatch:     cfg.MaxBatch,
		lockTimeout:  cfg.LockTimeout,
		lockOwner:    "target:" + cfg.ID + ":" + uuid.NewString(),
		skipScan:     cfg.SkipInitialScan,
		clk:          cfg.Clock,
		ignore:       matcher,
		watchers:     newWatchRegistry(),
		log:          cfg.Logger.With("target", cfg.ID, "backend", adapter.Backend()),
		adapter:      adapter,
		status:       TargetUninitialized,
		lastKnown:    make(map[string]*storage.FileMetadata),
		bufferIdx:    make(map[string]int),
		done:         make(chan struct{}),
	}
}

func (t *Target) ID() string                   { return t.id }
func (t *Target) Role() Role                   { return t.role }
func (t *Target) Backend() storage.BackendType { return t.adapter.Backend() }

// Initialize prepares the adapter, takes a baseline scan, and starts
// the watch loop.
func (t *Target) Initialize(ctx context.Context) error {
	if err := t.transition(TargetInitializing); err != nil {
		return err
	}

	if err := t.adapter.Initialize(ctx); err != nil {
		t.fail(fmt.Errorf("%w: %v", ErrInitializationFailed, err))
		return fmt.Errorf("%w: %v", ErrInitializationFailed, err)
	}

	baseline := make(map[string]*storage.FileMetadata)
	if !t.skipScan {
		scanned, err := t.scanTree(ctx)
		if err != nil {
			t.fail(fmt.Errorf("%w: baseline scan: %v", ErrInitializationFailed, err))
			return fmt.Errorf("%w: baseline scan: %v", ErrInitializationFailed, err)
		}
		baseline = scanned
	}

	t.mu.Lock()
	t.lastKnown = baseline
	t.mu.Unlock()

	if err := t.transition(TargetIdle); err != nil {
		return err
	}

	t.wg.Add(1)
	go t.watchLoop()

	t.log.Info("target initialized", "role", t.role, "files", len(baseline))
	return nil
}

// Stop ends the watch loop and releases the advisory lock if held.
// Safe to call more than once.
func (t *Target) Stop() {
	t.stopped.Do(func() { close(t.done) })
	t.wg.Wait()

	t.mu.Lock()
	locked := t.locked
	t.locked = false
	t.mu.Unlock()
	if locked {
		if err := t.adapter.Unlock(t.lockOwner); err != nil {
			t.log.Warn("unlock on stop failed", "error", err)
		}
	}
}

// Watch registers a listener for flushed change batches. filters are
// doublestar globs relative to the target root; nil means all paths.
func (t *Target) Watch(priority int, filters []string, handler WatchHandler) string {
	return t.watchers.subscribe(priority, filters, handler)
}

// Unwatch removes a listener by id.
func (t *Target) Unwatch(id string) bool {
	return t.watchers.unsubscribe(id)
}

// SetIgnorePatterns replaces the target's ignore patterns.
func (t *Target) SetIgnorePatterns(patterns []string) {
	t.ignore.SetPatterns(patterns)
}

// State returns a point-in-time snapshot.
func (t *Target) State() *TargetState {
	adapterState := t.adapter.State()

	t.mu.Lock()
	defer t.mu.Unlock()

	st := &TargetState{
		ID:             t.id,
		Backend:        adapterState.Backend,
		Role:           t.role,
		Locked:         adapterState.Locked,
		LockMode:       adapterState.LockMode,
		PendingChanges: len(t.buffer),
		LastSyncTime:   t.lastSync,
		Status:         t.status,
	}
	if t.lastErr != nil {
		st.Error = t.lastErr.Error()
	}
	return st
}

// Status returns the current lifecycle status.
func (t *Target) Status() TargetStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Recover force-unlocks the adapter and returns the target to idle.
// The last-known snapshot is kept untouched so changes made while
// errored are still detected by the next poll.
func (t *Target) Recover(_ context.Context) error {
	t.mu.Lock()
	if t.status != TargetError {
		status := t.status
		t.mu.Unlock()
		return fmt.Errorf("%w: recover from %s", ErrInvalidTargetState, status)
	}
	t.lastErr = nil
	t.scanFailures = 0
	t.locked = false
	t.status = TargetIdle
	t.mu.Unlock()

	if err := t.adapter.ForceUnlock(); err != nil {
		t.log.Warn("force unlock during recovery failed", "error", err)
	}
	t.log.Info("target recovered")
	return nil
}

// NotifyIncomingChanges opens an incoming sync cycle: it waits for any
// in-flight scan, moves the target to the collecting state, and takes
// the sync-mode advisory lock. When a full mirror has been armed the
// local tree is cleared first so the incoming state replaces it
// wholesale.
func (t *Target) NotifyIncomingChanges(ctx context.Context) error {
	t.scanMu.Lock()
	defer t.scanMu.Unlock()

	// a target with buffered outgoing changes is already collecting;
	// the incoming cycle piggybacks on that state
	t.mu.Lock()
	alreadyCollecting := t.status == TargetCollecting
	t.mu.Unlock()
	if !alreadyCollecting {
		if err := t.transition(TargetCollecting); err != nil {
			return err
		}
	}

	err := t.adapter.Lock(ctx, &storage.LockRequest{
		Timeout: t.lockTimeout,
		Reason:  "incoming sync",
		Mode:    storage.LockModeSync,
		Owner:   t.lockOwner,
	})
	if err != nil {
		t.mu.Lock()
		t.status = TargetIdle
		t.mu.Unlock()
		return fmt.Errorf("lock for sync: %w", err)
	}

	t.mu.Lock()
	t.locked = true
	mirror := t.mirrorArmed
	t.mu.Unlock()

	if mirror {
		if err := t.clearLocal(ctx); err != nil {
			t.releaseSyncLock()
			t.mu.Lock()
			t.status = TargetIdle
			t.mu.Unlock()
			return fmt.Errorf("clear before mirror: %w", err)
		}
		t.mu.Lock()
		t.mirrorArmed = false
		t.mu.Unlock()
	}
	return nil
}

// ApplyFileChange applies one incoming change. A nil conflict and nil
// error means the change landed (or was an identical-content no-op).
// A non-nil conflict means the local copy is strictly newer with
// different content; nothing is written unless force is set.
func (t *Target) ApplyFileChange(ctx context.Context, info *FileChangeInfo, content *ChunkStream, force bool) (*FileConflict, error) {
	t.mu.Lock()
	if t.status == TargetCollecting {
		t.status = TargetSyncing
	}
	if t.status != TargetSyncing {
		status := t.status
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: apply in %s", ErrInvalidTargetState, status)
	}
	t.mu.Unlock()

	norm := utils.NormPath(info.Path)
	local, err := t.adapter.GetMetadata(ctx, norm)
	if err != nil && !storage.IsNotFound(err) {
		return nil, fmt.Errorf("%w: stat %s: %v", ErrApplyFailed, norm, err)
	}

	if info.Type == ChangeDelete {
		return t.applyDelete(ctx, info, local, force)
	}
	return t.applyWrite(ctx, info, content, local, force)
}

func (t *Target) applyDelete(ctx context.Context, info *FileChangeInfo, local *storage.FileMetadata, force bool) (*FileConflict, error) {
	norm := utils.NormPath(info.Path)
	if local == nil {
		// already gone
		t.forget(norm)
		return nil, nil
	}

	if !force && t.localNewer(local, info) {
		return t.conflict(info), nil
	}

	if err := t.adapter.DeleteItem(ctx, norm); err != nil {
		return nil, fmt.Errorf("%w: delete %s: %v", ErrApplyFailed, norm, err)
	}
	t.forget(norm)
	t.log.Debug("applied delete", "path", norm, "source", info.SourceTargetID)
	return nil, nil
}

func (t *Target) applyWrite(ctx context.Context, info *FileChangeInfo, content *ChunkStream, local *storage.FileMetadata, force bool) (*FileConflict, error) {
	norm := utils.NormPath(info.Path)

	if local != nil && info.Metadata != nil && local.ContentHash == info.Metadata.ContentHash {
		// content already identical, not a conflict
		t.remember(local)
		return nil, nil
	}

	if local != nil && !force && t.localNewer(local, info) {
		return t.conflict(info), nil
	}

	if content == nil {
		return nil, fmt.Errorf("%w: no content for %s", ErrApplyFailed, norm)
	}

	r := NewChunkReader(content)
	err := t.adapter.WriteFile(ctx, norm, r, &storage.WriteOptions{IsSyncOperation: true})
	if err != nil {
		return nil, fmt.Errorf("%w: write %s: %v", ErrApplyFailed, norm, err)
	}

	meta, err := t.adapter.GetMetadata(ctx, norm)
	if err != nil {
		return nil, fmt.Errorf("%w: stat after write %s: %v", ErrApplyFailed, norm, err)
	}
	t.remember(meta)
	t.log.Debug("applied write", "path", norm, "size", meta.Size, "source", info.SourceTargetID)
	return nil, nil
}

// localNewer reports whether the local copy should win: strictly newer
// modification time and different content.
func (t *Target) localNewer(local *storage.FileMetadata, info *FileChangeInfo) bool {
	if info.Metadata == nil {
		return false
	}
	if local.ContentHash == info.Metadata.ContentHash {
		return false
	}
	return local.LastModified.After(info.Metadata.LastModified)
}

func (t *Target) conflict(info *FileChangeInfo) *FileConflict {
	t.log.Warn("conflict detected", "path", info.Path, "source", info.SourceTargetID)
	return &FileConflict{
		Path:           utils.NormPath(info.Path),
		SourceTargetID: info.SourceTargetID,
		TargetID:       t.id,
		Timestamp:      t.clk.Now(),
	}
}

// remember folds an applied write into the baseline so the next scan
// does not report it back as a local change.
func (t *Target) remember(meta *storage.FileMetadata) {
	t.mu.Lock()
	t.lastKnown[meta.Path] = meta
	t.dropBuffered(meta.Path)
	t.mu.Unlock()
}

// forget folds an applied delete into the baseline.
func (t *Target) forget(path string) {
	t.mu.Lock()
	delete(t.lastKnown, path)
	t.dropBuffered(path)
	t.mu.Unlock()
}

// dropBuffered removes a buffered outgoing change for path. Callers
// hold t.mu.
func (t *Target) dropBuffered(path string) {
	idx, ok := t.bufferIdx[path]
	if !ok {
		return
	}
	t.buffer = append(t.buffer[:idx], t.buffer[idx+1:]...)
	delete(t.bufferIdx, path)
	for p, i := range t.bufferIdx {
		if i > idx {
			t.bufferIdx[p] = i - 1
		}
	}
}

// SyncComplete closes a sync cycle: releases the advisory lock and
// returns the target to idle. Returns false when no cycle was open.
func (t *Target) SyncComplete(_ context.Context) (bool, error) {
	t.mu.Lock()
	status := t.status
	if status == TargetIdle {
		t.mu.Unlock()
		return false, nil
	}
	if status != TargetSyncing && status != TargetCollecting {
		t.mu.Unlock()
		return false, fmt.Errorf("%w: complete in %s", ErrInvalidTargetState, status)
	}
	t.lastSync = t.clk.Now()
	t.status = TargetIdle
	t.mu.Unlock()

	t.releaseSyncLock()
	return true, nil
}

// markSyncing moves a source target into syncing when the manager
// picks up its batch. Idle is accepted for cycles driven directly
// rather than through the debounce flush.
func (t *Target) markSyncing() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == TargetIdle {
		t.status = TargetCollecting
	}
	if !targetTransitionAllowed(t.status, TargetSyncing) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTargetState, t.status, TargetSyncing)
	}
	t.status = TargetSyncing
	return nil
}

// armMirror makes the next incoming cycle a full mirror: the local
// tree is cleared before the incoming changes apply. Buffered outgoing
// changes are dropped with it.
func (t *Target) armMirror() {
	t.mu.Lock()
	t.mirrorArmed = true
	t.buffer = nil
	t.bufferIdx = make(map[string]int)
	t.mu.Unlock()
}

func (t *Target) releaseSyncLock() {
	t.mu.Lock()
	locked := t.locked
	t.locked = false
	t.mu.Unlock()
	if !locked {
		return
	}
	if err := t.adapter.Unlock(t.lockOwner); err != nil {
		t.log.Warn("unlock after sync failed", "error", err)
	}
}

// GetMetadata returns metadata for one path.
func (t *Target) GetMetadata(ctx context.Context, path string) (*storage.FileMetadata, error) {
	return t.adapter.GetMetadata(ctx, utils.NormPath(path))
}

// GetMetadataBatch resolves metadata for several paths. Failures are
// reported per path; the rest of the batch still succeeds.
func (t *Target) GetMetadataBatch(ctx context.Context, paths []string) (map[string]*storage.FileMetadata, map[string]error) {
	found := make(map[string]*storage.FileMetadata, len(paths))
	failed := make(map[string]error)
	for _, p := range paths {
		norm := utils.NormPath(p)
		meta, err := t.adapter.GetMetadata(ctx, norm)
		if err != nil {
			failed[norm] = fmt.Errorf("%w: %s: %w", ErrRetrievalFailed, norm, err)
			continue
		}
		found[norm] = meta
	}
	return found, failed
}

// ListDirectory lists the immediate children of path, ignored entries
// filtered out.
func (t *Target) ListDirectory(ctx context.Context, path string) ([]*storage.Item, error) {
	items, err := t.adapter.ListDirectory(ctx, utils.NormPath(path))
	if err != nil {
		return nil, err
	}
	kept := items[:0]
	for _, item := range items {
		if t.ignore.IsIgnored(item.Path) {
			continue
		}
		kept = append(kept, item)
	}
	return kept, nil
}

// GetFileContent opens a file as a chunked stream. The caller closes
// the stream.
func (t *Target) GetFileContent(ctx context.Context, path string) (*ChunkStream, error) {
	norm := utils.NormPath(path)
	meta, err := t.adapter.GetMetadata(ctx, norm)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRetrievalFailed, norm, err)
	}
	r, err := t.adapter.ReadFile(ctx, norm)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRetrievalFailed, norm, err)
	}
	return NewChunkStream(meta, r, DefaultChunkSize), nil
}

// Lock takes the advisory lock on behalf of an external caller.
func (t *Target) Lock(ctx context.Context, mode storage.LockMode, reason string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = t.lockTimeout
	}
	return t.adapter.Lock(ctx, &storage.LockRequest{
		Timeout: timeout,
		Reason:  reason,
		Mode:    mode,
		Owner:   "external:" + t.id,
	})
}

// Unlock releases an external advisory lock.
func (t *Target) Unlock() error {
	return t.adapter.Unlock("external:" + t.id)
}

// files returns a copy of the baseline file map.
func (t *Target) files() map[string]*storage.FileMetadata {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]*storage.FileMetadata, len(t.lastKnown))
	for p, m := range t.lastKnown {
		out[p] = m
	}
	return out
}

// PollNow runs one scan cycle outside the timer schedule and reports
// how many changes it buffered.
func (t *Target) PollNow(ctx context.Context) int {
	return t.pollOnce(ctx)
}

// FlushNow flushes buffered changes without waiting for the debounce
// window.
func (t *Target) FlushNow() {
	t.flushChanges()
}

// transition moves status per the transition table. An invalid
// transition is a protocol violation: it pushes the target into the
// error state rather than being swallowed as a no-op.
func (t *Target) transition(to TargetStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !targetTransitionAllowed(t.status, to) {
		err := fmt.Errorf("%w: %s -> %s", ErrInvalidTargetState, t.status, to)
		t.status = TargetError
		t.lastErr = err
		return err
	}
	t.status = to
	return nil
}

func (t *Target) fail(err error) {
	t.mu.Lock()
	t.status = TargetError
	t.lastErr = err
	t.mu.Unlock()
	t.log.Error("target entering error state", "error", err)
}

// watchLoop owns both the poll timer and the debounce flush timer so
// resets never race. Timers, not tickers: a slow scan must not queue
// ticks behind itself.
func (t *Target) watchLoop() {
	defer t.wg.Done()

	pollTimer := t.clk.NewTimer(t.pollInterval)
	defer pollTimer.Stop()

	flushTimer := t.clk.NewTimer(t.debounce)
	flushTimer.Stop()

	var nudges <-chan struct{}
	if n, ok := t.adapter.(nudger); ok {
		nudges = n.Nudges()
	}

	ctx := context.Background()
	for {
		select {
		case <-t.done:
			return

		case <-pollTimer.C():
			t.afterScan(t.pollOnce(ctx), flushTimer)
			pollTimer.Reset(t.pollInterval)

		case <-nudges:
			t.afterScan(t.pollOnce(ctx), flushTimer)

		case <-flushTimer.C():
			t.flushChanges()
		}
	}
}

// afterScan arms or short-circuits the debounce window after a scan
// buffered n new changes.
func (t *Target) afterScan(n int, flushTimer clock.Timer) {
	if n == 0 {
		return
	}
	t.mu.Lock()
	total := len(t.buffer)
	t.mu.Unlock()
	if total >= t.maxBatch {
		flushTimer.Stop()
		t.flushChanges()
		return
	}
	flushTimer.Reset(t.debounce)
}

// pollOnce runs one scan-and-diff cycle. Overlapping cycles and cycles
// during an incoming sync are skipped, not queued.
func (t *Target) pollOnce(ctx context.Context) int {
	if !t.scanMu.TryLock() {
		return 0
	}
	defer t.scanMu.Unlock()

	t.mu.Lock()
	from := t.status
	if from != TargetIdle && from != TargetCollecting {
		t.mu.Unlock()
		return 0
	}
	if from == TargetIdle {
		t.status = TargetScanning
	}
	prev := t.lastKnown
	t.mu.Unlock()

	current, err := t.scanTree(ctx)
	if err != nil {
		t.mu.Lock()
		if from == TargetIdle {
			t.status = TargetIdle
		}
		t.scanFailures++
		failures := t.scanFailures
		t.mu.Unlock()
		if failures >= maxScanFailures {
			t.fail(fmt.Errorf("%w: %d consecutive scan failures: %v", ErrWatchFailed, failures, err))
		} else {
			t.log.Warn("scan failed", "error", err, "consecutive", failures)
		}
		return 0
	}

	changes := diffStates(t.id, prev, current, t.clk.Now())

	t.mu.Lock()
	t.scanFailures = 0
	t.lastKnown = current
	if from == TargetIdle {
		t.status = TargetIdle
	}
	for _, c := range changes {
		t.bufferLocked(c)
	}
	if len(t.buffer) > 0 && t.status == TargetIdle {
		t.status = TargetCollecting
	}
	t.mu.Unlock()

	if len(changes) > 0 {
		t.log.Debug("scan found changes", "count", len(changes))
	}
	return len(changes)
}

// bufferLocked folds one change into the outgoing buffer, coalescing by
// path. Callers hold t.mu.
func (t *Target) bufferLocked(c *FileChangeInfo) {
	idx, ok := t.bufferIdx[c.Path]
	if !ok {
		t.bufferIdx[c.Path] = len(t.buffer)
		t.buffer = append(t.buffer, c)
		return
	}

	prev := t.buffer[idx]
	// an unflushed create followed by a modify is still a create as far
	// as other targets are concerned
	if prev.Type == ChangeCreate && c.Type == ChangeModify {
		c = &FileChangeInfo{
			Path:           c.Path,
			Type:           ChangeCreate,
			SourceTargetID: c.SourceTargetID,
			Metadata:       c.Metadata,
		}
	}
	t.buffer[idx] = c
}

// flushChanges drains the buffer and dispatches one batch to the
// listeners. The manager's listener runs the full propagation cycle
// synchronously; if nobody consumes the batch the target simply
// returns to idle.
func (t *Target) flushChanges() {
	t.mu.Lock()
	if len(t.buffer) == 0 {
		if t.status == TargetCollecting {
			t.status = TargetIdle
		}
		t.mu.Unlock()
		return
	}
	batch := t.buffer
	t.buffer = nil
	t.bufferIdx = make(map[string]int)
	t.mu.Unlock()

	t.log.Info("flushing change batch", "count", len(batch))
	t.watchers.dispatch(&WatchEvent{TargetID: t.id, Changes: batch})

	t.mu.Lock()
	if t.status == TargetCollecting && len(t.buffer) == 0 {
		t.status = TargetIdle
	}
	t.mu.Unlock()
}

// clearLocal deletes every non-ignored file before a first mirror.
func (t *Target) clearLocal(ctx context.Context) error {
	existing, err := t.scanTree(ctx)
	if err != nil {
		return err
	}
	for path := range existing {
		if err := t.adapter.DeleteItem(ctx, path); err != nil && !storage.IsNotFound(err) {
			return fmt.Errorf("clear %s: %w", path, err)
		}
	}
	t.mu.Lock()
	t.lastKnown = make(map[string]*storage.FileMetadata)
	t.mu.Unlock()
	return nil
}

// scanTree walks the adapter and returns metadata for every non-ignored
// file, keyed by normalized path.
func (t *Target) scanTree(ctx context.Context) (map[string]*storage.FileMetadata, error) {
	out := make(map[string]*storage.FileMetadata)

	var walk func(dir string) error
	walk = func(dir string) error {
		items, err := t.adapter.ListDirectory(ctx, dir)
		if err != nil {
			return fmt.Errorf("list %s: %w", dir, err)
		}
		for _, item := range items {
			if t.ignore.IsIgnored(item.Path) {
				continue
			}
			if item.IsDir() {
				if err := walk(item.Path); err != nil {
					return err
				}
				continue
			}
			meta, err := t.adapter.GetMetadata(ctx, item.Path)
			if err != nil {
				if storage.IsNotFound(err) {
					// raced with a delete, the next scan will report it
					continue
				}
				return fmt.Errorf("stat %s: %w", item.Path, err)
			}
			out[meta.Path] = meta
		}
		return nil
	}

	if err := walk("/"); err != nil {
		return nil, err
	}
	return out, nil
}
