package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openmirror/treesync/internal/clock"
	"github.com/openmirror/treesync/internal/storage"
	"github.com/openmirror/treesync/internal/utils"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 250 * time.Millisecond
	maxFailureHistory = 32
)

// ManagerConfig carries the manager tunables. Zero values fall back to
// the defaults above.
type ManagerConfig struct {
	MaxRetries int
	RetryDelay time.Duration
	Resolver   ResolverFunc
	Clock      clock.Clock
	Logger     *slog.Logger
}

func (c *ManagerConfig) withDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager coordinates propagation between one primary target and any
// number of secondaries. The primary is authoritative: secondary
// changes that conflict with it become a PendingSync that a caller must
// confirm or reject; primary changes that arrive while a PendingSync is
// open are deferred until it resolves.
type Manager struct {
	log        *slog.Logger
	clk        clock.Clock
	maxRetries int
	retryDelay time.Duration

	// mu is held for a whole propagation cycle: one cycle at a time.
	mu        sync.Mutex
	phase     Phase
	targets   map[string]*Target
	order     []string
	listeners map[string]string
	primaryID string
	resolver  ResolverFunc
	pending   *PendingSync
	// pendingConflicts holds the conflicts behind the open pending
	// sync, presented to a registered resolver once the opening cycle
	// has unwound
	pendingConflicts []*FileConflict
	deferred         []*FileChangeInfo
	current          *SyncFailure
	history          []*SyncFailure
	lastSync         time.Time
	disposed         bool
}

// NewManager creates a manager. Targets are attached with
// RegisterTarget; Initialize runs the initial mirror.
func NewManager(cfg *ManagerConfig) *Manager {
	if cfg == nil {
		cfg = &ManagerConfig{}
	}
	cfg.withDefaults()
	return &Manager{
		log:        cfg.Logger.With("component", "syncmanager"),
		clk:        cfg.Clock,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		phase:      PhaseUninitialized,
		targets:    make(map[string]*Target),
		listeners:  make(map[string]string),
		resolver:   cfg.Resolver,
	}
}

// SetResolver installs or replaces the automatic conflict resolver.
func (m *Manager) SetResolver(f ResolverFunc) {
	m.mu.Lock()
	m.resolver = f
	m.mu.Unlock()
}

// RegisterTarget attaches a target. The target is initialized if it has
// not been, and the manager subscribes to its change batches above all
// other listeners. After the manager itself is initialized, a newly
// registered secondary is mirrored from the primary immediately.
func (m *Manager) RegisterTarget(ctx context.Context, t *Target) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrManagerDisposed
	}
	if _, ok := m.targets[t.ID()]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTargetAlreadyExists, t.ID())
	}
	if t.Role() == RolePrimary && m.primaryID != "" {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPrimaryTargetExists, m.primaryID)
	}
	m.mu.Unlock()

	if t.Status() == TargetUninitialized {
		if err := t.Initialize(ctx); err != nil {
			return err
		}
	}

	// the lock was dropped for Initialize; a concurrent registration
	// may have slipped in, so the checks run again
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrManagerDisposed
	}
	if _, ok := m.targets[t.ID()]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTargetAlreadyExists, t.ID())
	}
	if t.Role() == RolePrimary && m.primaryID != "" {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPrimaryTargetExists, m.primaryID)
	}
	m.targets[t.ID()] = t
	m.order = append(m.order, t.ID())
	if t.Role() == RolePrimary {
		m.primaryID = t.ID()
	}
	initialized := m.phase != PhaseUninitialized
	m.mu.Unlock()

	listenerID := t.Watch(PriorityManager, nil, func(ev *WatchEvent) {
		if err := m.HandleTargetChanges(context.Background(), ev.TargetID, ev.Changes); err != nil {
			m.log.Error("propagation failed", "source", ev.TargetID, "error", err)
		}
	})

	m.mu.Lock()
	m.listeners[t.ID()] = listenerID
	m.mu.Unlock()

	m.log.Info("target registered", "target", t.ID(), "role", t.Role(), "backend", t.Backend())

	if initialized && t.Role() == RoleSecondary {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.mirrorLocked(ctx, t)
	}
	return nil
}

// UnregisterTarget detaches and stops a target. Pending state sourced
// from it is discarded.
func (m *Manager) UnregisterTarget(id string) error {
	m.mu.Lock()
	t, ok := m.targets[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTargetNotFound, id)
	}
	listenerID := m.listeners[id]
	delete(m.targets, id)
	delete(m.listeners, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if m.primaryID == id {
		m.primaryID = ""
	}
	if m.pending != nil && m.pending.SourceTargetID == id {
		m.pending = nil
		if m.phase == PhaseConflict {
			m.phase = PhaseReady
		}
	}
	m.mu.Unlock()

	t.Unwatch(listenerID)
	t.Stop()
	m.log.Info("target unregistered", "target", id)
	return nil
}

// Initialize brings the manager to the ready phase and mirrors the
// primary onto every secondary so all targets start converged.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return ErrManagerDisposed
	}
	if !phaseTransitionAllowed(m.phase, PhaseReady) {
		return fmt.Errorf("%w: initialize in %s", ErrInvalidPhase, m.phase)
	}
	if m.primaryID == "" {
		return ErrNoPrimaryTarget
	}

	for _, id := range m.order {
		t := m.targets[id]
		if t.Role() != RoleSecondary {
			continue
		}
		if err := m.mirrorLocked(ctx, t); err != nil {
			m.phase = PhaseError
			return fmt.Errorf("initial mirror of %s: %w", id, err)
		}
	}

	m.phase = PhaseReady
	m.lastSync = m.clk.Now()
	m.log.Info("sync manager initialized", "targets", len(m.targets))
	return m.drainDeferredLocked(ctx)
}

// HandleTargetChanges runs one propagation cycle for a batch of changes
// from source. Primary-sourced batches while a PendingSync is open are
// deferred; secondary-sourced ones accumulate onto the pending set.
func (m *Manager) HandleTargetChanges(ctx context.Context, sourceID string, changes []*FileChangeInfo) error {
	if len(changes) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handleChangesLocked(ctx, sourceID, changes)
}

func (m *Manager) handleChangesLocked(ctx context.Context, sourceID string, changes []*FileChangeInfo) error {
	if m.disposed {
		return ErrManagerDisposed
	}

	source, ok := m.targets[sourceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTargetNotFound, sourceID)
	}

	// batches flushed before Initialize finishes are held, not lost
	if m.phase == PhaseUninitialized {
		m.deferred = append(m.deferred, changes...)
		return nil
	}

	if m.pending != nil {
		if sourceID == m.primaryID {
			m.deferred = append(m.deferred, changes...)
			m.log.Info("deferring primary changes behind pending sync", "count", len(changes))
			return nil
		}
		if sourceID == m.pending.SourceTargetID {
			m.accumulatePending(changes)
			m.log.Info("accumulated changes onto pending sync", "count", len(changes))
			return nil
		}
		// a third replica changed while another secondary's pending sync
		// is open; hold its batch until the conflict resolves
		m.deferred = append(m.deferred, changes...)
		return nil
	}

	if m.phase == PhaseSyncing {
		return ErrSyncInProgress
	}
	if !phaseTransitionAllowed(m.phase, PhaseSyncing) {
		return fmt.Errorf("%w: sync in %s", ErrInvalidPhase, m.phase)
	}
	m.phase = PhaseSyncing

	if err := source.markSyncing(); err != nil {
		// the source may already be past collecting; only a hard state
		// mismatch aborts the cycle
		if source.Status() != TargetSyncing {
			m.phase = PhaseReady
			return err
		}
	}
	pendingOpened := m.propagateLocked(ctx, source.ID(), changes)

	if _, err := source.SyncComplete(ctx); err != nil {
		m.log.Warn("source sync completion failed", "source", sourceID, "error", err)
	}

	if pendingOpened {
		// the resolver, if any, must not fire until the source's own
		// cycle has unwound: settling the pending re-mirrors the
		// source, which needs a fresh incoming cycle on it
		m.resolvePendingLocked(ctx)
		return nil
	}

	m.phase = PhaseReady
	m.lastSync = m.clk.Now()
	return m.drainDeferredLocked(ctx)
}

// propagateLocked pushes changes from source to every other target,
// primary first. A hard failure on one secondary marks that target
// only; the rest still receive the batch. A conflict or hard failure
// on the primary turns a secondary-sourced batch into the PendingSync.
// Conflicts raised by a secondary are skipped, since that secondary's
// own poll will report its local change as a separate cycle. Returns
// true when a PendingSync was opened.
func (m *Manager) propagateLocked(ctx context.Context, sourceID string, changes []*FileChangeInfo) bool {
	source := m.targets[sourceID]

	for _, dest := range m.destinationsLocked(sourceID) {
		destConflicts, err := m.syncOneLocked(ctx, source, dest, changes, false)

		if dest.ID() != m.primaryID {
			if err != nil {
				// one secondary failing must not stall the others
				dest.fail(err)
				m.log.Error("propagation to secondary failed", "dest", dest.ID(), "error", err)
			}
			if len(destConflicts) > 0 {
				// the contested paths were withheld from this secondary;
				// its own poll will raise them as a separate cycle
				m.recordFailureLocked(dest.ID(),
					fmt.Errorf("%w: %d conflicting paths withheld", ErrConflictPending, len(destConflicts)),
					affectedPaths(changes), 0)
			}
			continue
		}

		if err != nil {
			m.openPendingLocked(sourceID, changes, nil, true)
			return true
		}
		if len(destConflicts) > 0 {
			// primary refused part of the batch; do not fan the
			// contested changes out to other secondaries
			m.openPendingLocked(sourceID, changes, destConflicts, false)
			return true
		}
	}
	return false
}

// syncOneLocked runs the notify/apply/complete protocol against one
// destination, with the retry loop around the whole attempt.
func (m *Manager) syncOneLocked(ctx context.Context, source, dest *Target, changes []*FileChangeInfo, force bool) ([]*FileConflict, error) {
	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if attempt > 0 {
			m.clk.Sleep(m.retryDelay)
			m.log.Warn("retrying sync", "dest", dest.ID(), "attempt", attempt, "error", lastErr)
		}
		conflicts, err := m.applyBatch(ctx, source, dest, changes, force)
		if err == nil {
			return conflicts, nil
		}
		lastErr = err
		m.recordFailureLocked(dest.ID(), err, affectedPaths(changes), attempt)
	}
	return nil, fmt.Errorf("after %d retries: %w", m.maxRetries, lastErr)
}

func (m *Manager) applyBatch(ctx context.Context, source, dest *Target, changes []*FileChangeInfo, force bool) ([]*FileConflict, error) {
	if err := dest.NotifyIncomingChanges(ctx); err != nil {
		return nil, err
	}

	var (
		conflicts []*FileConflict
		applyErr  error
	)
	for _, info := range changes {
		var content *ChunkStream
		if info.Type != ChangeDelete {
			stream, err := source.GetFileContent(ctx, info.Path)
			if err != nil {
				if storage.IsNotFound(err) {
					// deleted at the source since detection; the delete
					// will arrive with the next batch
					continue
				}
				applyErr = err
				break
			}
			content = stream
		}

		conflict, err := dest.ApplyFileChange(ctx, info, content, force)
		if content != nil {
			content.Close()
		}
		if err != nil {
			applyErr = err
			break
		}
		if conflict != nil {
			conflicts = append(conflicts, conflict)
		}
	}

	if _, err := dest.SyncComplete(ctx); err != nil && applyErr == nil {
		applyErr = err
	}
	if applyErr != nil {
		return nil, applyErr
	}
	return conflicts, nil
}

func (m *Manager) destinationsLocked(sourceID string) []*Target {
	out := make([]*Target, 0, len(m.targets))
	if m.primaryID != "" && m.primaryID != sourceID {
		out = append(out, m.targets[m.primaryID])
	}
	for _, id := range m.order {
		if id == sourceID || id == m.primaryID {
			continue
		}
		out = append(out, m.targets[id])
	}
	return out
}

// openPendingLocked turns an unappliable secondary batch into the
// single PendingSync and moves the manager into the conflict phase.
// For a conflict, only contested paths are held; for a hard apply
// failure the whole batch is. A registered resolver may settle a
// conflict immediately.
func (m *Manager) openPendingLocked(sourceID string, changes []*FileChangeInfo, conflicts []*FileConflict, failed bool) {
	ts := &PendingTargetSync{Timestamp: m.clk.Now(), FailedSync: failed}
	if failed {
		ts.Changes = append(ts.Changes, changes...)
	} else {
		contested := mapFromConflicts(conflicts)
		for _, c := range changes {
			if _, ok := contested[c.Path]; ok {
				ts.Changes = append(ts.Changes, c)
			}
		}
	}

	m.pending = &PendingSync{
		SourceTargetID:  sourceID,
		PendingByTarget: map[string]*PendingTargetSync{m.primaryID: ts},
	}
	m.pendingConflicts = conflicts
	m.phase = PhaseConflict
	m.log.Warn("sync blocked, awaiting resolution",
		"source", sourceID, "held", len(ts.Changes), "failed", failed)
}

// resolvePendingLocked lets a registered resolver settle the open
// PendingSync. Callers invoke it only after the source's sync cycle
// has unwound, so the settle path can open a fresh incoming cycle on
// the source. A failed-sync pending has no conflict to present and is
// always left for a human.
func (m *Manager) resolvePendingLocked(ctx context.Context) {
	if m.resolver == nil || m.pending == nil || len(m.pendingConflicts) == 0 {
		return
	}
	switch m.resolver(m.pendingConflicts[0]) {
	case ResolutionTakeSecondary:
		m.log.Info("resolver chose secondary, confirming")
		if err := m.confirmLocked(ctx); err != nil {
			m.log.Error("auto-confirm failed", "error", err)
		}
	case ResolutionTakePrimary:
		m.log.Info("resolver chose primary, rejecting")
		src := m.targets[m.pending.SourceTargetID]
		if err := m.rejectLocked(ctx); err != nil {
			m.log.Error("auto-reject failed", "error", err)
			return
		}
		// the resolver stands in for the human who would reinitialize
		// the losing replica afterwards
		if src != nil {
			if err := m.mirrorLocked(ctx, src); err != nil {
				m.log.Error("remirror after auto-reject failed", "error", err)
			}
		}
	case ResolutionNone:
	}
}

func (m *Manager) accumulatePending(changes []*FileChangeInfo) {
	ts := m.pending.PendingByTarget[m.primaryID]
	if ts == nil {
		ts = &PendingTargetSync{Timestamp: m.clk.Now(), FailedSync: true}
		m.pending.PendingByTarget[m.primaryID] = ts
	}
	for _, c := range changes {
		replaced := false
		for i, prev := range ts.Changes {
			if prev.Path == c.Path {
				ts.Changes[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			ts.Changes = append(ts.Changes, c)
		}
	}
	ts.Timestamp = m.clk.Now()
}

// GetPendingSync returns the open pending sync, or ErrNoPendingSync.
func (m *Manager) GetPendingSync() (*PendingSync, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return nil, ErrNoPendingSync
	}
	return m.pending, nil
}

// GetPendingChanges flattens the pending change set.
func (m *Manager) GetPendingChanges() ([]*FileChangeInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return nil, ErrNoPendingSync
	}
	return m.pending.changes(), nil
}

// GetPendingChangeContent streams the contested content of one pending
// path from the source replica, for inspection before confirm/reject.
func (m *Manager) GetPendingChangeContent(ctx context.Context, path string) (*ChunkStream, error) {
	m.mu.Lock()
	if m.pending == nil {
		m.mu.Unlock()
		return nil, ErrNoPendingSync
	}
	source, ok := m.targets[m.pending.SourceTargetID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: pending source", ErrTargetNotFound)
	}
	return source.GetFileContent(ctx, utils.NormPath(path))
}

// ConfirmPrimarySync force-applies the pending changes to the primary,
// then mirrors the updated primary onto every secondary so all replicas
// converge on the confirmed state. Deferred primary changes run after.
func (m *Manager) ConfirmPrimarySync(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirmLocked(ctx)
}

func (m *Manager) confirmLocked(ctx context.Context) error {
	if m.pending == nil {
		return ErrNoPendingSync
	}
	if !phaseTransitionAllowed(m.phase, PhaseResolving) {
		return fmt.Errorf("%w: confirm in %s", ErrInvalidPhase, m.phase)
	}
	m.phase = PhaseResolving

	source := m.targets[m.pending.SourceTargetID]
	primary := m.targets[m.primaryID]
	if source == nil || primary == nil {
		m.phase = PhaseError
		return fmt.Errorf("%w: pending participants", ErrTargetNotFound)
	}

	changes := m.pending.changes()
	if _, err := m.syncOneLocked(ctx, source, primary, changes, true); err != nil {
		m.phase = PhaseError
		return fmt.Errorf("force apply to primary: %w", err)
	}

	for _, id := range m.order {
		t := m.targets[id]
		if t.Role() != RoleSecondary {
			continue
		}
		if err := m.mirrorLocked(ctx, t); err != nil {
			m.phase = PhaseError
			return fmt.Errorf("remirror %s after confirm: %w", id, err)
		}
	}

	m.pending = nil
	m.pendingConflicts = nil
	m.phase = PhaseReady
	m.lastSync = m.clk.Now()
	m.log.Info("pending sync confirmed", "changes", len(changes))
	return m.drainDeferredLocked(ctx)
}

// RejectPendingSync discards the pending changes and re-mirrors the
// source secondary from the primary, overwriting its divergent files.
func (m *Manager) RejectPendingSync(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rejectLocked(ctx)
}

func (m *Manager) rejectLocked(ctx context.Context) error {
	if m.pending == nil {
		return ErrNoPendingSync
	}
	if !phaseTransitionAllowed(m.phase, PhaseResolving) {
		return fmt.Errorf("%w: reject in %s", ErrInvalidPhase, m.phase)
	}
	m.phase = PhaseResolving
	m.pending = nil
	m.pendingConflicts = nil

	// a reject discards the held changes and nothing else: no replica
	// is touched. The rejected source stays divergent until someone
	// calls ReinitializeTarget on it.
	m.phase = PhaseReady
	m.lastSync = m.clk.Now()
	m.log.Info("pending sync rejected")
	return m.drainDeferredLocked(ctx)
}

// ReinitializeTarget rebuilds one secondary from the primary state.
func (m *Manager) ReinitializeTarget(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.targets[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTargetNotFound, id)
	}
	if t.Role() != RoleSecondary {
		return fmt.Errorf("reinitialize: %s is not a secondary", id)
	}
	return m.mirrorLocked(ctx, t)
}

// mirrorLocked replaces dest's tree with the primary's current files.
func (m *Manager) mirrorLocked(ctx context.Context, dest *Target) error {
	primary, ok := m.targets[m.primaryID]
	if !ok {
		return ErrNoPrimaryTarget
	}

	files := primary.files()
	changes := make([]*FileChangeInfo, 0, len(files))
	for _, meta := range files {
		changes = append(changes, &FileChangeInfo{
			Path:           meta.Path,
			Type:           ChangeCreate,
			SourceTargetID: primary.ID(),
			Metadata:       meta,
		})
	}

	dest.armMirror()
	if _, err := m.syncOneLocked(ctx, primary, dest, changes, true); err != nil {
		return err
	}
	m.log.Info("mirrored primary onto target", "target", dest.ID(), "files", len(changes))
	return nil
}

// drainDeferredLocked replays change batches held back behind a pending
// sync, grouped per source target. Callers hold m.mu with phase ready.
func (m *Manager) drainDeferredLocked(ctx context.Context) error {
	for len(m.deferred) > 0 && m.pending == nil {
		src := m.deferred[0].SourceTargetID
		batch := make([]*FileChangeInfo, 0, len(m.deferred))
		rest := make([]*FileChangeInfo, 0)
		for _, c := range m.deferred {
			if c.SourceTargetID == src {
				batch = append(batch, c)
			} else {
				rest = append(rest, c)
			}
		}
		m.deferred = rest
		m.log.Info("replaying deferred changes", "source", src, "count", len(batch))
		if err := m.handleChangesLocked(ctx, src, batch); err != nil {
			return err
		}
	}
	return nil
}

// Recover moves the manager and any errored targets out of the error
// state.
func (m *Manager) Recover(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseError {
		return fmt.Errorf("%w: recover in %s", ErrInvalidPhase, m.phase)
	}
	for _, id := range m.order {
		t := m.targets[id]
		if t.Status() != TargetError {
			continue
		}
		if err := t.Recover(ctx); err != nil {
			return fmt.Errorf("recover %s: %w", id, err)
		}
	}
	m.phase = PhaseReady
	m.current = nil
	m.log.Info("sync manager recovered")
	return nil
}

// Status returns a point-in-time snapshot of the manager and all
// targets.
func (m *Manager) Status() *SyncStatus {
	m.mu.Lock()
	phase := m.phase
	pending := m.pending
	current := m.current
	history := append([]*SyncFailure(nil), m.history...)
	lastSync := m.lastSync
	order := append([]string(nil), m.order...)
	targets := make([]*Target, 0, len(order))
	for _, id := range order {
		targets = append(targets, m.targets[id])
	}
	m.mu.Unlock()

	states := make([]*TargetState, 0, len(targets))
	for _, t := range targets {
		states = append(states, t.State())
	}

	return &SyncStatus{
		Phase:          phase,
		Targets:        states,
		LastSyncTime:   lastSync,
		CurrentFailure: current,
		FailureHistory: history,
		PendingSync:    pending,
	}
}

// Phase returns the current manager phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Dispose stops every target and permanently shuts the manager down.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	targets := make([]*Target, 0, len(m.targets))
	listeners := make(map[*Target]string, len(m.targets))
	for id, t := range m.targets {
		targets = append(targets, t)
		listeners[t] = m.listeners[id]
	}
	m.targets = make(map[string]*Target)
	m.listeners = make(map[string]string)
	m.order = nil
	m.mu.Unlock()

	for _, t := range targets {
		t.Unwatch(listeners[t])
		t.Stop()
		if err := t.adapter.Close(); err != nil {
			m.log.Warn("adapter close failed", "target", t.ID(), "error", err)
		}
	}
	m.log.Info("sync manager disposed")
}

func (m *Manager) recordFailureLocked(targetID string, err error, paths []string, attempt int) {
	f := &SyncFailure{
		TargetID:      targetID,
		Err:           err.Error(),
		Phase:         m.phase,
		AffectedFiles: paths,
		RetryCount:    attempt,
		Timestamp:     m.clk.Now(),
	}
	m.current = f
	m.history = append(m.history, f)
	if len(m.history) > maxFailureHistory {
		m.history = m.history[len(m.history)-maxFailureHistory:]
	}
}

func affectedPaths(changes []*FileChangeInfo) []string {
	out := make([]string, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.Path)
	}
	return out
}

func mapFromConflicts(conflicts []*FileConflict) map[string]*FileConflict {
	out := make(map[string]*FileConflict, len(conflicts))
	for _, c := range conflicts {
		out[c.Path] = c
	}
	return out
}
