package sync

import (
	"time"

	"github.com/openmirror/treesync/internal/storage"
)

// Role marks a target as the authoritative replica or a follower.
type Role string

const (
	RolePrimary   Role = "primary"
	RoleSecondary Role = "secondary"
)

// ChangeType classifies a detected file change.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeModify ChangeType = "modify"
	ChangeDelete ChangeType = "delete"
)

// FileChangeInfo describes one detected change, metadata only. It is
// what targets report upward; content travels separately so that change
// notifications stay cheap.
type FileChangeInfo struct {
	Path           string
	Type           ChangeType
	SourceTargetID string
	Metadata       *storage.FileMetadata
}

// FileChange is a FileChangeInfo plus the content payload, used only
// when applying a change to a target.
type FileChange struct {
	*FileChangeInfo
	Content *ChunkStream
}

// FileConflict is returned when a target refuses an incoming change
// because its local copy is strictly newer. Conflicts are data, not
// errors.
type FileConflict struct {
	Path           string
	SourceTargetID string
	TargetID       string
	Timestamp      time.Time
}

// Resolution is the outcome of a pre-registered conflict resolver.
type Resolution int

const (
	// ResolutionNone leaves the conflict for a human decision
	ResolutionNone Resolution = iota
	// ResolutionTakePrimary discards the conflicting secondary changes
	ResolutionTakePrimary
	// ResolutionTakeSecondary applies the secondary changes to the primary
	ResolutionTakeSecondary
)

// ResolverFunc decides a conflict without human involvement. Returning
// ResolutionNone defers to an explicit confirm/reject call.
type ResolverFunc func(conflict *FileConflict) Resolution

// TargetState is the externally observable snapshot of one sync target.
type TargetState struct {
	ID             string
	Backend        storage.BackendType
	Role           Role
	Locked         bool
	LockMode       storage.LockMode
	PendingChanges int
	LastSyncTime   time.Time
	Status         TargetStatus
	Error          string
}

// PendingTargetSync holds the changes of one source target that could
// not be applied cleanly.
type PendingTargetSync struct {
	Changes    []*FileChangeInfo
	Timestamp  time.Time
	FailedSync bool
}

// PendingSync is an unresolved batch of secondary-sourced changes
// awaiting an explicit confirm or reject. At most one exists at a time.
type PendingSync struct {
	SourceTargetID  string
	PendingByTarget map[string]*PendingTargetSync
}

// changes flattens the pending change set in arrival order.
func (p *PendingSync) changes() []*FileChangeInfo {
	out := make([]*FileChangeInfo, 0)
	for _, ts := range p.PendingByTarget {
		out = append(out, ts.Changes...)
	}
	return out
}

// SyncFailure records one failed propagation attempt.
type SyncFailure struct {
	TargetID      string
	Err           string
	Phase         Phase
	AffectedFiles []string
	RetryCount    int
	Timestamp     time.Time
}

// SyncStatus is a point-in-time snapshot of the whole manager.
type SyncStatus struct {
	Phase          Phase
	Targets        []*TargetState
	LastSyncTime   time.Time
	CurrentFailure *SyncFailure
	FailureHistory []*SyncFailure
	PendingSync    *PendingSync
}
