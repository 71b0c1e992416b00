package sync

import "errors"

var (
	// ErrInitializationFailed indicates a target could not be bound to
	// its adapter (backend mismatch, lock unobtainable at startup)
	ErrInitializationFailed = errors.New("target initialization failed")

	// ErrApplyFailed indicates a write or delete could not be performed.
	// Distinct from a conflict, which is an expected outcome.
	ErrApplyFailed = errors.New("apply change failed")

	// ErrRetrievalFailed indicates a read-side failure, reported per path
	ErrRetrievalFailed = errors.New("content retrieval failed")

	// ErrWatchFailed indicates the polling or listing step itself errored
	ErrWatchFailed = errors.New("watch cycle failed")

	// ErrInvalidTargetState indicates an operation was attempted in a
	// state the transition table forbids
	ErrInvalidTargetState = errors.New("invalid target state transition")

	// ErrConflictPending indicates contested paths were withheld from a
	// destination during fan-out.
	ErrConflictPending = errors.New("conflicting changes withheld")

	// ErrChunkHashMismatch indicates a content chunk failed its
	// integrity check
	ErrChunkHashMismatch = errors.New("content chunk hash mismatch")
)

// Manager-level state errors
var (
	ErrNoPrimaryTarget     = errors.New("no primary target registered")
	ErrTargetNotFound      = errors.New("target not found")
	ErrTargetAlreadyExists = errors.New("target already registered")
	ErrPrimaryTargetExists = errors.New("a primary target is already registered")
	ErrNoPendingSync       = errors.New("no pending sync")
	ErrSyncInProgress      = errors.New("sync already in progress")
	ErrInvalidPhase        = errors.New("operation not legal in current phase")
	ErrManagerDisposed     = errors.New("sync manager disposed")
	ErrUnknownBackend      = errors.New("no target factory for backend")
)
