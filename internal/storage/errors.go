package storage

import "errors"

var (
	// ErrNotFound indicates the requested path does not exist
	ErrNotFound = errors.New("path not found")

	// ErrNotDirectory indicates a listing was requested on a file
	ErrNotDirectory = errors.New("not a directory")

	// ErrNotInitialized indicates the adapter was used before Initialize
	ErrNotInitialized = errors.New("adapter not initialized")

	// ErrLocked indicates a write was refused because of an advisory lock
	ErrLocked = errors.New("adapter is locked")

	// ErrLockTimeout indicates a lock could not be acquired in time
	ErrLockTimeout = errors.New("lock acquisition timed out")

	// ErrNotLockOwner indicates an unlock by someone other than the holder
	ErrNotLockOwner = errors.New("not the lock owner")

	// ErrClosed indicates the adapter has been closed
	ErrClosed = errors.New("adapter is closed")
)

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
