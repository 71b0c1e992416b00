package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardAcquireRelease(t *testing.T) {
	g := NewGuard()
	ctx := context.Background()

	err := g.Acquire(ctx, &LockRequest{Timeout: time.Second, Mode: LockModeSync, Owner: "a"})
	require.NoError(t, err)

	var state AdapterState
	g.Snapshot(&state)
	assert.True(t, state.Locked)
	assert.Equal(t, "a", state.LockOwner)
	assert.Equal(t, LockModeSync, state.LockMode)

	require.NoError(t, g.Release("a"))
	g.Snapshot(&state)
	assert.False(t, state.Locked)
}

func TestGuardTimeout(t *testing.T) {
	g := NewGuard()
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx, &LockRequest{Timeout: time.Second, Mode: LockModeSync, Owner: "a"}))

	err := g.Acquire(ctx, &LockRequest{Timeout: 20 * time.Millisecond, Mode: LockModeSync, Owner: "b"})
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestGuardReentrantSameOwner(t *testing.T) {
	g := NewGuard()
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx, &LockRequest{Timeout: time.Second, Mode: LockModeSync, Owner: "a"}))
	// same owner may re-acquire and switch modes
	require.NoError(t, g.Acquire(ctx, &LockRequest{Timeout: time.Second, Mode: LockModeExternal, Owner: "a"}))

	var state AdapterState
	g.Snapshot(&state)
	assert.Equal(t, LockModeExternal, state.LockMode)

	require.NoError(t, g.Release("a"))
}

func TestGuardReleaseWrongOwner(t *testing.T) {
	g := NewGuard()
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx, &LockRequest{Timeout: time.Second, Mode: LockModeSync, Owner: "a"}))
	assert.ErrorIs(t, g.Release("b"), ErrNotLockOwner)
	require.NoError(t, g.Release("a"))
}

func TestGuardCheckWrite(t *testing.T) {
	g := NewGuard()
	ctx := context.Background()

	// unlocked, anyone may write
	assert.NoError(t, g.CheckWrite(false))

	require.NoError(t, g.Acquire(ctx, &LockRequest{Timeout: time.Second, Mode: LockModeSync, Owner: "a"}))
	assert.NoError(t, g.CheckWrite(true))
	assert.ErrorIs(t, g.CheckWrite(false), ErrLocked)

	require.NoError(t, g.Acquire(ctx, &LockRequest{Timeout: time.Second, Mode: LockModeExternal, Owner: "a"}))
	assert.ErrorIs(t, g.CheckWrite(true), ErrLocked)
	assert.ErrorIs(t, g.CheckWrite(false), ErrLocked)
}

func TestGuardForceRelease(t *testing.T) {
	g := NewGuard()
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx, &LockRequest{Timeout: time.Second, Mode: LockModeExternal, Owner: "a"}))
	g.ForceRelease()

	// lock is free again
	require.NoError(t, g.Acquire(ctx, &LockRequest{Timeout: time.Second, Mode: LockModeSync, Owner: "b"}))
	require.NoError(t, g.Release("b"))

	// releasing an unheld lock is a no-op
	g.ForceRelease()
	assert.NoError(t, g.Release("b"))
}
