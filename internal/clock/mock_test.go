package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockAdvanceFiresTimer(t *testing.T) {
	m := NewMock()
	timer := m.NewTimer(5 * time.Second)

	select {
	case <-timer.C():
		t.Fatal("timer fired before advance")
	default:
	}

	m.Advance(5 * time.Second)

	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Fatal("timer did not fire after advance")
	}
}

func TestMockAdvancePartial(t *testing.T) {
	m := NewMock()
	timer := m.NewTimer(10 * time.Second)

	m.Advance(4 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("timer fired too early")
	default:
	}

	m.Advance(6 * time.Second)
	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestMockTimerReset(t *testing.T) {
	m := NewMock()
	timer := m.NewTimer(2 * time.Second)
	m.Advance(2 * time.Second)

	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	// reset re-arms relative to the current mock time
	timer.Reset(3 * time.Second)
	m.Advance(2 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("reset timer fired too early")
	default:
	}
	m.Advance(time.Second)
	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Fatal("reset timer did not fire")
	}
}

func TestMockTimerStop(t *testing.T) {
	m := NewMock()
	timer := m.NewTimer(time.Second)
	require.True(t, timer.Stop())

	m.Advance(2 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
	assert.False(t, timer.Stop())
}

func TestMockNow(t *testing.T) {
	m := NewMock()
	start := m.Now()
	m.Advance(time.Minute)
	assert.Equal(t, start.Add(time.Minute), m.Now())
}
