package clock

import (
	"sort"
	"sync"
	"time"
)

// Mock is a Clock whose time only moves when Advance is called.
// Timers fire synchronously inside Advance, in deadline order.
type Mock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*mockTimer
}

// NewMock returns a Mock clock starting at a fixed, non-zero instant.
func NewMock() *Mock {
	return &Mock{now: time.Unix(1700000000, 0)}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Mock) Sleep(d time.Duration) {
	t := m.NewTimer(d)
	<-t.C()
}

func (m *Mock) NewTimer(d time.Duration) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &mockTimer{
		clock:    m,
		ch:       make(chan time.Time, 1),
		deadline: m.now.Add(d),
		active:   true,
	}
	m.timers = append(m.timers, t)
	return t
}

// Advance moves the clock forward and fires every timer whose deadline
// has been reached. It yields briefly afterwards so that goroutines
// blocked on a fired timer get a chance to run.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	now := m.now

	due := make([]*mockTimer, 0, len(m.timers))
	for _, t := range m.timers {
		if t.active && !t.deadline.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	for _, t := range due {
		t.active = false
		select {
		case t.ch <- now:
		default:
		}
	}
	m.mu.Unlock()

	// let waiters observe the tick
	time.Sleep(time.Millisecond)
}

type mockTimer struct {
	clock    *Mock
	ch       chan time.Time
	deadline time.Time
	active   bool
}

func (t *mockTimer) C() <-chan time.Time { return t.ch }

func (t *mockTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	wasActive := t.active
	t.deadline = t.clock.now.Add(d)
	t.active = true

	// drain a stale fire
	select {
	case <-t.ch:
	default:
	}
	return wasActive
}

func (t *mockTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	wasActive := t.active
	t.active = false
	return wasActive
}
