// Package clock abstracts wall-clock time so that poll and debounce
// scheduling can be driven by a fake clock in tests.
package clock

import "time"

// Clock provides the time operations used by the sync engine.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
	Sleep(d time.Duration)
}

// Timer is a resettable single-shot timer.
type Timer interface {
	C() <-chan time.Time
	Reset(d time.Duration) bool
	Stop() bool
}

type realClock struct{}

// New returns a Clock backed by the system clock.
func New() Clock {
	return &realClock{}
}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

func (realClock) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

type realTimer struct {
	t *time.Timer
}

func (r *realTimer) C() <-chan time.Time { return r.t.C }

func (r *realTimer) Reset(d time.Duration) bool { return r.t.Reset(d) }

func (r *realTimer) Stop() bool { return r.t.Stop() }
