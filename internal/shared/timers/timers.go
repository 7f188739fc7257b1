// Package timers provides cancellable one-shot timers for lifecycle
// deadlines (grace periods, connect timeouts, display expiry).
//
// The runtime's time.Timer.Stop cannot stop a callback that is already
// queued to run, so each Timer carries a generation counter: Arm bumps
// the generation and a callback only runs if its generation is still
// current when it fires. A timer that fired after being superseded or
// cancelled is a no-op.
//
// Callbacks run outside the timer's own lock. A callback that mutates
// guarded state should re-validate that state under the owner's lock,
// since a concurrent Cancel can still lose the race to a callback that
// has already passed its generation gate.
package timers

import (
	"sync"
	"time"
)

// Timer is a reusable one-shot timer. Re-arming supersedes the
// previously scheduled callback. The zero value is ready to use.
type Timer struct {
	mu    sync.Mutex
	gen   uint64
	timer *time.Timer
	armed bool
}

// New creates a new timer.
func New() *Timer {
	return &Timer{}
}

// Arm schedules fn to run after d, superseding any earlier schedule.
func (t *Timer) Arm(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	gen := t.gen
	t.armed = true

	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(d, func() {
		if !t.claim(gen) {
			return
		}
		fn()
	})
}

// claim reports whether a firing callback from the given generation is
// still current, and disarms the timer if so.
func (t *Timer) claim(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.gen != gen || !t.armed {
		return false
	}
	t.armed = false
	return true
}

// Cancel stops any pending callback. Safe to call repeatedly and
// concurrently with a firing timer; whichever claims the generation
// first wins.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	t.armed = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Active reports whether a callback is scheduled and not yet fired.
func (t *Timer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}
