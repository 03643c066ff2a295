package session

import (
	"sync"
	"sync/atomic"
	"time"
)

// Timer is the part of *time.Timer the watchdog needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it once adapted by RealAfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

// RealAfterFunc schedules f with time.AfterFunc.
func RealAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Watchdog is a single-shot stall detector. Each Arm starts one timer; it is
// never re-armed by traffic.
type Watchdog struct {
	now   func() time.Time
	after AfterFunc
}

// NewWatchdog creates a watchdog. Nil arguments select the real clock and timers.
func NewWatchdog(now func() time.Time, after AfterFunc) *Watchdog {
	if now == nil {
		now = time.Now
	}
	if after == nil {
		after = RealAfterFunc
	}
	return &Watchdog{now: now, after: after}
}

// Arm starts a timer that calls onExpire(armedAt) once after deadline unless the
// returned cancel runs first. cancel is idempotent, and once it has returned
// onExpire will not be called.
func (w *Watchdog) Arm(deadline time.Duration, onExpire func(armedAt time.Time)) (cancel func()) {
	armedAt := w.now()

	var mu sync.Mutex
	var cancelled atomic.Bool

	t := w.after(deadline, func() {
		mu.Lock()
		defer mu.Unlock()
		if cancelled.Load() {
			return
		}
		onExpire(armedAt)
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			cancelled.Store(true)
			t.Stop()
			// wait out a callback that already passed the check
			mu.Lock()
			mu.Unlock() //nolint:staticcheck
		})
	}
}

// Stalled reports whether no chunk was counted at or after armedAt.
func Stalled(s Stats, armedAt time.Time) bool {
	return !s.HasEvent() || s.LastEventAt.Before(armedAt)
}
