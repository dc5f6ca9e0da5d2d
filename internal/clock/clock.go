// Package clock abstracts wall-clock reads and periodic timers so the engines
// can be driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current local time.
type Clock interface {
	Now() time.Time
}

// Cancel stops a scheduled task. Calling it more than once is safe.
type Cancel func()

// Scheduler runs fn every interval until the returned Cancel is called.
type Scheduler interface {
	Every(interval time.Duration, fn func()) Cancel
}

// System is the device clock in the process's local timezone.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time { return time.Now() }

// Ticker schedules tasks on time.Ticker goroutines.
type Ticker struct{}

// Every starts a goroutine that calls fn on each tick. Ticks missed while the
// process is suspended are dropped, so callers must still reconcile on resume.
func (Ticker) Every(interval time.Duration, fn func()) Cancel {
	t := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-t.C:
				fn()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.Stop()
			close(done)
		})
	}
}
