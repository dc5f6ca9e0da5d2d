// Package clocktest provides a settable clock and a manually fired scheduler.
package clocktest

import (
	"sync"
	"time"

	"github.com/claude/fitcycle/internal/clock"
)

// Fake is a clock.Clock whose time only moves when told to.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake starting at now.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

// Now returns the current fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set jumps to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Scheduler records scheduled tasks; Fire runs every live one synchronously.
type Scheduler struct {
	mu     sync.Mutex
	nextID int
	tasks  map[int]task
}

type task struct {
	interval time.Duration
	fn       func()
}

// NewScheduler returns an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{tasks: map[int]task{}}
}

// Every registers fn. Nothing runs until Fire.
func (s *Scheduler) Every(interval time.Duration, fn func()) clock.Cancel {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.tasks[id] = task{interval: interval, fn: fn}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.tasks, id)
		s.mu.Unlock()
	}
}

// Fire runs each registered task once.
func (s *Scheduler) Fire() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.tasks))
	for _, t := range s.tasks {
		fns = append(fns, t.fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Active reports how many tasks are still scheduled.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Intervals returns the interval of every live task.
func (s *Scheduler) Intervals() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.interval)
	}
	return out
}
