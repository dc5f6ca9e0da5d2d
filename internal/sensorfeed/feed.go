// Package sensorfeed is a step sensor fed from outside the process: a
// companion device pushes cumulative pedometer counts and, when it has them,
// the health platform's since-midnight totals.
package sensorfeed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/claude/fitcycle/internal/clock"
	"github.com/claude/fitcycle/internal/datekey"
	"github.com/claude/fitcycle/internal/models"
	"github.com/claude/fitcycle/internal/steps"
)

// totalRetentionDays is how many past dates of platform totals are kept.
const totalRetentionDays = 7

// Feed implements steps.Sensor over pushed data.
type Feed struct {
	clock clock.Clock
	log   *slog.Logger

	mu        sync.Mutex
	available bool
	subs      map[uuid.UUID]func(int64)
	totals    map[string]int64
	last      *int64
}

// New returns a feed. available is the answer given to Available until the
// device reports otherwise.
func New(clk clock.Clock, available bool, log *slog.Logger) *Feed {
	return &Feed{
		clock:     clk,
		log:       log,
		available: available,
		subs:      map[uuid.UUID]func(int64){},
		totals:    map[string]int64{},
	}
}

// Available reports the last availability pushed by the device.
func (f *Feed) Available(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available, nil
}

// SetAvailable records whether the device can count steps.
func (f *Feed) SetAvailable(available bool) {
	f.mu.Lock()
	changed := f.available != available
	f.available = available
	f.mu.Unlock()
	if changed {
		f.log.Info("sensorfeed: availability changed", "available", available)
	}
}

type subscription struct {
	feed *Feed
	id   uuid.UUID
	once sync.Once
}

func (s *subscription) Cancel() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs, s.id)
		s.feed.mu.Unlock()
		s.feed.log.Debug("sensorfeed: unsubscribed", "subscription", s.id)
	})
}

// Subscribe registers onReading for every pushed count.
func (f *Feed) Subscribe(onReading func(count int64)) (steps.Subscription, error) {
	if onReading == nil {
		return nil, fmt.Errorf("sensorfeed: nil reading callback")
	}
	id := uuid.New()
	f.mu.Lock()
	f.subs[id] = onReading
	f.mu.Unlock()
	f.log.Debug("sensorfeed: subscribed", "subscription", id)
	return &subscription{feed: f, id: id}, nil
}

// Subscribers returns the number of live subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Push delivers cumulative counts, in order, to every subscriber. It
// returns how many subscribers received them.
func (f *Feed) Push(counts ...int64) int {
	f.mu.Lock()
	fns := make([]func(int64), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	if n := len(counts); n > 0 {
		v := counts[n-1]
		f.last = &v
	}
	f.mu.Unlock()

	// Callbacks take the engine lock, so they run outside ours.
	for _, c := range counts {
		for _, fn := range fns {
			fn(c)
		}
	}
	return len(fns)
}

// LastCount returns the most recently pushed count, if any.
func (f *Feed) LastCount() (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return 0, false
	}
	return *f.last, true
}

// ReportTotal stores the platform's step total for a local date.
func (f *Feed) ReportTotal(date string, total int64) error {
	loc := f.clock.Now().Location()
	d, err := datekey.Parse(date, loc)
	if err != nil {
		return err
	}
	if total < 0 {
		return fmt.Errorf("negative step total %d", total)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.totals[datekey.Key(d)] = total
	f.pruneLocked()
	return nil
}

// IngestHAE extracts per-date step totals from a Health Auto Export payload
// and records them as platform totals. It returns how many dates were
// recorded and how many data points were skipped.
func (f *Feed) IngestHAE(payload *models.HAEPayload) (dates, skipped int) {
	totals, skipped := models.StepTotals(payload, f.clock.Now().Location())

	f.mu.Lock()
	defer f.mu.Unlock()
	for date, total := range totals {
		f.totals[date] = total
	}
	f.pruneLocked()
	return len(totals), skipped
}

// QueryRange sums the platform totals of the dates in [start, end]. Only
// ranges starting at local midnight can be answered from daily totals, and
// a range with no reported date is unsupported.
func (f *Feed) QueryRange(_ context.Context, start, end time.Time) (int64, error) {
	if !start.Equal(datekey.StartOfDay(start)) || end.Before(start) {
		return 0, steps.ErrRangeUnsupported
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int64
	found := false
	for d := start; !d.After(end); d = datekey.AddDays(d, 1) {
		if v, ok := f.totals[datekey.Key(d)]; ok {
			sum += v
			found = true
		}
	}
	if !found {
		return 0, steps.ErrRangeUnsupported
	}
	return sum, nil
}

func (f *Feed) pruneLocked() {
	today := f.clock.Now()
	for key := range f.totals {
		d, err := datekey.Parse(key, today.Location())
		if err != nil || datekey.DaysBetween(d, today) > totalRetentionDays {
			delete(f.totals, key)
		}
	}
}
