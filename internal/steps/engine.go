// Package steps turns a raw cumulative pedometer stream into a persisted
// daily step total with a goal.
package steps

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/claude/fitcycle/internal/clock"
	"github.com/claude/fitcycle/internal/datekey"
	"github.com/claude/fitcycle/internal/models"
	"github.com/claude/fitcycle/internal/persist"
	"github.com/claude/fitcycle/internal/store"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultGoal          = 10000
	DefaultRolloverCheck = time.Minute
	DefaultHistoryDays   = 30
)

// ErrInvalidGoal is returned by SetGoal for a goal that isn't positive.
var ErrInvalidGoal = errors.New("steps: goal must be positive")

// Deps are the engine's collaborators. Sensor may be nil on devices without
// a pedometer.
type Deps struct {
	Store     store.Store
	Clock     clock.Clock
	Scheduler clock.Scheduler
	Sensor    Sensor
	Logger    *slog.Logger
}

// Config tunes the engine.
type Config struct {
	DefaultGoal   int
	RolloverCheck time.Duration
	HistoryDays   int
}

// DayTotal is the step count of one date.
type DayTotal struct {
	Date  string `json:"date"`
	Steps int64  `json:"steps"`
}

// Snapshot is a read-only view of the engine for presentation.
type Snapshot struct {
	Date      string  `json:"date"`
	Steps     int64   `json:"steps"`
	Goal      int     `json:"goal"`
	Progress  float64 `json:"progress"`
	Available *bool   `json:"available"`
}

// Engine owns the step record. All methods are safe for concurrent use;
// sensor callbacks, timer ticks and user calls are serialised by one mutex.
type Engine struct {
	store  store.Store
	clock  clock.Clock
	sched  clock.Scheduler
	sensor Sensor
	cfg    Config
	log    *slog.Logger

	mu         sync.Mutex
	writer     *persist.Writer
	data       models.StepData
	history    models.StepHistory
	available  *bool
	sub        Subscription
	starting   bool
	gen        uint64 // bumped whenever the subscription is dropped
	cancelTick clock.Cancel
}

// New builds an engine. Call Load before use.
func New(deps Deps, cfg Config) *Engine {
	if cfg.DefaultGoal <= 0 {
		cfg.DefaultGoal = DefaultGoal
	}
	if cfg.RolloverCheck <= 0 || cfg.RolloverCheck > DefaultRolloverCheck {
		cfg.RolloverCheck = DefaultRolloverCheck
	}
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = DefaultHistoryDays
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:   deps.Store,
		clock:   deps.Clock,
		sched:   deps.Scheduler,
		sensor:  deps.Sensor,
		cfg:     cfg,
		log:     log.With("component", "steps", "engine_id", uuid.NewString()),
		data:    models.NewStepData(datekey.Key(deps.Clock.Now()), cfg.DefaultGoal),
		history: models.StepHistory{Version: models.CurrentVersion, Days: map[string]int64{}},
	}
}

// Load reads the step record and history. A missing or malformed record
// starts at zero for today; a failed read keeps the in-memory defaults. A
// record from an earlier date is rolled over immediately.
func (e *Engine) Load(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	today := datekey.Key(now)

	raw, err := e.store.Get(ctx, models.KeyStepData)
	switch {
	case errors.Is(err, store.ErrNotFound):
		e.data = models.NewStepData(today, e.cfg.DefaultGoal)
		e.saveLocked()
	case err != nil:
		e.log.Warn("steps: reading record failed, using defaults", "error", err)
		e.data = models.NewStepData(today, e.cfg.DefaultGoal)
	default:
		data, err := models.DecodeStepData(raw)
		if err != nil {
			e.log.Warn("steps: stored record unreadable, starting fresh", "error", err)
			e.data = models.NewStepData(today, e.cfg.DefaultGoal)
			e.saveLocked()
			break
		}
		data.Normalize(today, e.cfg.DefaultGoal, now.Location())
		e.data = data
	}

	raw, err = e.store.Get(ctx, models.KeyStepHistory)
	if err == nil {
		h, err := models.DecodeStepHistory(raw)
		if err != nil {
			e.log.Warn("steps: stored history unreadable", "error", err)
		} else {
			e.history = h
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		e.log.Warn("steps: reading history failed", "error", err)
	}

	e.rolloverLocked()
	e.log.Info("steps: loaded", "date", e.data.Date, "steps", e.data.Steps, "goal", e.data.StepGoal)
}

// Start checks sensor availability, subscribes when available and
// schedules the midnight check. It never subscribes twice, and a Stop that
// lands while Start is talking to the sensor wins.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.cancelTick == nil {
		e.cancelTick = e.sched.Every(e.cfg.RolloverCheck, e.tick)
	}
	if e.sub != nil || e.starting {
		e.mu.Unlock()
		return
	}
	e.starting = true
	gen := e.gen
	e.mu.Unlock()

	// Sensor calls may block, so they run outside the lock.
	available := e.checkAvailable(ctx)
	var sub Subscription
	if available {
		s, err := e.sensor.Subscribe(e.HandleReading)
		if err != nil {
			e.log.Warn("steps: subscribing to sensor failed", "error", err)
			available = false
		} else {
			sub = s
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		if sub != nil {
			sub.Cancel()
		}
		e.log.Debug("steps: start superseded")
		return
	}
	e.starting = false
	e.available = &available
	if sub == nil {
		return
	}
	if e.sub != nil {
		sub.Cancel()
		return
	}
	e.sub = sub
	e.log.Info("steps: sensor subscribed")
}

// Recheck asks the sensor again whether it is available. A sensor that went
// away loses its subscription; one that came back is subscribed.
func (e *Engine) Recheck(ctx context.Context) {
	if e.checkAvailable(ctx) {
		e.Start(ctx)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	unavailable := false
	e.available = &unavailable
	if e.dropSubLocked() {
		e.log.Info("steps: sensor unavailable, unsubscribed")
	}
}

func (e *Engine) checkAvailable(ctx context.Context) bool {
	if e.sensor == nil {
		return false
	}
	ok, err := e.sensor.Available(ctx)
	if err != nil {
		e.log.Warn("steps: availability check failed", "error", err)
		return false
	}
	return ok
}

// dropSubLocked cancels the live subscription and invalidates any Start in
// flight. It reports whether a subscription was cancelled.
func (e *Engine) dropSubLocked() bool {
	e.gen++
	e.starting = false
	if e.sub == nil {
		return false
	}
	e.sub.Cancel()
	e.sub = nil
	return true
}

// HandleReading feeds one cumulative sensor count into the accumulator. The
// first reading after load or rollover only sets the baseline. Positive
// deltas are credited and advance the baseline; anything else is discarded
// and the baseline stays where it was.
func (e *Engine) HandleReading(count int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()

	if count < 0 {
		e.log.Debug("steps: negative reading ignored", "count", count)
		return
	}
	if e.data.LastSensorValue == nil {
		e.data.LastSensorValue = &count
		e.saveLocked()
		return
	}
	delta := count - *e.data.LastSensorValue
	if delta <= 0 {
		e.log.Debug("steps: reading discarded", "count", count, "baseline", *e.data.LastSensorValue)
		return
	}
	e.data.Steps += delta
	e.data.LastSensorValue = &count
	e.saveLocked()
}

// Resume rolls the day over if midnight passed while suspended, then raises
// today's total to the platform's since-midnight total when that is higher.
func (e *Engine) Resume(ctx context.Context) {
	e.mu.Lock()
	e.rolloverLocked()
	now := e.clock.Now()
	date := e.data.Date
	e.mu.Unlock()

	if e.sensor == nil {
		return
	}
	total, err := e.sensor.QueryRange(ctx, datekey.StartOfDay(now), now)
	if errors.Is(err, ErrRangeUnsupported) {
		return
	}
	if err != nil {
		e.log.Warn("steps: platform total unavailable", "error", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()
	if e.data.Date != date || total <= e.data.Steps {
		return
	}
	e.log.Info("steps: reconciled with platform total", "from", e.data.Steps, "to", total)
	e.data.Steps = total
	e.saveLocked()
}

// SetGoal changes the daily goal.
func (e *Engine) SetGoal(goal int) error {
	if goal <= 0 {
		return ErrInvalidGoal
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()
	e.data.StepGoal = goal
	e.saveLocked()
	return nil
}

// Steps returns today's total.
func (e *Engine) Steps() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()
	return e.data.Steps
}

// Goal returns the daily goal.
func (e *Engine) Goal() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.data.StepGoal
}

// Progress returns today's steps as a percentage of the goal, capped at 100.
func (e *Engine) Progress() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()
	return e.progressLocked()
}

func (e *Engine) progressLocked() float64 {
	if e.data.StepGoal <= 0 {
		return 0
	}
	p := float64(e.data.Steps) / float64(e.data.StepGoal) * 100
	if p > 100 {
		return 100
	}
	return p
}

// Available reports whether the sensor can be used: nil until Start has
// found out.
func (e *Engine) Available() *bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyBool(e.available)
}

// History returns the totals of the last n dates, oldest first, ending with
// today's running total. Dates with no archived total report 0.
func (e *Engine) History(n int) []DayTotal {
	if n <= 0 {
		return []DayTotal{}
	}
	if n > e.cfg.HistoryDays+1 {
		n = e.cfg.HistoryDays + 1
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()

	today := datekey.StartOfDay(e.clock.Now())
	out := make([]DayTotal, 0, n)
	for i := n - 1; i >= 0; i-- {
		key := datekey.Key(datekey.AddDays(today, -i))
		steps := e.history.Days[key]
		if i == 0 {
			steps = e.data.Steps
		}
		out = append(out, DayTotal{Date: key, Steps: steps})
	}
	return out
}

// Snapshot returns a consistent view of today.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()
	return Snapshot{
		Date:      e.data.Date,
		Steps:     e.data.Steps,
		Goal:      e.data.StepGoal,
		Progress:  e.progressLocked(),
		Available: copyBool(e.available),
	}
}

func (e *Engine) tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()
}

// Stop cancels the sensor subscription and the midnight check. Start may be
// called again afterwards.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dropSubLocked()
	if e.cancelTick != nil {
		e.cancelTick()
		e.cancelTick = nil
	}
}

// Close stops background work and waits for pending writes.
func (e *Engine) Close() {
	e.Stop()

	e.mu.Lock()
	w := e.writer
	e.writer = nil
	e.mu.Unlock()
	if w != nil {
		w.Close()
	}
}

// Flush waits until every mutation so far has reached the store.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	w := e.writer
	e.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Flush(ctx)
}

// rolloverLocked archives the finished day and starts a new one when the
// wall-clock date differs from the record's. The goal carries over.
func (e *Engine) rolloverLocked() bool {
	now := e.clock.Now()
	today := datekey.Key(now)
	if e.data.Date == today {
		return false
	}

	e.log.Info("steps: day rolled over", "from", e.data.Date, "to", today, "steps", e.data.Steps)
	e.history.Record(e.data.Date, e.data.Steps, datekey.StartOfDay(now), e.cfg.HistoryDays)
	e.persistLocked(models.KeyStepHistory, e.history)

	e.data = models.NewStepData(today, e.data.StepGoal)
	e.saveLocked()
	return true
}

func (e *Engine) saveLocked() {
	e.persistLocked(models.KeyStepData, e.data)
}

func (e *Engine) persistLocked(key string, v any) {
	if e.writer == nil {
		e.writer = persist.NewWriter(e.store, e.log)
	}
	e.writer.Save(key, v)
}

func copyBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}
