// Package workout implements the workout cycle: which rotation day today is,
// which exercises are done, per-day progress and the completion streak.
package workout

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/claude/fitcycle/internal/catalog"
	"github.com/claude/fitcycle/internal/clock"
	"github.com/claude/fitcycle/internal/datekey"
	"github.com/claude/fitcycle/internal/models"
	"github.com/claude/fitcycle/internal/persist"
	"github.com/claude/fitcycle/internal/store"
)

// DefaultRolloverCheck is how often the engine looks for a date change.
const DefaultRolloverCheck = time.Minute

// maxHistoryDays caps History requests.
const maxHistoryDays = 366

var (
	// ErrInvalidDay is returned for a rotation day outside 1..6.
	ErrInvalidDay = errors.New("workout: invalid rotation day")
	// ErrEmptyExercise is returned when toggling an exercise without a name.
	ErrEmptyExercise = errors.New("workout: exercise name is empty")
	// ErrInvalidProfile is returned by UpdateProfile for an unknown gender,
	// level or start weekday.
	ErrInvalidProfile = errors.New("workout: invalid profile")
)

// Catalog supplies the six rotation days of a plan.
type Catalog interface {
	Plan(gender string, level int) ([]catalog.WorkoutDay, error)
}

// Deps are the engine's collaborators.
type Deps struct {
	Store     store.Store
	Clock     clock.Clock
	Scheduler clock.Scheduler
	Catalog   Catalog
	Logger    *slog.Logger
}

// Config tunes the engine.
type Config struct {
	DefaultGender string
	DefaultLevel  int
	RolloverCheck time.Duration
}

// Stats counts today's completed exercises.
type Stats struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// DaySummary is one date of the completion history.
type DaySummary struct {
	Date      string `json:"date"`
	DayNumber int    `json:"day_number"`
	Title     string `json:"title"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// Snapshot is a read-only view of the engine for presentation.
type Snapshot struct {
	Date      string             `json:"date"`
	StartDate string             `json:"start_date"`
	Day       catalog.WorkoutDay `json:"day"`
	Completed []string           `json:"completed"`
	Stats     Stats              `json:"stats"`
	Progress  float64            `json:"progress"`
	Streak    int                `json:"streak"`
	Profile   models.Profile     `json:"profile"`
}

// Engine owns the workout record. All methods are safe for concurrent use;
// every call runs to completion under one mutex.
type Engine struct {
	store   store.Store
	clock   clock.Clock
	sched   clock.Scheduler
	catalog Catalog
	cfg     Config
	log     *slog.Logger

	mu         sync.Mutex
	writer     *persist.Writer
	data       models.WorkoutData
	profile    models.Profile
	plan       []catalog.WorkoutDay
	today      string
	cancelTick clock.Cancel
}

// New builds an engine. Call Load before use.
func New(deps Deps, cfg Config) *Engine {
	if cfg.RolloverCheck <= 0 || cfg.RolloverCheck > DefaultRolloverCheck {
		cfg.RolloverCheck = DefaultRolloverCheck
	}
	if !models.ValidGender(cfg.DefaultGender) {
		cfg.DefaultGender = models.GenderMale
	}
	if !models.ValidLevel(cfg.DefaultLevel) {
		cfg.DefaultLevel = 1
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	now := deps.Clock.Now()
	today := datekey.Key(now)
	e := &Engine{
		store:   deps.Store,
		clock:   deps.Clock,
		sched:   deps.Scheduler,
		catalog: deps.Catalog,
		cfg:     cfg,
		log:     log.With("component", "workout", "engine_id", uuid.NewString()),
		data:    models.NewWorkoutData(today),
		today:   today,
	}
	e.profile = models.Profile{Version: models.CurrentVersion}
	e.profile.Normalize(cfg.DefaultGender, cfg.DefaultLevel)
	e.loadPlanLocked()
	return e
}

// Load reads the profile and workout record from the store. A missing or
// malformed record starts a fresh one anchored at today; a failed read keeps
// the in-memory defaults without overwriting what is stored.
func (e *Engine) Load(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	e.today = datekey.Key(now)
	e.readProfileLocked(ctx)

	raw, err := e.store.Get(ctx, models.KeyWorkoutData)
	switch {
	case errors.Is(err, store.ErrNotFound):
		e.data = models.NewWorkoutData(e.today)
		e.saveLocked()
	case err != nil:
		e.log.Warn("workout: reading record failed, using defaults", "error", err)
		e.data = models.NewWorkoutData(e.today)
	default:
		data, err := models.DecodeWorkoutData(raw)
		if err != nil {
			e.log.Warn("workout: stored record unreadable, starting fresh", "error", err)
			e.data = models.NewWorkoutData(e.today)
			e.saveLocked()
			break
		}
		data.Normalize(e.today, now.Location())
		e.data = data
	}

	e.loadPlanLocked()
	e.log.Info("workout: loaded", "date", e.today, "start_date", e.data.StartDate,
		"day", e.currentDayNumberLocked(), "streak", e.streakLocked())
}

// Refresh re-reads the profile and reloads the plan from the catalog.
func (e *Engine) Refresh(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()
	e.readProfileLocked(ctx)
	e.loadPlanLocked()
}

// UpdateProfile replaces the profile, persists it and switches plans.
func (e *Engine) UpdateProfile(p models.Profile) error {
	p.Gender = strings.ToLower(strings.TrimSpace(p.Gender))
	if !models.ValidGender(p.Gender) || !models.ValidLevel(p.Level) {
		return ErrInvalidProfile
	}
	if p.StartDayOfWeek != nil && (*p.StartDayOfWeek < 0 || *p.StartDayOfWeek > 6) {
		return ErrInvalidProfile
	}
	p.Version = models.CurrentVersion

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()
	e.profile = p
	e.persistLocked(models.KeyProfile, e.profile)
	e.loadPlanLocked()
	return nil
}

// Profile returns the active profile.
func (e *Engine) Profile() models.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.profile
}

// CurrentDay returns today's rotation day, or the rest day.
func (e *Engine) CurrentDay() catalog.WorkoutDay {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()
	return e.dayLocked(e.currentDayNumberLocked())
}

// CurrentDayNumber returns 1..6, or 0 on the rest day.
func (e *Engine) CurrentDayNumber() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()
	return e.currentDayNumberLocked()
}

// ToggleCompletion flips an exercise of today's rotation day and returns its
// new state. On the rest day there is nothing to toggle.
func (e *Engine) ToggleCompletion(name string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()
	return e.toggleLocked(e.currentDayNumberLocked(), name)
}

// ToggleCompletionOn flips an exercise of an explicit rotation day in
// today's record.
func (e *Engine) ToggleCompletionOn(day int, name string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()
	return e.toggleLocked(day, name)
}

func (e *Engine) toggleLocked(day int, name string) (bool, error) {
	if day < 1 || day > datekey.RotationLength {
		return false, ErrInvalidDay
	}
	if name == "" {
		return false, ErrEmptyExercise
	}

	key := models.ExerciseKey(day, name)
	record := e.data.Completions[e.today]
	if record == nil {
		record = map[string]bool{}
		e.data.Completions[e.today] = record
	}
	done := !record[key]
	record[key] = done

	e.data.LastCompletedDate = e.lastCompletedLocked()
	e.data.Streak = e.streakLocked()
	e.saveLocked()

	e.log.Debug("workout: toggled", "date", e.today, "key", key, "done", done)
	return done, nil
}

// IsExerciseCompleted reports whether an exercise of today's rotation day is
// done.
func (e *Engine) IsExerciseCompleted(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()
	return e.completedLocked(e.currentDayNumberLocked(), name)
}

// IsExerciseCompletedOn reports whether an exercise of the given rotation day
// is done in today's record.
func (e *Engine) IsExerciseCompletedOn(day int, name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()
	return e.completedLocked(day, name)
}

func (e *Engine) completedLocked(day int, name string) bool {
	return e.data.Completions[e.today][models.ExerciseKey(day, name)]
}

// WorkoutProgress returns the completed share of a rotation day's exercises
// in today's record, as a percentage in [0, 100]. Days without exercises
// report 0.
func (e *Engine) WorkoutProgress(day int) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()
	return e.progressLocked(day)
}

func (e *Engine) progressLocked(day int) float64 {
	s := e.statsLocked(day)
	if s.Total == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Total) * 100
}

// TodayStats counts completed and total exercises of today's rotation day.
func (e *Engine) TodayStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()
	return e.statsLocked(e.currentDayNumberLocked())
}

func (e *Engine) statsLocked(day int) Stats {
	d := e.dayLocked(day)
	s := Stats{Total: len(d.Exercises)}
	for _, ex := range d.Exercises {
		if e.completedLocked(day, ex.Name) {
			s.Completed++
		}
	}
	return s
}

// Streak counts consecutive days, walking back from today, whose
// reconstructed rotation day has at least one completed exercise. The first
// day without one ends the streak, and so does a rest day.
func (e *Engine) Streak() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()
	return e.streakLocked()
}

func (e *Engine) streakLocked() int {
	d, err := datekey.Parse(e.today, e.clock.Now().Location())
	if err != nil {
		return 0
	}
	// Past dates are mapped with today's start weekday, so completions made
	// before a start-day change can land on the wrong rotation day.
	start := e.startDayOfWeekLocked()
	n := 0
	// Terminates: only finitely many dates have records.
	for {
		num := datekey.RotationDay(d, start)
		if num == datekey.RestDay || e.data.Completions.CompletedCountFor(datekey.Key(d), num) == 0 {
			return n
		}
		n++
		d = datekey.AddDays(d, -1)
	}
}

// History summarises the last n dates, oldest first, ending today. Each
// date's rotation day is reconstructed from the current start weekday.
func (e *Engine) History(n int) []DaySummary {
	if n <= 0 {
		return []DaySummary{}
	}
	if n > maxHistoryDays {
		n = maxHistoryDays
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()

	today, err := datekey.Parse(e.today, e.clock.Now().Location())
	if err != nil {
		return []DaySummary{}
	}
	start := e.startDayOfWeekLocked()
	out := make([]DaySummary, 0, n)
	for i := n - 1; i >= 0; i-- {
		d := datekey.AddDays(today, -i)
		key := datekey.Key(d)
		num := datekey.RotationDay(d, start)
		day := e.dayLocked(num)
		out = append(out, DaySummary{
			Date:      key,
			DayNumber: num,
			Title:     day.Title,
			Completed: e.data.Completions.CompletedCount(key),
			Total:     len(day.Exercises),
		})
	}
	return out
}

// Snapshot returns a consistent view of today.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()

	num := e.currentDayNumberLocked()
	day := e.dayLocked(num)
	completed := []string{}
	for _, ex := range day.Exercises {
		if e.completedLocked(num, ex.Name) {
			completed = append(completed, ex.Name)
		}
	}
	return Snapshot{
		Date:      e.today,
		StartDate: e.data.StartDate,
		Day:       day,
		Completed: completed,
		Stats:     e.statsLocked(num),
		Progress:  e.progressLocked(num),
		Streak:    e.streakLocked(),
		Profile:   e.profile,
	}
}

// Start schedules the periodic midnight check. Calling it again while
// running does nothing.
func (e *Engine) Start(_ context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelTick != nil {
		return
	}
	e.cancelTick = e.sched.Every(e.cfg.RolloverCheck, e.tick)
	e.log.Debug("workout: rollover check started", "interval", e.cfg.RolloverCheck)
}

func (e *Engine) tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()
}

// Resume reconciles with the wall clock after the process was suspended.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()
}

// Stop cancels the midnight check. Start may be called again afterwards.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelTick != nil {
		e.cancelTick()
		e.cancelTick = nil
	}
}

// Close stops the midnight check and waits for pending writes.
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

// rolloverLocked moves the working view to the wall-clock date. The previous
// date's record stays as it was.
func (e *Engine) rolloverLocked() bool {
	key := datekey.Key(e.clock.Now())
	if key == e.today {
		return false
	}
	e.log.Info("workout: day rolled over", "from", e.today, "to", key)
	e.today = key
	return true
}

func (e *Engine) currentDayNumberLocked() int {
	return datekey.RotationDay(e.clock.Now(), e.startDayOfWeekLocked())
}

// startDayOfWeekLocked is the profile's start weekday, or the weekday of the
// first launch.
func (e *Engine) startDayOfWeekLocked() int {
	if e.profile.StartDayOfWeek != nil {
		return *e.profile.StartDayOfWeek
	}
	start, err := datekey.Parse(e.data.StartDate, e.clock.Now().Location())
	if err != nil {
		return int(e.clock.Now().Weekday())
	}
	return int(start.Weekday())
}

func (e *Engine) dayLocked(num int) catalog.WorkoutDay {
	if num == datekey.RestDay {
		return catalog.RestDay()
	}
	if num < 1 || num > len(e.plan) {
		return catalog.WorkoutDay{DayIndex: num, Exercises: []catalog.Exercise{}}
	}
	return e.plan[num-1]
}

func (e *Engine) lastCompletedLocked() string {
	last := ""
	for date := range e.data.Completions {
		if date > last && e.data.Completions.CompletedCount(date) > 0 {
			last = date
		}
	}
	return last
}

func (e *Engine) readProfileLocked(ctx context.Context) {
	raw, err := e.store.Get(ctx, models.KeyProfile)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.log.Warn("workout: reading profile failed", "error", err)
		}
		return
	}
	p, err := models.DecodeProfile(raw)
	if err != nil {
		e.log.Warn("workout: stored profile unreadable", "error", err)
		return
	}
	p.Normalize(e.cfg.DefaultGender, e.cfg.DefaultLevel)
	e.profile = p
}

func (e *Engine) loadPlanLocked() {
	if e.catalog == nil {
		e.plan = nil
		return
	}
	plan, err := e.catalog.Plan(e.profile.Gender, e.profile.Level)
	if err != nil {
		e.log.Warn("workout: no plan for profile", "gender", e.profile.Gender, "level", e.profile.Level, "error", err)
		e.plan = nil
		return
	}
	e.plan = plan
}

func (e *Engine) saveLocked() {
	e.persistLocked(models.KeyWorkoutData, e.data)
}

// persistLocked marshals v now and hands the write to the background writer.
func (e *Engine) persistLocked(key string, v any) {
	if e.writer == nil {
		e.writer = persist.NewWriter(e.store, e.log)
	}
	e.writer.Save(key, v)
}
