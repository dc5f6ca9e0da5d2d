package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/claude/fitcycle/internal/datekey"
)

// CurrentVersion is the schema version written with every record.
// Records without a version field are the legacy (v0) app shape.
const CurrentVersion = 1

// Store keys of the persisted records.
const (
	KeyWorkoutData = "workoutData"
	KeyStepData    = "stepData"
	KeyProfile     = "userProfile"
	KeyStepHistory = "stepHistory"
)

// Gender values accepted by the workout catalog.
const (
	GenderMale   = "male"
	GenderFemale = "female"
)

// ErrUnsupportedVersion is returned when a record was written by a newer schema.
var ErrUnsupportedVersion = errors.New("unsupported record version")

// ExerciseKey builds the completion key for an exercise on a rotation day.
// The day number is part of the key so the same exercise on two different
// days is tracked separately.
func ExerciseKey(day int, exerciseName string) string {
	return fmt.Sprintf("day%d_%s", day, exerciseName)
}

// Completions maps a local date key to the exercise keys completed that day.
type Completions map[string]map[string]bool

// CompletedCount returns how many exercises are marked done on date.
func (c Completions) CompletedCount(date string) int {
	n := 0
	for _, done := range c[date] {
		if done {
			n++
		}
	}
	return n
}

// CompletedCountFor is CompletedCount restricted to the exercise keys of
// rotation day on date.
func (c Completions) CompletedCountFor(date string, day int) int {
	prefix := ExerciseKey(day, "")
	n := 0
	for key, done := range c[date] {
		if done && strings.HasPrefix(key, prefix) {
			n++
		}
	}
	return n
}

// WorkoutData is the persisted workout record.
type WorkoutData struct {
	Version           int         `json:"version"`
	StartDate         string      `json:"startDate"`
	Completions       Completions `json:"completions"`
	Streak            int         `json:"streak"`
	LastCompletedDate string      `json:"lastCompletedDate"`
}

// NewWorkoutData returns the first-launch record anchored at today.
func NewWorkoutData(today string) WorkoutData {
	return WorkoutData{
		Version:     CurrentVersion,
		StartDate:   today,
		Completions: Completions{},
	}
}

// DecodeWorkoutData parses a stored workout record. Callers treat any error
// as "no record" and start from NewWorkoutData.
func DecodeWorkoutData(raw []byte) (WorkoutData, error) {
	var w WorkoutData
	if err := json.Unmarshal(raw, &w); err != nil {
		return WorkoutData{}, fmt.Errorf("decoding workout data: %w", err)
	}
	if w.Version > CurrentVersion {
		return WorkoutData{}, fmt.Errorf("workout data v%d: %w", w.Version, ErrUnsupportedVersion)
	}
	return w, nil
}

// Normalize default-fills a decoded record and upgrades it to CurrentVersion.
func (w *WorkoutData) Normalize(today string, loc *time.Location) {
	if key, ok := normalizeDateKey(w.StartDate, loc); ok {
		w.StartDate = key
	} else {
		w.StartDate = today
	}
	if key, ok := normalizeDateKey(w.LastCompletedDate, loc); ok {
		w.LastCompletedDate = key
	} else {
		w.LastCompletedDate = ""
	}
	if w.Completions == nil {
		w.Completions = Completions{}
	}
	if w.Streak < 0 {
		w.Streak = 0
	}
	w.Version = CurrentVersion
}

// StepData is the persisted step counter record.
type StepData struct {
	Version         int    `json:"version"`
	Date            string `json:"date"`
	Steps           int64  `json:"steps"`
	LastSensorValue *int64 `json:"lastSensorValue"`
	StepGoal        int    `json:"stepGoal"`
}

// NewStepData returns a fresh record for today.
func NewStepData(today string, goal int) StepData {
	return StepData{
		Version:  CurrentVersion,
		Date:     today,
		StepGoal: goal,
	}
}

// DecodeStepData parses a stored step record.
func DecodeStepData(raw []byte) (StepData, error) {
	var s StepData
	if err := json.Unmarshal(raw, &s); err != nil {
		return StepData{}, fmt.Errorf("decoding step data: %w", err)
	}
	if s.Version > CurrentVersion {
		return StepData{}, fmt.Errorf("step data v%d: %w", s.Version, ErrUnsupportedVersion)
	}
	return s, nil
}

// Normalize default-fills a decoded record. A record with an unreadable date
// cannot be attributed to any day, so its counts are dropped.
func (s *StepData) Normalize(today string, defaultGoal int, loc *time.Location) {
	if key, ok := normalizeDateKey(s.Date, loc); ok {
		s.Date = key
	} else {
		s.Date = today
		s.Steps = 0
		s.LastSensorValue = nil
	}
	if s.Steps < 0 {
		s.Steps = 0
	}
	if s.LastSensorValue != nil && *s.LastSensorValue < 0 {
		s.LastSensorValue = nil
	}
	if s.StepGoal <= 0 {
		s.StepGoal = defaultGoal
	}
	s.Version = CurrentVersion
}

// Profile selects the workout plan and the weekday the rotation starts on.
type Profile struct {
	Version        int    `json:"version"`
	Gender         string `json:"gender"`
	Level          int    `json:"level"`
	StartDayOfWeek *int   `json:"startDayOfWeek"`
}

// DecodeProfile parses a stored profile.
func DecodeProfile(raw []byte) (Profile, error) {
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return Profile{}, fmt.Errorf("decoding profile: %w", err)
	}
	if p.Version > CurrentVersion {
		return Profile{}, fmt.Errorf("profile v%d: %w", p.Version, ErrUnsupportedVersion)
	}
	return p, nil
}

// Normalize replaces unknown gender/level with the defaults and drops an
// out-of-range start weekday.
func (p *Profile) Normalize(defaultGender string, defaultLevel int) {
	p.Gender = strings.ToLower(strings.TrimSpace(p.Gender))
	if !ValidGender(p.Gender) {
		p.Gender = defaultGender
	}
	if !ValidLevel(p.Level) {
		p.Level = defaultLevel
	}
	if p.StartDayOfWeek != nil && (*p.StartDayOfWeek < 0 || *p.StartDayOfWeek > 6) {
		p.StartDayOfWeek = nil
	}
	p.Version = CurrentVersion
}

// ValidGender reports whether g names a catalog gender.
func ValidGender(g string) bool {
	return g == GenderMale || g == GenderFemale
}

// ValidLevel reports whether level is one of the three catalog levels.
func ValidLevel(level int) bool {
	return level >= 1 && level <= 3
}

// StepHistory keeps the final step total of finished days.
type StepHistory struct {
	Version int              `json:"version"`
	Days    map[string]int64 `json:"days"`
}

// DecodeStepHistory parses a stored step history.
func DecodeStepHistory(raw []byte) (StepHistory, error) {
	var h StepHistory
	if err := json.Unmarshal(raw, &h); err != nil {
		return StepHistory{}, fmt.Errorf("decoding step history: %w", err)
	}
	if h.Days == nil {
		h.Days = map[string]int64{}
	}
	h.Version = CurrentVersion
	return h, nil
}

// Record stores the total for date and drops entries older than keep days
// before today.
func (h *StepHistory) Record(date string, steps int64, today time.Time, keep int) {
	if h.Days == nil {
		h.Days = map[string]int64{}
	}
	h.Version = CurrentVersion
	h.Days[date] = steps

	loc := today.Location()
	for key := range h.Days {
		d, err := datekey.Parse(key, loc)
		if err != nil || datekey.DaysBetween(d, today) > keep {
			delete(h.Days, key)
		}
	}
}

// normalizeDateKey accepts a YYYY-MM-DD key or an RFC 3339 timestamp (older
// app versions stored full ISO timestamps) and returns the local date key.
func normalizeDateKey(s string, loc *time.Location) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if _, err := datekey.Parse(s, loc); err == nil {
		return s, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return datekey.Key(t.In(loc)), true
	}
	return "", false
}
