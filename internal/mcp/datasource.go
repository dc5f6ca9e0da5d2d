package mcp

import (
	"context"

	"github.com/claude/fitcycle/internal/steps"
	"github.com/claude/fitcycle/internal/workout"
)

// ToggleResult is the outcome of flipping one exercise.
type ToggleResult struct {
	Exercise  string           `json:"exercise"`
	Completed bool             `json:"completed"`
	Workout   workout.Snapshot `json:"workout"`
}

// DataSource abstracts where the tools read from. Engines (in process) and
// HTTPClient (remote via REST API) both satisfy it.
type DataSource interface {
	WorkoutToday(ctx context.Context) (*workout.Snapshot, error)
	ToggleExercise(ctx context.Context, exercise string, day *int) (*ToggleResult, error)
	WorkoutHistory(ctx context.Context, days int) ([]workout.DaySummary, error)
	Steps(ctx context.Context) (*steps.Snapshot, error)
	SetStepGoal(ctx context.Context, goal int) (*steps.Snapshot, error)
	StepHistory(ctx context.Context, days int) ([]steps.DayTotal, error)
}

// Engines serves the tools straight from the running engines.
type Engines struct {
	Workouts  *workout.Engine
	StepCount *steps.Engine
}

// Compile-time check: Engines satisfies DataSource.
var _ DataSource = Engines{}

func (e Engines) WorkoutToday(_ context.Context) (*workout.Snapshot, error) {
	snap := e.Workouts.Snapshot()
	return &snap, nil
}

func (e Engines) ToggleExercise(_ context.Context, exercise string, day *int) (*ToggleResult, error) {
	var (
		done bool
		err  error
	)
	if day != nil {
		done, err = e.Workouts.ToggleCompletionOn(*day, exercise)
	} else {
		done, err = e.Workouts.ToggleCompletion(exercise)
	}
	if err != nil {
		return nil, err
	}
	return &ToggleResult{Exercise: exercise, Completed: done, Workout: e.Workouts.Snapshot()}, nil
}

func (e Engines) WorkoutHistory(_ context.Context, days int) ([]workout.DaySummary, error) {
	return e.Workouts.History(days), nil
}

func (e Engines) Steps(_ context.Context) (*steps.Snapshot, error) {
	snap := e.StepCount.Snapshot()
	return &snap, nil
}

func (e Engines) SetStepGoal(_ context.Context, goal int) (*steps.Snapshot, error) {
	if err := e.StepCount.SetGoal(goal); err != nil {
		return nil, err
	}
	snap := e.StepCount.Snapshot()
	return &snap, nil
}

func (e Engines) StepHistory(_ context.Context, days int) ([]steps.DayTotal, error) {
	return e.StepCount.History(days), nil
}
