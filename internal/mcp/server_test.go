package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/claude/fitcycle/internal/catalog"
	"github.com/claude/fitcycle/internal/clock/clocktest"
	"github.com/claude/fitcycle/internal/steps"
	"github.com/claude/fitcycle/internal/store"
	"github.com/claude/fitcycle/internal/workout"
)

func newTestHandlers(t *testing.T) (*handlers, *steps.Engine) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clocktest.NewFake(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC))
	sched := clocktest.NewScheduler()
	st := store.NewMemory()

	cat, err := catalog.Default()
	if err != nil {
		t.Fatal(err)
	}
	we := workout.New(workout.Deps{Store: st, Clock: clk, Scheduler: sched, Catalog: cat, Logger: log}, workout.Config{})
	se := steps.New(steps.Deps{Store: st, Clock: clk, Scheduler: sched, Logger: log}, steps.Config{})
	we.Load(context.Background())
	se.Load(context.Background())
	t.Cleanup(func() {
		we.Close()
		se.Close()
	})
	return &handlers{ds: Engines{Workouts: we, StepCount: se}, log: log}, se
}

func callTool(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatalf("no text content in result")
	return ""
}

// TestNewRegistersTools verifies the server builds with every tool.
func TestNewRegistersTools(t *testing.T) {
	h, _ := newTestHandlers(t)
	s := New(h.ds, "test", h.log)
	if s == nil {
		t.Fatal("New returned nil")
	}
}

// TestToggleExerciseTool verifies toggling through the tool updates today's
// snapshot.
func TestToggleExerciseTool(t *testing.T) {
	h, _ := newTestHandlers(t)
	ctx := context.Background()

	res, err := h.getTodayWorkout(ctx, callTool(nil))
	if err != nil || res.IsError {
		t.Fatalf("get_today_workout failed: %v", err)
	}
	var snap workout.Snapshot
	if err := json.Unmarshal([]byte(resultText(t, res)), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Day.DayIndex != 1 || len(snap.Day.Exercises) == 0 {
		t.Fatalf("unexpected day: %+v", snap.Day)
	}

	name := snap.Day.Exercises[0].Name
	res, err = h.toggleExercise(ctx, callTool(map[string]any{"exercise": name}))
	if err != nil || res.IsError {
		t.Fatalf("toggle_exercise failed: %v %s", err, resultText(t, res))
	}
	var toggled ToggleResult
	if err := json.Unmarshal([]byte(resultText(t, res)), &toggled); err != nil {
		t.Fatal(err)
	}
	if !toggled.Completed || toggled.Workout.Stats.Completed != 1 {
		t.Errorf("toggle result = %+v", toggled)
	}
}

// TestToolInputErrors verifies bad arguments come back as tool errors, not
// protocol errors.
func TestToolInputErrors(t *testing.T) {
	h, _ := newTestHandlers(t)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() (*mcp.CallToolResult, error)
	}{
		{"missing exercise", func() (*mcp.CallToolResult, error) {
			return h.toggleExercise(ctx, callTool(map[string]any{}))
		}},
		{"invalid day", func() (*mcp.CallToolResult, error) {
			return h.toggleExercise(ctx, callTool(map[string]any{"exercise": "Plank", "day": 7}))
		}},
		{"zero goal", func() (*mcp.CallToolResult, error) {
			return h.setStepGoal(ctx, callTool(map[string]any{"goal": 0}))
		}},
		{"negative days", func() (*mcp.CallToolResult, error) {
			return h.getStepHistory(ctx, callTool(map[string]any{"days": -2}))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.call()
			if err != nil {
				t.Fatalf("unexpected protocol error: %v", err)
			}
			if !res.IsError {
				t.Error("expected tool error result")
			}
		})
	}
}

// TestSetStepGoalTool verifies the goal tool updates the engine.
func TestSetStepGoalTool(t *testing.T) {
	h, se := newTestHandlers(t)
	res, err := h.setStepGoal(context.Background(), callTool(map[string]any{"goal": 6500}))
	if err != nil || res.IsError {
		t.Fatalf("set_step_goal failed: %v", err)
	}
	if se.Goal() != 6500 {
		t.Errorf("goal = %d, want 6500", se.Goal())
	}
}

// TestHistoryToolsDefault verifies both history tools default to a week.
func TestHistoryToolsDefault(t *testing.T) {
	h, _ := newTestHandlers(t)
	ctx := context.Background()

	res, err := h.getWorkoutHistory(ctx, callTool(nil))
	if err != nil || res.IsError {
		t.Fatalf("get_workout_history failed: %v", err)
	}
	var wh []workout.DaySummary
	if err := json.Unmarshal([]byte(resultText(t, res)), &wh); err != nil {
		t.Fatal(err)
	}
	if len(wh) != defaultHistoryDays {
		t.Errorf("workout history len = %d, want %d", len(wh), defaultHistoryDays)
	}

	res, err = h.getStepHistory(ctx, callTool(nil))
	if err != nil || res.IsError {
		t.Fatalf("get_step_history failed: %v", err)
	}
	var sh []steps.DayTotal
	if err := json.Unmarshal([]byte(resultText(t, res)), &sh); err != nil {
		t.Fatal(err)
	}
	if len(sh) != defaultHistoryDays {
		t.Errorf("step history len = %d, want %d", len(sh), defaultHistoryDays)
	}
}

// TestDailySummaryResource verifies the summary combines workout and steps.
func TestDailySummaryResource(t *testing.T) {
	h, _ := newTestHandlers(t)
	var req mcp.ReadResourceRequest
	req.Params.URI = "fitcycle://daily_summary"

	contents, err := h.dailySummary(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("content type = %T", contents[0])
	}
	var summary map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text.Text), &summary); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"date", "workout", "steps"} {
		if _, ok := summary[key]; !ok {
			t.Errorf("summary missing %q", key)
		}
	}
}
