package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

const defaultHistoryDays = 7

var toolGetTodayWorkout = mcp.NewTool("get_today_workout",
	mcp.WithDescription("Today's rotation day (1-6, or 0 for the rest day) with its exercises, which ones are done, progress percentage and the current streak."),
)

var toolToggleExercise = mcp.NewTool("toggle_exercise",
	mcp.WithDescription("Mark an exercise done, or undo it if it already is. Applies to today's rotation day unless a day is given."),
	mcp.WithString("exercise", mcp.Required(), mcp.Description("Exercise name exactly as listed in the plan")),
	mcp.WithNumber("day", mcp.Description("Rotation day 1-6. Defaults to today's day.")),
)

var toolGetWorkoutHistory = mcp.NewTool("get_workout_history",
	mcp.WithDescription("Completed and total exercise counts per date, oldest first, ending today."),
	mcp.WithNumber("days", mcp.Description("Number of dates to return. Defaults to 7.")),
)

var toolGetSteps = mcp.NewTool("get_steps",
	mcp.WithDescription("Today's step count, the daily goal, progress percentage and whether a pedometer is available."),
)

var toolSetStepGoal = mcp.NewTool("set_step_goal",
	mcp.WithDescription("Change the daily step goal."),
	mcp.WithNumber("goal", mcp.Required(), mcp.Description("New goal, a positive number of steps")),
)

var toolGetStepHistory = mcp.NewTool("get_step_history",
	mcp.WithDescription("Daily step totals, oldest first, ending with today's running total."),
	mcp.WithNumber("days", mcp.Description("Number of dates to return. Defaults to 7.")),
)

func (h *handlers) getTodayWorkout(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := h.ds.WorkoutToday(ctx)
	if err != nil {
		h.log.Error("mcp get_today_workout", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	return jsonResult(snap)
}

func (h *handlers) toggleExercise(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	exercise, err := req.RequireString("exercise")
	if err != nil || exercise == "" {
		return mcp.NewToolResultError("exercise parameter is required"), nil
	}

	var day *int
	if _, ok := req.GetArguments()["day"]; ok {
		d := req.GetInt("day", 0)
		day = &d
	}

	result, err := h.ds.ToggleExercise(ctx, exercise, day)
	if err != nil {
		h.log.Error("mcp toggle_exercise", "error", err)
		return mcp.NewToolResultError("toggle failed: " + err.Error()), nil
	}
	return jsonResult(result)
}

func (h *handlers) getWorkoutHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	days := req.GetInt("days", defaultHistoryDays)
	if days <= 0 {
		return mcp.NewToolResultError("days must be positive"), nil
	}

	hist, err := h.ds.WorkoutHistory(ctx, days)
	if err != nil {
		h.log.Error("mcp get_workout_history", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	return jsonResult(hist)
}

func (h *handlers) getSteps(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := h.ds.Steps(ctx)
	if err != nil {
		h.log.Error("mcp get_steps", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	return jsonResult(snap)
}

func (h *handlers) setStepGoal(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	goal := req.GetInt("goal", 0)
	if goal <= 0 {
		return mcp.NewToolResultError("goal must be a positive number"), nil
	}

	snap, err := h.ds.SetStepGoal(ctx, goal)
	if err != nil {
		h.log.Error("mcp set_step_goal", "error", err)
		return mcp.NewToolResultError("update failed: " + err.Error()), nil
	}
	return jsonResult(snap)
}

func (h *handlers) getStepHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	days := req.GetInt("days", defaultHistoryDays)
	if days <= 0 {
		return mcp.NewToolResultError("days must be positive"), nil
	}

	hist, err := h.ds.StepHistory(ctx, days)
	if err != nil {
		h.log.Error("mcp get_step_history", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	return jsonResult(hist)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	result, err := mcp.NewToolResultJSON(v)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}
