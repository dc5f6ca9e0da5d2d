// Package mcp exposes the workout and step engines as Model Context
// Protocol tools and resources.
package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// New creates an MCP server with all tools and resources registered.
func New(ds DataSource, version string, log *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer("fitcycle", version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions("fitcycle tracks a six-day workout rotation and a daily step count. Read today's plan, tick off exercises, and check steps against the goal."),
	)

	h := &handlers{ds: ds, log: log}

	// Tools
	s.AddTools(
		server.ServerTool{Tool: toolGetTodayWorkout, Handler: h.getTodayWorkout},
		server.ServerTool{Tool: toolToggleExercise, Handler: h.toggleExercise},
		server.ServerTool{Tool: toolGetWorkoutHistory, Handler: h.getWorkoutHistory},
		server.ServerTool{Tool: toolGetSteps, Handler: h.getSteps},
		server.ServerTool{Tool: toolSetStepGoal, Handler: h.setStepGoal},
		server.ServerTool{Tool: toolGetStepHistory, Handler: h.getStepHistory},
	)

	// Resources
	s.AddResources(
		server.ServerResource{Resource: resDailySummary, Handler: h.dailySummary},
	)

	return s
}

// handlers holds dependencies for MCP tool/resource handlers.
type handlers struct {
	ds  DataSource
	log *slog.Logger
}

var resDailySummary = mcp.NewResource(
	"fitcycle://daily_summary",
	"Daily Summary",
	mcp.WithResourceDescription("Today's rotation day with completed exercises, the streak, and the step count against the goal"),
	mcp.WithMIMEType("application/json"),
)
