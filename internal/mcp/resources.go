package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

func (h *handlers) dailySummary(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	today, err := h.ds.WorkoutToday(ctx)
	if err != nil {
		return nil, err
	}

	summary := map[string]any{
		"date":    today.Date,
		"workout": today,
	}
	stepSnap, err := h.ds.Steps(ctx)
	if err != nil {
		h.log.Warn("daily_summary: steps query failed", "error", err)
	} else {
		summary["steps"] = stepSnap
	}

	data, err := json.Marshal(summary)
	if err != nil {
		return nil, err
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
