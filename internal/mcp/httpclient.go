package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/claude/fitcycle/internal/steps"
	"github.com/claude/fitcycle/internal/workout"
)

// HTTPClient implements DataSource by calling the fitcycle REST API.
// Used for remote MCP mode where the binary runs locally (stdio) but
// the engines live on the server (accessed over Tailscale).
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// Compile-time check: HTTPClient satisfies DataSource.
var _ DataSource = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTPClient targeting the given base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, params url.Values, in, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("httpclient: encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("httpclient: create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("httpclient: %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("httpclient: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("httpclient: %s returned %d: %s", path, resp.StatusCode, bytes.TrimSpace(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("httpclient: decode %s: %w", path, err)
	}
	return nil
}

func daysParams(days int) url.Values {
	v := url.Values{}
	v.Set("days", strconv.Itoa(days))
	return v
}

func (c *HTTPClient) WorkoutToday(ctx context.Context) (*workout.Snapshot, error) {
	var snap workout.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/v1/workout/today", nil, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *HTTPClient) ToggleExercise(ctx context.Context, exercise string, day *int) (*ToggleResult, error) {
	in := map[string]any{"exercise": exercise}
	if day != nil {
		in["day"] = *day
	}
	var result ToggleResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/workout/toggle", nil, in, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) WorkoutHistory(ctx context.Context, days int) ([]workout.DaySummary, error) {
	var hist []workout.DaySummary
	if err := c.do(ctx, http.MethodGet, "/api/v1/workout/history", daysParams(days), nil, &hist); err != nil {
		return nil, err
	}
	return hist, nil
}

func (c *HTTPClient) Steps(ctx context.Context) (*steps.Snapshot, error) {
	var snap steps.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/v1/steps", nil, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *HTTPClient) SetStepGoal(ctx context.Context, goal int) (*steps.Snapshot, error) {
	var snap steps.Snapshot
	if err := c.do(ctx, http.MethodPut, "/api/v1/steps/goal", nil, map[string]int{"goal": goal}, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *HTTPClient) StepHistory(ctx context.Context, days int) ([]steps.DayTotal, error) {
	var hist []steps.DayTotal
	if err := c.do(ctx, http.MethodGet, "/api/v1/steps/history", daysParams(days), nil, &hist); err != nil {
		return nil, err
	}
	return hist, nil
}
