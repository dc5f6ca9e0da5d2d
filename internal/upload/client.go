package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/claude/fitcycle/internal/models"
)

const sendAttempts = 3

// errRejected marks a response the server will keep refusing, so retrying
// is pointless.
var errRejected = errors.New("rejected by server")

// IngestResult is the server's answer to an HAE payload.
type IngestResult struct {
	Dates   int `json:"dates"`
	Skipped int `json:"skipped"`
}

// ReadingsResult is the server's answer to pushed pedometer readings.
type ReadingsResult struct {
	Accepted    int `json:"accepted"`
	Subscribers int `json:"subscribers"`
}

// Client sends sensor data to the fitcycle server over HTTP.
type Client struct {
	serverURL  string
	apiKey     string
	httpClient *http.Client
	backoff    time.Duration
}

// NewClient creates a new HTTP client for the fitcycle server's sensor
// endpoints.
func NewClient(serverURL, apiKey string) *Client {
	return &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		apiKey:    apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		backoff: time.Second,
	}
}

// SendReadings pushes cumulative pedometer counts, oldest first.
func (c *Client) SendReadings(ctx context.Context, counts []int64) (*ReadingsResult, error) {
	var out ReadingsResult
	if err := c.post(ctx, "/api/v1/sensor/readings", map[string][]int64{"counts": counts}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendTotal reports the platform's step total for a date (YYYY-MM-DD).
func (c *Client) SendTotal(ctx context.Context, date string, steps int64) error {
	return c.post(ctx, "/api/v1/sensor/total", map[string]any{"date": date, "steps": steps}, nil)
}

// SetAvailability tells the server whether the pedometer can be used.
func (c *Client) SetAvailability(ctx context.Context, available bool) error {
	return c.post(ctx, "/api/v1/sensor/availability", map[string]bool{"available": available}, nil)
}

// SendPayload POSTs an HAEPayload to the server's ingest endpoint.
func (c *Client) SendPayload(ctx context.Context, payload *models.HAEPayload) (*IngestResult, error) {
	var out IngestResult
	if err := c.post(ctx, "/api/v1/sensor/hae", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// post sends in as JSON and decodes the reply into out when it is non-nil.
// Network errors and 5xx responses are retried up to three times with
// exponential backoff; 4xx responses fail at once.
func (c *Client) post(ctx context.Context, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := range sendAttempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff << uint(attempt-1)):
			}
		}

		body, err := c.send(ctx, path, data)
		if errors.Is(err, errRejected) {
			return err
		}
		if err != nil {
			lastErr = err
			continue
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decoding %s response: %w", path, err)
		}
		return nil
	}

	return fmt.Errorf("after %d attempts: %w", sendAttempts, lastErr)
}

func (c *Client) send(ctx context.Context, path string, data []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("%s %w (status %d): %s", path, errRejected, resp.StatusCode, bytes.TrimSpace(body))
	default:
		return nil, fmt.Errorf("%s failed (status %d): %s", path, resp.StatusCode, bytes.TrimSpace(body))
	}
}
