package upload

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/claude/fitcycle/internal/models"
)

// HAEClient connects to the Health Auto Export TCP server (JSON-RPC 2.0).
// Each method call opens a new TCP connection; the HAE server closes the
// socket after sending the response.
type HAEClient struct {
	host      string
	port      int
	timeout   time.Duration
	retryWait time.Duration
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *jsonRPCError   `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewHAEClient creates a new client for the HAE TCP server.
func NewHAEClient(host string, port int) *HAEClient {
	return &HAEClient{
		host:      host,
		port:      port,
		timeout:   120 * time.Second,
		retryWait: 3 * time.Second,
	}
}

// QueryStepCount asks for daily aggregated step counts in [start, end).
func (c *HAEClient) QueryStepCount(start, end time.Time) (*models.HAEPayload, error) {
	raw, err := c.callTool("health_metrics", map[string]any{
		"start":     start.Format(models.HAETimeLayout),
		"end":       end.Format(models.HAETimeLayout),
		"metrics":   models.StepCountMetric,
		"aggregate": true,
	})
	if err != nil {
		return nil, err
	}
	var payload models.HAEPayload
	if len(raw) == 0 || string(raw) == "null" {
		return &payload, nil
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decoding step counts: %w", err)
	}
	return &payload, nil
}

// callTool sends a JSON-RPC callTool request and returns the result.
func (c *HAEClient) callTool(toolName string, args map[string]any) (json.RawMessage, error) {
	req := jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "callTool",
		Params: callToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}

	reqData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	addr := c.addr()
	conn, err := net.DialTimeout("tcp", addr, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close() //nolint:errcheck

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("setting deadline: %w", err)
	}

	// Newline-delimited framing.
	reqData = append(reqData, '\n')
	if _, err := conn.Write(reqData); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	// The server closes the connection after the response, so read until EOF.
	respData, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if len(respData) == 0 {
		return nil, fmt.Errorf("empty response from %s", addr)
	}

	var resp jsonRPCResponse
	if err := json.Unmarshal(respData, &resp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("HAE error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}

func (c *HAEClient) addr() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

const maxRetries = 3

// waitForServer polls the HAE server until it accepts connections or retries are exhausted.
func (c *HAEClient) waitForServer(log *slog.Logger) bool {
	for i := range 10 {
		conn, err := net.DialTimeout("tcp", c.addr(), 2*time.Second)
		if err == nil {
			conn.Close() //nolint:errcheck
			return true
		}
		log.Info("waiting for HAE server to come back...", "attempt", i+1)
		time.Sleep(c.retryWait)
	}
	return false
}

// QueryStepCountWithRetry wraps QueryStepCount with retry logic for server crashes.
func (c *HAEClient) QueryStepCountWithRetry(start, end time.Time, log *slog.Logger) (*models.HAEPayload, error) {
	var lastErr error
	for attempt := range maxRetries {
		if attempt > 0 {
			log.Info("retrying step query", "attempt", attempt+1)
			if !c.waitForServer(log) {
				return nil, fmt.Errorf("server did not recover after crash")
			}
		}
		payload, err := c.QueryStepCount(start, end)
		if err == nil {
			return payload, nil
		}
		lastErr = err
		log.Warn("query failed, will retry", "error", err)
	}
	return nil, lastErr
}
