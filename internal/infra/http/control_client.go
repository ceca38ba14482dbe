// internal/infra/http/control_client.go
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ideworker/internal/domain"
	"ideworker/internal/ipc"
)

// StatusError is a non-2xx reply from the control API.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("control api returned %d: %s", e.Code, e.Message)
}

// Retriable reports whether the request may succeed if repeated.
func (e *StatusError) Retriable() bool {
	return e.Code == http.StatusServiceUnavailable || e.Code == http.StatusBadGateway
}

// ControlClient talks to the HTTP API of a running ide-worker serve.
type ControlClient struct {
	baseURL    string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
}

// NewControlClient creates a client for the API at baseURL, retrying
// transient failures up to maxRetries times.
func NewControlClient(baseURL string, maxRetries int, backoff time.Duration) *ControlClient {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &ControlClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: 2 * time.Minute},
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// List returns the workers of the remote manager.
func (c *ControlClient) List(ctx context.Context) ([]domain.WorkerInfo, error) {
	var out []domain.WorkerInfo
	err := c.do(ctx, http.MethodGet, "/workers/", nil, &out)
	return out, err
}

// Get returns one worker.
func (c *ControlClient) Get(ctx context.Context, plugin string) (domain.WorkerInfo, error) {
	var out domain.WorkerInfo
	err := c.do(ctx, http.MethodGet, "/workers/"+url.PathEscape(plugin), nil, &out)
	return out, err
}

// Spawn starts the worker for plugin if needed and waits for it to connect.
func (c *ControlClient) Spawn(ctx context.Context, plugin string) (domain.WorkerInfo, error) {
	var out domain.WorkerInfo
	err := c.do(ctx, http.MethodPost, "/workers/"+url.PathEscape(plugin), nil, &out)
	return out, err
}

// Evict terminates the worker for plugin.
func (c *ControlClient) Evict(ctx context.Context, plugin string) error {
	return c.do(ctx, http.MethodDelete, "/workers/"+url.PathEscape(plugin), nil, nil)
}

// Call invokes method on the worker for plugin and returns the raw result.
func (c *ControlClient) Call(ctx context.Context, plugin, method string, params json.RawMessage) (json.RawMessage, error) {
	body := map[string]any{"method": method}
	if len(params) > 0 {
		body["params"] = params
	}
	var out struct {
		Result json.RawMessage `json:"result"`
	}
	err := c.do(ctx, http.MethodPost, "/workers/"+url.PathEscape(plugin)+"/call", body, &out)
	return out.Result, err
}

// Ping round-trips worker/ping through the remote manager.
func (c *ControlClient) Ping(ctx context.Context, plugin string) (ipc.PingResult, error) {
	var out ipc.PingResult
	err := c.do(ctx, http.MethodGet, "/workers/"+url.PathEscape(plugin)+"/ping", nil, &out)
	return out, err
}

// Wait blocks until the worker for plugin reaches state on the remote
// manager, or timeout passes there. It returns the worker's pid.
func (c *ControlClient) Wait(ctx context.Context, plugin string, state domain.WorkerState, timeout time.Duration) (int, error) {
	q := url.Values{"state": {string(state)}}
	if timeout > 0 {
		q.Set("timeout_ms", strconv.FormatInt(timeout.Milliseconds(), 10))
	}
	var out struct {
		PID int `json:"pid"`
	}
	err := c.do(ctx, http.MethodGet, "/workers/"+url.PathEscape(plugin)+"/wait?"+q.Encode(), nil, &out)
	return out.PID, err
}

// Directory returns the workers published by every manager.
func (c *ControlClient) Directory(ctx context.Context) ([]domain.WorkerInfo, error) {
	var out []domain.WorkerInfo
	err := c.do(ctx, http.MethodGet, "/directory", nil, &out)
	return out, err
}

// do performs the request and retries on timeouts and retriable statuses.
func (c *ControlClient) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	var lastErr error
	for i := 0; i <= c.maxRetries; i++ {
		err := c.doOnce(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err

		var netErr net.Error
		var statusErr *StatusError
		switch {
		case errors.As(err, &netErr) && netErr.Timeout():
			// Retriable
		case errors.As(err, &statusErr) && statusErr.Retriable():
			// Retriable
		default:
			return err
		}

		if i == c.maxRetries {
			break
		}
		select {
		case <-time.After(c.backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("request failed after %d retries: %w", c.maxRetries, lastErr)
}

func (c *ControlClient) doOnce(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		return &StatusError{Code: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
