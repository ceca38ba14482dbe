package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"ideworker/internal/binding"
	"ideworker/internal/domain"
	"ideworker/internal/infra/memory"
	"ideworker/internal/usecase"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/require"
)

type stubProxy struct {
	plugin string
	pid    int
}

func (p *stubProxy) Plugin() string { return p.plugin }
func (p *stubProxy) PID() int       { return p.pid }
func (p *stubProxy) Notify(context.Context, string, any) error { return nil }

func (p *stubProxy) Call(_ context.Context, method string, params, result any) error {
	if method != "echo/echo" {
		return fmt.Errorf("call %s: %w", method, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not found"})
	}
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, result)
}

type stubPool struct {
	mu       sync.Mutex
	workers  map[string]domain.WorkerInfo
	spawnErr error
}

func (p *stubPool) GetWorker(_ context.Context, plugin string) (domain.WorkerProxy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.spawnErr != nil {
		return nil, p.spawnErr
	}
	info, ok := p.workers[plugin]
	if !ok {
		info = domain.WorkerInfo{Plugin: plugin, PID: 1000 + len(p.workers), State: domain.WorkerStateConnected}
		p.workers[plugin] = info
	}
	return &stubProxy{plugin: plugin, pid: info.PID}, nil
}

func (p *stubPool) Worker(plugin string) (domain.WorkerInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.workers[plugin]
	return info, ok
}

func (p *stubPool) Workers() []domain.WorkerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	var infos []domain.WorkerInfo
	for _, info := range p.workers {
		infos = append(infos, info)
	}
	return infos
}

func (p *stubPool) Evict(plugin string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.workers[plugin]
	delete(p.workers, plugin)
	return ok
}

// Status reports a fixed snapshot: connected for registered workers.
func (p *stubPool) Status(plugin string) *binding.Object {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, pid := domain.WorkerState(""), 0
	if info, ok := p.workers[plugin]; ok {
		state, pid = info.State, info.PID
	}
	return binding.NewObject(map[string]any{
		domain.StatusPropState: state,
		domain.StatusPropPID:   pid,
	})
}

func newTestServer(t *testing.T, pool *stubPool) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := memory.NewWorkerDirectory()
	require.NoError(t, dir.Publish(context.Background(), domain.WorkerInfo{Plugin: "published", PID: 9, State: domain.WorkerStateConnected}))

	mux := http.NewServeMux()
	NewWorkerHandler(usecase.NewWorkerService(pool, dir, logger), logger).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestWorkerLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t, &stubPool{workers: map[string]domain.WorkerInfo{}})

	resp, _ := do(t, http.MethodGet, srv.URL+"/workers/clang", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := do(t, http.MethodPost, srv.URL+"/workers/clang", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var spawned WorkerResponse
	require.NoError(t, json.Unmarshal(body, &spawned))
	require.Equal(t, "clang", spawned.Plugin)
	require.Equal(t, "connected", spawned.State)

	resp, body = do(t, http.MethodGet, srv.URL+"/workers/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []WorkerResponse
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/workers/clang", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, http.MethodDelete, srv.URL+"/workers/clang", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCallWorkerOverHTTP(t *testing.T) {
	srv := newTestServer(t, &stubPool{workers: map[string]domain.WorkerInfo{}})

	resp, body := do(t, http.MethodPost, srv.URL+"/workers/clang/call", map[string]any{
		"method": "echo/echo",
		"params": map[string]int{"line": 4},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out CallResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.JSONEq(t, `{"line":4}`, string(out.Result))

	resp, body = do(t, http.MethodPost, srv.URL+"/workers/clang/call", map[string]any{"params": 1})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, string(body), "Method")

	resp, _ = do(t, http.MethodPost, srv.URL+"/workers/clang/call", map[string]any{"method": "clang/complete"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestHTTPRejectsBadRequests(t *testing.T) {
	srv := newTestServer(t, &stubPool{workers: map[string]domain.WorkerInfo{}})

	resp, _ := do(t, http.MethodGet, srv.URL+"/workers/bad%20name", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPut, srv.URL+"/workers/clang", nil)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/workers/clang/unknown", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSpawnErrorsMapToStatusCodes(t *testing.T) {
	for _, tc := range []struct {
		err  error
		code int
	}{
		{domain.ErrSpawn, http.StatusBadGateway},
		{domain.ErrSpawnTimeout, http.StatusGatewayTimeout},
		{domain.ErrServerUnavailable, http.StatusServiceUnavailable},
		{domain.ErrInvalidPlugin, http.StatusBadRequest},
	} {
		srv := newTestServer(t, &stubPool{workers: map[string]domain.WorkerInfo{}, spawnErr: tc.err})
		resp, _ := do(t, http.MethodPost, srv.URL+"/workers/clang", nil)
		require.Equal(t, tc.code, resp.StatusCode, tc.err.Error())
	}
}

func TestDirectoryAndMetricsRoutes(t *testing.T) {
	srv := newTestServer(t, &stubPool{workers: map[string]domain.WorkerInfo{}})

	resp, body := do(t, http.MethodGet, srv.URL+"/directory", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "published")

	do(t, http.MethodGet, srv.URL+"/workers/", nil)
	resp, body = do(t, http.MethodGet, srv.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "ide_worker_http_requests_total")
}

func TestRouteLabel(t *testing.T) {
	require.Equal(t, "/workers/", routeLabel("/workers/"))
	require.Equal(t, "/workers/{plugin}", routeLabel("/workers/clang"))
	require.Equal(t, "/workers/{plugin}/call", routeLabel("/workers/clang/call"))
	require.Equal(t, "/directory", routeLabel("/directory"))
}

func TestWaitWorkerOverHTTP(t *testing.T) {
	pool := &stubPool{workers: map[string]domain.WorkerInfo{
		"clang": {Plugin: "clang", PID: 1000, State: domain.WorkerStateConnected},
	}}
	srv := newTestServer(t, pool)

	resp, body := do(t, http.MethodGet, srv.URL+"/workers/clang/wait?state=connected", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out WaitResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.Equal(t, WaitResponse{Plugin: "clang", State: "connected", PID: 1000}, out)

	resp, _ = do(t, http.MethodGet, srv.URL+"/workers/jedi/wait?timeout_ms=20", nil)
	require.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/workers/clang/wait?state=running", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/workers/clang/wait?timeout_ms=soon", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
