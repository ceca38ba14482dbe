package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"ideworker/internal/domain"

	"github.com/stretchr/testify/require"
)

func TestControlClientRoundTrips(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/workers/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/workers/":
			_, _ = w.Write([]byte(`[{"plugin":"clang","pid":7,"state":"connected"}]`))
		case r.Method == http.MethodPost && r.URL.Path == "/workers/clang":
			_, _ = w.Write([]byte(`{"plugin":"clang","pid":7,"state":"connected"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/workers/clang/call":
			var body map[string]json.RawMessage
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			_, _ = w.Write([]byte(`{"plugin":"clang","result":` + string(body["params"]) + `}`))
		case r.Method == http.MethodGet && r.URL.Path == "/workers/clang/wait":
			require.Equal(t, "connected", r.URL.Query().Get("state"))
			require.Equal(t, "1500", r.URL.Query().Get("timeout_ms"))
			_, _ = w.Write([]byte(`{"plugin":"clang","state":"connected","pid":7}`))
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"worker not found"}`))
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewControlClient(srv.URL, 0, 0)
	ctx := context.Background()

	infos, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)

	info, err := c.Spawn(ctx, "clang")
	require.NoError(t, err)
	require.Equal(t, 7, info.PID)

	out, err := c.Call(ctx, "clang", "echo/echo", json.RawMessage(`[1,2]`))
	require.NoError(t, err)
	require.JSONEq(t, `[1,2]`, string(out))

	pid, err := c.Wait(ctx, "clang", domain.WorkerStateConnected, 1500*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 7, pid)

	require.NoError(t, c.Evict(ctx, "clang"))

	_, err = c.Get(ctx, "missing")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusNotFound, statusErr.Code)
	require.Equal(t, "worker not found", statusErr.Message)
}

func TestControlClientRetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	_, err := NewControlClient(srv.URL, 3, time.Millisecond).List(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
}

func TestControlClientGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewControlClient(srv.URL, 2, time.Millisecond).List(context.Background())
	require.Error(t, err)
	require.Equal(t, int32(3), calls.Load())

	calls.Store(0)
	notRetried := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer notRetried.Close()
	_, err = NewControlClient(notRetried.URL, 2, time.Millisecond).List(context.Background())
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestNewControlClientAddsScheme(t *testing.T) {
	c := NewControlClient("localhost:8080/", 0, 0)
	require.Equal(t, "http://localhost:8080", c.baseURL)
}
