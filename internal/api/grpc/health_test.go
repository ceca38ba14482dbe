package grpc

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"ideworker/internal/domain"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func startHealthServer(t *testing.T, h *HealthReporter) grpc.DialOption {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := NewServer(h)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

func TestHealthFollowsWorkerState(t *testing.T) {
	h := NewHealthReporter(slog.New(slog.NewTextHandler(io.Discard, nil)))
	dialer := startHealthServer(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := CheckWorker(ctx, "passthrough:///bufnet", "", dialer)
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, st)

	_, err = CheckWorker(ctx, "passthrough:///bufnet", "clang", dialer)
	require.Equal(t, codes.NotFound, status.Code(err))

	info := domain.WorkerInfo{Plugin: "clang", PID: 10, State: domain.WorkerStateSpawned}
	h.WorkerChanged(ctx, domain.WorkerEvent{Info: info, Reason: "spawned"})
	st, err = CheckWorker(ctx, "passthrough:///bufnet", "clang", dialer)
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, st)

	info.State = domain.WorkerStateConnected
	h.WorkerChanged(ctx, domain.WorkerEvent{Info: info, Reason: "connected"})
	st, err = CheckWorker(ctx, "passthrough:///bufnet", "clang", dialer)
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, st)

	info.State = domain.WorkerStateClosed
	h.WorkerChanged(ctx, domain.WorkerEvent{Info: info, Reason: "evicted"})
	st, err = CheckWorker(ctx, "passthrough:///bufnet", "clang", dialer)
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, st)
}

func TestServiceName(t *testing.T) {
	require.Equal(t, "ide.worker.clang", ServiceName("clang"))
}
