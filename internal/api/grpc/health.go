// internal/api/grpc/health.go
package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"ideworker/internal/domain"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServicePrefix prefixes the health service name of every plugin.
const ServicePrefix = "ide.worker."

// ServiceName is the health service name reported for plugin.
func ServiceName(plugin string) string {
	return ServicePrefix + plugin
}

// HealthReporter publishes worker states through the standard gRPC health
// service. A plugin is SERVING while its worker is connected.
type HealthReporter struct {
	srv    *health.Server
	logger *slog.Logger
}

// NewHealthReporter creates a reporter whose overall status is SERVING.
func NewHealthReporter(logger *slog.Logger) *HealthReporter {
	srv := health.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return &HealthReporter{srv: srv, logger: logger.With("component", "grpc-health")}
}

func (h *HealthReporter) WorkerChanged(_ context.Context, ev domain.WorkerEvent) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ev.Info.State == domain.WorkerStateConnected {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus(ServiceName(ev.Info.Plugin), status)
	h.logger.Debug("worker health changed", "plugin", ev.Info.Plugin, "status", status.String())
}

// Shutdown marks every service NOT_SERVING.
func (h *HealthReporter) Shutdown() {
	h.srv.Shutdown()
}

// NewServer creates a gRPC server exposing the reporter's health service.
func NewServer(h *HealthReporter) *grpc.Server {
	s := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthpb.RegisterHealthServer(s, h.srv)
	return s
}

// Serve runs s on addr until it is stopped.
func Serve(s *grpc.Server, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// CheckWorker asks the health service at addr about plugin.
func CheckWorker(ctx context.Context, addr, plugin string, opts ...grpc.DialOption) (healthpb.HealthCheckResponse_ServingStatus, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, opts...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()

	service := ""
	if plugin != "" {
		service = ServiceName(plugin)
	}
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}
