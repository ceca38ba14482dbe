// internal/usecase/worker_service.go
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"ideworker/internal/binding"
	"ideworker/internal/domain"
	"ideworker/internal/ipc"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// WorkerService is the control-plane view of a worker pool.
type WorkerService struct {
	pool      domain.WorkerPool
	directory domain.WorkerDirectory
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewWorkerService creates a new WorkerService. directory may be nil.
func NewWorkerService(pool domain.WorkerPool, directory domain.WorkerDirectory, logger *slog.Logger) *WorkerService {
	return &WorkerService{
		pool:      pool,
		directory: directory,
		logger:    logger.With("component", "worker-service"),
		tracer:    otel.Tracer("ide-worker-usecase"),
	}
}

// Get returns the worker registered for plugin.
func (s *WorkerService) Get(ctx context.Context, plugin string) (domain.WorkerInfo, error) {
	_, span := s.tracer.Start(ctx, "service.Get", trace.WithAttributes(attribute.String("plugin", plugin)))
	defer span.End()

	info, ok := s.pool.Worker(plugin)
	if !ok {
		return domain.WorkerInfo{}, fmt.Errorf("%w: %s", domain.ErrWorkerNotFound, plugin)
	}
	return info, nil
}

// List returns every registered worker.
func (s *WorkerService) List(ctx context.Context) []domain.WorkerInfo {
	_, span := s.tracer.Start(ctx, "service.List")
	defer span.End()

	infos := s.pool.Workers()
	span.SetAttributes(attribute.Int("workers", len(infos)))
	return infos
}

// Spawn returns the worker for plugin, starting it if needed, once it is
// connected.
func (s *WorkerService) Spawn(ctx context.Context, plugin string) (domain.WorkerInfo, error) {
	ctx, span := s.tracer.Start(ctx, "service.Spawn", trace.WithAttributes(attribute.String("plugin", plugin)))
	defer span.End()

	p, err := s.pool.GetWorker(ctx, plugin)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get worker")
		return domain.WorkerInfo{}, err
	}
	if info, ok := s.pool.Worker(plugin); ok && info.PID == p.PID() {
		return info, nil
	}
	// Gone again already; report what the proxy knows.
	return domain.WorkerInfo{Plugin: p.Plugin(), PID: p.PID(), State: domain.WorkerStateClosed}, nil
}

// Call invokes method on the worker for plugin, spawning it if needed.
func (s *WorkerService) Call(ctx context.Context, plugin, method string, params json.RawMessage) (json.RawMessage, error) {
	ctx, span := s.tracer.Start(ctx, "service.Call", trace.WithAttributes(
		attribute.String("plugin", plugin),
		attribute.String("rpc.method", method),
	))
	defer span.End()

	p, err := s.pool.GetWorker(ctx, plugin)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get worker")
		return nil, err
	}

	var args any
	if len(params) > 0 {
		args = params
	}
	var result json.RawMessage
	if err := p.Call(ctx, method, args, &result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "worker call failed")
		return nil, err
	}
	return result, nil
}

// Ping checks that the worker for plugin answers.
func (s *WorkerService) Ping(ctx context.Context, plugin string) (ipc.PingResult, error) {
	var res ipc.PingResult
	p, err := s.pool.GetWorker(ctx, plugin)
	if err != nil {
		return res, err
	}
	err = p.Call(ctx, ipc.MethodPing, nil, &res)
	return res, err
}

// Evict terminates the worker for plugin.
func (s *WorkerService) Evict(ctx context.Context, plugin string) error {
	_, span := s.tracer.Start(ctx, "service.Evict", trace.WithAttributes(attribute.String("plugin", plugin)))
	defer span.End()

	if !s.pool.Evict(plugin) {
		return fmt.Errorf("%w: %s", domain.ErrWorkerNotFound, plugin)
	}
	s.logger.Info("worker evicted on request", "plugin", plugin)
	return nil
}

// ErrStatusUnsupported is returned by WaitState for pools without live status.
var ErrStatusUnsupported = errors.New("worker pool does not report live status")

// statusSource is implemented by pools that expose a live status object per
// plugin.
type statusSource interface {
	Status(plugin string) *binding.Object
}

// WaitState blocks until the worker for plugin reaches want and returns its
// pid, or fails when ctx is done. It does not spawn anything.
func (s *WorkerService) WaitState(ctx context.Context, plugin string, want domain.WorkerState) (int, error) {
	ctx, span := s.tracer.Start(ctx, "service.WaitState", trace.WithAttributes(
		attribute.String("plugin", plugin),
		attribute.String("state", string(want)),
	))
	defer span.End()

	src, ok := s.pool.(statusSource)
	if !ok {
		return 0, ErrStatusUnsupported
	}
	status := src.Status(plugin)

	changed := make(chan struct{}, 1)
	sub, err := status.Subscribe(domain.StatusPropState, func(any) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return 0, err
	}
	defer sub.Close()

	for {
		state, _ := status.Get(domain.StatusPropState)
		if state == want {
			pid, _ := status.Get(domain.StatusPropPID)
			n, _ := pid.(int)
			return n, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			span.RecordError(ctx.Err())
			span.SetStatus(codes.Error, "state not reached")
			return 0, fmt.Errorf("worker %s did not reach %s: %w", plugin, want, ctx.Err())
		}
	}
}

// globalLister is implemented by directories shared between managers.
type globalLister interface {
	ListAll(ctx context.Context) ([]domain.WorkerInfo, error)
}

// Published returns what the worker directory currently holds, across every
// manager when the directory is shared.
func (s *WorkerService) Published(ctx context.Context) ([]domain.WorkerInfo, error) {
	if s.directory == nil {
		return nil, nil
	}
	ctx, span := s.tracer.Start(ctx, "service.Published")
	defer span.End()

	list := s.directory.List
	if g, ok := s.directory.(globalLister); ok {
		list = g.ListAll
	}
	infos, err := list(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list worker directory")
	}
	return infos, err
}
