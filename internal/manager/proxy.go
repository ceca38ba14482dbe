// internal/manager/proxy.go
package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ideworker/internal/domain"
	"ideworker/internal/metrics"

	"github.com/sourcegraph/jsonrpc2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// proxy is the IDE-side handle on a worker. It stays bound to the worker
// process it was created for; once that process is gone every call fails
// with domain.ErrWorkerClosed.
type proxy struct {
	w           *workerProcess
	callTimeout time.Duration
	tracer      trace.Tracer
}

func (p *proxy) Plugin() string { return p.w.plugin }
func (p *proxy) PID() int       { return p.w.pid }

func (p *proxy) conn(ctx context.Context) (*jsonrpc2.Conn, error) {
	if err := p.w.wait(ctx); err != nil {
		return nil, err
	}
	select {
	case <-p.w.done:
		return nil, p.w.err
	default:
	}
	return p.w.conn, nil
}

// Call invokes method on the worker and decodes the reply into result.
func (p *proxy) Call(ctx context.Context, method string, params, result any) error {
	if _, ok := ctx.Deadline(); !ok && p.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.callTimeout)
		defer cancel()
	}

	ctx, span := p.tracer.Start(ctx, "proxy.Call", trace.WithAttributes(
		attribute.String("plugin", p.w.plugin),
		attribute.Int("pid", p.w.pid),
		attribute.String("rpc.method", method),
	))
	defer span.End()

	err := p.call(ctx, method, params, result)
	if err != nil {
		metrics.ProxyCallsTotal.WithLabelValues(p.w.plugin, "failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "worker call failed")
		return err
	}
	metrics.ProxyCallsTotal.WithLabelValues(p.w.plugin, "success").Inc()
	return nil
}

func (p *proxy) call(ctx context.Context, method string, params, result any) error {
	conn, err := p.conn(ctx)
	if err != nil {
		return err
	}
	if err := conn.Call(ctx, method, params, result); err != nil {
		if errors.Is(err, jsonrpc2.ErrClosed) {
			return fmt.Errorf("%w: %s", domain.ErrWorkerClosed, p.w.plugin)
		}
		return fmt.Errorf("call %s on worker %s: %w", method, p.w.plugin, err)
	}
	return nil
}

// Notify sends a one-way message to the worker.
func (p *proxy) Notify(ctx context.Context, method string, params any) error {
	conn, err := p.conn(ctx)
	if err != nil {
		return err
	}
	if err := conn.Notify(ctx, method, params); err != nil {
		if errors.Is(err, jsonrpc2.ErrClosed) {
			return fmt.Errorf("%w: %s", domain.ErrWorkerClosed, p.w.plugin)
		}
		return fmt.Errorf("notify %s on worker %s: %w", method, p.w.plugin, err)
	}
	return nil
}
