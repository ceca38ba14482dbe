// internal/worker/server.go
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"ideworker/internal/ipc"

	"github.com/sourcegraph/jsonrpc2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Server is the worker side of the connection. It dials the manager and
// answers requests on behalf of a single plugin.
type Server struct {
	plugin   string
	handler  Plugin
	logger   *slog.Logger
	tracer   trace.Tracer
	quit     chan struct{}
	quitOnce sync.Once
}

// NewServer creates a worker server for the named plugin.
func NewServer(plugin string, handler Plugin, logger *slog.Logger) *Server {
	return &Server{
		plugin:  plugin,
		handler: handler,
		logger:  logger.With("component", "worker-server", "plugin", plugin),
		tracer:  otel.Tracer("ide-worker"),
		quit:    make(chan struct{}),
	}
}

// Serve connects to the manager listening on address and serves until the
// manager disconnects, asks the worker to quit, or ctx is done.
func (s *Server) Serve(ctx context.Context, address string) error {
	addr, err := ipc.ParseAddress(address)
	if err != nil {
		return err
	}
	conn, err := ipc.Dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("failed to connect to manager at %s: %w", address, err)
	}
	return s.ServeConn(ctx, conn)
}

// ServeConn serves on an already established connection.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rpc := ipc.NewConn(ctx, conn, jsonrpc2.AsyncHandler(jsonrpc2.HandlerWithError(s.handle)))
	defer rpc.Close()

	s.logger.Info("connected to manager")

	select {
	case <-rpc.DisconnectNotify():
		s.logger.Info("manager closed the connection")
		return nil
	case <-s.quit:
		s.logger.Info("manager asked worker to quit")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Quit stops ServeConn as if the manager had sent worker/quit.
func (s *Server) Quit() {
	s.quitOnce.Do(func() { close(s.quit) })
}

func (s *Server) handle(ctx context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	ctx, span := s.tracer.Start(ctx, "worker.Handle", trace.WithAttributes(
		attribute.String("plugin", s.plugin),
		attribute.String("rpc.method", req.Method),
	))
	defer span.End()

	switch req.Method {
	case ipc.MethodPing:
		return ipc.PingResult{Plugin: s.plugin, PID: os.Getpid()}, nil
	case ipc.MethodQuit:
		s.Quit()
		return nil, nil
	}

	var params json.RawMessage
	if req.Params != nil {
		params = *req.Params
	}

	result, err := s.handler.Handle(ctx, req.Method, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "plugin request failed")
		if errors.Is(err, ErrMethodNotFound) {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: fmt.Sprintf("%s: %s", err, req.Method)}
		}
		s.logger.Warn("plugin request failed", "method", req.Method, "error", err)
		return nil, err
	}
	return result, nil
}
