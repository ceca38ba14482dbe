// internal/api/http/worker_handler.go
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"ideworker/internal/domain"
	"ideworker/internal/metrics"
	"ideworker/internal/usecase"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sourcegraph/jsonrpc2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// WorkerHandler serves the worker control API.
type WorkerHandler struct {
	service  *usecase.WorkerService
	logger   *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer
}

// NewWorkerHandler creates a new WorkerHandler.
func NewWorkerHandler(service *usecase.WorkerService, logger *slog.Logger) *WorkerHandler {
	validate := validator.New()
	domain.RegisterValidations(validate)

	return &WorkerHandler{
		service:  service,
		logger:   logger.With("component", "worker-handler"),
		validate: validate,
		tracer:   otel.Tracer("ide-worker-api"),
	}
}

type instrumentedResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *instrumentedResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// RegisterRoutes registers the worker routes and /metrics on mux.
func (h *WorkerHandler) RegisterRoutes(mux *http.ServeMux) {
	baseHandler := http.HandlerFunc(h.handleWorkers)

	instrumentedHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := routeLabel(r.URL.Path)

		ctx, span := h.tracer.Start(r.Context(), "HTTP "+r.Method+" "+path, trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		))
		defer span.End()

		r = r.WithContext(ctx)

		iw := &instrumentedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		baseHandler.ServeHTTP(iw, r)

		metrics.HttpRequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(iw.statusCode)).Inc()

		span.SetAttributes(attribute.Int("http.status_code", iw.statusCode))
		if iw.statusCode >= 500 {
			span.SetStatus(codes.Error, "Server Error")
		}
	})

	mux.Handle("/workers/", instrumentedHandler)
	mux.Handle("/directory", instrumentedHandler)
	mux.Handle("/metrics", promhttp.Handler())
}

// routeLabel maps a request path to a low-cardinality metric label.
func routeLabel(p string) string {
	if p == "/directory" {
		return p
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	switch {
	case len(parts) <= 1 || parts[1] == "":
		return "/workers/"
	case len(parts) == 2:
		return "/workers/{plugin}"
	default:
		return "/workers/{plugin}/" + parts[2]
	}
}

// handleWorkers dispatches /workers/ requests.
func (h *WorkerHandler) handleWorkers(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/directory" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.handleDirectory(w, r)
		return
	}

	// e.g. /workers/clang/call -> ["workers", "clang", "call"]
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) < 1 || pathParts[0] != "workers" || len(pathParts) > 3 {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	var plugin, action string
	if len(pathParts) > 1 {
		plugin = pathParts[1]
	}
	if len(pathParts) > 2 {
		action = pathParts[2]
	}

	if plugin != "" {
		if err := h.validate.Var(plugin, "plugin_name"); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid plugin name")
			return
		}
	}

	switch {
	case plugin == "" && r.Method == http.MethodGet:
		h.handleListWorkers(w, r)
	case plugin != "" && action == "" && r.Method == http.MethodGet:
		h.handleGetWorker(w, r, plugin)
	case plugin != "" && action == "" && r.Method == http.MethodPost:
		h.handleSpawnWorker(w, r, plugin)
	case plugin != "" && action == "" && r.Method == http.MethodDelete:
		h.handleEvictWorker(w, r, plugin)
	case plugin != "" && action == "call" && r.Method == http.MethodPost:
		h.handleCallWorker(w, r, plugin)
	case plugin != "" && action == "ping" && r.Method == http.MethodGet:
		h.handlePingWorker(w, r, plugin)
	case plugin != "" && action == "wait" && r.Method == http.MethodGet:
		h.handleWaitWorker(w, r, plugin)
	case plugin != "" && action != "" && action != "call" && action != "ping" && action != "wait":
		writeError(w, http.StatusNotFound, "Not found")
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *WorkerHandler) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	infos := h.service.List(r.Context())
	out := make([]WorkerResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, ToWorkerResponse(info))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *WorkerHandler) handleGetWorker(w http.ResponseWriter, r *http.Request, plugin string) {
	info, err := h.service.Get(r.Context(), plugin)
	if err != nil {
		h.writeServiceError(w, r, plugin, err)
		return
	}
	writeJSON(w, http.StatusOK, ToWorkerResponse(info))
}

func (h *WorkerHandler) handleSpawnWorker(w http.ResponseWriter, r *http.Request, plugin string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.SpawnWorker")
	defer span.End()
	span.SetAttributes(attribute.String("plugin", plugin))

	info, err := h.service.Spawn(ctx, plugin)
	if err != nil {
		span.SetStatus(codes.Error, "Failed to spawn worker")
		span.RecordError(err)
		h.writeServiceError(w, r, plugin, err)
		return
	}
	writeJSON(w, http.StatusOK, ToWorkerResponse(info))
}

func (h *WorkerHandler) handleEvictWorker(w http.ResponseWriter, r *http.Request, plugin string) {
	if err := h.service.Evict(r.Context(), plugin); err != nil {
		h.writeServiceError(w, r, plugin, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *WorkerHandler) handleCallWorker(w http.ResponseWriter, r *http.Request, plugin string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.CallWorker")
	defer span.End()
	span.SetAttributes(attribute.String("plugin", plugin))

	var req CallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "Failed to decode request body")
		span.RecordError(err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.validate.Struct(req); err != nil {
		span.SetStatus(codes.Error, "Validation failed")
		span.RecordError(err)
		var validationErrors []string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, err := range verrs {
				validationErrors = append(validationErrors,
					"Field '"+err.Field()+"' failed on the '"+err.Tag()+"' tag.",
				)
			}
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Details: validationErrors})
		return
	}

	if d := req.Timeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	result, err := h.service.Call(ctx, plugin, req.Method, req.Params)
	if err != nil {
		span.SetStatus(codes.Error, "Worker call failed")
		span.RecordError(err)
		h.writeServiceError(w, r, plugin, err)
		return
	}
	writeJSON(w, http.StatusOK, CallResponse{Plugin: plugin, Method: req.Method, Result: result})
}

func (h *WorkerHandler) handlePingWorker(w http.ResponseWriter, r *http.Request, plugin string) {
	res, err := h.service.Ping(r.Context(), plugin)
	if err != nil {
		h.writeServiceError(w, r, plugin, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *WorkerHandler) handleWaitWorker(w http.ResponseWriter, r *http.Request, plugin string) {
	q := r.URL.Query()
	req := WaitRequest{State: q.Get("state")}
	if req.State == "" {
		req.State = string(domain.WorkerStateConnected)
	}
	if v := q.Get("timeout_ms"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid timeout_ms")
			return
		}
		req.TimeoutMs = n
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid wait request: "+err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), req.Timeout())
	defer cancel()

	pid, err := h.service.WaitState(ctx, plugin, domain.WorkerState(req.State))
	if err != nil {
		h.writeServiceError(w, r, plugin, err)
		return
	}
	writeJSON(w, http.StatusOK, WaitResponse{Plugin: plugin, State: req.State, PID: pid})
}

func (h *WorkerHandler) handleDirectory(w http.ResponseWriter, r *http.Request) {
	infos, err := h.service.Published(r.Context())
	if err != nil {
		h.logger.Error("error listing worker directory", "error", err)
		writeError(w, http.StatusBadGateway, "Worker directory unavailable")
		return
	}
	out := make([]WorkerResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, ToWorkerResponse(info))
	}
	writeJSON(w, http.StatusOK, out)
}

// writeServiceError maps domain errors to status codes.
func (h *WorkerHandler) writeServiceError(w http.ResponseWriter, r *http.Request, plugin string, err error) {
	status := http.StatusInternalServerError
	var rpcErr *jsonrpc2.Error
	switch {
	case errors.As(err, &rpcErr):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrWorkerNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidPlugin):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrSpawnTimeout), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrSpawn), errors.Is(err, domain.ErrWorkerClosed):
		status = http.StatusBadGateway
	case errors.Is(err, domain.ErrServerUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, usecase.ErrStatusUnsupported):
		status = http.StatusNotImplemented
	}

	if status >= 500 {
		h.logger.Error("worker request failed", "plugin", plugin, "method", r.Method, "error", err)
	} else {
		h.logger.Warn("worker request rejected", "plugin", plugin, "method", r.Method, "error", err)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
