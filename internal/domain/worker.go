// internal/domain/worker.go
package domain

import (
	"context"
	"fmt"
	"time"
)

// WorkerState tracks a worker process through its lifecycle.
type WorkerState string

const (
	// WorkerStateSpawned means the process is running but has not connected back yet.
	WorkerStateSpawned WorkerState = "spawned"
	// WorkerStateConnected means the process connected and its peer credentials matched.
	WorkerStateConnected WorkerState = "connected"
	// WorkerStateClosed means the process exited or was evicted.
	WorkerStateClosed WorkerState = "closed"
)

// Properties of the per-plugin status objects handed out by a pool.
const (
	StatusPropState = "state"
	StatusPropPID   = "pid"
)

// WorkerInfo is a point-in-time view of one worker process.
type WorkerInfo struct {
	Plugin      string      `json:"plugin"`
	PID         int         `json:"pid"`
	State       WorkerState `json:"state"`
	Address     string      `json:"address"`
	ManagerID   string      `json:"manager_id"`
	SpawnedAt   time.Time   `json:"spawned_at"`
	ConnectedAt time.Time   `json:"connected_at,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// Validate checks if the worker info is complete enough to be published.
func (w *WorkerInfo) Validate() error {
	if w.Plugin == "" {
		return fmt.Errorf("worker plugin name cannot be empty")
	}
	if w.PID <= 0 {
		return fmt.Errorf("worker %s has invalid pid %d", w.Plugin, w.PID)
	}
	if w.State == "" {
		return fmt.Errorf("worker %s state cannot be empty", w.Plugin)
	}
	return nil
}

// WorkerProxy is a callable handle on a worker process.
type WorkerProxy interface {
	Plugin() string
	PID() int
	// Call invokes method on the worker and decodes the reply into result.
	Call(ctx context.Context, method string, params, result any) error
	// Notify sends a one-way message to the worker.
	Notify(ctx context.Context, method string, params any) error
}

// WorkerPool hands out proxies to worker processes keyed by plugin name.
type WorkerPool interface {
	GetWorker(ctx context.Context, plugin string) (WorkerProxy, error)
	Worker(plugin string) (WorkerInfo, bool)
	Workers() []WorkerInfo
	Evict(plugin string) bool
}

// WorkerEvent is emitted whenever a worker changes state.
type WorkerEvent struct {
	Info   WorkerInfo
	Reason string
}

// WorkerObserver receives worker state changes. Implementations must not call
// back into the pool synchronously.
type WorkerObserver interface {
	WorkerChanged(ctx context.Context, ev WorkerEvent)
}

// WorkerObserverFunc adapts a function to WorkerObserver.
type WorkerObserverFunc func(ctx context.Context, ev WorkerEvent)

func (f WorkerObserverFunc) WorkerChanged(ctx context.Context, ev WorkerEvent) { f(ctx, ev) }
