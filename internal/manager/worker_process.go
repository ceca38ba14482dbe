// internal/manager/worker_process.go
package manager

import (
	"context"
	"sync"
	"time"

	"ideworker/internal/domain"
	"ideworker/internal/ipc"

	"github.com/sourcegraph/jsonrpc2"
)

// workerProcess is the registry entry for one plugin. Fields below the
// separator are guarded by Manager.mu.
type workerProcess struct {
	plugin    string
	proc      Process
	pid       int
	spawnedAt time.Time

	// connected is closed once conn is set; done is closed once the worker
	// is closed, after err is set.
	connected chan struct{}
	done      chan struct{}
	quitOnce  sync.Once

	state       domain.WorkerState
	connectedAt time.Time
	conn        *jsonrpc2.Conn
	err         error
}

func newWorkerProcess(plugin string, proc Process) *workerProcess {
	return &workerProcess{
		plugin:    plugin,
		proc:      proc,
		pid:       proc.Pid(),
		spawnedAt: time.Now(),
		connected: make(chan struct{}),
		done:      make(chan struct{}),
		state:     domain.WorkerStateSpawned,
	}
}

// wait blocks until the worker connects, closes, or ctx is done.
func (w *workerProcess) wait(ctx context.Context) error {
	select {
	case <-w.done:
		return w.err
	default:
	}
	select {
	case <-w.connected:
		return nil
	case <-w.done:
		return w.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// terminate asks the worker to exit and releases its process. Only the first
// call has any effect. Must not be called with Manager.mu held.
func (w *workerProcess) terminate(conn *jsonrpc2.Conn) {
	w.quitOnce.Do(func() {
		if conn != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = conn.Notify(ctx, ipc.MethodQuit, nil)
			cancel()
			_ = conn.Close()
		}
		_ = w.proc.Kill()
	})
}

func (w *workerProcess) info(m *Manager) domain.WorkerInfo {
	info := domain.WorkerInfo{
		Plugin:      w.plugin,
		PID:         w.pid,
		State:       w.state,
		Address:     m.address.String(),
		ManagerID:   m.id,
		SpawnedAt:   w.spawnedAt,
		ConnectedAt: w.connectedAt,
	}
	if w.err != nil {
		info.Error = w.err.Error()
	}
	return info
}
