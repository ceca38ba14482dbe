// internal/manager/manager.go
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sort"
	"sync"
	"time"

	"ideworker/internal/binding"
	"ideworker/internal/domain"
	"ideworker/internal/ipc"
	"ideworker/internal/metrics"
	"ideworker/internal/scheduler"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sourcegraph/jsonrpc2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultSpawnTimeout  = 30 * time.Second
	defaultSweepInterval = 5 * time.Second

	reasonSpawned = "spawned"
)

// Manager spawns one worker process per plugin name and matches the
// connections those workers make back to it by peer pid.
type Manager struct {
	id       string
	argv0    string
	address  ipc.Address
	listener net.Listener
	cleanup  func()

	launcher      Launcher
	credentials   ipc.CredentialsFunc
	observers     []domain.WorkerObserver
	spawnTimeout  time.Duration
	sweepInterval time.Duration
	callTimeout   time.Duration
	socketDir     string
	sweeper       *scheduler.Sweeper
	events        *dispatcher
	status        *statusBoard

	mu      sync.Mutex
	workers map[string]*workerProcess // plugin -> worker
	pending map[int]*workerProcess    // expected pid -> spawned, unconnected worker
	closed  bool

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	validate *validator.Validate
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a Manager.
type Option func(*Manager)

// WithLauncher replaces the process launcher.
func WithLauncher(l Launcher) Option {
	return func(m *Manager) { m.launcher = l }
}

// WithCredentials replaces the peer credential lookup.
func WithCredentials(f ipc.CredentialsFunc) Option {
	return func(m *Manager) { m.credentials = f }
}

// WithObservers registers observers of worker state changes.
func WithObservers(obs ...domain.WorkerObserver) Option {
	return func(m *Manager) { m.observers = append(m.observers, obs...) }
}

// WithSpawnTimeout bounds how long a worker may stay unconnected. Zero
// disables the sweep.
func WithSpawnTimeout(timeout, sweepInterval time.Duration) Option {
	return func(m *Manager) {
		m.spawnTimeout = timeout
		m.sweepInterval = sweepInterval
	}
}

// WithCallTimeout applies a default deadline to proxy calls whose context
// has none.
func WithCallTimeout(d time.Duration) Option {
	return func(m *Manager) { m.callTimeout = d }
}

// WithSocketDir sets the directory the listen address is derived from.
func WithSocketDir(dir string) Option {
	return func(m *Manager) { m.socketDir = dir }
}

// WithID sets the manager id. It must be unique among live managers.
func WithID(id string) Option {
	return func(m *Manager) { m.id = id }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// New creates a manager listening on a fresh, per-instance address. Workers
// are spawned by running argv0; an empty argv0 means the running executable.
func New(argv0 string, opts ...Option) (*Manager, error) {
	if argv0 == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to determine worker executable: %w", err)
		}
		argv0 = exe
	}

	m := &Manager{
		argv0:         argv0,
		launcher:      ExecLauncher(),
		credentials:   ipc.PeerPID,
		spawnTimeout:  defaultSpawnTimeout,
		sweepInterval: defaultSweepInterval,
		workers:       make(map[string]*workerProcess),
		pending:       make(map[int]*workerProcess),
		validate:      validator.New(),
		logger:        slog.Default(),
		tracer:        otel.Tracer("ide-worker-manager"),
	}
	domain.RegisterValidations(m.validate)
	for _, opt := range opts {
		opt(m)
	}
	if m.id == "" {
		m.id = uuid.NewString()
	}
	m.logger = m.logger.With("component", "worker-manager", "manager_id", m.id)

	addr, cleanup, err := ipc.NewListenAddress(m.socketDir, os.Getpid(), m.id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrServerUnavailable, err)
	}
	ln, err := ipc.Listen(addr)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: failed to listen on %s: %v", domain.ErrServerUnavailable, addr, err)
	}
	m.address = addr
	m.listener = ln
	m.cleanup = cleanup
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.status = newStatusBoard()
	m.events = newDispatcher(append([]domain.WorkerObserver{m.status}, m.observers...))

	if m.spawnTimeout > 0 {
		m.sweeper = scheduler.NewSweeper(m.logger)
		if err := m.sweeper.Every("spawn-timeout", m.sweepInterval, func(context.Context) {
			m.SweepStale(time.Now())
		}); err != nil {
			m.events.close()
			_ = ln.Close()
			cleanup()
			return nil, err
		}
		m.sweeper.Start()
	}

	m.wg.Add(1)
	go m.acceptLoop()

	m.logger.Info("worker manager listening", "address", addr.String(), "argv0", argv0)
	return m, nil
}

// ID returns the unique id of this manager instance.
func (m *Manager) ID() string { return m.id }

// Status returns a live status object for plugin with the properties
// domain.StatusPropState and domain.StatusPropPID. The same object follows
// every worker spawned for plugin; its state is empty until the first spawn.
// Subscribers run on the event goroutine and must not block.
func (m *Manager) Status(plugin string) *binding.Object {
	return m.status.view(plugin)
}

// Address returns the address workers connect back to.
func (m *Manager) Address() string { return m.address.String() }

// GetWorker returns a proxy to the worker hosting plugin, spawning the worker
// if none is registered. It returns once the worker has connected, the worker
// failed, or ctx is done. A worker left waiting by a cancelled ctx stays
// registered and is reused by the next call.
func (m *Manager) GetWorker(ctx context.Context, plugin string) (domain.WorkerProxy, error) {
	ctx, span := m.tracer.Start(ctx, "manager.GetWorker", trace.WithAttributes(attribute.String("plugin", plugin)))
	defer span.End()

	if err := m.validate.Var(plugin, "required,plugin_name"); err != nil {
		return nil, fmt.Errorf("%w %q: %v", domain.ErrInvalidPlugin, plugin, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, domain.ErrServerUnavailable
	}

	w, ok := m.workers[plugin]
	spawned := false
	if !ok {
		var err error
		w, err = m.spawnLocked(plugin)
		if err != nil {
			m.mu.Unlock()
			span.RecordError(err)
			span.SetStatus(codes.Error, "spawn failed")
			return nil, err
		}
		spawned = true
	}
	m.mu.Unlock()

	span.SetAttributes(attribute.Int("pid", w.pid), attribute.Bool("spawned", spawned))

	if err := w.wait(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "worker unavailable")
		return nil, fmt.Errorf("worker %s: %w", plugin, err)
	}
	return &proxy{w: w, callTimeout: m.callTimeout, tracer: m.tracer}, nil
}

// spawnLocked starts the worker process and registers it. The registration
// happens before the lock is released so that a fast child cannot connect
// before its pid is known.
func (m *Manager) spawnLocked(plugin string) (*workerProcess, error) {
	proc, err := m.launcher.Launch(m.argv0, WorkerArgs(plugin, m.address.String()))
	if err != nil {
		metrics.WorkerSpawnTotal.WithLabelValues(plugin, "failed").Inc()
		m.logger.Error("failed to spawn worker", "plugin", plugin, "error", err)
		return nil, fmt.Errorf("%w %s: %v", domain.ErrSpawn, plugin, err)
	}

	w := newWorkerProcess(plugin, proc)
	m.workers[plugin] = w
	m.pending[w.pid] = w

	m.wg.Add(1)
	go m.waitProcess(w)

	metrics.WorkerSpawnTotal.WithLabelValues(plugin, "success").Inc()
	metrics.Workers.WithLabelValues(string(domain.WorkerStateSpawned)).Inc()
	m.emitLocked(w, reasonSpawned)
	m.logger.Info("spawned worker", "plugin", plugin, "pid", w.pid)
	return w, nil
}

// Worker returns a snapshot of the worker registered for plugin.
func (m *Manager) Worker(plugin string) (domain.WorkerInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[plugin]
	if !ok {
		return domain.WorkerInfo{}, false
	}
	return w.info(m), true
}

// Workers returns a snapshot of all registered workers ordered by plugin name.
func (m *Manager) Workers() []domain.WorkerInfo {
	m.mu.Lock()
	infos := make([]domain.WorkerInfo, 0, len(m.workers))
	for _, w := range m.workers {
		infos = append(infos, w.info(m))
	}
	m.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Plugin < infos[j].Plugin })
	return infos
}

// Evict terminates the worker registered for plugin. It reports whether a
// worker was registered.
func (m *Manager) Evict(plugin string) bool {
	m.mu.Lock()
	w, ok := m.workers[plugin]
	if !ok {
		m.mu.Unlock()
		return false
	}
	m.closeWorkerLocked(w, domain.ErrWorkerClosed, "evicted")
	conn := w.conn
	m.mu.Unlock()

	metrics.WorkerEvictionsTotal.WithLabelValues("evicted").Inc()
	m.logger.Info("evicting worker", "plugin", plugin, "pid", w.pid)
	w.terminate(conn)
	return true
}

// SweepStale evicts workers that were spawned more than the spawn timeout
// before now and never connected. It returns the number evicted.
func (m *Manager) SweepStale(now time.Time) int {
	if m.spawnTimeout <= 0 {
		return 0
	}

	var evicted []*workerProcess

	m.mu.Lock()
	for _, w := range m.pending {
		if now.Sub(w.spawnedAt) <= m.spawnTimeout {
			continue
		}
		m.closeWorkerLocked(w, domain.ErrSpawnTimeout, "spawn_timeout")
		evicted = append(evicted, w)
	}
	m.mu.Unlock()

	for _, w := range evicted {
		metrics.WorkerEvictionsTotal.WithLabelValues("spawn_timeout").Inc()
		m.logger.Warn("worker never connected", "plugin", w.plugin, "pid", w.pid, "timeout", m.spawnTimeout)
		w.terminate(nil)
	}
	return len(evicted)
}

// Close instructs every worker to exit, releases its process and stops
// listening. Workers are shut down in no particular order and without
// draining in-flight calls.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.sweeper != nil {
		m.sweeper.Stop()
	}

	type closing struct {
		w    *workerProcess
		conn *jsonrpc2.Conn
	}
	var all []closing

	m.mu.Lock()
	for _, w := range m.workers {
		m.closeWorkerLocked(w, domain.ErrServerUnavailable, "shutdown")
		all = append(all, closing{w: w, conn: w.conn})
	}
	m.mu.Unlock()

	err := m.listener.Close()
	for _, c := range all {
		c.w.terminate(c.conn)
	}

	m.cancel()
	m.wg.Wait()
	m.events.close()
	m.status.release()
	m.cleanup()
	m.logger.Info("worker manager closed", "workers", len(all))

	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// closeWorkerLocked moves w to the closed state and drops it from the
// registry. It reports false if w was already closed.
func (m *Manager) closeWorkerLocked(w *workerProcess, err error, reason string) bool {
	if w.state == domain.WorkerStateClosed {
		return false
	}
	metrics.Workers.WithLabelValues(string(w.state)).Dec()

	w.state = domain.WorkerStateClosed
	w.err = err
	if cur, ok := m.workers[w.plugin]; ok && cur == w {
		delete(m.workers, w.plugin)
	}
	if cur, ok := m.pending[w.pid]; ok && cur == w {
		delete(m.pending, w.pid)
	}
	close(w.done)
	m.emitLocked(w, reason)
	return true
}

// waitProcess reaps the worker process and closes its entry if it exits on
// its own.
func (m *Manager) waitProcess(w *workerProcess) {
	defer m.wg.Done()
	exitErr := w.proc.Wait()

	m.mu.Lock()
	err := fmt.Errorf("%w: process %d exited", domain.ErrWorkerClosed, w.pid)
	if exitErr != nil {
		err = fmt.Errorf("%w: process %d exited: %v", domain.ErrWorkerClosed, w.pid, exitErr)
	}
	closed := m.closeWorkerLocked(w, err, "exited")
	conn := w.conn
	m.mu.Unlock()

	if !closed {
		return
	}
	metrics.WorkerEvictionsTotal.WithLabelValues("exited").Inc()
	m.logger.Warn("worker process exited", "plugin", w.plugin, "pid", w.pid, "error", exitErr)
	w.terminate(conn)
}

func (m *Manager) acceptLoop() {
	defer m.wg.Done()
	for {
		c, err := m.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			m.logger.Error("failed to accept worker connection", "error", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		m.wg.Add(1)
		go m.handleConn(c)
	}
}

// handleConn matches an inbound connection to the pending worker whose pid
// equals the peer pid. Anything else is dropped without touching the
// registry.
func (m *Manager) handleConn(c net.Conn) {
	defer m.wg.Done()
	_, span := m.tracer.Start(m.ctx, "manager.MatchConnection")
	defer span.End()

	pid, err := m.credentials(c)
	if err != nil {
		metrics.ConnectionsRejectedTotal.WithLabelValues("credentials").Inc()
		m.logger.Debug("rejecting connection without peer credentials", "error", err)
		_ = c.Close()
		return
	}
	span.SetAttributes(attribute.Int("pid", pid))

	m.mu.Lock()
	w, ok := m.pending[pid]
	if !ok || m.closed {
		m.mu.Unlock()
		metrics.ConnectionsRejectedTotal.WithLabelValues("unknown_peer").Inc()
		m.logger.Debug("rejecting connection from unknown peer", "pid", pid)
		_ = c.Close()
		return
	}

	delete(m.pending, pid)
	conn := ipc.NewConn(m.ctx, c, jsonrpc2.HandlerWithError(m.handleWorkerRequest(w.plugin)))
	w.conn = conn
	w.state = domain.WorkerStateConnected
	w.connectedAt = time.Now()
	close(w.connected)
	metrics.Workers.WithLabelValues(string(domain.WorkerStateSpawned)).Dec()
	metrics.Workers.WithLabelValues(string(domain.WorkerStateConnected)).Inc()
	m.emitLocked(w, "connected")
	m.mu.Unlock()

	span.SetAttributes(attribute.String("plugin", w.plugin))
	m.logger.Info("worker connected", "plugin", w.plugin, "pid", pid)

	m.wg.Add(1)
	go m.watchConnection(w, conn)
}

// watchConnection evicts a worker whose connection drops. The process is
// killed; the next GetWorker spawns a fresh one.
func (m *Manager) watchConnection(w *workerProcess, conn *jsonrpc2.Conn) {
	defer m.wg.Done()
	<-conn.DisconnectNotify()

	m.mu.Lock()
	closed := m.closeWorkerLocked(w, fmt.Errorf("%w: connection lost", domain.ErrWorkerClosed), "disconnected")
	m.mu.Unlock()

	if !closed {
		return
	}
	metrics.WorkerEvictionsTotal.WithLabelValues("disconnected").Inc()
	m.logger.Warn("worker connection lost", "plugin", w.plugin, "pid", w.pid)
	w.terminate(conn)
}

// handleWorkerRequest serves requests a worker sends to the IDE. Workers only
// send notifications today.
func (m *Manager) handleWorkerRequest(plugin string) func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (any, error) {
	logger := m.logger.With("plugin", plugin)
	return func(ctx context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
		if req.Notif {
			logger.Debug("worker notification", "method", req.Method)
			return nil, nil
		}
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not handled: " + req.Method}
	}
}

func (m *Manager) emitLocked(w *workerProcess, reason string) {
	m.events.enqueue(domain.WorkerEvent{Info: w.info(m), Reason: reason})
}
