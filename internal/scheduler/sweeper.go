// internal/scheduler/sweeper.go
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Sweeper runs housekeeping tasks on a fixed interval. A task that is still
// running when its next tick fires is skipped.
type Sweeper struct {
	cron    *cron.Cron
	tasks   map[string]cron.EntryID
	mu      sync.Mutex
	started bool
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewSweeper creates a stopped sweeper.
func NewSweeper(logger *slog.Logger) *Sweeper {
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	return &Sweeper{
		cron:   c,
		tasks:  make(map[string]cron.EntryID),
		logger: logger.With("component", "sweeper"),
		tracer: otel.Tracer("ide-worker-sweeper"),
	}
}

// Every registers task to run every interval, replacing any task with the
// same name. Intervals below one second are rounded up by cron.
func (s *Sweeper) Every(name string, interval time.Duration, task func(ctx context.Context)) error {
	if interval <= 0 {
		return fmt.Errorf("sweep interval for %s must be positive", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.tasks[name]; ok {
		s.cron.Remove(entryID)
	}

	wrapper := &taskWrapper{
		name:   name,
		task:   task,
		logger: s.logger.With("task", name),
		tracer: s.tracer,
	}
	entryID, err := s.cron.AddJob(fmt.Sprintf("@every %s", interval), wrapper)
	if err != nil {
		s.logger.Error("failed to add sweep task", "task", name, "error", err)
		return err
	}
	s.tasks[name] = entryID
	s.logger.Debug("added sweep task", "task", name, "interval", interval)
	return nil
}

// Start begins running registered tasks in the background.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop halts the schedule and waits for running tasks to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
}

type taskWrapper struct {
	name   string
	task   func(ctx context.Context)
	logger *slog.Logger
	tracer trace.Tracer
}

// Run is called by cron.
func (w *taskWrapper) Run() {
	ctx, span := w.tracer.Start(context.Background(), "sweeper.Run",
		trace.WithAttributes(attribute.String("task", w.name)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("sweep task panicked", "panic", r)
		}
	}()
	w.task(ctx)
}
