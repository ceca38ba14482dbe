// internal/manager/status.go
package manager

import (
	"context"
	"sync"

	"ideworker/internal/binding"
	"ideworker/internal/domain"
)

// statusBoard mirrors worker events into one long-lived binding.Object per
// plugin. Every worker process gets its own source object; the plugin's
// binding set is pointed at the newest one on each spawn, so views outlive
// respawns. WorkerChanged runs on the event dispatcher goroutine only.
type statusBoard struct {
	mu       sync.Mutex
	plugins  map[string]*pluginStatus
	released bool
}

type pluginStatus struct {
	view    *binding.Object
	set     *binding.Set
	current *binding.Object
	pid     int
}

func newStatusBoard() *statusBoard {
	return &statusBoard{plugins: make(map[string]*pluginStatus)}
}

func newStatusObject(state domain.WorkerState, pid int) *binding.Object {
	return binding.NewObject(map[string]any{
		domain.StatusPropState: state,
		domain.StatusPropPID:   pid,
	})
}

// view returns the status object for plugin. Before the first spawn its state
// is empty and its pid zero.
func (b *statusBoard) view(plugin string) *binding.Object {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ps, ok := b.plugins[plugin]; ok {
		return ps.view
	}
	if b.released {
		return newStatusObject("", 0)
	}
	return b.entryLocked(plugin).view
}

func (b *statusBoard) entryLocked(plugin string) *pluginStatus {
	if ps, ok := b.plugins[plugin]; ok {
		return ps
	}
	ps := &pluginStatus{
		view: newStatusObject("", 0),
		set:  binding.NewSet(),
	}
	// Both properties exist on every source and on the view.
	_, _ = ps.set.Bind(domain.StatusPropState, ps.view, domain.StatusPropState, binding.Options{})
	_, _ = ps.set.Bind(domain.StatusPropPID, ps.view, domain.StatusPropPID, binding.Options{})
	b.plugins[plugin] = ps
	return ps
}

func (b *statusBoard) WorkerChanged(_ context.Context, ev domain.WorkerEvent) {
	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return
	}
	ps := b.entryLocked(ev.Info.Plugin)
	b.mu.Unlock()

	if ps.current == nil || ev.Reason == reasonSpawned || ps.pid != ev.Info.PID {
		src := newStatusObject(ev.Info.State, ev.Info.PID)
		if err := ps.set.SetSource(src); err != nil {
			return
		}
		ps.current, ps.pid = src, ev.Info.PID
		return
	}
	_ = ps.current.Set(domain.StatusPropState, ev.Info.State)
}

// release disconnects every view from its worker. Views keep their last
// values.
func (b *statusBoard) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ps := range b.plugins {
		ps.set.Release()
	}
	b.released = true
}
