// internal/infra/memory/worker_directory.go
package memory

import (
	"context"
	"sort"
	"sync"

	"ideworker/internal/domain"
)

// WorkerDirectory is an in-process domain.WorkerDirectory used when no etcd
// endpoints are configured.
type WorkerDirectory struct {
	mu      sync.RWMutex
	workers map[string]domain.WorkerInfo
}

// NewWorkerDirectory creates an empty directory.
func NewWorkerDirectory() *WorkerDirectory {
	return &WorkerDirectory{workers: make(map[string]domain.WorkerInfo)}
}

func (d *WorkerDirectory) Publish(_ context.Context, info domain.WorkerInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.workers[info.Plugin] = info
	return nil
}

func (d *WorkerDirectory) Remove(_ context.Context, plugin string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.workers, plugin)
	return nil
}

func (d *WorkerDirectory) List(_ context.Context) ([]domain.WorkerInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	infos := make([]domain.WorkerInfo, 0, len(d.workers))
	for _, info := range d.workers {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Plugin < infos[j].Plugin })
	return infos, nil
}
