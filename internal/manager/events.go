// internal/manager/events.go
package manager

import (
	"context"
	"sync"

	"ideworker/internal/domain"
)

// dispatcher delivers worker events to observers on a single goroutine, in
// the order they were queued. Queueing never blocks, so it is safe under
// Manager.mu.
type dispatcher struct {
	observers []domain.WorkerObserver

	mu    sync.Mutex
	queue []domain.WorkerEvent

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func newDispatcher(observers []domain.WorkerObserver) *dispatcher {
	d := &dispatcher{
		observers: observers,
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) enqueue(ev domain.WorkerEvent) {
	if len(d.observers) == 0 {
		return
	}
	d.mu.Lock()
	d.queue = append(d.queue, ev)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case <-d.wake:
			d.drain()
		case <-d.stop:
			d.drain()
			return
		}
	}
}

func (d *dispatcher) drain() {
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			for _, obs := range d.observers {
				obs.WorkerChanged(context.Background(), ev)
			}
		}
	}
}

// close delivers everything queued so far and stops the dispatcher.
func (d *dispatcher) close() {
	close(d.stop)
	<-d.done
}
