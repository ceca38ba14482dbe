// internal/domain/directory.go
package domain

import "context"

// WorkerDirectory publishes the workers of a manager so that other tools can
// find them.
type WorkerDirectory interface {
	Publish(ctx context.Context, info WorkerInfo) error
	Remove(ctx context.Context, plugin string) error
	List(ctx context.Context) ([]WorkerInfo, error)
}
