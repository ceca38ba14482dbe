// internal/domain/errors.go
package domain

import "errors"

var (
	// ErrSpawn is returned when a worker process cannot be created.
	ErrSpawn = errors.New("failed to spawn worker")
	// ErrServerUnavailable is returned when the manager's listener is gone.
	ErrServerUnavailable = errors.New("worker server unavailable")
	// ErrWorkerClosed is returned for calls on a worker that exited or was evicted.
	ErrWorkerClosed = errors.New("worker closed")
	// ErrSpawnTimeout is returned when a worker never connected back in time.
	ErrSpawnTimeout = errors.New("worker did not connect before the spawn timeout")
	// ErrWorkerNotFound is returned when no worker is registered for a plugin.
	ErrWorkerNotFound = errors.New("worker not found")
	// ErrNoCredentials is returned when peer credentials cannot be read from a connection.
	ErrNoCredentials = errors.New("peer credentials unavailable")
	// ErrInvalidPlugin is returned for malformed plugin names.
	ErrInvalidPlugin = errors.New("invalid plugin name")
)
