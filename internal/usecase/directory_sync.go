// internal/usecase/directory_sync.go
package usecase

import (
	"context"
	"log/slog"
	"time"

	"ideworker/internal/domain"
)

const directorySyncTimeout = 5 * time.Second

// DirectorySync mirrors worker state changes into a WorkerDirectory.
type DirectorySync struct {
	directory domain.WorkerDirectory
	logger    *slog.Logger
}

// NewDirectorySync creates an observer that publishes live workers and
// removes closed ones.
func NewDirectorySync(directory domain.WorkerDirectory, logger *slog.Logger) *DirectorySync {
	return &DirectorySync{directory: directory, logger: logger.With("component", "directory-sync")}
}

func (s *DirectorySync) WorkerChanged(ctx context.Context, ev domain.WorkerEvent) {
	ctx, cancel := context.WithTimeout(ctx, directorySyncTimeout)
	defer cancel()

	var err error
	if ev.Info.State == domain.WorkerStateClosed {
		err = s.directory.Remove(ctx, ev.Info.Plugin)
	} else {
		err = s.directory.Publish(ctx, ev.Info)
	}
	if err != nil {
		s.logger.Error("failed to sync worker directory", "plugin", ev.Info.Plugin, "reason", ev.Reason, "error", err)
	}
}
