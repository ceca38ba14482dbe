// cmd/ide-worker/plugins.go
package main

import (
	"log/slog"

	"ideworker/internal/flatpak"
	"ideworker/internal/worker"
)

// builtinPlugins lists the plugins this binary can host.
func builtinPlugins(logger *slog.Logger) (*worker.Registry, error) {
	r := worker.NewRegistry()
	if err := r.Register("echo", worker.EchoPlugin()); err != nil {
		return nil, err
	}
	if err := r.Register("flatpak", flatpak.NewPlugin(logger)); err != nil {
		return nil, err
	}
	return r, nil
}
