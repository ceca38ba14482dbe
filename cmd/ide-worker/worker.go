// cmd/ide-worker/worker.go
package main

import (
	"context"
	"fmt"
	"os"

	"ideworker/internal/worker"

	"github.com/spf13/cobra"
)

func newWorkerCmd() *cobra.Command {
	var plugin, address string
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Host a plugin and connect back to the manager",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout is shared with the manager; keep worker logs on stderr.
			logger := newLogger(os.Stderr).With("pid", os.Getpid())

			registry, err := builtinPlugins(logger)
			if err != nil {
				return err
			}
			p, ok := registry.Lookup(plugin)
			if !ok {
				return fmt.Errorf("unknown plugin %q (available: %v)", plugin, registry.Names())
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			setupGracefulShutdown(cancel)

			return worker.NewServer(plugin, p, logger).Serve(ctx, address)
		},
	}
	cmd.Flags().StringVar(&plugin, "plugin", "", "Plugin to host")
	cmd.Flags().StringVar(&address, "address", "", "Address of the manager")
	_ = cmd.MarkFlagRequired("plugin")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}
