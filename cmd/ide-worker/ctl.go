// cmd/ide-worker/ctl.go
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	grpcapi "ideworker/internal/api/grpc"
	"ideworker/internal/domain"
	http_infra "ideworker/internal/infra/http"

	"github.com/spf13/cobra"
)

func newCtlCmd() *cobra.Command {
	var (
		server   string
		grpcAddr string
		retries  int
	)
	ctlCmd := &cobra.Command{
		Use:   "ctl",
		Short: "Talk to a running worker manager",
	}
	ctlCmd.PersistentFlags().StringVar(&server, "server", "localhost:8080", "Address of the HTTP control API")
	ctlCmd.PersistentFlags().IntVar(&retries, "retries", 2, "Retries for unavailable or timed out requests")

	client := func() *http_infra.ControlClient {
		return http_infra.NewControlClient(server, retries, 500*time.Millisecond)
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the workers of the manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := client().List(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, infos)
		},
	}

	spawnCmd := &cobra.Command{
		Use:   "spawn PLUGIN",
		Short: "Get or spawn the worker for PLUGIN",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := client().Spawn(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, info)
		},
	}

	evictCmd := &cobra.Command{
		Use:   "evict PLUGIN",
		Short: "Terminate the worker for PLUGIN",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().Evict(cmd.Context(), args[0])
		},
	}

	callCmd := &cobra.Command{
		Use:   "call PLUGIN METHOD [PARAMS]",
		Short: "Call METHOD on the worker for PLUGIN; PARAMS is JSON",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params json.RawMessage
			if len(args) == 3 {
				if !json.Valid([]byte(args[2])) {
					return errors.New("params must be valid JSON")
				}
				params = json.RawMessage(args[2])
			}
			result, err := client().Call(cmd.Context(), args[0], args[1], params)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(result))
			return nil
		},
	}

	pingCmd := &cobra.Command{
		Use:   "ping PLUGIN",
		Short: "Ping the worker for PLUGIN",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := client().Ping(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}

	var (
		waitState   string
		waitTimeout time.Duration
	)
	waitCmd := &cobra.Command{
		Use:   "wait PLUGIN",
		Short: "Wait until the worker for PLUGIN reaches a state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := client().Wait(cmd.Context(), args[0], domain.WorkerState(waitState), waitTimeout)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s pid=%d\n", args[0], waitState, pid)
			return nil
		},
	}
	waitCmd.Flags().StringVar(&waitState, "state", string(domain.WorkerStateConnected), "State to wait for: spawned, connected or closed")
	waitCmd.Flags().DurationVar(&waitTimeout, "timeout", 30*time.Second, "How long the manager waits")

	directoryCmd := &cobra.Command{
		Use:   "directory",
		Short: "List the workers published by every manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := client().Directory(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, infos)
		},
	}

	healthCmd := &cobra.Command{
		Use:   "health [PLUGIN]",
		Short: "Query the gRPC health service",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plugin := ""
			if len(args) == 1 {
				plugin = args[0]
			}
			status, err := grpcapi.CheckWorker(cmd.Context(), grpcAddr, plugin)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status.String())
			return nil
		},
	}
	healthCmd.Flags().StringVar(&grpcAddr, "grpc", "localhost:9090", "Address of the gRPC health service")

	ctlCmd.AddCommand(listCmd, spawnCmd, evictCmd, callCmd, pingCmd, waitCmd, directoryCmd, healthCmd)
	return ctlCmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
