// cmd/ide-worker/serve.go
package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	grpcapi "ideworker/internal/api/grpc"
	http_api "ideworker/internal/api/http"
	"ideworker/internal/domain"
	"ideworker/internal/infra/etcd"
	"ideworker/internal/infra/memory"
	"ideworker/internal/manager"
	"ideworker/internal/tracing"
	"ideworker/internal/usecase"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// corsMiddleware wraps an http.Handler with CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func newServeCmd() *cobra.Command {
	var (
		preload []string
		trace   bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a worker manager and its control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(preload, trace)
		},
	}
	cmd.Flags().StringSliceVar(&preload, "preload", nil, "Plugins to spawn at startup")
	cmd.Flags().BoolVar(&trace, "trace", false, "Export spans to stderr")
	return cmd
}

func runServe(preload []string, exportSpans bool) error {
	// 1. Initialize logger and tracer
	logger := newLogger(os.Stdout)

	var spanWriter io.Writer
	if exportSpans {
		spanWriter = os.Stderr
	}
	tracerShutdown, err := tracing.InitTracer("ide-worker-manager", spanWriter)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Printf("failed to shutdown tracer: %v", err)
		}
	}()

	managerID := uuid.New().String()
	logger.Info("starting worker manager", "manager_id", managerID)

	// 2. Create root context for lifecycle management
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupGracefulShutdown(cancel)

	// 3. Worker directory: etcd when endpoints are configured
	var (
		directory  domain.WorkerDirectory
		etcdClient *clientv3.Client
		etcdDir    *etcd.WorkerDirectory
	)
	if len(cfg.EtcdEndpoints) > 0 {
		etcdClient, err = etcd.NewClient(rootCtx, cfg.EtcdEndpoints, cfg.EtcdTimeout)
		if err != nil {
			log.Fatalf("Failed to create etcd client: %v", err)
		}
		defer etcdClient.Close()
		logger.Info("connected to etcd", "endpoints", cfg.EtcdEndpoints)

		etcdDir = etcd.NewWorkerDirectory(etcdClient, managerID, cfg.DirectoryTTL, logger)
		if err := etcdDir.Start(rootCtx); err != nil {
			log.Fatalf("Failed to start worker directory: %v", err)
		}
		go etcdDir.Watch(rootCtx, func(ev etcd.DirectoryEvent) {
			logger.Debug("worker directory changed", "key", ev.Key, "deleted", ev.Deleted)
		})
		directory = etcdDir
	} else {
		directory = memory.NewWorkerDirectory()
	}

	// 4. Instantiate components
	health := grpcapi.NewHealthReporter(logger)
	m, err := manager.New(cfg.WorkerPath,
		manager.WithID(managerID),
		manager.WithSocketDir(cfg.SocketDir),
		manager.WithSpawnTimeout(cfg.SpawnTimeout, cfg.SweepInterval),
		manager.WithCallTimeout(cfg.CallTimeout),
		manager.WithLogger(logger),
		manager.WithObservers(health, usecase.NewDirectorySync(directory, logger)),
	)
	if err != nil {
		log.Fatalf("Failed to start worker manager: %v", err)
	}

	service := usecase.NewWorkerService(m, directory, logger)
	handler := http_api.NewWorkerHandler(service, logger)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	// 5. Start HTTP API server
	server := &http.Server{
		Addr:    cfg.HttpListenAddr,
		Handler: corsMiddleware(mux),
	}
	go func() {
		logger.Info("starting HTTP API server", "addr", cfg.HttpListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// 6. Optional gRPC health server
	grpcServer := grpcapi.NewServer(health)
	if cfg.GrpcListenAddr != "" {
		go func() {
			logger.Info("starting gRPC health server", "addr", cfg.GrpcListenAddr)
			if err := grpcapi.Serve(grpcServer, cfg.GrpcListenAddr); err != nil {
				log.Fatalf("gRPC server failed: %v", err)
			}
		}()
	}

	for _, plugin := range preload {
		go preloadWorker(rootCtx, service, plugin, logger)
	}

	// 7. Block until shutdown
	<-rootCtx.Done()
	logger.Info("shutting down worker manager")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	grpcServer.GracefulStop()
	health.Shutdown()
	if err := m.Close(); err != nil {
		logger.Error("worker manager shutdown failed", "error", err)
	}
	if etcdDir != nil {
		if err := etcdDir.Close(shutdownCtx); err != nil {
			logger.Error("failed to revoke worker directory lease", "error", err)
		}
	}

	logger.Info("worker manager shut down")
	return nil
}

func preloadWorker(ctx context.Context, service *usecase.WorkerService, plugin string, logger *slog.Logger) {
	if cfg.SpawnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.SpawnTimeout+time.Second)
		defer cancel()
	}
	if _, err := service.Spawn(ctx, plugin); err != nil {
		logger.Error("failed to preload worker", "plugin", plugin, "error", err)
	}
}
