// internal/infra/etcd/etcd_worker_directory.go
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"ideworker/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// WorkerDirectoryPrefix is the etcd prefix managers publish workers under,
	// one sub-directory per manager id.
	WorkerDirectoryPrefix = "/ide/workers/"
)

// DirectoryEvent is a change seen by Watch.
type DirectoryEvent struct {
	Key     string
	Deleted bool
	Info    domain.WorkerInfo
}

// WorkerDirectory implements domain.WorkerDirectory in etcd. Every key is
// attached to one lease per manager, so entries vanish when the manager dies.
type WorkerDirectory struct {
	client    *clientv3.Client
	managerID string
	ttl       time.Duration
	logger    *slog.Logger
	tracer    trace.Tracer

	mu      sync.Mutex
	leaseID clientv3.LeaseID
	stopKA  context.CancelFunc
}

// NewWorkerDirectory creates a directory for the manager with the given id.
func NewWorkerDirectory(client *clientv3.Client, managerID string, ttl time.Duration, logger *slog.Logger) *WorkerDirectory {
	return &WorkerDirectory{
		client:    client,
		managerID: managerID,
		ttl:       ttl,
		logger:    logger.With("component", "etcd-worker-directory", "manager_id", managerID),
		tracer:    otel.Tracer("ide-worker-etcd-directory"),
	}
}

// Start grants the manager lease and keeps it alive until Close.
func (d *WorkerDirectory) Start(ctx context.Context) error {
	ttl := int64(d.ttl / time.Second)
	if ttl < 1 {
		ttl = 1
	}
	leaseResp, err := d.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	keepAliveCh, err := d.client.KeepAlive(kaCtx, leaseResp.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start keep-alive: %w", err)
	}

	d.mu.Lock()
	d.leaseID = leaseResp.ID
	d.stopKA = cancel
	d.mu.Unlock()

	go func() {
		for ka := range keepAliveCh {
			d.logger.Debug("lease keep-alive refreshed", "lease_id", ka.ID, "ttl", ka.TTL)
		}
		d.logger.Warn("keep-alive channel closed, published workers may expire")
	}()

	d.logger.Info("worker directory started", "lease_id", leaseResp.ID, "ttl", ttl)
	return nil
}

// Close revokes the lease, which deletes every key this manager published.
func (d *WorkerDirectory) Close(ctx context.Context) error {
	d.mu.Lock()
	leaseID, stop := d.leaseID, d.stopKA
	d.leaseID, d.stopKA = 0, nil
	d.mu.Unlock()

	if stop == nil {
		return nil
	}
	stop()
	if _, err := d.client.Revoke(ctx, leaseID); err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}
	return nil
}

func (d *WorkerDirectory) key(plugin string) string {
	return path.Join(WorkerDirectoryPrefix, d.managerID, plugin)
}

// Publish stores info under the manager's directory.
func (d *WorkerDirectory) Publish(ctx context.Context, info domain.WorkerInfo) error {
	ctx, span := d.tracer.Start(ctx, "directory.etcd.Publish")
	defer span.End()

	if err := info.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal worker info: %w", err)
	}

	key := d.key(info.Plugin)
	span.SetAttributes(attribute.String("plugin", info.Plugin), attribute.String("etcd.key", key))

	var opts []clientv3.OpOption
	d.mu.Lock()
	if d.leaseID != 0 {
		opts = append(opts, clientv3.WithLease(d.leaseID))
	}
	d.mu.Unlock()

	if _, err := d.client.Put(ctx, key, string(data), opts...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put worker to etcd")
		return fmt.Errorf("failed to publish worker %s: %w", info.Plugin, err)
	}
	return nil
}

// Remove deletes the entry for plugin.
func (d *WorkerDirectory) Remove(ctx context.Context, plugin string) error {
	ctx, span := d.tracer.Start(ctx, "directory.etcd.Remove")
	defer span.End()
	span.SetAttributes(attribute.String("plugin", plugin))

	if _, err := d.client.Delete(ctx, d.key(plugin)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete worker from etcd")
		return fmt.Errorf("failed to remove worker %s: %w", plugin, err)
	}
	return nil
}

// List returns the workers published by this manager.
func (d *WorkerDirectory) List(ctx context.Context) ([]domain.WorkerInfo, error) {
	return d.list(ctx, path.Join(WorkerDirectoryPrefix, d.managerID)+"/")
}

// ListAll returns the workers published by every manager.
func (d *WorkerDirectory) ListAll(ctx context.Context) ([]domain.WorkerInfo, error) {
	return d.list(ctx, WorkerDirectoryPrefix)
}

func (d *WorkerDirectory) list(ctx context.Context, prefix string) ([]domain.WorkerInfo, error) {
	ctx, span := d.tracer.Start(ctx, "directory.etcd.List")
	defer span.End()

	resp, err := d.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list workers from etcd")
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}

	infos := make([]domain.WorkerInfo, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		info, err := decodeWorkerInfo(kv.Value)
		if err != nil {
			d.logger.Warn("skipping malformed directory entry", "key", string(kv.Key), "error", err)
			continue
		}
		infos = append(infos, info)
	}
	sortInfos(infos)
	return infos, nil
}

// Watch streams changes below the directory prefix until ctx is done.
// It blocks and should be run in a goroutine.
func (d *WorkerDirectory) Watch(ctx context.Context, fn func(DirectoryEvent)) {
	d.logger.Info("watching worker directory")
	for resp := range d.client.Watch(ctx, WorkerDirectoryPrefix, clientv3.WithPrefix()) {
		for _, ev := range resp.Events {
			out := DirectoryEvent{Key: string(ev.Kv.Key)}
			switch ev.Type {
			case clientv3.EventTypePut:
				info, err := decodeWorkerInfo(ev.Kv.Value)
				if err != nil {
					d.logger.Warn("skipping malformed directory entry", "key", out.Key, "error", err)
					continue
				}
				out.Info = info
			case clientv3.EventTypeDelete:
				out.Deleted = true
				out.Info.ManagerID, out.Info.Plugin = splitKey(out.Key)
			}
			fn(out)
		}
	}
	d.logger.Info("stopped watching worker directory")
}

func decodeWorkerInfo(data []byte) (domain.WorkerInfo, error) {
	var info domain.WorkerInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return info, err
	}
	return info, info.Validate()
}

// splitKey returns the manager id and plugin of a directory key.
func splitKey(key string) (managerID, plugin string) {
	rest := strings.TrimPrefix(key, WorkerDirectoryPrefix)
	managerID, plugin, _ = strings.Cut(rest, "/")
	return managerID, plugin
}

func sortInfos(infos []domain.WorkerInfo) {
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].ManagerID != infos[j].ManagerID {
			return infos[i].ManagerID < infos[j].ManagerID
		}
		return infos[i].Plugin < infos[j].Plugin
	})
}
