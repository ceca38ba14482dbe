// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HttpRequestsTotal counts control API requests.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ide_worker_http_requests_total",
			Help: "Total number of http requests handled by the control API.",
		},
		[]string{"path", "method", "code"},
	)

	// Workers tracks live worker processes by lifecycle state.
	Workers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ide_workers",
			Help: "Number of worker processes per state.",
		},
		[]string{"state"},
	)

	// WorkerSpawnTotal counts spawn attempts by outcome (success/failed).
	WorkerSpawnTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ide_worker_spawns_total",
			Help: "Total number of worker spawn attempts.",
		},
		[]string{"plugin", "status"},
	)

	// ConnectionsRejectedTotal counts inbound connections dropped before matching.
	ConnectionsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ide_worker_connections_rejected_total",
			Help: "Total number of inbound connections rejected by the worker manager.",
		},
		[]string{"reason"},
	)

	// WorkerEvictionsTotal counts workers removed from the registry.
	WorkerEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ide_worker_evictions_total",
			Help: "Total number of worker evictions.",
		},
		[]string{"reason"},
	)

	// ProxyCallsTotal counts calls made through worker proxies.
	ProxyCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ide_worker_proxy_calls_total",
			Help: "Total number of calls made to worker processes.",
		},
		[]string{"plugin", "status"},
	)

	// FlatpakCommandsTotal counts external flatpak tool invocations.
	FlatpakCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ide_flatpak_commands_total",
			Help: "Total number of flatpak tool invocations.",
		},
		[]string{"tool", "status"},
	)
)
