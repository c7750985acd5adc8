// Package metrics provides Prometheus metrics for observability.
//
// Collectors:
//   - RoutingMetrics: routing decisions by reason and fallback, no-healthy-region failures
//   - HealthMetrics: probe latency and outcome per region, origin health gauges, sweep duration
//   - ReplicationMetrics: jobs by terminal status, in-flight jobs, object copies, queue depth
//   - CacheMetrics: per-region hits, misses, writes and purges
//   - GCMetrics: expired KV records removed by the expiry sweeper
//   - ObjectStoreMetrics: backend latency, outcome and bytes per operation and region namespace
//   - KVMetrics: metadata store latency and outcome per operation
//
// Every collector has a New...() constructor registering with the default
// registry and a New...WithRegistry(reg) variant for tests.
//
// Metrics are exposed via a dedicated HTTP server on /metrics in Prometheus format.
//
// Usage:
//
//	routingMetrics := metrics.NewRoutingMetrics()
//	engine := routing.NewEngine(dir, routing.WithMetrics(routingMetrics))
//
//	metricsServer := metrics.NewServer(":9090")
//	metricsServer.Start()
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every georoute metric name.
const Namespace = "georoute"

// Status label values shared by all collectors.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

func statusLabel(success bool) string {
	if success {
		return StatusSuccess
	}
	return StatusFailure
}

func defaultFactory() promauto.Factory {
	return promauto.With(prometheus.DefaultRegisterer)
}
