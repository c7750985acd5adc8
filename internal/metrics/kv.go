package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// KVMetrics holds metrics for durable key-value store operations.
type KVMetrics struct {
	// LatencyHistogram tracks KV operation latencies.
	// Labels: operation (get, put, delete, list), status (success, failure)
	LatencyHistogram *prometheus.HistogramVec

	// RequestsTotal tracks total KV operations by operation and status.
	RequestsTotal *prometheus.CounterVec
}

// KV operation label values.
const (
	OpKVGet    = "get"
	OpKVPut    = "put"
	OpKVDelete = "delete"
	OpKVList   = "list"
)

// DefaultKVLatencyBuckets are latency buckets for metadata operations,
// which are typically sub-ms to tens of ms.
var DefaultKVLatencyBuckets = []float64{
	0.0001, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewKVMetrics creates KV metrics on the default registry.
func NewKVMetrics() *KVMetrics {
	return newKVMetrics(defaultFactory())
}

// NewKVMetricsWithRegistry creates KV metrics registered with reg.
func NewKVMetricsWithRegistry(reg prometheus.Registerer) *KVMetrics {
	return newKVMetrics(promauto.With(reg))
}

func newKVMetrics(f promauto.Factory) *KVMetrics {
	return &KVMetrics{
		LatencyHistogram: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "kv",
				Name:      "operation_latency_seconds",
				Help:      "Durable KV operation latency in seconds, broken down by operation and status.",
				Buckets:   DefaultKVLatencyBuckets,
			},
			[]string{"operation", "status"},
		),
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "kv",
				Name:      "operations_total",
				Help:      "Total number of durable KV operations, broken down by operation and status.",
			},
			[]string{"operation", "status"},
		),
	}
}

func (m *KVMetrics) record(op string, durationSeconds float64, success bool) {
	status := statusLabel(success)
	m.LatencyHistogram.WithLabelValues(op, status).Observe(durationSeconds)
	m.RequestsTotal.WithLabelValues(op, status).Inc()
}

// RecordGet records a Get operation.
func (m *KVMetrics) RecordGet(durationSeconds float64, success bool) {
	m.record(OpKVGet, durationSeconds, success)
}

// RecordPut records a Put operation.
func (m *KVMetrics) RecordPut(durationSeconds float64, success bool) {
	m.record(OpKVPut, durationSeconds, success)
}

// RecordDelete records a Delete operation.
func (m *KVMetrics) RecordDelete(durationSeconds float64, success bool) {
	m.record(OpKVDelete, durationSeconds, success)
}

// RecordList records a List operation.
func (m *KVMetrics) RecordList(durationSeconds float64, success bool) {
	m.record(OpKVList, durationSeconds, success)
}
