package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ObjectStoreMetrics holds metrics related to object store operations.
type ObjectStoreMetrics struct {
	// LatencyHistogram tracks object store operation latencies.
	// Labels: operation, region, status
	LatencyHistogram *prometheus.HistogramVec

	// RequestsTotal counts operations. Labels: operation, region, status
	RequestsTotal *prometheus.CounterVec

	// BytesTotal counts body bytes moved. Labels: direction (read, write), region
	BytesTotal *prometheus.CounterVec
}

// Object store operation label values.
const (
	OpObjPut    = "put"
	OpObjGet    = "get"
	OpObjHead   = "head"
	OpObjDelete = "delete"
	OpObjList   = "list"
)

// Bytes direction label values.
const (
	DirectionRead  = "read"
	DirectionWrite = "write"
)

// DefaultObjectStoreLatencyBuckets are latency buckets for object store operations.
// S3-compatible backends typically answer in tens of ms to seconds.
var DefaultObjectStoreLatencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewObjectStoreMetrics creates object store metrics on the default registry.
func NewObjectStoreMetrics() *ObjectStoreMetrics {
	return newObjectStoreMetrics(defaultFactory())
}

// NewObjectStoreMetricsWithRegistry creates object store metrics registered with reg.
func NewObjectStoreMetricsWithRegistry(reg prometheus.Registerer) *ObjectStoreMetrics {
	return newObjectStoreMetrics(promauto.With(reg))
}

func newObjectStoreMetrics(f promauto.Factory) *ObjectStoreMetrics {
	return &ObjectStoreMetrics{
		LatencyHistogram: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "objectstore",
				Name:      "operation_latency_seconds",
				Help:      "Object store operation latency in seconds by operation, region namespace and status.",
				Buckets:   DefaultObjectStoreLatencyBuckets,
			},
			[]string{"operation", "region", "status"},
		),
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "objectstore",
				Name:      "operations_total",
				Help:      "Total number of object store operations by operation, region namespace and status.",
			},
			[]string{"operation", "region", "status"},
		),
		BytesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "objectstore",
				Name:      "bytes_total",
				Help:      "Total object body bytes transferred by direction (read/write) and region namespace.",
			},
			[]string{"direction", "region"},
		),
	}
}

// RecordObjectOp records one operation against a region namespace. Bytes
// count only for successful puts and gets.
func (m *ObjectStoreMetrics) RecordObjectOp(operation, region string, durationSeconds float64, success bool, bytes int64) {
	status := statusLabel(success)
	m.LatencyHistogram.WithLabelValues(operation, region, status).Observe(durationSeconds)
	m.RequestsTotal.WithLabelValues(operation, region, status).Inc()
	if !success || bytes <= 0 {
		return
	}
	switch operation {
	case OpObjPut:
		m.BytesTotal.WithLabelValues(DirectionWrite, region).Add(float64(bytes))
	case OpObjGet:
		m.BytesTotal.WithLabelValues(DirectionRead, region).Add(float64(bytes))
	}
}
