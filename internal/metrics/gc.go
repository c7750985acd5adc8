package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GCMetrics holds metrics for the expired-record sweeper.
type GCMetrics struct {
	// DeletedTotal counts expired KV records deleted, by key prefix.
	DeletedTotal *prometheus.CounterVec

	// ScansTotal counts sweep passes by outcome.
	ScansTotal *prometheus.CounterVec

	// LastScanExpired is the number of expired records seen in the latest pass.
	LastScanExpired prometheus.Gauge
}

// NewGCMetrics creates GC metrics on the default registry.
func NewGCMetrics() *GCMetrics {
	return newGCMetrics(defaultFactory())
}

// NewGCMetricsWithRegistry creates GC metrics registered with reg.
func NewGCMetricsWithRegistry(reg prometheus.Registerer) *GCMetrics {
	return newGCMetrics(promauto.With(reg))
}

func newGCMetrics(f promauto.Factory) *GCMetrics {
	return &GCMetrics{
		DeletedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "gc",
				Name:      "expired_deleted_total",
				Help:      "Expired durable KV records deleted by the sweeper, by key prefix.",
			},
			[]string{"prefix"},
		),
		ScansTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "gc",
				Name:      "scans_total",
				Help:      "Expiry sweep passes by outcome.",
			},
			[]string{"status"},
		),
		LastScanExpired: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "gc",
				Name:      "last_scan_expired",
				Help:      "Expired records found by the most recent sweep pass.",
			},
		),
	}
}

// RecordDeleted counts n expired records deleted under prefix.
func (m *GCMetrics) RecordDeleted(prefix string, n int) {
	if n > 0 {
		m.DeletedTotal.WithLabelValues(prefix).Add(float64(n))
	}
}

// RecordScan records a finished sweep pass.
func (m *GCMetrics) RecordScan(expired int, success bool) {
	m.ScansTotal.WithLabelValues(statusLabel(success)).Inc()
	m.LastScanExpired.Set(float64(expired))
}
