package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CacheMetrics holds metrics for the region-scoped cache.
type CacheMetrics struct {
	// LookupsTotal counts cache reads.
	// Labels: region, result (hit, miss)
	LookupsTotal *prometheus.CounterVec

	// WritesTotal counts cache writes (Cache and WarmCache).
	// Labels: region, status
	WritesTotal *prometheus.CounterVec

	// PurgesTotal counts per-region purge deletes.
	// Labels: region, status
	PurgesTotal *prometheus.CounterVec
}

// Cache lookup result label values.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

// NewCacheMetrics creates cache metrics on the default registry.
func NewCacheMetrics() *CacheMetrics {
	return newCacheMetrics(defaultFactory())
}

// NewCacheMetricsWithRegistry creates cache metrics registered with reg.
func NewCacheMetricsWithRegistry(reg prometheus.Registerer) *CacheMetrics {
	return newCacheMetrics(promauto.With(reg))
}

func newCacheMetrics(f promauto.Factory) *CacheMetrics {
	return &CacheMetrics{
		LookupsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Region-scoped cache lookups by region and result.",
			},
			[]string{"region", "result"},
		),
		WritesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "cache",
				Name:      "writes_total",
				Help:      "Region-scoped cache writes by region and outcome.",
			},
			[]string{"region", "status"},
		),
		PurgesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "cache",
				Name:      "purges_total",
				Help:      "Per-region cache purge deletes by region and outcome.",
			},
			[]string{"region", "status"},
		),
	}
}

// RecordLookup counts a cache read.
func (m *CacheMetrics) RecordLookup(region string, hit bool) {
	result := CacheMiss
	if hit {
		result = CacheHit
	}
	m.LookupsTotal.WithLabelValues(region, result).Inc()
}

// RecordWrite counts a cache write.
func (m *CacheMetrics) RecordWrite(region string, success bool) {
	m.WritesTotal.WithLabelValues(region, statusLabel(success)).Inc()
}

// RecordPurge counts a per-region purge delete.
func (m *CacheMetrics) RecordPurge(region string, success bool) {
	m.PurgesTotal.WithLabelValues(region, statusLabel(success)).Inc()
}
