package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HealthMetrics holds metrics for origin health probing.
type HealthMetrics struct {
	// ProbeLatency tracks probe round-trip time.
	// Labels: region, status (success, failure)
	ProbeLatency *prometheus.HistogramVec

	// ProbesTotal counts probes by region and outcome.
	ProbesTotal *prometheus.CounterVec

	// OriginHealthy is 1 for healthy origins and 0 otherwise.
	// Labels: region, origin
	OriginHealthy *prometheus.GaugeVec

	// TransitionsTotal counts origin health flips.
	// Labels: region, to (healthy, unhealthy)
	TransitionsTotal *prometheus.CounterVec

	// SweepDuration tracks how long a full health sweep takes.
	SweepDuration prometheus.Histogram
}

// Health transition label values.
const (
	TransitionHealthy   = "healthy"
	TransitionUnhealthy = "unhealthy"
)

// DefaultProbeLatencyBuckets cover fast local origins up to the 5s probe timeout.
var DefaultProbeLatencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewHealthMetrics creates health metrics on the default registry.
func NewHealthMetrics() *HealthMetrics {
	return newHealthMetrics(defaultFactory())
}

// NewHealthMetricsWithRegistry creates health metrics registered with reg.
func NewHealthMetricsWithRegistry(reg prometheus.Registerer) *HealthMetrics {
	return newHealthMetrics(promauto.With(reg))
}

func newHealthMetrics(f promauto.Factory) *HealthMetrics {
	return &HealthMetrics{
		ProbeLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "health",
				Name:      "probe_latency_seconds",
				Help:      "Origin health probe latency in seconds by region and outcome.",
				Buckets:   DefaultProbeLatencyBuckets,
			},
			[]string{"region", "status"},
		),
		ProbesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "health",
				Name:      "probes_total",
				Help:      "Origin health probes by region and outcome.",
			},
			[]string{"region", "status"},
		),
		OriginHealthy: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "health",
				Name:      "origin_healthy",
				Help:      "1 if the origin is currently considered healthy, 0 otherwise.",
			},
			[]string{"region", "origin"},
		),
		TransitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "health",
				Name:      "transitions_total",
				Help:      "Origin health state changes by region and new state.",
			},
			[]string{"region", "to"},
		),
		SweepDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "health",
				Name:      "sweep_duration_seconds",
				Help:      "Duration of a full health sweep across all regions.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
	}
}

// RecordProbe records one probe's latency and outcome.
func (m *HealthMetrics) RecordProbe(region string, durationSeconds float64, success bool) {
	status := statusLabel(success)
	m.ProbeLatency.WithLabelValues(region, status).Observe(durationSeconds)
	m.ProbesTotal.WithLabelValues(region, status).Inc()
}

// SetOriginHealthy publishes an origin's current health flag.
func (m *HealthMetrics) SetOriginHealthy(region, origin string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	m.OriginHealthy.WithLabelValues(region, origin).Set(v)
}

// RecordTransition counts an origin flipping health state.
func (m *HealthMetrics) RecordTransition(region string, healthy bool) {
	to := TransitionUnhealthy
	if healthy {
		to = TransitionHealthy
	}
	m.TransitionsTotal.WithLabelValues(region, to).Inc()
}

// RecordSweep records the duration of one full sweep.
func (m *HealthMetrics) RecordSweep(durationSeconds float64) {
	m.SweepDuration.Observe(durationSeconds)
}
