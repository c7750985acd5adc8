package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RoutingMetrics counts routing outcomes.
type RoutingMetrics struct {
	// DecisionsTotal counts routing decisions.
	// Labels: region, reason (geo, latency, failover, weighted), fallback (true, false)
	DecisionsTotal *prometheus.CounterVec

	// NoHealthyRegionTotal counts requests that found no viable region.
	NoHealthyRegionTotal prometheus.Counter
}

// NewRoutingMetrics creates routing metrics on the default registry.
func NewRoutingMetrics() *RoutingMetrics {
	return newRoutingMetrics(defaultFactory())
}

// NewRoutingMetricsWithRegistry creates routing metrics registered with reg.
func NewRoutingMetricsWithRegistry(reg prometheus.Registerer) *RoutingMetrics {
	return newRoutingMetrics(promauto.With(reg))
}

func newRoutingMetrics(f promauto.Factory) *RoutingMetrics {
	return &RoutingMetrics{
		DecisionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "routing",
				Name:      "decisions_total",
				Help:      "Routing decisions by chosen region, reason and whether a fallback was taken.",
			},
			[]string{"region", "reason", "fallback"},
		),
		NoHealthyRegionTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "routing",
				Name:      "no_healthy_region_total",
				Help:      "Routing requests that failed because no region had a healthy origin.",
			},
		),
	}
}

// RecordDecision counts one successful routing decision.
func (m *RoutingMetrics) RecordDecision(region, reason string, fallback bool) {
	m.DecisionsTotal.WithLabelValues(region, reason, strconv.FormatBool(fallback)).Inc()
}

// RecordNoHealthyRegion counts one failed routing request.
func (m *RoutingMetrics) RecordNoHealthyRegion() {
	m.NoHealthyRegionTotal.Inc()
}
