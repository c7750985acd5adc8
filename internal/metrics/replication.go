package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ReplicationMetrics holds metrics for cross-region replication jobs.
type ReplicationMetrics struct {
	// JobsTotal counts finished jobs by terminal status (completed, failed).
	JobsTotal *prometheus.CounterVec

	// JobsInFlight is the number of jobs currently running.
	JobsInFlight prometheus.Gauge

	// JobDuration tracks wall time from start to terminal state.
	JobDuration prometheus.Histogram

	// ObjectsTotal counts per-target object copies by outcome.
	// Labels: target, status (success, failure)
	ObjectsTotal *prometheus.CounterVec

	// QueueDepth is the number of jobs waiting for a worker.
	QueueDepth prometheus.Gauge
}

// NewReplicationMetrics creates replication metrics on the default registry.
func NewReplicationMetrics() *ReplicationMetrics {
	return newReplicationMetrics(defaultFactory())
}

// NewReplicationMetricsWithRegistry creates replication metrics registered with reg.
func NewReplicationMetricsWithRegistry(reg prometheus.Registerer) *ReplicationMetrics {
	return newReplicationMetrics(promauto.With(reg))
}

func newReplicationMetrics(f promauto.Factory) *ReplicationMetrics {
	return &ReplicationMetrics{
		JobsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "replication",
				Name:      "jobs_total",
				Help:      "Replication jobs that reached a terminal state, by status.",
			},
			[]string{"status"},
		),
		JobsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "replication",
				Name:      "jobs_in_flight",
				Help:      "Replication jobs currently running.",
			},
		),
		JobDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "replication",
				Name:      "job_duration_seconds",
				Help:      "Replication job duration from start to terminal state.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
			},
		),
		ObjectsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "replication",
				Name:      "objects_total",
				Help:      "Object copies to target regions, by target and outcome.",
			},
			[]string{"target", "status"},
		),
		QueueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "replication",
				Name:      "queue_depth",
				Help:      "Replication jobs waiting for a worker.",
			},
		),
	}
}

// RecordJobStarted marks a job as running.
func (m *ReplicationMetrics) RecordJobStarted() {
	m.JobsInFlight.Inc()
}

// RecordJobFinished records a job reaching status after durationSeconds.
func (m *ReplicationMetrics) RecordJobFinished(status string, durationSeconds float64) {
	m.JobsInFlight.Dec()
	m.JobsTotal.WithLabelValues(status).Inc()
	m.JobDuration.Observe(durationSeconds)
}

// RecordObject records one (path, target) copy.
func (m *ReplicationMetrics) RecordObject(target string, success bool) {
	m.ObjectsTotal.WithLabelValues(target, statusLabel(success)).Inc()
}

// SetQueueDepth publishes the number of queued jobs.
func (m *ReplicationMetrics) SetQueueDepth(n int) {
	m.QueueDepth.Set(float64(n))
}
