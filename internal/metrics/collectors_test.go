package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutingMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRoutingMetricsWithRegistry(reg)

	m.RecordDecision("eu-west", "geo", false)
	m.RecordDecision("eu-west", "geo", false)
	m.RecordDecision("us-east", "failover", true)
	m.RecordNoHealthyRegion()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("eu-west", "geo", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("us-east", "failover", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NoHealthyRegionTotal))
}

func TestHealthMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHealthMetricsWithRegistry(reg)

	m.RecordProbe("eu-west", 0.02, true)
	m.RecordProbe("eu-west", 5, false)
	m.SetOriginHealthy("eu-west", "o1", true)
	m.SetOriginHealthy("eu-west", "o2", false)
	m.RecordTransition("eu-west", false)
	m.RecordSweep(0.5)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProbesTotal.WithLabelValues("eu-west", StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProbesTotal.WithLabelValues("eu-west", StatusFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OriginHealthy.WithLabelValues("eu-west", "o1")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.OriginHealthy.WithLabelValues("eu-west", "o2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("eu-west", TransitionUnhealthy)))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	sweep := findMetricFamily(mfs, "georoute_health_sweep_duration_seconds")
	require.NotNil(t, sweep)
	assert.Equal(t, uint64(1), sweep.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestReplicationMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewReplicationMetricsWithRegistry(reg)

	m.RecordJobStarted()
	m.RecordJobStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobsInFlight))

	m.RecordObject("us-east", true)
	m.RecordObject("ap-south", false)
	m.RecordJobFinished("failed", 1.5)
	m.SetQueueDepth(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ObjectsTotal.WithLabelValues("us-east", StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ObjectsTotal.WithLabelValues("ap-south", StatusFailure)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.QueueDepth))
}

func TestCacheMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCacheMetricsWithRegistry(reg)

	m.RecordLookup("eu-west", true)
	m.RecordLookup("eu-west", false)
	m.RecordLookup("eu-west", false)
	m.RecordWrite("us-east", true)
	m.RecordPurge("us-east", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LookupsTotal.WithLabelValues("eu-west", CacheHit)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LookupsTotal.WithLabelValues("eu-west", CacheMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WritesTotal.WithLabelValues("us-east", StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PurgesTotal.WithLabelValues("us-east", StatusFailure)))
}

func TestKVMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewKVMetricsWithRegistry(reg)

	m.RecordGet(0.001, true)
	m.RecordPut(0.002, false)
	m.RecordDelete(0.001, true)
	m.RecordList(0.003, true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(OpKVGet, StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(OpKVPut, StatusFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(OpKVDelete, StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(OpKVList, StatusSuccess)))
}

func TestGCMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewGCMetricsWithRegistry(reg)

	m.RecordDeleted("/georoute/v1/cache/eu-west/", 4)
	m.RecordDeleted("/georoute/v1/cache/eu-west/", 0)
	m.RecordScan(4, true)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.DeletedTotal.WithLabelValues("/georoute/v1/cache/eu-west/")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScansTotal.WithLabelValues(StatusSuccess)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.LastScanExpired))
}

func TestLatencyBucketsSorted(t *testing.T) {
	for name, buckets := range map[string][]float64{
		"objectstore": DefaultObjectStoreLatencyBuckets,
		"kv":          DefaultKVLatencyBuckets,
		"probe":       DefaultProbeLatencyBuckets,
	} {
		for i := 1; i < len(buckets); i++ {
			if buckets[i] <= buckets[i-1] {
				t.Errorf("%s buckets not sorted at index %d: %v", name, i, buckets)
			}
		}
	}
}
