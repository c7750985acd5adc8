package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

func TestObjectStoreMetrics_NewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewObjectStoreMetricsWithRegistry(reg)

	// Vec types are not exposed until they have observations.
	m.RecordObjectOp(OpObjPut, "eu-west", 0.01, true, 100)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if len(mfs) != 3 {
		t.Errorf("Expected 3 metric families, got %d", len(mfs))
	}
}

func TestObjectStoreMetrics_PerRegion(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewObjectStoreMetricsWithRegistry(reg)

	m.RecordObjectOp(OpObjPut, "us-east", 0.1, true, 1024)
	m.RecordObjectOp(OpObjPut, "us-east", 0.2, false, 512)
	m.RecordObjectOp(OpObjGet, "eu-west", 0.05, true, 256)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	requestsMF := findMetricFamily(mfs, "georoute_objectstore_operations_total")
	if requestsMF == nil {
		t.Fatal("georoute_objectstore_operations_total not found")
	}
	if v := getCounterValue(requestsMF, map[string]string{"operation": OpObjPut, "region": "us-east", "status": StatusSuccess}); v != 1 {
		t.Errorf("Expected 1 success put in us-east, got %f", v)
	}
	if v := getCounterValue(requestsMF, map[string]string{"operation": OpObjPut, "region": "us-east", "status": StatusFailure}); v != 1 {
		t.Errorf("Expected 1 failure put in us-east, got %f", v)
	}
	if v := getCounterValue(requestsMF, map[string]string{"operation": OpObjGet, "region": "us-east", "status": StatusSuccess}); v != 0 {
		t.Errorf("Expected no gets in us-east, got %f", v)
	}

	// Failed writes do not count bytes.
	bytesMF := findMetricFamily(mfs, "georoute_objectstore_bytes_total")
	if bytesMF == nil {
		t.Fatal("georoute_objectstore_bytes_total not found")
	}
	if v := getCounterValue(bytesMF, map[string]string{"direction": DirectionWrite, "region": "us-east"}); v != 1024 {
		t.Errorf("Expected 1024 bytes written to us-east, got %f", v)
	}
	if v := getCounterValue(bytesMF, map[string]string{"direction": DirectionRead, "region": "eu-west"}); v != 256 {
		t.Errorf("Expected 256 bytes read from eu-west, got %f", v)
	}
}

func TestObjectStoreMetrics_NoBytesForMetadataOps(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewObjectStoreMetricsWithRegistry(reg)

	m.RecordObjectOp(OpObjHead, "eu-west", 0.01, false, 0)
	m.RecordObjectOp(OpObjDelete, "eu-west", 0.01, true, 0)
	m.RecordObjectOp(OpObjList, "eu-west", 0.01, true, 10)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	requestsMF := findMetricFamily(mfs, "georoute_objectstore_operations_total")
	for _, c := range []struct {
		op, status string
	}{
		{OpObjHead, StatusFailure},
		{OpObjDelete, StatusSuccess},
		{OpObjList, StatusSuccess},
	} {
		if v := getCounterValue(requestsMF, map[string]string{"operation": c.op, "region": "eu-west", "status": c.status}); v != 1 {
			t.Errorf("%s/%s = %f, want 1", c.op, c.status, v)
		}
	}
	if findMetricFamily(mfs, "georoute_objectstore_bytes_total") != nil {
		t.Error("bytes counted for an operation without a body")
	}
}

// Helper to find a metric family by name
func findMetricFamily(mfs []*io_prometheus_client.MetricFamily, name string) *io_prometheus_client.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

// Helper to get counter value with specific labels
func getCounterValue(mf *io_prometheus_client.MetricFamily, labels map[string]string) float64 {
	for _, metric := range mf.Metric {
		if matchLabels(metric.Label, labels) {
			if metric.Counter != nil {
				return metric.Counter.GetValue()
			}
		}
	}
	return 0
}

// Helper to check if metric labels match expected labels
func matchLabels(metricLabels []*io_prometheus_client.LabelPair, expected map[string]string) bool {
	if len(metricLabels) != len(expected) {
		return false
	}
	for _, lp := range metricLabels {
		if expected[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}
