package metrics

import (
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// testMetricsOnce ensures we only create test metrics once to avoid duplicate registration
var testMetricsOnce sync.Once
var testMetrics *CacheMetrics

func getTestMetrics() *CacheMetrics {
	testMetricsOnce.Do(func() {
		testMetrics = NewCacheMetrics()
	})
	return testMetrics
}

func TestNewServer(t *testing.T) {
	s := NewServer(":0")
	if s.addr != ":0" {
		t.Errorf("addr = %q, want %q", s.addr, ":0")
	}
}

func TestServer_StartAndClose(t *testing.T) {
	s := NewServer(":0")
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Close()

	// Verify we got a bound address
	addr := s.Addr()
	if !strings.Contains(addr, ":") {
		t.Errorf("Addr() = %q, expected host:port format", addr)
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	// Get test metrics (only created once)
	m := getTestMetrics()
	m.RecordLookup("eu-west", true)
	m.RecordWrite("eu-west", true)
	m.RecordWrite("us-east", false)

	// Start server
	s := NewServer(":0")
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Close()

	// Give server time to start
	time.Sleep(10 * time.Millisecond)

	// Fetch metrics
	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}

	bodyStr := string(body)

	// Check for our custom metrics
	if !strings.Contains(bodyStr, "georoute_cache_lookups_total") {
		t.Error("expected georoute_cache_lookups_total in metrics output")
	}
	if !strings.Contains(bodyStr, "georoute_cache_writes_total") {
		t.Error("expected georoute_cache_writes_total in metrics output")
	}

	// Check for status labels
	if !strings.Contains(bodyStr, `status="success"`) {
		t.Error("expected status=success label in metrics output")
	}
	if !strings.Contains(bodyStr, `status="failure"`) {
		t.Error("expected status=failure label in metrics output")
	}
}

func TestServer_MetricsEndpointFormat(t *testing.T) {
	// Get test metrics (only created once)
	m := getTestMetrics()
	m.RecordLookup("us-east", false)

	s := NewServer(":0")
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Close()

	time.Sleep(10 * time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()

	// Verify content type is prometheus format
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/plain") {
		t.Errorf("Content-Type = %q, expected text/plain", contentType)
	}
}

func TestServerWithCustomRegistry(t *testing.T) {
	// Use a custom registry for isolation
	reg := prometheus.NewRegistry()
	m := NewRoutingMetricsWithRegistry(reg)
	m.RecordDecision("eu-west", "failover", true)

	// Create server with custom registry
	s := NewServerWithRegistry(":0", reg)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Close()

	time.Sleep(10 * time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}

	bodyStr := string(body)

	// Verify custom metrics are present
	if !strings.Contains(bodyStr, `georoute_routing_decisions_total{fallback="true",reason="failover",region="eu-west"} 1`) {
		t.Errorf("expected failover decision in metrics output, got:\n%s", bodyStr)
	}
}

func TestServer_Close(t *testing.T) {
	s := NewServer(":0")
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	addr := s.Addr()

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Give server time to close
	time.Sleep(10 * time.Millisecond)

	// Verify server is closed
	_, err := http.Get("http://" + addr + "/metrics")
	if err == nil {
		t.Error("expected error after server close")
	}
}

func TestServer_CloseWithoutStart(t *testing.T) {
	s := NewServer(":0")
	// Should not panic or error
	if err := s.Close(); err != nil {
		t.Errorf("Close on unstarted server returned error: %v", err)
	}
}
