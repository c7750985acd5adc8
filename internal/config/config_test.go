package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "localhost:6648", cfg.Metadata.OxiaEndpoint)
	assert.Equal(t, 30*time.Second, cfg.Health.Interval)
	assert.Equal(t, 5*time.Second, cfg.Health.ProbeTimeout)
	assert.Equal(t, "/health", cfg.Health.ProbePath)
	assert.Equal(t, 7*24*time.Hour, cfg.Replication.JobRetention)
	assert.Equal(t, time.Hour, cfg.Cache.DefaultTTL)
	assert.Equal(t, "CF-IPCountry", cfg.Routing.CountryHeader)
	assert.Equal(t, 5*time.Second, cfg.Events.PublishTimeout)
}

func TestParse_OverlaysDefaults(t *testing.T) {
	data := []byte(`
metadata:
  backend: memory
objectStore:
  backend: memory
health:
  interval: 10s
regions:
  - id: eu-west
    name: Europe West
    code: EUW
    countries: [DE, FR]
    fallback: us-east
    origins:
      - id: euw-1
        url: https://euw-1.example.com
        weight: 2
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Health.Interval)
	assert.Equal(t, 5*time.Second, cfg.Health.ProbeTimeout, "unset fields keep defaults")
	require.Len(t, cfg.Regions, 1)
	assert.Equal(t, "us-east", cfg.Regions[0].Fallback)
	assert.Equal(t, []string{"DE", "FR"}, cfg.Regions[0].Countries)
	assert.Equal(t, 2.0, cfg.Regions[0].Origins[0].Weight)
	assert.NoError(t, cfg.Validate())
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("health: [unterminated"))
	assert.Error(t, err)
}

func TestLoadFromPath_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "georoute.yaml")
	require.NoError(t, os.WriteFile(path, []byte("metadata:\n  backend: memory\nobjectStore:\n  backend: memory\n"), 0o644))

	t.Setenv("GEOROUTE_LISTEN_ADDR", ":9999")
	t.Setenv("GEOROUTE_REPLICATION_WORKERS", "7")
	t.Setenv("GEOROUTE_HEALTH_INTERVAL", "45s")
	t.Setenv("GEOROUTE_EVENTS_BROKERS", "k1:9092, k2:9092")
	t.Setenv("GEOROUTE_REPLICATION_WRITES_PER_SECOND", "12.5")
	t.Setenv("GEOROUTE_EVENTS_PUBLISH_TIMEOUT", "750ms")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.ListenAddr)
	assert.Equal(t, 7, cfg.Replication.Workers)
	assert.Equal(t, 45*time.Second, cfg.Health.Interval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.Brokers)
	assert.Equal(t, 12.5, cfg.Replication.WritesPerSecond)
	assert.Equal(t, 750*time.Millisecond, cfg.Events.PublishTimeout)
}

func TestLoadFromPath_BadEnvValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "georoute.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	t.Setenv("GEOROUTE_HEALTH_CONCURRENCY", "lots")

	_, err := LoadFromPath(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown metadata backend", func(c *Config) { c.Metadata.Backend = "etcd" }},
		{"s3 without bucket", func(c *Config) { c.ObjectStore.Backend = "s3"; c.ObjectStore.Bucket = "" }},
		{"zero workers", func(c *Config) { c.Replication.Workers = 0 }},
		{"negative write rate", func(c *Config) { c.Replication.WritesPerSecond = -1 }},
		{"events without brokers", func(c *Config) { c.Events.Enabled = true }},
		{"zero probe timeout", func(c *Config) { c.Health.ProbeTimeout = 0 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.ObjectStore.Bucket = "content"
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_DefaultsWithBucket(t *testing.T) {
	cfg := Default()
	cfg.ObjectStore.Bucket = "content"
	assert.NoError(t, cfg.Validate())
}
