package health

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/georoute-io/georoute/internal/logging"
	"github.com/georoute-io/georoute/internal/region"
)

// MetricsRecorder is the subset of metrics.HealthMetrics used by the monitor.
type MetricsRecorder interface {
	RecordProbe(region string, durationSeconds float64, success bool)
	SetOriginHealthy(region, origin string, healthy bool)
	RecordTransition(region string, healthy bool)
	RecordSweep(durationSeconds float64)
}

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	// ProbeTimeout bounds each probe. Default: 5s.
	ProbeTimeout time.Duration

	// Concurrency caps probes in flight during a sweep. Default: 8.
	Concurrency int

	Logger  *logging.Logger
	Metrics MetricsRecorder

	// Now is the clock used for LastCheck and latency. Default: time.Now.
	Now func() time.Time
}

// Monitor probes every origin in a directory.
type Monitor struct {
	dir     *region.Directory
	prober  Prober
	timeout time.Duration
	limit   int
	logger  *logging.Logger
	metrics MetricsRecorder
	now     func() time.Time
}

// NewMonitor creates a Monitor for dir.
func NewMonitor(dir *region.Directory, prober Prober, cfg MonitorConfig) *Monitor {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.DefaultLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Monitor{
		dir:     dir,
		prober:  prober,
		timeout: cfg.ProbeTimeout,
		limit:   cfg.Concurrency,
		logger:  cfg.Logger.WithComponent("health-monitor"),
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}
}

// PerformHealthChecks probes every origin once, saves the directory and
// returns a health summary per region id. Individual probe failures are
// recorded on the origin and never returned. The returned error is the
// directory save failure, if any; the summaries are valid either way.
func (m *Monitor) PerformHealthChecks(ctx context.Context) (map[string]region.HealthStatus, error) {
	start := m.now()

	var g errgroup.Group
	g.SetLimit(m.limit)
	for _, r := range m.dir.Regions() {
		for _, o := range r.Origins {
			if ctx.Err() != nil {
				break
			}
			regionID, originID, url := r.ID, o.ID, o.URL
			g.Go(func() error {
				m.probeOrigin(ctx, regionID, originID, url)
				return nil
			})
		}
	}
	_ = g.Wait()

	if m.metrics != nil {
		m.metrics.RecordSweep(m.now().Sub(start).Seconds())
	}

	out := make(map[string]region.HealthStatus, m.dir.Len())
	for _, s := range m.GetHealthStatus() {
		out[s.RegionID] = s
	}

	if err := m.dir.SaveRegions(ctx); err != nil {
		m.logger.Errorf("failed to persist health state", map[string]any{"error": err.Error()})
		return out, err
	}
	return out, nil
}

func (m *Monitor) probeOrigin(ctx context.Context, regionID, originID, url string) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	started := m.now()
	err := m.prober.Probe(probeCtx, url)
	finished := m.now()
	elapsed := finished.Sub(started)
	success := err == nil

	// A cancelled caller says nothing about the origin; leave it untouched.
	if ctx.Err() != nil {
		m.logger.Debugf("discarding probe result after cancellation", map[string]any{
			"region": regionID,
			"origin": originID,
		})
		return
	}

	var changed, healthy bool
	updateErr := m.dir.UpdateOrigin(regionID, originID, func(o *region.Origin) {
		changed = o.RecordProbe(success, float64(elapsed.Microseconds())/1000, finished)
		healthy = o.Healthy
	})
	if updateErr != nil {
		// Removed from the directory while the probe was in flight.
		m.logger.Debugf("dropping probe result", map[string]any{
			"region": regionID,
			"origin": originID,
			"error":  updateErr.Error(),
		})
		return
	}

	if m.metrics != nil {
		m.metrics.RecordProbe(regionID, elapsed.Seconds(), success)
		m.metrics.SetOriginHealthy(regionID, originID, healthy)
		if changed {
			m.metrics.RecordTransition(regionID, healthy)
		}
	}

	if !success {
		m.logger.Debugf("probe failed", map[string]any{
			"region": regionID,
			"origin": originID,
			"error":  err.Error(),
		})
	}
	if changed {
		m.logger.Infof("origin health changed", map[string]any{
			"region":  regionID,
			"origin":  originID,
			"healthy": healthy,
		})
	}
}

// GetHealthStatus summarizes current health in directory order without probing.
func (m *Monitor) GetHealthStatus() []region.HealthStatus {
	regions := m.dir.Regions()
	out := make([]region.HealthStatus, 0, len(regions))
	for i := range regions {
		out = append(out, regions[i].Status())
	}
	return out
}
