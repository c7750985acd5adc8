package gc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/georoute-io/georoute/internal/logging"
	"github.com/georoute-io/georoute/internal/metadata"
	"github.com/georoute-io/georoute/internal/metadata/keys"
)

// MetricsRecorder is the subset of metrics.GCMetrics used by the sweeper.
type MetricsRecorder interface {
	RecordDeleted(prefix string, n int)
	RecordScan(expired int, success bool)
}

// RegionLister names every known region. *region.Directory implements it.
type RegionLister interface {
	IDs() []string
}

// GeoRoutePrefixes returns the prefixes holding TTL records: the replication
// job prefix and one cache prefix per region known at scan time.
func GeoRoutePrefixes(regions RegionLister) func() []string {
	return func() []string {
		ids := regions.IDs()
		out := make([]string, 0, len(ids)+1)
		out = append(out, keys.ReplicationJobsListPrefix())
		for _, id := range ids {
			out = append(out, keys.CacheRegionPrefix(id))
		}
		return out
	}
}

// ExpirySweeperConfig configures the expiry sweeper.
type ExpirySweeperConfig struct {
	// Interval is the time between scans.
	// Default: 10 minutes
	Interval time.Duration

	// BatchSize is the maximum number of expired keys deleted per prefix per scan.
	// Default: 500
	BatchSize int

	// Prefixes returns the prefixes to scan. It is called once per scan so
	// regions added at runtime are picked up.
	Prefixes func() []string

	Logger  *logging.Logger
	Metrics MetricsRecorder
}

// ExpirySweeper deletes expired records from a store that supports
// metadata.ExpiredLister. Against any other store it does nothing.
type ExpirySweeper struct {
	meta    metadata.MetadataStore
	lister  metadata.ExpiredLister
	config  ExpirySweeperConfig
	logger  *logging.Logger
	metrics MetricsRecorder

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewExpirySweeper creates a new expiry sweeper.
func NewExpirySweeper(meta metadata.MetadataStore, config ExpirySweeperConfig) *ExpirySweeper {
	if config.Interval <= 0 {
		config.Interval = 10 * time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	if config.Prefixes == nil {
		config.Prefixes = func() []string { return []string{keys.ReplicationJobsListPrefix()} }
	}
	if config.Logger == nil {
		config.Logger = logging.DefaultLogger()
	}
	lister, _ := meta.(metadata.ExpiredLister)
	return &ExpirySweeper{
		meta:    meta,
		lister:  lister,
		config:  config,
		logger:  config.Logger.WithComponent("expiry-sweeper"),
		metrics: config.Metrics,
	}
}

// Start begins the sweeper background loop.
func (s *ExpirySweeper) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run()
}

// Stop stops the sweeper and waits for it to complete.
func (s *ExpirySweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *ExpirySweeper) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	ctx := context.Background()
	s.scan(ctx)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

func (s *ExpirySweeper) scan(ctx context.Context) {
	n, err := s.ScanOnce(ctx)
	if err != nil {
		s.logger.Warnf("expiry scan finished with errors", map[string]any{
			"deleted": n,
			"error":   err.Error(),
		})
		return
	}
	if n > 0 {
		s.logger.Infof("deleted expired records", map[string]any{"deleted": n})
	}
}

// ScanOnce runs one pass over every prefix and returns the number of
// records deleted. Errors on one prefix do not stop the others.
func (s *ExpirySweeper) ScanOnce(ctx context.Context) (int, error) {
	if s.lister == nil {
		return 0, nil
	}

	var errs []error
	total := 0
	expired := 0
	for _, prefix := range s.config.Prefixes() {
		if s.stopping() {
			break
		}
		found, deleted, err := s.scanPrefix(ctx, prefix)
		expired += found
		total += deleted
		if s.metrics != nil {
			s.metrics.RecordDeleted(prefix, deleted)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if s.metrics != nil {
		s.metrics.RecordScan(expired, err == nil)
	}
	return total, err
}

func (s *ExpirySweeper) stopping() bool {
	s.mu.Lock()
	ch := s.stopCh
	s.mu.Unlock()
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// scanPrefix deletes expired keys under prefix. A key rewritten between the
// listing and the delete reads back as live and is left alone.
func (s *ExpirySweeper) scanPrefix(ctx context.Context, prefix string) (found, deleted int, err error) {
	expiredKeys, err := s.lister.ListExpired(ctx, prefix, s.config.BatchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("list expired under %s: %w", prefix, err)
	}

	var errs []error
	for _, key := range expiredKeys {
		res, err := s.meta.Get(ctx, key)
		if err != nil {
			errs = append(errs, fmt.Errorf("recheck %s: %w", key, err))
			continue
		}
		if res.Exists {
			continue
		}
		if err := s.meta.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
			continue
		}
		deleted++
	}
	return len(expiredKeys), deleted, errors.Join(errs...)
}
