// Package geocache keeps cache entries partitioned by region in the durable
// KV store.
//
// Every entry is keyed by (path, region). Reads only ever consult the
// partition of the region the routing engine picks for a request; a miss
// there is a miss, even if another region holds the path. Entries expire
// through the store's TTL.
package geocache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/georoute-io/georoute/internal/logging"
	"github.com/georoute-io/georoute/internal/metadata"
	"github.com/georoute-io/georoute/internal/metadata/keys"
	"github.com/georoute-io/georoute/internal/routing"
)

// DefaultTTL applies when Cache or WarmCache is called without a TTL.
const DefaultTTL = time.Hour

// DefaultCompressThreshold is the body size above which entries are compressed.
const DefaultCompressThreshold = 1024

// Router resolves the acting region for a request country.
type Router interface {
	Route(country string) (routing.Decision, error)
}

// RegionLister names every known region. *region.Directory implements it.
type RegionLister interface {
	IDs() []string
}

// MetricsRecorder is the subset of metrics.CacheMetrics used by the manager.
type MetricsRecorder interface {
	RecordLookup(region string, hit bool)
	RecordWrite(region string, success bool)
	RecordPurge(region string, success bool)
}

// Config configures a Manager.
type Config struct {
	DefaultTTL        time.Duration
	CompressThreshold int

	// CountryHeader is the request header carrying the client country.
	// Default: routing.DefaultCountryHeader.
	CountryHeader string

	Logger  *logging.Logger
	Metrics MetricsRecorder

	// Now stamps CreatedAt. Default: time.Now.
	Now func() time.Time
}

// Manager reads and writes region-scoped cache entries.
type Manager struct {
	store   metadata.MetadataStore
	router  Router
	regions RegionLister
	cfg     Config
	logger  *logging.Logger
}

// New creates a Manager.
func New(store metadata.MetadataStore, router Router, regions RegionLister, cfg Config) *Manager {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.CompressThreshold == 0 {
		cfg.CompressThreshold = DefaultCompressThreshold
	}
	if cfg.CountryHeader == "" {
		cfg.CountryHeader = routing.DefaultCountryHeader
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.DefaultLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		store:   store,
		router:  router,
		regions: regions,
		cfg:     cfg,
		logger:  cfg.Logger.WithComponent("geocache"),
	}
}

// GetCacheKey returns the key for path in regionID's partition.
func (m *Manager) GetCacheKey(path, regionID string) string {
	return keys.CacheKey(path, regionID)
}

// GetCached routes r and reads path from the chosen region's partition.
// It returns nil on a miss. Routing failures are returned as errors.
func (m *Manager) GetCached(ctx context.Context, path string, r *http.Request) (*Entry, error) {
	d, err := m.router.Route(routing.CountryFromRequest(r, m.cfg.CountryHeader))
	if err != nil {
		return nil, err
	}
	return m.Get(ctx, path, d.Region.ID)
}

// Get reads path from regionID's partition. It returns nil on a miss.
func (m *Manager) Get(ctx context.Context, path, regionID string) (*Entry, error) {
	res, err := m.store.Get(ctx, m.GetCacheKey(path, regionID))
	if err != nil {
		return nil, fmt.Errorf("geocache: get %s in %s: %w", path, regionID, err)
	}
	m.recordLookup(regionID, res.Exists)
	if !res.Exists {
		return nil, nil
	}
	e, err := decodeEntry(res.Value)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Cache writes content for path into regionID's partition with a fresh ETag.
// A non-positive ttl uses the configured default.
func (m *Manager) Cache(ctx context.Context, path, regionID string, content []byte, contentType string, ttl time.Duration) (Entry, error) {
	if ttl <= 0 {
		ttl = m.cfg.DefaultTTL
	}
	e := Entry{
		Body:        content,
		ContentType: contentType,
		ETag:        newETag(),
		CreatedAt:   m.cfg.Now(),
	}
	data, err := encodeEntry(e, m.cfg.CompressThreshold)
	if err != nil {
		return Entry{}, err
	}
	_, err = m.store.Put(ctx, m.GetCacheKey(path, regionID), data, metadata.WithTTL(ttl))
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.RecordWrite(regionID, err == nil)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("geocache: put %s in %s: %w", path, regionID, err)
	}
	return e, nil
}

func newETag() string {
	return `"` + uuid.NewString() + `"`
}

// PurgeResult reports a purge across all regions.
type PurgeResult struct {
	Purged []string         `json:"purged"`
	Failed map[string]error `json:"-"`
}

// Err joins the per-region failures, or returns nil.
func (p PurgeResult) Err() error {
	var errs []error
	for region, err := range p.Failed {
		errs = append(errs, fmt.Errorf("%s: %w", region, err))
	}
	return errors.Join(errs...)
}

// Purge deletes path from every region's partition. Each delete is
// independent; one region failing does not stop the others.
func (m *Manager) Purge(ctx context.Context, path string) PurgeResult {
	res := PurgeResult{Failed: make(map[string]error)}
	for _, id := range m.regions.IDs() {
		err := m.store.Delete(ctx, m.GetCacheKey(path, id))
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.RecordPurge(id, err == nil)
		}
		if err != nil {
			m.logger.Warnf("purge failed", map[string]any{
				"region": id,
				"path":   path,
				"error":  err.Error(),
			})
			res.Failed[id] = err
			continue
		}
		res.Purged = append(res.Purged, id)
	}
	return res
}

// WarmCache writes the same content into every region's partition and
// returns the regions written. Failures are joined into the error; regions
// that succeeded are still returned.
func (m *Manager) WarmCache(ctx context.Context, path string, content []byte, contentType string, ttl time.Duration) ([]string, error) {
	var written []string
	var errs []error
	for _, id := range m.regions.IDs() {
		if _, err := m.Cache(ctx, path, id, content, contentType, ttl); err != nil {
			errs = append(errs, err)
			continue
		}
		written = append(written, id)
	}
	return written, errors.Join(errs...)
}

func (m *Manager) recordLookup(regionID string, hit bool) {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.RecordLookup(regionID, hit)
	}
}
