package region

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/georoute-io/georoute/internal/logging"
	"github.com/georoute-io/georoute/internal/metadata"
	"github.com/georoute-io/georoute/internal/metadata/keys"
)

var (
	// ErrPersistence wraps durable store failures from LoadRegions and SaveRegions.
	ErrPersistence = errors.New("region: persistence failure")

	// ErrNotFound is returned when a region or origin id is unknown.
	ErrNotFound = errors.New("region: not found")
)

// Directory is the in-memory registry of regions, persisted as a single
// record in the durable KV store.
//
// The lock only protects the map. Load, save and add are not serialized
// against each other, so a SaveRegions that races an AddRegion may persist a
// snapshot without the new region. The directory is expected to be mutated
// by one control-plane actor between health sweeps.
type Directory struct {
	store  metadata.MetadataStore
	logger *logging.Logger

	mu      sync.RWMutex
	order   []string
	regions map[string]*Region
}

// NewDirectory creates an empty directory backed by store.
// A nil logger uses the default logger.
func NewDirectory(store metadata.MetadataStore, logger *logging.Logger) *Directory {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Directory{
		store:   store,
		logger:  logger.WithComponent("region-directory"),
		regions: make(map[string]*Region),
	}
}

// AddRegion validates r and inserts it, replacing any region with the same
// id. A replaced region keeps its position in iteration order.
func (d *Directory) AddRegion(r Region) error {
	r.Countries = normalizeCountries(r.Countries)
	if err := r.Validate(); err != nil {
		return err
	}
	c := r.Clone()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.putLocked(&c)
	return nil
}

func (d *Directory) putLocked(r *Region) {
	if _, ok := d.regions[r.ID]; !ok {
		d.order = append(d.order, r.ID)
	}
	d.regions[r.ID] = r
}

// LoadRegions reads the persisted directory and merges it by id, overwriting
// in-memory regions that share an id. Invalid persisted regions are skipped.
// It returns the number of regions merged; a missing record merges nothing.
func (d *Directory) LoadRegions(ctx context.Context) (int, error) {
	res, err := d.store.Get(ctx, keys.RegionsKey)
	if err != nil {
		return 0, fmt.Errorf("%w: get %s: %w", ErrPersistence, keys.RegionsKey, err)
	}
	if !res.Exists {
		return 0, nil
	}

	var loaded []Region
	if err := json.Unmarshal(res.Value, &loaded); err != nil {
		return 0, fmt.Errorf("%w: decode %s: %w", ErrPersistence, keys.RegionsKey, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for i := range loaded {
		r := loaded[i]
		r.Countries = normalizeCountries(r.Countries)
		if err := r.Validate(); err != nil {
			d.logger.Warnf("skipping invalid persisted region", map[string]any{
				"region": r.ID,
				"error":  err.Error(),
			})
			continue
		}
		d.putLocked(&r)
		n++
	}
	return n, nil
}

// SaveRegions writes every region, in iteration order, as one record.
// A failed write leaves both the persisted record and memory unchanged.
func (d *Directory) SaveRegions(ctx context.Context) error {
	data, err := json.Marshal(d.Regions())
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrPersistence, err)
	}
	if _, err := d.store.Put(ctx, keys.RegionsKey, data); err != nil {
		return fmt.Errorf("%w: put %s: %w", ErrPersistence, keys.RegionsKey, err)
	}
	return nil
}

// Regions returns deep copies of all regions in iteration order.
func (d *Directory) Regions() []Region {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Region, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.regions[id].Clone())
	}
	return out
}

// IDs returns region ids in iteration order.
func (d *Directory) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.order...)
}

// Get returns a copy of the region with id.
func (d *Directory) Get(id string) (Region, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.regions[id]
	if !ok {
		return Region{}, false
	}
	return r.Clone(), true
}

// Len returns the number of regions.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.order)
}

// UpdateOrigin calls fn on one origin under the directory lock.
func (d *Directory) UpdateOrigin(regionID, originID string, fn func(*Origin)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.regions[regionID]
	if !ok {
		return fmt.Errorf("%w: region %s", ErrNotFound, regionID)
	}
	for i := range r.Origins {
		if r.Origins[i].ID == originID {
			fn(&r.Origins[i])
			return nil
		}
	}
	return fmt.Errorf("%w: origin %s in region %s", ErrNotFound, originID, regionID)
}

// CheckFallbacks returns one message per region whose fallback id names no
// known region. Routing still follows such a fallback one hop and then falls
// through to latency selection.
func (d *Directory) CheckFallbacks() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var problems []string
	for _, id := range d.order {
		r := d.regions[id]
		if r.Fallback == "" {
			continue
		}
		if _, ok := d.regions[r.Fallback]; !ok {
			problems = append(problems, fmt.Sprintf("region %s: fallback %q is not a known region", r.ID, r.Fallback))
		}
	}
	return problems
}
