package routing

import (
	"errors"
	"math/rand/v2"

	"github.com/georoute-io/georoute/internal/region"
)

// ErrNoHealthyRegion is returned when no region has a healthy origin.
var ErrNoHealthyRegion = errors.New("routing: no healthy region")

// Reason tags why a region was chosen.
type Reason string

const (
	ReasonGeo      Reason = "geo"
	ReasonLatency  Reason = "latency"
	ReasonFailover Reason = "failover"
	ReasonWeighted Reason = "weighted"
)

// Decision is the outcome of one routing evaluation.
type Decision struct {
	Region   region.Region `json:"region"`
	Origin   region.Origin `json:"origin"`
	Reason   Reason        `json:"reason"`
	Fallback bool          `json:"fallback"`
}

// RegionSource supplies a point-in-time copy of all regions in directory order.
// *region.Directory implements it.
type RegionSource interface {
	Regions() []region.Region
}

// MetricsRecorder is the subset of metrics.RoutingMetrics used by the engine.
type MetricsRecorder interface {
	RecordDecision(region, reason string, fallback bool)
	RecordNoHealthyRegion()
}

// Option configures an Engine.
type Option func(*Engine)

// WithRandom replaces the uniform [0,1) source used for weighted sampling.
// The function must be safe for concurrent use.
func WithRandom(fn func() float64) Option {
	return func(e *Engine) { e.random = fn }
}

// WithMetrics records every decision on m.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine routes requests over a RegionSource.
type Engine struct {
	src     RegionSource
	random  func() float64
	metrics MetricsRecorder
}

// NewEngine creates an Engine reading regions from src.
func NewEngine(src RegionSource, opts ...Option) *Engine {
	e := &Engine{src: src, random: rand.Float64}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Route picks a region and origin for a request from country.
func (e *Engine) Route(country string) (Decision, error) {
	regions := e.src.Regions()

	chosen := -1
	reason := ReasonGeo
	fallback := false
	for i := range regions {
		if regions[i].Serves(country) {
			chosen = i
			break
		}
	}

	if chosen >= 0 {
		r := &regions[chosen]
		if len(r.HealthyOrigins()) == 0 && r.Fallback != "" {
			chosen = indexOf(regions, r.Fallback)
			reason = ReasonFailover
			fallback = chosen >= 0
		}
	}

	if chosen < 0 {
		chosen = lowestLatency(regions)
		reason = ReasonLatency
		fallback = false
		if chosen < 0 {
			return e.noHealthyRegion()
		}
	}

	r := regions[chosen]
	origin, ok := e.selectOrigin(r.Origins)
	if !ok {
		return e.noHealthyRegion()
	}
	return e.decide(r, origin, reason, fallback), nil
}

// RouteWeighted picks among all regions with a healthy origin, in proportion
// to each region's summed healthy-origin weight. It serves requests that carry
// no country.
func (e *Engine) RouteWeighted() (Decision, error) {
	regions := e.src.Regions()

	var candidates []int
	var weights []float64
	for i := range regions {
		healthy := regions[i].HealthyOrigins()
		if len(healthy) == 0 {
			continue
		}
		candidates = append(candidates, i)
		weights = append(weights, sumWeights(healthy))
	}
	if len(candidates) == 0 {
		return e.noHealthyRegion()
	}

	r := regions[candidates[e.pick(weights)]]
	origin, _ := e.selectOrigin(r.Origins)
	return e.decide(r, origin, ReasonWeighted, false), nil
}

func (e *Engine) decide(r region.Region, o region.Origin, reason Reason, fallback bool) Decision {
	if e.metrics != nil {
		e.metrics.RecordDecision(r.ID, string(reason), fallback)
	}
	return Decision{Region: r, Origin: o, Reason: reason, Fallback: fallback}
}

func (e *Engine) noHealthyRegion() (Decision, error) {
	if e.metrics != nil {
		e.metrics.RecordNoHealthyRegion()
	}
	return Decision{}, ErrNoHealthyRegion
}

// selectOrigin draws a healthy origin by weight. With no healthy origin it
// returns the first origin; ok is false only when there are no origins at all.
func (e *Engine) selectOrigin(origins []region.Origin) (region.Origin, bool) {
	var healthy []region.Origin
	for _, o := range origins {
		if o.Healthy {
			healthy = append(healthy, o)
		}
	}
	switch len(healthy) {
	case 0:
		if len(origins) == 0 {
			return region.Origin{}, false
		}
		return origins[0], true
	case 1:
		return healthy[0], true
	}

	weights := make([]float64, len(healthy))
	for i, o := range healthy {
		weights[i] = o.Weight
	}
	return healthy[e.pick(weights)], true
}

// pick returns an index drawn in proportion to weights. Zero weights are
// never drawn unless every weight is zero, in which case index 0 is returned.
func (e *Engine) pick(weights []float64) int {
	var total float64
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return 0
	}

	x := e.random() * total
	last := 0
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		if x < w {
			return i
		}
		x -= w
		last = i
	}
	// Float rounding can leave x marginally above the final weight.
	return last
}

func sumWeights(origins []region.Origin) float64 {
	var total float64
	for _, o := range origins {
		total += o.Weight
	}
	return total
}

func indexOf(regions []region.Region, id string) int {
	for i := range regions {
		if regions[i].ID == id {
			return i
		}
	}
	return -1
}

// lowestLatency returns the index of the region with the lowest average
// healthy-origin latency, or -1 when no region has a healthy origin. Ties go
// to the earlier region.
func lowestLatency(regions []region.Region) int {
	best := -1
	var bestLatency float64
	for i := range regions {
		if len(regions[i].HealthyOrigins()) == 0 {
			continue
		}
		l := regions[i].AvgLatencyMs()
		if best < 0 || l < bestLatency {
			best = i
			bestLatency = l
		}
	}
	return best
}
