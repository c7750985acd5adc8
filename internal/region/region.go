// Package region defines regions, their origins, and the Directory that
// holds them.
//
// A Region owns an ordered list of Origins and the set of ISO country codes
// it serves. Origins carry health state written by the health monitor and
// read by the routing engine. The 3-strike debounce rule lives on Origin so
// every writer applies it the same way.
package region

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"
)

// FailureThreshold is the number of consecutive failed probes after which an
// origin is marked unhealthy.
const FailureThreshold = 3

// FailureLatencyMs is recorded as an origin's latency when a probe fails, so
// failing origins sort last in latency comparisons.
const FailureLatencyMs = 9999

// ErrInvalidRegion is returned when a region or origin fails validation.
var ErrInvalidRegion = errors.New("region: invalid region")

// Origin is a backing server for a region.
type Origin struct {
	ID                  string    `json:"id"`
	URL                 string    `json:"url"`
	Weight              float64   `json:"weight"`
	Healthy             bool      `json:"healthy"`
	LastCheck           time.Time `json:"lastCheck"`
	LatencyMs           float64   `json:"latency"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
}

// NewOrigin returns a validated origin that starts out healthy.
func NewOrigin(id, rawURL string, weight float64) (Origin, error) {
	o := Origin{ID: id, URL: rawURL, Weight: weight, Healthy: true}
	if err := o.Validate(); err != nil {
		return Origin{}, err
	}
	return o, nil
}

// Validate checks the origin's identity, URL and weight.
func (o Origin) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("%w: origin id is empty", ErrInvalidRegion)
	}
	u, err := url.Parse(o.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: origin %s: url %q is not an absolute http(s) url", ErrInvalidRegion, o.ID, o.URL)
	}
	if math.IsNaN(o.Weight) || math.IsInf(o.Weight, 0) || o.Weight < 0 {
		return fmt.Errorf("%w: origin %s: weight %v must be finite and non-negative", ErrInvalidRegion, o.ID, o.Weight)
	}
	return nil
}

// RecordProbe applies one probe result at time at. A success resets the
// failure counter and marks the origin healthy. A failure increments the
// counter and marks the origin unhealthy once it reaches FailureThreshold.
// LastCheck is stamped either way. It reports whether Healthy changed.
func (o *Origin) RecordProbe(success bool, latencyMs float64, at time.Time) bool {
	was := o.Healthy
	o.LastCheck = at
	if success {
		o.LatencyMs = latencyMs
		o.ConsecutiveFailures = 0
		o.Healthy = true
	} else {
		o.LatencyMs = FailureLatencyMs
		o.ConsecutiveFailures++
		o.Healthy = o.ConsecutiveFailures < FailureThreshold
	}
	return was != o.Healthy
}

// Region is a geographic routing domain.
type Region struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Code      string   `json:"code"`
	Origins   []Origin `json:"origins"`
	Priority  int      `json:"priority"`
	Countries []string `json:"countries"`
	Fallback  string   `json:"fallback,omitempty"`
}

// New returns a validated region. Country codes are upper-cased.
func New(id, name, code string, priority int, countries []string, fallback string, origins ...Origin) (Region, error) {
	r := Region{
		ID:        id,
		Name:      name,
		Code:      code,
		Priority:  priority,
		Countries: normalizeCountries(countries),
		Fallback:  fallback,
		Origins:   append([]Origin(nil), origins...),
	}
	if err := r.Validate(); err != nil {
		return Region{}, err
	}
	return r, nil
}

func normalizeCountries(cs []string) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, strings.ToUpper(strings.TrimSpace(c)))
	}
	return out
}

// Validate checks the region and every origin it owns.
func (r Region) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is empty", ErrInvalidRegion)
	}
	if strings.Contains(r.ID, "/") {
		return fmt.Errorf("%w: id %q contains '/'", ErrInvalidRegion, r.ID)
	}
	if r.Fallback == r.ID {
		return fmt.Errorf("%w: region %s falls back to itself", ErrInvalidRegion, r.ID)
	}
	for _, c := range r.Countries {
		if !validCountry(c) {
			return fmt.Errorf("%w: region %s: country code %q is not two upper-case letters", ErrInvalidRegion, r.ID, c)
		}
	}
	seen := make(map[string]struct{}, len(r.Origins))
	for _, o := range r.Origins {
		if err := o.Validate(); err != nil {
			return fmt.Errorf("region %s: %w", r.ID, err)
		}
		if _, dup := seen[o.ID]; dup {
			return fmt.Errorf("%w: region %s: duplicate origin id %q", ErrInvalidRegion, r.ID, o.ID)
		}
		seen[o.ID] = struct{}{}
	}
	return nil
}

func validCountry(c string) bool {
	return len(c) == 2 && c[0] >= 'A' && c[0] <= 'Z' && c[1] >= 'A' && c[1] <= 'Z'
}

// Serves reports whether the region lists country.
func (r *Region) Serves(country string) bool {
	for _, c := range r.Countries {
		if c == country {
			return true
		}
	}
	return false
}

// HealthyOrigins returns the region's healthy origins in order.
func (r *Region) HealthyOrigins() []Origin {
	var out []Origin
	for _, o := range r.Origins {
		if o.Healthy {
			out = append(out, o)
		}
	}
	return out
}

// AvgLatencyMs is the mean latency over healthy origins, or 0 when none are healthy.
func (r *Region) AvgLatencyMs() float64 {
	var sum float64
	var n int
	for _, o := range r.Origins {
		if o.Healthy {
			sum += o.LatencyMs
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Status summarizes the region's current health.
func (r *Region) Status() HealthStatus {
	s := HealthStatus{
		RegionID:     r.ID,
		TotalOrigins: len(r.Origins),
		AvgLatencyMs: r.AvgLatencyMs(),
	}
	for _, o := range r.Origins {
		if o.Healthy {
			s.AvailableOrigins++
		}
		if o.LastCheck.After(s.LastCheck) {
			s.LastCheck = o.LastCheck
		}
	}
	s.Healthy = s.AvailableOrigins > 0
	return s
}

// Clone returns a deep copy of the region.
func (r *Region) Clone() Region {
	c := *r
	c.Origins = append([]Origin(nil), r.Origins...)
	c.Countries = append([]string(nil), r.Countries...)
	return c
}

// HealthStatus is a point-in-time health summary for one region.
type HealthStatus struct {
	RegionID         string    `json:"region"`
	Healthy          bool      `json:"healthy"`
	AvailableOrigins int       `json:"availableOrigins"`
	TotalOrigins     int       `json:"totalOrigins"`
	AvgLatencyMs     float64   `json:"avgLatency"`
	LastCheck        time.Time `json:"lastCheck"`
}
