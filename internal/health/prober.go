// Package health probes region origins and maintains their health state.
//
// A Monitor sweeps every origin of every region in the directory, applies
// each probe result through region.Origin.RecordProbe (the 3-strike rule),
// then persists the directory. Probe failures never surface as errors; they
// only show up in origin health. A Sweeper runs the Monitor on an interval.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultProbePath is the well-known path probed on each origin.
const DefaultProbePath = "/health"

// DefaultProbeTimeout bounds each probe independently.
const DefaultProbeTimeout = 5 * time.Second

// Prober checks one origin. A nil error means the origin is healthy.
type Prober interface {
	Probe(ctx context.Context, originURL string) error
}

// HTTPProber probes origins with GET <origin><Path>. Any transport error or
// non-2xx status is a failure.
type HTTPProber struct {
	Client *http.Client
	Path   string
}

// NewHTTPProber creates an HTTPProber for path. An empty path uses DefaultProbePath.
func NewHTTPProber(path string) *HTTPProber {
	if path == "" {
		path = DefaultProbePath
	}
	return &HTTPProber{
		Client: &http.Client{},
		Path:   path,
	}
}

// Probe implements Prober. Timeouts come from ctx.
func (p *HTTPProber) Probe(ctx context.Context, originURL string) error {
	target := strings.TrimSuffix(originURL, "/") + p.Path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("health: build probe request: %w", err)
	}
	req.Header.Set("User-Agent", "georoute-health-monitor")

	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("health: probe %s: %w", target, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health: probe %s: status %d", target, resp.StatusCode)
	}
	return nil
}
