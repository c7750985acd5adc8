package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/georoute-io/georoute/internal/geocache"
	"github.com/georoute-io/georoute/internal/logging"
	"github.com/georoute-io/georoute/internal/region"
	"github.com/georoute-io/georoute/internal/replication"
	"github.com/georoute-io/georoute/internal/routing"
)

// RequestIDHeader carries the correlation ID in and out of every request.
const RequestIDHeader = "X-Request-ID"

// RegionHeader names the region a cache response was served from.
const RegionHeader = "X-Georoute-Region"

// MaxCacheBodyBytes bounds the body accepted by cache writes.
const MaxCacheBodyBytes = 32 << 20

// Router picks regions for requests. *routing.Engine implements it.
type Router interface {
	Route(country string) (routing.Decision, error)
	RouteWeighted() (routing.Decision, error)
}

// Directory is the region directory surface used by the API.
// *region.Directory implements it.
type Directory interface {
	Regions() []region.Region
	Get(id string) (region.Region, bool)
	AddRegion(r region.Region) error
	SaveRegions(ctx context.Context) error
}

// HealthChecker runs and reports origin probes. *health.Monitor implements it.
type HealthChecker interface {
	PerformHealthChecks(ctx context.Context) (map[string]region.HealthStatus, error)
	GetHealthStatus() []region.HealthStatus
}

// Replicator runs replication jobs. *replication.Replicator implements it.
type Replicator interface {
	StartReplication(ctx context.Context, source string, targets, paths []string) (replication.Job, error)
	GetJobStatus(ctx context.Context, id string) (*replication.Job, error)
	ListJobs(ctx context.Context, limit int) ([]replication.Job, error)
}

// Cache reads and writes region-scoped entries. *geocache.Manager implements it.
type Cache interface {
	Get(ctx context.Context, path, regionID string) (*geocache.Entry, error)
	Cache(ctx context.Context, path, regionID string, content []byte, contentType string, ttl time.Duration) (geocache.Entry, error)
	Purge(ctx context.Context, path string) geocache.PurgeResult
	WarmCache(ctx context.Context, path string, content []byte, contentType string, ttl time.Duration) ([]string, error)
}

// APIConfig wires the admin API to its backends.
type APIConfig struct {
	Router      Router
	Directory   Directory
	Health      HealthChecker
	Replication Replicator
	Cache       Cache

	// CountryHeader is read when a route or cache request has no country
	// query parameter. Default: routing.DefaultCountryHeader.
	CountryHeader string

	Logger *logging.Logger
}

// API is the JSON admin API mounted under /v1.
type API struct {
	cfg    APIConfig
	logger *logging.Logger
}

// NewAPI creates an API.
func NewAPI(cfg APIConfig) *API {
	if cfg.CountryHeader == "" {
		cfg.CountryHeader = routing.DefaultCountryHeader
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.DefaultLogger()
	}
	return &API{cfg: cfg, logger: cfg.Logger.WithComponent("api")}
}

// Mount registers the API routes on r.
func (a *API) Mount(r *mux.Router) {
	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/route", a.handleRoute).Methods(http.MethodGet)

	v1.HandleFunc("/regions", a.handleListRegions).Methods(http.MethodGet)
	v1.HandleFunc("/regions/{id}", a.handleGetRegion).Methods(http.MethodGet)
	v1.HandleFunc("/regions/{id}", a.handlePutRegion).Methods(http.MethodPut)

	v1.HandleFunc("/health", a.handleHealthStatus).Methods(http.MethodGet)
	v1.HandleFunc("/health/check", a.handleHealthCheck).Methods(http.MethodPost)

	v1.HandleFunc("/replication", a.handleStartReplication).Methods(http.MethodPost)
	v1.HandleFunc("/replication", a.handleListJobs).Methods(http.MethodGet)
	v1.HandleFunc("/replication/{id}", a.handleGetJob).Methods(http.MethodGet)

	// Registered before the catch-all so /v1/cache/warm/... is not read as a path.
	v1.HandleFunc("/cache/warm/{path:.*}", a.handleWarmCache).Methods(http.MethodPut)
	v1.HandleFunc("/cache/{path:.*}", a.handleGetCache).Methods(http.MethodGet, http.MethodHead)
	v1.HandleFunc("/cache/{path:.*}", a.handlePutCache).Methods(http.MethodPut)
	v1.HandleFunc("/cache/{path:.*}", a.handlePurgeCache).Methods(http.MethodDelete)
}

type routeResponse struct {
	Region     string  `json:"region"`
	RegionName string  `json:"regionName"`
	OriginID   string  `json:"originId"`
	Origin     string  `json:"origin"`
	Healthy    bool    `json:"healthy"`
	LatencyMs  float64 `json:"latency"`
	Reason     string  `json:"reason"`
	Fallback   bool    `json:"fallback"`
}

func newRouteResponse(d routing.Decision) routeResponse {
	return routeResponse{
		Region:     d.Region.ID,
		RegionName: d.Region.Name,
		OriginID:   d.Origin.ID,
		Origin:     d.Origin.URL,
		Healthy:    d.Origin.Healthy,
		LatencyMs:  d.Origin.LatencyMs,
		Reason:     string(d.Reason),
		Fallback:   d.Fallback,
	}
}

func (a *API) country(r *http.Request) string {
	if c := strings.TrimSpace(r.URL.Query().Get("country")); c != "" {
		return strings.ToUpper(c)
	}
	return routing.CountryFromRequest(r, a.cfg.CountryHeader)
}

func (a *API) handleRoute(w http.ResponseWriter, r *http.Request) {
	var (
		d   routing.Decision
		err error
	)
	if r.URL.Query().Get("mode") == "weighted" {
		d, err = a.cfg.Router.RouteWeighted()
	} else {
		d, err = a.cfg.Router.Route(a.country(r))
	}
	if err != nil {
		a.writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, newRouteResponse(d))
}

func (a *API) handleListRegions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.cfg.Directory.Regions())
}

func (a *API) handleGetRegion(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	reg, ok := a.cfg.Directory.Get(id)
	if !ok {
		a.writeError(w, r, http.StatusNotFound, fmt.Errorf("region %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

type originRequest struct {
	ID     string  `json:"id"`
	URL    string  `json:"url"`
	Weight float64 `json:"weight"`
}

type regionRequest struct {
	Name      string          `json:"name"`
	Code      string          `json:"code"`
	Priority  int             `json:"priority"`
	Countries []string        `json:"countries"`
	Fallback  string          `json:"fallback"`
	Origins   []originRequest `json:"origins"`
}

// handlePutRegion creates or replaces a region. Origins start healthy; the
// next sweep corrects them.
func (a *API) handlePutRegion(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req regionRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	origins := make([]region.Origin, 0, len(req.Origins))
	for _, o := range req.Origins {
		origin, err := region.NewOrigin(o.ID, o.URL, o.Weight)
		if err != nil {
			a.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		origins = append(origins, origin)
	}
	reg, err := region.New(id, req.Name, req.Code, req.Priority, req.Countries, req.Fallback, origins...)
	if err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := a.cfg.Directory.AddRegion(reg); err != nil {
		a.writeError(w, r, statusFor(err), err)
		return
	}
	if err := a.cfg.Directory.SaveRegions(r.Context()); err != nil {
		a.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	logging.FromCtx(r.Context(), a.logger).Infof("region saved", map[string]any{
		"region":  id,
		"origins": len(origins),
	})
	saved, _ := a.cfg.Directory.Get(id)
	writeJSON(w, http.StatusOK, saved)
}

func (a *API) handleHealthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.cfg.Health.GetHealthStatus())
}

func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	statuses, err := a.cfg.Health.PerformHealthChecks(r.Context())
	if err != nil {
		// Probes were applied; only persisting them failed.
		logging.FromCtx(r.Context(), a.logger).Warnf("health results not persisted", map[string]any{
			"error": err.Error(),
		})
	}
	writeJSON(w, http.StatusOK, statuses)
}

type replicationRequest struct {
	SourceRegion  string   `json:"sourceRegion"`
	TargetRegions []string `json:"targetRegions"`
	Paths         []string `json:"paths"`
}

func (a *API) handleStartReplication(w http.ResponseWriter, r *http.Request) {
	var req replicationRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	for _, id := range append([]string{req.SourceRegion}, req.TargetRegions...) {
		if id == "" {
			continue
		}
		if _, ok := a.cfg.Directory.Get(id); !ok {
			a.writeError(w, r, http.StatusBadRequest, fmt.Errorf("region %q not found", id))
			return
		}
	}

	job, err := a.cfg.Replication.StartReplication(r.Context(), req.SourceRegion, req.TargetRegions, req.Paths)
	if err != nil {
		a.writeError(w, r, statusFor(err), err)
		return
	}
	w.Header().Set("Location", "/v1/replication/"+job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := a.cfg.Replication.GetJobStatus(r.Context(), id)
	if err != nil {
		a.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if job == nil {
		a.writeError(w, r, http.StatusNotFound, fmt.Errorf("job %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (a *API) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			a.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	jobs, err := a.cfg.Replication.ListJobs(r.Context(), limit)
	if err != nil {
		a.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func cachePath(r *http.Request) string {
	return "/" + mux.Vars(r)["path"]
}

// cacheRegion returns the explicit ?region= or, without one, routes the
// request the way an edge read would.
func (a *API) cacheRegion(r *http.Request) (string, error) {
	if id := r.URL.Query().Get("region"); id != "" {
		if _, ok := a.cfg.Directory.Get(id); !ok {
			return "", fmt.Errorf("%w: region %q not found", region.ErrNotFound, id)
		}
		return id, nil
	}
	d, err := a.cfg.Router.Route(a.country(r))
	if err != nil {
		return "", err
	}
	return d.Region.ID, nil
}

func (a *API) handleGetCache(w http.ResponseWriter, r *http.Request) {
	regionID, err := a.cacheRegion(r)
	if err != nil {
		a.writeError(w, r, statusFor(err), err)
		return
	}
	path := cachePath(r)
	e, err := a.cfg.Cache.Get(r.Context(), path, regionID)
	if err != nil {
		a.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set(RegionHeader, regionID)
	if e == nil {
		a.writeError(w, r, http.StatusNotFound, fmt.Errorf("%s not cached in %s", path, regionID))
		return
	}

	w.Header().Set("ETag", e.ETag)
	w.Header().Set("Last-Modified", e.CreatedAt.UTC().Format(http.TimeFormat))
	if r.Header.Get("If-None-Match") == e.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if e.ContentType != "" {
		w.Header().Set("Content-Type", e.ContentType)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(e.Body)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(e.Body)
	}
}

type cacheWriteResponse struct {
	Path    string   `json:"path"`
	Regions []string `json:"regions"`
	ETag    string   `json:"etag,omitempty"`
}

func (a *API) handlePutCache(w http.ResponseWriter, r *http.Request) {
	regionID, err := a.cacheRegion(r)
	if err != nil {
		a.writeError(w, r, statusFor(err), err)
		return
	}
	body, ttl, err := readCacheWrite(w, r)
	if err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	path := cachePath(r)
	e, err := a.cfg.Cache.Cache(r.Context(), path, regionID, body, r.Header.Get("Content-Type"), ttl)
	if err != nil {
		a.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("ETag", e.ETag)
	writeJSON(w, http.StatusCreated, cacheWriteResponse{Path: path, Regions: []string{regionID}, ETag: e.ETag})
}

func (a *API) handleWarmCache(w http.ResponseWriter, r *http.Request) {
	body, ttl, err := readCacheWrite(w, r)
	if err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	path := cachePath(r)
	written, err := a.cfg.Cache.WarmCache(r.Context(), path, body, r.Header.Get("Content-Type"), ttl)
	if err != nil && len(written) == 0 {
		a.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if err != nil {
		logging.FromCtx(r.Context(), a.logger).Warnf("cache warm partially failed", map[string]any{
			"path":    path,
			"written": written,
			"error":   err.Error(),
		})
	}
	if written == nil {
		written = []string{}
	}
	writeJSON(w, http.StatusOK, cacheWriteResponse{Path: path, Regions: written})
}

type purgeResponse struct {
	Path   string            `json:"path"`
	Purged []string          `json:"purged"`
	Failed map[string]string `json:"failed,omitempty"`
}

func (a *API) handlePurgeCache(w http.ResponseWriter, r *http.Request) {
	path := cachePath(r)
	res := a.cfg.Cache.Purge(r.Context(), path)
	out := purgeResponse{Path: path, Purged: res.Purged}
	if out.Purged == nil {
		out.Purged = []string{}
	}
	status := http.StatusOK
	if len(res.Failed) > 0 {
		out.Failed = make(map[string]string, len(res.Failed))
		for id, err := range res.Failed {
			out.Failed[id] = err.Error()
		}
		status = http.StatusMultiStatus
		if len(res.Purged) == 0 {
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, out)
}

// readCacheWrite reads a bounded request body and the optional ?ttl= duration.
func readCacheWrite(w http.ResponseWriter, r *http.Request) ([]byte, time.Duration, error) {
	var ttl time.Duration
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			return nil, 0, fmt.Errorf("invalid ttl %q", raw)
		}
		ttl = d
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxCacheBodyBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("read body: %w", err)
	}
	return body, ttl, nil
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, routing.ErrNoHealthyRegion),
		errors.Is(err, replication.ErrQueueFull),
		errors.Is(err, replication.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, replication.ErrInvalidRequest),
		errors.Is(err, region.ErrInvalidRegion):
		return http.StatusBadRequest
	case errors.Is(err, region.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	id := logging.CorrelationIDFromCtx(r.Context())
	if status >= http.StatusInternalServerError {
		logging.FromCtx(r.Context(), a.logger).Errorf("request failed", map[string]any{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": status,
			"error":  err.Error(),
		})
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), RequestID: id})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// correlationMiddleware propagates X-Request-ID, minting one when absent,
// into the response and the request context.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithCorrelationIDCtx(r.Context(), id)))
	})
}
