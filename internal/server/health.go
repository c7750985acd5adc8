// Package server hosts georouted's HTTP surface: liveness and readiness
// probes, the admin API, and pprof.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"github.com/georoute-io/georoute/internal/logging"
)

// ReadinessChecker is implemented by every dependency that gates /readyz.
type ReadinessChecker interface {
	// Name returns the name of the component for display in health status.
	Name() string

	// CheckReady returns nil if the component is ready, or an error
	// describing why it is not.
	CheckReady(ctx context.Context) error
}

// Mounter adds routes to the server's router. *API implements it.
type Mounter interface {
	Mount(r *mux.Router)
}

// HealthServer serves /healthz for liveness, /readyz for readiness, and any
// mounted API on a single listener.
type HealthServer struct {
	mu               sync.RWMutex
	addr             string
	boundAddr        string
	server           *http.Server
	logger           *logging.Logger
	shutDown         atomic.Bool
	goroutines       map[string]*goroutineStatus
	readinessChecks  []ReadinessChecker
	readinessTimeout time.Duration
	staleAfter       time.Duration
	mounters         []Mounter
	now              func() time.Time
}

type goroutineStatus struct {
	running   bool
	lastCheck time.Time
}

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status     string                 `json:"status"`
	Goroutines map[string]bool        `json:"goroutines,omitempty"`
	Checks     map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

const (
	// DefaultReadinessTimeout bounds each readiness check.
	DefaultReadinessTimeout = 5 * time.Second

	// DefaultGoroutineStaleAfter is how long a registered goroutine may go
	// without UpdateGoroutine before liveness reports it degraded.
	DefaultGoroutineStaleAfter = 2 * time.Minute
)

// NewHealthServer creates a new HealthServer.
func NewHealthServer(addr string, logger *logging.Logger) *HealthServer {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &HealthServer{
		addr:             addr,
		logger:           logger.WithComponent("http"),
		goroutines:       make(map[string]*goroutineStatus),
		readinessTimeout: DefaultReadinessTimeout,
		staleAfter:       DefaultGoroutineStaleAfter,
		now:              time.Now,
	}
}

// Mount registers routes to serve alongside the health endpoints.
// Call before Start.
func (h *HealthServer) Mount(m Mounter) {
	if m == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mounters = append(h.mounters, m)
}

// RegisterReadinessCheck adds a component to every /readyz evaluation.
func (h *HealthServer) RegisterReadinessCheck(checker ReadinessChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessChecks = append(h.readinessChecks, checker)
}

// SetReadinessTimeout sets the timeout for individual readiness checks.
func (h *HealthServer) SetReadinessTimeout(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessTimeout = d
}

// SetGoroutineStaleAfter sets how long a goroutine may go without a heartbeat.
func (h *HealthServer) SetGoroutineStaleAfter(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.staleAfter = d
}

// RegisterGoroutine registers a critical background loop for liveness.
func (h *HealthServer) RegisterGoroutine(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.goroutines[name] = &goroutineStatus{
		running:   true,
		lastCheck: h.now(),
	}
}

// UpdateGoroutine records a heartbeat for a registered goroutine.
func (h *HealthServer) UpdateGoroutine(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if status, ok := h.goroutines[name]; ok {
		status.lastCheck = h.now()
	}
}

// UnregisterGoroutine marks a goroutine as stopped.
func (h *HealthServer) UnregisterGoroutine(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if status, ok := h.goroutines[name]; ok {
		status.running = false
	}
}

// SetShuttingDown makes /healthz and /readyz return 503 from now on.
func (h *HealthServer) SetShuttingDown() {
	h.shutDown.Store(true)
}

// IsShuttingDown returns true if the server is shutting down.
func (h *HealthServer) IsShuttingDown() bool {
	return h.shutDown.Load()
}

// Handler builds the router. Start serves it; tests call it directly.
func (h *HealthServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(correlationMiddleware)
	r.HandleFunc("/healthz", h.handleHealthz).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", h.handleReadyz).Methods(http.MethodGet, http.MethodHead)

	h.mu.RLock()
	mounters := append([]Mounter(nil), h.mounters...)
	h.mu.RUnlock()
	for _, m := range mounters {
		m.Mount(r)
	}

	r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	r.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	return r
}

// Start starts the HTTP server in the background.
func (h *HealthServer) Start() error {
	h.server = &http.Server{
		Addr:              h.addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		// Cache warm requests carry bodies and readiness checks may wait on
		// the store, so these are looser than the header timeout.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.boundAddr = ln.Addr().String()
	h.mu.Unlock()

	h.logger.Infof("http server listening", map[string]any{"addr": ln.Addr().String()})

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Errorf("http server error", map[string]any{"error": err.Error()})
		}
	}()

	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (h *HealthServer) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.boundAddr != "" {
		return h.boundAddr
	}
	return h.addr
}

// Close gracefully shuts the server down, waiting up to five seconds for
// in-flight requests.
func (h *HealthServer) Close() error {
	if h.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.server.Shutdown(ctx)
}

func (h *HealthServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, r, h.checkLiveness())
}

func (h *HealthServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, r, h.checkReadiness(r.Context()))
}

func writeStatus(w http.ResponseWriter, r *http.Request, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	if status.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if r.Method != http.MethodHead {
		json.NewEncoder(w).Encode(status)
	}
}

func (h *HealthServer) checkLiveness() HealthStatus {
	status := HealthStatus{
		Status:     "ok",
		Goroutines: make(map[string]bool),
		Checks:     make(map[string]CheckResult),
	}

	if h.shutDown.Load() {
		status.Status = "shutting_down"
		status.Checks["shutdown"] = CheckResult{
			Healthy: false,
			Message: "georouted is shutting down",
		}
		return status
	}

	status.Checks["shutdown"] = CheckResult{
		Healthy: true,
		Message: "georouted is running",
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.now()
	allGoroutinesOK := true
	for name, gs := range h.goroutines {
		isHealthy := gs.running && now.Sub(gs.lastCheck) < h.staleAfter
		status.Goroutines[name] = isHealthy
		if !isHealthy {
			allGoroutinesOK = false
		}
	}

	if !allGoroutinesOK {
		status.Status = "degraded"
		status.Checks["goroutines"] = CheckResult{
			Healthy: false,
			Message: "one or more background loops are not running",
		}
	} else if len(h.goroutines) > 0 {
		status.Checks["goroutines"] = CheckResult{
			Healthy: true,
			Message: "all background loops are running",
		}
	}

	return status
}

// CheckHealth returns the liveness status without an HTTP round trip.
func (h *HealthServer) CheckHealth() HealthStatus {
	return h.checkLiveness()
}

func (h *HealthServer) checkReadiness(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status: "ok",
		Checks: make(map[string]CheckResult),
	}

	if h.shutDown.Load() {
		status.Status = "shutting_down"
		status.Checks["shutdown"] = CheckResult{
			Healthy: false,
			Message: "georouted is shutting down",
		}
		return status
	}

	status.Checks["shutdown"] = CheckResult{
		Healthy: true,
		Message: "georouted is running",
	}

	h.mu.RLock()
	checks := make([]ReadinessChecker, len(h.readinessChecks))
	copy(checks, h.readinessChecks)
	timeout := h.readinessTimeout
	h.mu.RUnlock()

	for _, checker := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		err := checker.CheckReady(checkCtx)
		cancel()

		if err != nil {
			status.Status = "not_ready"
			status.Checks[checker.Name()] = CheckResult{
				Healthy: false,
				Message: err.Error(),
			}
		} else {
			status.Checks[checker.Name()] = CheckResult{
				Healthy: true,
				Message: "healthy",
			}
		}
	}

	return status
}

// CheckReadiness returns the readiness status without an HTTP round trip.
func (h *HealthServer) CheckReadiness(ctx context.Context) HealthStatus {
	return h.checkReadiness(ctx)
}
