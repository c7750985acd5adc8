package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/georoute-io/georoute/internal/config"
	"github.com/georoute-io/georoute/internal/events"
	"github.com/georoute-io/georoute/internal/gc"
	"github.com/georoute-io/georoute/internal/geocache"
	"github.com/georoute-io/georoute/internal/health"
	"github.com/georoute-io/georoute/internal/logging"
	"github.com/georoute-io/georoute/internal/metadata"
	"github.com/georoute-io/georoute/internal/metadata/oxia"
	"github.com/georoute-io/georoute/internal/metrics"
	"github.com/georoute-io/georoute/internal/objectstore"
	"github.com/georoute-io/georoute/internal/objectstore/s3"
	"github.com/georoute-io/georoute/internal/region"
	"github.com/georoute-io/georoute/internal/replication"
	"github.com/georoute-io/georoute/internal/routing"
	"github.com/georoute-io/georoute/internal/server"
)

const healthSweeperName = "health-sweeper"

// AppOptions contains the configuration for creating an App.
type AppOptions struct {
	Config    *config.Config
	Logger    *logging.Logger
	Version   string
	GitCommit string
	BuildTime string

	// Registry receives every collector. Default: a fresh registry with the
	// Go and process collectors.
	Registry *prometheus.Registry
}

// App is a running georouted instance.
type App struct {
	opts   AppOptions
	logger *logging.Logger

	metaStore     metadata.MetadataStore
	rawObjects    objectstore.Store
	objects       objectstore.Store
	publisher     events.Publisher
	directory     *region.Directory
	monitor       *health.Monitor
	sweeper       *health.Sweeper
	engine        *routing.Engine
	replicator    *replication.Replicator
	cache         *geocache.Manager
	expiry        *gc.ExpirySweeper
	httpServer    *server.HealthServer
	metricsServer *metrics.Server

	mu      sync.Mutex
	started bool
}

// NewApp creates an App but does not start it.
func NewApp(opts AppOptions) (*App, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.DefaultLogger()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
		opts.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return &App{opts: opts, logger: opts.Logger}, nil
}

// openMetadataStore connects the configured KV backend.
func openMetadataStore(ctx context.Context, cfg config.MetadataConfig) (metadata.MetadataStore, error) {
	if cfg.Backend == "memory" {
		return metadata.NewMockStore(), nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	store, err := oxia.New(connectCtx, oxia.Config{
		ServiceAddress: cfg.OxiaEndpoint,
		Namespace:      cfg.Namespace,
		RequestTimeout: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Oxia at %s: %w", cfg.OxiaEndpoint, err)
	}
	return store, nil
}

// openObjectStore connects the configured object backend.
func openObjectStore(ctx context.Context, cfg config.ObjectStoreConfig) (objectstore.Store, error) {
	if cfg.Backend == "memory" {
		return objectstore.NewMockStore(), nil
	}
	return s3.New(ctx, s3.Config{
		Bucket:          cfg.Bucket,
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKey,
		SecretAccessKey: cfg.SecretKey,
		UsePathStyle:    cfg.UsePathStyle,
	})
}

func openPublisher(ctx context.Context, cfg config.EventsConfig, logger *logging.Logger) (events.Publisher, error) {
	if !cfg.Enabled {
		return events.NoopPublisher{}, nil
	}
	return events.NewKafkaPublisher(ctx, events.KafkaConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		Logger:  logger,
	})
}

// loadDirectory restores regions from the KV store, seeding it from the
// config when it holds none.
func loadDirectory(ctx context.Context, store metadata.MetadataStore, regions []config.RegionConfig, logger *logging.Logger) (*region.Directory, error) {
	dir := region.NewDirectory(store, logger)
	n, err := dir.LoadRegions(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 && len(regions) > 0 {
		for _, rc := range regions {
			r, err := regionFromConfig(rc)
			if err != nil {
				return nil, err
			}
			if err := dir.AddRegion(r); err != nil {
				return nil, err
			}
		}
		if err := dir.SaveRegions(ctx); err != nil {
			return nil, err
		}
		logger.Infof("seeded regions from config", map[string]any{"regions": dir.Len()})
	} else {
		logger.Infof("loaded regions", map[string]any{"regions": n})
	}
	for _, w := range dir.CheckFallbacks() {
		logger.Warn(w)
	}
	return dir, nil
}

func regionFromConfig(rc config.RegionConfig) (region.Region, error) {
	origins := make([]region.Origin, 0, len(rc.Origins))
	for _, oc := range rc.Origins {
		o, err := region.NewOrigin(oc.ID, oc.URL, oc.Weight)
		if err != nil {
			return region.Region{}, fmt.Errorf("region %s: %w", rc.ID, err)
		}
		origins = append(origins, o)
	}
	return region.New(rc.ID, rc.Name, rc.Code, rc.Priority, rc.Countries, rc.Fallback, origins...)
}

// Start wires every component and starts the background loops and servers.
// It returns once the HTTP server is listening.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return fmt.Errorf("georouted already started")
	}
	a.started = true
	a.mu.Unlock()

	cfg := a.opts.Config
	reg := a.opts.Registry

	a.logger.Infof("starting georouted", map[string]any{
		"listenAddr": cfg.Server.ListenAddr,
		"metadata":   cfg.Metadata.Backend,
		"objects":    cfg.ObjectStore.Backend,
		"version":    a.opts.Version,
	})

	meta, err := openMetadataStore(ctx, cfg.Metadata)
	if err != nil {
		return err
	}
	a.metaStore = metadata.NewInstrumentedStore(meta, metrics.NewKVMetricsWithRegistry(reg))

	a.rawObjects, err = openObjectStore(ctx, cfg.ObjectStore)
	if err != nil {
		return fmt.Errorf("failed to open object store: %w", err)
	}
	a.objects = objectstore.NewInstrumentedStore(a.rawObjects, metrics.NewObjectStoreMetricsWithRegistry(reg))

	a.publisher, err = openPublisher(ctx, cfg.Events, a.logger)
	if err != nil {
		return fmt.Errorf("failed to open event publisher: %w", err)
	}

	a.directory, err = loadDirectory(ctx, a.metaStore, cfg.Regions, a.logger)
	if err != nil {
		return err
	}

	a.engine = routing.NewEngine(a.directory, routing.WithMetrics(metrics.NewRoutingMetricsWithRegistry(reg)))

	a.monitor = health.NewMonitor(a.directory, health.NewHTTPProber(cfg.Health.ProbePath), health.MonitorConfig{
		ProbeTimeout: cfg.Health.ProbeTimeout,
		Concurrency:  cfg.Health.Concurrency,
		Logger:       a.logger,
		Metrics:      metrics.NewHealthMetricsWithRegistry(reg),
	})
	a.sweeper = health.NewSweeper(a.monitor, cfg.Health.Interval)

	a.replicator = replication.New(a.objects, a.metaStore, replication.Config{
		Workers:         cfg.Replication.Workers,
		QueueSize:       cfg.Replication.QueueSize,
		JobRetention:    cfg.Replication.JobRetention,
		WritesPerSecond: cfg.Replication.WritesPerSecond,
		PublishTimeout:  cfg.Events.PublishTimeout,
		Logger:          a.logger,
		Metrics:         metrics.NewReplicationMetricsWithRegistry(reg),
		Events:          a.publisher,
	})

	a.cache = geocache.New(a.metaStore, a.engine, a.directory, geocache.Config{
		DefaultTTL:        cfg.Cache.DefaultTTL,
		CompressThreshold: cfg.Cache.CompressThreshold,
		CountryHeader:     cfg.Routing.CountryHeader,
		Logger:            a.logger,
		Metrics:           metrics.NewCacheMetricsWithRegistry(reg),
	})

	a.expiry = gc.NewExpirySweeper(a.metaStore, gc.ExpirySweeperConfig{
		Interval: cfg.Cache.SweepInterval,
		Prefixes: gc.GeoRoutePrefixes(a.directory),
		Logger:   a.logger,
		Metrics:  metrics.NewGCMetricsWithRegistry(reg),
	})

	a.httpServer = server.NewHealthServer(cfg.Server.ListenAddr, a.logger)
	a.httpServer.SetGoroutineStaleAfter(3*cfg.Health.Interval + cfg.Health.ProbeTimeout)
	a.httpServer.RegisterReadinessCheck(server.NewMetadataStoreChecker(a.metaStore))
	a.httpServer.RegisterReadinessCheck(server.NewObjectStoreChecker(a.rawObjects))
	a.httpServer.RegisterReadinessCheck(server.NewDirectoryChecker(a.directory))
	a.httpServer.Mount(server.NewAPI(server.APIConfig{
		Router:        a.engine,
		Directory:     a.directory,
		Health:        a.monitor,
		Replication:   a.replicator,
		Cache:         a.cache,
		CountryHeader: cfg.Routing.CountryHeader,
		Logger:        a.logger,
	}))

	// /healthz degrades if the health sweep stops making progress.
	a.httpServer.RegisterGoroutine(healthSweeperName)
	a.sweeper.SetOnSweep(func() { a.httpServer.UpdateGoroutine(healthSweeperName) })

	a.replicator.Start()
	a.sweeper.Start()
	a.expiry.Start()

	if err := a.httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start http server: %w", err)
	}

	if cfg.Observability.MetricsAddr != "" {
		a.metricsServer = metrics.NewServerWithRegistry(cfg.Observability.MetricsAddr, reg)
		a.metricsServer.SetLogger(a.logger)
		if err := a.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	a.logger.Infof("georouted started", map[string]any{
		"addr":    a.httpServer.Addr(),
		"regions": a.directory.Len(),
	})
	return nil
}

// Addr returns the bound address of the HTTP server.
func (a *App) Addr() string {
	if a.httpServer == nil {
		return ""
	}
	return a.httpServer.Addr()
}

// Shutdown stops accepting work, drains replication and closes every store.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	a.logger.Info("shutting down georouted")

	if a.httpServer != nil {
		a.httpServer.SetShuttingDown()
		if err := a.httpServer.Close(); err != nil {
			a.logger.Warnf("error closing http server", map[string]any{"error": err.Error()})
		}
	}
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if a.expiry != nil {
		a.expiry.Stop()
	}

	if a.replicator != nil {
		done := make(chan struct{})
		go func() {
			a.replicator.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			a.logger.Warn("replication did not drain before the shutdown deadline")
		}
	}

	// Persist the latest probe results so a restart routes on them.
	if a.directory != nil {
		if err := a.directory.SaveRegions(ctx); err != nil {
			a.logger.Warnf("failed to save regions", map[string]any{"error": err.Error()})
		}
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Close(); err != nil {
			a.logger.Warnf("error closing metrics server", map[string]any{"error": err.Error()})
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warnf("error closing event publisher", map[string]any{"error": err.Error()})
		}
	}
	if a.objects != nil {
		if err := a.objects.Close(); err != nil {
			a.logger.Warnf("error closing object store", map[string]any{"error": err.Error()})
		}
	}
	if a.metaStore != nil {
		if err := a.metaStore.Close(); err != nil {
			a.logger.Warnf("error closing metadata store", map[string]any{"error": err.Error()})
		}
	}

	a.logger.Info("georouted shutdown complete")
	return nil
}
