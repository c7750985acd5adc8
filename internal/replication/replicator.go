package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/georoute-io/georoute/internal/events"
	"github.com/georoute-io/georoute/internal/logging"
	"github.com/georoute-io/georoute/internal/metadata"
	"github.com/georoute-io/georoute/internal/metadata/keys"
	"github.com/georoute-io/georoute/internal/objectstore"
)

// Provenance metadata written on every replicated object.
const (
	MetaReplicatedFrom = "replicated-from"
	MetaReplicatedAt   = "replicated-at"
	MetaJobID          = "replication-job-id"
)

// DefaultJobRetention is the TTL of persisted job records.
const DefaultJobRetention = 7 * 24 * time.Hour

// MetricsRecorder is the subset of metrics.ReplicationMetrics used by the replicator.
type MetricsRecorder interface {
	RecordJobStarted()
	RecordJobFinished(status string, durationSeconds float64)
	RecordObject(target string, success bool)
	SetQueueDepth(n int)
}

// Config configures a Replicator.
type Config struct {
	// Workers is the number of jobs run concurrently. Default: 4.
	Workers int

	// QueueSize is the number of jobs that may wait for a worker. Default: 64.
	QueueSize int

	// JobRetention is the TTL of persisted terminal jobs. Default: 7 days.
	JobRetention time.Duration

	// WritesPerSecond caps target writes across all jobs. Zero means unlimited.
	WritesPerSecond float64

	// MaxTrackedJobs bounds the in-memory job table. Persisted terminal jobs
	// are evicted oldest-first beyond it and remain readable from the store.
	// Default: 1000.
	MaxTrackedJobs int

	// PublishTimeout bounds each lifecycle event publish. Default: 5s.
	PublishTimeout time.Duration

	Logger  *logging.Logger
	Metrics MetricsRecorder
	Events  events.Publisher

	// Now is the clock for job timestamps. Default: time.Now.
	Now func() time.Time
}

type jobEntry struct {
	job       Job
	done      chan struct{}
	persisted bool
}

// Replicator runs replication jobs on a fixed pool of workers fed by a
// buffered queue. It owns the in-memory job table.
type Replicator struct {
	objects objectstore.Store
	meta    metadata.MetadataStore
	cfg     Config
	limiter *rate.Limiter
	logger  *logging.Logger
	metrics MetricsRecorder
	events  events.Publisher
	now     func() time.Time

	queue chan string
	wg    sync.WaitGroup

	mu      sync.Mutex
	jobs    map[string]*jobEntry
	started bool
	stopped bool
}

// New creates a Replicator. Call Start to launch workers.
func New(objects objectstore.Store, meta metadata.MetadataStore, cfg Config) *Replicator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.JobRetention <= 0 {
		cfg.JobRetention = DefaultJobRetention
	}
	if cfg.MaxTrackedJobs <= 0 {
		cfg.MaxTrackedJobs = 1000
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.DefaultLogger()
	}
	if cfg.Events == nil {
		cfg.Events = events.NoopPublisher{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	r := &Replicator{
		objects: objects,
		meta:    meta,
		cfg:     cfg,
		logger:  cfg.Logger.WithComponent("replicator"),
		metrics: cfg.Metrics,
		events:  cfg.Events,
		now:     cfg.Now,
		queue:   make(chan string, cfg.QueueSize),
		jobs:    make(map[string]*jobEntry),
	}
	if cfg.WritesPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.WritesPerSecond), max(1, int(cfg.WritesPerSecond)))
	}
	return r
}

// Start launches the workers. Calling Start twice is a no-op.
func (r *Replicator) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return
	}
	r.started = true
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
}

// Stop refuses new jobs, lets workers drain the queue and waits for every
// running job to finish. Jobs are never cancelled once started.
func (r *Replicator) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Replicator) worker() {
	defer r.wg.Done()
	for id := range r.queue {
		if r.metrics != nil {
			r.metrics.SetQueueDepth(len(r.queue))
		}
		r.run(id)
	}
}

// StartReplication registers a pending job and queues it. It returns the job
// as created without waiting for it to run.
func (r *Replicator) StartReplication(ctx context.Context, source string, targets, paths []string) (Job, error) {
	if err := validateRequest(source, targets, paths); err != nil {
		return Job{}, err
	}

	job := Job{
		ID:            uuid.NewString(),
		SourceRegion:  source,
		TargetRegions: slices.Clone(targets),
		Paths:         slices.Clone(paths),
		Status:        StatusPending,
		StartedAt:     r.now(),
		Errors:        []string{},
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return Job{}, ErrStopped
	}
	entry := &jobEntry{job: job, done: make(chan struct{})}
	select {
	case r.queue <- job.ID:
	default:
		r.mu.Unlock()
		return Job{}, ErrQueueFull
	}
	r.jobs[job.ID] = entry
	r.evictLocked()
	depth := len(r.queue)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SetQueueDepth(depth)
	}
	logging.FromCtx(ctx, r.logger).Infof("replication job queued", map[string]any{
		"jobId":   job.ID,
		"source":  source,
		"targets": targets,
		"paths":   len(paths),
	})
	return job.clone(), nil
}

func validateRequest(source string, targets, paths []string) error {
	if source == "" {
		return fmt.Errorf("%w: source region is required", ErrInvalidRequest)
	}
	if len(targets) == 0 {
		return fmt.Errorf("%w: at least one target region is required", ErrInvalidRequest)
	}
	if len(paths) == 0 {
		return fmt.Errorf("%w: at least one path is required", ErrInvalidRequest)
	}
	for _, t := range targets {
		if t == "" || t == source {
			return fmt.Errorf("%w: invalid target region %q", ErrInvalidRequest, t)
		}
	}
	for _, p := range paths {
		if p == "" {
			return fmt.Errorf("%w: empty path", ErrInvalidRequest)
		}
	}
	return nil
}

// evictLocked drops the oldest persisted terminal jobs while the table is
// over MaxTrackedJobs. Caller must hold r.mu.
func (r *Replicator) evictLocked() {
	excess := len(r.jobs) - r.cfg.MaxTrackedJobs
	if excess <= 0 {
		return
	}
	var evictable []*jobEntry
	for _, e := range r.jobs {
		if e.persisted {
			evictable = append(evictable, e)
		}
	}
	slices.SortFunc(evictable, func(a, b *jobEntry) int {
		return a.job.StartedAt.Compare(b.job.StartedAt)
	})
	for _, e := range evictable[:min(excess, len(evictable))] {
		delete(r.jobs, e.job.ID)
	}
}

// update applies fn to the live job record under the table lock.
func (r *Replicator) update(id string, fn func(*Job)) Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.jobs[id]
	fn(&e.job)
	return e.job.clone()
}

func (r *Replicator) run(id string) {
	ctx := context.Background()
	logger := r.logger.With(map[string]any{"jobId": id})

	job := r.update(id, func(j *Job) {
		if err := j.transition(StatusRunning); err != nil {
			logger.Errorf("cannot start job", map[string]any{"error": err.Error()})
		}
	})
	if r.metrics != nil {
		r.metrics.RecordJobStarted()
	}
	r.publish(ctx, events.JobStarted, job)

	total := len(job.Paths) * len(job.TargetRegions)
	done := 0
	for _, path := range job.Paths {
		data, meta, err := r.readSource(ctx, job.SourceRegion, path)
		if err != nil {
			msg := fmt.Sprintf("Source not found: %s", path)
			if !errors.Is(err, objectstore.ErrNotFound) {
				msg = fmt.Sprintf("Failed to read %s from %s: %v", path, job.SourceRegion, err)
			}
			r.update(id, func(j *Job) { j.Errors = append(j.Errors, msg) })
			continue
		}

		for _, target := range job.TargetRegions {
			err := r.writeTarget(ctx, job, target, path, data, meta)
			if r.metrics != nil {
				r.metrics.RecordObject(target, err == nil)
			}
			done++
			r.update(id, func(j *Job) {
				if err != nil {
					j.Errors = append(j.Errors, fmt.Sprintf("Failed to replicate %s to %s: %v", path, target, err))
				}
				j.Progress = progress(done, total)
			})
		}
	}

	r.finish(ctx, id, logger)
}

func (r *Replicator) readSource(ctx context.Context, source, path string) ([]byte, objectstore.ObjectMeta, error) {
	key := objectstore.RegionKey(source, path)
	meta, err := r.objects.Head(ctx, key)
	if err != nil {
		return nil, objectstore.ObjectMeta{}, err
	}
	rc, err := r.objects.Get(ctx, key)
	if err != nil {
		return nil, objectstore.ObjectMeta{}, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, objectstore.ObjectMeta{}, fmt.Errorf("read %s: %w", key, err)
	}
	return data, meta, nil
}

func (r *Replicator) writeTarget(ctx context.Context, job Job, target, path string, data []byte, meta objectstore.ObjectMeta) error {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	md := maps.Clone(meta.Metadata)
	if md == nil {
		md = make(map[string]string, 3)
	}
	md[MetaReplicatedFrom] = job.SourceRegion
	md[MetaReplicatedAt] = r.now().UTC().Format(time.RFC3339)
	md[MetaJobID] = job.ID

	return r.objects.PutWithOptions(ctx, objectstore.RegionKey(target, path),
		bytes.NewReader(data), int64(len(data)), meta.ContentType,
		objectstore.PutOptions{Metadata: md})
}

func (r *Replicator) finish(ctx context.Context, id string, logger *logging.Logger) {
	job := r.update(id, func(j *Job) {
		next := StatusCompleted
		if len(j.Errors) > 0 {
			next = StatusFailed
		}
		completedAt := r.now()
		j.CompletedAt = &completedAt
		if err := j.transition(next); err != nil {
			logger.Errorf("cannot finish job", map[string]any{"error": err.Error()})
		}
	})

	persistErr := r.persist(ctx, job)
	if persistErr != nil {
		logger.Errorf("failed to persist job record", map[string]any{"error": persistErr.Error()})
	}

	r.mu.Lock()
	e := r.jobs[id]
	e.persisted = persistErr == nil
	close(e.done)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordJobFinished(string(job.Status), job.CompletedAt.Sub(job.StartedAt).Seconds())
	}
	evt := events.JobCompleted
	if job.Status == StatusFailed {
		evt = events.JobFailed
	}
	r.publish(ctx, evt, job)

	logger.Infof("replication job finished", map[string]any{
		"status": job.Status,
		"errors": len(job.Errors),
	})
}

func (r *Replicator) persist(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	_, err = r.meta.Put(ctx, keys.ReplicationJobKey(job.ID), data, metadata.WithTTL(r.cfg.JobRetention))
	return err
}

func (r *Replicator) publish(ctx context.Context, t events.Type, job Job) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
	defer cancel()
	err := r.events.Publish(ctx, events.Event{
		Type:          t,
		JobID:         job.ID,
		SourceRegion:  job.SourceRegion,
		TargetRegions: job.TargetRegions,
		Paths:         len(job.Paths),
		Progress:      job.Progress,
		Errors:        len(job.Errors),
		Time:          r.now(),
	})
	if err != nil {
		r.logger.Warnf("failed to publish replication event", map[string]any{
			"jobId": job.ID,
			"type":  string(t),
			"error": err.Error(),
		})
	}
}

// Wait blocks until job id is terminal and returns it. Jobs no longer in
// memory are read from the store.
func (r *Replicator) Wait(ctx context.Context, id string) (Job, error) {
	r.mu.Lock()
	e, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		job, err := r.loadJob(ctx, id)
		if err != nil {
			return Job{}, err
		}
		if job == nil {
			return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return *job, nil
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return e.job.clone(), nil
}

// GetJobStatus returns the live record for id, falling back to the persisted
// record. It returns nil when neither exists.
func (r *Replicator) GetJobStatus(ctx context.Context, id string) (*Job, error) {
	r.mu.Lock()
	if e, ok := r.jobs[id]; ok {
		job := e.job.clone()
		r.mu.Unlock()
		return &job, nil
	}
	r.mu.Unlock()
	return r.loadJob(ctx, id)
}

func (r *Replicator) loadJob(ctx context.Context, id string) (*Job, error) {
	res, err := r.meta.Get(ctx, keys.ReplicationJobKey(id))
	if err != nil {
		return nil, fmt.Errorf("replication: get job %s: %w", id, err)
	}
	if !res.Exists {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal(res.Value, &job); err != nil {
		return nil, fmt.Errorf("replication: decode job %s: %w", id, err)
	}
	return &job, nil
}

// ListJobs returns persisted jobs, newest StartedAt first, at most limit of
// them (all when limit <= 0). Running jobs are never persisted and so never
// listed.
func (r *Replicator) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	kvs, err := r.meta.List(ctx, keys.ReplicationJobsListPrefix(), 0)
	if err != nil {
		return nil, fmt.Errorf("replication: list jobs: %w", err)
	}

	jobs := make([]Job, 0, len(kvs))
	for _, kv := range kvs {
		var job Job
		if err := json.Unmarshal(kv.Value, &job); err != nil {
			r.logger.Warnf("skipping undecodable job record", map[string]any{
				"key":   kv.Key,
				"error": err.Error(),
			})
			continue
		}
		jobs = append(jobs, job)
	}

	slices.SortStableFunc(jobs, func(a, b Job) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}
