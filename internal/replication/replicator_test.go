package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georoute-io/georoute/internal/events"
	"github.com/georoute-io/georoute/internal/metadata"
	"github.com/georoute-io/georoute/internal/metadata/keys"
	"github.com/georoute-io/georoute/internal/metrics"
	"github.com/georoute-io/georoute/internal/objectstore"
)

func putObject(t *testing.T, store objectstore.Store, region, path, body, contentType string, md map[string]string) {
	t.Helper()
	err := store.PutWithOptions(context.Background(), objectstore.RegionKey(region, path),
		strings.NewReader(body), int64(len(body)), contentType, objectstore.PutOptions{Metadata: md})
	require.NoError(t, err)
}

func readObject(t *testing.T, store objectstore.Store, key string) string {
	t.Helper()
	rc, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func newTestReplicator(t *testing.T, objects objectstore.Store, meta metadata.MetadataStore, cfg Config) *Replicator {
	t.Helper()
	r := New(objects, meta, cfg)
	r.Start()
	t.Cleanup(r.Stop)
	return r
}

func waitJob(t *testing.T, r *Replicator, id string) Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := r.Wait(ctx, id)
	require.NoError(t, err)
	return job
}

func TestJob_Transitions(t *testing.T) {
	j := &Job{ID: "j", Status: StatusPending}
	assert.False(t, j.CanTransitionTo(StatusCompleted))
	require.NoError(t, j.transition(StatusRunning))
	require.NoError(t, j.transition(StatusFailed))
	assert.True(t, j.Status.Terminal())

	err := j.transition(StatusRunning)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusFailed, j.Status)
}

func TestProgress(t *testing.T) {
	assert.Equal(t, 0, progress(0, 3))
	assert.Equal(t, 33, progress(1, 3))
	assert.Equal(t, 67, progress(2, 3))
	assert.Equal(t, 100, progress(3, 3))
	assert.Equal(t, 100, progress(0, 0))
}

func TestStartReplication_Validation(t *testing.T) {
	r := New(objectstore.NewMockStore(), metadata.NewMockStore(), Config{})
	ctx := context.Background()

	cases := []struct {
		source  string
		targets []string
		paths   []string
	}{
		{"", []string{"us-east"}, []string{"/a"}},
		{"eu-west", nil, []string{"/a"}},
		{"eu-west", []string{"us-east"}, nil},
		{"eu-west", []string{"eu-west"}, []string{"/a"}},
		{"eu-west", []string{""}, []string{"/a"}},
		{"eu-west", []string{"us-east"}, []string{""}},
	}
	for _, c := range cases {
		_, err := r.StartReplication(ctx, c.source, c.targets, c.paths)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	}
}

func TestReplication_CopiesWithProvenance(t *testing.T) {
	objects := objectstore.NewMockStore()
	meta := metadata.NewMockStore()
	putObject(t, objects, "eu-west", "/images/logo.png", "png-bytes", "image/png", map[string]string{"owner": "web"})

	pub := events.NewMemoryPublisher()
	r := newTestReplicator(t, objects, meta, Config{Events: pub})

	job, err := r.StartReplication(context.Background(), "eu-west", []string{"us-east", "ap-south"}, []string{"/images/logo.png"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
	assert.NotEmpty(t, job.ID)

	final := waitJob(t, r, job.ID)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)
	assert.Empty(t, final.Errors)
	require.NotNil(t, final.CompletedAt)

	for _, target := range []string{"us-east", "ap-south"} {
		key := objectstore.RegionKey(target, "/images/logo.png")
		assert.Equal(t, "png-bytes", readObject(t, objects, key))
		head, err := objects.Head(context.Background(), key)
		require.NoError(t, err)
		assert.Equal(t, "image/png", head.ContentType)
		assert.Equal(t, "eu-west", head.Metadata[MetaReplicatedFrom])
		assert.Equal(t, job.ID, head.Metadata[MetaJobID])
		assert.NotEmpty(t, head.Metadata[MetaReplicatedAt])
		assert.Equal(t, "web", head.Metadata["owner"])
	}

	evts := pub.Events()
	require.Len(t, evts, 2)
	assert.Equal(t, events.JobStarted, evts[0].Type)
	assert.Equal(t, events.JobCompleted, evts[1].Type)
}

// 2 paths x 2 targets with one failing target write: failed, progress 100,
// exactly one error naming the pair.
func TestReplication_OneTargetWriteFails(t *testing.T) {
	objects := objectstore.NewMockStore()
	meta := metadata.NewMockStore()
	putObject(t, objects, "eu-west", "/a.txt", "a", "text/plain", nil)
	putObject(t, objects, "eu-west", "/b.txt", "b", "text/plain", nil)

	failKey := objectstore.RegionKey("ap-south", "/b.txt")
	objects.SetPutHook(func(key string) error {
		if key == failKey {
			return errors.New("disk full")
		}
		return nil
	})

	m := metrics.NewReplicationMetricsWithRegistry(prometheus.NewRegistry())
	pub := events.NewMemoryPublisher()
	r := newTestReplicator(t, objects, meta, Config{Metrics: m, Events: pub})

	job, err := r.StartReplication(context.Background(), "eu-west", []string{"us-east", "ap-south"}, []string{"/a.txt", "/b.txt"})
	require.NoError(t, err)
	final := waitJob(t, r, job.ID)

	assert.Equal(t, StatusFailed, final.Status)
	assert.Equal(t, 100, final.Progress)
	require.Len(t, final.Errors, 1)
	assert.Contains(t, final.Errors[0], "/b.txt")
	assert.Contains(t, final.Errors[0], "ap-south")
	assert.True(t, strings.HasPrefix(final.Errors[0], "Failed to replicate"))

	assert.Equal(t, "b", readObject(t, objects, objectstore.RegionKey("us-east", "/b.txt")))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsTotal.WithLabelValues(string(StatusFailed))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ObjectsTotal.WithLabelValues("ap-south", metrics.StatusFailure)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ObjectsTotal.WithLabelValues("us-east", metrics.StatusSuccess)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.JobsInFlight))

	evts := pub.Events()
	require.Len(t, evts, 2)
	assert.Equal(t, events.JobFailed, evts[1].Type)
	assert.Equal(t, 1, evts[1].Errors)
}

func TestReplication_SourceMissingIsRecorded(t *testing.T) {
	objects := objectstore.NewMockStore()
	putObject(t, objects, "eu-west", "/present", "x", "text/plain", nil)
	r := newTestReplicator(t, objects, metadata.NewMockStore(), Config{})

	job, err := r.StartReplication(context.Background(), "eu-west", []string{"us-east"}, []string{"/missing", "/present"})
	require.NoError(t, err)
	final := waitJob(t, r, job.ID)

	assert.Equal(t, StatusFailed, final.Status)
	assert.Equal(t, []string{"Source not found: /missing"}, final.Errors)
	assert.Equal(t, 50, final.Progress)
	assert.Equal(t, "x", readObject(t, objects, objectstore.RegionKey("us-east", "/present")))
}

func TestReplication_PersistsWithRetention(t *testing.T) {
	objects := objectstore.NewMockStore()
	meta := metadata.NewMockStore()
	now := time.Unix(1_800_000_000, 0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	meta.SetClock(clock)
	putObject(t, objects, "eu-west", "/a", "a", "text/plain", nil)

	r := newTestReplicator(t, objects, meta, Config{Now: clock})
	job, err := r.StartReplication(context.Background(), "eu-west", []string{"us-east"}, []string{"/a"})
	require.NoError(t, err)
	waitJob(t, r, job.ID)

	res, err := meta.Get(context.Background(), keys.ReplicationJobKey(job.ID))
	require.NoError(t, err)
	require.True(t, res.Exists)
	var stored Job
	require.NoError(t, json.Unmarshal(res.Value, &stored))
	assert.Equal(t, StatusCompleted, stored.Status)

	mu.Lock()
	now = now.Add(DefaultJobRetention)
	mu.Unlock()
	res, err = meta.Get(context.Background(), keys.ReplicationJobKey(job.ID))
	require.NoError(t, err)
	assert.False(t, res.Exists, "job record expires after the retention period")
}

func TestGetJobStatus(t *testing.T) {
	objects := objectstore.NewMockStore()
	meta := metadata.NewMockStore()
	putObject(t, objects, "eu-west", "/a", "a", "text/plain", nil)
	r := newTestReplicator(t, objects, meta, Config{})
	ctx := context.Background()

	job, err := r.StartReplication(ctx, "eu-west", []string{"us-east"}, []string{"/a"})
	require.NoError(t, err)
	waitJob(t, r, job.ID)

	got, err := r.GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusCompleted, got.Status)

	// A fresh replicator only sees the persisted record.
	other := New(objects, meta, Config{})
	got, err = other.GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)

	got, err = r.GetJobStatus(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = other.Wait(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestGetJobStatus_ReturnsCopies(t *testing.T) {
	r := New(objectstore.NewMockStore(), metadata.NewMockStore(), Config{})
	job, err := r.StartReplication(context.Background(), "eu-west", []string{"us-east"}, []string{"/a"})
	require.NoError(t, err)

	got, err := r.GetJobStatus(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusPending, got.Status, "no workers started")
	got.Paths[0] = "/mutated"

	again, _ := r.GetJobStatus(context.Background(), job.ID)
	assert.Equal(t, "/a", again.Paths[0])
}

func TestListJobs_OrderedByStartDescending(t *testing.T) {
	objects := objectstore.NewMockStore()
	meta := metadata.NewMockStore()
	putObject(t, objects, "eu-west", "/a", "a", "text/plain", nil)

	base := time.Unix(1_800_000_000, 0)
	var mu sync.Mutex
	tick := 0
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	r := newTestReplicator(t, objects, meta, Config{Workers: 1, Now: clock})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := r.StartReplication(ctx, "eu-west", []string{"us-east"}, []string{"/a"})
		require.NoError(t, err)
		waitJob(t, r, job.ID)
		ids = append(ids, job.ID)
	}

	jobs, err := r.ListJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{jobs[0].ID, jobs[1].ID, jobs[2].ID})
	for i := 1; i < len(jobs); i++ {
		assert.False(t, jobs[i].StartedAt.After(jobs[i-1].StartedAt))
	}
	for _, j := range jobs {
		assert.True(t, j.Status.Terminal())
	}

	jobs, err = r.ListJobs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, ids[2], jobs[0].ID)
}

func TestListJobs_ExcludesRunningJobs(t *testing.T) {
	objects := objectstore.NewMockStore()
	meta := metadata.NewMockStore()
	putObject(t, objects, "eu-west", "/a", "a", "text/plain", nil)

	release := make(chan struct{})
	objects.SetPutHook(func(string) error {
		<-release
		return nil
	})
	r := newTestReplicator(t, objects, meta, Config{})
	ctx := context.Background()

	job, err := r.StartReplication(ctx, "eu-west", []string{"us-east"}, []string{"/a"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, _ := r.GetJobStatus(ctx, job.ID)
		return j != nil && j.Status == StatusRunning
	}, 2*time.Second, 5*time.Millisecond)

	jobs, err := r.ListJobs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	close(release)
	waitJob(t, r, job.ID)
	jobs, err = r.ListJobs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestListJobs_ListError(t *testing.T) {
	meta := metadata.NewMockStore()
	meta.SetListError(errors.New("boom"))
	r := New(objectstore.NewMockStore(), meta, Config{})
	_, err := r.ListJobs(context.Background(), 10)
	assert.Error(t, err)
}

func TestStartReplication_QueueFull(t *testing.T) {
	r := New(objectstore.NewMockStore(), metadata.NewMockStore(), Config{QueueSize: 1})
	ctx := context.Background()

	_, err := r.StartReplication(ctx, "eu-west", []string{"us-east"}, []string{"/a"})
	require.NoError(t, err)
	_, err = r.StartReplication(ctx, "eu-west", []string{"us-east"}, []string{"/b"})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestStop_DrainsQueueAndRefusesNewJobs(t *testing.T) {
	objects := objectstore.NewMockStore()
	putObject(t, objects, "eu-west", "/a", "a", "text/plain", nil)
	r := New(objects, metadata.NewMockStore(), Config{Workers: 1})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := r.StartReplication(ctx, "eu-west", []string{"us-east"}, []string{"/a"})
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	r.Start()
	r.Stop()

	for _, id := range ids {
		job, err := r.GetJobStatus(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, job.Status)
	}
	_, err := r.StartReplication(ctx, "eu-west", []string{"us-east"}, []string{"/a"})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestReplication_ConcurrentJobs(t *testing.T) {
	objects := objectstore.NewMockStore()
	for _, p := range []string{"/1", "/2", "/3", "/4"} {
		putObject(t, objects, "eu-west", p, "body"+p, "text/plain", nil)
	}
	r := newTestReplicator(t, objects, metadata.NewMockStore(), Config{Workers: 4})
	ctx := context.Background()

	var jobs []Job
	for _, target := range []string{"us-east", "ap-south", "sa-east"} {
		job, err := r.StartReplication(ctx, "eu-west", []string{target}, []string{"/1", "/2", "/3", "/4"})
		require.NoError(t, err)
		jobs = append(jobs, job)
	}
	for _, j := range jobs {
		assert.Equal(t, StatusCompleted, waitJob(t, r, j.ID).Status)
	}
	assert.Equal(t, "body/3", readObject(t, objects, objectstore.RegionKey("sa-east", "/3")))
}

func TestReplication_EvictsPersistedJobs(t *testing.T) {
	objects := objectstore.NewMockStore()
	meta := metadata.NewMockStore()
	putObject(t, objects, "eu-west", "/a", "a", "text/plain", nil)
	r := newTestReplicator(t, objects, meta, Config{MaxTrackedJobs: 2})
	ctx := context.Background()

	var first string
	for i := 0; i < 4; i++ {
		job, err := r.StartReplication(ctx, "eu-west", []string{"us-east"}, []string{"/a"})
		require.NoError(t, err)
		waitJob(t, r, job.ID)
		if i == 0 {
			first = job.ID
		}
	}

	r.mu.Lock()
	tracked := len(r.jobs)
	_, stillTracked := r.jobs[first]
	r.mu.Unlock()
	assert.LessOrEqual(t, tracked, 3)
	assert.False(t, stillTracked)

	got, err := r.GetJobStatus(ctx, first)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestReplication_RateLimited(t *testing.T) {
	objects := objectstore.NewMockStore()
	putObject(t, objects, "eu-west", "/a", "a", "text/plain", nil)
	r := newTestReplicator(t, objects, metadata.NewMockStore(), Config{WritesPerSecond: 1000})

	job, err := r.StartReplication(context.Background(), "eu-west", []string{"us-east", "ap-south"}, []string{"/a"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, waitJob(t, r, job.ID).Status)
}

func TestReplication_LargeObject(t *testing.T) {
	objects := objectstore.NewMockStore()
	body := bytes.Repeat([]byte("x"), 1<<20)
	putObject(t, objects, "eu-west", "/big.bin", string(body), "application/octet-stream", nil)
	r := newTestReplicator(t, objects, metadata.NewMockStore(), Config{})

	job, err := r.StartReplication(context.Background(), "eu-west", []string{"us-east"}, []string{"/big.bin"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, waitJob(t, r, job.ID).Status)
	assert.Len(t, readObject(t, objects, objectstore.RegionKey("us-east", "/big.bin")), 1<<20)
}

// stalledPublisher never delivers; it returns only when ctx is done.
type stalledPublisher struct{}

func (p *stalledPublisher) Publish(ctx context.Context, _ events.Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func (p *stalledPublisher) Close() error { return nil }

func TestReplication_StalledPublisherDoesNotBlockJobs(t *testing.T) {
	objects := objectstore.NewMockStore()
	putObject(t, objects, "eu-west", "/a.txt", "a", "text/plain", nil)

	r := newTestReplicator(t, objects, metadata.NewMockStore(), Config{
		Events:         &stalledPublisher{},
		PublishTimeout: 20 * time.Millisecond,
	})

	job, err := r.StartReplication(context.Background(), "eu-west", []string{"us-east"}, []string{"/a.txt"})
	require.NoError(t, err)

	final := waitJob(t, r, job.ID)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, "a", readObject(t, objects, objectstore.RegionKey("us-east", "/a.txt")))
}
