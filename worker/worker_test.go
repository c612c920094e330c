package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sploot/media-clustering/config"
	"github.com/sploot/media-clustering/engine"
	"github.com/sploot/media-clustering/errors"
	"github.com/sploot/media-clustering/insights"
	"github.com/sploot/media-clustering/metrics"
	"github.com/sploot/media-clustering/state"
	"github.com/sploot/media-clustering/stream"
)

// fakeInsights stands in for the insights service: a fixed image list,
// per-image records, and a log of posted updates.
type fakeInsights struct {
	mu       sync.Mutex
	imageIDs []string
	records  map[string]insights.InsightRecord
	posted   []insights.InsightUpdate
}

func (f *fakeInsights) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case strings.HasSuffix(r.URL.Path, "/images-with-embeddings"):
			json.NewEncoder(w).Encode(map[string]interface{}{"image_ids": f.imageIDs})
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/insights"):
			var update insights.InsightUpdate
			if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			f.posted = append(f.posted, update)
		case strings.Contains(r.URL.Path, "/insights/"):
			id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
			record, ok := f.records[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(record)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func (f *fakeInsights) postedUpdates() []insights.InsightUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]insights.InsightUpdate(nil), f.posted...)
}

type fixture struct {
	mr      *miniredis.Miniredis
	rdb     *redis.Client
	queue   *stream.Queue
	store   *state.Store
	worker  *Worker
	fake    *fakeInsights
	metrics *metrics.Metrics
	cfg     config.StreamConfig
}

func newFixture(t *testing.T, fake *fakeInsights) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	streamCfg := config.StreamConfig{
		Key:              "streams:media.cluster",
		DeadLetterStream: "streams:media.cluster.deadletter",
		MaxLen:           10000,
		ApproximateTrim:  true,
		ConsumerGroup:    "media-clustering-workers",
		ConsumerName:     "media-clustering-worker",
		ReadTimeoutMs:    50,
		ReadCount:        16,
		MaxAttempts:      5,
	}
	clusterCfg := config.ClusterConfig{
		Namespace:      "sploot.media.clusters",
		StateTTLSecond: 86400,
		MaxClusterSize: 24,
		Eps:            0.3,
		IdentityEps:    0.15,
		MinSamples:     2,
	}

	logger := zap.NewNop().Sugar()
	queue := stream.NewQueue(rdb, streamCfg, logger)
	store := state.NewStore(rdb, clusterCfg.Namespace, clusterCfg.StateTTL())
	client := insights.NewClient(config.InsightsConfig{
		BaseURL:            srv.URL,
		InternalToken:      "token",
		HTTPTimeoutSeconds: 5,
	}, logger)
	m := metrics.New()

	w := New(queue, store, client, engine.New(clusterCfg), m, streamCfg, logger)

	require.NoError(t, queue.EnsureGroup(context.Background()))
	return &fixture{mr: mr, rdb: rdb, queue: queue, store: store, worker: w, fake: fake, metrics: m, cfg: streamCfg}
}

func (f *fixture) publish(t *testing.T, env stream.JobEnvelope) {
	t.Helper()
	payload, err := env.Encode()
	require.NoError(t, err)
	_, err = f.queue.Publish(context.Background(), payload)
	require.NoError(t, err)
}

func (f *fixture) readOne(t *testing.T) stream.Entry {
	t.Helper()
	entries, err := f.queue.ReadGroup(context.Background(), f.cfg.ConsumerName)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return entries[0]
}

func (f *fixture) scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	f.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestProcessEntrySuccess(t *testing.T) {
	fake := &fakeInsights{
		imageIDs: []string{"img-1", "img-2", "img-3"},
		records: map[string]insights.InsightRecord{
			"img-1": {HasEmbedding: true, Embedding: []float64{1, 0, 0}},
			"img-2": {HasEmbedding: true, Embedding: []float64{1, 0, 0}},
			"img-3": {HasEmbedding: true, Embedding: []float64{1, 0, 0}},
		},
	}
	f := newFixture(t, fake)
	ctx := context.Background()

	f.publish(t, stream.NewEnvelope("pet-1", "job-1", nil))
	f.worker.processEntry(ctx, f.readOne(t))

	st, err := f.store.Get(ctx, "pet-1")
	require.NoError(t, err)
	require.Len(t, st.Clusters, 1)
	c := st.Clusters[0]
	assert.Equal(t, "pet-1-cluster-0", c.ID)
	assert.Equal(t, "Pet A", c.Label)
	assert.Equal(t, "img-1", c.HeroImageID)
	assert.Len(t, c.Members, 3)
	assert.Equal(t, 1, st.Metrics.NumClusters)
	assert.Equal(t, 3, st.Metrics.NumImages)
	assert.InDelta(t, 1.0, st.Metrics.AvgQuality, 1e-9)

	// Entry acked, nothing pending.
	assert.Zero(t, f.queue.Pending(ctx).Count)

	// One write-back per member, hero flagged once.
	updates := fake.postedUpdates()
	require.Len(t, updates, 3)
	heroes := 0
	for _, u := range updates {
		assert.Equal(t, ProcessorVersion, u.ProcessorVersion)
		assert.Equal(t, "pet-1-cluster-0", u.Tags.Cluster.ID)
		if u.Tags.Cluster.IsHero {
			heroes++
		}
	}
	assert.Equal(t, 1, heroes)

	assert.Contains(t, f.scrape(t), `jobs_processed_total{result="success"} 1`)
}

func TestProcessEntryMalformedPayload(t *testing.T) {
	f := newFixture(t, &fakeInsights{})
	ctx := context.Background()

	_, err := f.queue.Publish(ctx, []byte("not-json"))
	require.NoError(t, err)
	f.worker.processEntry(ctx, f.readOne(t))

	// Acked and dropped: not pending, not dead-lettered, no state written.
	assert.Zero(t, f.queue.Pending(ctx).Count)
	dead, err := f.queue.ReadDeadLetters(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, dead)
	_, err = f.store.Get(ctx, "pet-1")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	assert.Contains(t, f.scrape(t), `jobs_processed_total{result="invalid"} 1`)
}

func TestProcessEntryMissingSubjectIsInvalid(t *testing.T) {
	f := newFixture(t, &fakeInsights{})
	ctx := context.Background()

	_, err := f.queue.Publish(ctx, []byte(`{"job_id":"job-1","attempts":0}`))
	require.NoError(t, err)
	f.worker.processEntry(ctx, f.readOne(t))

	assert.Zero(t, f.queue.Pending(ctx).Count)
	assert.Contains(t, f.scrape(t), `jobs_processed_total{result="invalid"} 1`)
}

func TestProcessEntryNoEmbeddingsSkips(t *testing.T) {
	f := newFixture(t, &fakeInsights{imageIDs: nil})
	ctx := context.Background()

	f.publish(t, stream.NewEnvelope("pet-2", "job-2", nil))
	f.worker.processEntry(ctx, f.readOne(t))

	assert.Zero(t, f.queue.Pending(ctx).Count)
	_, err := f.store.Get(ctx, "pet-2")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	dead, err := f.queue.ReadDeadLetters(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, dead)

	assert.Contains(t, f.scrape(t), `jobs_processed_total{result="skipped"} 1`)
}

func TestProcessEntryUnusableRecordsSkip(t *testing.T) {
	fake := &fakeInsights{
		imageIDs: []string{"img-1", "img-2"},
		records: map[string]insights.InsightRecord{
			"img-1": {HasEmbedding: false},
			"img-2": {HasEmbedding: true, Embedding: nil},
		},
	}
	f := newFixture(t, fake)
	ctx := context.Background()

	f.publish(t, stream.NewEnvelope("pet-3", "job-3", nil))
	f.worker.processEntry(ctx, f.readOne(t))

	assert.Zero(t, f.queue.Pending(ctx).Count)
	assert.Contains(t, f.scrape(t), `jobs_processed_total{result="skipped"} 1`)
}

func TestProcessEntryFailureRequeues(t *testing.T) {
	// Mismatched embedding dimensions make the engine reject the input,
	// which travels the retry path.
	fake := &fakeInsights{
		imageIDs: []string{"img-1", "img-2"},
		records: map[string]insights.InsightRecord{
			"img-1": {HasEmbedding: true, Embedding: []float64{1, 0, 0}},
			"img-2": {HasEmbedding: true, Embedding: []float64{0, 1}},
		},
	}
	f := newFixture(t, fake)
	ctx := context.Background()

	f.publish(t, stream.NewEnvelope("pet-4", "job-4", nil))
	f.worker.processEntry(ctx, f.readOne(t))

	// Original acked; a fresh entry carries the incremented attempt count.
	requeued := f.readOne(t)
	env, err := stream.DecodeEnvelope(requeued.Payload)
	require.NoError(t, err)
	assert.Equal(t, "job-4", env.JobID)
	assert.Equal(t, "pet-4", env.SubjectID)
	assert.Equal(t, 1, env.Attempts)

	dead, err := f.queue.ReadDeadLetters(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, dead)

	assert.Contains(t, f.scrape(t), `jobs_processed_total{result="retry"} 1`)
}

func TestProcessEntryDeadLettersAfterMaxAttempts(t *testing.T) {
	fake := &fakeInsights{
		imageIDs: []string{"img-1", "img-2"},
		records: map[string]insights.InsightRecord{
			"img-1": {HasEmbedding: true, Embedding: []float64{1, 0, 0}},
			"img-2": {HasEmbedding: true, Embedding: []float64{0, 1}},
		},
	}
	f := newFixture(t, fake)
	ctx := context.Background()

	env := stream.NewEnvelope("pet-5", "job-5", nil)
	env.Attempts = f.cfg.MaxAttempts - 1
	f.publish(t, env)
	f.worker.processEntry(ctx, f.readOne(t))

	// Nothing left on the main stream.
	entries, err := f.queue.ReadGroup(ctx, f.cfg.ConsumerName)
	require.NoError(t, err)
	assert.Empty(t, entries)

	dead, err := f.queue.ReadDeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "job-5", dead[0].Envelope.JobID)
	assert.Equal(t, f.cfg.MaxAttempts, dead[0].Envelope.Attempts)
	assert.NotEmpty(t, dead[0].Error)

	assert.Contains(t, f.scrape(t), `jobs_processed_total{result="dead_letter"} 1`)
}

func TestRunProcessesUntilCancelled(t *testing.T) {
	fake := &fakeInsights{
		imageIDs: []string{"img-1", "img-2"},
		records: map[string]insights.InsightRecord{
			"img-1": {HasEmbedding: true, Embedding: []float64{1, 0, 0}},
			"img-2": {HasEmbedding: true, Embedding: []float64{1, 0, 0}},
		},
	}
	f := newFixture(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()

	f.publish(t, stream.NewEnvelope("pet-6", "job-6", nil))

	require.Eventually(t, func() bool {
		_, err := f.store.Get(context.Background(), "pet-6")
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
