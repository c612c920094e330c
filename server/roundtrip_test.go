package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sploot/media-clustering/config"
	"github.com/sploot/media-clustering/engine"
	"github.com/sploot/media-clustering/insights"
	"github.com/sploot/media-clustering/metrics"
	"github.com/sploot/media-clustering/worker"
)

// insightsStub serves a fixed subject with three near-identical
// embeddings and records nothing.
func insightsStub() http.Handler {
	records := map[string][]float64{
		"img-1": {1, 0, 0},
		"img-2": {1, 0, 0},
		"img-3": {1, 0, 0},
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/images-with-embeddings"):
			json.NewEncoder(w).Encode(map[string][]string{
				"image_ids": {"img-1", "img-2", "img-3"},
			})
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusOK)
		default:
			id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
			embedding, ok := records[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(insights.InsightRecord{HasEmbedding: true, Embedding: embedding})
		}
	})
}

// Submission travels the whole pipeline: front door publish, worker
// consume and cluster, state persisted, front door read.
func TestSubmitToClustersRoundTrip(t *testing.T) {
	f := newFixture(t)

	insightsSrv := httptest.NewServer(insightsStub())
	t.Cleanup(insightsSrv.Close)

	clusterCfg := config.ClusterConfig{
		Namespace:      "sploot.media.clusters",
		StateTTLSecond: 86400,
		MaxClusterSize: 24,
		Eps:            0.3,
		IdentityEps:    0.15,
		MinSamples:     2,
	}
	streamCfg := config.StreamConfig{
		Key:              "streams:media.cluster",
		DeadLetterStream: "streams:media.cluster.deadletter",
		MaxLen:           10000,
		ApproximateTrim:  true,
		ConsumerGroup:    "media-clustering-workers",
		ConsumerName:     "roundtrip-worker",
		ReadTimeoutMs:    50,
		ReadCount:        16,
		MaxAttempts:      5,
	}

	w := worker.New(
		f.queue,
		f.store,
		insights.NewClient(config.InsightsConfig{
			BaseURL:            insightsSrv.URL,
			InternalToken:      "token",
			HTTPTimeoutSeconds: 5,
		}, zap.NewNop().Sugar()),
		engine.New(clusterCfg),
		metrics.New(),
		streamCfg,
		zap.NewNop().Sugar(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	rec := f.request(t, http.MethodPost, "/internal/cluster-jobs",
		map[string]interface{}{"subject_id": "pet-rt", "reason": "insights_ready"}, testToken)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		return f.request(t, http.MethodGet, "/internal/pets/pet-rt/clusters", nil, testToken).Code == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	rec = f.request(t, http.MethodGet, "/internal/pets/pet-rt/clusters", nil, testToken)
	body := decodeBody(t, rec)
	assert.Equal(t, "pet-rt", body["subject_id"])
	clusters := body["clusters"].([]interface{})
	require.Len(t, clusters, 1)
	cluster := clusters[0].(map[string]interface{})
	assert.Equal(t, "pet-rt-cluster-0", cluster["id"])
	assert.Equal(t, "Pet A", cluster["label"])

	rec = f.request(t, http.MethodGet, "/internal/pets/pet-rt/hero-images", nil, testToken)
	require.Equal(t, http.StatusOK, rec.Code)
	heroes := decodeBody(t, rec)["hero_images"].(map[string]interface{})
	assert.Equal(t, "img-1", heroes["pet-rt-cluster-0"])
}
