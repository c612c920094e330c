// Package worker runs the clustering job loop: read from the consumer
// group, fetch embeddings, cluster, persist state, write insights back,
// then ack. Delivery is at-least-once; every entry is acked exactly once
// and failed jobs are republished or dead-lettered as new entries.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sploot/media-clustering/config"
	"github.com/sploot/media-clustering/engine"
	"github.com/sploot/media-clustering/errors"
	"github.com/sploot/media-clustering/insights"
	"github.com/sploot/media-clustering/metrics"
	"github.com/sploot/media-clustering/state"
	"github.com/sploot/media-clustering/stream"
)

// ProcessorVersion is stamped on every insight update written back.
const ProcessorVersion = "clustering-v1"

// readErrorBackoff throttles the loop when the stream itself errors.
const readErrorBackoff = time.Second

// Worker consumes clustering jobs from the stream.
type Worker struct {
	queue    *stream.Queue
	store    *state.Store
	insights *insights.Client
	engine   *engine.Engine
	metrics  *metrics.Metrics
	cfg      config.StreamConfig
	logger   *zap.SugaredLogger
}

// New wires a worker over its collaborators.
func New(
	queue *stream.Queue,
	store *state.Store,
	insightsClient *insights.Client,
	eng *engine.Engine,
	m *metrics.Metrics,
	cfg config.StreamConfig,
	logger *zap.SugaredLogger,
) *Worker {
	return &Worker{
		queue:    queue,
		store:    store,
		insights: insightsClient,
		engine:   eng,
		metrics:  m,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks consuming jobs until the context is cancelled. The consumer
// group is created on entry if it does not exist yet.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.queue.EnsureGroup(ctx); err != nil {
		return err
	}
	w.logger.Infow("worker started",
		"stream", w.cfg.Key, "group", w.cfg.ConsumerGroup, "consumer", w.cfg.ConsumerName)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		entries, err := w.queue.ReadGroup(ctx, w.cfg.ConsumerName)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Errorw("stream read failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(readErrorBackoff):
			}
			continue
		}

		for _, entry := range entries {
			w.processEntry(ctx, entry)
		}
		w.refreshGauges(ctx)
	}
}

// processEntry handles one delivered entry end to end. The entry is always
// acked: retries and dead-letters travel as freshly published entries, so
// the pending list never accumulates poison messages.
func (w *Worker) processEntry(ctx context.Context, entry stream.Entry) {
	start := time.Now()

	env, err := stream.DecodeEnvelope(entry.Payload)
	if err != nil {
		w.ack(ctx, entry.ID)
		w.metrics.RecordJob(metrics.ResultInvalid, time.Since(start))
		w.logger.Warnw("dropping malformed job entry", "entry_id", entry.ID, "error", err)
		return
	}

	log := w.logger.With("job_id", env.JobID, "subject_id", env.SubjectID, "attempt", env.Attempts+1)

	err = w.handle(ctx, env)
	w.ack(ctx, entry.ID)

	switch {
	case err == nil:
		w.metrics.RecordJob(metrics.ResultSuccess, time.Since(start))
		log.Infow("clustering job processed", "elapsed", time.Since(start))
	case errors.Is(err, errors.ErrEmptyEmbeddings):
		w.metrics.RecordJob(metrics.ResultSkipped, time.Since(start))
		log.Infow("clustering job skipped", "reason", err.Error())
	default:
		result := w.routeFailure(ctx, env, err, log)
		w.metrics.RecordJob(result, time.Since(start))
	}
}

// routeFailure republishes a failed job with an incremented attempt count,
// or dead-letters it once the retry budget is spent.
func (w *Worker) routeFailure(ctx context.Context, env stream.JobEnvelope, cause error, log *zap.SugaredLogger) metrics.Result {
	env.Attempts++

	payload, err := env.Encode()
	if err != nil {
		log.Errorw("failed to encode job for requeue", "error", err)
		return metrics.ResultFailure
	}

	if env.Attempts < w.cfg.MaxAttempts {
		if _, err := w.queue.Publish(ctx, payload); err != nil {
			log.Errorw("failed to republish job", "error", err)
			return metrics.ResultFailure
		}
		log.Warnw("clustering job requeued", "attempts", env.Attempts, "error", cause)
		return metrics.ResultRetry
	}

	if _, err := w.queue.DeadLetter(ctx, payload, cause.Error()); err != nil {
		log.Errorw("failed to dead-letter job", "error", err)
		return metrics.ResultFailure
	}
	log.Errorw("clustering job dead-lettered", "attempts", env.Attempts, "error", cause)
	return metrics.ResultDeadLetter
}

// handle performs the clustering for one job. ErrEmptyEmbeddings means the
// subject has nothing to cluster and the job should be skipped, not
// retried.
func (w *Worker) handle(ctx context.Context, env stream.JobEnvelope) error {
	imageIDs := w.insights.ListImagesWithEmbeddings(ctx, env.SubjectID)
	if len(imageIDs) == 0 {
		return errors.Wrapf(errors.ErrEmptyEmbeddings, "subject %s has no images with embeddings", env.SubjectID)
	}

	records := w.insights.FetchInsightsBatch(ctx, imageIDs)

	retained := make([]string, 0, len(imageIDs))
	embeddings := make([][]float64, 0, len(imageIDs))
	for _, id := range imageIDs {
		record, ok := records[id]
		if !ok || !record.Usable() {
			continue
		}
		retained = append(retained, id)
		embeddings = append(embeddings, record.Embedding)
	}
	if len(retained) == 0 {
		return errors.Wrapf(errors.ErrEmptyEmbeddings, "subject %s has no usable embeddings", env.SubjectID)
	}

	clusters, err := w.engine.Cluster(retained, embeddings, engine.ModeIdentity)
	if err != nil {
		return err
	}

	st := buildState(env.SubjectID, clusters, len(retained))
	if err := w.store.Put(ctx, st); err != nil {
		return err
	}

	// Write-back is best effort; the persisted state is the primary output.
	w.insights.PostInsightsBatch(ctx, buildUpdates(clusters, env.SubjectID))
	return nil
}

// buildState converts engine output into the persisted representation,
// prefixing cluster IDs with the subject so they are globally unique.
func buildState(subjectID string, clusters []engine.Cluster, numImages int) *state.ClusterState {
	out := make([]state.Cluster, 0, len(clusters))
	var qualitySum float64
	for _, c := range clusters {
		members := make([]state.ClusterMember, 0, len(c.Members))
		for _, m := range c.Members {
			members = append(members, state.ClusterMember{
				ImageID:      m.ImageID,
				Score:        m.Score,
				Position:     m.Position,
				QualityScore: m.Score,
			})
		}
		out = append(out, state.Cluster{
			ID:           fmt.Sprintf("%s-%s", subjectID, c.ID),
			Label:        c.Label,
			HeroImageID:  c.HeroImageID,
			Members:      members,
			QualityScore: c.QualityScore,
		})
		qualitySum += c.QualityScore
	}

	avgQuality := 0.0
	if len(clusters) > 0 {
		avgQuality = qualitySum / float64(len(clusters))
	}

	return &state.ClusterState{
		SubjectID: subjectID,
		Clusters:  out,
		Metrics: state.ClusterMetrics{
			NumClusters: len(clusters),
			NumImages:   numImages,
			AvgQuality:  avgQuality,
			ProcessedAt: time.Now().UTC(),
		},
	}
}

// buildUpdates flattens cluster memberships into per-image insight
// updates.
func buildUpdates(clusters []engine.Cluster, subjectID string) []insights.InsightUpdate {
	var updates []insights.InsightUpdate
	for _, c := range clusters {
		for _, m := range c.Members {
			updates = append(updates, insights.InsightUpdate{
				SourceImageID:    m.ImageID,
				QualityScore:     m.Score,
				ProcessorVersion: ProcessorVersion,
				Tags: insights.InsightTags{Cluster: insights.ClusterTag{
					ID:       fmt.Sprintf("%s-%s", subjectID, c.ID),
					Label:    c.Label,
					Position: m.Position,
					Score:    m.Score,
					IsHero:   m.ImageID == c.HeroImageID,
				}},
			})
		}
	}
	return updates
}

func (w *Worker) ack(ctx context.Context, entryID string) {
	if err := w.queue.Ack(ctx, entryID); err != nil {
		w.logger.Errorw("failed to ack entry", "entry_id", entryID, "error", err)
	}
}

func (w *Worker) refreshGauges(ctx context.Context) {
	info := w.queue.Pending(ctx)
	w.metrics.SetPending(info.Count)
	w.metrics.SetStreamLag(info.OldestAge)
}
