// Package insights is the HTTP client for the external insights service,
// which owns the per-image embedding records. The worker reads embeddings
// from it before clustering and writes quality metadata back afterwards.
package insights

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sploot/media-clustering/config"
	"github.com/sploot/media-clustering/errors"
)

// InsightRecord is the slice of the insights payload the worker consumes.
// Other fields returned by the service are ignored.
type InsightRecord struct {
	HasEmbedding bool      `json:"has_embedding"`
	Embedding    []float64 `json:"embedding"`
}

// Usable reports whether the record carries an embedding the engine can
// cluster on.
func (r InsightRecord) Usable() bool {
	return r.HasEmbedding && len(r.Embedding) > 0
}

// ClusterTag is the cluster membership written back per image.
type ClusterTag struct {
	ID       string  `json:"id"`
	Label    string  `json:"label"`
	Position int     `json:"position"`
	Score    float64 `json:"score"`
	IsHero   bool    `json:"is_hero"`
}

// InsightTags wraps the tag namespaces on an insight update.
type InsightTags struct {
	Cluster ClusterTag `json:"cluster"`
}

// InsightUpdate is one write-back record posted after clustering.
type InsightUpdate struct {
	SourceImageID    string      `json:"source_image_id"`
	QualityScore     float64     `json:"quality_score"`
	ProcessorVersion string      `json:"processor_version"`
	Tags             InsightTags `json:"tags"`
}

// Client talks to the insights service. All requests carry the internal
// bearer token; the base URL is normalized so the /internal namespace
// appears exactly once before per-route paths.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// NewClient builds a client from configuration.
func NewClient(cfg config.InsightsConfig, logger *zap.SugaredLogger) *Client {
	return &Client{
		baseURL:    normalizeBase(cfg.BaseURL),
		token:      cfg.InternalToken,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout()},
		logger:     logger,
	}
}

// normalizeBase ensures the internal API namespace appears exactly once.
func normalizeBase(raw string) string {
	base := strings.TrimRight(raw, "/")
	if strings.HasSuffix(base, "/internal") {
		return base
	}
	return base + "/internal"
}

func (c *Client) url(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build insights request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.WrapUpstream(err, fmt.Sprintf("%s %s", method, path))
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, errors.Wrapf(errors.ErrUpstreamUnavailable, "%s %s returned %d", method, path, resp.StatusCode)
	}
	return resp, nil
}

// ListImagesWithEmbeddings returns the full set of subject image IDs known
// to have embeddings. The service may return numeric or string IDs; both
// are normalized to strings. On failure the list is empty and the error is
// logged, not returned: an unreachable insights service makes the job a
// no-op, not a crash.
func (c *Client) ListImagesWithEmbeddings(ctx context.Context, subjectID string) []string {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("pets/%s/images-with-embeddings", subjectID), nil)
	if err != nil {
		c.logger.Errorw("failed to list images with embeddings", "subject_id", subjectID, "error", err)
		return nil
	}
	defer resp.Body.Close()

	var payload struct {
		ImageIDs []json.RawMessage `json:"image_ids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.logger.Errorw("failed to decode images-with-embeddings response", "subject_id", subjectID, "error", err)
		return nil
	}

	ids := make([]string, 0, len(payload.ImageIDs))
	for _, raw := range payload.ImageIDs {
		ids = append(ids, strings.Trim(string(raw), `"`))
	}
	return ids
}

// FetchInsight fetches the insight record for a single image.
func (c *Client) FetchInsight(ctx context.Context, imageID string) (InsightRecord, error) {
	resp, err := c.do(ctx, http.MethodGet, "insights/"+imageID, nil)
	if err != nil {
		return InsightRecord{}, err
	}
	defer resp.Body.Close()

	var record InsightRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return InsightRecord{}, errors.Wrapf(err, "failed to decode insight for image %s", imageID)
	}
	return record, nil
}

// FetchInsightsBatch fetches insight records for many images concurrently.
// Missing or failed entries are omitted from the result; the server is
// expected to absorb the fan-out.
func (c *Client) FetchInsightsBatch(ctx context.Context, imageIDs []string) map[string]InsightRecord {
	var mu sync.Mutex
	records := make(map[string]InsightRecord, len(imageIDs))

	g, ctx := errgroup.WithContext(ctx)
	for _, imageID := range imageIDs {
		imageID := imageID
		g.Go(func() error {
			record, err := c.FetchInsight(ctx, imageID)
			if err != nil {
				c.logger.Warnw("failed to fetch insight", "image_id", imageID, "error", err)
				return nil // partial results are fine
			}
			mu.Lock()
			records[imageID] = record
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return records
}

// PostInsight posts a single insight update.
func (c *Client) PostInsight(ctx context.Context, update InsightUpdate) error {
	body, err := json.Marshal(update)
	if err != nil {
		return errors.Wrap(err, "failed to marshal insight update")
	}
	resp, err := c.do(ctx, http.MethodPost, "insights", bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// PostInsightsBatch posts many insight updates concurrently. Individual
// failures are logged and swallowed; the persisted cluster state is the
// primary output and partial write-back is acceptable.
func (c *Client) PostInsightsBatch(ctx context.Context, updates []InsightUpdate) {
	g, ctx := errgroup.WithContext(ctx)
	for _, update := range updates {
		update := update
		g.Go(func() error {
			if err := c.PostInsight(ctx, update); err != nil {
				c.logger.Errorw("failed to post insight update",
					"image_id", update.SourceImageID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
