// Package engine clusters unit-norm image embeddings into visually
// coherent groups using density-based clustering over cosine distance.
// The package is pure: no I/O, deterministic for fixed inputs.
package engine

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/sploot/media-clustering/config"
	"github.com/sploot/media-clustering/errors"
)

// Mode selects the clustering radius and label table.
type Mode string

const (
	// ModeIdentity uses the tighter radius intended to split different
	// individuals of the same species.
	ModeIdentity Mode = "identity"
	// ModePose uses the general radius to group poses of one individual.
	ModePose Mode = "pose"
)

// noiseLabel marks points that belong to no cluster.
const noiseLabel = -1

var identityLabels = []string{"Pet A", "Pet B", "Pet C", "Pet D", "Pet E"}
var poseLabels = []string{"Portraits", "Action Shots", "Close-ups", "Outdoor Scenes", "Group Photos"}

// Member is one image within a cluster, scored against the cluster's
// renormalized centroid.
type Member struct {
	ImageID  string
	Score    float64
	Position int
}

// Cluster is one group of similar images. Members are ordered by
// descending score; the hero is the member at position 0. ID carries no
// subject prefix; the caller adds it.
type Cluster struct {
	ID           string
	Label        string
	HeroImageID  string
	Members      []Member
	QualityScore float64
}

// Engine holds the clustering parameters.
type Engine struct {
	eps            float64
	identityEps    float64
	minSamples     int
	maxClusterSize int
}

// New builds an engine from the cluster configuration.
func New(cfg config.ClusterConfig) *Engine {
	return &Engine{
		eps:            cfg.Eps,
		identityEps:    cfg.EffectiveIdentityEps(),
		minSamples:     cfg.MinSamples,
		maxClusterSize: cfg.MaxClusterSize,
	}
}

// Cluster groups the images by embedding similarity. imageIDs and
// embeddings are paired positionally; a length mismatch is a programmer
// error. Fewer inputs than min_samples yields no clusters and no error.
// The order of returned clusters is unspecified.
func (e *Engine) Cluster(imageIDs []string, embeddings [][]float64, mode Mode) ([]Cluster, error) {
	if len(imageIDs) != len(embeddings) {
		return nil, errors.Wrapf(errors.ErrInvalidInput,
			"image_ids and embeddings must have the same length (%d != %d)",
			len(imageIDs), len(embeddings))
	}
	if len(imageIDs) < e.minSamples {
		return nil, nil
	}
	dim := len(embeddings[0])
	for i, v := range embeddings {
		if len(v) != dim {
			return nil, errors.Wrapf(errors.ErrInvalidInput,
				"embedding %d has dimension %d, expected %d", i, len(v), dim)
		}
	}

	eps := e.eps
	if mode == ModeIdentity {
		eps = e.identityEps
	}

	distances := cosineDistances(embeddings)
	labels := dbscan(distances, eps, e.minSamples)

	maxLabel := noiseLabel
	for _, l := range labels {
		if l > maxLabel {
			maxLabel = l
		}
	}

	var clusters []Cluster
	for label := 0; label <= maxLabel; label++ {
		var indices []int
		for i, l := range labels {
			if l == label {
				indices = append(indices, i)
			}
		}

		centroid := renormalizedCentroid(embeddings, indices)

		members := make([]Member, 0, len(indices))
		for _, i := range indices {
			members = append(members, Member{
				ImageID: imageIDs[i],
				Score:   floats.Dot(embeddings[i], centroid),
			})
		}
		// Descending score; stable sort keeps input order on ties.
		sort.SliceStable(members, func(a, b int) bool {
			return members[a].Score > members[b].Score
		})
		if len(members) > e.maxClusterSize {
			members = members[:e.maxClusterSize]
		}

		quality := 0.0
		for i := range members {
			members[i].Position = i
			quality += members[i].Score
		}
		quality /= float64(len(members))

		clusters = append(clusters, Cluster{
			ID:           fmt.Sprintf("cluster-%d", label),
			Label:        labelFor(mode, label),
			HeroImageID:  members[0].ImageID,
			Members:      members,
			QualityScore: quality,
		})
	}
	return clusters, nil
}

// cosineDistances builds the full pairwise matrix of 1 - u·v. Vectors are
// assumed unit-norm so the dot product is the cosine similarity.
func cosineDistances(embeddings [][]float64) [][]float64 {
	n := len(embeddings)
	distances := make([][]float64, n)
	for i := range distances {
		distances[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := 1 - floats.Dot(embeddings[i], embeddings[j])
			distances[i][j] = d
			distances[j][i] = d
		}
	}
	return distances
}

// dbscan labels points on a precomputed distance matrix. Neighborhoods
// include the point itself, matching the usual min_samples convention.
// Labels are assigned in order of seed discovery, so the output is
// deterministic for a fixed input order.
func dbscan(distances [][]float64, eps float64, minSamples int) []int {
	n := len(distances)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = noiseLabel
	}
	visited := make([]bool, n)

	neighborhoods := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if distances[i][j] <= eps {
				neighborhoods[i] = append(neighborhoods[i], j)
			}
		}
	}

	next := 0
	for i := 0; i < n; i++ {
		if visited[i] || len(neighborhoods[i]) < minSamples {
			continue
		}

		label := next
		next++

		// Breadth-first expansion from the core point. Border points
		// join the cluster but do not extend the frontier.
		queue := []int{i}
		visited[i] = true
		labels[i] = label
		for len(queue) > 0 {
			p := queue[0]
			queue = queue[1:]
			if len(neighborhoods[p]) < minSamples {
				continue
			}
			for _, q := range neighborhoods[p] {
				if labels[q] == noiseLabel {
					labels[q] = label
				}
				if !visited[q] {
					visited[q] = true
					queue = append(queue, q)
				}
			}
		}
	}
	return labels
}

// renormalizedCentroid computes the arithmetic mean of the member vectors
// and scales it back to unit length. The mean of unit vectors is shorter
// than unit, so renormalization is always applied before scoring.
func renormalizedCentroid(embeddings [][]float64, indices []int) []float64 {
	dim := len(embeddings[indices[0]])
	centroid := make([]float64, dim)
	for _, i := range indices {
		floats.Add(centroid, embeddings[i])
	}
	floats.Scale(1/float64(len(indices)), centroid)

	norm := math.Sqrt(floats.Dot(centroid, centroid))
	if norm > 0 {
		floats.Scale(1/norm, centroid)
	}
	return centroid
}

// labelFor picks the human-readable name for a raw cluster label.
// Identity labels run through the alphabet past the fixed table; pose
// labels wrap around it.
func labelFor(mode Mode, label int) string {
	if mode == ModeIdentity {
		if label < len(identityLabels) {
			return identityLabels[label]
		}
		return fmt.Sprintf("Pet %c", 'A'+label)
	}
	return poseLabels[label%len(poseLabels)]
}
