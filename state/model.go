package state

import "time"

// ClusterMember is a single image within a cluster, ranked by similarity
// to the cluster's renormalized centroid.
type ClusterMember struct {
	ImageID      string  `json:"image_id"`
	Score        float64 `json:"score"`
	Position     int     `json:"position"`
	QualityScore float64 `json:"quality_score"`
}

// Cluster is one visually-coherent group of a subject's images. Members
// are ordered by descending score; the hero is the member at position 0.
type Cluster struct {
	ID           string          `json:"id"`
	Label        string          `json:"label"`
	HeroImageID  string          `json:"hero_image_id"`
	Members      []ClusterMember `json:"members"`
	QualityScore float64         `json:"quality_score"`
}

// ClusterMetrics summarizes one clustering run. NumImages counts the
// input IDs that carried embeddings, including noise points that ended up
// in no cluster.
type ClusterMetrics struct {
	NumClusters int       `json:"num_clusters"`
	NumImages   int       `json:"num_images"`
	AvgQuality  float64   `json:"avg_quality"`
	ProcessedAt time.Time `json:"processed_at"`
}

// ClusterState is the persisted per-subject clustering result. Overwritten
// wholesale on each successful job; expires after the configured TTL.
type ClusterState struct {
	SubjectID string         `json:"subject_id"`
	Clusters  []Cluster      `json:"clusters"`
	Metrics   ClusterMetrics `json:"metrics"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// HeroImages returns a mapping of cluster ID to hero image ID, skipping
// clusters without one.
func (s *ClusterState) HeroImages() map[string]string {
	heroes := make(map[string]string, len(s.Clusters))
	for _, c := range s.Clusters {
		if c.HeroImageID != "" {
			heroes[c.ID] = c.HeroImageID
		}
	}
	return heroes
}
