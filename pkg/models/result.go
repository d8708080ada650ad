package models

import (
	"time"

	json "github.com/goccy/go-json"
)

// ValueCount is a metadata value with its frequency inside a cluster.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// ClusterProfile is the human-interpretable characterization of one
// discovered cluster. Read-only output artifact.
type ClusterProfile struct {
	ClusterID   int                     `json:"cluster_id"`
	Size        int                     `json:"size"`
	TopMetadata map[string][]ValueCount `json:"top_metadata,omitempty"`
	Keywords    []string                `json:"keywords,omitempty"`
	Exemplars   []Document              `json:"exemplars,omitempty"`
}

// QualityReport summarizes how well-separated the discovered clusters
// are. Silhouette is nil when fewer than two clusters exist (the metric
// is undefined there).
type QualityReport struct {
	ClusterCount int      `json:"cluster_count"`
	NoiseCount   int      `json:"noise_count"`
	NoisePercent float64  `json:"noise_percent"`
	Silhouette   *float64 `json:"silhouette_score"`
}

// RunParams echoes the configuration a run was executed with, so a
// result can be reproduced (or at least re-approximated) later.
type RunParams struct {
	Model          string `json:"model"`
	BatchSize      int    `json:"batch_size"`
	NNeighbors     int    `json:"n_neighbors"`
	NComponents    int    `json:"n_components"`
	Metric         string `json:"metric"`
	Seed           int64  `json:"seed"`
	MinClusterSize int    `json:"min_cluster_size"`
	MinSamples     int    `json:"min_samples"`
}

// AnalysisResult is the structured output of a full pipeline run,
// serializable for downstream reporting tooling.
type AnalysisResult struct {
	RunID       string           `json:"run_id"`
	GeneratedAt string           `json:"generated_at"`
	Params      RunParams        `json:"params"`
	Quality     QualityReport    `json:"quality"`
	Profiles    []ClusterProfile `json:"profiles"`
}

// NewAnalysisResult stamps a result with its generation time.
func NewAnalysisResult(runID string, params RunParams) *AnalysisResult {
	return &AnalysisResult{
		RunID:       runID,
		GeneratedAt: time.Now().Format(time.RFC3339),
		Params:      params,
	}
}

// JSON renders the result for downstream consumption.
func (r *AnalysisResult) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
