package gorm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"gorm.io/gorm"

	"github.com/thebtf/taxon/pkg/models"
)

// MaxRunsKept is the maximum number of runs retained in history.
const MaxRunsKept = 100

// RunStore provides run history operations using GORM.
type RunStore struct {
	db *gorm.DB
}

// NewRunStore creates a new run store.
func NewRunStore(store *Store) *RunStore {
	return &RunStore{db: store.DB}
}

// SaveResult persists one pipeline result and prunes history beyond
// MaxRunsKept. Returns the row id.
func (s *RunStore) SaveResult(ctx context.Context, result *models.AnalysisResult, documentCount int) (int64, error) {
	paramsJSON, err := json.Marshal(result.Params)
	if err != nil {
		return 0, fmt.Errorf("marshal params: %w", err)
	}
	profilesJSON, err := json.Marshal(result.Profiles)
	if err != nil {
		return 0, fmt.Errorf("marshal profiles: %w", err)
	}

	run := &Run{
		RunID:         result.RunID,
		Model:         result.Params.Model,
		DocumentCount: documentCount,
		ClusterCount:  result.Quality.ClusterCount,
		NoiseCount:    result.Quality.NoiseCount,
		NoisePercent:  result.Quality.NoisePercent,
		Silhouette:    nullFloat64(result.Quality.Silhouette),
		ParamsJSON:    string(paramsJSON),
		ProfilesJSON:  string(profilesJSON),
		CreatedAt:     result.GeneratedAt,
	}
	if run.CreatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, run.CreatedAt); err == nil {
			run.CreatedAtEpoch = ts.UnixMilli()
		}
	}

	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return 0, fmt.Errorf("save run: %w", err)
	}

	if err := s.prune(ctx); err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return run.ID, nil
}

// GetResult loads one persisted result by its run id.
func (s *RunStore) GetResult(ctx context.Context, runID string) (*models.AnalysisResult, error) {
	var run Run
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	return run.toResult()
}

// LatestResult loads the most recent persisted result, or nil when the
// history is empty.
func (s *RunStore) LatestResult(ctx context.Context) (*models.AnalysisResult, error) {
	var run Run
	err := s.db.WithContext(ctx).Order("created_at_epoch DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest run: %w", err)
	}
	return run.toResult()
}

// ListRuns returns up to limit run summaries, newest first. The JSON
// payloads are not loaded.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []Run
	err := s.db.WithContext(ctx).
		Select("id", "run_id", "model", "document_count", "cluster_count",
			"noise_count", "noise_percent", "silhouette", "created_at", "created_at_epoch").
		Order("created_at_epoch DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// prune deletes the oldest runs beyond MaxRunsKept.
func (s *RunStore) prune(ctx context.Context) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Run{}).Count(&count).Error; err != nil {
		return err
	}
	if count <= MaxRunsKept {
		return nil
	}

	var cutoff Run
	err := s.db.WithContext(ctx).
		Order("created_at_epoch DESC").
		Offset(MaxRunsKept - 1).
		First(&cutoff).Error
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Where("created_at_epoch < ?", cutoff.CreatedAtEpoch).
		Delete(&Run{}).Error
}

func (r *Run) toResult() (*models.AnalysisResult, error) {
	result := &models.AnalysisResult{
		RunID:       r.RunID,
		GeneratedAt: r.CreatedAt,
		Quality: models.QualityReport{
			ClusterCount: r.ClusterCount,
			NoiseCount:   r.NoiseCount,
			NoisePercent: r.NoisePercent,
		},
	}
	if r.Silhouette.Valid {
		v := r.Silhouette.Float64
		result.Quality.Silhouette = &v
	}
	if err := json.Unmarshal([]byte(r.ParamsJSON), &result.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	if err := json.Unmarshal([]byte(r.ProfilesJSON), &result.Profiles); err != nil {
		return nil, fmt.Errorf("unmarshal profiles: %w", err)
	}
	return result, nil
}

func nullFloat64(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
