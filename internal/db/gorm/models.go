package gorm

import (
	"database/sql"
	"time"

	"gorm.io/gorm"
)

// Run is one persisted pipeline execution. Params and Profiles are
// stored as JSON text; the quality numbers are typed columns so run
// history can be queried and compared directly.
type Run struct {
	ID    int64  `gorm:"primaryKey;autoIncrement"`
	RunID string `gorm:"uniqueIndex;not null"`
	Model string `gorm:"index;not null"`

	DocumentCount int `gorm:"default:0"`
	ClusterCount  int `gorm:"default:0"`
	NoiseCount    int `gorm:"default:0"`

	NoisePercent float64         `gorm:"type:real;default:0"`
	Silhouette   sql.NullFloat64 `gorm:"type:real"`

	ParamsJSON   string `gorm:"type:text;not null"`
	ProfilesJSON string `gorm:"type:text;not null"`

	CreatedAt      string `gorm:"not null"`
	CreatedAtEpoch int64  `gorm:"index:idx_runs_created,sort:desc;not null"`
}

func (Run) TableName() string { return "runs" }

// BeforeCreate hook to ensure timestamps are set.
func (r *Run) BeforeCreate(tx *gorm.DB) error {
	if r.CreatedAtEpoch == 0 {
		r.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if r.CreatedAt == "" {
		r.CreatedAt = time.Now().Format(time.RFC3339)
	}
	return nil
}
