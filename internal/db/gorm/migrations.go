package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "001_runs",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&Run{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("runs")
			},
		},
	})
	return m.Migrate()
}
