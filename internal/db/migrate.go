package db

import (
	"fmt"

	"github.com/zulandar/archivebot/internal/models"
	"gorm.io/gorm"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Submission{},
	}
}

// AutoMigrate creates or updates all tables. A failure here is fatal for
// the caller: the bot cannot run without its schema.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
