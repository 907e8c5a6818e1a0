package db

import (
	"github.com/jamesmarlowww/tradingbot/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Combination{},
		&models.DailyResult{},
		&models.StreakState{},
		&models.AutomationDecision{},
		&models.WorkerRestart{},
		&models.WorkerEvent{},
		&models.SystemSetting{},
	)
}
