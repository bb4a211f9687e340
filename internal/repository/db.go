package repository

import (
	"fmt"
	"time"

	"towerloc/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ConnectWithRetry opens a Postgres connection with retry.
func ConnectWithRetry(dsn string, attempts int, delay time.Duration) (*gorm.DB, error) {
	var lastErr error
	for i := 1; i <= attempts; i++ {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		})
		if err == nil {
			if err := bootstrap(db); err != nil {
				closeDB(db)
				return nil, err
			}
			return db, nil
		}

		lastErr = err
		if i < attempts {
			time.Sleep(delay)
		}
	}

	return nil, fmt.Errorf("db connect failed after %d attempts: %w", attempts, lastErr)
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func bootstrap(db *gorm.DB) error {
	return db.AutoMigrate(&models.TriangulationSession{}, &models.CellTowerReading{})
}
