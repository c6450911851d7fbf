package database

import (
	"fmt"

	"github.com/mimi6060/hookrelay/internal/domain/webhook"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the PostgreSQL connection pool
func Connect(databaseURL string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)

	log.Info().Msg("Connected to PostgreSQL")

	return db, nil
}

// Migrate applies the schema for the delivery engine's entities
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&webhook.WebhookConfig{},
		&webhook.Message{},
		&webhook.DeliveryAttempt{},
		&webhook.WebhookHealthStats{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info().Msg("Database migrations applied")
	return nil
}
