package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firewatch/dashboard/internal/config"
	"github.com/firewatch/dashboard/internal/logger"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to PostgreSQL and configures the connection pool
func Open(cfg config.PostgresConfig) (*gorm.DB, error) {
	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("user", cfg.User).
		Str("database", cfg.Database).
		Str("sslmode", cfg.SSLMode).
		Msg("Connecting to PostgreSQL database...")

	db, err := gorm.Open(postgres.Open(cfg.GetDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		logger.Error().
			Err(err).
			Str("host", cfg.Host).
			Int("port", cfg.Port).
			Str("database", cfg.Database).
			Msg("Failed to connect to PostgreSQL")
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := ConfigurePool(db, cfg); err != nil {
		return nil, err
	}

	if err := HealthCheck(db); err != nil {
		logger.Error().
			Err(err).
			Str("host", cfg.Host).
			Int("port", cfg.Port).
			Msg("Failed to ping PostgreSQL")
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Int("max_connections", cfg.MaxConnections()).
		Int("max_idle_connections", cfg.MaxIdleConnections()).
		Dur("connection_lifetime", cfg.ConnectionLifetime()).
		Msg("Successfully connected to PostgreSQL")

	return db, nil
}

// ConfigurePool applies the pool limits of cfg to db
func ConfigurePool(db *gorm.DB, cfg config.PostgresConfig) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxConnections())
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConnections())
	sqlDB.SetConnMaxLifetime(cfg.ConnectionLifetime())
	return nil
}

// Migrate applies every pending migration from cfg.MigrationSourceURL()
func Migrate(cfg config.PostgresConfig) error {
	m, err := migrate.New(cfg.MigrationSourceURL(), cfg.MigrationDatabaseURL())
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info().Msg("No new migrations to apply")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info().Msg("Database migrations applied successfully")
	return nil
}

// HealthCheck checks if the database connection is healthy
func HealthCheck(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database instance is nil")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}

// Close closes the database connection
func Close(db *gorm.DB) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		return
	}

	sqlDB.Close()
}
