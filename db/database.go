package db

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DBConfig holds the database initialization parameters.
type DBConfig struct {
	Path     string
	LogLevel logger.LogLevel
}

// InitDB initializes the Skiff database at the given path.
func InitDB(databasePath string) (*gorm.DB, error) {
	slog.Debug("Initializing database", "path", databasePath)

	db, err := InitDatabase(DBConfig{
		Path:     databasePath,
		LogLevel: getGormLogLevel(),
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("Database initialized successfully", "path", databasePath)
	return db, nil
}

// InitDatabase opens a SQLite database with Skiff's pragma configuration.
func InitDatabase(config DBConfig) (*gorm.DB, error) {
	var dsn string

	if config.Path == ":memory:" {
		dsn = ":memory:"
		slog.Debug("Initializing in-memory database")
	} else {
		dir := filepath.Dir(config.Path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("Failed to create data directory", "dir", dir, "error", err)
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dsn = config.Path
		slog.Debug("Initializing file-based database", "path", config.Path)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(config.LogLevel),
	})
	if err != nil {
		slog.Error("Failed to connect to database", "dsn", dsn, "error", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	pragmas := "PRAGMA foreign_keys = ON;"
	if config.Path != ":memory:" {
		pragmas += `
		PRAGMA journal_mode       = WAL;
		PRAGMA synchronous        = NORMAL;
		PRAGMA mmap_size          = 134217728;
		PRAGMA journal_size_limit = 27103364;
		PRAGMA cache_size         = 2000;`
	}

	if err := db.Exec(pragmas).Error; err != nil {
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	return db, nil
}

// AutoMigrateAll runs auto-migration for all application models.
func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&ProjectModel{},
		&DeploymentModel{},
	)
}

// getGormLogLevel maps the application log level to the GORM log level.
func getGormLogLevel() logger.LogLevel {
	ctx := slog.Default()

	switch {
	case ctx.Enabled(context.TODO(), slog.LevelDebug):
		return logger.Info // show SQL queries only when debug logging is enabled
	case ctx.Enabled(context.TODO(), slog.LevelInfo), ctx.Enabled(context.TODO(), slog.LevelWarn):
		return logger.Warn
	case ctx.Enabled(context.TODO(), slog.LevelError):
		return logger.Error
	default:
		return logger.Silent
	}
}
