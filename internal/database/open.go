package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/jotter/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/jotter/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var errUnsupportedDriver = errors.New("database: unsupported driver")

// Config selects the storage backend.
type Config struct {
	Driver string
	Path   string
	DSN    string
	Logger *zap.Logger
}

// Open establishes a connection for the configured driver and performs schema migrations.
func Open(cfg Config) (*gorm.DB, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dialector, target, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", cfg.Driver, err)
	}

	if normalizeDriver(cfg.Driver) == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized", zap.String("driver", normalizeDriver(cfg.Driver)), zap.String("target", target))
	return db, nil
}

// OpenSQLite opens a SQLite database at path with migrations applied.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	return Open(Config{Driver: DriverSQLite, Path: path, Logger: logger})
}

// Migrate creates the schema and applies pending data migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&users.User{}, &notes.Note{}, &migrationRecord{}); err != nil {
		return fmt.Errorf("database: auto migrate: %w", err)
	}
	return applyMigrations(db, logger)
}

// Ping reports whether the underlying connection is usable.
func Ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func dialectorFor(cfg Config) (gorm.Dialector, string, error) {
	switch normalizeDriver(cfg.Driver) {
	case DriverSQLite:
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, "", fmt.Errorf("database path is required")
		}
		return sqlite.Open(cfg.Path), cfg.Path, nil
	case DriverPostgres:
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, "", fmt.Errorf("database dsn is required")
		}
		return postgres.Open(cfg.DSN), "postgres", nil
	default:
		return nil, "", fmt.Errorf("%w: %q", errUnsupportedDriver, cfg.Driver)
	}
}

func normalizeDriver(driver string) string {
	trimmed := strings.ToLower(strings.TrimSpace(driver))
	if trimmed == "" {
		return DriverSQLite
	}
	return trimmed
}
