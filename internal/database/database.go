// Package database opens the PostgreSQL connection, applies migrations and
// exposes the same pool through gorm.
package database

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"assessapp/internal/config"
	"assessapp/internal/models"
	"assessapp/internal/observability"
	contextutils "assessapp/internal/utils"

	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file" // required for golang-migrate file source
	_ "github.com/lib/pq"                                // PostgreSQL driver for database/sql
	"go.nhat.io/otelsql"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Manager handles database operations with proper logging
type Manager struct {
	logger *observability.Logger
}

var (
	otelDriverName string
	otelDriverOnce sync.Once
	otelDriverErr  error
)

// NewManager creates a new database manager with the provided logger
func NewManager(logger *observability.Logger) *Manager {
	return &Manager{logger: logger}
}

// Open connects to PostgreSQL through the otelsql-instrumented driver, applies
// pending migrations and wraps the pool in gorm. Both handles share one pool.
func (dm *Manager) Open(ctx context.Context, cfg config.DatabaseConfig) (result0 *sql.DB, result1 *gorm.DB, err error) {
	ctx, span := observability.TraceStorageFunction(ctx, "Open",
		attribute.String("db.name", extractDatabaseName(cfg.URL)),
		attribute.String("db.system", "postgresql"),
		attribute.Int("db.max_open_conns", cfg.MaxOpenConns),
	)
	defer observability.FinishSpan(span, &err)

	db, err := dm.OpenSQL(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	if err := dm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	gdb, err := WrapGorm(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, gdb, nil
}

// OpenSQL opens and pings the instrumented *sql.DB without running migrations
func (dm *Manager) OpenSQL(ctx context.Context, cfg config.DatabaseConfig) (result0 *sql.DB, err error) {
	if cfg.URL == "" {
		return nil, contextutils.WrapError(contextutils.ErrMissingRequired, "database.url is required")
	}

	otelDriverOnce.Do(func() {
		otelDriverName, otelDriverErr = otelsql.Register("postgres",
			otelsql.WithDatabaseName(extractDatabaseName(cfg.URL)),
			otelsql.WithSystem(semconv.DBSystemPostgreSQL),
			otelsql.TraceRowsAffected(),
		)
	})
	if otelDriverErr != nil {
		return nil, contextutils.WrapError(otelDriverErr, "failed to register otelsql driver")
	}

	db, err := sql.Open(otelDriverName, cfg.URL)
	if err != nil {
		return nil, contextutils.WrapError(contextutils.ErrDatabaseConnection, "failed to open database connection: "+err.Error())
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			dm.logger.Error(ctx, "Failed to close database connection after ping failure", closeErr)
		}
		return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseConnection, "failed to ping database: %v", err)
	}

	dm.logger.Info(ctx, "Database connection established", map[string]interface{}{
		"url":               contextutils.RedactURL(cfg.URL),
		"max_open_conns":    cfg.MaxOpenConns,
		"max_idle_conns":    cfg.MaxIdleConns,
		"conn_max_lifetime": cfg.ConnMaxLifetime.String(),
	})
	return db, nil
}

// RunMigrations applies every pending migration from the migrations directory
func (dm *Manager) RunMigrations(ctx context.Context, db *sql.DB) (err error) {
	migrationsPath, err := GetMigrationsPath()
	if err != nil {
		return err
	}

	ctx, span := observability.TraceStorageFunction(ctx, "RunMigrations",
		attribute.String("migration.path", migrationsPath),
	)
	defer observability.FinishSpan(span, &err)

	m, err := newMigrator(db, migrationsPath)
	if err != nil {
		return err
	}

	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		dm.logger.Info(ctx, "No new migrations to apply")
		return nil
	case err != nil:
		return contextutils.WrapError(err, "golang-migrate up failed")
	}

	version, dirty, _ := m.Version()
	dm.logger.Info(ctx, "Migrations applied", map[string]interface{}{"version": version, "dirty": dirty})
	return nil
}

// ResetSchema rolls every migration back and applies them again, leaving an
// empty schema with the seeded badge catalogue. All data is lost.
func (dm *Manager) ResetSchema(ctx context.Context, db *sql.DB) (err error) {
	migrationsPath, err := GetMigrationsPath()
	if err != nil {
		return err
	}

	ctx, span := observability.TraceStorageFunction(ctx, "ResetSchema")
	defer observability.FinishSpan(span, &err)

	m, err := newMigrator(db, migrationsPath)
	if err != nil {
		return err
	}
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return contextutils.WrapError(err, "golang-migrate down failed")
	}
	dm.logger.Warn(ctx, "Schema dropped", map[string]interface{}{"path": migrationsPath})

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return contextutils.WrapError(err, "golang-migrate up failed")
	}
	return nil
}

// newMigrator builds a golang-migrate instance over db. m.Close would close the
// shared *sql.DB through the driver, so callers do not call it.
func newMigrator(db *sql.DB, migrationsPath string) (*migrate.Migrate, error) {
	driver, err := migratepostgres.WithInstance(db, &migratepostgres.Config{})
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to create migration driver")
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+filepath.ToSlash(migrationsPath), "postgres", driver)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to initialize golang-migrate")
	}
	return m, nil
}

// WrapGorm exposes an existing *sql.DB through gorm's postgres dialector
func WrapGorm(db *sql.DB) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
		TranslateError:         true,
		NowFunc:                utcNow,
	})
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to initialize gorm")
	}
	return gdb, nil
}

// OpenSQLite opens a gorm handle on SQLite and creates the schema with
// AutoMigrate. Used by tests and the CLI's local development mode.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
		NowFunc:        utcNow,
	})
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to open sqlite database")
	}
	if sqlDB, err := gdb.DB(); err == nil && strings.Contains(dsn, "memory") {
		// In-memory databases live per connection (or per shared cache); one
		// connection keeps every query on the same schema.
		sqlDB.SetMaxOpenConns(1)
	}
	if err := gdb.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, contextutils.WrapError(err, "failed to enable sqlite foreign keys")
	}
	if err := gdb.AutoMigrate(models.All()...); err != nil {
		return nil, contextutils.WrapError(err, "failed to migrate sqlite schema")
	}
	return gdb, nil
}

// GetMigrationsPath walks up from the working directory to find "migrations".
// ASSESS_MIGRATIONS_DIR overrides the search.
func GetMigrationsPath() (string, error) {
	if dir := os.Getenv("ASSESS_MIGRATIONS_DIR"); dir != "" {
		return filepath.Abs(dir)
	}

	currentDir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		migrationsPath := filepath.Join(currentDir, "migrations")
		if info, statErr := os.Stat(migrationsPath); statErr == nil && info.IsDir() {
			return migrationsPath, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return "", contextutils.ErrorWithContextf("migrations directory not found in any parent directory")
		}
		currentDir = parentDir
	}
}

// utcNow keeps gorm's autoCreateTime/autoUpdateTime columns in UTC
func utcNow() time.Time { return time.Now().UTC() }

// extractDatabaseName extracts the database name from a PostgreSQL connection URL
func extractDatabaseName(databaseURL string) string {
	if u, err := url.Parse(databaseURL); err == nil {
		if name := strings.TrimPrefix(u.Path, "/"); name != "" {
			return name
		}
	}
	return "assess"
}
