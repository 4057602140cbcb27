package commands

import (
	"context"
	"database/sql"

	"assessapp/internal/config"
	"assessapp/internal/database"
	"assessapp/internal/observability"
	"assessapp/internal/services"
	"assessapp/internal/storage"

	"gorm.io/gorm"
)

// Runtime opens the database on first use so commands that do not need it
// run without a connection
type Runtime struct {
	cfg     *config.Config
	logger  *observability.Logger
	manager *database.Manager
	db      *sql.DB
	store   storage.Store

	sqliteDSN string
}

// NewRuntime creates a runtime for cfg
func NewRuntime(cfg *config.Config, logger *observability.Logger) *Runtime {
	return &Runtime{cfg: cfg, logger: logger, manager: database.NewManager(logger)}
}

// UseSQLite switches the runtime to a local SQLite file instead of the
// configured PostgreSQL database. An empty dsn keeps PostgreSQL.
func (r *Runtime) UseSQLite(dsn string) {
	r.sqliteDSN = dsn
}

// SQLite reports whether commands run against a local SQLite database
func (r *Runtime) SQLite() bool {
	return r.sqliteDSN != ""
}

// Store connects, applies pending migrations and returns the storage layer
func (r *Runtime) Store(ctx context.Context) (storage.Store, error) {
	if r.store != nil {
		return r.store, nil
	}

	var (
		db  *sql.DB
		gdb *gorm.DB
		err error
	)
	if r.SQLite() {
		if gdb, err = database.OpenSQLite(r.sqliteDSN); err != nil {
			return nil, err
		}
		db, err = gdb.DB()
	} else {
		db, gdb, err = r.manager.Open(ctx, r.cfg.Database)
	}
	if err != nil {
		return nil, err
	}
	r.db = db
	r.store = storage.NewGormStore(gdb, r.logger)
	return r.store, nil
}

// Users returns a user service over the store
func (r *Runtime) Users(ctx context.Context) (*services.UserService, error) {
	store, err := r.Store(ctx)
	if err != nil {
		return nil, err
	}
	return services.NewUserServiceWithLogger(store, nil, r.logger), nil
}

// Gamification returns a gamification service over the store. Badge and
// level mails are sent when email is enabled in the config.
func (r *Runtime) Gamification(ctx context.Context) (*services.GamificationService, error) {
	store, err := r.Store(ctx)
	if err != nil {
		return nil, err
	}
	notifier := services.NewEmailNotifier(r.cfg.Email, r.logger)
	return services.NewGamificationServiceWithLogger(store, notifier, nil, r.logger), nil
}

// Close releases the database connection, if one was opened
func (r *Runtime) Close() {
	if r.db != nil {
		_ = r.db.Close()
		r.db = nil
		r.store = nil
	}
}

// DB returns the raw connection, opening it if needed
func (r *Runtime) DB(ctx context.Context) (*sql.DB, error) {
	if _, err := r.Store(ctx); err != nil {
		return nil, err
	}
	return r.db, nil
}
