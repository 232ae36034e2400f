// Package storage provides the relational database connection and the
// auto-migrations for WaFleet's metadata tables.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"

	"wafleet/internal/app/config"
	"wafleet/internal/domain/session"
)

// Database wraps the bun connection and provides migrations
type Database struct {
	*bun.DB
}

// New creates a new database connection for the configured driver
func New(cfg config.DatabaseConfig) (*Database, error) {
	var db *bun.DB

	switch cfg.Driver {
	case "sqlite":
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.SQLitePath+"?_pragma=busy_timeout(5000)")
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		db = bun.NewDB(sqldb, sqlitedialect.New())
	default:
		dsn := fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name, cfg.SSLMode,
		)
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
		sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		db = bun.NewDB(sqldb, pgdialect.New())
	}

	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrStorageUnavailable, err)
	}

	log.Info().
		Str("driver", cfg.Driver).
		Str("database", cfg.Name).
		Msg("Database connected successfully")

	return &Database{DB: db}, nil
}

// Migrate creates the metadata tables if they do not exist
func (d *Database) Migrate(ctx context.Context) error {
	models := []any{
		(*session.Session)(nil),
		(*session.UserSettings)(nil),
	}

	for _, model := range models {
		if _, err := d.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table for %T: %w", model, err)
		}
	}

	log.Info().Msg("Database migrations completed")
	return nil
}

// Health checks the database connectivity
func (d *Database) Health(ctx context.Context) error {
	return d.PingContext(ctx)
}

// Close closes the database connection
func (d *Database) Close() error {
	log.Info().Msg("Closing database connection")
	return d.DB.Close()
}
