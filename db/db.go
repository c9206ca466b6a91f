// Package db provides database connectivity and migration functionality for postboard.
// It opens either a PostgreSQL pool (pgx) or an embedded SQLite database and exposes both
// through sqlx, so services write each query once with `?` placeholders and call Rebind.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/user/postboard/apperror"
	"github.com/user/postboard/config"
)

// DB wraps the sqlx handle together with what is needed to close and migrate it.
type DB struct {
	*sqlx.DB
	Driver string

	pool       *pgxpool.Pool // nil for SQLite
	migrateURL string        // golang-migrate URL for Postgres, empty for SQLite
}

// Open connects to the database selected by cfg.Driver.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*DB, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return openPostgres(ctx, cfg)
	case config.DriverSQLite:
		return OpenSQLite(cfg.SQLitePath)
	default:
		return nil, apperror.NewConfigError(fmt.Sprintf("unsupported database driver %q", cfg.Driver), nil)
	}
}

// openPostgres establishes a pgxpool connection pool and hands it to database/sql through
// pgx's stdlib adapter.
func openPostgres(ctx context.Context, cfg *config.DatabaseConfig) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(postgresURL(cfg, "postgres"))
	if err != nil {
		return nil, apperror.NewDatabaseError(fmt.Sprintf("error parsing DSN for database %s", cfg.DBName), err)
	}
	poolConfig.MaxConns = int32(cfg.MaxSize)
	poolConfig.MaxConnIdleTime = 10 * time.Minute
	poolConfig.MaxConnLifetime = 30 * time.Minute

	createCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(createCtx, poolConfig)
	if err != nil {
		return nil, apperror.NewDatabaseError(fmt.Sprintf("error creating pgxpool for database %s", cfg.DBName), err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, apperror.NewDatabaseError(fmt.Sprintf("error connecting to the database %s", cfg.DBName), err)
	}

	return &DB{
		DB:         sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx"),
		Driver:     config.DriverPostgres,
		pool:       pool,
		migrateURL: postgresURL(cfg, "pgx5"),
	}, nil
}

// postgresURL builds a connection URL; scheme is "postgres" for pgx and "pgx5" for golang-migrate.
func postgresURL(cfg *config.DatabaseConfig, scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Path:     "/" + cfg.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// OpenSQLite opens (or creates) a SQLite database at path. ":memory:" gives a private
// in-memory database, which the test suite relies on.
func OpenSQLite(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperror.NewDatabaseError("error opening sqlite database", err)
	}
	// One connection: SQLite serializes writers anyway, and an in-memory database only
	// exists for the connection that created it.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	for _, pragma := range []string{`PRAGMA foreign_keys = ON`, `PRAGMA busy_timeout = 5000`} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			_ = sqlDB.Close()
			return nil, apperror.NewDatabaseError("error configuring sqlite database", err)
		}
	}

	return &DB{
		DB:     sqlx.NewDb(sqlDB, "sqlite"),
		Driver: config.DriverSQLite,
	}, nil
}

// Ping checks that the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

// Close releases the sqlx handle and, for Postgres, the underlying pool.
func (d *DB) Close() error {
	err := d.DB.Close()
	if d.pool != nil {
		d.pool.Close()
	}
	return err
}
