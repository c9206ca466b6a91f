package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers the pgx5:// scheme
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/multierr"

	"github.com/user/postboard/apperror"
	"github.com/user/postboard/config"
)

// Migrations are embedded so the binary carries its own schema.
// Files follow golang-migrate naming: 000001_name.up.sql / 000001_name.down.sql.
//
//go:embed migrations
var migrationsFS embed.FS

// newMigrator builds a golang-migrate instance for the connected dialect. The returned
// close func must be called; it never closes the application's own connection.
func (d *DB) newMigrator() (*migrate.Migrate, func() error, error) {
	src, err := iofs.New(migrationsFS, "migrations/"+d.Driver)
	if err != nil {
		return nil, nil, apperror.NewMigrationError("failed to load embedded migrations", err)
	}

	switch d.Driver {
	case config.DriverPostgres:
		// Postgres migrations run on their own connection opened from the URL, so closing
		// the migrator is safe.
		m, err := migrate.NewWithSourceInstance("iofs", src, d.migrateURL)
		if err != nil {
			return nil, nil, apperror.NewMigrationError("failed to create migrator", multierr.Append(err, src.Close()))
		}
		return m, func() error {
			srcErr, dbErr := m.Close()
			return multierr.Append(srcErr, dbErr)
		}, nil
	case config.DriverSQLite:
		// The SQLite driver reuses our *sql.DB; m.Close would close it (and drop an in-memory
		// database), so only the source is released.
		drv, err := migratesqlite.WithInstance(d.DB.DB, &migratesqlite.Config{})
		if err != nil {
			return nil, nil, apperror.NewMigrationError("failed to create sqlite migration driver", multierr.Append(err, src.Close()))
		}
		m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
		if err != nil {
			return nil, nil, apperror.NewMigrationError("failed to create migrator", multierr.Append(err, src.Close()))
		}
		return m, src.Close, nil
	default:
		_ = src.Close()
		return nil, nil, apperror.NewMigrationError(fmt.Sprintf("no migrations for driver %q", d.Driver), nil)
	}
}

// RunMigrations applies all pending up migrations. No pending migrations is not an error.
func RunMigrations(d *DB) (err error) {
	m, closeFn, err := d.newMigrator()
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeFn()) }()

	if upErr := m.Up(); upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return apperror.NewMigrationError("failed to run migrations", upErr)
	}
	return nil
}

// RollbackMigrations reverts the given number of applied migrations.
func RollbackMigrations(d *DB, steps int) (err error) {
	if steps <= 0 {
		return apperror.NewBadRequestError("steps must be positive", nil)
	}
	m, closeFn, err := d.newMigrator()
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeFn()) }()

	if stepErr := m.Steps(-steps); stepErr != nil && !errors.Is(stepErr, migrate.ErrNoChange) {
		return apperror.NewMigrationError("failed to roll back migrations", stepErr)
	}
	return nil
}

// MigrationVersion returns the current schema version and whether it is dirty.
func MigrationVersion(d *DB) (version uint, dirty bool, err error) {
	m, closeFn, err := d.newMigrator()
	if err != nil {
		return 0, false, err
	}
	defer func() { err = multierr.Append(err, closeFn()) }()

	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}
