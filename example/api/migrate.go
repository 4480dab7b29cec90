package main

import (
	"database/sql"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq" // postgres driver for the migration connection
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// runMigrations brings the loan schema up to date. It uses a short-lived
// database/sql connection separate from the engine's pool.
func runMigrations(databaseURL string) error {
	db, openErr := sql.Open("postgres", databaseURL)
	if openErr != nil {
		return openErr
	}
	defer func() { _ = db.Close() }()

	driver, driverErr := migratepostgres.WithInstance(db, &migratepostgres.Config{})
	if driverErr != nil {
		return driverErr
	}

	source, sourceErr := iofs.New(migrationsFS, "migrations")
	if sourceErr != nil {
		return sourceErr
	}

	migrator, newErr := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if newErr != nil {
		return newErr
	}

	if upErr := migrator.Up(); upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return upErr
	}

	return nil
}
