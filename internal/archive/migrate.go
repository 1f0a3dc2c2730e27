// Package archive persists finished outcomes to Postgres as a declared
// router listener. The engine itself keeps no durable state; the archive is
// the operational record downstream teams query.
package archive

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver

	dbmigrations "github.com/bidwire/postauction/db/migrations"
)

// Migrate applies the embedded outcome-archive migrations to the database
// reachable via dsn. A nil logger disables informational logging.
func Migrate(dsn string, logger *log.Logger) error {
	m, closeFn, err := newMigrator(dsn, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			if logger != nil {
				logger.Printf("archive migrations up-to-date")
			}
			return nil
		}
		return fmt.Errorf("apply archive migrations: %w", err)
	}
	if logger != nil {
		logger.Printf("archive migrations applied")
	}
	return nil
}

// MigrateDown rolls the archive schema back. Used by the migrate command.
func MigrateDown(dsn string, logger *log.Logger) error {
	m, closeFn, err := newMigrator(dsn, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("roll back archive migrations: %w", err)
	}
	if logger != nil {
		logger.Printf("archive migrations rolled back")
	}
	return nil
}

func newMigrator(dsn string, logger *log.Logger) (*migrate.Migrate, func(), error) {
	source, err := iofs.New(dbmigrations.Files, ".")
	if err != nil {
		return nil, nil, fmt.Errorf("open embedded migrations: %w", err)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open migrations connection: %w", err)
	}

	var driverConfig pgxv5.Config
	driver, err := pgxv5.WithInstance(db, &driverConfig)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("initialise pgx v5 driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("initialise migrate instance: %w", err)
	}

	closeFn := func() {
		sourceErr, dbErr := m.Close()
		if logger == nil {
			return
		}
		if sourceErr != nil {
			logger.Printf("archive migrations source close: %v", sourceErr)
		}
		if dbErr != nil {
			logger.Printf("archive migrations db close: %v", dbErr)
		}
	}
	return m, closeFn, nil
}
