// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package database

import (
	"database/sql"
	"embed"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationsDir = "migrations"

var (
	gooseOnce sync.Once
	gooseErr  error
)

// withGoose configures goose for the embedded SQLite migrations and runs fn.
func withGoose(fn func() error) error {
	gooseOnce.Do(func() {
		goose.SetBaseFS(migrations)
		goose.SetLogger(goose.NopLogger())
		gooseErr = goose.SetDialect("sqlite3")
	})
	if gooseErr != nil {
		return gooseErr
	}
	return fn()
}

// RunMigrations applies all pending migrations.
func RunMigrations(db *sql.DB) error {
	return withGoose(func() error { return goose.Up(db, migrationsDir) })
}

// MigrateDown rolls back the last migration.
func MigrateDown(db *sql.DB) error {
	return withGoose(func() error { return goose.Down(db, migrationsDir) })
}

// MigrateReset rolls back all migrations.
func MigrateReset(db *sql.DB) error {
	return withGoose(func() error { return goose.Reset(db, migrationsDir) })
}

// SchemaVersion returns the version of the last applied migration.
func SchemaVersion(db *sql.DB) (int64, error) {
	var version int64
	err := withGoose(func() (err error) {
		version, err = goose.GetDBVersion(db)
		return err
	})
	return version, err
}
