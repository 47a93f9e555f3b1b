// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"codeberg.org/capsera/capsera/internal/config"
	"codeberg.org/capsera/capsera/internal/database"
	"codeberg.org/capsera/capsera/internal/server"
	"codeberg.org/capsera/capsera/internal/services/session"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("failed to load .env: %v", err)
	}

	cmd := &cli.Command{
		Name:    "capsera",
		Usage:   "Start the Capsera access gateway",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
		Flags:   config.Flags(),
		Action:  server.Run,
		Commands: []*cli.Command{
			{
				Name:   "gen-key",
				Usage:  "Print a random hex key for session-hash-key or session-block-key",
				Action: genKey,
			},
			{
				Name:  "migrate",
				Usage: "Manage SQLite schema migrations",
				Commands: []*cli.Command{
					{Name: "up", Usage: "Apply pending migrations", Action: migrate(nil)},
					{Name: "status", Usage: "Print the schema version", Action: migrate(printVersion)},
					{Name: "down", Usage: "Roll back the last migration", Action: migrate(database.MigrateDown)},
					{Name: "reset", Usage: "Roll back all migrations", Action: migrate(database.MigrateReset)},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func genKey(_ context.Context, _ *cli.Command) error {
	key, err := session.GenerateKey()
	if err != nil {
		return err
	}
	fmt.Println(key)
	return nil
}

func printVersion(db *sql.DB) error {
	version, err := database.SchemaVersion(db)
	if err != nil {
		return err
	}
	fmt.Printf("schema version %d\n", version)
	return nil
}

// migrate opens the database, which applies pending migrations, and then runs
// step on it.
func migrate(step func(db *sql.DB) error) cli.ActionFunc {
	return func(_ context.Context, cmd *cli.Command) error {
		cfg := config.NewFromCLI(cmd)
		if cfg.Database.Driver != "" && cfg.Database.Driver != config.DriverSQLite {
			return fmt.Errorf("migrations only apply to the %s driver", config.DriverSQLite)
		}

		db, err := database.Open(cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer func() { _ = db.Close() }()

		if step != nil {
			if err := step(db.DB); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
		}
		slog.Info("migrations done", "dsn", cfg.Database.DSN, "command", cmd.Name)
		return nil
	}
}
