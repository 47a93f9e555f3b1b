// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"codeberg.org/capsera/capsera/internal/config"
	"codeberg.org/capsera/capsera/internal/database"
	"codeberg.org/capsera/capsera/internal/handlers"
	"codeberg.org/capsera/capsera/internal/repository"
	"codeberg.org/capsera/capsera/internal/repository/mongorepo"
	"codeberg.org/capsera/capsera/internal/services/archive"
	"codeberg.org/capsera/capsera/internal/services/auth"
	"codeberg.org/capsera/capsera/internal/services/email"
	"codeberg.org/capsera/capsera/internal/services/jobs"
	"codeberg.org/capsera/capsera/internal/services/maintenance"
	"codeberg.org/capsera/capsera/internal/services/otp"
	"codeberg.org/capsera/capsera/internal/services/roles"
	"codeberg.org/capsera/capsera/internal/services/safety"
	"codeberg.org/capsera/capsera/internal/services/session"
	"codeberg.org/capsera/capsera/internal/services/setup"
)

// app holds the wired services of one server instance.
type app struct {
	cfg         *config.Config
	store       repository.Store
	queue       *jobs.Queue
	roles       *roles.Catalog
	otp         *otp.Service
	maintenance *maintenance.Service
	auth        *auth.Service
	handlers    *handlers.Handlers
}

// openStore connects the configured database backend.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (repository.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", config.DriverSQLite:
		db, err := database.Open(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		slog.Info("database ready", "driver", config.DriverSQLite, "dsn", cfg.DSN)
		return repository.New(db), nil
	case config.DriverMongo:
		db, err := database.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		repo := mongorepo.New(db)
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("failed to create indexes: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown database driver: %s", cfg.Driver)
	}
}

// newApp builds the services on top of store. Optional integrations stay nil
// when they are not configured.
func newApp(ctx context.Context, cfg *config.Config, store repository.Store) (*app, error) {
	catalog, err := roles.Builtin()
	if err != nil {
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}

	queue := jobs.NewQueue(cfg.Jobs.Workers, cfg.Jobs.QueueSize)

	mailer, err := email.New(&cfg.SMTP, cfg.Server.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to configure mail: %w", err)
	}

	otps := otp.NewService(store, cfg.OTP)
	gate := maintenance.NewService(store, cfg.Maintenance, cfg.Emergency)

	tokens, err := auth.NewTokenIssuer(cfg.Admin.JWTSecret, cfg.Admin.TokenTTL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to configure admin tokens: %w", err)
	}
	authn := auth.NewService(store, tokens)

	bootstrap := setup.NewService(setup.Deps{
		Store:     store,
		OTP:       otps,
		Roles:     catalog,
		Mailer:    mailer,
		Jobs:      queue,
		Passwords: auth.NewPasswordValidator(cfg.Admin.MinPassword),
	}, cfg.Admin)
	if cfg.Admin.SetupPIN != "" {
		if err := bootstrap.SeedPIN(ctx, cfg.Admin.SetupPIN); err != nil {
			return nil, fmt.Errorf("failed to seed setup PIN: %w", err)
		}
	}

	secure := strings.HasPrefix(cfg.Server.BaseURL, "https://")
	sessions, err := session.NewManager(&cfg.Session, secure)
	if err != nil {
		return nil, fmt.Errorf("failed to configure sessions: %w", err)
	}

	var archives *archive.Service
	if cfg.Archive.Enabled() {
		client, err := archive.NewClient(ctx, cfg.Archive)
		if err != nil {
			return nil, err
		}
		archives = archive.NewService(client, cfg.Archive, queue)
		slog.Info("archive enabled", "bucket", cfg.Archive.Bucket)
	}

	var scanner *safety.Client
	if cfg.Safety.Enabled() {
		scanner = safety.NewClient(cfg.Safety)
		slog.Info("content safety enabled", "endpoint", cfg.Safety.Endpoint)
	}

	h := handlers.New(handlers.Deps{
		Store:            store,
		Maintenance:      gate,
		Bootstrap:        bootstrap,
		Auth:             authn,
		Sessions:         sessions,
		Mailer:           mailer,
		Jobs:             queue,
		Roles:            catalog,
		Archive:          archives,
		Safety:           scanner,
		ArchiveRetention: time.Duration(cfg.Archive.RetentionDays) * 24 * time.Hour,
	})

	return &app{
		cfg:         cfg,
		store:       store,
		queue:       queue,
		roles:       catalog,
		otp:         otps,
		maintenance: gate,
		auth:        authn,
		handlers:    h,
	}, nil
}

// startJanitor purges expired codes and emergency tokens until ctx is done.
func (a *app) startJanitor(ctx context.Context) {
	interval := a.cfg.Jobs.JanitorInterval
	jobs.Every(ctx, a.queue, interval, "purge expired otps", func(ctx context.Context) error {
		n, err := a.otp.PurgeExpired(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			slog.Info("expired otps purged", "count", n)
		}
		return nil
	})
	jobs.Every(ctx, a.queue, interval, "purge expired emergency tokens", func(ctx context.Context) error {
		n, err := a.maintenance.PurgeExpired(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			slog.Info("expired emergency tokens purged", "count", n)
		}
		return nil
	})
}

// close drains the job queue.
func (a *app) close(ctx context.Context) {
	if err := a.queue.Close(ctx); err != nil {
		slog.Error("failed to drain job queue", "error", err)
	}
}
