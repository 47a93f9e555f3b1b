// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package handlers implements the HTTP endpoints.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"codeberg.org/capsera/capsera/internal/repository"
	"codeberg.org/capsera/capsera/internal/services/archive"
	"codeberg.org/capsera/capsera/internal/services/auth"
	"codeberg.org/capsera/capsera/internal/services/email"
	"codeberg.org/capsera/capsera/internal/services/jobs"
	"codeberg.org/capsera/capsera/internal/services/maintenance"
	"codeberg.org/capsera/capsera/internal/services/roles"
	"codeberg.org/capsera/capsera/internal/services/safety"
	"codeberg.org/capsera/capsera/internal/services/session"
	"codeberg.org/capsera/capsera/internal/services/setup"
	"codeberg.org/capsera/capsera/internal/sse"
)

// Deps are the services the handlers call. Archive and Safety are optional.
type Deps struct {
	Store            repository.Store
	Maintenance      *maintenance.Service
	Bootstrap        *setup.Service
	Auth             *auth.Service
	Sessions         *session.Manager
	Mailer           email.Sender
	Jobs             *jobs.Queue
	Roles            *roles.Catalog
	Archive          *archive.Service
	Safety           *safety.Client
	Events           *sse.Hub
	ArchiveRetention time.Duration
	Now              func() time.Time
}

// Handlers contains all HTTP handlers.
type Handlers struct {
	Deps
}

// New creates a new Handlers instance.
func New(deps Deps) *Handlers {
	if deps.Mailer == nil {
		deps.Mailer = email.Noop{}
	}
	if deps.Events == nil {
		deps.Events = sse.NewHub()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.ArchiveRetention <= 0 {
		deps.ArchiveRetention = 30 * 24 * time.Hour
	}
	return &Handlers{Deps: deps}
}

// Health returns the health status.
func (h *Handlers) Health(c echo.Context) error {
	if h.Store != nil {
		if err := h.Store.Ping(c.Request().Context()); err != nil {
			slog.Error("health check failed", "error", err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// deliver runs fn on the job queue and reports a rejected submission. Without
// a queue fn runs inline and its error is returned.
func (h *Handlers) deliver(name string, fn jobs.Func) error {
	if h.Jobs != nil {
		_, err := h.Jobs.Submit(name, fn)
		return err
	}
	if err := fn(context.Background()); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// background runs fn on the job queue, or inline when there is none.
func (h *Handlers) background(name string, fn jobs.Func) {
	if h.Jobs != nil {
		h.Jobs.Go(name, fn)
		return
	}
	if err := fn(context.Background()); err != nil {
		slog.Error("background task failed", "task", name, "error", err)
	}
}
