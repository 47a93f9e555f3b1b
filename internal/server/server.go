// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/urfave/cli/v3"

	"codeberg.org/capsera/capsera/internal/config"
	"codeberg.org/capsera/capsera/internal/i18n"
	"codeberg.org/capsera/capsera/internal/middleware"
	"codeberg.org/capsera/capsera/internal/services/roles"
)

// Run starts the server with the given CLI command.
func Run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.NewFromCLI(cmd)
	setupLogger(cfg.Log)

	slog.Info("starting server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"base_url", cfg.Server.BaseURL,
	)

	// Database
	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("failed to close database", "error", closeErr)
		}
	}()

	// i18n
	if initErr := i18n.Init(); initErr != nil {
		return fmt.Errorf("failed to init i18n: %w", initErr)
	}

	// Services
	a, err := newApp(ctx, cfg, store)
	if err != nil {
		return err
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	a.startJanitor(janitorCtx)

	e := newEcho(a)

	err = startWithGracefulShutdown(e, cfg)

	stopJanitor()
	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.close(drainCtx)

	return err
}

// newEcho builds the HTTP server for a.
func newEcho(a *app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	setupMiddleware(e, a)
	setupRoutes(e, a)
	return e
}

func setupRoutes(e *echo.Echo, a *app) {
	h := a.handlers
	require := func(perm string) echo.MiddlewareFunc {
		return middleware.RequireAdmin(a.auth, a.roles, perm)
	}

	e.GET("/health", h.Health)
	e.GET(middleware.MaintenancePage, h.MaintenancePage)
	e.GET("/api/maintenance/events", h.MaintenanceEvents)

	// Emergency access
	e.POST("/api/maintenance/emergency-access", h.RequestEmergencyAccess)
	e.GET("/api/maintenance/emergency-access", h.VerifyEmergencyAccess)
	e.PUT("/api/maintenance/emergency-access", h.EmergencyStats, require(roles.PermMaintenanceManage))
	e.DELETE("/api/maintenance/emergency-access", h.EndEmergencyAccess)

	// Admin API
	admin := e.Group("/api/admin")
	admin.POST("/setup", h.Setup)
	admin.POST("/login", h.Login)

	admin.GET("/maintenance", h.GetMaintenance, require(roles.PermMaintenanceManage))
	admin.PUT("/maintenance", h.UpdateMaintenance, require(roles.PermMaintenanceManage))

	admin.GET("/users", h.ListUsers, require(roles.PermUsersRead))
	admin.PUT("/users/:id/role", h.AssignRole, require(roles.PermUsersWrite))
	admin.PUT("/users/:id/active", h.SetUserActive, require(roles.PermUsersWrite))
	admin.GET("/roles", h.ListRoles, require(roles.PermRolesRead))

	admin.GET("/archive", h.ListArchive, require(roles.PermArchiveManage))
	admin.DELETE("/archive", h.DeleteArchive, require(roles.PermArchiveManage))
	admin.POST("/archive/restore", h.RestoreArchive, require(roles.PermArchiveManage))
	admin.POST("/archive/cleanup", h.CleanupArchive, require(roles.PermArchiveManage))

	admin.GET("/reports/emergency-access.csv", h.EmergencyAccessReport, require(roles.PermReportsRead))

	// Moderation
	e.POST("/api/moderation/check", h.CheckImage, require(roles.PermModerationReview))
}

func startWithGracefulShutdown(e *echo.Echo, cfg *config.Config) error {
	// Setup TLS
	tlsConfig, err := setupTLS(cfg)
	if err != nil {
		return fmt.Errorf("TLS setup failed: %w", err)
	}

	// Channel for server errors
	errChan := make(chan error, 1)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		slog.Info("Server running", "url", cfg.Server.BaseURL)
		var err error
		if tlsConfig != nil {
			err = startTLSServer(e, addr, tlsConfig)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Wait for interrupt signal or error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		slog.Info("shutting down server")
	case err := <-errChan:
		slog.Error("server error", "error", err)
		return err
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}

// startTLSServer starts the Echo server with a custom TLS configuration.
func startTLSServer(e *echo.Echo, addr string, tlsConfig *tls.Config) error {
	lc := &net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return err
	}
	e.TLSListener = tls.NewListener(ln, tlsConfig)
	e.TLSServer.TLSConfig = tlsConfig
	return e.Server.Serve(e.TLSListener)
}
