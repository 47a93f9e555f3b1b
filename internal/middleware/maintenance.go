// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"codeberg.org/capsera/capsera/internal/ctxkeys"
	"codeberg.org/capsera/capsera/internal/services/maintenance"
	"codeberg.org/capsera/capsera/internal/services/session"
)

// MaintenancePage is where blocked page requests are sent.
const MaintenancePage = "/maintenance"

// DefaultMaintenanceExempt lists the paths the gate never blocks. Entries ending
// in a slash match as prefixes; the admin API authenticates on its own.
var DefaultMaintenanceExempt = []string{
	"/health",
	MaintenancePage,
	"/static/",
	"/api/maintenance/emergency-access",
	"/api/maintenance/events",
	"/api/admin/",
}

// Checker decides whether a request passes the gate.
type Checker interface {
	Check(ctx context.Context, req maintenance.Request) maintenance.Decision
}

// GrantReader reads the emergency access grant carried by a request.
type GrantReader interface {
	Parse(r *http.Request) (*session.Grant, error)
}

// MaintenanceConfig configures the maintenance gate.
type MaintenanceConfig struct {
	Checker Checker
	Grants  GrantReader
	// Exempt defaults to DefaultMaintenanceExempt.
	Exempt []string
}

// GetGrant returns the emergency access grant from ctx, or nil.
func GetGrant(ctx context.Context) *session.Grant {
	if grant, ok := ctx.Value(ctxkeys.Grant{}).(*session.Grant); ok {
		return grant
	}
	return nil
}

// Maintenance blocks requests while maintenance mode is on unless the client IP
// or the caller's email is allow-listed. The email comes from the emergency grant
// cookie, or from the admin loaded by LoadAdmin. Blocked API requests get a 503
// JSON body; everything else is redirected to the maintenance page.
func Maintenance(cfg MaintenanceConfig) echo.MiddlewareFunc {
	exempt := cfg.Exempt
	if exempt == nil {
		exempt = DefaultMaintenanceExempt
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r := c.Request()
			if isExempt(exempt, r.URL.Path) {
				return next(c)
			}

			ctx := r.Context()
			email := ""
			if cfg.Grants != nil {
				grant, err := cfg.Grants.Parse(r)
				if err != nil {
					slog.Warn("failed to read access grant", "error", err)
				}
				if grant != nil {
					email = grant.Email
					ctx = context.WithValue(ctx, ctxkeys.Grant{}, grant)
					c.SetRequest(r.WithContext(ctx))
				}
			}
			if email == "" {
				if admin := GetAdmin(ctx); admin != nil {
					email = admin.Email
				}
			}

			decision := cfg.Checker.Check(ctx, maintenance.Request{IP: c.RealIP(), Email: email})
			if decision.Allowed {
				return next(c)
			}

			if strings.HasPrefix(r.URL.Path, "/api/") {
				return c.JSON(http.StatusServiceUnavailable, map[string]any{
					"success":       false,
					"maintenance":   true,
					"message":       decision.Message,
					"estimatedTime": decision.EstimatedTime,
				})
			}
			return c.Redirect(http.StatusFound, MaintenancePage)
		}
	}
}

func isExempt(exempt []string, path string) bool {
	for _, p := range exempt {
		if strings.HasSuffix(p, "/") {
			if strings.HasPrefix(path, p) {
				return true
			}
			continue
		}
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
