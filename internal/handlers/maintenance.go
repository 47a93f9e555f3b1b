// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"codeberg.org/capsera/capsera/internal/services/maintenance"
	"codeberg.org/capsera/capsera/internal/templates"
)

// recentTokenLimit caps the token list in the stats answer.
const recentTokenLimit = 20

// MaintenancePage renders the maintenance page. It answers 503 while
// maintenance is on so crawlers and monitors see the outage.
func (h *Handlers) MaintenancePage(c echo.Context) error {
	settings, err := h.Maintenance.Settings(c.Request().Context())
	if err != nil {
		return err
	}
	status := http.StatusOK
	if settings.Enabled {
		status = http.StatusServiceUnavailable
	}
	return Render(c, status, templates.Maintenance(settings))
}

type emergencyRequest struct {
	Email string `json:"email"`
}

// RequestEmergencyAccess issues an emergency token for an allow-listed email
// and queues the access link mail. The token itself is never part of the
// answer. When the mail cannot be queued the token is revoked.
func (h *Handlers) RequestEmergencyAccess(c echo.Context) error {
	var req emergencyRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, err)
	}

	ctx := c.Request().Context()
	issued, err := h.Maintenance.RequestEmergencyToken(ctx, req.Email, c.RealIP())
	if err != nil {
		return respondError(c, err)
	}

	err = h.deliver("send emergency token", func(ctx context.Context) error {
		return h.Mailer.SendEmergencyToken(ctx, issued.Email, issued.Token, issued.ExpiresAt)
	})
	if err != nil {
		if revokeErr := h.Maintenance.RevokeEmergencyToken(ctx, issued.Token); revokeErr != nil {
			slog.Error("failed to revoke undelivered token", "email", issued.Email, "error", revokeErr)
		}
		return respondError(c, err)
	}

	return success(c, map[string]any{
		"message":   "Emergency access link sent",
		"email":     issued.Email,
		"expiresAt": issued.ExpiresAt,
	})
}

// VerifyEmergencyAccess consumes a token and sets the access grant cookie.
// Browsers are redirected home or shown the unauthorized page.
func (h *Handlers) VerifyEmergencyAccess(c echo.Context) error {
	email, err := h.Maintenance.VerifyEmergencyToken(c.Request().Context(), c.QueryParam("token"))
	if err != nil {
		if wantsHTML(c) && (errors.Is(err, maintenance.ErrInvalidOrExpired) || errors.Is(err, maintenance.ErrTokenRequired)) {
			return Render(c, http.StatusForbidden, templates.Unauthorized())
		}
		return respondError(c, err)
	}

	cookie, err := h.Sessions.Create(email)
	if err != nil {
		return respondError(c, err)
	}
	c.SetCookie(cookie)
	slog.Info("emergency access granted", "email", email, "ip", c.RealIP())

	if wantsHTML(c) {
		return c.Redirect(http.StatusFound, "/")
	}
	return success(c, map[string]any{
		"message": "Emergency access granted",
		"email":   email,
	})
}

// EndEmergencyAccess drops the access grant cookie.
func (h *Handlers) EndEmergencyAccess(c echo.Context) error {
	c.SetCookie(h.Sessions.Clear())
	return success(c, map[string]any{"message": "Emergency access ended"})
}

// EmergencyStats reports token counters, the latest tokens and background job counters.
func (h *Handlers) EmergencyStats(c echo.Context) error {
	ctx := c.Request().Context()
	stats, err := h.Maintenance.Stats(ctx)
	if err != nil {
		return respondError(c, err)
	}
	recent, err := h.Maintenance.RecentTokens(ctx, recentTokenLimit)
	if err != nil {
		return respondError(c, err)
	}

	body := map[string]any{
		"stats":  stats,
		"recent": recent,
	}
	if h.Jobs != nil {
		body["jobs"] = h.Jobs.Stats()
	}
	return success(c, body)
}

// GetMaintenance returns the maintenance settings.
func (h *Handlers) GetMaintenance(c echo.Context) error {
	settings, err := h.Maintenance.Settings(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return success(c, map[string]any{"settings": settings})
}

// UpdateMaintenance applies a partial settings change.
func (h *Handlers) UpdateMaintenance(c echo.Context) error {
	var update maintenance.SettingsUpdate
	if err := c.Bind(&update); err != nil {
		return respondError(c, err)
	}
	settings, err := h.Maintenance.UpdateSettings(c.Request().Context(), update)
	if err != nil {
		return respondError(c, err)
	}
	h.publishStatus(settings)
	return success(c, map[string]any{"settings": settings})
}
