// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"codeberg.org/capsera/capsera/internal/i18n"
	"codeberg.org/capsera/capsera/internal/repository"
	"codeberg.org/capsera/capsera/internal/services/archive"
	"codeberg.org/capsera/capsera/internal/services/auth"
	"codeberg.org/capsera/capsera/internal/services/jobs"
	"codeberg.org/capsera/capsera/internal/services/maintenance"
	"codeberg.org/capsera/capsera/internal/services/otp"
	"codeberg.org/capsera/capsera/internal/services/roles"
	"codeberg.org/capsera/capsera/internal/services/safety"
	"codeberg.org/capsera/capsera/internal/services/setup"
)

// errorStatus maps domain errors to HTTP status codes. The first match wins.
var errorStatus = []struct {
	err    error
	status int
}{
	{setup.ErrInvalidRequest, http.StatusBadRequest},
	{setup.ErrUnknownAction, http.StatusBadRequest},
	{maintenance.ErrEmailRequired, http.StatusBadRequest},
	{maintenance.ErrTokenRequired, http.StatusBadRequest},
	{maintenance.ErrMaintenanceDisabled, http.StatusBadRequest},
	{otp.ErrInvalidEmail, http.StatusBadRequest},
	{otp.ErrNotFound, http.StatusBadRequest},
	{otp.ErrExpired, http.StatusBadRequest},
	{otp.ErrCodeRequired, http.StatusBadRequest},
	{archive.ErrKeyRequired, http.StatusBadRequest},
	{archive.ErrOutsideArchive, http.StatusBadRequest},
	{safety.ErrImageURLRequired, http.StatusBadRequest},
	{roles.ErrUnknownRole, http.StatusBadRequest},

	{setup.ErrPINRequired, http.StatusUnauthorized},
	{setup.ErrInvalidPIN, http.StatusUnauthorized},
	{setup.ErrOTPNotVerified, http.StatusUnauthorized},
	{otp.ErrInvalidCode, http.StatusUnauthorized},
	{otp.ErrLocked, http.StatusUnauthorized},
	{otp.ErrTooManyAttempts, http.StatusUnauthorized},
	{otp.ErrNotVerified, http.StatusUnauthorized},
	{auth.ErrInvalidCredentials, http.StatusUnauthorized},
	{auth.ErrInvalidToken, http.StatusUnauthorized},

	{setup.ErrNotPermitted, http.StatusForbidden},
	{maintenance.ErrEmailNotAllowed, http.StatusForbidden},
	{maintenance.ErrInvalidOrExpired, http.StatusForbidden},
	{auth.ErrInactive, http.StatusForbidden},

	{setup.ErrDebugDisabled, http.StatusNotFound},
	{repository.ErrNotFound, http.StatusNotFound},

	{setup.ErrAdminExists, http.StatusConflict},
	{repository.ErrDuplicate, http.StatusConflict},

	{otp.ErrRateLimited, http.StatusTooManyRequests},
	{maintenance.ErrIPRateLimited, http.StatusTooManyRequests},
	{maintenance.ErrTooManyActiveTokens, http.StatusTooManyRequests},

	{safety.ErrUnavailable, http.StatusServiceUnavailable},
	{jobs.ErrQueueFull, http.StatusServiceUnavailable},
	{jobs.ErrQueueClosed, http.StatusServiceUnavailable},
}

// StatusFor returns the HTTP status for err.
func StatusFor(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	var pve *auth.PasswordValidationError
	if errors.As(err, &pve) {
		return http.StatusBadRequest
	}
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

// respondError writes err as a JSON failure envelope. Unexpected errors are
// logged and answered with a generic message.
func respondError(c echo.Context, err error) error {
	status := StatusFor(err)
	body := map[string]any{"success": false}

	var (
		he  *echo.HTTPError
		pve *auth.PasswordValidationError
		ice *otp.InvalidCodeError
	)
	switch {
	case status == http.StatusInternalServerError:
		slog.Error("request failed", "method", c.Request().Method, "path", c.Request().URL.Path, "error", err)
		body["message"] = "internal server error"
	case errors.As(err, &he):
		body["message"] = fmt.Sprint(he.Message)
	case errors.As(err, &pve):
		body["message"] = pve.Error()
		body["errors"] = pve.Messages()
	case errors.As(err, &ice):
		body["message"] = "Invalid OTP. " + i18n.TPlural(c.Request().Context(), "attempts_remaining", ice.Remaining)
		body["remainingAttempts"] = ice.Remaining
	default:
		body["message"] = err.Error()
	}
	return c.JSON(status, body)
}
