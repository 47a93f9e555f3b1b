// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"codeberg.org/capsera/capsera/internal/ctxkeys"
	"codeberg.org/capsera/capsera/internal/models"
	"codeberg.org/capsera/capsera/internal/services/auth"
)

// Authenticator resolves a bearer token to an admin account.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.AdminUser, error)
}

// PermissionChecker reports whether a role carries a permission.
type PermissionChecker interface {
	HasPermission(role, perm string) bool
}

// WithAdmin stores the authenticated admin in ctx.
func WithAdmin(ctx context.Context, admin *models.AdminUser) context.Context {
	return context.WithValue(ctx, ctxkeys.Admin{}, admin)
}

// GetAdmin returns the authenticated admin from ctx, or nil.
func GetAdmin(ctx context.Context) *models.AdminUser {
	if admin, ok := ctx.Value(ctxkeys.Admin{}).(*models.AdminUser); ok {
		return admin
	}
	return nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get(echo.HeaderAuthorization)
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// LoadAdmin attaches the admin behind a valid bearer token to the request
// context. Missing or invalid tokens leave the request anonymous.
func LoadAdmin(authn Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := BearerToken(c.Request())
			if token == "" {
				return next(c)
			}
			admin, err := authn.Authenticate(c.Request().Context(), token)
			if err == nil {
				ctx := WithAdmin(c.Request().Context(), admin)
				c.SetRequest(c.Request().WithContext(ctx))
			}
			return next(c)
		}
	}
}

// RequireAdmin rejects requests without an active admin holding perm.
// An empty perm admits any active admin.
func RequireAdmin(authn Authenticator, perms PermissionChecker, perm string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			admin := GetAdmin(c.Request().Context())
			if admin == nil {
				token := BearerToken(c.Request())
				if token == "" {
					return jsonError(c, http.StatusUnauthorized, "authentication required")
				}
				var err error
				admin, err = authn.Authenticate(c.Request().Context(), token)
				switch {
				case errors.Is(err, auth.ErrInactive):
					return jsonError(c, http.StatusForbidden, err.Error())
				case err != nil:
					return jsonError(c, http.StatusUnauthorized, "authentication required")
				}
				c.SetRequest(c.Request().WithContext(WithAdmin(c.Request().Context(), admin)))
			}

			if perm != "" && !perms.HasPermission(admin.Role, perm) {
				return jsonError(c, http.StatusForbidden, "insufficient permissions")
			}
			return next(c)
		}
	}
}

func jsonError(c echo.Context, status int, message string) error {
	return c.JSON(status, map[string]any{
		"success": false,
		"message": message,
	})
}
