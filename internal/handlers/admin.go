// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"codeberg.org/capsera/capsera/internal/middleware"
	"codeberg.org/capsera/capsera/internal/services/roles"
	"codeberg.org/capsera/capsera/internal/services/setup"
)

// maxSetupBody bounds the setup request body.
const maxSetupBody = 64 << 10

// Setup runs one admin bootstrap action. A valid bearer token, loaded by
// middleware.LoadAdmin, identifies the caller; anonymous callers are allowed.
func (h *Handlers) Setup(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxSetupBody))
	if err != nil {
		return respondError(c, echo.NewHTTPError(http.StatusBadRequest, "failed to read request body"))
	}

	req, err := setup.ParseRequest(body)
	if err != nil {
		return respondError(c, err)
	}

	ctx := c.Request().Context()
	result, err := h.Bootstrap.Handle(ctx, req, middleware.GetAdmin(ctx))
	if err != nil {
		slog.Warn("setup action rejected", "action", req.Action(), "ip", c.RealIP(), "error", err)
		return respondError(c, err)
	}

	return success(c, map[string]any{
		"action": req.Action(),
		"data":   result,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges admin credentials for a bearer token.
func (h *Handlers) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, err)
	}
	if req.Email == "" || req.Password == "" {
		return respondError(c, echo.NewHTTPError(http.StatusBadRequest, "email and password are required"))
	}

	sess, err := h.Auth.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return respondError(c, err)
	}

	return success(c, map[string]any{
		"token":     sess.Token,
		"expiresAt": sess.ExpiresAt,
		"admin":     sess.Admin,
	})
}

// ListUsers returns every admin account.
func (h *Handlers) ListUsers(c echo.Context) error {
	users, err := h.Store.ListAdminUsers(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return success(c, map[string]any{"users": users})
}

// ListRoles returns the stored roles next to the built-in catalog.
func (h *Handlers) ListRoles(c echo.Context) error {
	stored, err := h.Store.ListRoles(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return success(c, map[string]any{
		"roles":   stored,
		"catalog": h.Roles.Definitions(),
	})
}

type roleRequest struct {
	Role string `json:"role"`
}

// AssignRole changes an admin's role and notifies them by email.
func (h *Handlers) AssignRole(c echo.Context) error {
	var req roleRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, err)
	}

	ctx := c.Request().Context()
	id := c.Param("id")
	if caller := middleware.GetAdmin(ctx); caller != nil && caller.ID == id && req.Role != roles.Admin {
		return respondError(c, echo.NewHTTPError(http.StatusBadRequest, "you cannot remove your own admin role"))
	}

	role, err := h.Roles.Ensure(ctx, h.Store, req.Role)
	if err != nil {
		return respondError(c, err)
	}
	if err := h.Store.UpdateAdminRole(ctx, id, role.Name); err != nil {
		return respondError(c, err)
	}
	user, err := h.Store.GetAdminUserByID(ctx, id)
	if err != nil {
		return respondError(c, err)
	}

	slog.Info("admin role assigned", "admin_id", user.ID, "role", role.Name)
	h.background("send role assigned", func(ctx context.Context) error {
		return h.Mailer.SendRoleAssigned(ctx, user.Email, role.DisplayName)
	})

	return success(c, map[string]any{"user": user})
}

type activeRequest struct {
	Active bool `json:"active"`
}

// SetUserActive enables or disables an admin account.
func (h *Handlers) SetUserActive(c echo.Context) error {
	var req activeRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, err)
	}

	ctx := c.Request().Context()
	id := c.Param("id")
	if caller := middleware.GetAdmin(ctx); caller != nil && caller.ID == id && !req.Active {
		return respondError(c, echo.NewHTTPError(http.StatusBadRequest, "you cannot deactivate your own account"))
	}

	if err := h.Store.SetAdminUserActive(ctx, id, req.Active); err != nil {
		return respondError(c, err)
	}
	user, err := h.Store.GetAdminUserByID(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	return success(c, map[string]any{"user": user})
}
