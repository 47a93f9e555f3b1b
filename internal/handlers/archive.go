// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

var errArchiveDisabled = echo.NewHTTPError(http.StatusServiceUnavailable, "archive storage is not configured")

type archiveKeyRequest struct {
	Key string `json:"key" query:"key"`
}

type cleanupRequest struct {
	OlderThanDays int `json:"olderThanDays"`
}

// ListArchive lists archived images, optionally below ?prefix=.
func (h *Handlers) ListArchive(c echo.Context) error {
	if h.Archive == nil {
		return respondError(c, errArchiveDisabled)
	}
	objects, err := h.Archive.List(c.Request().Context(), c.QueryParam("prefix"))
	if err != nil {
		return respondError(c, err)
	}
	return success(c, map[string]any{
		"objects": objects,
		"count":   len(objects),
	})
}

// DeleteArchive removes one archived image, named by ?key= or a JSON body.
func (h *Handlers) DeleteArchive(c echo.Context) error {
	if h.Archive == nil {
		return respondError(c, errArchiveDisabled)
	}
	var req archiveKeyRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, err)
	}
	if err := h.Archive.Delete(c.Request().Context(), req.Key); err != nil {
		return respondError(c, err)
	}
	return success(c, map[string]any{"key": req.Key})
}

// RestoreArchive moves an archived image back to the active prefix. The
// archived copy is removed in the background.
func (h *Handlers) RestoreArchive(c echo.Context) error {
	if h.Archive == nil {
		return respondError(c, errArchiveDisabled)
	}
	var req archiveKeyRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, err)
	}
	target, task, err := h.Archive.Restore(c.Request().Context(), req.Key)
	if err != nil {
		return respondError(c, err)
	}

	cleanup := "done"
	if task != nil {
		cleanup = "scheduled"
	}
	return success(c, map[string]any{
		"key":     req.Key,
		"target":  target,
		"cleanup": cleanup,
	})
}

// CleanupArchive deletes archived images older than olderThanDays, or the
// configured retention when the body leaves it out.
func (h *Handlers) CleanupArchive(c echo.Context) error {
	if h.Archive == nil {
		return respondError(c, errArchiveDisabled)
	}
	var req cleanupRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, err)
	}
	if req.OlderThanDays < 0 {
		return respondError(c, echo.NewHTTPError(http.StatusBadRequest, "olderThanDays must not be negative"))
	}

	age := h.ArchiveRetention
	if req.OlderThanDays > 0 {
		age = time.Duration(req.OlderThanDays) * 24 * time.Hour
	}
	deleted, err := h.Archive.CleanupOlderThan(c.Request().Context(), age)
	if err != nil {
		return respondError(c, err)
	}
	return success(c, map[string]any{
		"deleted": deleted,
		"count":   len(deleted),
	})
}
