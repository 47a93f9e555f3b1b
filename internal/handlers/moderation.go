// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type moderationRequest struct {
	ImageURL string `json:"imageUrl"`
}

// CheckImage runs an uploaded image through the content-safety filter.
func (h *Handlers) CheckImage(c echo.Context) error {
	if h.Safety == nil {
		return respondError(c, echo.NewHTTPError(http.StatusServiceUnavailable, "content safety is not configured"))
	}
	var req moderationRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, err)
	}
	verdict, err := h.Safety.Check(c.Request().Context(), req.ImageURL)
	if err != nil {
		return respondError(c, err)
	}
	return success(c, map[string]any{"verdict": verdict})
}
