// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"codeberg.org/capsera/capsera/internal/services/reports"
)

// reportRowLimit caps the rows of one export.
const reportRowLimit = 10000

// EmergencyAccessReport streams the emergency token audit log as CSV.
func (h *Handlers) EmergencyAccessReport(c echo.Context) error {
	tokens, err := h.Maintenance.RecentTokens(c.Request().Context(), reportRowLimit)
	if err != nil {
		return respondError(c, err)
	}

	now := h.Now()
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	res.Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", reports.Filename("emergency-access", now)))
	res.WriteHeader(http.StatusOK)
	return reports.EmergencyAccessCSV(res, tokens, now)
}
