// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"fmt"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"codeberg.org/capsera/capsera/internal/middleware"
)

func setupMiddleware(e *echo.Echo, a *app) {
	maxBody := a.cfg.Server.MaxBodySize
	if maxBody <= 0 {
		maxBody = 10
	}

	e.Pre(middleware.StripTrailingSlash())
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger())
	e.Use(echomw.Secure())
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dM", maxBody)))
	e.Use(middleware.Locale())
	e.Use(middleware.LoadAdmin(a.auth))
	e.Use(middleware.Maintenance(middleware.MaintenanceConfig{
		Checker: a.maintenance,
		Grants:  a.handlers.Sessions,
	}))
}
