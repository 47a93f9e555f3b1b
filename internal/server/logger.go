// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"codeberg.org/capsera/capsera/internal/config"
)

// parseLevel maps a configured level name to slog, defaulting to info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogger configures the global slog logger. Debug output carries the
// source location.
func setupLogger(cfg config.LogConfig) {
	level := parseLevel(cfg.Level)
	debug := level == slog.LevelDebug

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level, AddSource: debug})
	} else {
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			AddSource:  debug,
			TimeFormat: time.TimeOnly,
		})
	}

	slog.SetDefault(slog.New(handler).With("app", "capsera"))
}
