// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"codeberg.org/capsera/capsera/internal/models"
	"codeberg.org/capsera/capsera/internal/sse"
)

const (
	// heartbeatInterval keeps idle event streams open through proxies.
	heartbeatInterval = 30 * time.Second
	reconnectDelay    = 5 * time.Second
)

type maintenanceStatus struct {
	Enabled       bool   `json:"enabled"`
	Message       string `json:"message"`
	EstimatedTime string `json:"estimatedTime"`
}

func statusEvent(settings *models.MaintenanceSettings) sse.Event {
	data, _ := json.Marshal(maintenanceStatus{
		Enabled:       settings.Enabled,
		Message:       settings.Message,
		EstimatedTime: settings.EstimatedTime,
	})
	return sse.Event{Name: sse.TopicMaintenance, Data: string(data)}
}

// publishStatus tells connected maintenance pages about a settings change.
func (h *Handlers) publishStatus(settings *models.MaintenanceSettings) {
	h.Events.Publish(sse.TopicMaintenance, statusEvent(settings).String())
}

// MaintenanceEvents streams the public maintenance status. The current status
// is sent first along with the reconnect delay, then every change until the
// client goes away.
func (h *Handlers) MaintenanceEvents(c echo.Context) error {
	ctx := c.Request().Context()
	settings, err := h.Maintenance.Settings(ctx)
	if err != nil {
		return respondError(c, err)
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ch := h.Events.Register(sse.TopicMaintenance)
	defer h.Events.Unregister(sse.TopicMaintenance, ch)

	initial := statusEvent(settings)
	initial.Retry = reconnectDelay
	if _, err := w.Write([]byte(initial.String())); err != nil {
		return nil
	}
	w.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			if _, err := w.Write([]byte(msg)); err != nil {
				slog.Debug("event stream closed", "error", err)
				return nil
			}
			w.Flush()
		case <-ticker.C:
			if _, err := w.Write([]byte(sse.Heartbeat)); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}
