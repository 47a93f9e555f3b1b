// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package templates

import (
	"context"
	"io"

	"github.com/a-h/templ"

	"codeberg.org/capsera/capsera/internal/models"
)

// emergencyScript posts the form as JSON and shows the answer.
const emergencyScript = `<script>
document.getElementById("emergency").addEventListener("submit", async (ev) => {
  ev.preventDefault();
  const email = ev.target.elements.email.value;
  const res = await fetch("/api/maintenance/emergency-access", {
    method: "POST",
    headers: {"Content-Type": "application/json"},
    body: JSON.stringify({email}),
  });
  const data = await res.json().catch(() => ({}));
  document.getElementById("emergency-result").textContent = data.message || "";
});
</script>`

// statusScript reloads the page once maintenance is switched off.
const statusScript = `<script>
new EventSource("/api/maintenance/events").addEventListener("maintenance", (ev) => {
  if (!JSON.parse(ev.data).enabled) location.reload();
});
</script>`

// Maintenance is shown to blocked visitors.
func Maintenance(settings *models.MaintenanceSettings) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		title := T(ctx, "maintenance_title")
		return layout(ctx, out, title, func(w *writer) {
			w.raw(`<h1>`)
			w.text(title)
			w.raw(`</h1><p>`)
			message := settings.Message
			if message == "" {
				message = T(ctx, "maintenance_default_message")
			}
			w.text(message)
			w.raw(`</p>`)
			if settings.EstimatedTime != "" {
				w.raw(`<p class="muted">`)
				w.text(TData(ctx, "maintenance_estimated", map[string]any{"EstimatedTime": settings.EstimatedTime}))
				w.raw(`</p>`)
			}
			if len(settings.AllowedEmails) > 0 {
				w.raw(`<p class="muted">`)
				w.text(T(ctx, "maintenance_emergency_hint"))
				w.raw(`</p><form id="emergency"><input type="email" name="email" required placeholder="`)
				w.text(T(ctx, "maintenance_emergency_email"))
				w.raw(`"><button type="submit">`)
				w.text(T(ctx, "maintenance_emergency_button"))
				w.raw(`</button></form><p id="emergency-result" class="muted"></p>`)
				w.raw(emergencyScript)
			}
			if settings.Enabled {
				w.raw(statusScript)
			}
		})
	})
}

// Unauthorized is shown when an emergency link cannot be redeemed.
func Unauthorized() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		title := T(ctx, "unauthorized_title")
		return layout(ctx, out, title, func(w *writer) {
			w.raw(`<h1>`)
			w.text(title)
			w.raw(`</h1><p>`)
			w.text(T(ctx, "unauthorized_body"))
			w.raw(`</p>`)
		})
	})
}
