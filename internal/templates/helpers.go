// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package templates renders the few HTML pages the gate serves.
package templates

import (
	"context"
	"io"

	"github.com/a-h/templ"

	"codeberg.org/capsera/capsera/internal/i18n"
)

// T translates a message by ID.
func T(ctx context.Context, messageID string) string {
	return i18n.T(ctx, messageID)
}

// TData translates a message with template data.
func TData(ctx context.Context, messageID string, data map[string]any) string {
	return i18n.TData(ctx, messageID, data)
}

// Locale returns the current locale.
func Locale(ctx context.Context) string {
	return i18n.GetLocale(ctx)
}

// writer collects the first write error so pages read top to bottom.
type writer struct {
	w   io.Writer
	err error
}

func (w *writer) raw(s string) {
	if w.err == nil {
		_, w.err = io.WriteString(w.w, s)
	}
}

func (w *writer) text(s string) {
	w.raw(templ.EscapeString(s))
}

// layout wraps body in the shared page chrome.
func layout(ctx context.Context, out io.Writer, title string, body func(w *writer)) error {
	w := &writer{w: out}
	w.raw(`<!doctype html><html lang="`)
	w.text(Locale(ctx))
	w.raw(`"><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"><title>`)
	w.text(title + " · " + T(ctx, "app_name"))
	w.raw(`</title><style>body{font-family:system-ui,sans-serif;max-width:36rem;margin:4rem auto;padding:0 1rem;color:#1f2933}` +
		`h1{font-size:1.6rem}.muted{color:#616e7c}form{margin-top:2rem;display:flex;gap:.5rem}` +
		`input{flex:1;padding:.5rem}button{padding:.5rem 1rem}</style></head><body><main>`)
	body(w)
	w.raw(`</main></body></html>`)
	return w.err
}
