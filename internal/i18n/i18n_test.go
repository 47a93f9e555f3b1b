// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package i18n_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"codeberg.org/capsera/capsera/internal/i18n"
)

func localized(t *testing.T, tag language.Tag) context.Context {
	t.Helper()
	require.NoError(t, i18n.Init())
	return i18n.WithLocale(context.Background(), tag)
}

func TestT_Locales(t *testing.T) {
	tests := []struct {
		name string
		ctx  func(t *testing.T) context.Context
		id   string
		want string
	}{
		{
			name: "english title",
			ctx:  func(t *testing.T) context.Context { return localized(t, language.English) },
			id:   "maintenance_title",
			want: "We'll be right back",
		},
		{
			name: "regional tag uses base language",
			ctx:  func(t *testing.T) context.Context { return localized(t, language.MustParse("de-AT")) },
			id:   "unauthorized_title",
			want: "Zugriff verweigert",
		},
		{
			name: "no locale falls back to english",
			ctx: func(t *testing.T) context.Context {
				require.NoError(t, i18n.Init())
				return context.Background()
			},
			id:   "app_name",
			want: "Capsera",
		},
		{
			name: "unknown id is returned as is",
			ctx:  func(t *testing.T) context.Context { return localized(t, language.German) },
			id:   "no_such_message",
			want: "no_such_message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, i18n.T(tt.ctx(t), tt.id))
		})
	}
}

func TestTData(t *testing.T) {
	en := localized(t, language.English)
	body := i18n.TData(en, "email_otp_body", map[string]any{"Code": "493817", "Minutes": 5})
	assert.Contains(t, body, "493817")
	assert.Contains(t, body, "5 minutes")

	de := localized(t, language.German)
	assert.Equal(t, "Voraussichtliches Ende: 14:00",
		i18n.TData(de, "maintenance_estimated", map[string]any{"EstimatedTime": "14:00"}))
}

func TestTPlural(t *testing.T) {
	tests := []struct {
		tag   language.Tag
		count int
		want  string
	}{
		{language.English, 1, "1 attempt remaining."},
		{language.English, 4, "4 attempts remaining."},
		{language.German, 1, "Noch 1 Versuch."},
		{language.German, 2, "Noch 2 Versuche."},
	}

	for _, tt := range tests {
		t.Run(tt.tag.String()+"/"+tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, i18n.TPlural(localized(t, tt.tag), "attempts_remaining", tt.count))
		})
	}
}

func TestTranslationsComplete(t *testing.T) {
	en := localized(t, language.English)
	de := localized(t, language.German)

	for _, id := range []string{
		"maintenance_title", "maintenance_default_message", "unauthorized_title",
		"email_otp_subject", "email_emergency_subject", "email_admin_created_subject",
		"email_role_assigned_subject",
	} {
		assert.NotEqual(t, id, i18n.T(en, id), "english %s", id)
		assert.NotEqual(t, id, i18n.T(de, id), "german %s", id)
		assert.NotEqual(t, i18n.T(en, id), i18n.T(de, id), "%s should differ between locales", id)
	}
}

func TestMatchLanguage(t *testing.T) {
	tests := map[string]string{
		"":             "en",
		"en-GB":        "en",
		"de-CH":        "de",
		"fr, it":       "en",
		"de;q=0.8, en": "en",
		"fr, de;q=0.5": "de",
	}

	for header, want := range tests {
		t.Run(header, func(t *testing.T) {
			base, _ := i18n.MatchLanguage(header).Base()
			assert.Equal(t, want, base.String())
		})
	}
}

func TestGetLocale(t *testing.T) {
	assert.Equal(t, "en", i18n.GetLocale(context.Background()))
	assert.Equal(t, "de", i18n.GetLocale(localized(t, language.MustParse("de-DE"))))
	assert.Equal(t, "en", i18n.GetLocale(localized(t, language.AmericanEnglish)))
}
