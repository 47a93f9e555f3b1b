// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package middleware_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/capsera/capsera/internal/config"
	"codeberg.org/capsera/capsera/internal/i18n"
	"codeberg.org/capsera/capsera/internal/middleware"
	"codeberg.org/capsera/capsera/internal/models"
	"codeberg.org/capsera/capsera/internal/repository"
	"codeberg.org/capsera/capsera/internal/services/auth"
	"codeberg.org/capsera/capsera/internal/services/maintenance"
	"codeberg.org/capsera/capsera/internal/services/roles"
	"codeberg.org/capsera/capsera/internal/services/session"
	"codeberg.org/capsera/capsera/internal/testutil"
)

const hashKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

type gateFixture struct {
	echo     *echo.Echo
	sessions *session.Manager
	auth     *auth.Service
	repo     *repository.Repository
}

func newGate(t *testing.T) *gateFixture {
	t.Helper()
	_, repo := testutil.NewTestDB(t)

	svc := maintenance.NewService(repo, config.MaintenanceConfig{
		Enabled:       true,
		AllowedIPs:    []string{"10.0.0.1", "192.168.10.0/24"},
		AllowedEmails: []string{"ops@capsera.example"},
		Message:       "Back at noon",
	}, config.EmergencyConfig{})

	sessions, err := session.NewManager(&config.SessionConfig{CookieName: "_access", MaxAge: 3600, HashKey: hashKey}, false)
	require.NoError(t, err)

	tokens, err := auth.NewTokenIssuer("test-secret", time.Hour, nil)
	require.NoError(t, err)
	authSvc := auth.NewService(repo, tokens)

	e := echo.New()
	e.Use(middleware.LoadAdmin(authSvc))
	e.Use(middleware.Maintenance(middleware.MaintenanceConfig{Checker: svc, Grants: sessions}))
	ok := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	e.GET("/", ok)
	e.GET("/gallery", ok)
	e.GET("/health", ok)
	e.GET("/maintenance", ok)
	e.GET("/api/images", ok)
	e.POST("/api/maintenance/emergency-access", ok)
	e.POST("/api/admin/setup", ok)

	return &gateFixture{echo: e, sessions: sessions, auth: authSvc, repo: repo}
}

func (f *gateFixture) do(method, path string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

func TestMaintenance_BlocksPages(t *testing.T) {
	f := newGate(t)

	rec := f.do(http.MethodGet, "/gallery", nil)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/maintenance", rec.Header().Get("Location"))
}

func TestMaintenance_BlocksAPI(t *testing.T) {
	f := newGate(t)

	rec := f.do(http.MethodGet, "/api/images", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, true, body["maintenance"])
	assert.Equal(t, "Back at noon", body["message"])
}

func TestMaintenance_ExemptPaths(t *testing.T) {
	f := newGate(t)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/health"},
		{http.MethodGet, "/maintenance"},
		{http.MethodPost, "/api/maintenance/emergency-access"},
		{http.MethodPost, "/api/admin/setup"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := f.do(tt.method, tt.path, nil)
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestMaintenance_AllowedIP(t *testing.T) {
	f := newGate(t)

	tests := []struct {
		name string
		ip   string
		want int
	}{
		{"exact", "10.0.0.1", http.StatusOK},
		{"cidr", "192.168.10.42", http.StatusOK},
		{"other", "10.0.0.2", http.StatusFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodGet, "/", func(r *http.Request) {
				r.Header.Set(echo.HeaderXRealIP, tt.ip)
			})
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestMaintenance_GrantCookie(t *testing.T) {
	f := newGate(t)

	t.Run("allow-listed email passes", func(t *testing.T) {
		cookie, err := f.sessions.Create("OPS@capsera.example")
		require.NoError(t, err)

		rec := f.do(http.MethodGet, "/gallery", func(r *http.Request) { r.AddCookie(cookie) })

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("other email is blocked", func(t *testing.T) {
		cookie, err := f.sessions.Create("visitor@capsera.example")
		require.NoError(t, err)

		rec := f.do(http.MethodGet, "/gallery", func(r *http.Request) { r.AddCookie(cookie) })

		assert.Equal(t, http.StatusFound, rec.Code)
	})

	t.Run("tampered cookie is ignored", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/gallery", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: "_access", Value: "forged"})
		})

		assert.Equal(t, http.StatusFound, rec.Code)
	})
}

func TestMaintenance_AdminEmail(t *testing.T) {
	f := newGate(t)
	admin := testutil.NewTestAdmin(t, f.repo, "ops@capsera.example", "correct-horse-battery")
	token, _, err := f.auth.Tokens().Issue(admin)
	require.NoError(t, err)

	rec := f.do(http.MethodGet, "/gallery", func(r *http.Request) {
		r.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	})

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMaintenance_Disabled(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	svc := maintenance.NewService(repo, config.MaintenanceConfig{}, config.EmergencyConfig{})

	e := echo.New()
	e.Use(middleware.Maintenance(middleware.MaintenanceConfig{Checker: svc}))
	e.GET("/gallery", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/gallery", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

type staticChecker struct{ decision maintenance.Decision }

func (s staticChecker) Check(context.Context, maintenance.Request) maintenance.Decision {
	return s.decision
}

func TestMaintenance_CustomExempt(t *testing.T) {
	e := echo.New()
	e.Use(middleware.Maintenance(middleware.MaintenanceConfig{
		Checker: staticChecker{maintenance.Decision{Allowed: false, Reason: maintenance.ReasonBlocked}},
		Exempt:  []string{"/public/"},
	}))
	e.GET("/public/about", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/public/about", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
}

func newAuthEcho(t *testing.T, perm string) (*echo.Echo, *auth.Service, *repository.Repository, *models.AdminUser) {
	t.Helper()
	_, repo := testutil.NewTestDB(t)
	tokens, err := auth.NewTokenIssuer("test-secret", time.Hour, nil)
	require.NoError(t, err)
	authSvc := auth.NewService(repo, tokens)
	catalog, err := roles.Builtin()
	require.NoError(t, err)

	admin := testutil.NewTestAdmin(t, repo, "admin@capsera.example", "correct-horse-battery")

	e := echo.New()
	e.GET("/api/admin/thing", func(c echo.Context) error {
		got := middleware.GetAdmin(c.Request().Context())
		return c.String(http.StatusOK, got.Email)
	}, middleware.RequireAdmin(authSvc, catalog, perm))
	return e, authSvc, repo, admin
}

func TestRequireAdmin(t *testing.T) {
	e, authSvc, repo, admin := newAuthEcho(t, roles.PermMaintenanceManage)
	token, _, err := authSvc.Tokens().Issue(admin)
	require.NoError(t, err)

	viewer := testutil.NewTestAdmin(t, repo, "viewer@capsera.example", "correct-horse-battery")
	require.NoError(t, repo.UpdateAdminRole(context.Background(), viewer.ID, "viewer"))
	viewer.Role = "viewer"
	viewerToken, _, err := authSvc.Tokens().Issue(viewer)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"garbage token", "Bearer nope", http.StatusUnauthorized},
		{"missing permission", "Bearer " + viewerToken, http.StatusForbidden},
		{"admin", "Bearer " + token, http.StatusOK},
		{"lowercase scheme", "bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/admin/thing", nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, admin.Email, rec.Body.String())
			}
		})
	}
}

func TestRequireAdmin_Inactive(t *testing.T) {
	e, authSvc, repo, admin := newAuthEcho(t, "")
	token, _, err := authSvc.Tokens().Issue(admin)
	require.NoError(t, err)
	require.NoError(t, repo.SetAdminUserActive(context.Background(), admin.ID, false))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/thing", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc", "abc"},
		{"Bearer  abc ", "abc"},
		{"Token abc", ""},
		{"Bearer", ""},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(echo.HeaderAuthorization, tt.header)
			assert.Equal(t, tt.want, middleware.BearerToken(req))
		})
	}
}

func TestLocale(t *testing.T) {
	require.NoError(t, i18n.Init())

	e := echo.New()
	e.Use(middleware.Locale())

	var locale string
	e.GET("/", func(c echo.Context) error {
		locale = i18n.GetLocale(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})

	t.Run("English header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Accept-Language", "en-US")
		e.ServeHTTP(httptest.NewRecorder(), req)

		assert.True(t, strings.HasPrefix(locale, "en"), "expected locale to start with 'en', got %s", locale)
	})

	t.Run("German header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Accept-Language", "de-DE")
		e.ServeHTTP(httptest.NewRecorder(), req)

		assert.True(t, strings.HasPrefix(locale, "de"), "expected locale to start with 'de', got %s", locale)
	})
}

func TestStripTrailingSlash(t *testing.T) {
	e := echo.New()
	e.Pre(middleware.StripTrailingSlash())
	e.GET("/gallery", func(c echo.Context) error { return c.String(http.StatusOK, "get") })
	e.POST("/api/images", func(c echo.Context) error { return c.String(http.StatusOK, "post") })
	e.GET("/", func(c echo.Context) error { return c.String(http.StatusOK, "root") })

	t.Run("GET redirects and keeps the query", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/gallery/?page=2", nil))

		assert.Equal(t, http.StatusMovedPermanently, rec.Code)
		assert.Equal(t, "/gallery?page=2", rec.Header().Get("Location"))
	})

	t.Run("POST is rewritten", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/images/", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "post", rec.Body.String())
	})

	t.Run("root is untouched", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
