// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package testutil provides test helpers and fixtures.
package testutil

import (
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"github.com/vinovest/sqlx"
	"golang.org/x/crypto/bcrypt"

	"codeberg.org/capsera/capsera/internal/database"
	"codeberg.org/capsera/capsera/internal/models"
	"codeberg.org/capsera/capsera/internal/repository"
	"codeberg.org/capsera/capsera/internal/services/jobs"
)

// NewTestDB opens a migrated in-memory SQLite database that is closed when
// the test ends.
func NewTestDB(t *testing.T) (*sqlx.DB, *repository.Repository) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	repo := repository.New(db)
	return db, repo
}

// NewTestFileDB opens a migrated SQLite file in a temporary directory. Unlike
// the in-memory database it allows concurrent connections.
func NewTestFileDB(t *testing.T) (*sqlx.DB, *repository.Repository) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "capsera.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db, repository.New(db)
}

// NewTestAdmin creates an active admin with the given password in the database.
func NewTestAdmin(t *testing.T, repo repository.Store, email, password string) *models.AdminUser {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	user := &models.AdminUser{
		Email:        email,
		Name:         "Test Admin",
		PasswordHash: string(hash),
		Role:         "admin",
		IsActive:     true,
	}
	require.NoError(t, repo.CreateAdminUser(context.Background(), user))
	return user
}

// NewFullQueue returns a queue whose only worker is busy and whose buffer is
// taken, so every further Submit fails with jobs.ErrQueueFull.
func NewFullQueue(t *testing.T) *jobs.Queue {
	t.Helper()
	q := jobs.NewQueue(1, 1)
	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() {
		close(release)
		_ = q.Close(context.Background())
	})

	_, err := q.Submit("block", func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, err)
	<-started
	_, err = q.Submit("fill", func(context.Context) error { return nil })
	require.NoError(t, err)
	return q
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at a fixed UTC instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// NewEchoContext builds a JSON request context for calling a handler directly.
func NewEchoContext(e *echo.Echo, method, path string, body io.Reader) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return c, rec
}
