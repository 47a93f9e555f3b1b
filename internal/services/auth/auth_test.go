// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/capsera/capsera/internal/models"
	"codeberg.org/capsera/capsera/internal/repository"
	"codeberg.org/capsera/capsera/internal/services/auth"
	"codeberg.org/capsera/capsera/internal/testutil"
)

func newTestService(t *testing.T) (*auth.Service, *repository.Repository, *testutil.Clock) {
	t.Helper()
	_, repo := testutil.NewTestDB(t)
	clock := testutil.NewClock()
	tokens, err := auth.NewTokenIssuer("test-secret", time.Hour, clock.Now)
	require.NoError(t, err)
	return auth.NewService(repo, tokens), repo, clock
}

func TestLogin(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	admin := testutil.NewTestAdmin(t, repo, "root@capsera.example", "correct horse battery")

	session, err := svc.Login(ctx, " ROOT@capsera.example ", "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, admin.ID, session.Admin.ID)
	assert.NotEmpty(t, session.Token)
	assert.NotNil(t, session.Admin.LastLoginAt)

	stored, err := repo.GetAdminUserByID(ctx, admin.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLoginAt)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	testutil.NewTestAdmin(t, repo, "root@capsera.example", "correct horse battery")

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "root@capsera.example", "wrong"},
		{"unknown email", "nobody@capsera.example", "correct horse battery"},
		{"empty password", "root@capsera.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(ctx, tt.email, tt.password)
			assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
		})
	}
}

func TestLogin_Inactive(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	admin := testutil.NewTestAdmin(t, repo, "root@capsera.example", "correct horse battery")
	require.NoError(t, repo.SetAdminUserActive(ctx, admin.ID, false))

	_, err := svc.Login(ctx, "root@capsera.example", "correct horse battery")
	assert.ErrorIs(t, err, auth.ErrInactive)
}

func TestAuthenticate(t *testing.T) {
	svc, repo, clock := newTestService(t)
	ctx := context.Background()
	admin := testutil.NewTestAdmin(t, repo, "root@capsera.example", "correct horse battery")

	session, err := svc.Login(ctx, "root@capsera.example", "correct horse battery")
	require.NoError(t, err)

	user, err := svc.Authenticate(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, admin.ID, user.ID)

	t.Run("disabled admin", func(t *testing.T) {
		require.NoError(t, repo.SetAdminUserActive(ctx, admin.ID, false))
		defer func() { require.NoError(t, repo.SetAdminUserActive(ctx, admin.ID, true)) }()
		_, err := svc.Authenticate(ctx, session.Token)
		assert.ErrorIs(t, err, auth.ErrInactive)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.Authenticate(ctx, "not-a-token")
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		clock.Advance(2 * time.Hour)
		_, err := svc.Authenticate(ctx, session.Token)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})
}

func TestTokenIssuer(t *testing.T) {
	clock := testutil.NewClock()
	issuer, err := auth.NewTokenIssuer("secret-a", time.Hour, clock.Now)
	require.NoError(t, err)
	other, err := auth.NewTokenIssuer("secret-b", time.Hour, clock.Now)
	require.NoError(t, err)

	user := &models.AdminUser{ID: "admin-1", Email: "root@capsera.example", Role: "admin"}
	token, expiresAt, err := issuer.Issue(user)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Hour), expiresAt)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", claims.AdminID)
	assert.Equal(t, "root@capsera.example", claims.Email)
	assert.Equal(t, "admin", claims.Role)

	_, err = other.Parse(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestTokenIssuer_EphemeralSecret(t *testing.T) {
	a, err := auth.NewTokenIssuer("", time.Hour, nil)
	require.NoError(t, err)
	b, err := auth.NewTokenIssuer("", time.Hour, nil)
	require.NoError(t, err)

	token, _, err := a.Issue(&models.AdminUser{ID: "admin-1"})
	require.NoError(t, err)
	_, err = a.Parse(token)
	require.NoError(t, err)
	_, err = b.Parse(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}
