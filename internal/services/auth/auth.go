// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package auth authenticates back office admins.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"codeberg.org/capsera/capsera/internal/models"
	"codeberg.org/capsera/capsera/internal/repository"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactive           = errors.New("admin account is disabled")
)

// dummyHash is used for constant-time login to prevent timing attacks
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), bcrypt.DefaultCost)

// Store is the persistence the auth service needs.
type Store interface {
	GetAdminUserByEmail(ctx context.Context, email string) (*models.AdminUser, error)
	GetAdminUserByID(ctx context.Context, id string) (*models.AdminUser, error)
	UpdateAdminLastLogin(ctx context.Context, id string, at time.Time) error
}

type Service struct {
	store  Store
	tokens *TokenIssuer
	now    func() time.Time
}

func NewService(store Store, tokens *TokenIssuer) *Service {
	return &Service{store: store, tokens: tokens, now: time.Now}
}

// Tokens returns the issuer used for admin tokens.
func (s *Service) Tokens() *TokenIssuer {
	return s.tokens
}

// Session is a successful login.
type Session struct {
	Admin     *models.AdminUser
	Token     string
	ExpiresAt time.Time
}

// Login checks credentials and returns a signed token.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = models.NormalizeEmail(email)
	user, err := s.store.GetAdminUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Constant-time: always perform bcrypt comparison to prevent timing attacks
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			slog.Warn("admin login failed", "email", email, "reason", "unknown_email")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get admin: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		slog.Warn("admin login failed", "email", email, "reason", "invalid_password")
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		slog.Warn("admin login failed", "email", email, "reason", "inactive")
		return nil, ErrInactive
	}

	now := s.now()
	if err := s.store.UpdateAdminLastLogin(ctx, user.ID, now); err != nil {
		slog.Error("failed to record admin login", "admin_id", user.ID, "error", err)
	}
	user.LastLoginAt = &now

	token, expiresAt, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}

	slog.Info("admin login", "admin_id", user.ID, "email", email)
	return &Session{Admin: user, Token: token, ExpiresAt: expiresAt}, nil
}

// Authenticate resolves a bearer token to an active admin.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.AdminUser, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetAdminUserByID(ctx, claims.AdminID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load admin: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInactive
	}
	return user, nil
}
