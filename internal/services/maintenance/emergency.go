// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package maintenance

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"codeberg.org/capsera/capsera/internal/models"
	"codeberg.org/capsera/capsera/internal/repository"
)

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var (
	ErrEmailRequired       = errors.New("email is required")
	ErrTokenRequired       = errors.New("token is required")
	ErrEmailNotAllowed     = errors.New("email is not authorized for emergency access")
	ErrMaintenanceDisabled = errors.New("maintenance mode is not enabled")
	ErrIPRateLimited       = errors.New("too many emergency access requests from this address")
	ErrTooManyActiveTokens = errors.New("too many active emergency tokens for this email")
	ErrInvalidOrExpired    = errors.New("invalid or expired emergency token")
)

// IssuedToken is returned once; only its hash is stored.
type IssuedToken struct {
	Token     string    `json:"token"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RequestEmergencyToken issues a bypass token for an allow-listed email.
func (s *Service) RequestEmergencyToken(ctx context.Context, email, ip string) (*IssuedToken, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, ErrEmailRequired
	}

	settings, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}
	if !settings.AllowedEmails.ContainsFold(email) {
		slog.Warn("emergency access denied", "email", email, "ip", ip)
		return nil, ErrEmailNotAllowed
	}
	if !settings.Enabled {
		return nil, ErrMaintenanceDisabled
	}

	now := s.now()
	if s.emergency.MaxPerIPPerHour > 0 {
		n, err := s.store.CountEmergencyTokensByIP(ctx, ip, now.Add(-time.Hour))
		if err != nil {
			return nil, fmt.Errorf("failed to count tokens by ip: %w", err)
		}
		if n >= s.emergency.MaxPerIPPerHour {
			slog.Warn("emergency access ip limit", "ip", ip, "count", n)
			return nil, ErrIPRateLimited
		}
	}
	if s.emergency.MaxActivePerEmail > 0 {
		n, err := s.store.CountActiveEmergencyTokens(ctx, email, now)
		if err != nil {
			return nil, fmt.Errorf("failed to count active tokens: %w", err)
		}
		if n >= s.emergency.MaxActivePerEmail {
			return nil, ErrTooManyActiveTokens
		}
	}

	token, err := generateToken(s.emergency.TokenLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	record := &models.EmergencyToken{
		TokenHash: HashToken(token),
		Email:     email,
		IPAddress: ip,
		ExpiresAt: now.Add(s.emergency.TokenTTL),
		CreatedAt: now,
	}
	if err := s.store.CreateEmergencyToken(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}

	slog.Info("emergency token issued", "email", email, "ip", ip, "expires_at", record.ExpiresAt)
	return &IssuedToken{Token: token, Email: email, ExpiresAt: record.ExpiresAt}, nil
}

// VerifyEmergencyToken consumes token and returns the email it was issued to.
func (s *Service) VerifyEmergencyToken(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrTokenRequired
	}

	record, err := s.store.ConsumeEmergencyToken(ctx, HashToken(token), s.now())
	if errors.Is(err, repository.ErrNotFound) {
		return "", ErrInvalidOrExpired
	}
	if err != nil {
		return "", fmt.Errorf("failed to consume token: %w", err)
	}

	slog.Info("emergency token consumed", "email", record.Email)
	return record.Email, nil
}

// RevokeEmergencyToken marks an issued token as used so it no longer counts
// toward the active limit. An unknown or already used token is ignored.
func (s *Service) RevokeEmergencyToken(ctx context.Context, token string) error {
	record, err := s.store.ConsumeEmergencyToken(ctx, HashToken(token), s.now())
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	slog.Info("emergency token revoked", "email", record.Email)
	return nil
}

// Stats summarizes emergency access over the last 24 hours.
func (s *Service) Stats(ctx context.Context) (*models.EmergencyTokenStats, error) {
	now := s.now()
	stats, err := s.store.EmergencyTokenStats(ctx, now, now.Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to load token stats: %w", err)
	}
	return stats, nil
}

// RecentTokens lists issued tokens, newest first.
func (s *Service) RecentTokens(ctx context.Context, limit int) ([]models.EmergencyToken, error) {
	return s.store.ListEmergencyTokens(ctx, limit)
}

// PurgeExpired deletes expired tokens.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredEmergencyTokens(ctx, s.now())
}

// HashToken computes the SHA256 hash of a token.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// generateToken draws length characters from tokenAlphabet without modulo bias.
func generateToken(length int) (string, error) {
	const limit = 256 - 256%len(tokenAlphabet)
	out := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}
