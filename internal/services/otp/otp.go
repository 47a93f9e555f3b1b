// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package otp issues and verifies short-lived numeric codes bound to an email address.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/mail"
	"time"

	"codeberg.org/capsera/capsera/internal/config"
	"codeberg.org/capsera/capsera/internal/models"
	"codeberg.org/capsera/capsera/internal/repository"
)

const (
	codeMin   = 100000
	codeRange = 900000
)

var (
	ErrInvalidEmail    = errors.New("invalid email format")
	ErrRateLimited     = errors.New("too many OTP requests, try again later")
	ErrNotFound        = errors.New("no OTP found for this email")
	ErrExpired         = errors.New("OTP has expired")
	ErrTooManyAttempts = errors.New("too many failed attempts, request a new OTP")
	ErrLocked          = errors.New("OTP locked after too many failed attempts")
	ErrInvalidCode     = errors.New("invalid OTP")
	ErrNotVerified     = errors.New("OTP not verified")
	ErrCodeRequired    = errors.New("OTP is required")
)

var errRecordReplaced = errors.New("otp record replaced during verification")

// InvalidCodeError reports a mismatch that still leaves attempts.
type InvalidCodeError struct {
	Remaining int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("invalid OTP, %d attempt(s) remaining", e.Remaining)
}

// Is makes errors.Is(err, ErrInvalidCode) match.
func (e *InvalidCodeError) Is(target error) bool {
	return target == ErrInvalidCode
}

// Store is the persistence the OTP service needs.
type Store interface {
	CreateOTP(ctx context.Context, otp *models.OTP) error
	GetOTPByEmail(ctx context.Context, email string) (*models.OTP, error)
	DeleteOTPsByEmail(ctx context.Context, email string) error
	IncrementOTPAttempts(ctx context.Context, email string, now time.Time, maxAttempts int) (*models.OTP, error)
	MarkOTPVerified(ctx context.Context, id string, at time.Time) error
	FindVerifiedOTP(ctx context.Context, email, code string, now time.Time) (*models.OTP, error)
	DeleteExpiredOTPs(ctx context.Context, now time.Time) (int64, error)
	HitRateLimit(ctx context.Context, key string, window time.Duration, now time.Time) (*models.RateLimit, error)
	DeleteRateLimit(ctx context.Context, key string) error
}

type Service struct {
	store Store
	cfg   config.OTPConfig
	now   func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, cfg config.OTPConfig, opts ...Option) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Hour
	}
	s := &Service{store: store, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxAttempts returns the verification budget per code.
func (s *Service) MaxAttempts() int {
	return s.cfg.MaxAttempts
}

// TTL returns how long a code stays valid.
func (s *Service) TTL() time.Duration {
	return s.cfg.TTL
}

// Generate replaces any code for email with a fresh one and returns it in plain text.
// Delivering the code is up to the caller.
func (s *Service) Generate(ctx context.Context, email string) (string, error) {
	email, err := normalize(email)
	if err != nil {
		return "", err
	}
	now := s.now()

	if s.cfg.RateLimitEnabled {
		rl, err := s.store.HitRateLimit(ctx, email, s.cfg.RateLimitWindow, now)
		if err != nil {
			return "", fmt.Errorf("failed to check rate limit: %w", err)
		}
		if rl.Count > s.cfg.RateLimit {
			slog.Warn("otp rate limited", "email", email, "count", rl.Count)
			return "", ErrRateLimited
		}
	}

	if err := s.store.DeleteOTPsByEmail(ctx, email); err != nil {
		return "", fmt.Errorf("failed to delete previous OTP: %w", err)
	}

	code, err := generateCode()
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP: %w", err)
	}

	record := &models.OTP{
		Email:     email,
		Code:      code,
		ExpiresAt: now.Add(s.cfg.TTL),
		CreatedAt: now,
	}
	if err := s.store.CreateOTP(ctx, record); err != nil {
		return "", fmt.Errorf("failed to store OTP: %w", err)
	}

	slog.Info("otp issued", "email", email, "expires_at", record.ExpiresAt)
	return code, nil
}

// Verify spends one attempt on code. A match marks the record verified and keeps it.
func (s *Service) Verify(ctx context.Context, email, code string) (*models.OTP, error) {
	email, err := normalize(email)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, ErrCodeRequired
	}
	now := s.now()
	maxAttempts := s.cfg.MaxAttempts

	record, err := s.store.IncrementOTPAttempts(ctx, email, now, maxAttempts)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, s.explainRejected(ctx, email, now)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record OTP attempt: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(record.Code), []byte(code)) == 1 {
		if err := s.store.MarkOTPVerified(ctx, record.ID, now); err != nil {
			return nil, fmt.Errorf("failed to mark OTP verified: %w", err)
		}
		record.Verified = true
		record.VerifiedAt = &now
		slog.Info("otp verified", "email", email)
		return record, nil
	}

	if record.Attempts >= maxAttempts {
		if err := s.store.DeleteOTPsByEmail(ctx, email); err != nil {
			return nil, fmt.Errorf("failed to delete locked OTP: %w", err)
		}
		slog.Warn("otp locked", "email", email)
		return nil, ErrLocked
	}

	remaining := maxAttempts - record.Attempts
	slog.Warn("otp mismatch", "email", email, "remaining", remaining)
	return nil, &InvalidCodeError{Remaining: remaining}
}

// explainRejected works out why the conditional increment matched nothing.
func (s *Service) explainRejected(ctx context.Context, email string, now time.Time) error {
	record, err := s.store.GetOTPByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load OTP: %w", err)
	}

	switch {
	case record.IsExpired(now):
		if err := s.store.DeleteOTPsByEmail(ctx, email); err != nil {
			return fmt.Errorf("failed to delete expired OTP: %w", err)
		}
		return ErrExpired
	case record.Attempts >= s.cfg.MaxAttempts:
		// a verified record stays usable for CheckVerified until consumed
		if record.Verified {
			return ErrTooManyAttempts
		}
		if err := s.store.DeleteOTPsByEmail(ctx, email); err != nil {
			return fmt.Errorf("failed to delete exhausted OTP: %w", err)
		}
		return ErrTooManyAttempts
	default:
		// replaced by a concurrent Generate between the two queries
		return errRecordReplaced
	}
}

// CheckVerified succeeds when a verified, unexpired record matches email and code.
func (s *Service) CheckVerified(ctx context.Context, email, code string) error {
	email, err := normalize(email)
	if err != nil {
		return err
	}
	if code == "" {
		return ErrCodeRequired
	}
	_, err = s.store.FindVerifiedOTP(ctx, email, code, s.now())
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotVerified
	}
	if err != nil {
		return fmt.Errorf("failed to check OTP: %w", err)
	}
	return nil
}

// VerifyOrCheck verifies code and falls back to an earlier verification of the same code.
func (s *Service) VerifyOrCheck(ctx context.Context, email, code string) error {
	_, err := s.Verify(ctx, email, code)
	if err == nil {
		return nil
	}
	if checkErr := s.CheckVerified(ctx, email, code); checkErr == nil {
		return nil
	}
	return err
}

// Consume removes the record for email whether or not it was verified.
func (s *Service) Consume(ctx context.Context, email string) error {
	email, err := normalize(email)
	if err != nil {
		return err
	}
	if err := s.store.DeleteOTPsByEmail(ctx, email); err != nil {
		return fmt.Errorf("failed to consume OTP: %w", err)
	}
	slog.Info("otp consumed", "email", email)
	return nil
}

// HasValid reports whether an unexpired code with attempts left exists for email.
func (s *Service) HasValid(ctx context.Context, email string) (bool, error) {
	email, err := normalize(email)
	if err != nil {
		return false, err
	}
	record, err := s.store.GetOTPByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load OTP: %w", err)
	}
	return !record.IsExpired(s.now()) && record.Attempts < s.cfg.MaxAttempts, nil
}

// ResetRateLimit clears the request counter for email.
func (s *Service) ResetRateLimit(ctx context.Context, email string) error {
	email, err := normalize(email)
	if err != nil {
		return err
	}
	return s.store.DeleteRateLimit(ctx, email)
}

// PurgeExpired deletes expired codes.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredOTPs(ctx, s.now())
}

func normalize(email string) (string, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return "", ErrInvalidEmail
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// generateCode returns a uniformly distributed code in 100000-999999.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeRange))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}
