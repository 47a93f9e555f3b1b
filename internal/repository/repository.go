// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/vinovest/sqlx"

	"codeberg.org/capsera/capsera/internal/models"
)

var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique key already exists
	ErrDuplicate = errors.New("record already exists")
)

// Store is the storage contract shared by the SQLite and MongoDB backends.
type Store interface {
	// OTPs
	CreateOTP(ctx context.Context, otp *models.OTP) error
	GetOTPByEmail(ctx context.Context, email string) (*models.OTP, error)
	DeleteOTPsByEmail(ctx context.Context, email string) error
	IncrementOTPAttempts(ctx context.Context, email string, now time.Time, maxAttempts int) (*models.OTP, error)
	MarkOTPVerified(ctx context.Context, id string, at time.Time) error
	FindVerifiedOTP(ctx context.Context, email, code string, now time.Time) (*models.OTP, error)
	DeleteExpiredOTPs(ctx context.Context, now time.Time) (int64, error)

	// Rate limits
	HitRateLimit(ctx context.Context, key string, window time.Duration, now time.Time) (*models.RateLimit, error)
	DeleteRateLimit(ctx context.Context, key string) error

	// Emergency access
	CreateEmergencyToken(ctx context.Context, token *models.EmergencyToken) error
	ConsumeEmergencyToken(ctx context.Context, tokenHash string, now time.Time) (*models.EmergencyToken, error)
	CountActiveEmergencyTokens(ctx context.Context, email string, now time.Time) (int, error)
	CountEmergencyTokensByIP(ctx context.Context, ip string, since time.Time) (int, error)
	EmergencyTokenStats(ctx context.Context, now, since time.Time) (*models.EmergencyTokenStats, error)
	ListEmergencyTokens(ctx context.Context, limit int) ([]models.EmergencyToken, error)
	DeleteExpiredEmergencyTokens(ctx context.Context, now time.Time) (int64, error)

	// System settings
	GetMaintenanceSettings(ctx context.Context) (*models.MaintenanceSettings, error)
	SaveMaintenanceSettings(ctx context.Context, settings *models.MaintenanceSettings) error
	GetSystemLockPIN(ctx context.Context) (*models.SystemLockPIN, error)
	SaveSystemLockPIN(ctx context.Context, pin *models.SystemLockPIN) error

	// Admin users and roles
	CreateAdminUser(ctx context.Context, user *models.AdminUser) error
	GetAdminUserByEmail(ctx context.Context, email string) (*models.AdminUser, error)
	GetAdminUserByID(ctx context.Context, id string) (*models.AdminUser, error)
	CountAdminUsers(ctx context.Context) (int64, error)
	ListAdminUsers(ctx context.Context) ([]models.AdminUser, error)
	UpdateAdminLastLogin(ctx context.Context, id string, at time.Time) error
	SetAdminUserActive(ctx context.Context, id string, active bool) error
	UpdateAdminRole(ctx context.Context, id, role string) error
	GetRoleByName(ctx context.Context, name string) (*models.Role, error)
	CreateRole(ctx context.Context, role *models.Role) error
	ListRoles(ctx context.Context) ([]models.Role, error)

	Ping(ctx context.Context) error
	Close() error
}

var _ Store = (*Repository)(nil)

// Repository implements Store on SQLite.
type Repository struct {
	db *sqlx.DB
}

// New creates a new Repository instance
func New(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// DB returns the underlying connection for direct access
func (r *Repository) DB() *sqlx.DB {
	return r.db
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// wrapError converts driver errors to repository errors
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicate
	}
	return err
}

// inTx runs fn inside a transaction and commits when fn succeeds.
func (r *Repository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// utc normalizes timestamps so stored values compare lexically.
func utc(t time.Time) time.Time {
	return t.UTC()
}
