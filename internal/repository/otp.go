// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vinovest/sqlx"

	"codeberg.org/capsera/capsera/internal/models"
)

// CreateOTP inserts a new OTP record.
func (r *Repository) CreateOTP(ctx context.Context, otp *models.OTP) error {
	if otp.ID == "" {
		otp.ID = uuid.NewString()
	}
	otp.ExpiresAt = utc(otp.ExpiresAt)
	otp.CreatedAt = utc(otp.CreatedAt)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO otps (id, email, code, attempts, verified, expires_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		otp.ID, otp.Email, otp.Code, otp.Attempts, otp.Verified, otp.ExpiresAt, otp.CreatedAt)
	return wrapError(err)
}

// GetOTPByEmail retrieves the OTP record for an email.
func (r *Repository) GetOTPByEmail(ctx context.Context, email string) (*models.OTP, error) {
	var otp models.OTP
	if err := r.db.GetContext(ctx, &otp, `SELECT * FROM otps WHERE email = ?`, email); err != nil {
		return nil, wrapError(err)
	}
	return &otp, nil
}

// DeleteOTPsByEmail removes every OTP record for an email.
func (r *Repository) DeleteOTPsByEmail(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM otps WHERE email = ?`, email)
	return err
}

// IncrementOTPAttempts increments attempts of an unexpired record below maxAttempts
// and returns the updated record. ErrNotFound means nothing qualified.
func (r *Repository) IncrementOTPAttempts(ctx context.Context, email string, now time.Time, maxAttempts int) (*models.OTP, error) {
	var otp models.OTP
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE otps SET attempts = attempts + 1 WHERE email = ? AND attempts < ? AND expires_at > ?`,
			email, maxAttempts, utc(now))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return tx.GetContext(ctx, &otp, `SELECT * FROM otps WHERE email = ?`, email)
	})
	if err != nil {
		return nil, wrapError(err)
	}
	return &otp, nil
}

// MarkOTPVerified flags an OTP as verified.
func (r *Repository) MarkOTPVerified(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE otps SET verified = 1, verified_at = ? WHERE id = ?`, utc(at), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindVerifiedOTP returns the verified, unexpired record matching email and code.
func (r *Repository) FindVerifiedOTP(ctx context.Context, email, code string, now time.Time) (*models.OTP, error) {
	var otp models.OTP
	err := r.db.GetContext(ctx, &otp,
		`SELECT * FROM otps WHERE email = ? AND code = ? AND verified = 1 AND expires_at > ?`,
		email, code, utc(now))
	if err != nil {
		return nil, wrapError(err)
	}
	return &otp, nil
}

// DeleteExpiredOTPs removes OTPs past their TTL.
func (r *Repository) DeleteExpiredOTPs(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM otps WHERE expires_at <= ?`, utc(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// HitRateLimit counts one request for key. The counter restarts at 1 once the
// previous window has passed.
func (r *Repository) HitRateLimit(ctx context.Context, key string, window time.Duration, now time.Time) (*models.RateLimit, error) {
	now = utc(now)
	var rl models.RateLimit
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO otp_rate_limits (key, count, reset_time) VALUES (?, 1, ?)
			ON CONFLICT(key) DO UPDATE SET
				count = CASE WHEN otp_rate_limits.reset_time < ? THEN 1 ELSE otp_rate_limits.count + 1 END,
				reset_time = CASE WHEN otp_rate_limits.reset_time < ? THEN excluded.reset_time ELSE otp_rate_limits.reset_time END`,
			key, now.Add(window), now, now)
		if err != nil {
			return err
		}
		return tx.GetContext(ctx, &rl, `SELECT * FROM otp_rate_limits WHERE key = ?`, key)
	})
	if err != nil {
		return nil, wrapError(err)
	}
	return &rl, nil
}

// DeleteRateLimit clears the counter for key.
func (r *Repository) DeleteRateLimit(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM otp_rate_limits WHERE key = ?`, key)
	return err
}
