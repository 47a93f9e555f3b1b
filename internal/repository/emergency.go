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

// CreateEmergencyToken stores a hashed emergency access token.
func (r *Repository) CreateEmergencyToken(ctx context.Context, token *models.EmergencyToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	token.ExpiresAt = utc(token.ExpiresAt)
	token.CreatedAt = utc(token.CreatedAt)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO emergency_access (id, token_hash, email, ip_address, used, expires_at, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)`,
		token.ID, token.TokenHash, token.Email, token.IPAddress, token.ExpiresAt, token.CreatedAt)
	return wrapError(err)
}

// ConsumeEmergencyToken marks an unused, unexpired token as used and returns it.
// ErrNotFound covers unknown, used and expired tokens alike.
func (r *Repository) ConsumeEmergencyToken(ctx context.Context, tokenHash string, now time.Time) (*models.EmergencyToken, error) {
	now = utc(now)
	var token models.EmergencyToken
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE emergency_access SET used = 1, used_at = ? WHERE token_hash = ? AND used = 0 AND expires_at > ?`,
			now, tokenHash, now)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return tx.GetContext(ctx, &token, `SELECT * FROM emergency_access WHERE token_hash = ?`, tokenHash)
	})
	if err != nil {
		return nil, wrapError(err)
	}
	return &token, nil
}

// CountActiveEmergencyTokens counts unused, unexpired tokens for an email.
func (r *Repository) CountActiveEmergencyTokens(ctx context.Context, email string, now time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM emergency_access WHERE email = ? AND used = 0 AND expires_at > ?`,
		email, utc(now))
	return count, err
}

// CountEmergencyTokensByIP counts tokens issued to an IP since the given time.
func (r *Repository) CountEmergencyTokensByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM emergency_access WHERE ip_address = ? AND created_at >= ?`,
		ip, utc(since))
	return count, err
}

// EmergencyTokenStats aggregates token states; LastPeriod counts tokens created since since.
func (r *Repository) EmergencyTokenStats(ctx context.Context, now, since time.Time) (*models.EmergencyTokenStats, error) {
	now = utc(now)
	var stats models.EmergencyTokenStats
	err := r.db.GetContext(ctx, &stats, `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN used = 0 AND expires_at > ? THEN 1 ELSE 0 END), 0) AS active,
			COALESCE(SUM(CASE WHEN used = 1 THEN 1 ELSE 0 END), 0) AS used,
			COALESCE(SUM(CASE WHEN used = 0 AND expires_at <= ? THEN 1 ELSE 0 END), 0) AS expired,
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0) AS last_period
		FROM emergency_access`,
		now, now, utc(since))
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// ListEmergencyTokens returns the most recent tokens, newest first.
func (r *Repository) ListEmergencyTokens(ctx context.Context, limit int) ([]models.EmergencyToken, error) {
	if limit <= 0 {
		limit = 1000
	}
	var tokens []models.EmergencyToken
	err := r.db.SelectContext(ctx, &tokens,
		`SELECT * FROM emergency_access ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

// DeleteExpiredEmergencyTokens removes tokens past their TTL.
func (r *Repository) DeleteExpiredEmergencyTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM emergency_access WHERE expires_at <= ?`, utc(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
