// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// OTP is the single live one-time code for an email address.
type OTP struct { //nolint:govet // fieldalignment: readability over optimization
	ID         string     `db:"id" bson:"_id" json:"id"`
	Email      string     `db:"email" bson:"email" json:"email"`
	Code       string     `db:"code" bson:"otp" json:"-"`
	Attempts   int        `db:"attempts" bson:"attempts" json:"attempts"`
	Verified   bool       `db:"verified" bson:"verified" json:"verified"`
	VerifiedAt *time.Time `db:"verified_at" bson:"verifiedAt,omitempty" json:"verified_at,omitempty"`
	ExpiresAt  time.Time  `db:"expires_at" bson:"expiresAt" json:"expires_at"`
	CreatedAt  time.Time  `db:"created_at" bson:"createdAt" json:"created_at"`
}

// IsExpired reports whether the code is past its TTL at now.
func (o *OTP) IsExpired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// RateLimit counts OTP requests for a key within a window.
type RateLimit struct {
	Key       string    `db:"key" bson:"_id" json:"key"`
	Count     int       `db:"count" bson:"count" json:"count"`
	ResetTime time.Time `db:"reset_time" bson:"resetTime" json:"reset_time"`
}
