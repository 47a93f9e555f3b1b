// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// EmergencyToken grants a single maintenance bypass to an allow-listed email.
type EmergencyToken struct { //nolint:govet // fieldalignment: readability over optimization
	ID        string     `db:"id" bson:"_id" json:"id"`
	TokenHash string     `db:"token_hash" bson:"tokenHash" json:"-"` // SHA256 hash
	Email     string     `db:"email" bson:"email" json:"email"`
	IPAddress string     `db:"ip_address" bson:"ipAddress" json:"ip_address"`
	Used      bool       `db:"used" bson:"used" json:"used"`
	UsedAt    *time.Time `db:"used_at" bson:"usedAt,omitempty" json:"used_at,omitempty"`
	ExpiresAt time.Time  `db:"expires_at" bson:"expiresAt" json:"expires_at"`
	CreatedAt time.Time  `db:"created_at" bson:"createdAt" json:"created_at"`
}

// EmergencyTokenStats summarizes emergency access for admins.
type EmergencyTokenStats struct {
	Total      int `db:"total" json:"total"`
	Active     int `db:"active" json:"active"`
	Used       int `db:"used" json:"used"`
	Expired    int `db:"expired" json:"expired"`
	LastPeriod int `db:"last_period" json:"last_24h"`
}
