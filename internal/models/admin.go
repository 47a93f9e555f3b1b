// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// AdminUser is a back office account.
type AdminUser struct { //nolint:govet // fieldalignment: readability over optimization
	ID           string     `db:"id" bson:"_id" json:"id"`
	Email        string     `db:"email" bson:"email" json:"email"`
	Name         string     `db:"name" bson:"name" json:"name"`
	PasswordHash string     `db:"password_hash" bson:"password" json:"-"`
	Role         string     `db:"role" bson:"role" json:"role"`
	IsActive     bool       `db:"is_active" bson:"isActive" json:"is_active"`
	LastLoginAt  *time.Time `db:"last_login_at" bson:"lastLoginAt,omitempty" json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" bson:"createdAt" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" bson:"updatedAt" json:"updated_at"`
}

// Role is a named permission set; lower priority values rank higher.
type Role struct { //nolint:govet // fieldalignment: readability over optimization
	ID          string     `db:"id" bson:"_id" json:"id"`
	Name        string     `db:"name" bson:"name" json:"name"`
	DisplayName string     `db:"display_name" bson:"displayName" json:"display_name"`
	Priority    int        `db:"priority" bson:"priority" json:"priority"`
	Permissions StringList `db:"permissions" bson:"permissions" json:"permissions"`
	CreatedAt   time.Time  `db:"created_at" bson:"createdAt" json:"created_at"`
}

// Can reports whether the role grants perm.
func (r *Role) Can(perm string) bool {
	for _, p := range r.Permissions {
		if p == perm || p == "*" {
			return true
		}
	}
	return false
}
