// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// Singleton setting keys.
const (
	SettingMaintenanceMode = "maintenance_mode"
	SettingSystemLockPIN   = "system_lock_pin"
)

// MaintenanceSettings is the value of the maintenance_mode singleton.
type MaintenanceSettings struct { //nolint:govet // fieldalignment: readability over optimization
	Enabled       bool       `json:"enabled" bson:"enabled"`
	AllowedIPs    StringList `json:"allowedIPs" bson:"allowedIPs"`
	AllowedEmails StringList `json:"allowedEmails" bson:"allowedEmails"`
	Message       string     `json:"message" bson:"message"`
	EstimatedTime string     `json:"estimatedTime" bson:"estimatedTime"`
	UpdatedAt     time.Time  `json:"updatedAt" bson:"updatedAt"`
}

// SystemLockPIN is the bcrypt hashed PIN that guards admin setup.
type SystemLockPIN struct {
	Hash      string    `json:"-" bson:"value"`
	IsActive  bool      `json:"isActive" bson:"isActive"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}
