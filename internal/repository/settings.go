// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codeberg.org/capsera/capsera/internal/models"
)

type settingRow struct {
	Key       string    `db:"key"`
	Value     string    `db:"value"`
	IsActive  bool      `db:"is_active"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *Repository) getSetting(ctx context.Context, key string) (*settingRow, error) {
	var row settingRow
	if err := r.db.GetContext(ctx, &row, `SELECT * FROM system_settings WHERE key = ?`, key); err != nil {
		return nil, wrapError(err)
	}
	return &row, nil
}

func (r *Repository) saveSetting(ctx context.Context, row settingRow) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO system_settings (key, value, is_active, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, is_active = excluded.is_active, updated_at = excluded.updated_at`,
		row.Key, row.Value, row.IsActive, utc(row.UpdatedAt))
	return err
}

// GetMaintenanceSettings loads the maintenance_mode singleton.
func (r *Repository) GetMaintenanceSettings(ctx context.Context) (*models.MaintenanceSettings, error) {
	row, err := r.getSetting(ctx, models.SettingMaintenanceMode)
	if err != nil {
		return nil, err
	}
	var settings models.MaintenanceSettings
	if err := json.Unmarshal([]byte(row.Value), &settings); err != nil {
		return nil, fmt.Errorf("decode maintenance settings: %w", err)
	}
	return &settings, nil
}

// SaveMaintenanceSettings replaces the maintenance_mode singleton.
func (r *Repository) SaveMaintenanceSettings(ctx context.Context, settings *models.MaintenanceSettings) error {
	settings.UpdatedAt = utc(settings.UpdatedAt)
	value, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode maintenance settings: %w", err)
	}
	return r.saveSetting(ctx, settingRow{
		Key:       models.SettingMaintenanceMode,
		Value:     string(value),
		IsActive:  true,
		UpdatedAt: settings.UpdatedAt,
	})
}

// GetSystemLockPIN loads the system_lock_pin singleton.
func (r *Repository) GetSystemLockPIN(ctx context.Context) (*models.SystemLockPIN, error) {
	row, err := r.getSetting(ctx, models.SettingSystemLockPIN)
	if err != nil {
		return nil, err
	}
	return &models.SystemLockPIN{Hash: row.Value, IsActive: row.IsActive, UpdatedAt: row.UpdatedAt}, nil
}

// SaveSystemLockPIN replaces the system_lock_pin singleton.
func (r *Repository) SaveSystemLockPIN(ctx context.Context, pin *models.SystemLockPIN) error {
	return r.saveSetting(ctx, settingRow{
		Key:       models.SettingSystemLockPIN,
		Value:     pin.Hash,
		IsActive:  pin.IsActive,
		UpdatedAt: pin.UpdatedAt,
	})
}
