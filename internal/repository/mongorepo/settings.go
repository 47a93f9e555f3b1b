// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package mongorepo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"codeberg.org/capsera/capsera/internal/models"
)

type settingDoc struct {
	Key       string        `bson:"key"`
	Value     bson.RawValue `bson:"value"`
	IsActive  bool          `bson:"isActive"`
	UpdatedAt time.Time     `bson:"updatedAt"`
}

func (r *Repository) getSetting(ctx context.Context, key string) (*settingDoc, error) {
	var doc settingDoc
	if err := r.settings.FindOne(ctx, bson.M{"key": key}).Decode(&doc); err != nil {
		return nil, wrapError(err)
	}
	return &doc, nil
}

func (r *Repository) saveSetting(ctx context.Context, key string, value any, active bool, at time.Time) error {
	update := bson.M{"$set": bson.M{
		"key":       key,
		"value":     value,
		"isActive":  active,
		"updatedAt": at,
	}}
	_, err := r.settings.UpdateOne(ctx, bson.M{"key": key}, update, options.Update().SetUpsert(true))
	return err
}

func (r *Repository) GetMaintenanceSettings(ctx context.Context) (*models.MaintenanceSettings, error) {
	doc, err := r.getSetting(ctx, models.SettingMaintenanceMode)
	if err != nil {
		return nil, err
	}
	var settings models.MaintenanceSettings
	if err := doc.Value.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("decode maintenance settings: %w", err)
	}
	return &settings, nil
}

func (r *Repository) SaveMaintenanceSettings(ctx context.Context, settings *models.MaintenanceSettings) error {
	return r.saveSetting(ctx, models.SettingMaintenanceMode, settings, true, settings.UpdatedAt)
}

func (r *Repository) GetSystemLockPIN(ctx context.Context) (*models.SystemLockPIN, error) {
	doc, err := r.getSetting(ctx, models.SettingSystemLockPIN)
	if err != nil {
		return nil, err
	}
	hash, ok := doc.Value.StringValueOK()
	if !ok {
		return nil, fmt.Errorf("decode system lock pin: unexpected %s value", doc.Value.Type)
	}
	return &models.SystemLockPIN{Hash: hash, IsActive: doc.IsActive, UpdatedAt: doc.UpdatedAt}, nil
}

func (r *Repository) SaveSystemLockPIN(ctx context.Context, pin *models.SystemLockPIN) error {
	return r.saveSetting(ctx, models.SettingSystemLockPIN, pin.Hash, pin.IsActive, pin.UpdatedAt)
}
