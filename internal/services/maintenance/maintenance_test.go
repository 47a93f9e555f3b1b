// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package maintenance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/capsera/capsera/internal/config"
	"codeberg.org/capsera/capsera/internal/models"
	"codeberg.org/capsera/capsera/internal/repository"
	"codeberg.org/capsera/capsera/internal/services/maintenance"
	"codeberg.org/capsera/capsera/internal/testutil"
)

func emergencyConfig() config.EmergencyConfig {
	return config.EmergencyConfig{
		TokenLength:       32,
		TokenTTL:          24 * time.Hour,
		MaxActivePerEmail: 3,
		MaxPerIPPerHour:   5,
	}
}

func newTestService(t *testing.T, defaults config.MaintenanceConfig) (*maintenance.Service, *repository.Repository, *testutil.Clock) {
	t.Helper()
	_, repo := testutil.NewTestDB(t)
	clock := testutil.NewClock()
	svc := maintenance.NewService(repo, defaults, emergencyConfig(), maintenance.WithClock(clock.Now))
	return svc, repo, clock
}

func enable(t *testing.T, svc *maintenance.Service, emails ...string) {
	t.Helper()
	enabled := true
	_, err := svc.UpdateSettings(context.Background(), maintenance.SettingsUpdate{
		Enabled:       &enabled,
		AllowedEmails: &emails,
	})
	require.NoError(t, err)
}

func TestSettings_FallsBackToConfig(t *testing.T) {
	svc, _, _ := newTestService(t, config.MaintenanceConfig{
		Enabled:       true,
		AllowedIPs:    []string{" 10.0.0.1 "},
		AllowedEmails: []string{"VIP@x.com"},
		Message:       "Upgrading",
	})

	settings, err := svc.Settings(context.Background())

	require.NoError(t, err)
	assert.True(t, settings.Enabled)
	assert.Equal(t, models.StringList{"10.0.0.1"}, settings.AllowedIPs)
	assert.Equal(t, models.StringList{"vip@x.com"}, settings.AllowedEmails)
	assert.Equal(t, "Upgrading", settings.Message)
}

func TestUpdateSettings(t *testing.T) {
	svc, repo, clock := newTestService(t, config.MaintenanceConfig{Message: "default"})
	ctx := context.Background()

	enabled := true
	ips := []string{"10.0.0.1", " "}
	settings, err := svc.UpdateSettings(ctx, maintenance.SettingsUpdate{Enabled: &enabled, AllowedIPs: &ips})
	require.NoError(t, err)
	assert.True(t, settings.Enabled)
	assert.Equal(t, models.StringList{"10.0.0.1"}, settings.AllowedIPs)
	assert.Equal(t, "default", settings.Message, "untouched fields keep their value")
	assert.WithinDuration(t, clock.Now(), settings.UpdatedAt, time.Millisecond)

	stored, err := repo.GetMaintenanceSettings(ctx)
	require.NoError(t, err)
	assert.True(t, stored.Enabled)
}

func TestEvaluate(t *testing.T) {
	settings := &models.MaintenanceSettings{
		Enabled:       true,
		AllowedIPs:    models.StringList{"10.0.0.1", "192.168.0.0/16"},
		AllowedEmails: models.StringList{"vip@x.com"},
		EstimatedTime: "30 minutes",
	}

	tests := []struct {
		name    string
		req     maintenance.Request
		allowed bool
		reason  string
	}{
		{"exact ip", maintenance.Request{IP: "10.0.0.1"}, true, maintenance.ReasonIPAllowed},
		{"cidr ip", maintenance.Request{IP: "192.168.4.20"}, true, maintenance.ReasonIPAllowed},
		{"email case-insensitive", maintenance.Request{IP: "8.8.8.8", Email: "VIP@x.com"}, true, maintenance.ReasonEmailAllowed},
		{"unknown", maintenance.Request{IP: "8.8.8.8", Email: "guest@x.com"}, false, maintenance.ReasonBlocked},
		{"anonymous", maintenance.Request{IP: "8.8.8.8"}, false, maintenance.ReasonBlocked},
		{"garbage ip", maintenance.Request{IP: "not-an-ip"}, false, maintenance.ReasonBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := maintenance.Evaluate(settings, tt.req)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}

	blocked := maintenance.Evaluate(settings, maintenance.Request{IP: "8.8.8.8"})
	assert.NotEmpty(t, blocked.Message)
	assert.Equal(t, "30 minutes", blocked.EstimatedTime)
}

func TestEvaluate_Disabled(t *testing.T) {
	d := maintenance.Evaluate(&models.MaintenanceSettings{}, maintenance.Request{IP: "8.8.8.8"})

	assert.True(t, d.Allowed)
	assert.Equal(t, maintenance.ReasonDisabled, d.Reason)
}

type failingStore struct {
	maintenance.Store
}

func (failingStore) GetMaintenanceSettings(context.Context) (*models.MaintenanceSettings, error) {
	return nil, errors.New("connection refused")
}

func TestCheck_FailsOpen(t *testing.T) {
	svc := maintenance.NewService(failingStore{}, config.MaintenanceConfig{Enabled: true}, emergencyConfig())

	d := svc.Check(context.Background(), maintenance.Request{IP: "8.8.8.8"})

	assert.True(t, d.Allowed)
	assert.Equal(t, maintenance.ReasonUnavailable, d.Reason)
}

func TestCheck_UsesStoredSettings(t *testing.T) {
	svc, _, _ := newTestService(t, config.MaintenanceConfig{})
	ctx := context.Background()

	assert.True(t, svc.Check(ctx, maintenance.Request{IP: "8.8.8.8"}).Allowed)

	enable(t, svc, "vip@x.com")

	assert.False(t, svc.Check(ctx, maintenance.Request{IP: "8.8.8.8"}).Allowed)
	assert.True(t, svc.Check(ctx, maintenance.Request{IP: "8.8.8.8", Email: "vip@x.com"}).Allowed)
}
