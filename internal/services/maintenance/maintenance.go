// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package maintenance decides whether requests pass while the site is in
// maintenance and manages emergency access tokens for allow-listed people.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"codeberg.org/capsera/capsera/internal/config"
	"codeberg.org/capsera/capsera/internal/models"
	"codeberg.org/capsera/capsera/internal/repository"
)

// Decision reasons.
const (
	ReasonDisabled     = "disabled"
	ReasonIPAllowed    = "ip_allowed"
	ReasonEmailAllowed = "email_allowed"
	ReasonBlocked      = "maintenance"
	ReasonUnavailable  = "settings_unavailable"
)

const defaultMessage = "We are performing scheduled maintenance. Please check back soon."

// Store is the persistence the maintenance service needs.
type Store interface {
	GetMaintenanceSettings(ctx context.Context) (*models.MaintenanceSettings, error)
	SaveMaintenanceSettings(ctx context.Context, settings *models.MaintenanceSettings) error
	CreateEmergencyToken(ctx context.Context, token *models.EmergencyToken) error
	ConsumeEmergencyToken(ctx context.Context, tokenHash string, now time.Time) (*models.EmergencyToken, error)
	CountActiveEmergencyTokens(ctx context.Context, email string, now time.Time) (int, error)
	CountEmergencyTokensByIP(ctx context.Context, ip string, since time.Time) (int, error)
	EmergencyTokenStats(ctx context.Context, now, since time.Time) (*models.EmergencyTokenStats, error)
	ListEmergencyTokens(ctx context.Context, limit int) ([]models.EmergencyToken, error)
	DeleteExpiredEmergencyTokens(ctx context.Context, now time.Time) (int64, error)
}

// Request is what the gate knows about a caller.
type Request struct {
	IP    string
	Email string
}

// Decision is the gate's answer for one request.
type Decision struct {
	Allowed       bool   `json:"allowed"`
	Reason        string `json:"reason"`
	Message       string `json:"message,omitempty"`
	EstimatedTime string `json:"estimatedTime,omitempty"`
}

// SettingsUpdate carries the fields an admin changes; nil fields are left alone.
type SettingsUpdate struct {
	Enabled       *bool     `json:"enabled"`
	AllowedIPs    *[]string `json:"allowedIPs"`
	AllowedEmails *[]string `json:"allowedEmails"`
	Message       *string   `json:"message"`
	EstimatedTime *string   `json:"estimatedTime"`
}

type Service struct {
	store     Store
	defaults  config.MaintenanceConfig
	emergency config.EmergencyConfig
	now       func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, defaults config.MaintenanceConfig, emergency config.EmergencyConfig, opts ...Option) *Service {
	if emergency.TokenLength <= 0 {
		emergency.TokenLength = 32
	}
	if emergency.TokenTTL <= 0 {
		emergency.TokenTTL = 24 * time.Hour
	}
	s := &Service{store: store, defaults: defaults, emergency: emergency, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settings returns the stored settings, or the configured defaults when none are stored.
func (s *Service) Settings(ctx context.Context) (*models.MaintenanceSettings, error) {
	settings, err := s.store.GetMaintenanceSettings(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return s.fallback(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load maintenance settings: %w", err)
	}
	return settings, nil
}

func (s *Service) fallback() *models.MaintenanceSettings {
	return &models.MaintenanceSettings{
		Enabled:       s.defaults.Enabled,
		AllowedIPs:    cleanIPs(s.defaults.AllowedIPs),
		AllowedEmails: cleanEmails(s.defaults.AllowedEmails),
		Message:       s.defaults.Message,
		EstimatedTime: s.defaults.EstimatedTime,
	}
}

// UpdateSettings applies an admin change and stamps updatedAt.
func (s *Service) UpdateSettings(ctx context.Context, update SettingsUpdate) (*models.MaintenanceSettings, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}

	if update.Enabled != nil {
		settings.Enabled = *update.Enabled
	}
	if update.AllowedIPs != nil {
		settings.AllowedIPs = cleanIPs(*update.AllowedIPs)
	}
	if update.AllowedEmails != nil {
		settings.AllowedEmails = cleanEmails(*update.AllowedEmails)
	}
	if update.Message != nil {
		settings.Message = strings.TrimSpace(*update.Message)
	}
	if update.EstimatedTime != nil {
		settings.EstimatedTime = strings.TrimSpace(*update.EstimatedTime)
	}
	settings.UpdatedAt = s.now().UTC()

	if err := s.store.SaveMaintenanceSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("failed to save maintenance settings: %w", err)
	}

	slog.Info("maintenance settings updated",
		"enabled", settings.Enabled,
		"allowed_ips", len(settings.AllowedIPs),
		"allowed_emails", len(settings.AllowedEmails))
	return settings, nil
}

// Check decides whether req may pass. Storage failures let the request through
// so admins can still reach the switch.
func (s *Service) Check(ctx context.Context, req Request) Decision {
	settings, err := s.Settings(ctx)
	if err != nil {
		slog.Warn("maintenance check failed open", "error", err)
		return Decision{Allowed: true, Reason: ReasonUnavailable}
	}
	return Evaluate(settings, req)
}

// Evaluate is the gate predicate over already loaded settings.
func Evaluate(settings *models.MaintenanceSettings, req Request) Decision {
	if !settings.Enabled {
		return Decision{Allowed: true, Reason: ReasonDisabled}
	}
	if ipAllowed(settings.AllowedIPs, req.IP) {
		return Decision{Allowed: true, Reason: ReasonIPAllowed}
	}
	if settings.AllowedEmails.ContainsFold(req.Email) {
		return Decision{Allowed: true, Reason: ReasonEmailAllowed}
	}

	message := settings.Message
	if message == "" {
		message = defaultMessage
	}
	return Decision{
		Allowed:       false,
		Reason:        ReasonBlocked,
		Message:       message,
		EstimatedTime: settings.EstimatedTime,
	}
}

// ipAllowed matches exact addresses and CIDR prefixes.
func ipAllowed(allowed []string, ip string) bool {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return false
	}
	addr, addrErr := netip.ParseAddr(ip)
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == ip {
			return true
		}
		if addrErr != nil || !strings.Contains(entry, "/") {
			continue
		}
		if prefix, err := netip.ParsePrefix(entry); err == nil && prefix.Contains(addr.Unmap()) {
			return true
		}
	}
	return false
}

func cleanIPs(values []string) models.StringList {
	out := models.StringList{}
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func cleanEmails(values []string) models.StringList {
	out := models.StringList{}
	for _, v := range values {
		if v = models.NormalizeEmail(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
