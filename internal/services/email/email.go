// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package email delivers the localized notifications of the access flows.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"codeberg.org/capsera/capsera/internal/config"
	"codeberg.org/capsera/capsera/internal/i18n"
)

// Sender is implemented by Service and Noop.
type Sender interface {
	SendOTP(ctx context.Context, to, code string, ttl time.Duration) error
	SendEmergencyToken(ctx context.Context, to, token string, expiresAt time.Time) error
	SendAdminCreated(ctx context.Context, to, name string) error
	SendRoleAssigned(ctx context.Context, to, role string) error
}

// Service sends email via SMTP.
type Service struct {
	cfg     *config.SMTPConfig
	baseURL string
	deliver func(*mail.Msg) error
}

// NewService creates a new email service.
func NewService(cfg *config.SMTPConfig, baseURL string) (*Service, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("SMTP host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("SMTP from address is required")
	}

	s := &Service{
		cfg:     cfg,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
	s.deliver = s.dialAndSend
	return s, nil
}

// SendOTP sends a verification code.
func (s *Service) SendOTP(ctx context.Context, to, code string, ttl time.Duration) error {
	subject := i18n.T(ctx, "email_otp_subject")
	body := i18n.TData(ctx, "email_otp_body", map[string]any{
		"Code":    code,
		"Minutes": int(ttl.Minutes()),
	})
	return s.send(to, subject, body)
}

// SendEmergencyToken sends a single-use link that redeems token.
func (s *Service) SendEmergencyToken(ctx context.Context, to, token string, expiresAt time.Time) error {
	subject := i18n.T(ctx, "email_emergency_subject")
	body := i18n.TData(ctx, "email_emergency_body", map[string]any{
		"AccessURL": s.EmergencyURL(token),
		"ExpiresAt": expiresAt.UTC().Format("2006-01-02 15:04 MST"),
	})
	return s.send(to, subject, body)
}

// SendAdminCreated notifies a freshly created admin.
func (s *Service) SendAdminCreated(ctx context.Context, to, name string) error {
	if name == "" {
		name = to
	}
	subject := i18n.T(ctx, "email_admin_created_subject")
	body := i18n.TData(ctx, "email_admin_created_body", map[string]any{
		"Name":     name,
		"LoginURL": s.baseURL + "/admin",
	})
	return s.send(to, subject, body)
}

// SendRoleAssigned notifies an admin about a role change.
func (s *Service) SendRoleAssigned(ctx context.Context, to, role string) error {
	subject := i18n.T(ctx, "email_role_assigned_subject")
	body := i18n.TData(ctx, "email_role_assigned_body", map[string]any{
		"Role": role,
	})
	return s.send(to, subject, body)
}

// EmergencyURL is the link that redeems an emergency token.
func (s *Service) EmergencyURL(token string) string {
	return s.baseURL + "/api/maintenance/emergency-access?token=" + url.QueryEscape(token)
}

func (s *Service) send(to, subject, body string) error {
	msg, err := s.compose(to, subject, body)
	if err != nil {
		return err
	}
	return s.deliver(msg)
}

func (s *Service) compose(to, subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()

	if s.cfg.FromName != "" {
		if err := msg.FromFormat(s.cfg.FromName, s.cfg.From); err != nil {
			return nil, fmt.Errorf("setting from address: %w", err)
		}
	} else {
		if err := msg.From(s.cfg.From); err != nil {
			return nil, fmt.Errorf("setting from address: %w", err)
		}
	}

	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("setting to address: %w", err)
	}

	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

// dialAndSend sends msg via SMTP using go-mail.
func (s *Service) dialAndSend(msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
	}

	// Use implicit TLS (SSL) for port 465, STARTTLS for others
	if s.cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
		if s.cfg.Port == 465 {
			opts = append(opts, mail.WithSSL())
		}
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	if s.cfg.Username != "" && s.cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}

	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("creating mail client: %w", err)
	}

	if err := client.DialAndSend(msg); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}

	return nil
}

// Noop logs notifications instead of sending them. Secrets are not logged.
type Noop struct{}

func (Noop) SendOTP(_ context.Context, to, _ string, ttl time.Duration) error {
	slog.Info("email disabled, otp not sent", "to", to, "ttl", ttl)
	return nil
}

func (Noop) SendEmergencyToken(_ context.Context, to, _ string, expiresAt time.Time) error {
	slog.Info("email disabled, emergency token not sent", "to", to, "expires_at", expiresAt)
	return nil
}

func (Noop) SendAdminCreated(_ context.Context, to, _ string) error {
	slog.Info("email disabled, admin notification not sent", "to", to)
	return nil
}

func (Noop) SendRoleAssigned(_ context.Context, to, role string) error {
	slog.Info("email disabled, role notification not sent", "to", to, "role", role)
	return nil
}

// New returns an SMTP Service when cfg is enabled and Noop otherwise.
func New(cfg *config.SMTPConfig, baseURL string) (Sender, error) {
	if !cfg.Enabled() {
		slog.Warn("smtp not configured, emails will only be logged")
		return Noop{}, nil
	}
	return NewService(cfg, baseURL)
}
