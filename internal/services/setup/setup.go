// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package setup implements the admin bootstrap handshake: an optional
// system-lock PIN, an emailed one-time code and finally account creation.
package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"codeberg.org/capsera/capsera/internal/config"
	"codeberg.org/capsera/capsera/internal/models"
	"codeberg.org/capsera/capsera/internal/repository"
	"codeberg.org/capsera/capsera/internal/services/auth"
	"codeberg.org/capsera/capsera/internal/services/email"
	"codeberg.org/capsera/capsera/internal/services/jobs"
	"codeberg.org/capsera/capsera/internal/services/roles"
)

var (
	ErrPINRequired    = errors.New("system lock PIN is required")
	ErrInvalidPIN     = errors.New("invalid system lock PIN")
	ErrAdminExists    = errors.New("an admin account already exists")
	ErrDebugDisabled  = errors.New("setup debug actions are disabled")
	ErrOTPNotVerified = errors.New("email has not been verified")
	ErrNotPermitted   = errors.New("caller may not create admin accounts")
)

// Store is the persistence the handshake needs.
type Store interface {
	roles.Store
	GetSystemLockPIN(ctx context.Context) (*models.SystemLockPIN, error)
	SaveSystemLockPIN(ctx context.Context, pin *models.SystemLockPIN) error
	CountAdminUsers(ctx context.Context) (int64, error)
	GetAdminUserByEmail(ctx context.Context, email string) (*models.AdminUser, error)
	CreateAdminUser(ctx context.Context, user *models.AdminUser) error
	ListAdminUsers(ctx context.Context) ([]models.AdminUser, error)
	Ping(ctx context.Context) error
}

// OTPs is the part of the OTP service the handshake uses.
type OTPs interface {
	Generate(ctx context.Context, email string) (string, error)
	VerifyOrCheck(ctx context.Context, email, code string) error
	Consume(ctx context.Context, email string) error
	ResetRateLimit(ctx context.Context, email string) error
	TTL() time.Duration
}

// Deps bundles the collaborators of a Service.
type Deps struct {
	Store     Store
	OTP       OTPs
	Roles     *roles.Catalog
	Mailer    email.Sender
	Jobs      *jobs.Queue
	Passwords *auth.PasswordValidator
}

type Service struct {
	Deps
	cfg config.AdminConfig
	now func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(deps Deps, cfg config.AdminConfig, opts ...Option) *Service {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if deps.Passwords == nil {
		deps.Passwords = auth.NewPasswordValidator(cfg.MinPassword)
	}
	if deps.Mailer == nil {
		deps.Mailer = email.Noop{}
	}
	s := &Service{Deps: deps, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status is the answer to an initialize request.
type Status struct {
	AdminExists  bool `json:"adminExists"`
	PINRequired  bool `json:"pinRequired"`
	DebugEnabled bool `json:"debugEnabled"`
}

// PINResult is the answer to verify-pin.
type PINResult struct {
	Valid       bool `json:"valid"`
	PINRequired bool `json:"pinRequired"`
}

// OTPSent is the answer to request-otp.
type OTPSent struct {
	Email     string `json:"email"`
	ExpiresIn int    `json:"expiresIn"`
}

// Verified is the answer to verify-token.
type Verified struct {
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
	Trusted  bool   `json:"trusted,omitempty"`
}

// CreatedAdmin is the answer to create-admin.
type CreatedAdmin struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// AdminSummary is one entry of a debug-admin answer.
type AdminSummary struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

// DBStatus is the answer to test-db.
type DBStatus struct {
	Connected bool  `json:"connected"`
	Admins    int64 `json:"admins"`
}

// ResetDone is the answer to reset.
type ResetDone struct {
	Email string `json:"email"`
}

// Handle runs req. caller is the authenticated admin making the request, or
// nil for anonymous callers.
func (s *Service) Handle(ctx context.Context, req Request, caller *models.AdminUser) (any, error) {
	switch r := req.(type) {
	case StatusRequest:
		return s.status(ctx)
	case VerifyPINRequest:
		return s.verifyPIN(ctx, r.PIN)
	case RequestOTPRequest:
		return s.requestOTP(ctx, r)
	case VerifyTokenRequest:
		return s.verifyToken(ctx, r, caller)
	case CreateAdminRequest:
		return s.createAdmin(ctx, r, caller)
	case DebugAdminRequest:
		return s.debugAdmins(ctx, r)
	case TestDBRequest:
		return s.testDB(ctx, r)
	case ResetRequest:
		return s.reset(ctx, r)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownAction, req)
	}
}

// SeedPIN stores pin as the system-lock PIN unless one is already stored.
func (s *Service) SeedPIN(ctx context.Context, pin string) error {
	if pin == "" {
		return nil
	}
	_, err := s.Store.GetSystemLockPIN(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to load system lock PIN: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), s.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash system lock PIN: %w", err)
	}
	if err := s.Store.SaveSystemLockPIN(ctx, &models.SystemLockPIN{
		Hash:      string(hash),
		IsActive:  true,
		UpdatedAt: s.now(),
	}); err != nil {
		return fmt.Errorf("failed to store system lock PIN: %w", err)
	}
	slog.Info("system lock PIN seeded from configuration")
	return nil
}

// activePIN returns the stored PIN when it is active.
func (s *Service) activePIN(ctx context.Context) (*models.SystemLockPIN, error) {
	pin, err := s.Store.GetSystemLockPIN(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load system lock PIN: %w", err)
	}
	if !pin.IsActive {
		return nil, nil
	}
	return pin, nil
}

// checkPIN is the PIN stage. It passes when no active PIN exists.
func (s *Service) checkPIN(ctx context.Context, presented string) error {
	pin, err := s.activePIN(ctx)
	if err != nil || pin == nil {
		return err
	}
	if presented == "" {
		return ErrPINRequired
	}
	if bcrypt.CompareHashAndPassword([]byte(pin.Hash), []byte(presented)) != nil {
		slog.Warn("setup pin rejected")
		return ErrInvalidPIN
	}
	return nil
}

func (s *Service) status(ctx context.Context) (*Status, error) {
	count, err := s.Store.CountAdminUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count admins: %w", err)
	}
	pin, err := s.activePIN(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		AdminExists:  count > 0,
		PINRequired:  pin != nil,
		DebugEnabled: s.cfg.SetupDebug,
	}, nil
}

func (s *Service) verifyPIN(ctx context.Context, presented string) (*PINResult, error) {
	pin, err := s.activePIN(ctx)
	if err != nil {
		return nil, err
	}
	if pin == nil {
		return &PINResult{Valid: true}, nil
	}
	if err := s.checkPIN(ctx, presented); err != nil {
		return nil, err
	}
	return &PINResult{Valid: true, PINRequired: true}, nil
}

func (s *Service) requestOTP(ctx context.Context, r RequestOTPRequest) (*OTPSent, error) {
	if err := s.checkPIN(ctx, r.PIN); err != nil {
		return nil, err
	}
	addr := models.NormalizeEmail(r.Email)
	code, err := s.OTP.Generate(ctx, addr)
	if err != nil {
		return nil, err
	}

	ttl := s.OTP.TTL()
	err = s.deliver("send setup otp", func(ctx context.Context) error {
		return s.Mailer.SendOTP(ctx, addr, code, ttl)
	})
	if err != nil {
		if consumeErr := s.OTP.Consume(ctx, addr); consumeErr != nil {
			slog.Error("failed to drop undelivered otp", "email", addr, "error", consumeErr)
		}
		return nil, err
	}
	return &OTPSent{Email: addr, ExpiresIn: int(ttl.Seconds())}, nil
}

// trusted reports whether verify-token may skip the code check for addr: only
// an authenticated, active admin acting on their own address.
func trusted(caller *models.AdminUser, addr string) bool {
	return caller != nil && caller.IsActive && caller.Email == addr
}

func (s *Service) verifyToken(ctx context.Context, r VerifyTokenRequest, caller *models.AdminUser) (*Verified, error) {
	if err := s.checkPIN(ctx, r.PIN); err != nil {
		return nil, err
	}
	addr := models.NormalizeEmail(r.Email)
	if trusted(caller, addr) {
		return &Verified{Email: addr, Verified: true, Trusted: true}, nil
	}
	if err := s.OTP.VerifyOrCheck(ctx, addr, r.Token); err != nil {
		return nil, err
	}
	return &Verified{Email: addr, Verified: true}, nil
}

func (s *Service) createAdmin(ctx context.Context, r CreateAdminRequest, caller *models.AdminUser) (*CreatedAdmin, error) {
	if err := s.checkPIN(ctx, r.PIN); err != nil {
		return nil, err
	}
	addr := models.NormalizeEmail(r.Email)

	if _, err := s.Store.GetAdminUserByEmail(ctx, addr); err == nil {
		return nil, ErrAdminExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up admin: %w", err)
	}

	callerIsAdmin := caller != nil && caller.IsActive
	if callerIsAdmin {
		if !s.Roles.HasPermission(caller.Role, roles.PermUsersWrite) {
			slog.Warn("admin creation refused", "caller_id", caller.ID, "role", caller.Role)
			return nil, ErrNotPermitted
		}
	} else {
		count, err := s.Store.CountAdminUsers(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to count admins: %w", err)
		}
		if count > 0 {
			return nil, ErrAdminExists
		}
	}

	// The new address is never the caller's, so a code is always required.
	if r.Token == "" {
		return nil, ErrOTPNotVerified
	}
	if err := s.OTP.VerifyOrCheck(ctx, addr, r.Token); err != nil {
		return nil, err
	}

	if err := s.Passwords.Validate(r.Password, addr, r.Name); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(r.Password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	role, err := s.Roles.Ensure(ctx, s.Store, roles.Admin)
	if err != nil {
		return nil, err
	}

	user := &models.AdminUser{
		Email:        addr,
		Name:         r.Name,
		PasswordHash: string(hash),
		Role:         role.Name,
		IsActive:     true,
		CreatedAt:    s.now(),
	}
	if err := s.Store.CreateAdminUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrAdminExists
		}
		return nil, fmt.Errorf("failed to create admin: %w", err)
	}

	if err := s.OTP.Consume(ctx, addr); err != nil {
		slog.Error("failed to consume setup otp", "email", addr, "error", err)
	}

	name := user.Name
	s.background("send admin created", func(ctx context.Context) error {
		return s.Mailer.SendAdminCreated(ctx, addr, name)
	})

	slog.Info("admin created", "admin_id", user.ID, "email", addr, "by_admin", callerIsAdmin)
	return &CreatedAdmin{ID: user.ID, Email: user.Email, Role: user.Role}, nil
}

func (s *Service) debugAdmins(ctx context.Context, r DebugAdminRequest) ([]AdminSummary, error) {
	if !s.cfg.SetupDebug {
		return nil, ErrDebugDisabled
	}
	if err := s.checkPIN(ctx, r.PIN); err != nil {
		return nil, err
	}
	users, err := s.Store.ListAdminUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	out := make([]AdminSummary, len(users))
	for i, u := range users {
		out[i] = AdminSummary{ID: u.ID, Email: u.Email, Role: u.Role, IsActive: u.IsActive, CreatedAt: u.CreatedAt}
	}
	return out, nil
}

func (s *Service) testDB(ctx context.Context, r TestDBRequest) (*DBStatus, error) {
	if !s.cfg.SetupDebug {
		return nil, ErrDebugDisabled
	}
	if err := s.checkPIN(ctx, r.PIN); err != nil {
		return nil, err
	}
	if err := s.Store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	count, err := s.Store.CountAdminUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count admins: %w", err)
	}
	return &DBStatus{Connected: true, Admins: count}, nil
}

func (s *Service) reset(ctx context.Context, r ResetRequest) (*ResetDone, error) {
	if err := s.checkPIN(ctx, r.PIN); err != nil {
		return nil, err
	}
	addr := models.NormalizeEmail(r.Email)
	if err := s.OTP.Consume(ctx, addr); err != nil {
		return nil, err
	}
	if err := s.OTP.ResetRateLimit(ctx, addr); err != nil {
		return nil, fmt.Errorf("failed to reset rate limit: %w", err)
	}
	return &ResetDone{Email: addr}, nil
}

// deliver runs fn on the job queue and reports a rejected submission. Without
// a queue fn runs inline and its error is returned.
func (s *Service) deliver(name string, fn jobs.Func) error {
	if s.Jobs != nil {
		_, err := s.Jobs.Submit(name, fn)
		return err
	}
	if err := fn(context.Background()); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// background runs fn on the job queue, or inline when there is none.
func (s *Service) background(name string, fn jobs.Func) {
	if s.Jobs != nil {
		s.Jobs.Go(name, fn)
		return
	}
	if err := fn(context.Background()); err != nil {
		slog.Error("job failed", "job", name, "error", err)
	}
}
