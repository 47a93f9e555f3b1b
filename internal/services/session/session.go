// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package session issues the signed cookie that lets a visitor past the
// maintenance gate after redeeming an emergency token.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"

	"codeberg.org/capsera/capsera/internal/config"
)

// Grant is the decoded content of an access cookie.
type Grant struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Manager encodes and decodes access cookies.
type Manager struct {
	codec  *securecookie.SecureCookie
	name   string
	maxAge int
	secure bool
}

// NewManager builds a Manager from cfg. An empty hash key is replaced with a
// random one, which invalidates all grants on restart.
func NewManager(cfg *config.SessionConfig, secure bool) (*Manager, error) {
	hashKey, err := decodeKey(cfg.HashKey)
	if err != nil {
		return nil, fmt.Errorf("invalid session hash key: %w", err)
	}
	if hashKey == nil {
		hashKey = securecookie.GenerateRandomKey(32)
		if hashKey == nil {
			return nil, errors.New("failed to generate session hash key")
		}
		slog.Warn("session hash key not configured, using ephemeral key")
	}

	blockKey, err := decodeKey(cfg.BlockKey)
	if err != nil {
		return nil, fmt.Errorf("invalid session block key: %w", err)
	}

	codec := securecookie.New(hashKey, blockKey)
	codec.MaxAge(cfg.MaxAge)
	codec.SetSerializer(securecookie.JSONEncoder{})

	return &Manager{
		codec:  codec,
		name:   cfg.CookieName,
		maxAge: cfg.MaxAge,
		secure: secure,
	}, nil
}

func decodeKey(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// GenerateKey returns a random hex key suitable for the session config.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

// Create returns a cookie granting email access until MaxAge elapses.
func (m *Manager) Create(email string) (*http.Cookie, error) {
	grant := Grant{
		Email:     email,
		ExpiresAt: time.Now().Add(time.Duration(m.maxAge) * time.Second).UTC(),
	}
	encoded, err := m.codec.Encode(m.name, grant)
	if err != nil {
		return nil, fmt.Errorf("failed to encode grant: %w", err)
	}
	return m.cookie(encoded, m.maxAge), nil
}

// Parse returns the grant carried by r, or nil when there is none or it is
// invalid or expired.
func (m *Manager) Parse(r *http.Request) (*Grant, error) {
	cookie, err := r.Cookie(m.name)
	if err != nil {
		return nil, nil //nolint:nilerr // missing cookie means no grant
	}

	var grant Grant
	if err := m.codec.Decode(m.name, cookie.Value, &grant); err != nil {
		return nil, nil //nolint:nilerr // tampered or expired cookie means no grant
	}
	if grant.Email == "" || !time.Now().Before(grant.ExpiresAt) {
		return nil, nil
	}
	return &grant, nil
}

// Clear returns a cookie that removes the grant.
func (m *Manager) Clear() *http.Cookie {
	return m.cookie("", -1)
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     m.name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
