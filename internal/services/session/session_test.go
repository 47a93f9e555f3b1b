// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package session_test

import (
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/capsera/capsera/internal/config"
	"codeberg.org/capsera/capsera/internal/services/session"
)

const (
	hashKey  = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	blockKey = "fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210"
	visitor  = "visitor@capsera.example"
)

func accessConfig() *config.SessionConfig {
	return &config.SessionConfig{
		CookieName: "_access",
		MaxAge:     3600,
		HashKey:    hashKey,
	}
}

func newManager(t *testing.T, cfg *config.SessionConfig, secure bool) *session.Manager {
	t.Helper()
	mgr, err := session.NewManager(cfg, secure)
	require.NoError(t, err)
	return mgr
}

func requestWith(cookie *http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return req
}

func TestNewManager_Keys(t *testing.T) {
	tests := []struct {
		name     string
		hashKey  string
		blockKey string
		wantErr  string
	}{
		{name: "hash key only", hashKey: hashKey},
		{name: "hash and block key", hashKey: hashKey, blockKey: blockKey},
		{name: "ephemeral hash key", hashKey: ""},
		{name: "hash key not hex", hashKey: "zz-not-hex", wantErr: "invalid session hash key"},
		{name: "hash key too short", hashKey: "0123456789abcdef", wantErr: "must be 32 bytes"},
		{name: "block key too long", hashKey: hashKey, blockKey: blockKey + "00", wantErr: "invalid session block key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := accessConfig()
			cfg.HashKey = tt.hashKey
			cfg.BlockKey = tt.blockKey

			mgr, err := session.NewManager(cfg, false)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, mgr)
		})
	}
}

func TestCreate_CookieAttributes(t *testing.T) {
	for _, secure := range []bool{false, true} {
		mgr := newManager(t, accessConfig(), secure)

		cookie, err := mgr.Create(visitor)
		require.NoError(t, err)

		assert.Equal(t, "_access", cookie.Name)
		assert.NotEmpty(t, cookie.Value)
		assert.NotContains(t, cookie.Value, visitor)
		assert.Equal(t, "/", cookie.Path)
		assert.Equal(t, 3600, cookie.MaxAge)
		assert.True(t, cookie.HttpOnly)
		assert.Equal(t, secure, cookie.Secure)
		assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	}
}

func TestParse_RoundTrip(t *testing.T) {
	cfg := accessConfig()
	cfg.BlockKey = blockKey
	mgr := newManager(t, cfg, false)

	before := time.Now()
	cookie, err := mgr.Create(visitor)
	require.NoError(t, err)

	grant, err := mgr.Parse(requestWith(cookie))
	require.NoError(t, err)
	require.NotNil(t, grant)
	assert.Equal(t, visitor, grant.Email)
	assert.WithinDuration(t, before.Add(time.Hour), grant.ExpiresAt, 5*time.Second)
}

func TestParse_NoGrant(t *testing.T) {
	mgr := newManager(t, accessConfig(), false)
	valid, err := mgr.Create(visitor)
	require.NoError(t, err)

	otherCfg := accessConfig()
	otherCfg.HashKey = blockKey
	foreign, err := newManager(t, otherCfg, false).Create(visitor)
	require.NoError(t, err)

	flipped := []byte(valid.Value)
	if flipped[10] == 'A' {
		flipped[10] = 'B'
	} else {
		flipped[10] = 'A'
	}
	tampered := *valid
	tampered.Value = string(flipped)

	tests := []struct {
		name   string
		cookie *http.Cookie
	}{
		{name: "no cookie"},
		{name: "garbage value", cookie: &http.Cookie{Name: "_access", Value: "not-a-grant"}},
		{name: "tampered value", cookie: &tampered},
		{name: "signed by another key", cookie: foreign},
		{name: "other cookie name", cookie: &http.Cookie{Name: "_other", Value: valid.Value}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grant, err := mgr.Parse(requestWith(tt.cookie))
			require.NoError(t, err)
			assert.Nil(t, grant)
		})
	}
}

// forge signs grant with the test hash key the way Manager does.
func forge(t *testing.T, grant session.Grant) *http.Cookie {
	t.Helper()
	key, err := hex.DecodeString(hashKey)
	require.NoError(t, err)

	codec := securecookie.New(key, nil)
	codec.SetSerializer(securecookie.JSONEncoder{})
	value, err := codec.Encode("_access", grant)
	require.NoError(t, err)
	return &http.Cookie{Name: "_access", Value: value}
}

func TestParse_RejectsExpiredOrAnonymousGrant(t *testing.T) {
	mgr := newManager(t, accessConfig(), false)

	tests := []struct {
		name  string
		grant session.Grant
		want  bool
	}{
		{name: "valid", grant: session.Grant{Email: visitor, ExpiresAt: time.Now().Add(time.Minute)}, want: true},
		{name: "expired", grant: session.Grant{Email: visitor, ExpiresAt: time.Now().Add(-time.Second)}},
		{name: "empty email", grant: session.Grant{ExpiresAt: time.Now().Add(time.Minute)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grant, err := mgr.Parse(requestWith(forge(t, tt.grant)))
			require.NoError(t, err)
			if tt.want {
				require.NotNil(t, grant)
				assert.Equal(t, visitor, grant.Email)
			} else {
				assert.Nil(t, grant)
			}
		})
	}
}

func TestClear(t *testing.T) {
	cookie := newManager(t, accessConfig(), true).Clear()

	assert.Equal(t, "_access", cookie.Name)
	assert.Empty(t, cookie.Value)
	assert.Equal(t, -1, cookie.MaxAge)
	assert.True(t, cookie.Secure)
	assert.True(t, cookie.HttpOnly)
}

func TestGenerateKey(t *testing.T) {
	first, err := session.GenerateKey()
	require.NoError(t, err)
	second, err := session.GenerateKey()
	require.NoError(t, err)

	assert.Len(t, first, 64)
	assert.NotEqual(t, first, second)

	cfg := accessConfig()
	cfg.HashKey = first
	cfg.BlockKey = second
	newManager(t, cfg, false)
}
