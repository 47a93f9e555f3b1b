// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/capsera/capsera/internal/config"
)

// writeKeyPair writes a self-signed certificate valid until notAfter.
func writeKeyPair(t *testing.T, notAfter time.Time) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "capsera.test"},
		NotBefore:    notAfter.Add(-365 * 24 * time.Hour),
		NotAfter:     notAfter,
		DNSNames:     []string{"capsera.test"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certFile, keyFile
}

func TestSetupTLS_Manual(t *testing.T) {
	certFile, keyFile := writeKeyPair(t, time.Now().Add(90*24*time.Hour))

	cfg := testConfig()
	cfg.TLS = config.TLSConfig{Mode: "manual", CertFile: certFile, KeyFile: keyFile}

	tlsConfig, err := setupTLS(cfg)
	require.NoError(t, err)
	require.NotNil(t, tlsConfig)
	assert.Len(t, tlsConfig.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), tlsConfig.MinVersion)
}

func TestLoadCertificate_Errors(t *testing.T) {
	certFile, keyFile := writeKeyPair(t, time.Now().Add(time.Hour))

	_, err := loadCertificate("", keyFile, time.Now())
	assert.ErrorIs(t, err, errManualTLSFiles)

	_, err = loadCertificate(certFile, "/nonexistent/key.pem", time.Now())
	assert.Error(t, err)

	// key and certificate swapped
	_, err = loadCertificate(keyFile, certFile, time.Now())
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	fp := fingerprint([]byte("capsera"))
	parts := strings.Split(fp, ":")
	assert.Len(t, parts, 32)
	for _, p := range parts {
		assert.Len(t, p, 2)
		assert.Equal(t, strings.ToUpper(p), p)
	}
}
