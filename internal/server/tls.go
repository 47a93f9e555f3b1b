// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"codeberg.org/capsera/capsera/internal/config"
)

// certExpiryWarning is how early an expiring certificate is reported.
const certExpiryWarning = 14 * 24 * time.Hour

var errManualTLSFiles = errors.New("manual TLS mode requires both cert-file and key-file")

// setupTLS returns the TLS configuration for manual mode, or nil when the
// server speaks plain HTTP behind a proxy.
func setupTLS(cfg *config.Config) (*tls.Config, error) {
	switch mode := strings.ToLower(cfg.TLS.Mode); mode {
	case "", "off":
		slog.Info("TLS mode: off")
		if !config.IsLocalhost(cfg.Server.Host) && strings.HasPrefix(cfg.Server.BaseURL, "http://") {
			slog.Warn("serving plain HTTP on a public address", "host", cfg.Server.Host, "base_url", cfg.Server.BaseURL)
		}
		return nil, nil
	case "manual":
		return loadCertificate(cfg.TLS.CertFile, cfg.TLS.KeyFile, time.Now())
	default:
		return nil, fmt.Errorf("unknown TLS mode: %s", mode)
	}
}

// loadCertificate reads a user-provided key pair and logs its fingerprint and
// expiry.
func loadCertificate(certFile, keyFile string, now time.Time) (*tls.Config, error) {
	if certFile == "" || keyFile == "" {
		return nil, errManualTLSFiles
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	slog.Info("TLS mode: manual",
		"cert", certFile,
		"subject", leaf.Subject.CommonName,
		"sha256", fingerprint(leaf.Raw),
		"not_after", leaf.NotAfter,
	)
	if leaf.NotAfter.Sub(now) < certExpiryWarning {
		slog.Warn("certificate expires soon", "not_after", leaf.NotAfter)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// fingerprint formats the SHA-256 of der as colon-separated hex.
func fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}
