// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package reports renders admin exports.
package reports

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"codeberg.org/capsera/capsera/internal/models"
)

var emergencyHeader = []string{"id", "email", "ip_address", "status", "created_at", "expires_at", "used_at"}

// EmergencyAccessCSV writes the emergency-access audit log as CSV. Token
// hashes are left out.
func EmergencyAccessCSV(w io.Writer, tokens []models.EmergencyToken, now time.Time) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(emergencyHeader); err != nil {
		return err
	}
	for _, t := range tokens {
		usedAt := ""
		if t.UsedAt != nil {
			usedAt = t.UsedAt.UTC().Format(time.RFC3339)
		}
		if err := cw.Write([]string{
			t.ID,
			t.Email,
			t.IPAddress,
			Status(t, now),
			t.CreatedAt.UTC().Format(time.RFC3339),
			t.ExpiresAt.UTC().Format(time.RFC3339),
			usedAt,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Status is "used", "expired" or "active".
func Status(t models.EmergencyToken, now time.Time) string {
	switch {
	case t.Used:
		return "used"
	case !now.Before(t.ExpiresAt):
		return "expired"
	default:
		return "active"
	}
}

// Filename returns the download name for an export taken at now.
func Filename(name string, now time.Time) string {
	return name + "-" + strconv.FormatInt(now.Unix(), 10) + ".csv"
}
