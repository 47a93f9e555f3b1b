// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package email

import "github.com/wneessen/go-mail"

// SetDeliver replaces the SMTP transport.
func (s *Service) SetDeliver(fn func(*mail.Msg) error) {
	s.deliver = fn
}
