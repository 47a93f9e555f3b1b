// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package ctxkeys defines typed context keys used across packages.
package ctxkeys

// Admin is the context key for the authenticated admin user.
type Admin struct{}

// Grant is the context key for the emergency access grant carried by the visitor.
type Grant struct{}
