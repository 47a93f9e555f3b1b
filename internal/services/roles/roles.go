// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package roles holds the built-in role catalog.
package roles

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"codeberg.org/capsera/capsera/internal/models"
	"codeberg.org/capsera/capsera/internal/repository"
)

// Role and permission names used by the HTTP layer.
const (
	Admin = "admin"

	PermUsersRead         = "users:read"
	PermUsersWrite        = "users:write"
	PermRolesRead         = "roles:read"
	PermMaintenanceManage = "maintenance:manage"
	PermArchiveManage     = "archive:manage"
	PermModerationReview  = "moderation:review"
	PermReportsRead       = "reports:read"
)

//go:embed roles.yaml
var builtin []byte

var ErrUnknownRole = errors.New("unknown role")

// Definition describes a role in the catalog.
type Definition struct {
	Name        string   `yaml:"name" json:"name"`
	DisplayName string   `yaml:"display_name" json:"display_name"`
	Priority    int      `yaml:"priority" json:"priority"`
	Permissions []string `yaml:"permissions" json:"permissions"`
}

// Catalog is an ordered set of role definitions.
type Catalog struct {
	defs []Definition
}

// Store is the persistence Ensure needs.
type Store interface {
	GetRoleByName(ctx context.Context, name string) (*models.Role, error)
	CreateRole(ctx context.Context, role *models.Role) error
}

// Builtin parses the embedded catalog.
func Builtin() (*Catalog, error) {
	return Parse(builtin)
}

// Parse reads a catalog from YAML.
func Parse(data []byte) (*Catalog, error) {
	var doc struct {
		Roles []Definition `yaml:"roles"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse role catalog: %w", err)
	}
	seen := make(map[string]bool, len(doc.Roles))
	for _, def := range doc.Roles {
		if def.Name == "" {
			return nil, errors.New("parse role catalog: role without name")
		}
		if seen[def.Name] {
			return nil, fmt.Errorf("parse role catalog: duplicate role %q", def.Name)
		}
		seen[def.Name] = true
	}
	return &Catalog{defs: doc.Roles}, nil
}

// Lookup returns the definition for name.
func (c *Catalog) Lookup(name string) (Definition, bool) {
	for _, def := range c.defs {
		if def.Name == name {
			return def, true
		}
	}
	return Definition{}, false
}

// Definitions returns every role in catalog order.
func (c *Catalog) Definitions() []Definition {
	return append([]Definition(nil), c.defs...)
}

// Ensure returns the stored role, creating it from the catalog when missing.
// A concurrent creator winning the race is not an error.
func (c *Catalog) Ensure(ctx context.Context, store Store, name string) (*models.Role, error) {
	role, err := store.GetRoleByName(ctx, name)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load role: %w", err)
	}

	def, ok := c.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, name)
	}
	role = &models.Role{
		Name:        def.Name,
		DisplayName: def.DisplayName,
		Priority:    def.Priority,
		Permissions: models.StringList(def.Permissions),
	}
	if err := store.CreateRole(ctx, role); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return store.GetRoleByName(ctx, name)
		}
		return nil, fmt.Errorf("failed to create role: %w", err)
	}
	return role, nil
}

// HasPermission reports whether the catalog grants perm to the role name.
func (c *Catalog) HasPermission(role, perm string) bool {
	def, ok := c.Lookup(role)
	if !ok {
		return false
	}
	for _, p := range def.Permissions {
		if p == perm || p == "*" {
			return true
		}
	}
	return false
}
