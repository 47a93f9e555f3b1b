// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"codeberg.org/capsera/capsera/internal/models"
)

// ===== Admin User Methods =====

// CreateAdminUser inserts an admin account. ErrDuplicate when the email is taken.
func (r *Repository) CreateAdminUser(ctx context.Context, user *models.AdminUser) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := utc(time.Now())
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.CreatedAt = utc(user.CreatedAt)
	user.UpdatedAt = now
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO admin_users (id, email, name, password_hash, role, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.Name, user.PasswordHash, user.Role, user.IsActive, user.CreatedAt, user.UpdatedAt)
	return wrapError(err)
}

// GetAdminUserByEmail retrieves an admin by email address
func (r *Repository) GetAdminUserByEmail(ctx context.Context, email string) (*models.AdminUser, error) {
	var user models.AdminUser
	if err := r.db.GetContext(ctx, &user, `SELECT * FROM admin_users WHERE email = ?`, email); err != nil {
		return nil, wrapError(err)
	}
	return &user, nil
}

// GetAdminUserByID retrieves an admin by ID
func (r *Repository) GetAdminUserByID(ctx context.Context, id string) (*models.AdminUser, error) {
	var user models.AdminUser
	if err := r.db.GetContext(ctx, &user, `SELECT * FROM admin_users WHERE id = ?`, id); err != nil {
		return nil, wrapError(err)
	}
	return &user, nil
}

// CountAdminUsers returns the number of admin accounts
func (r *Repository) CountAdminUsers(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM admin_users`)
	return count, err
}

// ListAdminUsers returns all admins ordered by creation date (newest first)
func (r *Repository) ListAdminUsers(ctx context.Context) ([]models.AdminUser, error) {
	var users []models.AdminUser
	if err := r.db.SelectContext(ctx, &users, `SELECT * FROM admin_users ORDER BY created_at DESC`); err != nil {
		return nil, err
	}
	return users, nil
}

// UpdateAdminLastLogin records a successful login
func (r *Repository) UpdateAdminLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE admin_users SET last_login_at = ?, updated_at = ? WHERE id = ?`, utc(at), utc(at), id)
	return err
}

// SetAdminUserActive enables or disables an admin account
func (r *Repository) SetAdminUserActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE admin_users SET is_active = ?, updated_at = ? WHERE id = ?`, active, utc(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAdminRole assigns a role to an admin account
func (r *Repository) UpdateAdminRole(ctx context.Context, id, role string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE admin_users SET role = ?, updated_at = ? WHERE id = ?`, role, utc(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ===== Role Methods =====

// GetRoleByName retrieves a role by its unique name
func (r *Repository) GetRoleByName(ctx context.Context, name string) (*models.Role, error) {
	var role models.Role
	if err := r.db.GetContext(ctx, &role, `SELECT * FROM roles WHERE name = ?`, name); err != nil {
		return nil, wrapError(err)
	}
	return &role, nil
}

// CreateRole inserts a role. ErrDuplicate when the name is taken.
func (r *Repository) CreateRole(ctx context.Context, role *models.Role) error {
	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now()
	}
	role.CreatedAt = utc(role.CreatedAt)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO roles (id, name, display_name, priority, permissions, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		role.ID, role.Name, role.DisplayName, role.Priority, role.Permissions, role.CreatedAt)
	return wrapError(err)
}

// ListRoles returns all roles by priority
func (r *Repository) ListRoles(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	if err := r.db.SelectContext(ctx, &roles, `SELECT * FROM roles ORDER BY priority ASC, name ASC`); err != nil {
		return nil, err
	}
	return roles, nil
}
