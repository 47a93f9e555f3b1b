// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package mongorepo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"codeberg.org/capsera/capsera/internal/models"
	"codeberg.org/capsera/capsera/internal/repository"
)

func (r *Repository) CreateAdminUser(ctx context.Context, user *models.AdminUser) error {
	user.ID = newID(user.ID)
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	_, err := r.admins.InsertOne(ctx, user)
	return wrapError(err)
}

func (r *Repository) GetAdminUserByEmail(ctx context.Context, email string) (*models.AdminUser, error) {
	return r.findAdmin(ctx, bson.M{"email": email})
}

func (r *Repository) GetAdminUserByID(ctx context.Context, id string) (*models.AdminUser, error) {
	return r.findAdmin(ctx, bson.M{"_id": id})
}

func (r *Repository) findAdmin(ctx context.Context, filter bson.M) (*models.AdminUser, error) {
	var user models.AdminUser
	if err := r.admins.FindOne(ctx, filter).Decode(&user); err != nil {
		return nil, wrapError(err)
	}
	return &user, nil
}

func (r *Repository) CountAdminUsers(ctx context.Context) (int64, error) {
	return r.admins.CountDocuments(ctx, bson.M{})
}

func (r *Repository) ListAdminUsers(ctx context.Context) ([]models.AdminUser, error) {
	cur, err := r.admins.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	var users []models.AdminUser
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (r *Repository) UpdateAdminLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.admins.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"lastLoginAt": at, "updatedAt": at}})
	return err
}

func (r *Repository) SetAdminUserActive(ctx context.Context, id string, active bool) error {
	res, err := r.admins.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"isActive": active, "updatedAt": time.Now().UTC()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *Repository) UpdateAdminRole(ctx context.Context, id, role string) error {
	res, err := r.admins.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"role": role, "updatedAt": time.Now().UTC()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *Repository) GetRoleByName(ctx context.Context, name string) (*models.Role, error) {
	var role models.Role
	if err := r.roles.FindOne(ctx, bson.M{"name": name}).Decode(&role); err != nil {
		return nil, wrapError(err)
	}
	return &role, nil
}

func (r *Repository) CreateRole(ctx context.Context, role *models.Role) error {
	role.ID = newID(role.ID)
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now().UTC()
	}
	_, err := r.roles.InsertOne(ctx, role)
	return wrapError(err)
}

func (r *Repository) ListRoles(ctx context.Context) ([]models.Role, error) {
	opts := options.Find().SetSort(bson.D{{Key: "priority", Value: 1}, {Key: "name", Value: 1}})
	cur, err := r.roles.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	var roles []models.Role
	if err := cur.All(ctx, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}
