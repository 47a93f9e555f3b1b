// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package mongorepo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"codeberg.org/capsera/capsera/internal/models"
)

func (r *Repository) CreateEmergencyToken(ctx context.Context, token *models.EmergencyToken) error {
	token.ID = newID(token.ID)
	_, err := r.emergency.InsertOne(ctx, token)
	return wrapError(err)
}

func (r *Repository) ConsumeEmergencyToken(ctx context.Context, tokenHash string, now time.Time) (*models.EmergencyToken, error) {
	filter := bson.M{
		"tokenHash": tokenHash,
		"used":      false,
		"expiresAt": bson.M{"$gt": now},
	}
	update := bson.M{"$set": bson.M{"used": true, "usedAt": now}}

	var token models.EmergencyToken
	if err := r.emergency.FindOneAndUpdate(ctx, filter, update, afterUpdate()).Decode(&token); err != nil {
		return nil, wrapError(err)
	}
	return &token, nil
}

func (r *Repository) CountActiveEmergencyTokens(ctx context.Context, email string, now time.Time) (int, error) {
	n, err := r.emergency.CountDocuments(ctx, bson.M{
		"email":     email,
		"used":      false,
		"expiresAt": bson.M{"$gt": now},
	})
	return int(n), err
}

func (r *Repository) CountEmergencyTokensByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	n, err := r.emergency.CountDocuments(ctx, bson.M{
		"ipAddress": ip,
		"createdAt": bson.M{"$gte": since},
	})
	return int(n), err
}

func (r *Repository) EmergencyTokenStats(ctx context.Context, now, since time.Time) (*models.EmergencyTokenStats, error) {
	var stats models.EmergencyTokenStats
	counts := []struct {
		dst    *int
		filter bson.M
	}{
		{&stats.Total, bson.M{}},
		{&stats.Active, bson.M{"used": false, "expiresAt": bson.M{"$gt": now}}},
		{&stats.Used, bson.M{"used": true}},
		{&stats.Expired, bson.M{"used": false, "expiresAt": bson.M{"$lte": now}}},
		{&stats.LastPeriod, bson.M{"createdAt": bson.M{"$gte": since}}},
	}
	for _, c := range counts {
		n, err := r.emergency.CountDocuments(ctx, c.filter)
		if err != nil {
			return nil, err
		}
		*c.dst = int(n)
	}
	return &stats, nil
}

func (r *Repository) ListEmergencyTokens(ctx context.Context, limit int) ([]models.EmergencyToken, error) {
	if limit <= 0 {
		limit = 1000
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(int64(limit))
	cur, err := r.emergency.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	var tokens []models.EmergencyToken
	if err := cur.All(ctx, &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

func (r *Repository) DeleteExpiredEmergencyTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.emergency.DeleteMany(ctx, bson.M{"expiresAt": bson.M{"$lte": now}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
