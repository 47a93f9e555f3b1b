// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package mongorepo implements repository.Store on MongoDB.
package mongorepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"codeberg.org/capsera/capsera/internal/models"
	"codeberg.org/capsera/capsera/internal/repository"
)

// Collection names.
const (
	CollectionOTPs       = "otps"
	CollectionRateLimits = "otp_rate_limits"
	CollectionEmergency  = "emergency_access"
	CollectionSettings   = "system_settings"
	CollectionAdmins     = "adminusers"
	CollectionRoles      = "roles"
)

var _ repository.Store = (*Repository)(nil)

type Repository struct {
	db         *mongo.Database
	otps       *mongo.Collection
	rateLimits *mongo.Collection
	emergency  *mongo.Collection
	settings   *mongo.Collection
	admins     *mongo.Collection
	roles      *mongo.Collection
}

func New(db *mongo.Database) *Repository {
	return &Repository{
		db:         db,
		otps:       db.Collection(CollectionOTPs),
		rateLimits: db.Collection(CollectionRateLimits),
		emergency:  db.Collection(CollectionEmergency),
		settings:   db.Collection(CollectionSettings),
		admins:     db.Collection(CollectionAdmins),
		roles:      db.Collection(CollectionRoles),
	}
}

// EnsureIndexes creates the unique and lookup indexes the store relies on.
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{r.otps, mongo.IndexModel{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{r.otps, mongo.IndexModel{Keys: bson.D{{Key: "expiresAt", Value: 1}}}},
		{r.emergency, mongo.IndexModel{Keys: bson.D{{Key: "tokenHash", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{r.emergency, mongo.IndexModel{Keys: bson.D{{Key: "email", Value: 1}, {Key: "used", Value: 1}}}},
		{r.emergency, mongo.IndexModel{Keys: bson.D{{Key: "ipAddress", Value: 1}, {Key: "createdAt", Value: 1}}}},
		{r.settings, mongo.IndexModel{Keys: bson.D{{Key: "key", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{r.admins, mongo.IndexModel{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{r.roles, mongo.IndexModel{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			return fmt.Errorf("create index on %s: %w", idx.coll.Name(), err)
		}
	}
	return nil
}

// Ping checks the server connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Client().Ping(ctx, nil)
}

// Close disconnects the client.
func (r *Repository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.db.Client().Disconnect(ctx)
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return repository.ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return repository.ErrDuplicate
	}
	return err
}

func afterUpdate() *options.FindOneAndUpdateOptions {
	return options.FindOneAndUpdate().SetReturnDocument(options.After)
}

func newID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

// ===== OTPs =====

func (r *Repository) CreateOTP(ctx context.Context, otp *models.OTP) error {
	otp.ID = newID(otp.ID)
	_, err := r.otps.InsertOne(ctx, otp)
	return wrapError(err)
}

func (r *Repository) GetOTPByEmail(ctx context.Context, email string) (*models.OTP, error) {
	var otp models.OTP
	if err := r.otps.FindOne(ctx, bson.M{"email": email}).Decode(&otp); err != nil {
		return nil, wrapError(err)
	}
	return &otp, nil
}

func (r *Repository) DeleteOTPsByEmail(ctx context.Context, email string) error {
	_, err := r.otps.DeleteMany(ctx, bson.M{"email": email})
	return err
}

func (r *Repository) IncrementOTPAttempts(ctx context.Context, email string, now time.Time, maxAttempts int) (*models.OTP, error) {
	filter := bson.M{
		"email":     email,
		"attempts":  bson.M{"$lt": maxAttempts},
		"expiresAt": bson.M{"$gt": now},
	}
	var otp models.OTP
	err := r.otps.FindOneAndUpdate(ctx, filter, bson.M{"$inc": bson.M{"attempts": 1}}, afterUpdate()).Decode(&otp)
	if err != nil {
		return nil, wrapError(err)
	}
	return &otp, nil
}

func (r *Repository) MarkOTPVerified(ctx context.Context, id string, at time.Time) error {
	res, err := r.otps.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"verified": true, "verifiedAt": at}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *Repository) FindVerifiedOTP(ctx context.Context, email, code string, now time.Time) (*models.OTP, error) {
	filter := bson.M{
		"email":     email,
		"otp":       code,
		"verified":  true,
		"expiresAt": bson.M{"$gt": now},
	}
	var otp models.OTP
	if err := r.otps.FindOne(ctx, filter).Decode(&otp); err != nil {
		return nil, wrapError(err)
	}
	return &otp, nil
}

func (r *Repository) DeleteExpiredOTPs(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.otps.DeleteMany(ctx, bson.M{"expiresAt": bson.M{"$lte": now}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// ===== Rate limits =====

// HitRateLimit upserts the counter with a pipeline update so the reset check and
// the increment happen in one server-side operation.
func (r *Repository) HitRateLimit(ctx context.Context, key string, window time.Duration, now time.Time) (*models.RateLimit, error) {
	expired := bson.M{"$or": bson.A{
		bson.M{"$eq": bson.A{bson.M{"$type": "$resetTime"}, "missing"}},
		bson.M{"$lt": bson.A{"$resetTime", now}},
	}}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"count":     bson.M{"$cond": bson.A{expired, 1, bson.M{"$add": bson.A{"$count", 1}}}},
			"resetTime": bson.M{"$cond": bson.A{expired, now.Add(window), "$resetTime"}},
		}}},
	}
	opts := afterUpdate().SetUpsert(true)

	var rl models.RateLimit
	if err := r.rateLimits.FindOneAndUpdate(ctx, bson.M{"_id": key}, update, opts).Decode(&rl); err != nil {
		return nil, wrapError(err)
	}
	return &rl, nil
}

func (r *Repository) DeleteRateLimit(ctx context.Context, key string) error {
	_, err := r.rateLimits.DeleteOne(ctx, bson.M{"_id": key})
	return err
}
