// Package user provides helpers for user registration and lifecycle updates.
package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tg_member_gate_bot/internal/domain"
	"tg_member_gate_bot/internal/logging"
)

type userCollection interface {
	FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) *mongo.SingleResult
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// Registrar ensures users are present in the database, keeps their
// last_active timestamp updated on every interaction and records successful
// verifications.
type Registrar struct {
	users  userCollection
	logger *logrus.Entry
	now    func() time.Time
}

// NewRegistrar constructs a Registrar for the provided users collection.
func NewRegistrar(users userCollection, logger *logrus.Entry) *Registrar {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Registrar{
		users:  users,
		logger: logger,
		now:    time.Now,
	}
}

// EnsureUser upserts the user record and returns it as stored. join_date and
// is_member are only written on insert; display metadata is refreshed only
// with non-empty observed values. created reports whether this call inserted
// the record.
func (r *Registrar) EnsureUser(ctx context.Context, identity domain.Identity) (domain.User, bool, error) {
	if r == nil || r.users == nil {
		return domain.User{}, false, errors.New("user registrar is not initialized")
	}
	if ctx == nil {
		return domain.User{}, false, errors.New("context is required")
	}
	if identity.UserID == 0 {
		return domain.User{}, false, errors.New("user id is required")
	}

	now := r.now().UTC().Truncate(time.Millisecond)
	filter := bson.M{"user_id": identity.UserID}

	setFields := bson.M{"last_active": now}
	for field, value := range map[string]string{
		"username":   identity.Username,
		"first_name": identity.FirstName,
		"last_name":  identity.LastName,
	} {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			setFields[field] = trimmed
		}
	}

	update := bson.M{
		"$set": setFields,
		"$setOnInsert": bson.M{
			"user_id":   identity.UserID,
			"is_member": false,
			"join_date": now,
		},
	}

	stored, err := r.findAndUpdate(ctx, filter, update, true)
	if mongo.IsDuplicateKeyError(err) {
		// A concurrent update for the same user won the insert; the record
		// exists now, so a plain update is enough.
		r.logger.WithFields(logging.Fields{
			"event":   "user_upsert_race",
			"user_id": identity.UserID,
		}).Debug("duplicate insert, retrying as update")

		stored, err = r.findAndUpdate(ctx, filter, bson.M{"$set": setFields}, false)
	}
	if err != nil {
		return domain.User{}, false, fmt.Errorf("ensure user: %w", err)
	}

	created := stored.JoinDate.Equal(now)
	if created {
		r.logger.WithFields(logging.Fields{
			"event":   "user_registered",
			"user_id": identity.UserID,
		}).Info("registered new user")
		return stored, true, nil
	}

	r.logger.WithFields(logging.Fields{
		"event":   "user_seen",
		"user_id": identity.UserID,
	}).Debug("updated user last active")

	return stored, false, nil
}

// MarkVerified flags the user as a verified member and refreshes
// last_active. Unknown users are left alone.
func (r *Registrar) MarkVerified(ctx context.Context, userID int64) error {
	if r == nil || r.users == nil {
		return errors.New("user registrar is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if userID == 0 {
		return errors.New("user id is required")
	}

	now := r.now().UTC().Truncate(time.Millisecond)
	result, err := r.users.UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"$set": bson.M{
			"is_member":   true,
			"last_active": now,
		}},
	)
	if err != nil {
		return fmt.Errorf("mark user verified: %w", err)
	}

	if result == nil || result.MatchedCount == 0 {
		r.logger.WithFields(logging.Fields{
			"event":   "user_verify_missing",
			"user_id": userID,
		}).Warn("verified user has no record")
		return nil
	}

	r.logger.WithFields(logging.Fields{
		"event":   "user_verified",
		"user_id": userID,
	}).Info("user marked as verified member")

	return nil
}

func (r *Registrar) findAndUpdate(ctx context.Context, filter, update bson.M, upsert bool) (domain.User, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(upsert).
		SetReturnDocument(options.After)

	result := r.users.FindOneAndUpdate(ctx, filter, update, opts)
	if result == nil {
		return domain.User{}, errors.New("find and update returned no result")
	}
	if err := result.Err(); err != nil {
		return domain.User{}, err
	}

	var stored domain.User
	if err := result.Decode(&stored); err != nil {
		return domain.User{}, fmt.Errorf("decode user: %w", err)
	}

	return stored, nil
}
