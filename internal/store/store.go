// Package store owns the MongoDB connection and the users collection the bot
// persists into.
package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"tg_member_gate_bot/internal/config"
)

const (
	// CollectionUsers holds one document per Telegram user.
	CollectionUsers = "users"

	appName = "tg_member_gate_bot"
)

// userIndexes keeps user_id unique so concurrent upserts for one user cannot
// create duplicates. is_member backs the verified count.
var userIndexes = []mongo.IndexModel{
	{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetName("user_id_unique").SetUnique(true),
	},
	{
		Keys:    bson.D{{Key: "is_member", Value: 1}},
		Options: options.Index().SetName("is_member"),
	},
}

type deployment interface {
	Ping(context.Context, *readpref.ReadPref) error
	Database(string, ...*options.DatabaseOptions) *mongo.Database
	Disconnect(context.Context) error
}

var (
	connectMongo = func(ctx context.Context, opts *options.ClientOptions) (deployment, error) {
		return mongo.Connect(ctx, opts)
	}

	createIndexes = func(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) ([]string, error) {
		return coll.Indexes().CreateMany(ctx, models)
	}
)

// Manager holds the client and the users collection of the configured
// database.
type Manager struct {
	client deployment
	users  *mongo.Collection
}

// NewManager connects to cfg.MongoURI and fails unless the primary answers a
// ping.
func NewManager(ctx context.Context, cfg config.Config) (*Manager, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	opts := options.Client().ApplyURI(cfg.MongoURI).SetAppName(appName)
	client, err := connectMongo(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &Manager{
		client: client,
		users:  client.Database(cfg.MongoDB).Collection(CollectionUsers),
	}, nil
}

// Users returns the users collection.
func (m *Manager) Users() *mongo.Collection {
	return m.users
}

// Ping backs the /healthz readiness check.
func (m *Manager) Ping(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if m == nil || m.client == nil {
		return errors.New("store manager is not initialized")
	}

	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}
	return nil
}

// EnsureUserIndexes creates the users indexes, creating the collection on
// first use. Existing identical indexes are left alone.
func (m *Manager) EnsureUserIndexes(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if m == nil || m.users == nil {
		return errors.New("store manager is not initialized")
	}

	if _, err := createIndexes(ctx, m.users, userIndexes); err != nil {
		return fmt.Errorf("create users indexes: %w", err)
	}
	return nil
}

// Close disconnects the client. A nil Manager closes cleanly.
func (m *Manager) Close(ctx context.Context) error {
	if m == nil || m.client == nil {
		return nil
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	return m.client.Disconnect(ctx)
}
