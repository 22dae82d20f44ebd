package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"tg_member_gate_bot/internal/config"
)

var testConfig = config.Config{MongoURI: "mongodb://gate-db:27017", MongoDB: "gate_bot_test"}

// offlineDeployment hands out real collection handles from a client that is
// never connected, and records what the manager asks of it.
type offlineDeployment struct {
	client       *mongo.Client
	pingErr      error
	pings        []string
	databases    []string
	disconnected bool
}

func newOfflineDeployment(t *testing.T) *offlineDeployment {
	t.Helper()

	client, err := mongo.NewClient(options.Client().ApplyURI(testConfig.MongoURI))
	if err != nil {
		t.Fatalf("build offline client: %v", err)
	}
	return &offlineDeployment{client: client}
}

func (d *offlineDeployment) Ping(_ context.Context, rp *readpref.ReadPref) error {
	d.pings = append(d.pings, rp.String())
	return d.pingErr
}

func (d *offlineDeployment) Database(name string, opts ...*options.DatabaseOptions) *mongo.Database {
	d.databases = append(d.databases, name)
	return d.client.Database(name, opts...)
}

func (d *offlineDeployment) Disconnect(context.Context) error {
	d.disconnected = true
	return nil
}

// useDeployment makes NewManager connect to dep, or fail with err.
func useDeployment(t *testing.T, dep *offlineDeployment, err error) {
	t.Helper()

	prev := connectMongo
	connectMongo = func(_ context.Context, opts *options.ClientOptions) (deployment, error) {
		if opts.AppName == nil || *opts.AppName != appName {
			t.Errorf("expected app name %q on client options", appName)
		}
		if err != nil {
			return nil, err
		}
		return dep, nil
	}
	t.Cleanup(func() { connectMongo = prev })
}

type indexRequest struct {
	database   string
	collection string
	models     []mongo.IndexModel
}

// captureIndexes records index creation instead of sending it and returns
// failWith for every request.
func captureIndexes(t *testing.T, failWith error) *[]indexRequest {
	t.Helper()

	var requests []indexRequest
	prev := createIndexes
	createIndexes = func(_ context.Context, coll *mongo.Collection, models []mongo.IndexModel) ([]string, error) {
		requests = append(requests, indexRequest{
			database:   coll.Database().Name(),
			collection: coll.Name(),
			models:     models,
		})
		if failWith != nil {
			return nil, failWith
		}
		return []string{"user_id_unique", "is_member"}, nil
	}
	t.Cleanup(func() { createIndexes = prev })

	return &requests
}

func connectedManager(t *testing.T) (*Manager, *offlineDeployment) {
	t.Helper()

	dep := newOfflineDeployment(t)
	useDeployment(t, dep, nil)

	manager, err := NewManager(context.Background(), testConfig)
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	return manager, dep
}

func TestNewManagerOpensUsersCollection(t *testing.T) {
	manager, dep := connectedManager(t)

	users := manager.Users()
	if users == nil {
		t.Fatalf("expected a users collection")
	}
	if users.Name() != CollectionUsers || users.Database().Name() != testConfig.MongoDB {
		t.Fatalf("expected %s.%s, got %s.%s", testConfig.MongoDB, CollectionUsers, users.Database().Name(), users.Name())
	}
	if len(dep.databases) != 1 || dep.databases[0] != testConfig.MongoDB {
		t.Fatalf("expected a single lookup of %s, got %v", testConfig.MongoDB, dep.databases)
	}
	if len(dep.pings) != 1 || dep.pings[0] != "primary" {
		t.Fatalf("expected one ping against the primary, got %v", dep.pings)
	}
}

func TestNewManagerFailures(t *testing.T) {
	t.Run("connect error", func(t *testing.T) {
		errRefused := errors.New("connection refused")
		useDeployment(t, nil, errRefused)

		if _, err := NewManager(context.Background(), testConfig); !errors.Is(err, errRefused) {
			t.Fatalf("expected connect error, got %v", err)
		}
	})

	t.Run("ping error disconnects", func(t *testing.T) {
		dep := newOfflineDeployment(t)
		dep.pingErr = errors.New("no primary")
		useDeployment(t, dep, nil)

		if _, err := NewManager(context.Background(), testConfig); !errors.Is(err, dep.pingErr) {
			t.Fatalf("expected ping error, got %v", err)
		}
		if !dep.disconnected {
			t.Fatalf("expected the client to be released after a failed ping")
		}
	})

	t.Run("nil context", func(t *testing.T) {
		if _, err := NewManager(nil, testConfig); err == nil {
			t.Fatalf("expected error for nil context")
		}
	})
}

func TestManagerPing(t *testing.T) {
	manager, dep := connectedManager(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := manager.Ping(ctx); err != nil {
		t.Fatalf("expected ping to succeed, got %v", err)
	}
	if len(dep.pings) != 2 {
		t.Fatalf("expected startup and readiness pings, got %v", dep.pings)
	}

	dep.pingErr = errors.New("primary stepped down")
	if err := manager.Ping(ctx); !errors.Is(err, dep.pingErr) {
		t.Fatalf("expected wrapped ping error, got %v", err)
	}

	if err := manager.Ping(nil); err == nil {
		t.Fatalf("expected error for nil context")
	}
	if err := (*Manager)(nil).Ping(ctx); err == nil {
		t.Fatalf("expected error for nil manager")
	}
}

func TestEnsureUserIndexes(t *testing.T) {
	manager, _ := connectedManager(t)
	requests := captureIndexes(t, nil)

	if err := manager.EnsureUserIndexes(context.Background()); err != nil {
		t.Fatalf("EnsureUserIndexes returned error: %v", err)
	}

	if len(*requests) != 1 {
		t.Fatalf("expected one index request, got %d", len(*requests))
	}
	req := (*requests)[0]
	if req.database != testConfig.MongoDB || req.collection != CollectionUsers {
		t.Fatalf("expected indexes on %s.%s, got %s.%s", testConfig.MongoDB, CollectionUsers, req.database, req.collection)
	}

	want := []struct {
		field  string
		name   string
		unique bool
	}{
		{"user_id", "user_id_unique", true},
		{"is_member", "is_member", false},
	}
	if len(req.models) != len(want) {
		t.Fatalf("expected %d index models, got %d", len(want), len(req.models))
	}
	for i, w := range want {
		model := req.models[i]

		keys, ok := model.Keys.(bson.D)
		if !ok || len(keys) != 1 || keys[0].Key != w.field || keys[0].Value != 1 {
			t.Fatalf("index %d: expected ascending key on %s, got %v", i, w.field, model.Keys)
		}
		if model.Options == nil || model.Options.Name == nil || *model.Options.Name != w.name {
			t.Fatalf("index %d: expected name %s, got %+v", i, w.name, model.Options)
		}
		if unique := model.Options.Unique != nil && *model.Options.Unique; unique != w.unique {
			t.Fatalf("index %s: expected unique=%v, got %v", w.name, w.unique, unique)
		}
	}
}

func TestEnsureUserIndexesFailures(t *testing.T) {
	manager, _ := connectedManager(t)
	errDenied := errors.New("not authorized on gate_bot_test")
	captureIndexes(t, errDenied)

	if err := manager.EnsureUserIndexes(context.Background()); !errors.Is(err, errDenied) {
		t.Fatalf("expected wrapped index error, got %v", err)
	}
	if err := manager.EnsureUserIndexes(nil); err == nil {
		t.Fatalf("expected error for nil context")
	}
	if err := (*Manager)(nil).EnsureUserIndexes(context.Background()); err == nil {
		t.Fatalf("expected error for nil manager")
	}
}

func TestManagerClose(t *testing.T) {
	manager, dep := connectedManager(t)

	if err := manager.Close(nil); err == nil {
		t.Fatalf("expected error for nil context")
	}
	if err := manager.Close(context.Background()); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if !dep.disconnected {
		t.Fatalf("expected disconnect")
	}
	if err := (*Manager)(nil).Close(context.Background()); err != nil {
		t.Fatalf("expected nil manager to close cleanly, got %v", err)
	}
}
