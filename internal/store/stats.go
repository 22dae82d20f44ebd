package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tg_member_gate_bot/internal/domain"
)

type countCollection interface {
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// StatsProvider exposes the aggregate user counts shown to the bot owner
// without leaking MongoDB internals to callers.
type StatsProvider struct {
	users countCollection
	now   func() time.Time
}

// NewStatsProvider constructs a StatsProvider backed by the users collection.
func NewStatsProvider(users countCollection) *StatsProvider {
	return &StatsProvider{
		users: users,
		now:   time.Now,
	}
}

// CountAll returns the number of known users.
func (p *StatsProvider) CountAll(ctx context.Context) (int64, error) {
	return p.count(ctx, bson.D{}, "count users")
}

// CountVerified returns the number of users that passed the membership gate.
func (p *StatsProvider) CountVerified(ctx context.Context) (int64, error) {
	return p.count(ctx, bson.D{{Key: "is_member", Value: true}}, "count verified users")
}

// Snapshot reads both counts for one report. The two reads are not a single
// point-in-time view, so Verified is clamped to never exceed Total.
func (p *StatsProvider) Snapshot(ctx context.Context) (domain.Stats, error) {
	verified, err := p.CountVerified(ctx)
	if err != nil {
		return domain.Stats{}, err
	}

	total, err := p.CountAll(ctx)
	if err != nil {
		return domain.Stats{}, err
	}

	if verified > total {
		verified = total
	}

	return domain.Stats{
		Total:    total,
		Verified: verified,
		At:       p.now().UTC(),
	}, nil
}

func (p *StatsProvider) count(ctx context.Context, filter bson.D, op string) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.users == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	count, err := p.users.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return count, nil
}
