package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestStatsProviderCountsAllAndVerified(t *testing.T) {
	users := &stubCountCollection{counts: map[bool]int64{false: 12, true: 5}}

	provider := NewStatsProvider(users)

	ctx := context.Background()

	total, err := provider.CountAll(ctx)
	if err != nil {
		t.Fatalf("expected user count to succeed, got error: %v", err)
	}
	if total != 12 {
		t.Fatalf("expected 12 users, got %d", total)
	}

	verified, err := provider.CountVerified(ctx)
	if err != nil {
		t.Fatalf("expected verified count to succeed, got error: %v", err)
	}
	if verified != 5 {
		t.Fatalf("expected 5 verified users, got %d", verified)
	}

	if users.calls != 2 {
		t.Fatalf("expected count to be called twice, got %d", users.calls)
	}

	if len(users.filters[0]) != 0 {
		t.Fatalf("expected empty filter for total count, got %v", users.filters[0])
	}
	if len(users.filters[1]) != 1 || users.filters[1][0].Key != "is_member" || users.filters[1][0].Value != true {
		t.Fatalf("expected is_member=true filter, got %v", users.filters[1])
	}
}

func TestStatsProviderSnapshot(t *testing.T) {
	fixed := time.Date(2025, 5, 4, 3, 2, 1, 0, time.UTC)
	provider := NewStatsProvider(&stubCountCollection{counts: map[bool]int64{false: 9, true: 4}})
	provider.now = func() time.Time { return fixed }

	stats, err := provider.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}

	if stats.Total != 9 || stats.Verified != 4 || stats.Pending() != 5 {
		t.Fatalf("unexpected snapshot %+v", stats)
	}
	if !stats.At.Equal(fixed) {
		t.Fatalf("expected snapshot time %v, got %v", fixed, stats.At)
	}
}

func TestStatsProviderSnapshotClampsVerified(t *testing.T) {
	// A user inserted and verified between the two reads can make the
	// verified count briefly exceed the total.
	provider := NewStatsProvider(&stubCountCollection{counts: map[bool]int64{false: 3, true: 4}})

	stats, err := provider.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}

	if stats.Verified > stats.Total {
		t.Fatalf("expected verified <= total, got %+v", stats)
	}
}

func TestStatsProviderRequiresContext(t *testing.T) {
	provider := NewStatsProvider(&stubCountCollection{})

	if _, err := provider.CountAll(nil); err == nil {
		t.Fatalf("expected error for nil context")
	}
	if _, err := provider.CountVerified(nil); err == nil {
		t.Fatalf("expected error for nil context")
	}
}

func TestStatsProviderRequiresInitialization(t *testing.T) {
	var provider *StatsProvider

	if _, err := provider.CountAll(context.Background()); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := provider.Snapshot(context.Background()); err == nil {
		t.Fatalf("expected error for nil provider")
	}
}

func TestStatsProviderPropagatesErrors(t *testing.T) {
	expectedErr := errors.New("count failed")
	provider := NewStatsProvider(&stubCountCollection{err: expectedErr})

	if _, err := provider.CountAll(context.Background()); !errors.Is(err, expectedErr) {
		t.Fatalf("expected wrapped error from user count, got %v", err)
	}
	if _, err := provider.Snapshot(context.Background()); !errors.Is(err, expectedErr) {
		t.Fatalf("expected wrapped error from snapshot, got %v", err)
	}
}

// stubCountCollection answers with counts[true] for is_member filters and
// counts[false] otherwise.
type stubCountCollection struct {
	counts  map[bool]int64
	err     error
	calls   int
	filters []bson.D
}

func (s *stubCountCollection) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	s.calls++
	doc, _ := filter.(bson.D)
	s.filters = append(s.filters, doc)
	if s.err != nil {
		return 0, s.err
	}
	return s.counts[len(doc) > 0], nil
}
