package memory

import (
	"context"
	"errors"
	"testing"

	"token-sentinel/internal/domain"
	"token-sentinel/internal/storage"
)

func TestSnapshotStore_UpsertAndGet(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	snap := &domain.EntitySnapshot{
		ID:         "MintABC",
		Kind:       domain.EntityToken,
		FirstSeen:  1704067200000,
		LastEvent:  1704067260000,
		EventCount: 3,
		Liquidity: domain.LiquidityAggregates{
			Current:    5000,
			WindowHigh: 8000,
			Deltas:     []domain.LiquidityDelta{{Timestamp: 1704067260000, Delta: -3000, After: 5000}},
		},
	}

	if err := store.Upsert(ctx, snap); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "MintABC")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.EventCount != 3 {
		t.Errorf("EventCount mismatch: got %d, want 3", got.EventCount)
	}
	if got.Liquidity.Current != 5000 {
		t.Errorf("Liquidity.Current mismatch: got %v, want 5000", got.Liquidity.Current)
	}
}

func TestSnapshotStore_UpsertReplaces(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	snap := &domain.EntitySnapshot{ID: "MintABC", Kind: domain.EntityToken, EventCount: 1, LastEvent: 1, FirstSeen: 1}
	if err := store.Upsert(ctx, snap); err != nil {
		t.Fatalf("First upsert failed: %v", err)
	}

	snap.EventCount = 2
	if err := store.Upsert(ctx, snap); err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "MintABC")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.EventCount != 2 {
		t.Errorf("Expected replaced EventCount 2, got %d", got.EventCount)
	}
}

func TestSnapshotStore_CopyOnReadWrite(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	snap := &domain.EntitySnapshot{
		ID:        "MintABC",
		Kind:      domain.EntityToken,
		FirstSeen: 1,
		LastEvent: 1,
		Liquidity: domain.LiquidityAggregates{
			Deltas: []domain.LiquidityDelta{{Timestamp: 1, Delta: 10, After: 10}},
		},
	}
	if err := store.Upsert(ctx, snap); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// Mutating the original after upsert must not affect the stored copy.
	snap.Liquidity.Deltas[0].Delta = -999

	got, err := store.GetByID(ctx, "MintABC")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Liquidity.Deltas[0].Delta != 10 {
		t.Errorf("Stored snapshot aliased caller's slice: got delta %v", got.Liquidity.Deltas[0].Delta)
	}

	// Mutating a returned copy must not affect the store either.
	got.Liquidity.Deltas[0].Delta = -999
	again, err := store.GetByID(ctx, "MintABC")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if again.Liquidity.Deltas[0].Delta != 10 {
		t.Errorf("Returned snapshot aliased store's slice: got delta %v", again.Liquidity.Deltas[0].Delta)
	}
}

func TestSnapshotStore_UpsertBulkAndGetAll(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	snaps := []*domain.EntitySnapshot{
		{ID: "MintA", Kind: domain.EntityToken, FirstSeen: 1, LastEvent: 1, EventCount: 1},
		{ID: "WalletB", Kind: domain.EntityWallet, FirstSeen: 2, LastEvent: 2, EventCount: 1},
		{ID: "PoolC", Kind: domain.EntityPool, FirstSeen: 3, LastEvent: 3, EventCount: 1},
	}
	if err := store.UpsertBulk(ctx, snaps); err != nil {
		t.Fatalf("UpsertBulk failed: %v", err)
	}

	all, err := store.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 snapshots, got %d", len(all))
	}
}

func TestSnapshotStore_NotFoundAndDelete(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	_, err := store.GetByID(ctx, "nonexistent")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	snap := &domain.EntitySnapshot{ID: "MintA", Kind: domain.EntityToken, FirstSeen: 1, LastEvent: 1}
	if err := store.Upsert(ctx, snap); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := store.Delete(ctx, "MintA"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.GetByID(ctx, "MintA"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}

	// Deleting a missing id is not an error.
	if err := store.Delete(ctx, "nonexistent"); err != nil {
		t.Errorf("Delete of missing id failed: %v", err)
	}
}

func TestSnapshotStore_InvalidInput(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	if err := store.Upsert(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for nil, got %v", err)
	}
	if err := store.Upsert(ctx, &domain.EntitySnapshot{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for empty id, got %v", err)
	}
}
