package memory

import (
	"context"
	"errors"
	"testing"

	"token-sentinel/internal/domain"
	"token-sentinel/internal/storage"
)

func testSignal(id, key string, emittedAt int64) *domain.Signal {
	return &domain.Signal{
		ID:             id,
		SuppressionKey: key,
		EmittedAt:      emittedAt,
		Status:         domain.SignalPending,
		Verdict: domain.Verdict{
			EntityID:   "MintABC",
			EntityKind: domain.EntityToken,
			Score:      80,
			Category:   domain.CategoryWarning,
			Reasons:    []domain.RuleScore{{Code: domain.ReasonLPRemoved, Weighted: 80}},
			ProducedAt: emittedAt,
			TriggerID:  "evt-" + id,
		},
	}
}

func TestSignalStore_InsertAndDuplicate(t *testing.T) {
	store := NewSignalStore()
	ctx := context.Background()

	sig := testSignal("sig1", "MintABC|warning", 1704067200000)
	if err := store.Insert(ctx, sig); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if err := store.Insert(ctx, sig); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestSignalStore_UpdateStatus(t *testing.T) {
	store := NewSignalStore()
	ctx := context.Background()

	if err := store.Insert(ctx, testSignal("sig1", "MintABC|warning", 1704067200000)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if err := store.UpdateStatus(ctx, "sig1", domain.SignalDispatched, "post-42", 2); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	got, err := store.LastEmitted(ctx, "MintABC|warning")
	if err != nil {
		t.Fatalf("LastEmitted failed: %v", err)
	}
	if got.Status != domain.SignalDispatched {
		t.Errorf("Status mismatch: got %s, want dispatched", got.Status)
	}
	if got.PostID != "post-42" || got.Attempts != 2 {
		t.Errorf("PostID/Attempts mismatch: got %s/%d", got.PostID, got.Attempts)
	}

	if err := store.UpdateStatus(ctx, "nonexistent", domain.SignalFailed, "", 1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSignalStore_LastEmittedPicksLatest(t *testing.T) {
	store := NewSignalStore()
	ctx := context.Background()

	key := "MintABC|warning"
	if err := store.Insert(ctx, testSignal("sig1", key, 1704067200000)); err != nil {
		t.Fatalf("Insert sig1 failed: %v", err)
	}
	if err := store.Insert(ctx, testSignal("sig2", key, 1704067500000)); err != nil {
		t.Fatalf("Insert sig2 failed: %v", err)
	}
	if err := store.Insert(ctx, testSignal("sig3", "Other|warning", 1704067900000)); err != nil {
		t.Fatalf("Insert sig3 failed: %v", err)
	}

	got, err := store.LastEmitted(ctx, key)
	if err != nil {
		t.Fatalf("LastEmitted failed: %v", err)
	}
	if got.ID != "sig2" {
		t.Errorf("Expected sig2, got %s", got.ID)
	}

	if _, err := store.LastEmitted(ctx, "never|seen"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSignalStore_GetByStatusOrdered(t *testing.T) {
	store := NewSignalStore()
	ctx := context.Background()

	for _, tc := range []struct {
		id string
		at int64
	}{
		{"sig3", 1704067900000},
		{"sig1", 1704067200000},
		{"sig2", 1704067500000},
	} {
		if err := store.Insert(ctx, testSignal(tc.id, "MintABC|warning", tc.at)); err != nil {
			t.Fatalf("Insert %s failed: %v", tc.id, err)
		}
	}
	if err := store.UpdateStatus(ctx, "sig2", domain.SignalFailed, "", 5); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	pending, err := store.GetByStatus(ctx, domain.SignalPending)
	if err != nil {
		t.Fatalf("GetByStatus failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("Expected 2 pending signals, got %d", len(pending))
	}
	if pending[0].ID != "sig1" || pending[1].ID != "sig3" {
		t.Errorf("Wrong order: got %s, %s", pending[0].ID, pending[1].ID)
	}

	failed, err := store.GetByStatus(ctx, domain.SignalFailed)
	if err != nil {
		t.Fatalf("GetByStatus failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "sig2" {
		t.Errorf("Expected only sig2 failed, got %v", failed)
	}
}
