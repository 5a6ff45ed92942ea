package memory

import (
	"context"
	"errors"
	"testing"

	"token-sentinel/internal/storage"
)

func TestCursorStore_SaveAndGet(t *testing.T) {
	store := NewCursorStore()
	ctx := context.Background()

	c := &storage.Cursor{SourceID: "chain-raydium", Seq: 42, Position: "slot:271998844", UpdatedAt: 1704067200000}
	if err := store.Save(ctx, c); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "chain-raydium")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Seq != 42 || got.Position != "slot:271998844" {
		t.Errorf("Cursor mismatch: got %+v", got)
	}

	// Save replaces.
	c.Seq = 43
	if err := store.Save(ctx, c); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}
	got, err = store.Get(ctx, "chain-raydium")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Seq != 43 {
		t.Errorf("Expected replaced Seq 43, got %d", got.Seq)
	}
}

func TestCursorStore_NotFound(t *testing.T) {
	store := NewCursorStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "nonexistent")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestCursorStore_InvalidInput(t *testing.T) {
	store := NewCursorStore()
	ctx := context.Background()

	if err := store.Save(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for nil, got %v", err)
	}
	if err := store.Save(ctx, &storage.Cursor{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for empty source id, got %v", err)
	}
}
