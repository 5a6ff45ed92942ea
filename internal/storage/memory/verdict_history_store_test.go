package memory

import (
	"context"
	"errors"
	"testing"

	"token-sentinel/internal/domain"
	"token-sentinel/internal/storage"
)

func testVerdict(entityID, triggerID string, producedAt int64) *domain.Verdict {
	return &domain.Verdict{
		EntityID:   entityID,
		EntityKind: domain.EntityToken,
		Score:      55,
		Category:   domain.CategoryWarning,
		Reasons:    []domain.RuleScore{{Code: domain.ReasonHolderConcentration, Weighted: 55}},
		ProducedAt: producedAt,
		TriggerID:  triggerID,
	}
}

func TestVerdictHistoryStore_InsertBulkAndGetByEntity(t *testing.T) {
	store := NewVerdictHistoryStore()
	ctx := context.Background()

	verdicts := []*domain.Verdict{
		testVerdict("MintA", "evt2", 1704067500000),
		testVerdict("MintA", "evt1", 1704067200000),
		testVerdict("MintB", "evt3", 1704067300000),
	}
	if err := store.InsertBulk(ctx, verdicts); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := store.GetByEntityID(ctx, "MintA")
	if err != nil {
		t.Fatalf("GetByEntityID failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 verdicts, got %d", len(got))
	}
	if got[0].TriggerID != "evt1" || got[1].TriggerID != "evt2" {
		t.Errorf("Wrong order: got %s, %s", got[0].TriggerID, got[1].TriggerID)
	}
}

func TestVerdictHistoryStore_DuplicateRejected(t *testing.T) {
	store := NewVerdictHistoryStore()
	ctx := context.Background()

	if err := store.InsertBulk(ctx, []*domain.Verdict{testVerdict("MintA", "evt1", 1)}); err != nil {
		t.Fatalf("First InsertBulk failed: %v", err)
	}

	err := store.InsertBulk(ctx, []*domain.Verdict{
		testVerdict("MintA", "evt2", 2),
		testVerdict("MintA", "evt1", 1),
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}

	// Rejection happens before any row lands.
	got, err := store.GetByEntityID(ctx, "MintA")
	if err != nil {
		t.Fatalf("GetByEntityID failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Expected 1 verdict after rejected batch, got %d", len(got))
	}
}

func TestVerdictHistoryStore_GetByTimeRange(t *testing.T) {
	store := NewVerdictHistoryStore()
	ctx := context.Background()

	verdicts := []*domain.Verdict{
		testVerdict("MintA", "evt1", 1000),
		testVerdict("MintA", "evt2", 2000),
		testVerdict("MintB", "evt3", 3000),
	}
	if err := store.InsertBulk(ctx, verdicts); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := store.GetByTimeRange(ctx, 1000, 2000)
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 verdicts in range, got %d", len(got))
	}
	if got[0].ProducedAt != 1000 || got[1].ProducedAt != 2000 {
		t.Errorf("Wrong order or bounds: %d, %d", got[0].ProducedAt, got[1].ProducedAt)
	}
}

func TestVerdictHistoryStore_InvalidInput(t *testing.T) {
	store := NewVerdictHistoryStore()
	ctx := context.Background()

	err := store.InsertBulk(ctx, []*domain.Verdict{{EntityID: "MintA"}})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for missing trigger id, got %v", err)
	}
}
