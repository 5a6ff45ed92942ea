package idhash

import (
	"testing"

	"token-sentinel/internal/domain"
)

func TestEventID_Deterministic(t *testing.T) {
	id1 := EventID("chain-raydium", domain.SourceChain, domain.EventSwap, "MintABC", 42, 1704067200000)
	id2 := EventID("chain-raydium", domain.SourceChain, domain.EventSwap, "MintABC", 42, 1704067200000)

	if id1 != id2 {
		t.Errorf("Same inputs produced different IDs: %s vs %s", id1, id2)
	}
	if len(id1) != 64 {
		t.Errorf("Expected 64-char hex hash, got %d chars", len(id1))
	}
}

func TestEventID_Uniqueness(t *testing.T) {
	base := EventID("chain-raydium", domain.SourceChain, domain.EventSwap, "MintABC", 42, 1704067200000)

	variants := []string{
		EventID("chain-orca", domain.SourceChain, domain.EventSwap, "MintABC", 42, 1704067200000),
		EventID("chain-raydium", domain.SourceSocial, domain.EventSwap, "MintABC", 42, 1704067200000),
		EventID("chain-raydium", domain.SourceChain, domain.EventTransfer, "MintABC", 42, 1704067200000),
		EventID("chain-raydium", domain.SourceChain, domain.EventSwap, "MintXYZ", 42, 1704067200000),
		EventID("chain-raydium", domain.SourceChain, domain.EventSwap, "MintABC", 43, 1704067200000),
		EventID("chain-raydium", domain.SourceChain, domain.EventSwap, "MintABC", 42, 1704067200001),
	}

	for i, v := range variants {
		if v == base {
			t.Errorf("Variant %d collided with base ID", i)
		}
	}
}

func TestIdempotencyKey_SameBucket(t *testing.T) {
	key := domain.SuppressionKey("MintABC", domain.CategoryWarning)

	// Two emissions 10s apart inside a 60s bucket share a key.
	k1 := IdempotencyKey(key, 1704067200000, 60_000)
	k2 := IdempotencyKey(key, 1704067210000, 60_000)
	if k1 != k2 {
		t.Errorf("Expected same key within bucket, got %s vs %s", k1, k2)
	}

	// Next bucket gets a fresh key.
	k3 := IdempotencyKey(key, 1704067260000, 60_000)
	if k3 == k1 {
		t.Error("Expected different key across buckets")
	}
}

func TestIdempotencyKey_DistinctSuppressionKeys(t *testing.T) {
	k1 := IdempotencyKey(domain.SuppressionKey("MintABC", domain.CategoryWarning), 1704067200000, 60_000)
	k2 := IdempotencyKey(domain.SuppressionKey("MintABC", domain.CategoryOpportunity), 1704067200000, 60_000)

	if k1 == k2 {
		t.Error("Different categories must not share an idempotency key")
	}
}
