package state

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"token-sentinel/internal/domain"
	"token-sentinel/internal/idhash"
	"token-sentinel/internal/storage"
	"token-sentinel/internal/storage/memory"
)

const baseTs = int64(1704067200000)

func chainEvent(entity string, kind domain.EntityKind, typ domain.EventType, seq uint64, ts int64) *domain.Event {
	ev := &domain.Event{
		SourceID:  "chain-test",
		Source:    domain.SourceChain,
		Type:      typ,
		Entity:    domain.EntityRef{ID: entity, Kind: kind},
		Seq:       seq,
		Timestamp: ts,
	}
	ev.ID = idhash.EventID(ev.SourceID, ev.Source, ev.Type, ev.Entity.ID, ev.Seq, ev.Timestamp)
	return ev
}

func swapEvent(entity string, seq uint64, ts int64, dir domain.SwapDirection, quote float64) *domain.Event {
	ev := chainEvent(entity, domain.EntityToken, domain.EventSwap, seq, ts)
	ev.Swap = &domain.SwapPayload{Pool: "pool1", Direction: dir, AmountToken: quote * 100, AmountQuote: quote, Wallet: "w1"}
	return ev
}

func liquidityEvent(entity string, seq uint64, ts int64, action domain.LiquidityAction, amount, after float64) *domain.Event {
	typ := domain.EventLiquidityAdd
	if action == domain.LiquidityRemove {
		typ = domain.EventLiquidityRemove
	}
	ev := chainEvent(entity, domain.EntityPool, typ, seq, ts)
	ev.Liquidity = &domain.LiquidityPayload{Pool: entity, Action: action, AmountQuote: amount, LiquidityAfter: after}
	return ev
}

func TestStore_SwapAggregates(t *testing.T) {
	store := NewStore(StoreOptions{TradeWindow: 10 * time.Minute})
	ctx := context.Background()

	events := []*domain.Event{
		swapEvent("MintA", 1, baseTs, domain.SwapBuy, 100),
		swapEvent("MintA", 2, baseTs+1000, domain.SwapBuy, 50),
		swapEvent("MintA", 3, baseTs+2000, domain.SwapSell, 30),
	}
	var snap *domain.EntitySnapshot
	for _, ev := range events {
		var applied bool
		var err error
		snap, applied, err = store.Apply(ctx, ev)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if !applied {
			t.Fatalf("Event %s not applied", ev.ID)
		}
	}

	if snap.Trading.Buys != 2 || snap.Trading.Sells != 1 {
		t.Errorf("Buys/Sells mismatch: got %d/%d, want 2/1", snap.Trading.Buys, snap.Trading.Sells)
	}
	if snap.Trading.BuyVolume != 150 || snap.Trading.SellVolume != 30 {
		t.Errorf("Volume mismatch: got %v/%v, want 150/30", snap.Trading.BuyVolume, snap.Trading.SellVolume)
	}
	if snap.EventCount != 3 {
		t.Errorf("EventCount mismatch: got %d, want 3", snap.EventCount)
	}
	if snap.FirstSeen != baseTs || snap.LastEvent != baseTs+2000 {
		t.Errorf("FirstSeen/LastEvent mismatch: %d/%d", snap.FirstSeen, snap.LastEvent)
	}
}

func TestStore_TradeWindowPrunesByEventTime(t *testing.T) {
	store := NewStore(StoreOptions{TradeWindow: 5 * time.Minute})
	ctx := context.Background()

	if _, _, err := store.Apply(ctx, swapEvent("MintA", 1, baseTs, domain.SwapBuy, 100)); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	// Ten minutes of event time later the first swap is out of the window.
	snap, _, err := store.Apply(ctx, swapEvent("MintA", 2, baseTs+10*time.Minute.Milliseconds(), domain.SwapSell, 30))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if snap.Trading.Buys != 0 || snap.Trading.Sells != 1 {
		t.Errorf("Expected stale buy pruned: got %d buys, %d sells", snap.Trading.Buys, snap.Trading.Sells)
	}
}

func TestStore_LiquidityAggregates(t *testing.T) {
	store := NewStore(StoreOptions{LiquidityDeltas: 8})
	ctx := context.Background()

	if _, _, err := store.Apply(ctx, liquidityEvent("PoolA", 1, baseTs, domain.LiquidityAdd, 10000, 10000)); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	snap, _, err := store.Apply(ctx, liquidityEvent("PoolA", 2, baseTs+1000, domain.LiquidityRemove, 6000, 4000))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if snap.Liquidity.Current != 4000 {
		t.Errorf("Current mismatch: got %v, want 4000", snap.Liquidity.Current)
	}
	if snap.Liquidity.WindowHigh != 10000 {
		t.Errorf("WindowHigh mismatch: got %v, want 10000", snap.Liquidity.WindowHigh)
	}
	if len(snap.Liquidity.Deltas) != 2 {
		t.Fatalf("Expected 2 deltas, got %d", len(snap.Liquidity.Deltas))
	}
	if snap.Liquidity.Deltas[1].Delta != -6000 {
		t.Errorf("Removal delta mismatch: got %v, want -6000", snap.Liquidity.Deltas[1].Delta)
	}
}

func TestStore_HoldersOverwrite(t *testing.T) {
	store := NewStore(StoreOptions{})
	ctx := context.Background()

	ev := chainEvent("MintA", domain.EntityToken, domain.EventHolders, 1, baseTs)
	ev.Holders = &domain.HoldersPayload{HolderCount: 120, TopShare: 0.4, TopN: 10}
	if _, _, err := store.Apply(ctx, ev); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	ev2 := chainEvent("MintA", domain.EntityToken, domain.EventHolders, 2, baseTs+1000)
	ev2.Holders = &domain.HoldersPayload{HolderCount: 95, TopShare: 0.72, TopN: 10}
	snap, _, err := store.Apply(ctx, ev2)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if snap.Holders.HolderCount != 95 || snap.Holders.TopShare != 0.72 {
		t.Errorf("Holders not overwritten: %+v", snap.Holders)
	}
	if snap.Holders.ObservedAt != baseTs+1000 {
		t.Errorf("ObservedAt mismatch: got %d", snap.Holders.ObservedAt)
	}
}

func TestStore_WhaleIgnoresProgramAndSmallTransfers(t *testing.T) {
	store := NewStore(StoreOptions{LargeTransferMin: 1000, WhaleWindow: time.Hour})
	ctx := context.Background()

	mk := func(seq uint64, to string, amount float64, program bool) *domain.Event {
		ev := chainEvent("MintA", domain.EntityToken, domain.EventTransfer, seq, baseTs+int64(seq)*1000)
		ev.Transfer = &domain.TransferPayload{From: "src", To: to, Amount: amount, ToIsProgram: program}
		return ev
	}

	events := []*domain.Event{
		mk(1, "whale1", 5000, false),
		mk(2, "vault", 9000, true),   // program destination, ignored
		mk(3, "small", 10, false),    // below threshold, ignored
		mk(4, "whale2", 2000, false), //
		mk(5, "whale1", 3000, false),
	}
	var snap *domain.EntitySnapshot
	for _, ev := range events {
		var err error
		snap, _, err = store.Apply(ctx, ev)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
	}

	if snap.Whale.NetInflow != 10000 {
		t.Errorf("NetInflow mismatch: got %v, want 10000", snap.Whale.NetInflow)
	}
	if snap.Whale.LargeWallets != 2 {
		t.Errorf("LargeWallets mismatch: got %d, want 2", snap.Whale.LargeWallets)
	}
	if snap.Whale.LargestSingle != 5000 {
		t.Errorf("LargestSingle mismatch: got %v, want 5000", snap.Whale.LargestSingle)
	}
}

func TestStore_MentionWindowAndBaseline(t *testing.T) {
	store := NewStore(StoreOptions{MentionWindow: 10 * time.Minute})
	ctx := context.Background()

	var snap *domain.EntitySnapshot
	for i := 0; i < 5; i++ {
		ev := chainEvent("$SOLY", domain.EntityToken, domain.EventMention, uint64(i+1), baseTs+int64(i)*2*time.Minute.Milliseconds())
		ev.Source = domain.SourceSocial
		ev.ID = idhash.EventID(ev.SourceID, ev.Source, ev.Type, ev.Entity.ID, ev.Seq, ev.Timestamp)
		ev.Mention = &domain.MentionPayload{Author: "user", Text: "to the moon"}
		var err error
		snap, _, err = store.Apply(ctx, ev)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
	}

	if snap.Mentions.WindowCount != 5 {
		t.Errorf("WindowCount mismatch: got %d, want 5", snap.Mentions.WindowCount)
	}
	if snap.Mentions.RatePerMinute != 0.5 {
		t.Errorf("RatePerMinute mismatch: got %v, want 0.5", snap.Mentions.RatePerMinute)
	}
	// Mentions 2..5 each arrive more than a minute after the previous fold.
	if snap.Mentions.BaselineCount != 4 {
		t.Errorf("BaselineCount mismatch: got %d, want 4", snap.Mentions.BaselineCount)
	}
	if snap.Mentions.BaselineMean <= 0 {
		t.Errorf("BaselineMean should be positive, got %v", snap.Mentions.BaselineMean)
	}
}

func TestStore_DuplicateEventIsIdempotent(t *testing.T) {
	store := NewStore(StoreOptions{})
	ctx := context.Background()

	ev := swapEvent("MintA", 1, baseTs, domain.SwapBuy, 100)
	first, applied, err := store.Apply(ctx, ev)
	if err != nil || !applied {
		t.Fatalf("First apply: applied=%v err=%v", applied, err)
	}

	second, applied, err := store.Apply(ctx, ev)
	if err != nil {
		t.Fatalf("Second apply failed: %v", err)
	}
	if applied {
		t.Error("Duplicate event was applied")
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Snapshot changed on duplicate apply:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestStore_ReplayIsDeterministic(t *testing.T) {
	var events []*domain.Event
	for i := 0; i < 50; i++ {
		entity := fmt.Sprintf("Mint%d", i%5)
		switch i % 3 {
		case 0:
			events = append(events, swapEvent(entity, uint64(i), baseTs+int64(i)*1000, domain.SwapBuy, float64(10+i)))
		case 1:
			events = append(events, swapEvent(entity, uint64(i), baseTs+int64(i)*1000, domain.SwapSell, float64(5+i)))
		default:
			events = append(events, liquidityEvent(entity, uint64(i), baseTs+int64(i)*1000, domain.LiquidityAdd, float64(100*i), float64(1000+100*i)))
		}
	}

	run := func() []*domain.EntitySnapshot {
		store := NewStore(StoreOptions{Shards: 4})
		for _, ev := range events {
			if _, _, err := store.Apply(context.Background(), ev); err != nil {
				t.Fatalf("Apply failed: %v", err)
			}
		}
		var snaps []*domain.EntitySnapshot
		for i := 0; i < 5; i++ {
			snap, err := store.Get(fmt.Sprintf("Mint%d", i))
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			snaps = append(snaps, snap)
		}
		return snaps
	}

	if !reflect.DeepEqual(run(), run()) {
		t.Error("Two identical replays produced different snapshots")
	}
}

func TestStore_ConcurrentApplySameEntity(t *testing.T) {
	const goroutines = 8
	const perG = 25
	store := NewStore(StoreOptions{Shards: 4, TradeWindow: 24 * time.Hour})

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				seq := uint64(g*perG + i)
				dir := domain.SwapBuy
				if seq%2 == 1 {
					dir = domain.SwapSell
				}
				ev := swapEvent("MintA", seq, baseTs+int64(seq)*10, dir, 10)
				if _, _, err := store.Apply(context.Background(), ev); err != nil {
					t.Errorf("Apply seq %d failed: %v", seq, err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	snap, err := store.Get("MintA")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	total := goroutines * perG
	if snap.EventCount != int64(total) {
		t.Errorf("EventCount = %d, want %d", snap.EventCount, total)
	}
	if snap.Trading.Buys != total/2 || snap.Trading.Sells != total/2 {
		t.Errorf("Trades = %d buys / %d sells, want %d each", snap.Trading.Buys, snap.Trading.Sells, total/2)
	}
	if snap.Trading.BuyVolume != float64(total/2)*10 {
		t.Errorf("BuyVolume = %.0f, want %.0f", snap.Trading.BuyVolume, float64(total/2)*10)
	}
	if snap.LastEvent != baseTs+int64(total-1)*10 {
		t.Errorf("LastEvent = %d, want %d", snap.LastEvent, baseTs+int64(total-1)*10)
	}
}

func TestStore_ConcurrentApplyDistinctEntities(t *testing.T) {
	const entities = 6
	const perEntity = 20
	build := func(entity int) []*domain.Event {
		name := fmt.Sprintf("Mint%d", entity)
		var evs []*domain.Event
		for i := 0; i < perEntity; i++ {
			seq := uint64(i + 1)
			ts := baseTs + int64(i)*1000
			switch i % 3 {
			case 0:
				evs = append(evs, swapEvent(name, seq, ts, domain.SwapBuy, float64(10+i)))
			case 1:
				evs = append(evs, swapEvent(name, seq, ts, domain.SwapSell, float64(5+i)))
			default:
				evs = append(evs, liquidityEvent(name, seq, ts, domain.LiquidityAdd, float64(100*i), float64(1000+100*i)))
			}
		}
		return evs
	}

	sequential := NewStore(StoreOptions{Shards: 4})
	for e := 0; e < entities; e++ {
		for _, ev := range build(e) {
			if _, _, err := sequential.Apply(context.Background(), ev); err != nil {
				t.Fatalf("Sequential apply failed: %v", err)
			}
		}
	}

	// Per-entity event order is preserved; only entities interleave.
	concurrent := NewStore(StoreOptions{Shards: 4})
	var wg sync.WaitGroup
	for e := 0; e < entities; e++ {
		wg.Add(1)
		go func(e int) {
			defer wg.Done()
			for _, ev := range build(e) {
				if _, _, err := concurrent.Apply(context.Background(), ev); err != nil {
					t.Errorf("Concurrent apply failed: %v", err)
					return
				}
			}
		}(e)
	}
	wg.Wait()

	for e := 0; e < entities; e++ {
		name := fmt.Sprintf("Mint%d", e)
		want, err := sequential.Get(name)
		if err != nil {
			t.Fatalf("Get %s from sequential store: %v", name, err)
		}
		got, err := concurrent.Get(name)
		if err != nil {
			t.Fatalf("Get %s from concurrent store: %v", name, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Snapshot for %s diverged under concurrency:\n got %+v\nwant %+v", name, got, want)
		}
	}
}

func TestStore_QuarantineOnCorruption(t *testing.T) {
	store := NewStore(StoreOptions{})
	ctx := context.Background()

	if _, _, err := store.Apply(ctx, swapEvent("MintA", 1, baseTs, domain.SwapBuy, 100)); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// TopShare above 1 violates the snapshot invariant.
	bad := chainEvent("MintA", domain.EntityToken, domain.EventHolders, 2, baseTs+1000)
	bad.Holders = &domain.HoldersPayload{HolderCount: 10, TopShare: 1.5, TopN: 10}
	_, applied, err := store.Apply(ctx, bad)
	if !errors.Is(err, domain.ErrStoreCorruption) {
		t.Fatalf("Expected ErrStoreCorruption, got %v", err)
	}
	if applied {
		t.Error("Corrupting event reported as applied")
	}

	// The entity was reset, not crashed; new events start from scratch.
	snap, applied, err := store.Apply(ctx, swapEvent("MintA", 3, baseTs+2000, domain.SwapBuy, 10))
	if err != nil || !applied {
		t.Fatalf("Apply after quarantine: applied=%v err=%v", applied, err)
	}
	if snap.EventCount != 1 {
		t.Errorf("Expected reset entity with EventCount 1, got %d", snap.EventCount)
	}
}

func TestStore_GetNotFound(t *testing.T) {
	store := NewStore(StoreOptions{})
	if _, err := store.Get("nonexistent"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStore_CheckpointAndRestore(t *testing.T) {
	snaps := memory.NewSnapshotStore()
	store := NewStore(StoreOptions{Snapshots: snaps})
	ctx := context.Background()

	if _, _, err := store.Apply(ctx, swapEvent("MintA", 1, baseTs, domain.SwapBuy, 100)); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if _, _, err := store.Apply(ctx, swapEvent("MintB", 2, baseTs+1000, domain.SwapSell, 50)); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if err := store.Checkpoint(ctx); err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}

	restored := NewStore(StoreOptions{Snapshots: snaps})
	n, err := restored.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 restored entities, got %d", n)
	}

	snap, err := restored.Get("MintA")
	if err != nil {
		t.Fatalf("Get after restore failed: %v", err)
	}
	if snap.Trading.Buys != 1 || snap.Trading.BuyVolume != 100 {
		t.Errorf("Restored aggregates mismatch: %+v", snap.Trading)
	}
}

func TestStore_ArchiveInactive(t *testing.T) {
	snaps := memory.NewSnapshotStore()
	store := NewStore(StoreOptions{Snapshots: snaps})
	ctx := context.Background()

	if _, _, err := store.Apply(ctx, swapEvent("OldMint", 1, baseTs, domain.SwapBuy, 100)); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	recentTs := baseTs + 40*24*time.Hour.Milliseconds()
	if _, _, err := store.Apply(ctx, swapEvent("FreshMint", 2, recentTs, domain.SwapBuy, 100)); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	archived, err := store.ArchiveInactive(ctx, recentTs, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("ArchiveInactive failed: %v", err)
	}
	if archived != 1 {
		t.Errorf("Expected 1 archived, got %d", archived)
	}
	if store.Len() != 1 {
		t.Errorf("Expected 1 hot entity left, got %d", store.Len())
	}
	if _, err := store.Get("OldMint"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Archived entity still hot: %v", err)
	}

	// The final snapshot landed cold before eviction.
	cold, err := snaps.GetByID(ctx, "OldMint")
	if err != nil {
		t.Fatalf("Cold snapshot missing: %v", err)
	}
	if cold.Trading.Buys != 1 {
		t.Errorf("Cold snapshot aggregates mismatch: %+v", cold.Trading)
	}
}
