package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"token-sentinel/internal/adapter"
	"token-sentinel/internal/bus"
	"token-sentinel/internal/dedup"
	"token-sentinel/internal/dispatch"
	"token-sentinel/internal/domain"
	"token-sentinel/internal/scorer"
	"token-sentinel/internal/state"
	"token-sentinel/internal/storage/memory"
)

const testPoolID = "PoolEntity1111111111111111111111111111111111"

// stubSource publishes a fixed slice to the bus, then blocks until cancelled
// like a real long-running source would.
type stubSource struct {
	name   string
	bus    *bus.Bus
	events []*domain.Event
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Run(ctx context.Context) error {
	for _, ev := range s.events {
		if err := s.bus.Publish(ctx, ev); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

type stubPoster struct {
	mu    sync.Mutex
	posts []string
}

func (p *stubPoster) Name() string { return "stub" }

func (p *stubPoster) Post(ctx context.Context, text string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posts = append(p.posts, text)
	return fmt.Sprintf("post-%d", len(p.posts)), nil
}

func (p *stubPoster) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.posts)
}

func liqEvent(id string, action domain.LiquidityAction, amount, after float64, ts int64) *domain.Event {
	typ := domain.EventLiquidityAdd
	if action == domain.LiquidityRemove {
		typ = domain.EventLiquidityRemove
	}
	return &domain.Event{
		ID:        id,
		SourceID:  "chain-test",
		Source:    domain.SourceChain,
		Type:      typ,
		Entity:    domain.EntityRef{ID: testPoolID, Kind: domain.EntityPool},
		Seq:       1,
		Timestamp: ts,
		Liquidity: &domain.LiquidityPayload{
			Pool:           testPoolID,
			Action:         action,
			AmountQuote:    amount,
			LiquidityAfter: after,
		},
	}
}

type pipelineHarness struct {
	bus     *bus.Bus
	state   *state.Store
	gate    *dedup.Gate
	poster  *stubPoster
	history *memory.VerdictHistoryStore
	pipe    *Pipeline
}

func newPipelineHarness(t *testing.T, events []*domain.Event) *pipelineHarness {
	t.Helper()
	b := bus.New()
	st := state.NewStore(state.StoreOptions{Snapshots: memory.NewSnapshotStore()})
	sc := scorer.New(scorer.Config{
		LiquidityDropPct:    50,
		LiquidityDropWindow: time.Hour,
		LiquidityWeight:     80,
	})
	signals := memory.NewSignalStore()
	gate := dedup.NewGate(dedup.GateOptions{
		Cooldown:        time.Minute,
		BucketCapacity:  10,
		RefillPerMinute: 10,
		MaxPostsPerDay:  100,
		Signals:         signals,
	}, time.Now().UnixMilli())
	poster := &stubPoster{}
	disp := dispatch.New(gate, poster, dispatch.Options{
		PollInterval: 10 * time.Millisecond,
		Signals:      signals,
	})
	history := memory.NewVerdictHistoryStore()

	pipe, err := New(Options{
		Sources:    []adapter.Source{&stubSource{name: "stub", bus: b, events: events}},
		Bus:        b,
		State:      st,
		Scorer:     sc,
		Gate:       gate,
		Dispatcher: disp,
		History:    history,
		Workers:    2,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &pipelineHarness{bus: b, state: st, gate: gate, poster: poster, history: history, pipe: pipe}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPipelineEndToEnd(t *testing.T) {
	// 90% of the pool's liquidity walks out: warning verdict, one alert.
	now := time.Now().UnixMilli()
	h := newPipelineHarness(t, []*domain.Event{
		liqEvent("ev-add", domain.LiquidityAdd, 1000, 1000, now-60_000),
		liqEvent("ev-remove", domain.LiquidityRemove, 900, 100, now),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.pipe.Run(ctx) }()

	waitFor(t, 3*time.Second, "alert post", func() bool { return h.poster.count() >= 1 })

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}

	if got := h.poster.count(); got != 1 {
		t.Errorf("posted %d alerts, want 1", got)
	}
	snap, err := h.state.Get(testPoolID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.EventCount != 2 {
		t.Errorf("EventCount = %d, want 2", snap.EventCount)
	}
	if snap.Liquidity.Current != 100 {
		t.Errorf("Liquidity.Current = %v, want 100", snap.Liquidity.Current)
	}
}

func TestPipelineDropsRedeliveredEvents(t *testing.T) {
	// The remove event arrives twice with the same id. State must fold it
	// once and only one alert may fire.
	now := time.Now().UnixMilli()
	remove := liqEvent("ev-remove", domain.LiquidityRemove, 900, 100, now)
	h := newPipelineHarness(t, []*domain.Event{
		liqEvent("ev-add", domain.LiquidityAdd, 1000, 1000, now-60_000),
		remove,
		remove,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.pipe.Run(ctx) }()

	waitFor(t, 3*time.Second, "alert post", func() bool { return h.poster.count() >= 1 })
	// Give the duplicate time to flow through before stopping.
	time.Sleep(100 * time.Millisecond)

	cancel()
	<-done

	snap, err := h.state.Get(testPoolID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.EventCount != 2 {
		t.Errorf("EventCount = %d, want 2 (duplicate must not apply)", snap.EventCount)
	}
	if got := h.poster.count(); got != 1 {
		t.Errorf("posted %d alerts, want 1", got)
	}
}

func TestPipelineRecordsVerdictHistory(t *testing.T) {
	now := time.Now().UnixMilli()
	h := newPipelineHarness(t, []*domain.Event{
		liqEvent("ev-add", domain.LiquidityAdd, 1000, 1000, now-60_000),
		liqEvent("ev-remove", domain.LiquidityRemove, 900, 100, now),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.pipe.Run(ctx) }()

	waitFor(t, 3*time.Second, "alert post", func() bool { return h.poster.count() >= 1 })
	cancel()
	<-done

	// The final batch flushes on shutdown.
	verdicts, err := h.history.GetByEntityID(context.Background(), testPoolID)
	if err != nil {
		t.Fatalf("GetByEntityID: %v", err)
	}
	if len(verdicts) != 2 {
		t.Fatalf("recorded %d verdicts, want 2", len(verdicts))
	}
	var sawWarning bool
	for _, v := range verdicts {
		if v.Category == domain.CategoryWarning {
			sawWarning = true
		}
	}
	if !sawWarning {
		t.Error("no warning verdict recorded")
	}
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("New accepted empty options")
	}
}
