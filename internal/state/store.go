package state

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"token-sentinel/internal/domain"
	"token-sentinel/internal/storage"
)

// Store holds rolling per-entity state in memory, sharded by entity id.
// Events for the same entity always land on the same shard and are applied
// under that shard's lock, so at most one update per entity is in flight.
// Reads return value copies and never block writers on other shards.
type Store struct {
	shards []*shard
	opts   StoreOptions
	logger *log.Logger
}

// StoreOptions configures a Store. Zero values get sane defaults.
type StoreOptions struct {
	Shards          int
	LiquidityDeltas int // liquidity change ring size per entity
	MentionWindow   time.Duration
	TradeWindow     time.Duration
	WhaleWindow     time.Duration
	EventRefs       int // last-N event references kept per entity
	DedupRing       int // recently applied event ids kept per entity

	// LargeTransferMin is the token amount above which a transfer
	// destination counts as a large wallet for whale tracking.
	LargeTransferMin float64

	// Snapshots receives checkpoints and archived entities. Optional;
	// without it Checkpoint and ArchiveInactive are no-ops on the cold side.
	Snapshots storage.SnapshotStore

	Logger *log.Logger
}

func (o *StoreOptions) normalize() {
	if o.Shards <= 0 {
		o.Shards = 16
	}
	if o.LiquidityDeltas <= 0 {
		o.LiquidityDeltas = 32
	}
	if o.MentionWindow <= 0 {
		o.MentionWindow = 10 * time.Minute
	}
	if o.TradeWindow <= 0 {
		o.TradeWindow = 15 * time.Minute
	}
	if o.WhaleWindow <= 0 {
		o.WhaleWindow = 30 * time.Minute
	}
	if o.EventRefs <= 0 {
		o.EventRefs = 16
	}
	if o.DedupRing <= 0 {
		o.DedupRing = 256
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
}

type shard struct {
	mu       sync.Mutex
	entities map[string]*entityState
}

// entityState is the mutable hot state behind a snapshot. All access goes
// through the owning shard's lock.
type entityState struct {
	snap domain.EntitySnapshot

	// Raw window samples, oldest first. Pruned on every apply using event
	// time, so replaying the same events reproduces the same aggregates.
	mentions []int64
	trades   []tradeSample
	flows    []flowSample

	// Recently applied event ids for duplicate detection.
	seen     map[string]struct{}
	seenRing []string

	// Welford baseline bookkeeping for mention rates.
	baselineAt int64 // ms timestamp of the last baseline fold

	quarantined bool
}

type tradeSample struct {
	at     int64
	buy    bool
	volume float64
}

type flowSample struct {
	at     int64
	wallet string
	amount float64
}

// NewStore builds a Store with the given options.
func NewStore(opts StoreOptions) *Store {
	opts.normalize()
	s := &Store{
		shards: make([]*shard, opts.Shards),
		opts:   opts,
		logger: opts.Logger,
	}
	for i := range s.shards {
		s.shards[i] = &shard{entities: make(map[string]*entityState)}
	}
	return s
}

func (s *Store) shardFor(entityID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(entityID))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Apply folds one event into its entity's state and returns the resulting
// snapshot. The second return is false when the event id was already applied;
// in that case the snapshot is returned unchanged and no state moves.
// An entity whose state fails its invariant check is reset and quarantined
// for the current event; Apply returns ErrStoreCorruption wrapped with the
// entity id.
func (s *Store) Apply(ctx context.Context, ev *domain.Event) (*domain.EntitySnapshot, bool, error) {
	if err := ev.Validate(); err != nil {
		return nil, false, err
	}
	sh := s.shardFor(ev.Entity.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	es, ok := sh.entities[ev.Entity.ID]
	if !ok {
		es = newEntityState(ev.Entity)
		sh.entities[ev.Entity.ID] = es
	}

	if _, dup := es.seen[ev.ID]; dup {
		snap := es.snap.Clone()
		return &snap, false, nil
	}

	s.applyLocked(es, ev)
	es.remember(ev.ID, s.opts.DedupRing)

	if err := es.snap.CheckInvariants(); err != nil {
		s.logger.Printf("state: quarantining entity %s after event %s: %v", ev.Entity.ID, ev.ID, err)
		fresh := newEntityState(ev.Entity)
		fresh.quarantined = true
		sh.entities[ev.Entity.ID] = fresh
		return nil, false, fmt.Errorf("entity %s: %w", ev.Entity.ID, domain.ErrStoreCorruption)
	}

	snap := es.snap.Clone()
	return &snap, true, nil
}

func newEntityState(ref domain.EntityRef) *entityState {
	return &entityState{
		snap: domain.EntitySnapshot{ID: ref.ID, Kind: ref.Kind},
		seen: make(map[string]struct{}),
	}
}

func (es *entityState) remember(eventID string, ring int) {
	es.seen[eventID] = struct{}{}
	es.seenRing = append(es.seenRing, eventID)
	for len(es.seenRing) > ring {
		delete(es.seen, es.seenRing[0])
		es.seenRing = es.seenRing[1:]
	}
}

func (s *Store) applyLocked(es *entityState, ev *domain.Event) {
	snap := &es.snap
	if snap.EventCount == 0 {
		snap.FirstSeen = ev.Timestamp
	}
	if ev.Timestamp > snap.LastEvent {
		snap.LastEvent = ev.Timestamp
	}
	snap.EventCount++
	es.quarantined = false

	switch ev.Type {
	case domain.EventSwap:
		s.applySwap(es, ev)
	case domain.EventLiquidityAdd, domain.EventLiquidityRemove:
		s.applyLiquidity(es, ev)
	case domain.EventTransfer:
		s.applyTransfer(es, ev)
	case domain.EventMention:
		s.applyMention(es, ev)
	case domain.EventHolders:
		s.applyHolders(es, ev)
	}

	snap.LastEvents = append(snap.LastEvents, domain.EventRef{
		EventID:   ev.ID,
		Type:      ev.Type,
		Timestamp: ev.Timestamp,
	})
	if len(snap.LastEvents) > s.opts.EventRefs {
		snap.LastEvents = snap.LastEvents[len(snap.LastEvents)-s.opts.EventRefs:]
	}
}

func (s *Store) applySwap(es *entityState, ev *domain.Event) {
	p := ev.Swap
	es.trades = append(es.trades, tradeSample{
		at:     ev.Timestamp,
		buy:    p.Direction == domain.SwapBuy,
		volume: p.AmountQuote,
	})
	es.pruneTrades(ev.Timestamp - s.opts.TradeWindow.Milliseconds())

	agg := domain.TradeAggregates{}
	for _, t := range es.trades {
		if t.buy {
			agg.Buys++
			agg.BuyVolume += t.volume
		} else {
			agg.Sells++
			agg.SellVolume += t.volume
		}
	}
	es.snap.Trading = agg
}

func (s *Store) applyLiquidity(es *entityState, ev *domain.Event) {
	p := ev.Liquidity
	delta := p.AmountQuote
	if p.Action == domain.LiquidityRemove {
		delta = -delta
	}

	liq := &es.snap.Liquidity
	liq.Deltas = append(liq.Deltas, domain.LiquidityDelta{
		Timestamp: ev.Timestamp,
		Delta:     delta,
		After:     p.LiquidityAfter,
	})
	if len(liq.Deltas) > s.opts.LiquidityDeltas {
		liq.Deltas = liq.Deltas[len(liq.Deltas)-s.opts.LiquidityDeltas:]
	}
	liq.Current = p.LiquidityAfter

	high := liq.Current
	for _, d := range liq.Deltas {
		if d.After > high {
			high = d.After
		}
		// A removal's pre-change level also counts toward the window high.
		if before := d.After - d.Delta; before > high {
			high = before
		}
	}
	liq.WindowHigh = high
}

func (s *Store) applyTransfer(es *entityState, ev *domain.Event) {
	p := ev.Transfer
	// Only transfers landing in user wallets above the large threshold feed
	// whale tracking; vault/program destinations are pool mechanics.
	if p.ToIsProgram || p.Amount < s.opts.LargeTransferMin {
		es.pruneFlows(ev.Timestamp - s.opts.WhaleWindow.Milliseconds())
		es.recomputeWhale()
		return
	}
	es.flows = append(es.flows, flowSample{at: ev.Timestamp, wallet: p.To, amount: p.Amount})
	es.pruneFlows(ev.Timestamp - s.opts.WhaleWindow.Milliseconds())
	es.recomputeWhale()
}

func (es *entityState) recomputeWhale() {
	agg := domain.WhaleAggregates{}
	wallets := make(map[string]struct{}, len(es.flows))
	for _, f := range es.flows {
		agg.NetInflow += f.amount
		wallets[f.wallet] = struct{}{}
		if f.amount > agg.LargestSingle {
			agg.LargestSingle = f.amount
		}
	}
	agg.LargeWallets = len(wallets)
	es.snap.Whale = agg
}

func (s *Store) applyMention(es *entityState, ev *domain.Event) {
	es.mentions = append(es.mentions, ev.Timestamp)
	cutoff := ev.Timestamp - s.opts.MentionWindow.Milliseconds()
	for len(es.mentions) > 0 && es.mentions[0] < cutoff {
		es.mentions = es.mentions[1:]
	}

	m := &es.snap.Mentions
	m.WindowCount = len(es.mentions)
	minutes := s.opts.MentionWindow.Minutes()
	if minutes > 0 {
		m.RatePerMinute = float64(m.WindowCount) / minutes
	}

	// Fold the observed rate into the Welford baseline at most once per
	// minute of event time, so a burst does not also inflate its own baseline.
	if es.baselineAt == 0 {
		es.baselineAt = ev.Timestamp
		return
	}
	if ev.Timestamp-es.baselineAt >= time.Minute.Milliseconds() {
		m.BaselineCount++
		d := m.RatePerMinute - m.BaselineMean
		m.BaselineMean += d / float64(m.BaselineCount)
		m.BaselineM2 += d * (m.RatePerMinute - m.BaselineMean)
		es.baselineAt = ev.Timestamp
	}
}

func (s *Store) applyHolders(es *entityState, ev *domain.Event) {
	p := ev.Holders
	es.snap.Holders = domain.HolderAggregates{
		HolderCount: p.HolderCount,
		TopShare:    p.TopShare,
		TopN:        p.TopN,
		ObservedAt:  ev.Timestamp,
	}
}

func (es *entityState) pruneTrades(cutoff int64) {
	for len(es.trades) > 0 && es.trades[0].at < cutoff {
		es.trades = es.trades[1:]
	}
}

func (es *entityState) pruneFlows(cutoff int64) {
	for len(es.flows) > 0 && es.flows[0].at < cutoff {
		es.flows = es.flows[1:]
	}
}

// Get returns a copy of an entity's snapshot, or storage.ErrNotFound.
func (s *Store) Get(entityID string) (*domain.EntitySnapshot, error) {
	sh := s.shardFor(entityID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	es, ok := sh.entities[entityID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	snap := es.snap.Clone()
	return &snap, nil
}

// All returns copies of every tracked snapshot, shard by shard.
func (s *Store) All() []*domain.EntitySnapshot {
	var out []*domain.EntitySnapshot
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, es := range sh.entities {
			snap := es.snap.Clone()
			out = append(out, &snap)
		}
		sh.mu.Unlock()
	}
	return out
}

// Len reports the number of entities currently held hot.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entities)
		sh.mu.Unlock()
	}
	return n
}

// Checkpoint writes every hot snapshot to the snapshot store. Called
// periodically so a restart loses at most one interval of aggregates.
func (s *Store) Checkpoint(ctx context.Context) error {
	if s.opts.Snapshots == nil {
		return nil
	}
	snaps := s.All()
	if len(snaps) == 0 {
		return nil
	}
	if err := s.opts.Snapshots.UpsertBulk(ctx, snaps); err != nil {
		return fmt.Errorf("checkpoint %d snapshots: %w", len(snaps), err)
	}
	return nil
}

// Restore loads all persisted snapshots back into the hot store. Window
// samples are not persisted, so restored aggregates stay frozen until new
// events arrive; that beats restarting every entity from zero.
func (s *Store) Restore(ctx context.Context) (int, error) {
	if s.opts.Snapshots == nil {
		return 0, nil
	}
	snaps, err := s.opts.Snapshots.GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore snapshots: %w", err)
	}
	for _, snap := range snaps {
		sh := s.shardFor(snap.ID)
		sh.mu.Lock()
		es := newEntityState(domain.EntityRef{ID: snap.ID, Kind: snap.Kind})
		es.snap = *snap
		sh.entities[snap.ID] = es
		sh.mu.Unlock()
	}
	return len(snaps), nil
}

// ArchiveInactive moves entities whose last event predates the horizon out
// of hot state. Their final snapshot is written cold first; archival never
// drops state without persisting it.
func (s *Store) ArchiveInactive(ctx context.Context, nowMs int64, horizon time.Duration) (int, error) {
	cutoff := nowMs - horizon.Milliseconds()
	archived := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		var stale []*domain.EntitySnapshot
		for _, es := range sh.entities {
			if es.snap.LastEvent < cutoff {
				snap := es.snap.Clone()
				stale = append(stale, &snap)
			}
		}
		if len(stale) > 0 && s.opts.Snapshots != nil {
			if err := s.opts.Snapshots.UpsertBulk(ctx, stale); err != nil {
				sh.mu.Unlock()
				return archived, fmt.Errorf("archive %d snapshots: %w", len(stale), err)
			}
		}
		for _, snap := range stale {
			delete(sh.entities, snap.ID)
			archived++
		}
		sh.mu.Unlock()
	}
	return archived, nil
}
