package domain

// EntityKind identifies what class of entity the pipeline tracks.
type EntityKind string

const (
	EntityToken  EntityKind = "token"
	EntityWallet EntityKind = "wallet"
	EntityPool   EntityKind = "pool"
)

// String returns the string representation of EntityKind.
func (k EntityKind) String() string {
	return string(k)
}

// IsValid checks if the entity kind is a known value.
func (k EntityKind) IsValid() bool {
	return k == EntityToken || k == EntityWallet || k == EntityPool
}

// EventRef is a lightweight reference to a previously applied event.
type EventRef struct {
	EventID   string
	Type      EventType
	Timestamp int64
}

// LiquidityDelta records one liquidity change observation.
type LiquidityDelta struct {
	Timestamp int64
	Delta     float64 // signed quote-side change
	After     float64 // pool liquidity after the change
}

// LiquidityAggregates is the rolling liquidity view for an entity.
type LiquidityAggregates struct {
	Current    float64          // latest known pool liquidity
	WindowHigh float64          // highest liquidity seen inside the delta window
	Deltas     []LiquidityDelta // last K changes, oldest first
}

// HolderAggregates is the latest holder-distribution observation.
type HolderAggregates struct {
	HolderCount int
	TopShare    float64 // 0..1, fraction held by top-N wallets
	TopN        int
	ObservedAt  int64 // 0 if never observed
}

// MentionAggregates tracks social mention velocity against a rolling baseline.
// The baseline is a Welford running mean/variance of per-minute mention rates.
type MentionAggregates struct {
	WindowCount   int     // mentions inside the sliding window
	RatePerMinute float64 // current rate derived from the window
	BaselineCount int64   // Welford sample count
	BaselineMean  float64 // Welford running mean
	BaselineM2    float64 // Welford running sum of squared deviations
}

// TradeAggregates tracks buy/sell activity over a trailing window.
type TradeAggregates struct {
	Buys       int
	Sells      int
	BuyVolume  float64 // quote-side
	SellVolume float64
}

// WhaleAggregates tracks net inflow to large wallets over a trailing window.
type WhaleAggregates struct {
	NetInflow     float64 // quote-side net flow into tracked large wallets
	LargeWallets  int     // distinct large wallets seen in the window
	LargestSingle float64 // largest single inflow in the window
}

// EntitySnapshot is the read-only view of an entity's rolling state.
// Snapshots are value copies produced by the state store; mutating one
// has no effect on the store.
type EntitySnapshot struct {
	ID         string
	Kind       EntityKind
	FirstSeen  int64 // ms
	LastEvent  int64 // ms, timestamp of last applied event
	EventCount int64

	Liquidity LiquidityAggregates
	Holders   HolderAggregates
	Mentions  MentionAggregates
	Trading   TradeAggregates
	Whale     WhaleAggregates

	LastEvents []EventRef // last K applied events, oldest first
}

// Clone returns a deep copy. The state store hands out clones so callers
// can never alias its internal slices.
func (s *EntitySnapshot) Clone() EntitySnapshot {
	out := *s
	if len(s.Liquidity.Deltas) > 0 {
		out.Liquidity.Deltas = make([]LiquidityDelta, len(s.Liquidity.Deltas))
		copy(out.Liquidity.Deltas, s.Liquidity.Deltas)
	}
	if len(s.LastEvents) > 0 {
		out.LastEvents = make([]EventRef, len(s.LastEvents))
		copy(out.LastEvents, s.LastEvents)
	}
	return out
}

// CheckInvariants verifies internal consistency of a snapshot. A violation
// means the entity's state is corrupt and should be quarantined.
func (s *EntitySnapshot) CheckInvariants() error {
	if s.ID == "" || !s.Kind.IsValid() {
		return ErrStoreCorruption
	}
	if s.EventCount < 0 || s.FirstSeen > s.LastEvent && s.EventCount > 0 {
		return ErrStoreCorruption
	}
	if s.Liquidity.Current < 0 || s.Holders.TopShare < 0 || s.Holders.TopShare > 1 {
		return ErrStoreCorruption
	}
	if s.Trading.Buys < 0 || s.Trading.Sells < 0 {
		return ErrStoreCorruption
	}
	return nil
}
