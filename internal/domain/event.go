package domain

// SourceKind identifies the class of upstream source an event came from.
type SourceKind string

const (
	SourceChain  SourceKind = "chain"
	SourceSocial SourceKind = "social"
	SourceWallet SourceKind = "wallet"
)

// String returns the string representation of SourceKind.
func (s SourceKind) String() string {
	return string(s)
}

// IsValid checks if the source kind is a known value.
func (s SourceKind) IsValid() bool {
	return s == SourceChain || s == SourceSocial || s == SourceWallet
}

// EventType identifies the normalized payload carried by an Event.
type EventType string

const (
	EventSwap            EventType = "swap"
	EventLiquidityAdd    EventType = "liquidity_add"
	EventLiquidityRemove EventType = "liquidity_remove"
	EventTransfer        EventType = "transfer"
	EventMention         EventType = "mention"
	EventHolders         EventType = "holders"
)

// Event is the common envelope every adapter normalizes into.
// Immutable once created. Ordered by Seq within a source, not globally.
type Event struct {
	ID        string     // deterministic hash, see idhash.EventID
	SourceID  string     // adapter instance name, e.g. "chain-raydium"
	Source    SourceKind // chain | social | wallet
	Type      EventType
	Entity    EntityRef
	Seq       uint64 // per-source ingestion sequence number
	Timestamp int64  // Unix timestamp in milliseconds

	// Exactly one payload pointer is set, matching Type.
	Swap      *SwapPayload
	Liquidity *LiquidityPayload
	Transfer  *TransferPayload
	Mention   *MentionPayload
	Holders   *HoldersPayload
}

// EntityRef identifies the entity an event concerns.
type EntityRef struct {
	ID   string     // mint address / wallet address / pool address / handle
	Kind EntityKind // token | wallet | pool
}

// SwapDirection distinguishes buys from sells relative to the tracked token.
type SwapDirection string

const (
	SwapBuy  SwapDirection = "buy"
	SwapSell SwapDirection = "sell"
)

// SwapPayload carries a DEX swap touching the tracked token.
type SwapPayload struct {
	Pool        string
	Direction   SwapDirection
	AmountToken float64
	AmountQuote float64 // SOL/USDC side
	Wallet      string  // initiating wallet
}

// LiquidityAction distinguishes pool liquidity adds from removals.
type LiquidityAction string

const (
	LiquidityAdd    LiquidityAction = "add"
	LiquidityRemove LiquidityAction = "remove"
)

// LiquidityPayload carries a pool liquidity change.
type LiquidityPayload struct {
	Pool           string
	Action         LiquidityAction
	AmountQuote    float64 // quote-side amount moved
	LiquidityAfter float64 // total pool liquidity after the change
}

// TransferPayload carries a wallet-to-wallet token transfer.
type TransferPayload struct {
	From   string
	To     string
	Amount float64 // token units
	// ToIsProgram is true when the destination is a program-derived
	// account (pool vault etc), not a user wallet.
	ToIsProgram bool
}

// MentionPayload carries a single social mention of the tracked entity.
type MentionPayload struct {
	Author string
	Text   string
}

// HoldersPayload carries a holder-distribution observation for a token.
type HoldersPayload struct {
	HolderCount int
	TopShare    float64 // fraction of supply held by the top-N wallets, 0..1
	TopN        int     // how many wallets TopShare covers
}

// Validate checks the envelope invariants: known kinds, a non-empty entity
// reference, and a payload matching the declared type.
func (e *Event) Validate() error {
	if e == nil {
		return ErrMalformedEvent
	}
	if !e.Source.IsValid() || e.Entity.ID == "" || !e.Entity.Kind.IsValid() || e.Timestamp <= 0 {
		return ErrMalformedEvent
	}
	switch e.Type {
	case EventSwap:
		if e.Swap == nil {
			return ErrMalformedEvent
		}
	case EventLiquidityAdd, EventLiquidityRemove:
		if e.Liquidity == nil {
			return ErrMalformedEvent
		}
	case EventTransfer:
		if e.Transfer == nil {
			return ErrMalformedEvent
		}
	case EventMention:
		if e.Mention == nil {
			return ErrMalformedEvent
		}
	case EventHolders:
		if e.Holders == nil {
			return ErrMalformedEvent
		}
	default:
		return ErrMalformedEvent
	}
	return nil
}
