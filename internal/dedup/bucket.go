package dedup

import "time"

// TokenBucket is an explicit-state rate limiter. All state is exported so a
// checkpoint can serialize the struct and hand it back on restart, keeping
// the budget intact across restarts.
type TokenBucket struct {
	Capacity        float64 `json:"capacity"`
	RefillPerMinute float64 `json:"refill_per_minute"`
	Level           float64 `json:"level"`
	LastRefill      int64   `json:"last_refill"` // ms
}

// NewTokenBucket creates a full bucket anchored at now.
func NewTokenBucket(capacity, refillPerMinute float64, nowMs int64) *TokenBucket {
	return &TokenBucket{
		Capacity:        capacity,
		RefillPerMinute: refillPerMinute,
		Level:           capacity,
		LastRefill:      nowMs,
	}
}

// refill credits tokens for the elapsed time, capped at capacity. Time going
// backwards (clock skew, replay) credits nothing.
func (b *TokenBucket) refill(nowMs int64) {
	if nowMs <= b.LastRefill {
		return
	}
	elapsed := float64(nowMs-b.LastRefill) / float64(time.Minute.Milliseconds())
	b.Level += elapsed * b.RefillPerMinute
	if b.Level > b.Capacity {
		b.Level = b.Capacity
	}
	b.LastRefill = nowMs
}

// TryTake consumes one token if available.
func (b *TokenBucket) TryTake(nowMs int64) bool {
	b.refill(nowMs)
	if b.Level < 1 {
		return false
	}
	b.Level--
	return true
}

// Peek reports whether a token is available without consuming it.
func (b *TokenBucket) Peek(nowMs int64) bool {
	b.refill(nowMs)
	return b.Level >= 1
}
