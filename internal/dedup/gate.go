package dedup

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"token-sentinel/internal/domain"
	"token-sentinel/internal/storage"
)

// Decision is the gate's ruling on an offered verdict.
type Decision string

const (
	DecisionAdmitted  Decision = "admitted"
	DecisionNeutral   Decision = "neutral"
	DecisionCooldown  Decision = "cooldown"
	DecisionDailyCap  Decision = "daily_cap" // applied at release time; see GateOptions.OnDailyCap
	DecisionEscalated Decision = "escalated" // admitted inside cooldown on a score jump
)

// GateOptions configures the gate. Zero values get sane defaults.
type GateOptions struct {
	Cooldown            time.Duration
	EscalationThreshold float64 // score points above the last emission that break cooldown
	BucketCapacity      float64
	RefillPerMinute     float64
	QueueDepth          int
	MaxPostsPerDay      int

	// Bucket restores a checkpointed token bucket. Optional.
	Bucket *TokenBucket

	// Signals persists emission records. Required; the cooldown state is
	// rebuilt from it after a restart.
	Signals storage.SignalStore

	// OnDailyCap fires each time the daily cap blocks a pending signal's
	// release. Optional.
	OnDailyCap func()

	Logger *log.Logger
}

func (o *GateOptions) normalize() {
	if o.Cooldown <= 0 {
		o.Cooldown = 15 * time.Minute
	}
	if o.EscalationThreshold <= 0 {
		o.EscalationThreshold = 20
	}
	if o.BucketCapacity <= 0 {
		o.BucketCapacity = 5
	}
	if o.RefillPerMinute <= 0 {
		o.RefillPerMinute = 1
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 64
	}
	if o.MaxPostsPerDay <= 0 {
		o.MaxPostsPerDay = 50
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
}

// Gate is the signal deduplicator and rate limiter. Verdicts are offered to
// it; those that clear suppression become pending signals in a bounded
// priority queue, drained by the dispatcher at the pace the token bucket and
// daily cap allow. Safe for concurrent use.
type Gate struct {
	mu     sync.Mutex // scoring workers offer while the dispatcher polls
	opts   GateOptions
	bucket *TokenBucket
	queue  *signalQueue
	logger *log.Logger

	// lastEmit caches the latest emission per suppression key. Misses fall
	// through to the signal store so cooldowns survive restarts, and
	// expired entries are swept so the cache stays bounded by the set of
	// keys active within one cooldown window.
	lastEmit  map[string]emission
	nextSweep int64 // ms, next lastEmit sweep

	postedToday int
	day         int64 // UTC day number of postedToday
}

type emission struct {
	at    int64
	score float64
}

// NewGate creates a gate. The bucket starts full unless a checkpointed one
// is supplied.
func NewGate(opts GateOptions, nowMs int64) *Gate {
	opts.normalize()
	bucket := opts.Bucket
	if bucket == nil {
		bucket = NewTokenBucket(opts.BucketCapacity, opts.RefillPerMinute, nowMs)
	}
	return &Gate{
		opts:     opts,
		bucket:   bucket,
		queue:    newSignalQueue(opts.QueueDepth),
		logger:   opts.Logger,
		lastEmit: make(map[string]emission),
		day:      utcDay(nowMs),
	}
}

// Offer runs a verdict through suppression. Admitted verdicts become pending
// signals, are persisted, and wait in the queue; the returned signal is nil
// for every other decision. A full queue evicts the lowest-priority signal,
// which is marked dropped.
func (g *Gate) Offer(ctx context.Context, v *domain.Verdict, nowMs int64) (*domain.Signal, Decision, error) {
	if v.Category == domain.CategoryNeutral {
		return nil, DecisionNeutral, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweepLocked(nowMs)

	key := domain.SuppressionKey(v.EntityID, v.Category)
	decision := DecisionAdmitted

	last, known, err := g.lastEmission(ctx, key)
	if err != nil {
		return nil, "", err
	}
	if known && nowMs-last.at < g.opts.Cooldown.Milliseconds() {
		if v.Score < last.score+g.opts.EscalationThreshold {
			return nil, DecisionCooldown, nil
		}
		decision = DecisionEscalated
	}

	sig := &domain.Signal{
		ID:             uuid.New().String(),
		Verdict:        *v,
		SuppressionKey: key,
		EmittedAt:      nowMs,
		Status:         domain.SignalPending,
	}
	if err := g.opts.Signals.Insert(ctx, sig); err != nil {
		return nil, "", err
	}
	g.lastEmit[key] = emission{at: nowMs, score: v.Score}

	if evicted := g.queue.Push(sig); evicted != nil {
		g.logger.Printf("dedup: queue full, dropping signal %s (key=%s score=%.0f)",
			evicted.ID, evicted.SuppressionKey, evicted.Verdict.Score)
		if err := g.opts.Signals.UpdateStatus(ctx, evicted.ID, domain.SignalDropped, "", 0); err != nil {
			g.logger.Printf("dedup: marking dropped signal %s: %v", evicted.ID, err)
		}
		if evicted.ID == sig.ID {
			return nil, decision, nil
		}
	}
	return sig, decision, nil
}

// Next hands the dispatcher the highest-priority pending signal if the
// rate limits allow one. Returns nil when the queue is empty, the bucket is
// dry, or the daily cap is reached.
func (g *Gate) Next(nowMs int64) *domain.Signal {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.queue.Len() == 0 {
		return nil
	}
	if d := utcDay(nowMs); d != g.day {
		g.day = d
		g.postedToday = 0
	}
	if g.postedToday >= g.opts.MaxPostsPerDay {
		if g.opts.OnDailyCap != nil {
			g.opts.OnDailyCap()
		}
		return nil
	}
	if !g.bucket.TryTake(nowMs) {
		return nil
	}
	g.postedToday++
	return g.queue.Pop()
}

// QueueLen reports the number of signals waiting to be dispatched.
func (g *Gate) QueueLen() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queue.Len()
}

// BucketState returns a copy of the bucket for checkpointing.
func (g *Gate) BucketState() TokenBucket {
	g.mu.Lock()
	defer g.mu.Unlock()
	return *g.bucket
}

// sweepLocked drops cached emissions older than the cooldown. An evicted key
// reloads from the signal store on its next miss, so the sweep only frees
// memory. Runs at most once per cooldown window.
func (g *Gate) sweepLocked(nowMs int64) {
	if nowMs < g.nextSweep {
		return
	}
	cutoff := nowMs - g.opts.Cooldown.Milliseconds()
	for key, e := range g.lastEmit {
		if e.at < cutoff {
			delete(g.lastEmit, key)
		}
	}
	g.nextSweep = nowMs + g.opts.Cooldown.Milliseconds()
}

func (g *Gate) lastEmission(ctx context.Context, key string) (emission, bool, error) {
	if e, ok := g.lastEmit[key]; ok {
		return e, true, nil
	}
	sig, err := g.opts.Signals.LastEmitted(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return emission{}, false, nil
	}
	if err != nil {
		return emission{}, false, err
	}
	e := emission{at: sig.EmittedAt, score: sig.Verdict.Score}
	g.lastEmit[key] = e
	return e, true, nil
}

func utcDay(nowMs int64) int64 {
	return nowMs / (24 * time.Hour.Milliseconds())
}
