package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"token-sentinel/internal/dedup"
	"token-sentinel/internal/domain"
	"token-sentinel/internal/idhash"
	"token-sentinel/internal/retry"
	"token-sentinel/internal/storage"
)

// Options configures a Dispatcher. Zero values get sane defaults.
type Options struct {
	MaxAttempts       int           // delivery attempts per signal
	BaseDelay         time.Duration // first retry backoff
	MaxDelay          time.Duration // retry backoff cap
	IdempotencyBucket time.Duration // posts inside one bucket share an idempotency key
	PollInterval      time.Duration // how often the gate is asked for work

	Signals storage.SignalStore
	Logger  *log.Logger

	// Hooks for metrics. Optional.
	OnDispatched func()
	OnFailed     func()
	OnAttempt    func()
}

func (o *Options) normalize() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.IdempotencyBucket <= 0 {
		o.IdempotencyBucket = 15 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
}

// Dispatcher drains admitted signals from the gate and posts them. Delivery
// failures are retried with backoff; a signal that exhausts its attempts is
// marked failed and kept, never silently lost. Idempotency keys stop the
// same (entity, category, time bucket) content from posting twice even when
// the queue replays after a crash.
type Dispatcher struct {
	gate   *dedup.Gate
	poster Poster
	opts   Options
	logger *log.Logger

	// posted remembers recently used idempotency keys with the post id they
	// produced. Keys expire after two buckets.
	posted map[string]postedEntry
}

type postedEntry struct {
	postID string
	at     int64
}

// New creates a dispatcher over a gate and a poster.
func New(gate *dedup.Gate, poster Poster, opts Options) *Dispatcher {
	opts.normalize()
	return &Dispatcher{
		gate:   gate,
		poster: poster,
		opts:   opts,
		logger: opts.Logger,
		posted: make(map[string]postedEntry),
	}
}

// Run polls the gate until ctx is cancelled. On cancellation it drains
// whatever the gate will still release, so shutdown does not strand
// rate-limit-approved signals.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.drain()
			return ctx.Err()
		case <-ticker.C:
			d.pump(ctx)
		}
	}
}

// pump dispatches every signal the gate releases right now.
func (d *Dispatcher) pump(ctx context.Context) {
	for {
		sig := d.gate.Next(time.Now().UnixMilli())
		if sig == nil {
			return
		}
		if err := d.Dispatch(ctx, sig); err != nil {
			d.logger.Printf("dispatch: signal %s: %v", sig.ID, err)
		}
	}
}

// drain gives in-queue signals one last delivery pass with a short deadline.
func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	d.pump(ctx)
}

// Dispatch delivers one signal. Exported for the replay tool, which feeds
// recorded signals through the same path.
func (d *Dispatcher) Dispatch(ctx context.Context, sig *domain.Signal) error {
	key := idhash.IdempotencyKey(sig.SuppressionKey, sig.EmittedAt, d.opts.IdempotencyBucket.Milliseconds())
	d.expirePosted(sig.EmittedAt)

	if prev, ok := d.posted[key]; ok {
		// Same content already went out inside this bucket.
		if err := d.opts.Signals.UpdateStatus(ctx, sig.ID, domain.SignalDispatched, prev.postID, 0); err != nil {
			return fmt.Errorf("marking deduplicated signal %s: %w", sig.ID, err)
		}
		return nil
	}

	text := FormatAlert(sig)
	attempts := 0
	var postID string

	err := retry.Do(ctx, retry.Policy{
		MaxAttempts: d.opts.MaxAttempts,
		BaseDelay:   d.opts.BaseDelay,
		MaxDelay:    d.opts.MaxDelay,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			d.logger.Printf("dispatch: signal %s attempt %d failed, retrying in %s: %v", sig.ID, attempt, wait, err)
		},
	}, func(ctx context.Context) error {
		attempts++
		if d.opts.OnAttempt != nil {
			d.opts.OnAttempt()
		}
		id, err := d.poster.Post(ctx, text)
		if err != nil {
			return err
		}
		postID = id
		return nil
	})

	if err != nil {
		if d.opts.OnFailed != nil {
			d.opts.OnFailed()
		}
		if uerr := d.opts.Signals.UpdateStatus(ctx, sig.ID, domain.SignalFailed, "", attempts); uerr != nil {
			d.logger.Printf("dispatch: marking failed signal %s: %v", sig.ID, uerr)
		}
		return fmt.Errorf("signal %s via %s after %d attempts: %w: %v",
			sig.ID, d.poster.Name(), attempts, domain.ErrDispatchFailed, err)
	}

	d.posted[key] = postedEntry{postID: postID, at: sig.EmittedAt}
	if d.opts.OnDispatched != nil {
		d.opts.OnDispatched()
	}
	if err := d.opts.Signals.UpdateStatus(ctx, sig.ID, domain.SignalDispatched, postID, attempts); err != nil {
		return fmt.Errorf("marking dispatched signal %s: %w", sig.ID, err)
	}
	return nil
}

func (d *Dispatcher) expirePosted(nowMs int64) {
	horizon := 2 * d.opts.IdempotencyBucket.Milliseconds()
	for key, e := range d.posted {
		if nowMs-e.at > horizon {
			delete(d.posted, key)
		}
	}
}
