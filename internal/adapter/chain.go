package adapter

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"token-sentinel/internal/bus"
	"token-sentinel/internal/domain"
	"token-sentinel/internal/health"
	"token-sentinel/internal/retry"
	"token-sentinel/internal/solana"
	"token-sentinel/internal/storage"
)

const cursorSigPrefix = "sig:"

// ChainOptions configures a Chain source.
type ChainOptions struct {
	Name      string // source id, e.g. "chain-raydium"
	Pool      string // monitored pool address
	Mint      string // tracked token mint
	QuoteMint string // quote-side mint

	// BackfillLimit caps how many missed signatures are replayed after a
	// restart. Defaults to 1000.
	BackfillLimit int

	RPC     solana.RPCClient
	WS      solana.WSClient
	Bus     *bus.Bus
	Cursors storage.CursorStore
	Health  *health.Registry
	Logger  *log.Logger
}

func (o *ChainOptions) normalize() error {
	if o.Pool == "" || o.Mint == "" {
		return fmt.Errorf("chain adapter requires pool and mint addresses")
	}
	if o.RPC == nil || o.WS == nil || o.Bus == nil || o.Cursors == nil || o.Health == nil {
		return fmt.Errorf("chain adapter requires rpc, ws, bus, cursors and health")
	}
	if o.Name == "" {
		o.Name = "chain-" + o.Pool
	}
	if o.BackfillLimit <= 0 {
		o.BackfillLimit = 1000
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return nil
}

// Chain streams a pool's transactions over a logs subscription, backfilling
// the gap since its last persisted signature on startup. Transactions are
// normalized into swap and liquidity events in confirmation order.
type Chain struct {
	opts ChainOptions
	em   emitter
	norm ChainNormalizer
}

// NewChain creates a chain source for one monitored pool.
func NewChain(opts ChainOptions) (*Chain, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	c := &Chain{
		opts: opts,
		em: emitter{
			sourceID: opts.Name,
			bus:      opts.Bus,
			cursors:  opts.Cursors,
			health:   opts.Health,
		},
		norm: ChainNormalizer{Pool: opts.Pool, Mint: opts.Mint, QuoteMint: opts.QuoteMint},
	}
	opts.Health.Register(opts.Name)
	return c, nil
}

// Name returns the source id.
func (c *Chain) Name() string { return c.opts.Name }

// Run backfills missed transactions, then consumes the logs subscription
// until ctx is cancelled. The websocket client reconnects internally; Run
// only returns on cancellation or bus shutdown.
func (c *Chain) Run(ctx context.Context) error {
	pos, err := c.em.resumePosition(ctx)
	if err != nil {
		return fmt.Errorf("chain %s: load cursor: %w", c.opts.Name, err)
	}
	lastSig := strings.TrimPrefix(pos, cursorSigPrefix)

	var notifications <-chan solana.LogNotification
	subscribe := retry.Policy{
		MaxAttempts: 0, // retry until cancelled
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      500 * time.Millisecond,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			recordSourceError(c.opts.Health, c.opts.Name)
			c.opts.Logger.Printf("chain %s: subscribe attempt %d failed: %v (retrying in %s)",
				c.opts.Name, attempt, err, wait)
		},
	}
	err = retry.Do(ctx, subscribe, func(ctx context.Context) error {
		var serr error
		notifications, serr = c.opts.WS.SubscribeLogs(ctx, solana.LogsFilter{
			Mentions: []string{c.opts.Pool},
		})
		return serr
	})
	if err != nil {
		return err
	}

	if lastSig != "" {
		if err := c.backfill(ctx, lastSig); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-notifications:
			if !ok {
				return nil
			}
			if n.Err != nil {
				continue // failed transaction, nothing moved
			}
			if err := c.handleSignature(ctx, n.Signature); err != nil {
				return err
			}
		}
	}
}

// backfill replays transactions confirmed between the persisted signature
// and now, oldest first, before live consumption starts. Events already seen
// before the restart reproduce their ids and are dropped by the state store.
func (c *Chain) backfill(ctx context.Context, lastSig string) error {
	sigs, err := c.opts.RPC.GetSignaturesForAddress(ctx, c.opts.Pool, &solana.SignaturesOpts{
		Until: lastSig,
		Limit: c.opts.BackfillLimit,
	})
	if err != nil {
		recordSourceError(c.opts.Health, c.opts.Name)
		c.opts.Logger.Printf("chain %s: backfill lookup failed: %v (continuing live)", c.opts.Name, err)
		return nil
	}
	if len(sigs) == 0 {
		return nil
	}
	c.opts.Logger.Printf("chain %s: backfilling %d transactions since %s", c.opts.Name, len(sigs), lastSig)

	// Newest first from the node; replay oldest first.
	for i := len(sigs) - 1; i >= 0; i-- {
		if sigs[i].Err != nil {
			continue
		}
		if err := c.handleSignature(ctx, sigs[i].Signature); err != nil {
			return err
		}
	}
	return nil
}

// handleSignature fetches, normalizes, and publishes one transaction, then
// advances the cursor past it.
func (c *Chain) handleSignature(ctx context.Context, sig string) error {
	tx, err := c.fetchTransaction(ctx, sig)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		recordSourceError(c.opts.Health, c.opts.Name)
		c.opts.Logger.Printf("chain %s: fetch %s failed: %v (skipping)", c.opts.Name, sig, err)
		return nil
	}

	for _, ev := range c.norm.Normalize(tx) {
		if err := c.em.publish(ctx, ev); err != nil {
			return err
		}
	}

	if err := c.em.saveCursor(ctx, upstreamSeq(sig), cursorSigPrefix+sig); err != nil {
		c.opts.Logger.Printf("chain %s: cursor save failed: %v", c.opts.Name, err)
	}
	return nil
}

// fetchTransaction retries until the node has confirmed the transaction; a
// logs notification can arrive before getTransaction sees the signature.
func (c *Chain) fetchTransaction(ctx context.Context, sig string) (*solana.Transaction, error) {
	var tx *solana.Transaction
	policy := retry.Policy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Jitter:      250 * time.Millisecond,
	}
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		var ferr error
		tx, ferr = c.opts.RPC.GetTransaction(ctx, sig)
		if ferr != nil {
			return ferr
		}
		if tx == nil {
			return fmt.Errorf("transaction %s not yet available", sig)
		}
		return nil
	})
	return tx, err
}

// HoldersOptions configures a Holders source.
type HoldersOptions struct {
	Name  string
	Mints []string // mints to sample
	TopN  int      // wallets covered by the concentration figure
	Every time.Duration

	RPC    solana.RPCClient
	Bus    *bus.Bus
	Health *health.Registry
	Logger *log.Logger
}

func (o *HoldersOptions) normalize() error {
	if len(o.Mints) == 0 {
		return fmt.Errorf("holders adapter requires at least one mint")
	}
	if o.RPC == nil || o.Bus == nil || o.Health == nil {
		return fmt.Errorf("holders adapter requires rpc, bus and health")
	}
	if o.Name == "" {
		o.Name = "chain-holders"
	}
	if o.TopN <= 0 {
		o.TopN = 10
	}
	if o.Every <= 0 {
		o.Every = 10 * time.Minute
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return nil
}

// Holders periodically samples each tracked mint's holder distribution and
// emits one holders event per mint per poll. Polls are idempotent within a
// poll interval: the sequence number is derived from the interval bucket.
type Holders struct {
	opts HoldersOptions
	em   emitter
}

// NewHolders creates a holder-distribution source.
func NewHolders(opts HoldersOptions) (*Holders, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	h := &Holders{
		opts: opts,
		em: emitter{
			sourceID: opts.Name,
			bus:      opts.Bus,
			health:   opts.Health,
		},
	}
	opts.Health.Register(opts.Name)
	return h, nil
}

// Name returns the source id.
func (h *Holders) Name() string { return h.opts.Name }

// Run samples immediately, then on every tick until ctx is cancelled.
func (h *Holders) Run(ctx context.Context) error {
	if err := h.sampleAll(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(h.opts.Every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := h.sampleAll(ctx); err != nil {
				return err
			}
		}
	}
}

func (h *Holders) sampleAll(ctx context.Context) error {
	for _, mint := range h.opts.Mints {
		if err := h.sample(ctx, mint); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			recordSourceError(h.opts.Health, h.opts.Name)
			h.opts.Logger.Printf("holders %s: sample %s failed: %v", h.opts.Name, mint, err)
		}
	}
	return nil
}

func (h *Holders) sample(ctx context.Context, mint string) error {
	accounts, err := h.opts.RPC.GetTokenLargestAccounts(ctx, mint)
	if err != nil {
		return err
	}
	supply, err := h.opts.RPC.GetTokenSupply(ctx, mint)
	if err != nil {
		return err
	}
	if supply == nil || supply.UI <= 0 {
		return fmt.Errorf("mint %s has no reported supply", mint)
	}

	held := 0
	var top float64
	for i, acc := range accounts {
		if acc.Amount.UI <= 0 {
			continue
		}
		held++
		if i < h.opts.TopN {
			top += acc.Amount.UI
		}
	}
	share := top / supply.UI
	if share > 1 {
		share = 1
	}

	now := time.Now().UnixMilli()
	bucket := now / h.opts.Every.Milliseconds()
	return h.em.publish(ctx, &domain.Event{
		Source:    domain.SourceChain,
		Type:      domain.EventHolders,
		Entity:    domain.EntityRef{ID: mint, Kind: domain.EntityToken},
		Seq:       upstreamSeq(mint, strconv.FormatInt(bucket, 10)),
		Timestamp: now,
		Holders: &domain.HoldersPayload{
			HolderCount: held,
			TopShare:    share,
			TopN:        h.opts.TopN,
		},
	})
}
