package adapter

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"token-sentinel/internal/bus"
	"token-sentinel/internal/health"
	"token-sentinel/internal/solana"
	"token-sentinel/internal/storage"
)

// WalletOptions configures a Wallet source.
type WalletOptions struct {
	Name    string
	Wallets []string // watched wallet addresses
	Mints   []string // tracked mints whose movements matter

	// PollLimit caps signatures fetched per wallet per poll. Defaults to 100.
	PollLimit    int
	PollInterval time.Duration

	RPC     solana.RPCClient
	Bus     *bus.Bus
	Cursors storage.CursorStore
	Health  *health.Registry
	Logger  *log.Logger
}

func (o *WalletOptions) normalize() error {
	if len(o.Wallets) == 0 || len(o.Mints) == 0 {
		return fmt.Errorf("wallet adapter requires watched wallets and tracked mints")
	}
	if o.RPC == nil || o.Bus == nil || o.Cursors == nil || o.Health == nil {
		return fmt.Errorf("wallet adapter requires rpc, bus, cursors and health")
	}
	if o.Name == "" {
		o.Name = "wallet-watch"
	}
	if o.PollLimit <= 0 {
		o.PollLimit = 100
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return nil
}

// Wallet polls watched wallets for outgoing transfers of the tracked mints.
// Each wallet keeps its own cursor; a poll only reads signatures newer than
// the last one it persisted.
type Wallet struct {
	opts WalletOptions
	em   emitter
}

// NewWallet creates a wallet transfer source.
func NewWallet(opts WalletOptions) (*Wallet, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	w := &Wallet{
		opts: opts,
		em: emitter{
			sourceID: opts.Name,
			bus:      opts.Bus,
			cursors:  opts.Cursors,
			health:   opts.Health,
		},
	}
	opts.Health.Register(opts.Name)
	return w, nil
}

// Name returns the source id.
func (w *Wallet) Name() string { return w.opts.Name }

// Run polls immediately, then on every tick until ctx is cancelled.
func (w *Wallet) Run(ctx context.Context) error {
	if err := w.pollAll(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.pollAll(ctx); err != nil {
				return err
			}
		}
	}
}

func (w *Wallet) pollAll(ctx context.Context) error {
	for _, wallet := range w.opts.Wallets {
		if err := w.poll(ctx, wallet); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			recordSourceError(w.opts.Health, w.opts.Name)
			w.opts.Logger.Printf("wallet %s: poll %s failed: %v", w.opts.Name, wallet, err)
		}
	}
	return nil
}

// cursorID keys each wallet's resume position separately.
func (w *Wallet) cursorID(wallet string) string {
	return w.opts.Name + "/" + wallet
}

func (w *Wallet) poll(ctx context.Context, wallet string) error {
	lastSig := ""
	if c, err := w.opts.Cursors.Get(ctx, w.cursorID(wallet)); err == nil {
		lastSig = strings.TrimPrefix(c.Position, cursorSigPrefix)
	} else if err != storage.ErrNotFound {
		return err
	}

	sigs, err := w.opts.RPC.GetSignaturesForAddress(ctx, wallet, &solana.SignaturesOpts{
		Until: lastSig,
		Limit: w.opts.PollLimit,
	})
	if err != nil {
		return err
	}
	if len(sigs) == 0 {
		return nil
	}

	// Newest first from the node; process oldest first.
	for i := len(sigs) - 1; i >= 0; i-- {
		if sigs[i].Err != nil {
			continue
		}
		tx, err := w.opts.RPC.GetTransaction(ctx, sigs[i].Signature)
		if err != nil {
			return err
		}
		for _, mint := range w.opts.Mints {
			ev := NormalizeTransfer(tx, wallet, mint)
			if ev == nil {
				continue
			}
			if err := w.em.publish(ctx, ev); err != nil {
				return err
			}
		}
	}

	newest := sigs[0].Signature
	return w.opts.Cursors.Save(ctx, &storage.Cursor{
		SourceID:  w.cursorID(wallet),
		Seq:       upstreamSeq(newest),
		Position:  cursorSigPrefix + newest,
		UpdatedAt: time.Now().UnixMilli(),
	})
}
