package adapter

import (
	"strings"

	"token-sentinel/internal/domain"
	"token-sentinel/internal/solana"
)

// txKind is the instruction class read off a transaction's log messages.
type txKind int

const (
	txUnknown txKind = iota
	txSwap
	txLiquidityAdd
	txLiquidityRemove
	txTransfer
)

// classifyLogs picks the dominant instruction from the program logs. Swap
// wins over transfer because a swap transaction always contains inner
// transfer instructions.
func classifyLogs(logs []string) txKind {
	kind := txUnknown
	for _, line := range logs {
		switch {
		case strings.Contains(line, "Instruction: Swap"):
			return txSwap
		case strings.Contains(line, "Instruction: Deposit"),
			strings.Contains(line, "Instruction: AddLiquidity"),
			strings.Contains(line, "Instruction: IncreaseLiquidity"):
			kind = txLiquidityAdd
		case strings.Contains(line, "Instruction: Withdraw"),
			strings.Contains(line, "Instruction: RemoveLiquidity"),
			strings.Contains(line, "Instruction: DecreaseLiquidity"):
			kind = txLiquidityRemove
		case strings.Contains(line, "Instruction: Transfer"),
			strings.Contains(line, "Instruction: TransferChecked"):
			if kind == txUnknown {
				kind = txTransfer
			}
		}
	}
	return kind
}

// ChainNormalizer converts confirmed transactions of one monitored pool into
// domain events. Amounts come from the pre/post token balance deltas, never
// from log parsing, so partial fills and fees are already accounted for.
type ChainNormalizer struct {
	Pool      string // pool address whose vault balances size the movement
	Mint      string // tracked token mint
	QuoteMint string // quote-side mint (SOL/USDC)
}

// balanceDelta is the post-minus-pre balance change for one (owner, mint).
type balanceDelta struct {
	owner string
	mint  string
	delta float64
}

func tokenDeltas(tx *solana.Transaction) []balanceDelta {
	pre := make(map[int]solana.TokenBalance, len(tx.PreTokenBalances))
	for _, b := range tx.PreTokenBalances {
		pre[b.AccountIndex] = b
	}
	seen := make(map[int]bool, len(tx.PostTokenBalances))
	deltas := make([]balanceDelta, 0, len(tx.PostTokenBalances))
	for _, post := range tx.PostTokenBalances {
		seen[post.AccountIndex] = true
		before := 0.0
		if p, ok := pre[post.AccountIndex]; ok {
			before = p.Amount.UI
		}
		if d := post.Amount.UI - before; d != 0 {
			deltas = append(deltas, balanceDelta{owner: post.Owner, mint: post.Mint, delta: d})
		}
	}
	// Accounts closed by the transaction appear only on the pre side.
	for _, b := range tx.PreTokenBalances {
		if !seen[b.AccountIndex] && b.Amount.UI != 0 {
			deltas = append(deltas, balanceDelta{owner: b.Owner, mint: b.Mint, delta: -b.Amount.UI})
		}
	}
	return deltas
}

// ownerMintDelta sums the balance change for one owner and mint.
func ownerMintDelta(deltas []balanceDelta, owner, mint string) float64 {
	var sum float64
	for _, d := range deltas {
		if d.owner == owner && d.mint == mint {
			sum += d.delta
		}
	}
	return sum
}

// Normalize converts one confirmed transaction into zero or more events.
// Failed transactions and transactions that do not move the pool's balances
// normalize to nothing. The event Seq is derived from the transaction
// signature so re-observing the same transaction reproduces the same event
// id and the store drops it as a duplicate.
func (n *ChainNormalizer) Normalize(tx *solana.Transaction) []*domain.Event {
	if tx == nil || tx.Err != nil {
		return nil
	}
	kind := classifyLogs(tx.LogMessages)
	if kind == txUnknown {
		return nil
	}

	deltas := tokenDeltas(tx)
	poolToken := ownerMintDelta(deltas, n.Pool, n.Mint)
	poolQuote := ownerMintDelta(deltas, n.Pool, n.QuoteMint)
	ts := tx.BlockTime * 1000
	seq := upstreamSeq(tx.Signature)

	switch kind {
	case txSwap:
		if poolToken == 0 {
			return nil
		}
		// The pool paying out token means a user bought it.
		dir := domain.SwapSell
		if poolToken < 0 {
			dir = domain.SwapBuy
		}
		return []*domain.Event{{
			Source:    domain.SourceChain,
			Type:      domain.EventSwap,
			Entity:    domain.EntityRef{ID: n.Mint, Kind: domain.EntityToken},
			Seq:       seq,
			Timestamp: ts,
			Swap: &domain.SwapPayload{
				Pool:        n.Pool,
				Direction:   dir,
				AmountToken: abs(poolToken),
				AmountQuote: abs(poolQuote),
				Wallet:      feePayer(tx),
			},
		}}

	case txLiquidityAdd, txLiquidityRemove:
		if poolQuote == 0 {
			return nil
		}
		action := domain.LiquidityAdd
		typ := domain.EventLiquidityAdd
		if kind == txLiquidityRemove {
			action = domain.LiquidityRemove
			typ = domain.EventLiquidityRemove
		}
		return []*domain.Event{{
			Source:    domain.SourceChain,
			Type:      typ,
			Entity:    domain.EntityRef{ID: n.Pool, Kind: domain.EntityPool},
			Seq:       seq,
			Timestamp: ts,
			Liquidity: &domain.LiquidityPayload{
				Pool:           n.Pool,
				Action:         action,
				AmountQuote:    abs(poolQuote),
				LiquidityAfter: poolQuoteAfter(tx, n.Pool, n.QuoteMint),
			},
		}}
	}
	return nil
}

// poolQuoteAfter reads the pool's quote-side balance after the transaction.
func poolQuoteAfter(tx *solana.Transaction, pool, quoteMint string) float64 {
	var sum float64
	for _, b := range tx.PostTokenBalances {
		if b.Owner == pool && b.Mint == quoteMint {
			sum += b.Amount.UI
		}
	}
	return sum
}

// NormalizeTransfer extracts a token transfer out of a watched wallet's
// transaction. The source wallet is the watched address; the destination is
// the owner that gained the mint. Returns nil when the wallet's balance of
// the mint did not decrease.
func NormalizeTransfer(tx *solana.Transaction, wallet, mint string) *domain.Event {
	if tx == nil || tx.Err != nil {
		return nil
	}
	deltas := tokenDeltas(tx)
	out := ownerMintDelta(deltas, wallet, mint)
	if out >= 0 {
		return nil
	}
	to := ""
	var best float64
	for _, d := range deltas {
		if d.mint == mint && d.owner != wallet && d.delta > best {
			best = d.delta
			to = d.owner
		}
	}
	if to == "" {
		return nil
	}
	return &domain.Event{
		Source:    domain.SourceWallet,
		Type:      domain.EventTransfer,
		Entity:    domain.EntityRef{ID: mint, Kind: domain.EntityToken},
		Seq:       upstreamSeq(tx.Signature, wallet),
		Timestamp: tx.BlockTime * 1000,
		Transfer: &domain.TransferPayload{
			From:        wallet,
			To:          to,
			Amount:      -out,
			ToIsProgram: !solana.IsOnCurve(to),
		},
	}
}

func feePayer(tx *solana.Transaction) string {
	if len(tx.AccountKeys) > 0 {
		return tx.AccountKeys[0]
	}
	return ""
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
