package solana

import "context"

// RPCClient defines the Solana HTTP JSON-RPC surface the adapters consume.
type RPCClient interface {
	// GetTransaction retrieves a confirmed transaction by signature.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)

	// GetSignaturesForAddress retrieves signatures touching an address,
	// newest first, with pagination.
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)

	// GetTokenLargestAccounts retrieves the 20 largest accounts of a mint.
	GetTokenLargestAccounts(ctx context.Context, mint string) ([]TokenAccountBalance, error)

	// GetTokenSupply retrieves the total supply of a mint.
	GetTokenSupply(ctx context.Context, mint string) (*TokenAmount, error)
}

// WSClient defines the Solana WebSocket subscription surface.
type WSClient interface {
	// SubscribeLogs streams log notifications for transactions mentioning
	// any of the filter addresses. The stream survives reconnects.
	SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan LogNotification, error)

	// Close tears down the connection and closes all streams.
	Close() error
}

// LogsFilter selects which transactions a log subscription sees.
type LogsFilter struct {
	// Mentions matches transactions referencing any of these addresses
	// (program ids, pools, mints). Empty subscribes to everything.
	Mentions []string
}

// LogNotification is one message from a logs subscription.
type LogNotification struct {
	Signature string
	Slot      int64
	Logs      []string
	Err       interface{} // non-nil when the transaction failed
}

// SignatureInfo is one entry from getSignaturesForAddress.
type SignatureInfo struct {
	Signature string
	Slot      int64
	BlockTime *int64 // Unix seconds, nil for very recent slots
	Err       interface{}
}

// SignaturesOpts paginates getSignaturesForAddress.
type SignaturesOpts struct {
	Before string // search backwards from this signature
	Until  string // stop at this signature (exclusive)
	Limit  int
}

// Transaction is a confirmed transaction with the fields event
// normalization needs: logs to classify the instruction, account keys to
// identify participants, token balance deltas to size the movement.
type Transaction struct {
	Signature   string
	Slot        int64
	BlockTime   int64 // Unix seconds
	Err         interface{}
	LogMessages []string
	AccountKeys []string

	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// TokenBalance is a token account balance snapshot inside a transaction.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	Amount       TokenAmount
}

// TokenAmount carries a raw token amount with its decimal scale.
type TokenAmount struct {
	Raw      string  // integer string as the node reports it
	Decimals int
	UI       float64 // Raw scaled by Decimals
}

// TokenAccountBalance is one row from getTokenLargestAccounts.
type TokenAccountBalance struct {
	Address string
	Amount  TokenAmount
}
