// Package stub provides in-memory fakes of the Solana clients for tests.
package stub

import (
	"context"
	"errors"

	"token-sentinel/internal/solana"
)

// ErrNotFound is returned when a stubbed object is missing.
var ErrNotFound = errors.New("not found")

// RPCClient implements solana.RPCClient backed by maps.
type RPCClient struct {
	Transactions    map[string]*solana.Transaction
	Signatures      map[string][]solana.SignatureInfo
	LargestAccounts map[string][]solana.TokenAccountBalance
	Supplies        map[string]*solana.TokenAmount

	// Err, when set, is returned by every call. Simulates an unavailable node.
	Err error
}

// NewRPCClient creates an empty stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Transactions:    make(map[string]*solana.Transaction),
		Signatures:      make(map[string][]solana.SignatureInfo),
		LargestAccounts: make(map[string][]solana.TokenAccountBalance),
		Supplies:        make(map[string]*solana.TokenAmount),
	}
}

// GetTransaction retrieves a stubbed transaction.
func (c *RPCClient) GetTransaction(_ context.Context, signature string) (*solana.Transaction, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	tx, ok := c.Transactions[signature]
	if !ok {
		return nil, ErrNotFound
	}
	return tx, nil
}

// GetSignaturesForAddress retrieves stubbed signatures, honoring Limit and Until.
func (c *RPCClient) GetSignaturesForAddress(_ context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	sigs := c.Signatures[address]

	if opts != nil && opts.Until != "" {
		var cut []solana.SignatureInfo
		for _, s := range sigs {
			if s.Signature == opts.Until {
				break
			}
			cut = append(cut, s)
		}
		sigs = cut
	}
	if opts != nil && opts.Limit > 0 && opts.Limit < len(sigs) {
		sigs = sigs[:opts.Limit]
	}
	return sigs, nil
}

// GetTokenLargestAccounts retrieves stubbed largest accounts for a mint.
func (c *RPCClient) GetTokenLargestAccounts(_ context.Context, mint string) ([]solana.TokenAccountBalance, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	return c.LargestAccounts[mint], nil
}

// GetTokenSupply retrieves a stubbed supply for a mint.
func (c *RPCClient) GetTokenSupply(_ context.Context, mint string) (*solana.TokenAmount, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	sup, ok := c.Supplies[mint]
	if !ok {
		return nil, ErrNotFound
	}
	return sup, nil
}
