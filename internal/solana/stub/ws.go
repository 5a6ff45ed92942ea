package stub

import (
	"context"
	"errors"
	"sync"

	"token-sentinel/internal/solana"
)

// WSClient implements solana.WSClient with a hand-fed notification stream.
type WSClient struct {
	mu     sync.Mutex
	ch     chan solana.LogNotification
	closed bool

	// SubscribeErr, when set, fails every SubscribeLogs call.
	SubscribeErr error

	// FailSubscribes fails that many SubscribeLogs calls before
	// succeeding.
	FailSubscribes int

	// Filters records every filter passed to SubscribeLogs.
	Filters []solana.LogsFilter
}

// NewWSClient creates a stub websocket client with the given buffer.
func NewWSClient(buffer int) *WSClient {
	return &WSClient{ch: make(chan solana.LogNotification, buffer)}
}

// SubscribeLogs returns the shared notification stream.
func (c *WSClient) SubscribeLogs(_ context.Context, filter solana.LogsFilter) (<-chan solana.LogNotification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubscribeErr != nil {
		return nil, c.SubscribeErr
	}
	if c.FailSubscribes > 0 {
		c.FailSubscribes--
		return nil, errors.New("stub: subscribe refused")
	}
	c.Filters = append(c.Filters, filter)
	return c.ch, nil
}

// Notify feeds one notification to subscribers.
func (c *WSClient) Notify(n solana.LogNotification) {
	c.ch <- n
}

// Close closes the stream. Safe to call twice.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
	return nil
}
