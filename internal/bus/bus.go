// Package bus distributes normalized events to pipeline consumers with
// bounded queues and blocking backpressure. Slow consumers slow ingestion
// down; events are never dropped by the bus.
package bus

import (
	"context"
	"errors"
	"sync"

	"token-sentinel/internal/domain"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("bus closed")

// Bus fans events out to subscribers. Each subscriber receives every event
// in publish order. Events from a single adapter preserve that adapter's
// emission order because the adapter publishes from one goroutine; no order
// is promised across adapters.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscriber
	closed bool
}

type subscriber struct {
	name string
	ch   chan *domain.Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a consumer with its own bounded queue and returns the
// receive side. Must be called before events flow; subscribing after
// publishing starts misses earlier events.
func (b *Bus) Subscribe(name string, capacity int) <-chan *domain.Event {
	if capacity < 1 {
		capacity = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{name: name, ch: make(chan *domain.Event, capacity)}
	b.subs = append(b.subs, sub)
	return sub.ch
}

// Publish delivers the event to every subscriber. When a subscriber's queue
// is full, Publish blocks until there is room or ctx is cancelled; it never
// drops. Returns ErrClosed after Close.
func (b *Bus) Publish(ctx context.Context, ev *domain.Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := b.subs
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// QueueDepths returns the current number of buffered events per subscriber,
// keyed by subscriber name. Used by the health surface.
func (b *Bus) QueueDepths() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	depths := make(map[string]int, len(b.subs))
	for _, sub := range b.subs {
		depths[sub.name] = len(sub.ch)
	}
	return depths
}

// Close stops the bus and closes all subscriber channels. Consumers drain
// whatever is already queued (channel close is observed after buffered
// items), which is what shutdown draining relies on.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
}
