// Package adapter contains the event source adapters. Each adapter owns one
// upstream (chain websocket, social search, wallet polling, a Kafka topic),
// normalizes whatever it receives into domain events, and publishes them to
// the bus in upstream order. Adapters retry their upstreams forever and
// report liveness to the health registry; a dead upstream degrades the
// pipeline, never crashes it.
package adapter

import (
	"context"
	"hash/fnv"
	"time"

	"token-sentinel/internal/bus"
	"token-sentinel/internal/domain"
	"token-sentinel/internal/health"
	"token-sentinel/internal/idhash"
	"token-sentinel/internal/observability"
	"token-sentinel/internal/storage"
)

// Source is a runnable event source.
type Source interface {
	// Name is the source id stamped on emitted events.
	Name() string

	// Run ingests until ctx is cancelled. Transient upstream failures are
	// retried internally; Run only returns the ctx error.
	Run(ctx context.Context) error
}

// upstreamSeq derives a stable sequence number from an upstream identity
// (transaction signature, post id). Re-observing the same upstream object
// reproduces the same number, which makes the event id reproducible and the
// duplicate detectable downstream.
func upstreamSeq(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{'|'})
	}
	return h.Sum64()
}

// emitter bundles what every adapter needs to publish an event and maintain
// its cursor.
type emitter struct {
	sourceID string
	bus      *bus.Bus
	cursors  storage.CursorStore
	health   *health.Registry
}

// publish validates, stamps the id, and pushes one event to the bus.
// Malformed events are counted and dropped; they never stop the stream.
func (e *emitter) publish(ctx context.Context, ev *domain.Event) error {
	ev.SourceID = e.sourceID
	ev.ID = "" // stamped below from the final field values
	if err := ev.Validate(); err != nil {
		e.health.RecordMalformed(e.sourceID)
		observability.DefaultMetrics.EventsMalformed.WithLabelValues(e.sourceID).Inc()
		return nil
	}
	ev.ID = eventID(ev)

	if err := e.bus.Publish(ctx, ev); err != nil {
		return err
	}
	e.health.RecordEvent(e.sourceID, time.Now().UnixMilli())
	observability.RecordEventIngested(e.sourceID, string(ev.Type))
	observability.DefaultMetrics.LastEventTimestamp.WithLabelValues(e.sourceID).Set(float64(ev.Timestamp) / 1000)
	return nil
}

// saveCursor persists the resume position. Cursor write failures are
// reported but not fatal: losing a cursor means re-reading, and duplicate
// event ids make re-reading harmless.
func (e *emitter) saveCursor(ctx context.Context, seq uint64, position string) error {
	return e.cursors.Save(ctx, &storage.Cursor{
		SourceID:  e.sourceID,
		Seq:       seq,
		Position:  position,
		UpdatedAt: time.Now().UnixMilli(),
	})
}

// resumePosition loads the persisted cursor position, "" when none exists.
func (e *emitter) resumePosition(ctx context.Context) (string, error) {
	c, err := e.cursors.Get(ctx, e.sourceID)
	if err != nil {
		if err == storage.ErrNotFound {
			return "", nil
		}
		return "", err
	}
	return c.Position, nil
}

func eventID(ev *domain.Event) string {
	return idhash.EventID(ev.SourceID, ev.Source, ev.Type, ev.Entity.ID, ev.Seq, ev.Timestamp)
}

// recordSourceError notes one upstream failure on the health registry and
// the error counter.
func recordSourceError(h *health.Registry, name string) {
	h.RecordError(name)
	observability.DefaultMetrics.SourceErrors.WithLabelValues(name).Inc()
}
