package storage

import (
	"context"

	"token-sentinel/internal/domain"
)

// Cursor is an adapter's persisted resume position. Position is
// source-specific (a slot number, a post id, a kafka offset); Seq is the
// per-source ingestion sequence assigned to the last committed event.
type Cursor struct {
	SourceID  string
	Seq       uint64
	Position  string
	UpdatedAt int64 // Unix timestamp in milliseconds
}

// SnapshotStore persists entity snapshots keyed by entity id. Used for
// periodic checkpoints, startup recovery, and cold archive summaries.
type SnapshotStore interface {
	// Upsert writes or replaces the snapshot for its entity id.
	Upsert(ctx context.Context, s *domain.EntitySnapshot) error

	// UpsertBulk writes multiple snapshots in one round trip.
	UpsertBulk(ctx context.Context, snaps []*domain.EntitySnapshot) error

	// GetByID retrieves a snapshot. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, entityID string) (*domain.EntitySnapshot, error)

	// GetAll retrieves every stored snapshot, for startup recovery.
	GetAll(ctx context.Context) ([]*domain.EntitySnapshot, error)

	// Delete removes a snapshot. Missing ids are not an error.
	Delete(ctx context.Context, entityID string) error
}

// CursorStore persists adapter cursors keyed by source id.
type CursorStore interface {
	// Save writes or replaces the cursor for its source id.
	Save(ctx context.Context, c *Cursor) error

	// Get retrieves the cursor for a source. Returns ErrNotFound if the
	// source has never checkpointed.
	Get(ctx context.Context, sourceID string) (*Cursor, error)
}

// SignalStore persists emitted and failed signals. Emission records back the
// deduplicator's cooldown state across restarts; failed records feed manual
// or scheduled replay.
type SignalStore interface {
	// Insert adds a new signal. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, s *domain.Signal) error

	// UpdateStatus transitions a signal to a terminal status.
	UpdateStatus(ctx context.Context, id string, status domain.SignalStatus, postID string, attempts int) error

	// LastEmitted retrieves the most recent signal for a suppression key.
	// Returns ErrNotFound if none was ever emitted.
	LastEmitted(ctx context.Context, suppressionKey string) (*domain.Signal, error)

	// GetByStatus retrieves all signals with a status, ordered by
	// emission time ASC.
	GetByStatus(ctx context.Context, status domain.SignalStatus) ([]*domain.Signal, error)
}

// VerdictHistoryStore is an append-only log of every verdict produced,
// used by replay/backtesting.
type VerdictHistoryStore interface {
	// InsertBulk appends verdicts. Duplicate (entity_id, trigger_id) rows
	// are rejected with ErrDuplicateKey.
	InsertBulk(ctx context.Context, verdicts []*domain.Verdict) error

	// GetByEntityID retrieves all verdicts for an entity, ordered by
	// produced-at ASC.
	GetByEntityID(ctx context.Context, entityID string) ([]*domain.Verdict, error)

	// GetByTimeRange retrieves verdicts within [start, end] (inclusive),
	// ordered by produced-at ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.Verdict, error)
}
