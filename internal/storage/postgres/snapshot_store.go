package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"token-sentinel/internal/domain"
	"token-sentinel/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using PostgreSQL. The
// rolling aggregates are stored as one JSONB document; only the columns the
// pipeline filters on are broken out.
type SnapshotStore struct {
	pool *Pool
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(pool *Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

const upsertSnapshotQuery = `
	INSERT INTO entity_snapshots (
		entity_id, kind, first_seen, last_event, event_count, aggregates
	) VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (entity_id) DO UPDATE SET
		kind = EXCLUDED.kind,
		first_seen = EXCLUDED.first_seen,
		last_event = EXCLUDED.last_event,
		event_count = EXCLUDED.event_count,
		aggregates = EXCLUDED.aggregates
`

// Upsert writes or replaces the snapshot for its entity id.
func (s *SnapshotStore) Upsert(ctx context.Context, snap *domain.EntitySnapshot) error {
	if snap == nil || snap.ID == "" {
		return storage.ErrInvalidInput
	}
	doc, err := marshalAggregates(snap)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, upsertSnapshotQuery,
		snap.ID,
		string(snap.Kind),
		snap.FirstSeen,
		snap.LastEvent,
		snap.EventCount,
		doc,
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// UpsertBulk writes multiple snapshots in one transaction.
func (s *SnapshotStore) UpsertBulk(ctx context.Context, snaps []*domain.EntitySnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, snap := range snaps {
		if snap == nil || snap.ID == "" {
			return storage.ErrInvalidInput
		}
		doc, err := marshalAggregates(snap)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, upsertSnapshotQuery,
			snap.ID,
			string(snap.Kind),
			snap.FirstSeen,
			snap.LastEvent,
			snap.EventCount,
			doc,
		)
		if err != nil {
			return fmt.Errorf("upsert snapshot %s: %w", snap.ID, err)
		}
	}

	return tx.Commit(ctx)
}

// GetByID retrieves a snapshot. Returns ErrNotFound if not exists.
func (s *SnapshotStore) GetByID(ctx context.Context, entityID string) (*domain.EntitySnapshot, error) {
	query := `
		SELECT entity_id, kind, first_seen, last_event, event_count, aggregates
		FROM entity_snapshots
		WHERE entity_id = $1
	`

	var (
		snap domain.EntitySnapshot
		kind string
		doc  []byte
	)
	err := s.pool.QueryRow(ctx, query, entityID).Scan(
		&snap.ID, &kind, &snap.FirstSeen, &snap.LastEvent, &snap.EventCount, &doc,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot by id: %w", err)
	}
	snap.Kind = domain.EntityKind(kind)
	if err := unmarshalAggregates(doc, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// GetAll retrieves every stored snapshot, for startup recovery.
func (s *SnapshotStore) GetAll(ctx context.Context) ([]*domain.EntitySnapshot, error) {
	query := `
		SELECT entity_id, kind, first_seen, last_event, event_count, aggregates
		FROM entity_snapshots
		ORDER BY entity_id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*domain.EntitySnapshot
	for rows.Next() {
		var (
			snap domain.EntitySnapshot
			kind string
			doc  []byte
		)
		if err := rows.Scan(&snap.ID, &kind, &snap.FirstSeen, &snap.LastEvent, &snap.EventCount, &doc); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		snap.Kind = domain.EntityKind(kind)
		if err := unmarshalAggregates(doc, &snap); err != nil {
			return nil, err
		}
		snaps = append(snaps, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return snaps, nil
}

// Delete removes a snapshot. Missing ids are not an error.
func (s *SnapshotStore) Delete(ctx context.Context, entityID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM entity_snapshots WHERE entity_id = $1`, entityID)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// snapshotAggregates is the JSONB document holding the rolling aggregates.
type snapshotAggregates struct {
	Liquidity  domain.LiquidityAggregates `json:"liquidity"`
	Holders    domain.HolderAggregates    `json:"holders"`
	Mentions   domain.MentionAggregates   `json:"mentions"`
	Trading    domain.TradeAggregates     `json:"trading"`
	Whale      domain.WhaleAggregates     `json:"whale"`
	LastEvents []domain.EventRef          `json:"last_events,omitempty"`
}

func marshalAggregates(snap *domain.EntitySnapshot) ([]byte, error) {
	doc, err := json.Marshal(snapshotAggregates{
		Liquidity:  snap.Liquidity,
		Holders:    snap.Holders,
		Mentions:   snap.Mentions,
		Trading:    snap.Trading,
		Whale:      snap.Whale,
		LastEvents: snap.LastEvents,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot aggregates: %w", err)
	}
	return doc, nil
}

func unmarshalAggregates(doc []byte, snap *domain.EntitySnapshot) error {
	var agg snapshotAggregates
	if err := json.Unmarshal(doc, &agg); err != nil {
		return fmt.Errorf("unmarshal snapshot aggregates: %w", err)
	}
	snap.Liquidity = agg.Liquidity
	snap.Holders = agg.Holders
	snap.Mentions = agg.Mentions
	snap.Trading = agg.Trading
	snap.Whale = agg.Whale
	snap.LastEvents = agg.LastEvents
	return nil
}
