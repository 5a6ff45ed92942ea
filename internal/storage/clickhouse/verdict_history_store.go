package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"

	"token-sentinel/internal/domain"
	"token-sentinel/internal/storage"
)

// VerdictHistoryStore implements storage.VerdictHistoryStore using ClickHouse.
// The table is append-only; replay reads it back in produced-at order.
type VerdictHistoryStore struct {
	conn *Conn
}

// NewVerdictHistoryStore creates a new VerdictHistoryStore.
func NewVerdictHistoryStore(conn *Conn) *VerdictHistoryStore {
	return &VerdictHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.VerdictHistoryStore = (*VerdictHistoryStore)(nil)

// InsertBulk appends verdicts. Duplicate (entity_id, trigger_id) rows are
// rejected with ErrDuplicateKey. ClickHouse does not enforce uniqueness at
// insert time, so duplicates are checked explicitly before the batch is sent.
func (s *VerdictHistoryStore) InsertBulk(ctx context.Context, verdicts []*domain.Verdict) error {
	if len(verdicts) == 0 {
		return nil
	}

	// Intra-batch duplicates
	seen := make(map[string]struct{}, len(verdicts))
	for _, v := range verdicts {
		if v == nil || v.EntityID == "" || v.TriggerID == "" {
			return storage.ErrInvalidInput
		}
		key := v.EntityID + "|" + v.TriggerID
		if _, dup := seen[key]; dup {
			return storage.ErrDuplicateKey
		}
		seen[key] = struct{}{}
	}

	// Duplicates against existing rows
	for _, v := range verdicts {
		exists, err := s.exists(ctx, v.EntityID, v.TriggerID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO verdict_history (
			entity_id, entity_kind, score, category, reasons, produced_at, trigger_id
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, v := range verdicts {
		reasons, err := json.Marshal(v.Reasons)
		if err != nil {
			return fmt.Errorf("marshal verdict reasons: %w", err)
		}
		err = batch.Append(
			v.EntityID,
			string(v.EntityKind),
			v.Score,
			string(v.Category),
			string(reasons),
			v.ProducedAt,
			v.TriggerID,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByEntityID retrieves all verdicts for an entity, ordered by produced-at ASC.
func (s *VerdictHistoryStore) GetByEntityID(ctx context.Context, entityID string) ([]*domain.Verdict, error) {
	query := `
		SELECT entity_id, entity_kind, score, category, reasons, produced_at, trigger_id
		FROM verdict_history
		WHERE entity_id = ?
		ORDER BY produced_at ASC, trigger_id ASC
	`
	rows, err := s.conn.Query(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("get verdicts by entity: %w", err)
	}
	defer rows.Close()

	return scanVerdicts(rows)
}

// GetByTimeRange retrieves verdicts within [start, end] (inclusive), ordered
// by produced-at ASC.
func (s *VerdictHistoryStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.Verdict, error) {
	query := `
		SELECT entity_id, entity_kind, score, category, reasons, produced_at, trigger_id
		FROM verdict_history
		WHERE produced_at >= ? AND produced_at <= ?
		ORDER BY produced_at ASC, entity_id ASC, trigger_id ASC
	`
	rows, err := s.conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("get verdicts by time range: %w", err)
	}
	defer rows.Close()

	return scanVerdicts(rows)
}

// exists checks whether a (entity_id, trigger_id) row is already stored.
func (s *VerdictHistoryStore) exists(ctx context.Context, entityID, triggerID string) (bool, error) {
	query := `
		SELECT count() FROM verdict_history
		WHERE entity_id = ? AND trigger_id = ?
	`
	var count uint64
	if err := s.conn.QueryRow(ctx, query, entityID, triggerID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

type verdictRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanVerdicts(rows verdictRows) ([]*domain.Verdict, error) {
	var verdicts []*domain.Verdict
	for rows.Next() {
		var (
			v        domain.Verdict
			kind     string
			category string
			reasons  string
		)
		err := rows.Scan(&v.EntityID, &kind, &v.Score, &category, &reasons, &v.ProducedAt, &v.TriggerID)
		if err != nil {
			return nil, fmt.Errorf("scan verdict row: %w", err)
		}
		v.EntityKind = domain.EntityKind(kind)
		v.Category = domain.Category(category)
		if reasons != "" && reasons != "null" {
			if err := json.Unmarshal([]byte(reasons), &v.Reasons); err != nil {
				return nil, fmt.Errorf("unmarshal verdict reasons: %w", err)
			}
		}
		verdicts = append(verdicts, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verdict rows: %w", err)
	}
	return verdicts, nil
}
