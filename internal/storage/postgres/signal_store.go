package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"token-sentinel/internal/domain"
	"token-sentinel/internal/storage"
)

// SignalStore implements storage.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *Pool
}

// NewSignalStore creates a new SignalStore.
func NewSignalStore(pool *Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SignalStore = (*SignalStore)(nil)

// Insert adds a new signal. Returns ErrDuplicateKey if the id exists.
func (s *SignalStore) Insert(ctx context.Context, sig *domain.Signal) error {
	if sig == nil || sig.ID == "" || sig.SuppressionKey == "" {
		return storage.ErrInvalidInput
	}
	reasons, err := json.Marshal(sig.Verdict.Reasons)
	if err != nil {
		return fmt.Errorf("marshal signal reasons: %w", err)
	}

	query := `
		INSERT INTO signals (
			id, entity_id, entity_kind, category, score, reasons,
			produced_at, trigger_id, suppression_key, emitted_at,
			status, attempts, post_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = s.pool.Exec(ctx, query,
		sig.ID,
		sig.Verdict.EntityID,
		string(sig.Verdict.EntityKind),
		string(sig.Verdict.Category),
		sig.Verdict.Score,
		reasons,
		sig.Verdict.ProducedAt,
		sig.Verdict.TriggerID,
		sig.SuppressionKey,
		sig.EmittedAt,
		string(sig.Status),
		sig.Attempts,
		sig.PostID,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// UpdateStatus transitions a signal to a terminal status.
func (s *SignalStore) UpdateStatus(ctx context.Context, id string, status domain.SignalStatus, postID string, attempts int) error {
	query := `
		UPDATE signals
		SET status = $2, post_id = $3, attempts = $4
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query, id, string(status), postID, attempts)
	if err != nil {
		return fmt.Errorf("update signal status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// LastEmitted retrieves the most recent signal for a suppression key.
// Returns ErrNotFound if none was ever emitted.
func (s *SignalStore) LastEmitted(ctx context.Context, suppressionKey string) (*domain.Signal, error) {
	query := selectSignalColumns + `
		WHERE suppression_key = $1
		ORDER BY emitted_at DESC, id DESC
		LIMIT 1
	`
	row := s.pool.QueryRow(ctx, query, suppressionKey)
	sig, err := scanSignal(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get last emitted signal: %w", err)
	}
	return sig, nil
}

// GetByStatus retrieves all signals with a status, ordered by emission time ASC.
func (s *SignalStore) GetByStatus(ctx context.Context, status domain.SignalStatus) ([]*domain.Signal, error) {
	query := selectSignalColumns + `
		WHERE status = $1
		ORDER BY emitted_at ASC, id ASC
	`
	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("get signals by status: %w", err)
	}
	defer rows.Close()

	var signals []*domain.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal row: %w", err)
		}
		signals = append(signals, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signal rows: %w", err)
	}
	return signals, nil
}

const selectSignalColumns = `
	SELECT id, entity_id, entity_kind, category, score, reasons,
	       produced_at, trigger_id, suppression_key, emitted_at,
	       status, attempts, post_id
	FROM signals
`

// scanSignal scans a single row into a Signal.
func scanSignal(row pgx.Row) (*domain.Signal, error) {
	var (
		sig      domain.Signal
		kind     string
		category string
		status   string
		reasons  []byte
	)
	err := row.Scan(
		&sig.ID,
		&sig.Verdict.EntityID,
		&kind,
		&category,
		&sig.Verdict.Score,
		&reasons,
		&sig.Verdict.ProducedAt,
		&sig.Verdict.TriggerID,
		&sig.SuppressionKey,
		&sig.EmittedAt,
		&status,
		&sig.Attempts,
		&sig.PostID,
	)
	if err != nil {
		return nil, err
	}
	sig.Verdict.EntityKind = domain.EntityKind(kind)
	sig.Verdict.Category = domain.Category(category)
	sig.Status = domain.SignalStatus(status)
	if err := json.Unmarshal(reasons, &sig.Verdict.Reasons); err != nil {
		return nil, fmt.Errorf("unmarshal signal reasons: %w", err)
	}
	return &sig, nil
}
