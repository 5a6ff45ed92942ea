package postgres

import (
	"context"
	"fmt"

	"token-sentinel/internal/storage"
)

// CursorStore implements storage.CursorStore using PostgreSQL.
type CursorStore struct {
	pool *Pool
}

// NewCursorStore creates a new CursorStore.
func NewCursorStore(pool *Pool) *CursorStore {
	return &CursorStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CursorStore = (*CursorStore)(nil)

// Save writes or replaces the cursor for its source id.
func (s *CursorStore) Save(ctx context.Context, c *storage.Cursor) error {
	if c == nil || c.SourceID == "" {
		return storage.ErrInvalidInput
	}
	query := `
		INSERT INTO source_cursors (source_id, seq, position, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source_id) DO UPDATE SET
			seq = EXCLUDED.seq,
			position = EXCLUDED.position,
			updated_at = EXCLUDED.updated_at
	`
	// Seq is hashed from upstream identity and can exceed int64; stored
	// two's-complement and restored symmetrically on read.
	_, err := s.pool.Exec(ctx, query, c.SourceID, int64(c.Seq), c.Position, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// Get retrieves the cursor for a source. Returns ErrNotFound if the source
// has never checkpointed.
func (s *CursorStore) Get(ctx context.Context, sourceID string) (*storage.Cursor, error) {
	query := `
		SELECT source_id, seq, position, updated_at
		FROM source_cursors
		WHERE source_id = $1
	`

	var (
		c   storage.Cursor
		seq int64
	)
	err := s.pool.QueryRow(ctx, query, sourceID).Scan(&c.SourceID, &seq, &c.Position, &c.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get cursor: %w", err)
	}
	c.Seq = uint64(seq)
	return &c, nil
}
