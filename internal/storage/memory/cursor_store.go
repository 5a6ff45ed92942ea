package memory

import (
	"context"
	"sync"

	"token-sentinel/internal/storage"
)

// CursorStore is an in-memory implementation of storage.CursorStore.
type CursorStore struct {
	mu   sync.RWMutex
	data map[string]*storage.Cursor // keyed by source id
}

// NewCursorStore creates a new in-memory cursor store.
func NewCursorStore() *CursorStore {
	return &CursorStore{
		data: make(map[string]*storage.Cursor),
	}
}

// Save writes or replaces the cursor for its source id.
func (s *CursorStore) Save(_ context.Context, c *storage.Cursor) error {
	if c == nil || c.SourceID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cursorCopy := *c
	s.data[c.SourceID] = &cursorCopy
	return nil
}

// Get retrieves the cursor for a source. Returns ErrNotFound if the source
// has never checkpointed.
func (s *CursorStore) Get(_ context.Context, sourceID string) (*storage.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.data[sourceID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	cursorCopy := *c
	return &cursorCopy, nil
}
