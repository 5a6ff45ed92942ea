package memory

import (
	"context"
	"sync"

	"token-sentinel/internal/domain"
	"token-sentinel/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[string]*domain.EntitySnapshot // keyed by entity id
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		data: make(map[string]*domain.EntitySnapshot),
	}
}

// Upsert writes or replaces the snapshot for its entity id.
func (s *SnapshotStore) Upsert(_ context.Context, snap *domain.EntitySnapshot) error {
	if snap == nil || snap.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to prevent external mutation
	snapCopy := snap.Clone()
	s.data[snap.ID] = &snapCopy
	return nil
}

// UpsertBulk writes multiple snapshots in one call.
func (s *SnapshotStore) UpsertBulk(_ context.Context, snaps []*domain.EntitySnapshot) error {
	for _, snap := range snaps {
		if snap == nil || snap.ID == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, snap := range snaps {
		snapCopy := snap.Clone()
		s.data[snap.ID] = &snapCopy
	}
	return nil
}

// GetByID retrieves a snapshot. Returns ErrNotFound if not exists.
func (s *SnapshotStore) GetByID(_ context.Context, entityID string) (*domain.EntitySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, exists := s.data[entityID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	// Return a copy
	snapCopy := snap.Clone()
	return &snapCopy, nil
}

// GetAll retrieves every stored snapshot.
func (s *SnapshotStore) GetAll(_ context.Context) ([]*domain.EntitySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.EntitySnapshot, 0, len(s.data))
	for _, snap := range s.data {
		snapCopy := snap.Clone()
		result = append(result, &snapCopy)
	}
	return result, nil
}

// Delete removes a snapshot. Missing ids are not an error.
func (s *SnapshotStore) Delete(_ context.Context, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, entityID)
	return nil
}
