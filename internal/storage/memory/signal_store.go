package memory

import (
	"context"
	"sort"
	"sync"

	"token-sentinel/internal/domain"
	"token-sentinel/internal/storage"
)

// SignalStore is an in-memory implementation of storage.SignalStore.
type SignalStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Signal // keyed by signal id
}

// NewSignalStore creates a new in-memory signal store.
func NewSignalStore() *SignalStore {
	return &SignalStore{
		data: make(map[string]*domain.Signal),
	}
}

// Insert adds a new signal. Returns ErrDuplicateKey if the id exists.
func (s *SignalStore) Insert(_ context.Context, sig *domain.Signal) error {
	if sig == nil || sig.ID == "" || sig.SuppressionKey == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[sig.ID]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy to prevent external mutation
	sigCopy := cloneSignal(sig)
	s.data[sig.ID] = sigCopy
	return nil
}

// UpdateStatus transitions a signal to a terminal status.
func (s *SignalStore) UpdateStatus(_ context.Context, id string, status domain.SignalStatus, postID string, attempts int) error {
	if id == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sig, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}

	sig.Status = status
	sig.PostID = postID
	sig.Attempts = attempts
	return nil
}

// LastEmitted retrieves the most recent signal for a suppression key.
// Returns ErrNotFound if none was ever emitted.
func (s *SignalStore) LastEmitted(_ context.Context, suppressionKey string) (*domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Signal
	for _, sig := range s.data {
		if sig.SuppressionKey != suppressionKey {
			continue
		}
		if latest == nil || sig.EmittedAt > latest.EmittedAt {
			latest = sig
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}

	return cloneSignal(latest), nil
}

// GetByStatus retrieves all signals with a status, ordered by emission time ASC.
func (s *SignalStore) GetByStatus(_ context.Context, status domain.SignalStatus) ([]*domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Signal
	for _, sig := range s.data {
		if sig.Status == status {
			result = append(result, cloneSignal(sig))
		}
	}

	// Sort by emitted_at ASC
	sort.Slice(result, func(i, j int) bool {
		return result[i].EmittedAt < result[j].EmittedAt
	})

	return result, nil
}

func cloneSignal(sig *domain.Signal) *domain.Signal {
	sigCopy := *sig
	if len(sig.Verdict.Reasons) > 0 {
		sigCopy.Verdict.Reasons = make([]domain.RuleScore, len(sig.Verdict.Reasons))
		copy(sigCopy.Verdict.Reasons, sig.Verdict.Reasons)
	}
	return &sigCopy
}
