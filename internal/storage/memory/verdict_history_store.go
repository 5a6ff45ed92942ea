package memory

import (
	"context"
	"sort"
	"sync"

	"token-sentinel/internal/domain"
	"token-sentinel/internal/storage"
)

// VerdictHistoryStore is an in-memory implementation of
// storage.VerdictHistoryStore.
type VerdictHistoryStore struct {
	mu   sync.RWMutex
	data map[verdictKey]*domain.Verdict
}

type verdictKey struct {
	entityID  string
	triggerID string
}

// NewVerdictHistoryStore creates a new in-memory verdict history store.
func NewVerdictHistoryStore() *VerdictHistoryStore {
	return &VerdictHistoryStore{
		data: make(map[verdictKey]*domain.Verdict),
	}
}

// InsertBulk appends verdicts. Duplicate (entity_id, trigger_id) rows are
// rejected with ErrDuplicateKey before anything is written.
func (s *VerdictHistoryStore) InsertBulk(_ context.Context, verdicts []*domain.Verdict) error {
	for _, v := range verdicts {
		if v == nil || v.EntityID == "" || v.TriggerID == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range verdicts {
		if _, exists := s.data[verdictKey{v.EntityID, v.TriggerID}]; exists {
			return storage.ErrDuplicateKey
		}
	}
	for _, v := range verdicts {
		s.data[verdictKey{v.EntityID, v.TriggerID}] = cloneVerdict(v)
	}
	return nil
}

// GetByEntityID retrieves all verdicts for an entity, ordered by produced-at ASC.
func (s *VerdictHistoryStore) GetByEntityID(_ context.Context, entityID string) ([]*domain.Verdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Verdict
	for k, v := range s.data {
		if k.entityID == entityID {
			result = append(result, cloneVerdict(v))
		}
	}

	sortVerdicts(result)
	return result, nil
}

// GetByTimeRange retrieves verdicts within [start, end] (inclusive), ordered
// by produced-at ASC.
func (s *VerdictHistoryStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.Verdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Verdict
	for _, v := range s.data {
		if v.ProducedAt >= start && v.ProducedAt <= end {
			result = append(result, cloneVerdict(v))
		}
	}

	sortVerdicts(result)
	return result, nil
}

// sortVerdicts orders by produced_at ASC with entity id and trigger id as
// tie-breakers so results are deterministic.
func sortVerdicts(verdicts []*domain.Verdict) {
	sort.Slice(verdicts, func(i, j int) bool {
		if verdicts[i].ProducedAt != verdicts[j].ProducedAt {
			return verdicts[i].ProducedAt < verdicts[j].ProducedAt
		}
		if verdicts[i].EntityID != verdicts[j].EntityID {
			return verdicts[i].EntityID < verdicts[j].EntityID
		}
		return verdicts[i].TriggerID < verdicts[j].TriggerID
	})
}

func cloneVerdict(v *domain.Verdict) *domain.Verdict {
	vCopy := *v
	if len(v.Reasons) > 0 {
		vCopy.Reasons = make([]domain.RuleScore, len(v.Reasons))
		copy(vCopy.Reasons, v.Reasons)
	}
	return &vCopy
}
