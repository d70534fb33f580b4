// Package learning persists (failure, fix) pairs produced by corrected query
// sessions so future generation can be biased away from repeat mistakes.
package learning

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/askdb-inc/askdb-engine/pkg/models"
)

// Sink receives learning records emitted by the correction loop.
type Sink interface {
	Record(ctx context.Context, rec *models.LearningRecord) error
}

// Store extends Sink with retrieval and confidence feedback. Confirmation
// and contradiction happen outside the correction loop, driven by later
// reuse of a record.
type Store interface {
	Sink

	// ForTenant returns up to limit records for the tenant, highest
	// confidence first.
	ForTenant(ctx context.Context, tenantID string, limit int) ([]*models.LearningRecord, error)

	// Confirm raises a record's confidence after successful reuse.
	Confirm(ctx context.Context, id uuid.UUID) error

	// Contradict lowers a record's confidence after it misled a generation.
	Contradict(ctx context.Context, id uuid.UUID) error
}

const (
	confirmStep    = 0.1
	contradictStep = 0.2
)

// NewRecord builds a learning record with the initial confidence score.
func NewRecord(tenantID string, category models.LearningCategory, originalSQL, originalError, correctedSQL string) *models.LearningRecord {
	return &models.LearningRecord{
		ID:            uuid.New(),
		TenantID:      tenantID,
		Category:      category,
		OriginalSQL:   originalSQL,
		OriginalError: originalError,
		CorrectedSQL:  correctedSQL,
		Confidence:    models.InitialLearningConfidence,
		CreatedAt:     time.Now(),
	}
}

// MemoryStore is an in-process Store for tests and single-binary use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*models.LearningRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]*models.LearningRecord)}
}

// Record implements Sink.
func (s *MemoryStore) Record(_ context.Context, rec *models.LearningRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

// ForTenant implements Store.
func (s *MemoryStore) ForTenant(_ context.Context, tenantID string, limit int) ([]*models.LearningRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.LearningRecord
	for _, rec := range s.records {
		if rec.TenantID == tenantID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Confirm implements Store.
func (s *MemoryStore) Confirm(_ context.Context, id uuid.UUID) error {
	return s.adjust(id, confirmStep)
}

// Contradict implements Store.
func (s *MemoryStore) Contradict(_ context.Context, id uuid.UUID) error {
	return s.adjust(id, -contradictStep)
}

func (s *MemoryStore) adjust(id uuid.UUID, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	rec.Confidence = models.ClampConfidence(rec.Confidence + delta)
	return nil
}

var _ Store = (*MemoryStore)(nil)
