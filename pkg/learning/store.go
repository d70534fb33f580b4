package learning

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/askdb-inc/askdb-engine/pkg/database"
	"github.com/askdb-inc/askdb-engine/pkg/models"
)

// ErrRecordNotFound indicates the learning record does not exist.
var ErrRecordNotFound = errors.New("learning record not found")

// PGStore persists learning records in the engine's own PostgreSQL database.
// Schema lives in migrations/ and is applied at startup.
type PGStore struct {
	db *database.DB
}

// NewPGStore creates a PGStore backed by the engine database.
func NewPGStore(db *database.DB) *PGStore {
	return &PGStore{db: db}
}

var _ Store = (*PGStore)(nil)

// Record implements Sink.
func (s *PGStore) Record(ctx context.Context, rec *models.LearningRecord) error {
	query := `
		INSERT INTO engine_learning_records (
			id, tenant_id, category, original_sql, original_error,
			corrected_sql, confidence, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.Exec(ctx, query,
		rec.ID, rec.TenantID, string(rec.Category), rec.OriginalSQL,
		rec.OriginalError, rec.CorrectedSQL, rec.Confidence, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert learning record: %w", err)
	}
	return nil
}

// ForTenant implements Store.
func (s *PGStore) ForTenant(ctx context.Context, tenantID string, limit int) ([]*models.LearningRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, tenant_id, category, original_sql, original_error,
		       corrected_sql, confidence, created_at
		FROM engine_learning_records
		WHERE tenant_id = $1
		ORDER BY confidence DESC, created_at DESC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("query learning records: %w", err)
	}
	defer rows.Close()

	records := make([]*models.LearningRecord, 0)
	for rows.Next() {
		var rec models.LearningRecord
		var category string
		if err := rows.Scan(&rec.ID, &rec.TenantID, &category, &rec.OriginalSQL,
			&rec.OriginalError, &rec.CorrectedSQL, &rec.Confidence, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan learning record: %w", err)
		}
		rec.Category = models.LearningCategory(category)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate learning records: %w", err)
	}
	return records, nil
}

// Confirm implements Store.
func (s *PGStore) Confirm(ctx context.Context, id uuid.UUID) error {
	return s.adjust(ctx, id, confirmStep)
}

// Contradict implements Store.
func (s *PGStore) Contradict(ctx context.Context, id uuid.UUID) error {
	return s.adjust(ctx, id, -contradictStep)
}

func (s *PGStore) adjust(ctx context.Context, id uuid.UUID, delta float64) error {
	query := `
		UPDATE engine_learning_records
		SET confidence = LEAST(1.0, GREATEST(0.0, confidence + $2))
		WHERE id = $1
		RETURNING id`

	var got uuid.UUID
	err := s.db.QueryRow(ctx, query, id, delta).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrRecordNotFound
	}
	if err != nil {
		return fmt.Errorf("adjust learning confidence: %w", err)
	}
	return nil
}
