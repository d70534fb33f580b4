package learning

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdb-inc/askdb-engine/pkg/models"
)

func TestNewRecord(t *testing.T) {
	rec := NewRecord("acme", models.CategoryTypeMismatch,
		"SELECT a FROM t", `column "a" does not exist`, "SELECT b FROM t")

	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.Equal(t, "acme", rec.TenantID)
	assert.Equal(t, models.CategoryTypeMismatch, rec.Category)
	assert.Equal(t, models.InitialLearningConfidence, rec.Confidence)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestMemoryStore_RecordAndRetrieve(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	low := NewRecord("acme", models.CategoryNamingConvention, "a", "e1", "b")
	low.Confidence = 0.3
	high := NewRecord("acme", models.CategoryTypeMismatch, "c", "e2", "d")
	high.Confidence = 0.9
	other := NewRecord("globex", models.CategoryDataQuality, "e", "e3", "f")

	require.NoError(t, store.Record(ctx, low))
	require.NoError(t, store.Record(ctx, high))
	require.NoError(t, store.Record(ctx, other))

	got, err := store.ForTenant(ctx, "acme", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, high.ID, got[0].ID, "highest confidence first")
	assert.Equal(t, low.ID, got[1].ID)
}

func TestMemoryStore_ForTenantLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(ctx, NewRecord("acme", models.CategoryBusinessLogic, "a", "e", "b")))
	}

	got, err := store.ForTenant(ctx, "acme", 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestMemoryStore_ConfidenceAdjustments(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := NewRecord("acme", models.CategoryJoinPattern, "a", "e", "b")
	require.NoError(t, store.Record(ctx, rec))

	require.NoError(t, store.Confirm(ctx, rec.ID))
	got, err := store.ForTenant(ctx, "acme", 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, got[0].Confidence, 1e-9)

	require.NoError(t, store.Contradict(ctx, rec.ID))
	got, _ = store.ForTenant(ctx, "acme", 1)
	assert.InDelta(t, 0.4, got[0].Confidence, 1e-9)
}

func TestMemoryStore_ConfidenceClamped(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := NewRecord("acme", models.CategoryJoinPattern, "a", "e", "b")
	require.NoError(t, store.Record(ctx, rec))

	for i := 0; i < 10; i++ {
		require.NoError(t, store.Confirm(ctx, rec.ID))
	}
	got, _ := store.ForTenant(ctx, "acme", 1)
	assert.Equal(t, 1.0, got[0].Confidence)

	for i := 0; i < 10; i++ {
		require.NoError(t, store.Contradict(ctx, rec.ID))
	}
	got, _ = store.ForTenant(ctx, "acme", 1)
	assert.Equal(t, 0.0, got[0].Confidence)
}

func TestMemoryStore_AdjustUnknownRecord(t *testing.T) {
	store := NewMemoryStore()
	err := store.Confirm(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestMemoryStore_CopiesRecords(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := NewRecord("acme", models.CategoryMissingFilter, "a", "e", "b")
	require.NoError(t, store.Record(ctx, rec))

	rec.CorrectedSQL = "mutated after store"
	got, err := store.ForTenant(ctx, "acme", 1)
	require.NoError(t, err)
	assert.Equal(t, "b", got[0].CorrectedSQL)
}
