package models

import (
	"time"

	"github.com/google/uuid"
)

// LearningCategory classifies what kind of mistake a correction fixed.
type LearningCategory string

const (
	CategoryTypeMismatch     LearningCategory = "type_mismatch"
	CategoryMissingFilter    LearningCategory = "missing_filter"
	CategoryJoinPattern      LearningCategory = "join_pattern"
	CategoryAggregation      LearningCategory = "aggregation_gotcha"
	CategoryNamingConvention LearningCategory = "naming_convention"
	CategoryDataQuality      LearningCategory = "data_quality"
	CategoryBusinessLogic    LearningCategory = "business_logic"
)

// LearningRecord pairs a failing SQL attempt with the correction that
// succeeded. Records are created once a session ends with at least one
// successful correction, and are used to bias future generation away from
// repeat mistakes.
type LearningRecord struct {
	ID            uuid.UUID        `json:"id"`
	TenantID      string           `json:"tenant_id"`
	Category      LearningCategory `json:"category"`
	OriginalSQL   string           `json:"original_sql"`
	OriginalError string           `json:"original_error"`
	CorrectedSQL  string           `json:"corrected_sql"`

	// Confidence is in [0,1]. It increases on reuse-confirmation and
	// decreases on contradiction; both adjustments happen outside the
	// correction loop.
	Confidence float64 `json:"confidence"`

	CreatedAt time.Time `json:"created_at"`
}

// InitialLearningConfidence is assigned to a freshly emitted record.
const InitialLearningConfidence = 0.5

// ClampConfidence bounds a confidence score to [0,1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
