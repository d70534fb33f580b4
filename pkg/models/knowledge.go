package models

// KnowledgeKind tags a KnowledgeItem variant.
type KnowledgeKind string

const (
	KnowledgeMetric        KnowledgeKind = "metric"
	KnowledgeRule          KnowledgeKind = "rule"
	KnowledgeVerifiedQuery KnowledgeKind = "verified_query"
	KnowledgeLearning      KnowledgeKind = "learning"
)

// KnowledgeItem is one piece of retrieved context handed to the SQL
// generation step. It is a tagged union: exactly the fields for its Kind are
// populated, and the single place it is rendered into a prompt switches
// exhaustively on Kind.
type KnowledgeItem struct {
	Kind KnowledgeKind `json:"kind"`

	// Metric fields.
	MetricName       string `json:"metric_name,omitempty"`
	MetricDefinition string `json:"metric_definition,omitempty"`

	// Rule fields.
	RuleText string `json:"rule_text,omitempty"`

	// Verified query fields.
	QueryQuestion string `json:"query_question,omitempty"`
	QuerySQL      string `json:"query_sql,omitempty"`

	// Learning fields.
	LearningError      string  `json:"learning_error,omitempty"`
	LearningFix        string  `json:"learning_fix,omitempty"`
	LearningConfidence float64 `json:"learning_confidence,omitempty"`
}

// MetricItem builds a metric knowledge item.
func MetricItem(name, definition string) KnowledgeItem {
	return KnowledgeItem{Kind: KnowledgeMetric, MetricName: name, MetricDefinition: definition}
}

// RuleItem builds a business-rule knowledge item.
func RuleItem(text string) KnowledgeItem {
	return KnowledgeItem{Kind: KnowledgeRule, RuleText: text}
}

// VerifiedQueryItem builds a verified question/SQL pair.
func VerifiedQueryItem(question, sql string) KnowledgeItem {
	return KnowledgeItem{Kind: KnowledgeVerifiedQuery, QueryQuestion: question, QuerySQL: sql}
}

// LearningItem builds a knowledge item from a persisted learning record.
func LearningItem(rec *LearningRecord) KnowledgeItem {
	return KnowledgeItem{
		Kind:               KnowledgeLearning,
		LearningError:      rec.OriginalError,
		LearningFix:        rec.CorrectedSQL,
		LearningConfidence: rec.Confidence,
	}
}
