package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxSessionAttempts bounds a query session: one original attempt plus up to
// three corrections. A session never runs a fifth attempt.
const MaxSessionAttempts = 4

// QueryAttempt records one try at answering a question. Attempts are created
// by the orchestrator and never mutated afterwards.
type QueryAttempt struct {
	// Ordinal is 1-based; ordinal 1 is the original generation.
	Ordinal   int           `json:"ordinal"`
	SQL       string        `json:"sql"`
	Validated bool          `json:"validated"`
	Succeeded bool          `json:"succeeded"`
	Elapsed   time.Duration `json:"elapsed"`
	// Error holds the sanitized error message for a failed attempt.
	Error string `json:"error,omitempty"`
}

// QuerySession is the bounded sequence of attempts made to answer one
// question. It exists only for the duration of one request and is never
// persisted.
type QuerySession struct {
	ID        uuid.UUID      `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Identity  string         `json:"identity"`
	Question  string         `json:"question"`
	Attempts  []QueryAttempt `json:"attempts"`
	StartedAt time.Time      `json:"started_at"`
}

// NewQuerySession creates a session for one inbound question.
func NewQuerySession(tenantID, identity, question string) *QuerySession {
	return &QuerySession{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Identity:  identity,
		Question:  question,
		StartedAt: time.Now(),
	}
}

// RecordAttempt appends an immutable attempt record.
func (s *QuerySession) RecordAttempt(a QueryAttempt) {
	s.Attempts = append(s.Attempts, a)
}

// LastAttempt returns the most recent attempt, or nil if none were made.
func (s *QuerySession) LastAttempt() *QueryAttempt {
	if len(s.Attempts) == 0 {
		return nil
	}
	return &s.Attempts[len(s.Attempts)-1]
}

// CorrectionCount returns how many correction attempts were made beyond the
// original generation.
func (s *QuerySession) CorrectionCount() int {
	if len(s.Attempts) <= 1 {
		return 0
	}
	return len(s.Attempts) - 1
}
