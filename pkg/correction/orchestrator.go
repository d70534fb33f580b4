// Package correction drives the bounded self-correction loop that turns an
// unreliable SQL generation step into a deterministic state machine.
//
// A session makes at most models.MaxSessionAttempts attempts: the original
// generation plus up to three corrections. Only correctable execution errors
// re-enter the loop; every other failure kind propagates immediately. A
// session that succeeds after at least one correction emits exactly one
// learning record pairing the last failure with the fix.
package correction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/askdb-inc/askdb-engine/pkg/learning"
	"github.com/askdb-inc/askdb-engine/pkg/logging"
	"github.com/askdb-inc/askdb-engine/pkg/models"
	"github.com/askdb-inc/askdb-engine/pkg/qerrors"
)

// GenerationRequest is the input to the external SQL generation step.
type GenerationRequest struct {
	Question       string
	SchemaMetadata string
	Knowledge      []models.KnowledgeItem

	// PriorSQL and PriorError are set on correction attempts (Attempt > 1)
	// so the generator can repair its own mistake.
	PriorSQL   string
	PriorError string
	Attempt    int
}

// SQLGenerator produces candidate SQL for a question. Implementations call a
// model; the orchestrator and its tests treat it as a pluggable black box.
type SQLGenerator interface {
	GenerateSQL(ctx context.Context, req GenerationRequest) (string, error)
}

// QueryRunner executes one validated attempt. Satisfied by executor.Executor.
type QueryRunner interface {
	Execute(ctx context.Context, sqlQuery string, desc *models.ConnectionDescriptor,
		allow models.AllowList, identityKey string) (*models.QueryResult, error)
}

// Request carries one inbound question with its tenant and identity context.
// All context is explicit; the core keeps no ambient tenant state.
type Request struct {
	Question       string
	Identity       string
	Descriptor     *models.ConnectionDescriptor
	Allow          models.AllowList
	SchemaMetadata string
	Knowledge      []models.KnowledgeItem
}

// Result is a completed session's outcome.
type Result struct {
	QueryResult *models.QueryResult
	Session     *models.QuerySession
	// CorrectionAttempts counts retries beyond the original generation.
	CorrectionAttempts int
}

// Orchestrator runs query sessions.
type Orchestrator struct {
	gen         SQLGenerator
	runner      QueryRunner
	sink        learning.Sink
	maxAttempts int
	logger      *zap.Logger
}

// New creates an Orchestrator. sink may be nil when learning persistence is
// disabled.
func New(gen SQLGenerator, runner QueryRunner, sink learning.Sink, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		gen:         gen,
		runner:      runner,
		sink:        sink,
		maxAttempts: models.MaxSessionAttempts,
		logger:      logger.Named("correction"),
	}
}

// Answer runs the state machine for one question. It returns the successful
// result, or the last error after the retry ceiling or a fatal failure; the
// Result is populated in both cases so callers can inspect the session.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (*Result, error) {
	session := models.NewQuerySession(req.Descriptor.TenantID, req.Identity, req.Question)
	result := &Result{Session: session}

	var priorSQL, priorError string

	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return result, qerrors.Wrap(qerrors.KindInternal, "request cancelled", err)
		}

		sqlText, err := o.gen.GenerateSQL(ctx, GenerationRequest{
			Question:       req.Question,
			SchemaMetadata: req.SchemaMetadata,
			Knowledge:      req.Knowledge,
			PriorSQL:       priorSQL,
			PriorError:     priorError,
			Attempt:        attempt,
		})
		if err != nil {
			o.logger.Warn("SQL generation failed",
				zap.String("tenant_id", req.Descriptor.TenantID),
				zap.Int("attempt", attempt),
				zap.String("error", logging.Error(err)))
			return result, qerrors.Wrap(qerrors.KindInternal, "SQL generation failed", err)
		}

		start := time.Now()
		queryResult, execErr := o.runner.Execute(ctx, sqlText, req.Descriptor, req.Allow, req.Identity)
		elapsed := time.Since(start)

		if execErr == nil {
			session.RecordAttempt(models.QueryAttempt{
				Ordinal: attempt, SQL: sqlText, Validated: true, Succeeded: true, Elapsed: elapsed,
			})
			result.QueryResult = queryResult
			result.CorrectionAttempts = attempt - 1

			if attempt > 1 {
				o.emitLearning(ctx, req.Descriptor.TenantID, priorSQL, priorError, sqlText)
			}
			return result, nil
		}

		qe := qerrors.AsQueryError(execErr)
		session.RecordAttempt(models.QueryAttempt{
			Ordinal:   attempt,
			SQL:       sqlText,
			Validated: qe.Kind != qerrors.KindValidation,
			Elapsed:   elapsed,
			Error:     qe.Message,
		})

		if !qe.Correctable() {
			o.logger.Debug("fatal query error, no retry",
				zap.String("tenant_id", req.Descriptor.TenantID),
				zap.Int("attempt", attempt),
				zap.String("code", qe.Code()))
			return result, qe
		}
		if attempt == o.maxAttempts {
			result.CorrectionAttempts = attempt - 1
			return result, qerrors.New(qe.Kind, fmt.Sprintf(
				"%s (automatic correction attempted %d times)", qe.Message, attempt-1))
		}

		o.logger.Debug("correctable error, regenerating",
			zap.String("tenant_id", req.Descriptor.TenantID),
			zap.Int("attempt", attempt),
			zap.String("error", qe.Message))
		priorSQL, priorError = sqlText, qe.Message
	}

	// Unreachable: the loop always returns by the ceiling attempt.
	return result, qerrors.New(qerrors.KindInternal, "query session exhausted")
}

// emitLearning records the failure/fix pair from a corrected session.
// Persistence failures are logged, never surfaced to the caller.
func (o *Orchestrator) emitLearning(ctx context.Context, tenantID, failedSQL, failedError, correctedSQL string) {
	if o.sink == nil {
		return
	}
	rec := learning.NewRecord(tenantID, CategoryForError(failedError), failedSQL, failedError, correctedSQL)
	if err := o.sink.Record(ctx, rec); err != nil {
		o.logger.Warn("failed to persist learning record",
			zap.String("tenant_id", tenantID),
			zap.String("error", logging.Error(err)))
	}
}

// CategoryForError infers a learning category from a sanitized database
// error message.
func CategoryForError(message string) models.LearningCategory {
	msg := strings.ToLower(message)
	switch {
	case strings.Contains(msg, "operator does not exist"),
		strings.Contains(msg, "invalid input syntax"),
		strings.Contains(msg, "cannot cast"),
		strings.Contains(msg, "out of range"),
		strings.Contains(msg, "type mismatch"):
		return models.CategoryTypeMismatch
	case strings.Contains(msg, "ambiguous"):
		return models.CategoryJoinPattern
	case strings.Contains(msg, "aggregate"),
		strings.Contains(msg, "group by"),
		strings.Contains(msg, "grouping"):
		return models.CategoryAggregation
	case strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "undefined"):
		return models.CategoryNamingConvention
	case strings.Contains(msg, "division by zero"),
		strings.Contains(msg, "null value"):
		return models.CategoryDataQuality
	default:
		return models.CategoryBusinessLogic
	}
}
