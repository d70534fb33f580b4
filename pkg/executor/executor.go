// Package executor runs one validated query attempt against a tenant
// database and shapes its result or failure.
//
// Execute composes the rate limiter, the statement validator, and the tenant
// pool: quota is consumed first (a validator rejection still costs quota),
// then the statement is validated and rewritten, then executed on a scoped
// read-only connection. Every failure leaves as a classified QueryError.
package executor

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/askdb-inc/askdb-engine/pkg/datasource"
	"github.com/askdb-inc/askdb-engine/pkg/logging"
	"github.com/askdb-inc/askdb-engine/pkg/models"
	"github.com/askdb-inc/askdb-engine/pkg/qerrors"
	"github.com/askdb-inc/askdb-engine/pkg/ratelimit"
	"github.com/askdb-inc/askdb-engine/pkg/sqlguard"
)

// Conn is one checked-out tenant connection.
type Conn interface {
	Query(ctx context.Context, sqlQuery string, args ...any) (pgx.Rows, error)
	Release()
}

// ConnectionSource issues scoped tenant connections.
type ConnectionSource interface {
	Acquire(ctx context.Context, desc *models.ConnectionDescriptor) (Conn, error)
}

// RateLimiter guards the pipeline with per-identity and per-tenant quotas.
type RateLimiter interface {
	CheckAndIncrement(identityKey, tenantKey string) ratelimit.Decision
}

// Executor validates and runs single query attempts.
type Executor struct {
	pools   ConnectionSource
	limiter RateLimiter
	logger  *zap.Logger
}

// New creates an Executor.
func New(pools ConnectionSource, limiter RateLimiter, logger *zap.Logger) *Executor {
	return &Executor{pools: pools, limiter: limiter, logger: logger.Named("executor")}
}

// Execute runs one attempt: rate limit, validate, acquire, query, collect.
// On success the result is bounded by the tenant's MaxRows and carries the
// SQL that actually ran. On failure the returned error is always a
// *qerrors.QueryError.
func (e *Executor) Execute(
	ctx context.Context,
	sqlQuery string,
	desc *models.ConnectionDescriptor,
	allow models.AllowList,
	identityKey string,
) (*models.QueryResult, error) {
	decision := e.limiter.CheckAndIncrement(identityKey, desc.TenantID)
	if !decision.Allowed {
		qe := qerrors.New(qerrors.KindRateLimited, "query quota exceeded; back off and retry")
		qe.RetryAfter = decision.RetryAfter
		return nil, qe
	}

	outcome, err := sqlguard.Validate(sqlQuery, allow, desc.MaxRows)
	if err != nil {
		e.logger.Debug("statement rejected",
			zap.String("tenant_id", desc.TenantID),
			zap.String("sql", logging.Query(sqlQuery)),
			zap.Error(err))
		return nil, Classify(err)
	}
	for _, w := range outcome.Warnings {
		e.logger.Debug("validator warning",
			zap.String("tenant_id", desc.TenantID),
			zap.String("warning", w))
	}

	conn, err := e.pools.Acquire(ctx, desc)
	if err != nil {
		return nil, Classify(err)
	}
	defer conn.Release()

	start := time.Now()
	rows, err := conn.Query(ctx, outcome.SQL)
	if err != nil {
		return nil, Classify(err)
	}

	result, err := collectRows(rows, desc.MaxRows)
	if err != nil {
		return nil, Classify(err)
	}

	result.ExecutedSQL = outcome.SQL
	result.Elapsed = time.Since(start)

	e.logger.Debug("query executed",
		zap.String("tenant_id", desc.TenantID),
		zap.Int("rows", result.RowCount),
		zap.Bool("truncated", result.Truncated),
		zap.Duration("elapsed", result.Elapsed))
	return result, nil
}

// collectRows drains up to maxRows rows, preserving column and row order.
// The injected LIMIT already bounds the statement; hitting the cap exactly
// marks the result truncated since more rows may exist beyond it.
func collectRows(rows pgx.Rows, maxRows int) (*models.QueryResult, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, fd := range fields {
		columns[i] = string(fd.Name)
	}

	collected := make([][]any, 0)
	truncated := false
	for rows.Next() {
		if maxRows > 0 && len(collected) >= maxRows {
			truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make([]any, len(values))
		copy(row, values)
		collected = append(collected, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if maxRows > 0 && len(collected) == maxRows {
		truncated = true
	}

	return &models.QueryResult{
		Columns:   columns,
		Rows:      collected,
		RowCount:  len(collected),
		Truncated: truncated,
	}, nil
}

// PoolSource adapts the datasource manager to the ConnectionSource interface.
type PoolSource struct {
	Manager *datasource.Manager
}

// Acquire implements ConnectionSource.
func (p PoolSource) Acquire(ctx context.Context, desc *models.ConnectionDescriptor) (Conn, error) {
	sc, err := p.Manager.Acquire(ctx, desc)
	if err != nil {
		return nil, err
	}
	return sc, nil
}

var _ ConnectionSource = PoolSource{}
