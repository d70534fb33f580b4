package executor

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/askdb-inc/askdb-engine/pkg/datasource"
	"github.com/askdb-inc/askdb-engine/pkg/qerrors"
	"github.com/askdb-inc/askdb-engine/pkg/retry"
)

// Classify reclassifies a raw execution error into the qerrors taxonomy.
// This is computed here, once, for every failure path; the correction loop
// depends on the correctable/fatal distinction being consistent.
//
// Messages crossing this boundary are sanitized: schema-object detail from
// the database is allowed (it is what the model needs to correct itself),
// infrastructure detail (hosts, credentials) is not.
func Classify(err error) *qerrors.QueryError {
	if err == nil {
		return nil
	}

	var qe *qerrors.QueryError
	if errors.As(err, &qe) {
		return qe
	}

	if errors.Is(err, datasource.ErrPoolBusy) {
		return qerrors.Wrap(qerrors.KindConnection,
			"tenant connection pool is busy; retry shortly", err)
	}
	if errors.Is(err, datasource.ErrRoleSwitch) {
		return qerrors.Wrap(qerrors.KindPermission,
			"read-only role could not be applied to the tenant session", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyPg(pgErr, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return qerrors.Wrap(qerrors.KindTimeout,
			"query exceeded the statement time budget", err)
	}
	if errors.Is(err, context.Canceled) {
		return qerrors.Wrap(qerrors.KindInternal, "request cancelled", err)
	}

	if retry.IsRetryable(err) {
		// Network-shaped failure; the raw text may name hosts, so it stays out.
		return qerrors.Wrap(qerrors.KindConnection, "database connection failed", err)
	}

	return qerrors.Wrap(qerrors.KindInternal, "query execution failed", err)
}

// classifyPg maps PostgreSQL SQLSTATE codes onto the taxonomy.
//
// Correctable classes are the ones a regenerated SQL can plausibly fix:
//   - 42xxx syntax / undefined object / ambiguity (except 42501 privilege)
//   - 22xxx data exceptions (bad casts, malformed input)
//   - 21xxx cardinality violations
//
// Everything else is fatal: 28xxx auth, 08xxx connection, 53xxx resources,
// 57014 statement cancel (our server-side timeout firing).
func classifyPg(pgErr *pgconn.PgError, cause error) *qerrors.QueryError {
	code := pgErr.Code
	if len(code) < 2 {
		return qerrors.Wrap(qerrors.KindInternal, "query execution failed", cause)
	}

	if code == "57014" {
		return qerrors.Wrap(qerrors.KindTimeout,
			"query exceeded the statement time budget", cause)
	}
	if code == "42501" {
		return qerrors.Wrap(qerrors.KindPermission,
			"insufficient database permissions for this query", cause)
	}

	switch code[:2] {
	case "28":
		return qerrors.Wrap(qerrors.KindPermission,
			"database authentication failed for the tenant role", cause)
	case "08", "53", "3D":
		return qerrors.Wrap(qerrors.KindConnection, "database connection failed", cause)
	case "57":
		return qerrors.Wrap(qerrors.KindConnection, "database is shutting down or unavailable", cause)
	case "42", "22", "21":
		// The database's own message names the offending column/table/type,
		// which is exactly the context the correction prompt needs.
		return qerrors.Wrap(qerrors.KindCorrectable, pgErr.Message, cause)
	}

	return qerrors.Wrap(qerrors.KindInternal, "query execution failed", cause)
}
