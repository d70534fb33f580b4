// Package qerrors defines the error taxonomy for the query execution core.
//
// Every failure that crosses a component boundary is wrapped in a QueryError
// carrying a Kind and a sanitized, user-safe message. The Kind determines
// whether the self-correction loop may retry (correctable) or must give up
// (fatal), and maps to the error code surfaced at the tool boundary.
package qerrors

import (
	"errors"
	"time"
)

// Kind classifies a query failure.
type Kind int

const (
	// KindValidation - rejected before execution by the statement validator.
	KindValidation Kind = iota
	// KindPermission - role or grant misconfiguration. Fatal, operator-visible.
	KindPermission
	// KindConnection - network or infrastructure failure. Fatal, sanitized.
	KindConnection
	// KindTimeout - statement exceeded its time budget. Fatal; retrying an
	// expensive query would waste the same budget again.
	KindTimeout
	// KindRateLimited - quota exceeded. Fatal for this request.
	KindRateLimited
	// KindCorrectable - unknown column/table, type mismatch, ambiguous
	// reference. Eligible for the self-correction loop.
	KindCorrectable
	// KindInternal - anything else. Fatal.
	KindInternal
)

// String returns the boundary error code for the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindPermission:
		return "PERMISSION_DENIED"
	case KindConnection:
		return "CONNECTION_ERROR"
	case KindTimeout:
		return "QUERY_TIMEOUT"
	case KindRateLimited:
		return "RATE_LIMITED"
	case KindCorrectable:
		// Correctable errors that escape the loop are the model's SQL at fault.
		return "VALIDATION_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

// QueryError is a classified, sanitized query failure.
type QueryError struct {
	Kind    Kind
	Message string
	// RetryAfter is set for KindRateLimited denials.
	RetryAfter time.Duration
	cause      error
}

// New creates a QueryError with the given kind and sanitized message.
func New(kind Kind, message string) *QueryError {
	return &QueryError{Kind: kind, Message: message}
}

// Wrap creates a QueryError that preserves the underlying cause for logging.
// The cause never crosses the external boundary; only Message does.
func Wrap(kind Kind, message string, cause error) *QueryError {
	return &QueryError{Kind: kind, Message: message, cause: cause}
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *QueryError) Unwrap() error {
	return e.cause
}

// Correctable reports whether the self-correction loop may retry this error
// with regenerated SQL. Only KindCorrectable qualifies; all other kinds
// propagate immediately.
func (e *QueryError) Correctable() bool {
	return e.Kind == KindCorrectable
}

// Code returns the machine-readable error code for the tool boundary.
func (e *QueryError) Code() string {
	return e.Kind.String()
}

// AsQueryError extracts a *QueryError from err, or wraps err as KindInternal
// with a generic message so raw error text never leaks to callers.
func AsQueryError(err error) *QueryError {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe
	}
	return Wrap(KindInternal, "internal error", err)
}
