// Package tools registers the engine's MCP tools and shapes their JSON
// responses.
package tools

import (
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/askdb-inc/askdb-engine/pkg/models"
	"github.com/askdb-inc/askdb-engine/pkg/qerrors"
)

// Envelope is the uniform response shape for every engine tool. Exactly one
// of Data and Error is set, matching Success.
type Envelope struct {
	Success  bool       `json:"success"`
	Data     any        `json:"data,omitempty"`
	Error    *ErrorBody `json:"error,omitempty"`
	TenantID string     `json:"tenant_id"`
	TimingMS int64      `json:"timing_ms"`
}

// ErrorBody carries a machine-readable code and a sanitized message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// RetryAfterMS is set for RATE_LIMITED so callers can back off precisely.
	RetryAfterMS int64 `json:"retry_after_ms,omitempty"`
}

// QueryData is the success payload of the query and ask tools.
type QueryData struct {
	Columns     []string `json:"columns"`
	Rows        [][]any  `json:"rows"`
	RowCount    int      `json:"row_count"`
	Truncated   bool     `json:"truncated"`
	ExecutedSQL string   `json:"executed_sql"`
	// CorrectionAttempts is set by the ask tool when the answer needed
	// self-correction.
	CorrectionAttempts int `json:"correction_attempts,omitempty"`
}

func queryData(res *models.QueryResult) *QueryData {
	return &QueryData{
		Columns:     res.Columns,
		Rows:        res.Rows,
		RowCount:    res.RowCount,
		Truncated:   res.Truncated,
		ExecutedSQL: res.ExecutedSQL,
	}
}

// successResult wraps data in a success envelope.
func successResult(tenantID string, start time.Time, data any) *mcp.CallToolResult {
	env := Envelope{
		Success:  true,
		Data:     data,
		TenantID: tenantID,
		TimingMS: time.Since(start).Milliseconds(),
	}
	payload, _ := json.Marshal(env)
	return mcp.NewToolResultText(string(payload))
}

// errorResult wraps a failure in an error envelope. The error is returned as
// a tool result rather than a protocol error so the calling agent sees the
// code and message and can act on them.
func errorResult(tenantID string, start time.Time, err error) *mcp.CallToolResult {
	qe := qerrors.AsQueryError(err)
	env := Envelope{
		Success:  false,
		TenantID: tenantID,
		TimingMS: time.Since(start).Milliseconds(),
		Error: &ErrorBody{
			Code:         qe.Code(),
			Message:      qe.Message,
			RetryAfterMS: qe.RetryAfter.Milliseconds(),
		},
	}
	payload, _ := json.Marshal(env)
	result := mcp.NewToolResultText(string(payload))
	result.IsError = true
	return result
}
