package models

import "time"

// QueryResult holds the bounded result of a successful query execution.
// Column order and row order are preserved from the database. Immutable once
// produced by the executor.
type QueryResult struct {
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	RowCount int      `json:"row_count"`

	// Truncated is true when more rows existed beyond the configured cap.
	Truncated bool `json:"truncated"`

	// ExecutedSQL is the statement that actually ran, after LIMIT injection.
	ExecutedSQL string `json:"executed_sql"`

	Elapsed time.Duration `json:"-"`
}
