// Package metadata exposes read-only schema introspection for tenant
// databases, filtered through the tenant's table allow-list.
package metadata

import (
	"context"

	"github.com/askdb-inc/askdb-engine/pkg/models"
)

// TableInfo summarizes one user table.
type TableInfo struct {
	Schema        string `json:"schema"`
	Name          string `json:"name"`
	EstimatedRows int64  `json:"estimated_rows"`
}

// ColumnInfo describes one column of a table.
type ColumnInfo struct {
	Name         string `json:"name"`
	DataType     string `json:"data_type"`
	IsNullable   bool   `json:"is_nullable"`
	IsPrimaryKey bool   `json:"is_primary_key"`
	Default      string `json:"default,omitempty"`
}

// TableDescription is the full shape of one table.
type TableDescription struct {
	Schema  string       `json:"schema"`
	Name    string       `json:"name"`
	Columns []ColumnInfo `json:"columns"`

	// SampleRows holds up to a few example rows in column order, values
	// stringified and truncated, so callers can see real value shapes.
	SampleRows [][]string `json:"sample_rows,omitempty"`
}

// Provider introspects a tenant database. Implementations must respect the
// allow-list: tables the tenant cannot query are never described or listed.
type Provider interface {
	ListTables(ctx context.Context, desc *models.ConnectionDescriptor, allow models.AllowList) ([]TableInfo, error)
	DescribeTable(ctx context.Context, desc *models.ConnectionDescriptor, allow models.AllowList, table string) (*TableDescription, error)
}

// filterTables drops tables the allow-list does not permit.
func filterTables(tables []TableInfo, allow models.AllowList) []TableInfo {
	out := make([]TableInfo, 0, len(tables))
	for _, t := range tables {
		if allow.Permits(t.Schema + "." + t.Name) {
			out = append(out, t)
		}
	}
	return out
}
