package metadata

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/askdb-inc/askdb-engine/pkg/models"
)

func TestFilterTables(t *testing.T) {
	tables := []TableInfo{
		{Schema: "public", Name: "orders", EstimatedRows: 1000},
		{Schema: "public", Name: "customers", EstimatedRows: 50},
		{Schema: "public", Name: "customer_secrets", EstimatedRows: 50},
		{Schema: "audit", Name: "events", EstimatedRows: 9000},
	}

	allow := models.NewAllowList([]string{"orders", "customers"}, []string{"customer_secrets"})
	got := filterTables(tables, allow)

	names := make([]string, len(got))
	for i, ti := range got {
		names[i] = ti.Name
	}
	assert.Equal(t, []string{"orders", "customers"}, names)
}

func TestFilterTables_Unrestricted(t *testing.T) {
	tables := []TableInfo{
		{Schema: "public", Name: "orders"},
		{Schema: "public", Name: "customers"},
	}
	got := filterTables(tables, models.NewAllowList(nil, nil))
	assert.Len(t, got, 2)
}

func TestRenderSampleValue(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"nil is NULL", nil, "NULL"},
		{"integer", int64(42), "42"},
		{"string passthrough", "acme", "acme"},
		{"boolean", true, "true"},
		{"long value truncated", strings.Repeat("x", 200), strings.Repeat("x", sampleValueMaxLen) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderSampleValue(tt.input))
		})
	}
}

func TestSplitTableName(t *testing.T) {
	tests := []struct {
		input         string
		defaultSchema string
		wantSchema    string
		wantName      string
	}{
		{"orders", "public", "public", "orders"},
		{"sales.orders", "public", "sales", "orders"},
		{"Orders", "", "public", "orders"},
		{"SALES.ORDERS", "", "sales", "orders"},
		{"orders", "tenant_a", "tenant_a", "orders"},
	}

	for _, tt := range tests {
		schema, name := splitTableName(tt.input, tt.defaultSchema)
		assert.Equal(t, tt.wantSchema, schema, "input %q", tt.input)
		assert.Equal(t, tt.wantName, name, "input %q", tt.input)
	}
}
