package metadata

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/askdb-inc/askdb-engine/pkg/datasource"
	"github.com/askdb-inc/askdb-engine/pkg/logging"
	"github.com/askdb-inc/askdb-engine/pkg/models"
	"github.com/askdb-inc/askdb-engine/pkg/qerrors"
)

// PGProvider introspects tenant Postgres databases through the scoped
// connection pool, so introspection runs under the same read-only role and
// statement timeout as queries.
type PGProvider struct {
	pools  *datasource.Manager
	logger *zap.Logger
}

// NewPGProvider creates a PGProvider over the tenant pool manager.
func NewPGProvider(pools *datasource.Manager, logger *zap.Logger) *PGProvider {
	return &PGProvider{pools: pools, logger: logger.Named("metadata")}
}

// listTablesQuery joins pg_class for the planner's row estimate; an exact
// COUNT per table would be unbounded work on large tenants.
const listTablesQuery = `
	SELECT
		t.table_schema,
		t.table_name,
		COALESCE(c.reltuples::bigint, 0) AS estimated_rows
	FROM information_schema.tables t
	LEFT JOIN pg_namespace n ON n.nspname = t.table_schema
	LEFT JOIN pg_class c ON c.relname = t.table_name AND c.relnamespace = n.oid
	WHERE t.table_type = 'BASE TABLE'
	  AND t.table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
	ORDER BY t.table_schema, t.table_name`

// ListTables implements Provider.
func (p *PGProvider) ListTables(ctx context.Context, desc *models.ConnectionDescriptor, allow models.AllowList) ([]TableInfo, error) {
	conn, err := p.pools.Acquire(ctx, desc)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, listTablesQuery)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []TableInfo
	for rows.Next() {
		var t TableInfo
		if err := rows.Scan(&t.Schema, &t.Name, &t.EstimatedRows); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}

	return filterTables(tables, allow), nil
}

const describeColumnsQuery = `
	SELECT
		c.column_name,
		c.data_type,
		c.is_nullable = 'YES' AS is_nullable,
		COALESCE(pk.is_pk, false) AS is_primary_key,
		COALESCE(c.column_default, '') AS column_default
	FROM information_schema.columns c
	LEFT JOIN (
		SELECT a.attname AS column_name, true AS is_pk
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		WHERE ix.indisprimary = true
		  AND n.nspname = $1
		  AND t.relname = $2
	) pk ON c.column_name = pk.column_name
	WHERE c.table_schema = $1 AND c.table_name = $2
	ORDER BY c.ordinal_position`

// DescribeTable implements Provider. The allow-list is enforced before any
// database work so a denied table never touches the tenant connection.
func (p *PGProvider) DescribeTable(ctx context.Context, desc *models.ConnectionDescriptor, allow models.AllowList, table string) (*TableDescription, error) {
	schema, name := splitTableName(table, desc.Schema)

	if !allow.Permits(schema + "." + name) {
		return nil, qerrors.New(qerrors.KindPermission,
			fmt.Sprintf("table %q is not accessible for this tenant", table))
	}

	conn, err := p.pools.Acquire(ctx, desc)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, describeColumnsQuery, schema, name)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	out := &TableDescription{Schema: schema, Name: name}
	for rows.Next() {
		var c ColumnInfo
		if err := rows.Scan(&c.Name, &c.DataType, &c.IsNullable, &c.IsPrimaryKey, &c.Default); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		out.Columns = append(out.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}

	if len(out.Columns) == 0 {
		return nil, qerrors.New(qerrors.KindValidation,
			fmt.Sprintf("table %q does not exist", table))
	}

	out.SampleRows = p.sampleRows(ctx, conn, schema, name)
	return out, nil
}

const (
	sampleRowLimit    = 3
	sampleValueMaxLen = 64
)

// sampleRows fetches a few example rows on the same scoped connection, so the
// read-only role and statement timeout apply. Failures degrade to no samples;
// the description itself stands.
func (p *PGProvider) sampleRows(ctx context.Context, conn *datasource.ScopedConn, schema, name string) [][]string {
	query := fmt.Sprintf("SELECT * FROM %s LIMIT %d",
		pgx.Identifier{schema, name}.Sanitize(), sampleRowLimit)

	rows, err := conn.Query(ctx, query)
	if err != nil {
		p.logger.Debug("sample fetch failed",
			zap.String("table", schema+"."+name),
			zap.String("error", logging.Error(err)))
		return nil
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil
		}
		row := make([]string, len(values))
		for i, v := range values {
			row[i] = renderSampleValue(v)
		}
		out = append(out, row)
	}
	if rows.Err() != nil {
		return nil
	}
	return out
}

// renderSampleValue stringifies one sample cell, truncating long values.
func renderSampleValue(v any) string {
	if v == nil {
		return "NULL"
	}
	s := fmt.Sprintf("%v", v)
	if len(s) > sampleValueMaxLen {
		s = s[:sampleValueMaxLen] + "..."
	}
	return s
}

// splitTableName resolves "schema.table" or a bare table name against the
// tenant's default schema.
func splitTableName(table, defaultSchema string) (schema, name string) {
	table = strings.ToLower(strings.TrimSpace(table))
	if idx := strings.Index(table, "."); idx >= 0 {
		return table[:idx], table[idx+1:]
	}
	if defaultSchema == "" {
		defaultSchema = "public"
	}
	return strings.ToLower(defaultSchema), table
}

var _ Provider = (*PGProvider)(nil)
