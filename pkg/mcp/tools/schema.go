package tools

import (
	"context"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/askdb-inc/askdb-engine/pkg/metadata"
	"github.com/askdb-inc/askdb-engine/pkg/qerrors"
)

// RegisterSchemaTools registers the list_tables and describe_table tools.
func RegisterSchemaTools(s *server.MCPServer, deps *Deps) {
	registerListTablesTool(s, deps)
	registerDescribeTableTool(s, deps)
}

// listTablesData is the success payload of list_tables.
type listTablesData struct {
	Tables []metadata.TableInfo `json:"tables"`
}

func registerListTablesTool(s *server.MCPServer, deps *Deps) {
	tool := mcp.NewTool(
		"list_tables",
		mcp.WithDescription(
			"List the tables a tenant may query, with estimated row counts. "+
				"Tables outside the tenant's allow-list are omitted.",
		),
		mcp.WithString(
			"tenant_id",
			mcp.Required(),
			mcp.Description("Tenant whose tables to list"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		tenantID := req.GetString("tenant_id", "")

		desc, allow, err := resolveTenant(ctx, deps, req)
		if err != nil {
			return errorResult(tenantID, start, err), nil
		}

		tables, err := deps.Metadata.ListTables(ctx, desc, allow)
		if err != nil {
			return errorResult(tenantID, start, err), nil
		}
		if tables == nil {
			tables = []metadata.TableInfo{}
		}
		return successResult(tenantID, start, listTablesData{Tables: tables}), nil
	})
}

func registerDescribeTableTool(s *server.MCPServer, deps *Deps) {
	tool := mcp.NewTool(
		"describe_table",
		mcp.WithDescription(
			"Describe the columns of one table a tenant may query. "+
				"Accepts a bare table name or schema.table.",
		),
		mcp.WithString(
			"tenant_id",
			mcp.Required(),
			mcp.Description("Tenant whose table to describe"),
		),
		mcp.WithString(
			"qualified_name",
			mcp.Required(),
			mcp.Description("Table name, optionally schema-qualified"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		tenantID := req.GetString("tenant_id", "")

		desc, allow, err := resolveTenant(ctx, deps, req)
		if err != nil {
			return errorResult(tenantID, start, err), nil
		}

		name := strings.TrimSpace(req.GetString("qualified_name", ""))
		if name == "" {
			return errorResult(tenantID, start,
				qerrors.New(qerrors.KindValidation, "qualified_name is required")), nil
		}

		td, err := deps.Metadata.DescribeTable(ctx, desc, allow, name)
		if err != nil {
			return errorResult(tenantID, start, err), nil
		}
		return successResult(tenantID, start, td), nil
	})
}
