package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/askdb-inc/askdb-engine/pkg/correction"
	"github.com/askdb-inc/askdb-engine/pkg/logging"
	"github.com/askdb-inc/askdb-engine/pkg/metadata"
	"github.com/askdb-inc/askdb-engine/pkg/models"
	"github.com/askdb-inc/askdb-engine/pkg/qerrors"
	"github.com/askdb-inc/askdb-engine/pkg/tenant"
)

// defaultIdentity is the rate-limit identity used when the caller does not
// supply one. Authentication lives outside the engine; the identity string is
// a quota key, not a trust boundary.
const defaultIdentity = "mcp-client"

// schemaContextTableCap bounds how many tables the ask tool describes when
// assembling prompt context for the generation step.
const schemaContextTableCap = 25

// QueryRunner executes one validated statement. Satisfied by
// executor.Executor.
type QueryRunner interface {
	Execute(ctx context.Context, sqlQuery string, desc *models.ConnectionDescriptor,
		allow models.AllowList, identityKey string) (*models.QueryResult, error)
}

// QuestionAnswerer runs a full self-correcting session. Satisfied by
// correction.Orchestrator.
type QuestionAnswerer interface {
	Answer(ctx context.Context, req correction.Request) (*correction.Result, error)
}

// KnowledgeSource retrieves persisted learnings for prompt context.
// Satisfied by learning.MemoryStore and learning.PGStore.
type KnowledgeSource interface {
	ForTenant(ctx context.Context, tenantID string, limit int) ([]*models.LearningRecord, error)
}

// Deps contains the collaborators every engine tool needs.
type Deps struct {
	Resolver  tenant.Resolver
	Runner    QueryRunner
	Answerer  QuestionAnswerer
	Metadata  metadata.Provider
	Knowledge KnowledgeSource
	Logger    *zap.Logger
}

// RegisterQueryTools registers the query and ask tools.
func RegisterQueryTools(s *server.MCPServer, deps *Deps) {
	registerQueryTool(s, deps)
	registerAskTool(s, deps)
}

// resolveTenant parses the shared tenant_id argument and resolves it to a
// descriptor and allow-list.
func resolveTenant(ctx context.Context, deps *Deps, req mcp.CallToolRequest) (*models.ConnectionDescriptor, models.AllowList, error) {
	tenantID := strings.TrimSpace(req.GetString("tenant_id", ""))
	if tenantID == "" {
		return nil, models.AllowList{}, qerrors.New(qerrors.KindValidation, "tenant_id is required")
	}

	desc, allow, err := deps.Resolver.Resolve(ctx, tenantID)
	if err != nil {
		deps.Logger.Debug("tenant resolution failed",
			zap.String("tenant_id", tenantID),
			zap.String("error", logging.Error(err)))
		return nil, models.AllowList{}, qerrors.New(qerrors.KindValidation,
			fmt.Sprintf("unknown tenant %q", tenantID))
	}
	return desc, allow, nil
}

func identityArg(req mcp.CallToolRequest) string {
	if id := strings.TrimSpace(req.GetString("identity", "")); id != "" {
		return id
	}
	return defaultIdentity
}

func registerQueryTool(s *server.MCPServer, deps *Deps) {
	tool := mcp.NewTool(
		"query",
		mcp.WithDescription(
			"Execute a read-only SQL SELECT statement against a tenant database. "+
				"The statement is validated, scoped to the tenant's allowed tables, "+
				"and row-limited before execution.",
		),
		mcp.WithString(
			"tenant_id",
			mcp.Required(),
			mcp.Description("Tenant whose database the statement runs against"),
		),
		mcp.WithString(
			"sql",
			mcp.Required(),
			mcp.Description("A single SELECT or WITH statement"),
		),
		mcp.WithString(
			"identity",
			mcp.Description("Optional caller identity used for rate limiting"),
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

		sqlText := strings.TrimSpace(req.GetString("sql", ""))
		if sqlText == "" {
			return errorResult(tenantID, start,
				qerrors.New(qerrors.KindValidation, "sql is required")), nil
		}

		result, err := deps.Runner.Execute(ctx, sqlText, desc, allow, identityArg(req))
		if err != nil {
			return errorResult(tenantID, start, err), nil
		}
		return successResult(tenantID, start, queryData(result)), nil
	})
}

func registerAskTool(s *server.MCPServer, deps *Deps) {
	tool := mcp.NewTool(
		"ask",
		mcp.WithDescription(
			"Answer a natural-language question by generating and executing SQL "+
				"against a tenant database. Failed generations are corrected "+
				"automatically up to the retry ceiling.",
		),
		mcp.WithString(
			"tenant_id",
			mcp.Required(),
			mcp.Description("Tenant whose database the question is answered from"),
		),
		mcp.WithString(
			"question",
			mcp.Required(),
			mcp.Description("The natural-language question to answer"),
		),
		mcp.WithString(
			"identity",
			mcp.Description("Optional caller identity used for rate limiting"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		tenantID := req.GetString("tenant_id", "")

		desc, allow, err := resolveTenant(ctx, deps, req)
		if err != nil {
			return errorResult(tenantID, start, err), nil
		}

		question := strings.TrimSpace(req.GetString("question", ""))
		if question == "" {
			return errorResult(tenantID, start,
				qerrors.New(qerrors.KindValidation, "question is required")), nil
		}

		schemaText, err := buildSchemaContext(ctx, deps, desc, allow)
		if err != nil {
			return errorResult(tenantID, start, err), nil
		}

		res, err := deps.Answerer.Answer(ctx, correction.Request{
			Question:       question,
			Identity:       identityArg(req),
			Descriptor:     desc,
			Allow:          allow,
			SchemaMetadata: schemaText,
			Knowledge:      tenantKnowledge(ctx, deps, desc.TenantID),
		})
		if err != nil {
			return errorResult(tenantID, start, err), nil
		}

		data := queryData(res.QueryResult)
		data.CorrectionAttempts = res.CorrectionAttempts
		return successResult(tenantID, start, data), nil
	})
}

// buildSchemaContext renders the tenant's visible tables and columns into the
// text block the generation prompt embeds.
func buildSchemaContext(ctx context.Context, deps *Deps, desc *models.ConnectionDescriptor, allow models.AllowList) (string, error) {
	tables, err := deps.Metadata.ListTables(ctx, desc, allow)
	if err != nil {
		return "", err
	}
	if len(tables) > schemaContextTableCap {
		tables = tables[:schemaContextTableCap]
	}

	var b strings.Builder
	for _, t := range tables {
		td, err := deps.Metadata.DescribeTable(ctx, desc, allow, t.Schema+"."+t.Name)
		if err != nil {
			// Skip tables that vanish between listing and describing.
			continue
		}
		fmt.Fprintf(&b, "Table %s.%s:\n", td.Schema, td.Name)
		for _, c := range td.Columns {
			nullable := "NOT NULL"
			if c.IsNullable {
				nullable = "NULL"
			}
			pk := ""
			if c.IsPrimaryKey {
				pk = " PRIMARY KEY"
			}
			fmt.Fprintf(&b, "  %s %s %s%s\n", c.Name, c.DataType, nullable, pk)
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return "", qerrors.New(qerrors.KindValidation,
			"no tables are accessible for this tenant")
	}
	return b.String(), nil
}

// tenantKnowledge loads past learnings for the prompt. Retrieval failures
// degrade to an empty context rather than failing the question.
func tenantKnowledge(ctx context.Context, deps *Deps, tenantID string) []models.KnowledgeItem {
	if deps.Knowledge == nil {
		return nil
	}
	records, err := deps.Knowledge.ForTenant(ctx, tenantID, 10)
	if err != nil {
		deps.Logger.Debug("learning retrieval failed",
			zap.String("tenant_id", tenantID),
			zap.String("error", logging.Error(err)))
		return nil
	}
	items := make([]models.KnowledgeItem, 0, len(records))
	for _, rec := range records {
		items = append(items, models.LearningItem(rec))
	}
	return items
}
