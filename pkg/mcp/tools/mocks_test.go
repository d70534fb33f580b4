package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/askdb-inc/askdb-engine/pkg/correction"
	"github.com/askdb-inc/askdb-engine/pkg/metadata"
	"github.com/askdb-inc/askdb-engine/pkg/models"
)

type mockResolver struct {
	descriptors map[string]*models.ConnectionDescriptor
	allow       models.AllowList
}

func (m *mockResolver) Resolve(_ context.Context, tenantID string) (*models.ConnectionDescriptor, models.AllowList, error) {
	desc, ok := m.descriptors[tenantID]
	if !ok {
		return nil, models.AllowList{}, fmt.Errorf("unknown tenant %q", tenantID)
	}
	return desc, m.allow, nil
}

type mockRunner struct {
	result *models.QueryResult
	err    error
	calls  int
}

func (m *mockRunner) Execute(_ context.Context, _ string, _ *models.ConnectionDescriptor,
	_ models.AllowList, _ string) (*models.QueryResult, error) {
	m.calls++
	return m.result, m.err
}

type mockAnswerer struct {
	result *correction.Result
	err    error
	gotReq correction.Request
}

func (m *mockAnswerer) Answer(_ context.Context, req correction.Request) (*correction.Result, error) {
	m.gotReq = req
	return m.result, m.err
}

type mockMetadata struct {
	tables      []metadata.TableInfo
	description *metadata.TableDescription
	err         error
}

func (m *mockMetadata) ListTables(_ context.Context, _ *models.ConnectionDescriptor, _ models.AllowList) ([]metadata.TableInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.tables, nil
}

func (m *mockMetadata) DescribeTable(_ context.Context, _ *models.ConnectionDescriptor, _ models.AllowList, _ string) (*metadata.TableDescription, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.description, nil
}

type mockKnowledge struct {
	records []*models.LearningRecord
}

func (m *mockKnowledge) ForTenant(_ context.Context, _ string, _ int) ([]*models.LearningRecord, error) {
	return m.records, nil
}

func testDeps() (*Deps, *mockRunner, *mockAnswerer) {
	runner := &mockRunner{result: &models.QueryResult{
		Columns:     []string{"count"},
		Rows:        [][]any{{int64(42)}},
		RowCount:    1,
		ExecutedSQL: "SELECT COUNT(*) FROM orders LIMIT 100",
	}}
	answerer := &mockAnswerer{result: &correction.Result{
		QueryResult: &models.QueryResult{
			Columns:     []string{"count"},
			Rows:        [][]any{{int64(42)}},
			RowCount:    1,
			ExecutedSQL: "SELECT COUNT(*) FROM orders LIMIT 100",
		},
		CorrectionAttempts: 2,
	}}
	deps := &Deps{
		Resolver: &mockResolver{
			descriptors: map[string]*models.ConnectionDescriptor{
				"acme": {TenantID: "acme", Schema: "public", MaxRows: 100},
			},
			allow: models.NewAllowList([]string{"orders"}, nil),
		},
		Runner:   runner,
		Answerer: answerer,
		Metadata: &mockMetadata{
			tables: []metadata.TableInfo{{Schema: "public", Name: "orders", EstimatedRows: 1000}},
			description: &metadata.TableDescription{
				Schema: "public", Name: "orders",
				Columns: []metadata.ColumnInfo{{Name: "id", DataType: "bigint", IsPrimaryKey: true}},
			},
		},
		Knowledge: &mockKnowledge{},
		Logger:    zap.NewNop(),
	}
	return deps, runner, answerer
}

func newTestServer(deps *Deps) *server.MCPServer {
	s := server.NewMCPServer("test", "0.0.1", server.WithToolCapabilities(true))
	RegisterQueryTools(s, deps)
	RegisterSchemaTools(s, deps)
	return s
}

// callTool invokes a registered tool through the JSON-RPC surface and
// unwraps the envelope from the text content.
func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]any) (Envelope, bool) {
	t.Helper()

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      name,
			"arguments": args,
		},
	}
	raw, err := json.Marshal(req)
	require.NoError(t, err)

	resp := s.HandleMessage(context.Background(), raw)
	respBytes, err := json.Marshal(resp)
	require.NoError(t, err)

	var parsed struct {
		Result struct {
			IsError bool `json:"isError"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &parsed))
	require.NotEmpty(t, parsed.Result.Content)

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(parsed.Result.Content[0].Text), &env))
	return env, parsed.Result.IsError
}
