package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdb-inc/askdb-engine/pkg/qerrors"
)

func dataMap(t *testing.T, env Envelope) map[string]any {
	t.Helper()
	m, ok := env.Data.(map[string]any)
	require.True(t, ok, "envelope data should be an object")
	return m
}

func TestToolRegistration(t *testing.T) {
	deps, _, _ := testDeps()
	s := newTestServer(deps)

	resp := s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`))
	respBytes, err := json.Marshal(resp)
	require.NoError(t, err)

	var parsed struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &parsed))

	names := map[string]bool{}
	for _, tool := range parsed.Result.Tools {
		names[tool.Name] = true
	}

	for _, want := range []string{"query", "ask", "list_tables", "describe_table"} {
		assert.True(t, names[want], "tool %q should be registered", want)
	}
}

func TestQueryTool_Success(t *testing.T) {
	deps, runner, _ := testDeps()
	s := newTestServer(deps)

	env, isErr := callTool(t, s, "query", map[string]any{
		"tenant_id": "acme",
		"sql":       "SELECT COUNT(*) FROM orders",
	})

	assert.False(t, isErr)
	assert.True(t, env.Success)
	assert.Equal(t, "acme", env.TenantID)
	assert.GreaterOrEqual(t, env.TimingMS, int64(0))
	assert.Equal(t, 1, runner.calls)

	data := dataMap(t, env)
	assert.Equal(t, float64(1), data["row_count"])
	assert.Equal(t, "SELECT COUNT(*) FROM orders LIMIT 100", data["executed_sql"])
}

func TestQueryTool_UnknownTenant(t *testing.T) {
	deps, runner, _ := testDeps()
	s := newTestServer(deps)

	env, isErr := callTool(t, s, "query", map[string]any{
		"tenant_id": "initech",
		"sql":       "SELECT 1",
	})

	assert.True(t, isErr)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Equal(t, 0, runner.calls)
}

func TestQueryTool_MissingSQL(t *testing.T) {
	deps, _, _ := testDeps()
	s := newTestServer(deps)

	env, isErr := callTool(t, s, "query", map[string]any{"tenant_id": "acme"})
	assert.True(t, isErr)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestQueryTool_RateLimited(t *testing.T) {
	deps, runner, _ := testDeps()
	qe := qerrors.New(qerrors.KindRateLimited, "query quota exceeded; back off and retry")
	qe.RetryAfter = 30 * time.Second
	runner.result, runner.err = nil, qe
	s := newTestServer(deps)

	env, isErr := callTool(t, s, "query", map[string]any{
		"tenant_id": "acme",
		"sql":       "SELECT 1",
	})

	assert.True(t, isErr)
	require.NotNil(t, env.Error)
	assert.Equal(t, "RATE_LIMITED", env.Error.Code)
	assert.Equal(t, int64(30000), env.Error.RetryAfterMS)
}

func TestAskTool_Success(t *testing.T) {
	deps, _, answerer := testDeps()
	s := newTestServer(deps)

	env, isErr := callTool(t, s, "ask", map[string]any{
		"tenant_id": "acme",
		"question":  "how many orders are there",
		"identity":  "alice",
	})

	assert.False(t, isErr)
	assert.True(t, env.Success)

	data := dataMap(t, env)
	assert.Equal(t, float64(2), data["correction_attempts"])

	// The handler assembled context for the generation step.
	assert.Equal(t, "alice", answerer.gotReq.Identity)
	assert.Contains(t, answerer.gotReq.SchemaMetadata, "public.orders")
	assert.Contains(t, answerer.gotReq.SchemaMetadata, "id bigint")
}

func TestAskTool_FailureEnvelope(t *testing.T) {
	deps, _, answerer := testDeps()
	answerer.result = nil
	answerer.err = qerrors.New(qerrors.KindCorrectable,
		`column "cnt" does not exist (automatic correction attempted 3 times)`)
	s := newTestServer(deps)

	env, isErr := callTool(t, s, "ask", map[string]any{
		"tenant_id": "acme",
		"question":  "how many orders",
	})

	assert.True(t, isErr)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Contains(t, env.Error.Message, "correction attempted 3 times")
}
