package correction

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/askdb-inc/askdb-engine/pkg/models"
	"github.com/askdb-inc/askdb-engine/pkg/qerrors"
)

// mockGenerator is a configurable SQLGenerator for tests.
type mockGenerator struct {
	fn    func(ctx context.Context, req GenerationRequest) (string, error)
	calls int
	reqs  []GenerationRequest
}

func (m *mockGenerator) GenerateSQL(ctx context.Context, req GenerationRequest) (string, error) {
	m.calls++
	m.reqs = append(m.reqs, req)
	if m.fn != nil {
		return m.fn(ctx, req)
	}
	return "SELECT 1", nil
}

// mockRunner is a configurable QueryRunner for tests.
type mockRunner struct {
	fn    func(ctx context.Context, sqlQuery string) (*models.QueryResult, error)
	calls int
	sqls  []string
}

func (m *mockRunner) Execute(ctx context.Context, sqlQuery string, _ *models.ConnectionDescriptor,
	_ models.AllowList, _ string) (*models.QueryResult, error) {
	m.calls++
	m.sqls = append(m.sqls, sqlQuery)
	if m.fn != nil {
		return m.fn(ctx, sqlQuery)
	}
	return &models.QueryResult{ExecutedSQL: sqlQuery}, nil
}

// captureSink records emitted learning records.
type captureSink struct {
	records []*models.LearningRecord
	err     error
}

func (s *captureSink) Record(_ context.Context, rec *models.LearningRecord) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func testRequest() Request {
	return Request{
		Question:   "how many orders shipped last week",
		Identity:   "alice",
		Descriptor: &models.ConnectionDescriptor{TenantID: "acme", MaxRows: 100},
		Allow:      models.NewAllowList([]string{"orders"}, nil),
	}
}

func TestAnswer_SuccessFirstAttempt(t *testing.T) {
	gen := &mockGenerator{}
	runner := &mockRunner{}
	sink := &captureSink{}
	o := New(gen, runner, sink, zap.NewNop())

	res, err := o.Answer(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, 0, res.CorrectionAttempts)
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, 1, runner.calls)
	assert.Empty(t, sink.records, "no learning record without a correction")
	require.Len(t, res.Session.Attempts, 1)
	assert.True(t, res.Session.Attempts[0].Succeeded)
}

func TestAnswer_CorrectsThenSucceeds(t *testing.T) {
	gen := &mockGenerator{
		fn: func(_ context.Context, req GenerationRequest) (string, error) {
			return fmt.Sprintf("SELECT v%d FROM orders", req.Attempt), nil
		},
	}
	runner := &mockRunner{
		fn: func(_ context.Context, sqlQuery string) (*models.QueryResult, error) {
			if sqlQuery == "SELECT v4 FROM orders" {
				return &models.QueryResult{ExecutedSQL: sqlQuery}, nil
			}
			return nil, qerrors.New(qerrors.KindCorrectable,
				fmt.Sprintf("column %q does not exist", sqlQuery))
		},
	}
	sink := &captureSink{}
	o := New(gen, runner, sink, zap.NewNop())

	res, err := o.Answer(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, 3, res.CorrectionAttempts)
	assert.Equal(t, 4, gen.calls, "no fifth generation after success on the ceiling attempt")
	assert.Equal(t, 4, runner.calls)

	// Exactly one record, pairing the last failure with the fix.
	require.Len(t, sink.records, 1)
	rec := sink.records[0]
	assert.Equal(t, "acme", rec.TenantID)
	assert.Equal(t, "SELECT v3 FROM orders", rec.OriginalSQL)
	assert.Contains(t, rec.OriginalError, "does not exist")
	assert.Equal(t, "SELECT v4 FROM orders", rec.CorrectedSQL)

	// Correction requests carry the prior failure.
	require.Len(t, gen.reqs, 4)
	assert.Empty(t, gen.reqs[0].PriorSQL)
	assert.Equal(t, "SELECT v1 FROM orders", gen.reqs[1].PriorSQL)
	assert.NotEmpty(t, gen.reqs[1].PriorError)
}

func TestAnswer_ExhaustsRetryCeiling(t *testing.T) {
	gen := &mockGenerator{}
	runner := &mockRunner{
		fn: func(_ context.Context, _ string) (*models.QueryResult, error) {
			return nil, qerrors.New(qerrors.KindCorrectable, "relation \"oders\" does not exist")
		},
	}
	sink := &captureSink{}
	o := New(gen, runner, sink, zap.NewNop())

	_, err := o.Answer(context.Background(), testRequest())
	require.Error(t, err)

	qe := qerrors.AsQueryError(err)
	assert.Contains(t, qe.Message, "automatic correction attempted 3 times")
	assert.Equal(t, 4, runner.calls, "ceiling is four attempts total")
	assert.Empty(t, sink.records, "failed sessions emit no learning record")
}

func TestAnswer_FatalErrorStopsImmediately(t *testing.T) {
	fatalKinds := []qerrors.Kind{
		qerrors.KindPermission,
		qerrors.KindConnection,
		qerrors.KindTimeout,
		qerrors.KindRateLimited,
		qerrors.KindValidation,
		qerrors.KindInternal,
	}

	for _, kind := range fatalKinds {
		t.Run(kind.String(), func(t *testing.T) {
			gen := &mockGenerator{}
			runner := &mockRunner{
				fn: func(_ context.Context, _ string) (*models.QueryResult, error) {
					return nil, qerrors.New(kind, "boom")
				},
			}
			o := New(gen, runner, nil, zap.NewNop())

			_, err := o.Answer(context.Background(), testRequest())
			require.Error(t, err)
			assert.Equal(t, 1, runner.calls, "fatal errors must not retry")
			assert.Equal(t, kind, qerrors.AsQueryError(err).Kind)
		})
	}
}

func TestAnswer_GenerationFailure(t *testing.T) {
	gen := &mockGenerator{
		fn: func(_ context.Context, _ GenerationRequest) (string, error) {
			return "", fmt.Errorf("model unavailable")
		},
	}
	runner := &mockRunner{}
	o := New(gen, runner, nil, zap.NewNop())

	_, err := o.Answer(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, qerrors.KindInternal, qerrors.AsQueryError(err).Kind)
	assert.Equal(t, 0, runner.calls)
}

func TestAnswer_CancelledContext(t *testing.T) {
	gen := &mockGenerator{}
	runner := &mockRunner{}
	o := New(gen, runner, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Answer(ctx, testRequest())
	require.Error(t, err)
	assert.Equal(t, 0, gen.calls, "no attempts after cancellation")
	assert.Equal(t, 0, runner.calls)
}

func TestAnswer_SinkFailureDoesNotFailSession(t *testing.T) {
	gen := &mockGenerator{
		fn: func(_ context.Context, req GenerationRequest) (string, error) {
			return fmt.Sprintf("SELECT v%d", req.Attempt), nil
		},
	}
	runner := &mockRunner{
		fn: func(_ context.Context, sqlQuery string) (*models.QueryResult, error) {
			if sqlQuery == "SELECT v2" {
				return &models.QueryResult{}, nil
			}
			return nil, qerrors.New(qerrors.KindCorrectable, "bad column")
		},
	}
	sink := &captureSink{err: fmt.Errorf("store down")}
	o := New(gen, runner, sink, zap.NewNop())

	res, err := o.Answer(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, res.CorrectionAttempts)
}

func TestCategoryForError(t *testing.T) {
	tests := []struct {
		message  string
		expected models.LearningCategory
	}{
		{"operator does not exist: text = integer", models.CategoryTypeMismatch},
		{"invalid input syntax for type date", models.CategoryTypeMismatch},
		{"cannot cast type text to integer", models.CategoryTypeMismatch},
		{"column reference \"id\" is ambiguous", models.CategoryJoinPattern},
		{"aggregate functions are not allowed in WHERE", models.CategoryAggregation},
		{"column \"total\" must appear in the GROUP BY clause", models.CategoryAggregation},
		{"column \"order_total\" does not exist", models.CategoryNamingConvention},
		{"relation \"order_types\" does not exist", models.CategoryNamingConvention},
		{"division by zero", models.CategoryDataQuality},
		{"something unexpected", models.CategoryBusinessLogic},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.expected, CategoryForError(tt.message))
		})
	}
}
