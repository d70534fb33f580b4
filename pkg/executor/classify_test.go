package executor

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdb-inc/askdb-engine/pkg/datasource"
	"github.com/askdb-inc/askdb-engine/pkg/qerrors"
)

func TestClassify_Nil(t *testing.T) {
	assert.Nil(t, Classify(nil))
}

func TestClassify_PassesThroughQueryErrors(t *testing.T) {
	orig := qerrors.New(qerrors.KindValidation, "rejected")
	assert.Same(t, orig, Classify(orig))
}

func TestClassify_Sentinels(t *testing.T) {
	qe := Classify(fmt.Errorf("acquire: %w", datasource.ErrPoolBusy))
	assert.Equal(t, qerrors.KindConnection, qe.Kind)

	qe = Classify(fmt.Errorf("setup: %w", datasource.ErrRoleSwitch))
	assert.Equal(t, qerrors.KindPermission, qe.Kind)
}

func TestClassify_SQLStates(t *testing.T) {
	tests := []struct {
		name        string
		code        string
		message     string
		wantKind    qerrors.Kind
		correctable bool
	}{
		{"undefined column", "42703", `column "order_total" does not exist`, qerrors.KindCorrectable, true},
		{"undefined table", "42P01", `relation "oders" does not exist`, qerrors.KindCorrectable, true},
		{"syntax error", "42601", "syntax error at or near SELCT", qerrors.KindCorrectable, true},
		{"bad cast", "22P02", "invalid input syntax for type integer", qerrors.KindCorrectable, true},
		{"cardinality", "21000", "more than one row returned by a subquery", qerrors.KindCorrectable, true},
		{"privilege", "42501", "permission denied for table payroll", qerrors.KindPermission, false},
		{"auth failure", "28P01", "password authentication failed", qerrors.KindPermission, false},
		{"connection failure", "08006", "connection failure", qerrors.KindConnection, false},
		{"resources", "53300", "too many connections", qerrors.KindConnection, false},
		{"unknown database", "3D000", "database does not exist", qerrors.KindConnection, false},
		{"statement timeout", "57014", "canceling statement due to statement timeout", qerrors.KindTimeout, false},
		{"shutdown", "57P01", "terminating connection due to administrator command", qerrors.KindConnection, false},
		{"unknown class", "XX000", "internal error", qerrors.KindInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qe := Classify(&pgconn.PgError{Code: tt.code, Message: tt.message})
			require.NotNil(t, qe)
			assert.Equal(t, tt.wantKind, qe.Kind)
			assert.Equal(t, tt.correctable, qe.Correctable())
		})
	}
}

func TestClassify_CorrectableKeepsDatabaseMessage(t *testing.T) {
	qe := Classify(&pgconn.PgError{Code: "42703", Message: `column "order_total" does not exist`})
	assert.Equal(t, `column "order_total" does not exist`, qe.Message)
}

func TestClassify_FatalHidesRawMessage(t *testing.T) {
	raw := &pgconn.PgError{Code: "08006", Message: "could not connect to server at 10.0.0.5:5432"}
	qe := Classify(raw)
	assert.NotContains(t, qe.Message, "10.0.0.5")
}

func TestClassify_ContextErrors(t *testing.T) {
	qe := Classify(context.DeadlineExceeded)
	assert.Equal(t, qerrors.KindTimeout, qe.Kind)

	qe = Classify(context.Canceled)
	assert.Equal(t, qerrors.KindInternal, qe.Kind)
}

func TestClassify_NetworkShapedErrors(t *testing.T) {
	qe := Classify(fmt.Errorf("dial tcp 10.0.0.5:5432: connection refused"))
	assert.Equal(t, qerrors.KindConnection, qe.Kind)
	assert.NotContains(t, qe.Message, "10.0.0.5")
}

func TestClassify_Unknown(t *testing.T) {
	qe := Classify(fmt.Errorf("something odd"))
	assert.Equal(t, qerrors.KindInternal, qe.Kind)
}
