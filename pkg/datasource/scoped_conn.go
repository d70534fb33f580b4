package datasource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/askdb-inc/askdb-engine/pkg/logging"
	"github.com/askdb-inc/askdb-engine/pkg/models"
)

// ScopedConn is a checked-out tenant connection with the read-only role and
// statement timeout applied. Release must run on every exit path; defer it
// immediately after a successful Acquire.
type ScopedConn struct {
	conn    *pgxpool.Conn
	logger  *zap.Logger
	release sync.Once
}

// setup switches the session to the tenant's read-only role and applies the
// statement timeout. A failed role switch is a hard error: the connection is
// unusable for tenant work and the caller must release it.
func (c *ScopedConn) setup(ctx context.Context, desc *models.ConnectionDescriptor) error {
	if desc.ReadOnlyRole == "" {
		return fmt.Errorf("%w: no read-only role configured for tenant %s", ErrRoleSwitch, desc.TenantID)
	}

	if _, err := c.conn.Exec(ctx, "SET ROLE "+quoteIdent(desc.ReadOnlyRole)); err != nil {
		return fmt.Errorf("%w: %s", ErrRoleSwitch, logging.Error(err))
	}

	timeoutMS := desc.StatementTimeout().Milliseconds()
	if _, err := c.conn.Exec(ctx, fmt.Sprintf("SET statement_timeout = %d", timeoutMS)); err != nil {
		return fmt.Errorf("set statement timeout: %w", err)
	}

	return nil
}

// Query runs a statement on the scoped connection. The statement timeout is
// enforced server-side, so cancellation here reliably stops server work.
func (c *ScopedConn) Query(ctx context.Context, sqlQuery string, args ...any) (pgx.Rows, error) {
	return c.conn.Query(ctx, sqlQuery, args...)
}

// Release resets the session and returns the connection to the pool.
// Idempotent and safe to defer alongside explicit calls.
func (c *ScopedConn) Release() {
	c.release.Do(func() {
		// Reset with a fresh context: the request context may already be
		// cancelled, and a connection returned without reset would leak the
		// tenant role into the next checkout.
		resetCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if _, err := c.conn.Exec(resetCtx, "RESET statement_timeout"); err != nil {
			c.logger.Debug("failed to reset statement timeout, destroying connection",
				zap.String("error", logging.Error(err)))
			c.conn.Conn().Close(resetCtx) //nolint:errcheck // connection is being discarded
		} else if _, err := c.conn.Exec(resetCtx, "RESET ROLE"); err != nil {
			c.logger.Debug("failed to reset role, destroying connection",
				zap.String("error", logging.Error(err)))
			c.conn.Conn().Close(resetCtx) //nolint:errcheck
		}
		c.conn.Release()
	})
}
