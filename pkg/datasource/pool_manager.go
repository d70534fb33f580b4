// Package datasource owns the per-tenant connection pools for query
// execution.
//
// One small pgx pool exists per tenant database, lazily created on first use
// and reaped after an idle TTL. Every checkout switches the session to the
// tenant's read-only role and applies the tenant's statement timeout; both
// are reset on release. Acquisition waits a short bounded time under
// contention and then fails with ErrPoolBusy rather than queueing
// indefinitely.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/askdb-inc/askdb-engine/pkg/logging"
	"github.com/askdb-inc/askdb-engine/pkg/models"
	"github.com/askdb-inc/askdb-engine/pkg/retry"
	"github.com/askdb-inc/askdb-engine/pkg/tenant"
)

// ErrPoolBusy is returned when a connection could not be acquired within the
// bounded wait. Callers should surface it as a retriable busy condition, not
// a query failure.
var ErrPoolBusy = errors.New("tenant connection pool busy")

// ErrRoleSwitch is returned when the read-only role could not be assumed.
// This is a hard error; a connection that failed the switch never runs SQL.
var ErrRoleSwitch = errors.New("failed to switch to read-only role")

const (
	// DefaultPoolMaxConns keeps per-tenant pools deliberately small to
	// protect the target database.
	DefaultPoolMaxConns    = 3
	DefaultAcquireTimeout  = 2 * time.Second
	DefaultIdleTTL         = 5 * time.Minute
	DefaultCleanupInterval = time.Minute
)

// ManagerConfig holds pool manager settings.
type ManagerConfig struct {
	PoolMaxConns    int32
	AcquireTimeout  time.Duration
	IdleTTL         time.Duration
	CleanupInterval time.Duration
}

// Manager maintains one connection pool per tenant, keyed by tenant ID.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*managedPool

	cfg     ManagerConfig
	creds   tenant.CredentialResolver
	logger  *zap.Logger
	stopped bool
	stop    chan struct{}
}

type managedPool struct {
	pool     *pgxpool.Pool
	lastUsed time.Time
	mu       sync.Mutex
}

// NewManager creates a pool manager and starts its idle-reaper goroutine,
// which runs until Close is called.
func NewManager(cfg ManagerConfig, creds tenant.CredentialResolver, logger *zap.Logger) *Manager {
	if cfg.PoolMaxConns <= 0 {
		cfg.PoolMaxConns = DefaultPoolMaxConns
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}

	m := &Manager{
		pools:  make(map[string]*managedPool),
		cfg:    cfg,
		creds:  creds,
		logger: logger,
		stop:   make(chan struct{}),
	}
	go m.reapIdle()
	return m
}

// Acquire checks out a connection for the tenant, switched to the tenant's
// read-only role with the tenant's statement timeout applied. The returned
// ScopedConn must be released on every exit path; Release is idempotent.
func (m *Manager) Acquire(ctx context.Context, desc *models.ConnectionDescriptor) (*ScopedConn, error) {
	pool, err := m.poolFor(ctx, desc)
	if err != nil {
		return nil, err
	}

	acquireCtx, cancel := context.WithTimeout(ctx, m.cfg.AcquireTimeout)
	defer cancel()

	conn, err := pool.Acquire(acquireCtx)
	if err != nil {
		if acquireCtx.Err() != nil && ctx.Err() == nil {
			return nil, ErrPoolBusy
		}
		return nil, fmt.Errorf("acquire tenant connection: %w", err)
	}

	sc := &ScopedConn{conn: conn, logger: m.logger}
	if err := sc.setup(ctx, desc); err != nil {
		sc.Release()
		return nil, err
	}
	return sc, nil
}

// poolFor returns the tenant's pool, creating it on first use. A reused pool
// is health-checked; an unhealthy one is discarded and recreated.
func (m *Manager) poolFor(ctx context.Context, desc *models.ConnectionDescriptor) (*pgxpool.Pool, error) {
	m.mu.RLock()
	managed, exists := m.pools[desc.TenantID]
	m.mu.RUnlock()

	if exists {
		managed.mu.Lock()
		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := retry.Do(healthCtx, retry.DefaultConfig(), func() error {
			return managed.pool.Ping(healthCtx)
		})
		cancel()
		if err != nil {
			managed.mu.Unlock()
			m.logger.Warn("tenant pool unhealthy, recreating",
				zap.String("tenant_id", desc.TenantID),
				zap.String("error", logging.Error(err)))
			m.removePool(desc.TenantID)
			return m.createPool(ctx, desc)
		}
		managed.lastUsed = time.Now()
		managed.mu.Unlock()
		return managed.pool, nil
	}

	return m.createPool(ctx, desc)
}

func (m *Manager) createPool(ctx context.Context, desc *models.ConnectionDescriptor) (*pgxpool.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Another session may have created it while we waited for the lock.
	if managed, exists := m.pools[desc.TenantID]; exists {
		managed.mu.Lock()
		managed.lastUsed = time.Now()
		managed.mu.Unlock()
		return managed.pool, nil
	}

	connStr, err := m.connString(desc)
	if err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse tenant connection config: %w", err)
	}
	poolConfig.MaxConns = m.cfg.PoolMaxConns
	poolConfig.MinConns = 0
	poolConfig.MaxConnIdleTime = m.cfg.IdleTTL

	pool, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*pgxpool.Pool, error) {
		return pgxpool.NewWithConfig(ctx, poolConfig)
	})
	if err != nil {
		m.logger.Error("failed to create tenant pool",
			zap.String("tenant_id", desc.TenantID),
			zap.String("error", logging.Error(err)))
		return nil, fmt.Errorf("create tenant pool: %w", err)
	}

	m.pools[desc.TenantID] = &managedPool{pool: pool, lastUsed: time.Now()}
	m.logger.Info("created tenant pool",
		zap.String("tenant_id", desc.TenantID),
		zap.Int32("max_conns", m.cfg.PoolMaxConns))
	return pool, nil
}

func (m *Manager) connString(desc *models.ConnectionDescriptor) (string, error) {
	creds, err := m.creds.Resolve(desc.CredentialRef)
	if err != nil {
		return "", fmt.Errorf("resolve tenant credentials: %w", err)
	}
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s",
		desc.Host, desc.Port, creds.User, creds.Password, desc.Database,
	)
	if desc.Schema != "" {
		connStr += fmt.Sprintf(" search_path=%s", desc.Schema)
	}
	return connStr, nil
}

func (m *Manager) removePool(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if managed, exists := m.pools[tenantID]; exists {
		managed.pool.Close()
		delete(m.pools, tenantID)
	}
}

// reapIdle closes pools that have been idle beyond the TTL.
func (m *Manager) reapIdle() {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.closeExpired()
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) closeExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	now := time.Now()
	for tenantID, managed := range m.pools {
		managed.mu.Lock()
		expired := now.Sub(managed.lastUsed) > m.cfg.IdleTTL
		managed.mu.Unlock()

		if expired {
			managed.pool.Close()
			delete(m.pools, tenantID)
			m.logger.Debug("reaped idle tenant pool", zap.String("tenant_id", tenantID))
		}
	}
}

// PoolCount returns the number of live tenant pools.
func (m *Manager) PoolCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pools)
}

// Close shuts down all pools and stops the reaper. Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	m.stopped = true
	close(m.stop)

	for _, managed := range m.pools {
		managed.pool.Close()
	}
	m.pools = make(map[string]*managedPool)
	m.logger.Info("tenant pool manager closed")
}

// quoteIdent applies PostgreSQL identifier quoting.
func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
