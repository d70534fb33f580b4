// Package ratelimit enforces query quotas before anything touches a tenant
// connection.
//
// Two independent controls apply: a fixed window per (identity, tenant) pair,
// and a coarser token-bucket ceiling per tenant that smooths bursts spread
// across many identities. Quota is consumed before validation, so a query
// later rejected by the validator still counts - probing the validator is not
// free.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed bool
	// RetryAfter tells a denied caller how long to back off. It never
	// exceeds the remaining window time.
	RetryAfter time.Duration
}

// Config holds rate limiter settings.
type Config struct {
	// Window is the fixed-window length for per-pair counting.
	Window time.Duration
	// PerPairLimit is the max queries per (identity, tenant) per window.
	PerPairLimit int
	// TenantPerSecond is the sustained per-tenant rate across identities.
	TenantPerSecond float64
	// TenantBurst is the per-tenant burst allowance.
	TenantBurst int
}

// DefaultConfig returns conservative production defaults.
func DefaultConfig() Config {
	return Config{
		Window:          time.Minute,
		PerPairLimit:    30,
		TenantPerSecond: 5,
		TenantBurst:     10,
	}
}

type window struct {
	start time.Time
	count int
}

// Limiter tracks quotas for (identity, tenant) pairs and tenants. Safe for
// concurrent use.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	pairs   map[string]*window
	tenants map[string]*rate.Limiter

	// now is injectable for tests.
	now func() time.Time
}

// New creates a Limiter with the given configuration.
func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.PerPairLimit <= 0 {
		cfg.PerPairLimit = DefaultConfig().PerPairLimit
	}
	if cfg.TenantPerSecond <= 0 {
		cfg.TenantPerSecond = DefaultConfig().TenantPerSecond
	}
	if cfg.TenantBurst <= 0 {
		cfg.TenantBurst = DefaultConfig().TenantBurst
	}
	return &Limiter{
		cfg:     cfg,
		pairs:   make(map[string]*window),
		tenants: make(map[string]*rate.Limiter),
		now:     time.Now,
	}
}

// CheckAndIncrement consumes one unit of quota for the identity/tenant pair,
// or denies with a retry-after hint. The pair window is checked first; a
// denial there does not consume from the tenant bucket.
func (l *Limiter) CheckAndIncrement(identityKey, tenantKey string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := identityKey + "\x00" + tenantKey

	w, ok := l.pairs[key]
	if !ok || now.Sub(w.start) >= l.cfg.Window {
		w = &window{start: now}
		l.pairs[key] = w
	}
	if w.count >= l.cfg.PerPairLimit {
		return Decision{RetryAfter: w.start.Add(l.cfg.Window).Sub(now)}
	}

	tl, ok := l.tenants[tenantKey]
	if !ok {
		tl = rate.NewLimiter(rate.Limit(l.cfg.TenantPerSecond), l.cfg.TenantBurst)
		l.tenants[tenantKey] = tl
	}
	res := tl.ReserveN(now, 1)
	if !res.OK() || res.DelayFrom(now) > 0 {
		retry := res.DelayFrom(now)
		res.CancelAt(now)
		if retry <= 0 || retry > l.cfg.Window {
			retry = l.cfg.Window
		}
		return Decision{RetryAfter: retry}
	}

	w.count++
	return Decision{Allowed: true}
}

// Prune drops pair windows that elapsed more than one full window ago.
// Callers may run this periodically to bound memory on high-cardinality
// identity sets.
func (l *Limiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-2 * l.cfg.Window)
	for key, w := range l.pairs {
		if w.start.Before(cutoff) {
			delete(l.pairs, key)
		}
	}
}
