package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedClock lets tests move time explicitly.
type fixedClock struct {
	t time.Time
}

func (c *fixedClock) now() time.Time          { return c.t }
func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(cfg Config) (*Limiter, *fixedClock) {
	l := New(cfg)
	clock := &fixedClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	l.now = clock.now
	return l, clock
}

func TestCheckAndIncrement_PairWindowLimit(t *testing.T) {
	l, clock := newTestLimiter(Config{
		Window:          time.Minute,
		PerPairLimit:    3,
		TenantPerSecond: 1000,
		TenantBurst:     1000,
	})

	for i := 0; i < 3; i++ {
		d := l.CheckAndIncrement("alice", "acme")
		require.True(t, d.Allowed, "request %d should be allowed", i+1)
	}

	d := l.CheckAndIncrement("alice", "acme")
	require.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, time.Minute)

	// Retry-after shrinks as the window runs down.
	clock.advance(40 * time.Second)
	d = l.CheckAndIncrement("alice", "acme")
	require.False(t, d.Allowed)
	assert.LessOrEqual(t, d.RetryAfter, 20*time.Second)
}

func TestCheckAndIncrement_WindowResets(t *testing.T) {
	l, clock := newTestLimiter(Config{
		Window:          time.Minute,
		PerPairLimit:    2,
		TenantPerSecond: 1000,
		TenantBurst:     1000,
	})

	require.True(t, l.CheckAndIncrement("alice", "acme").Allowed)
	require.True(t, l.CheckAndIncrement("alice", "acme").Allowed)
	require.False(t, l.CheckAndIncrement("alice", "acme").Allowed)

	clock.advance(time.Minute)
	require.True(t, l.CheckAndIncrement("alice", "acme").Allowed)
}

func TestCheckAndIncrement_PairsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(Config{
		Window:          time.Minute,
		PerPairLimit:    1,
		TenantPerSecond: 1000,
		TenantBurst:     1000,
	})

	require.True(t, l.CheckAndIncrement("alice", "acme").Allowed)
	require.False(t, l.CheckAndIncrement("alice", "acme").Allowed)

	// A different identity on the same tenant has its own window.
	require.True(t, l.CheckAndIncrement("bob", "acme").Allowed)
	// Same identity on a different tenant too.
	require.True(t, l.CheckAndIncrement("alice", "globex").Allowed)
}

func TestCheckAndIncrement_TenantBucket(t *testing.T) {
	l, clock := newTestLimiter(Config{
		Window:          time.Minute,
		PerPairLimit:    100,
		TenantPerSecond: 1,
		TenantBurst:     2,
	})

	require.True(t, l.CheckAndIncrement("alice", "acme").Allowed)
	require.True(t, l.CheckAndIncrement("bob", "acme").Allowed)

	d := l.CheckAndIncrement("carol", "acme")
	require.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))

	// Tokens refill with time.
	clock.advance(2 * time.Second)
	require.True(t, l.CheckAndIncrement("carol", "acme").Allowed)
}

func TestCheckAndIncrement_PairDenialDoesNotConsumeTenantQuota(t *testing.T) {
	l, _ := newTestLimiter(Config{
		Window:          time.Minute,
		PerPairLimit:    1,
		TenantPerSecond: 0.001,
		TenantBurst:     2,
	})

	require.True(t, l.CheckAndIncrement("alice", "acme").Allowed)

	// Repeated pair denials must not drain the tenant bucket.
	for i := 0; i < 5; i++ {
		require.False(t, l.CheckAndIncrement("alice", "acme").Allowed)
	}
	require.True(t, l.CheckAndIncrement("bob", "acme").Allowed)
}

func TestPrune(t *testing.T) {
	l, clock := newTestLimiter(Config{
		Window:          time.Minute,
		PerPairLimit:    5,
		TenantPerSecond: 1000,
		TenantBurst:     1000,
	})

	l.CheckAndIncrement("alice", "acme")
	l.CheckAndIncrement("bob", "acme")
	require.Len(t, l.pairs, 2)

	clock.advance(3 * time.Minute)
	l.CheckAndIncrement("carol", "acme")
	l.Prune()

	assert.Len(t, l.pairs, 1)
}

func TestNew_AppliesDefaults(t *testing.T) {
	l := New(Config{})
	assert.Equal(t, time.Minute, l.cfg.Window)
	assert.Equal(t, DefaultConfig().PerPairLimit, l.cfg.PerPairLimit)
}
