package ratelimit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CerberusPlatform/pkg/ratelimit"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func TestFixedWindowLimiter_AdmitsUpToLimit(t *testing.T) {
	clock := newClock()
	limiter := ratelimit.NewFixedWindowLimiter(ratelimit.NewMemoryStore(ratelimit.WithClock(clock.Now)))
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		decision, err := limiter.Admit(ctx, "rate-limit:1.2.3.4:/login", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "request %d must pass", i)
		assert.Equal(t, 5-i, decision.Remaining)
		assert.Equal(t, 5, decision.Limit)
		assert.Equal(t, clock.Now().Add(time.Minute), decision.ResetAt)
	}

	decision, err := limiter.Admit(ctx, "rate-limit:1.2.3.4:/login", 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 0, decision.Remaining)
}

func TestFixedWindowLimiter_ResetsAfterWindow(t *testing.T) {
	clock := newClock()
	limiter := ratelimit.NewFixedWindowLimiter(ratelimit.NewMemoryStore(ratelimit.WithClock(clock.Now)))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := limiter.Admit(ctx, "k", 2, time.Minute)
		require.NoError(t, err)
	}

	clock.Advance(61 * time.Second)

	for i := 0; i < 2; i++ {
		decision, err := limiter.Admit(ctx, "k", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}
	decision, err := limiter.Admit(ctx, "k", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestFixedWindowLimiter_KeysAreIndependent(t *testing.T) {
	limiter := ratelimit.NewFixedWindowLimiter(ratelimit.NewMemoryStore())
	ctx := context.Background()

	_, err := limiter.Admit(ctx, "rate-limit:a:/login", 1, time.Minute)
	require.NoError(t, err)
	decision, err := limiter.Admit(ctx, "rate-limit:b:/login", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (int64, error) { return 0, errors.New("down") }
func (failingStore) Increment(context.Context, string, time.Duration) (ratelimit.Counter, error) {
	return ratelimit.Counter{}, errors.New("down")
}

func TestFixedWindowLimiter_StoreErrorFailsOpen(t *testing.T) {
	limiter := ratelimit.NewFixedWindowLimiter(failingStore{})

	decision, err := limiter.Admit(context.Background(), "k", 10, time.Minute)
	require.Error(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 10, decision.Remaining)
}

func TestMemoryStore_ConcurrentIncrements(t *testing.T) {
	store := ratelimit.NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.Increment(ctx, "k", time.Minute)
		}()
	}
	wg.Wait()

	count, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(100), count)
}

func TestMemoryStore_GetAndSweep(t *testing.T) {
	clock := newClock()
	store := ratelimit.NewMemoryStore(ratelimit.WithClock(clock.Now))
	ctx := context.Background()

	count, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = store.Increment(ctx, "short", time.Second)
	require.NoError(t, err)
	_, err = store.Increment(ctx, "long", time.Hour)
	require.NoError(t, err)

	clock.Advance(2 * time.Second)

	count, err = store.Get(ctx, "short")
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.Equal(t, 1, store.Sweep())
	count, err = store.Get(ctx, "long")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
