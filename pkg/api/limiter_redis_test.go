package api

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLimiter(t *testing.T) *RedisLimiterStore {
	t.Helper()
	mr := miniredis.RunT(t)
	store := NewRedisLimiterStore(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisLimiterStore_Allow(t *testing.T) {
	ctx := context.Background()
	store := newRedisLimiter(t)
	policy := LimitPolicy{RPM: 1, Burst: 2}

	for i := 0; i < 2; i++ {
		ok, err := store.Allow(ctx, "tenant-1", policy, 1)
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst", i)
	}

	ok, err := store.Allow(ctx, "tenant-1", policy, 1)
	require.NoError(t, err)
	assert.False(t, ok, "burst exhausted")
}

func TestRedisLimiterStore_KeysAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := newRedisLimiter(t)
	policy := LimitPolicy{RPM: 1, Burst: 1}

	ok, err := store.Allow(ctx, "tenant-1", policy, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Allow(ctx, "tenant-1", policy, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Allow(ctx, "tenant-2", policy, 1)
	require.NoError(t, err)
	assert.True(t, ok, "tenant-2 has its own bucket")
}

func TestRedisLimiterStore_Refills(t *testing.T) {
	ctx := context.Background()
	store := newRedisLimiter(t)
	// 600 RPM = 10 tokens/sec.
	policy := LimitPolicy{RPM: 600, Burst: 1}

	ok, err := store.Allow(ctx, "tenant-1", policy, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Allow(ctx, "tenant-1", policy, 1)
	require.NoError(t, err)
	assert.False(t, ok, "no tokens immediately after consume")

	// The bucket refills from wall-clock time passed into the script.
	time.Sleep(150 * time.Millisecond)
	ok, err = store.Allow(ctx, "tenant-1", policy, 1)
	require.NoError(t, err)
	assert.True(t, ok, "refilled after wait")
}

func TestRedisLimiterStore_QuotaEvaluation(t *testing.T) {
	ctx := context.Background()
	store := newRedisLimiter(t)
	policy := LimitPolicy{RPM: 1, Burst: 1}

	require.NoError(t, EvaluateQuota(ctx, store, "tenant-1", policy))
	err := EvaluateQuota(ctx, store, "tenant-1", policy)
	assert.ErrorContains(t, err, "rate limit exceeded")
}
