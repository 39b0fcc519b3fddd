package redislimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "github.com/fanengagement/go-audit"
	"github.com/fanengagement/go-audit/redislimit"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestLimiter_AllowsBurstThenDenies(t *testing.T) {
	_, rdb := newRedis(t)
	l := redislimit.New(rdb, audit.RateLimitConfig{Limit: 2, Period: time.Hour, Burst: 2})
	ctx := context.Background()

	for range 2 {
		d, err := l.Allow(ctx, "export:alice")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := l.Allow(ctx, "export:alice")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Positive(t, d.RetryAfter)

	other, err := l.Allow(ctx, "export:bob")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys are independent")
}

func TestLimiter_Reset(t *testing.T) {
	_, rdb := newRedis(t)
	l := redislimit.New(rdb, audit.RateLimitConfig{Limit: 1, Period: time.Hour, Burst: 1})
	ctx := context.Background()

	d, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	d, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	require.NoError(t, l.Reset(ctx, "k"))
	d, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_RedisDown(t *testing.T) {
	mr, rdb := newRedis(t)
	l := redislimit.New(rdb, audit.RateLimitConfig{})
	mr.Close()

	_, err := l.Allow(context.Background(), "k")
	assert.Error(t, err)
}
