package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BossHoder/kollector/internal/ratelimit"
)

func newTestBucket(t *testing.T, capacity int, refillPerSecond float64) *ratelimit.TokenBucket {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return ratelimit.NewTokenBucket(client, capacity, refillPerSecond, time.Minute)
}

func TestTokenBucket_EnforcesCapacity(t *testing.T) {
	ctx := context.Background()
	bucket := newTestBucket(t, 2, 0.001)

	for i := 0; i < 2; i++ {
		allowed, err := bucket.Allow(ctx, "U1")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should pass", i+1)
	}

	allowed, err := bucket.Allow(ctx, "U1")
	require.NoError(t, err)
	assert.False(t, allowed, "third request should be rejected")
}

func TestTokenBucket_OwnersAreIndependent(t *testing.T) {
	ctx := context.Background()
	bucket := newTestBucket(t, 1, 0.001)

	allowed, err := bucket.Allow(ctx, "U1")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = bucket.Allow(ctx, "U1")
	require.NoError(t, err)
	require.False(t, allowed)

	// U1 exhausting its bucket must not affect U2.
	allowed, err = bucket.Allow(ctx, "U2")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestTokenBucket_Refills(t *testing.T) {
	ctx := context.Background()
	bucket := newTestBucket(t, 1, 100) // 100 tokens/s, refills within 10ms

	allowed, err := bucket.Allow(ctx, "U1")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = bucket.Allow(ctx, "U1")
	require.NoError(t, err)
	require.False(t, allowed)

	time.Sleep(20 * time.Millisecond)

	allowed, err = bucket.Allow(ctx, "U1")
	require.NoError(t, err)
	assert.True(t, allowed, "bucket should refill after waiting")
}
