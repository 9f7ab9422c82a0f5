package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/himera-billing/pkg/config"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

func TestRedisLimiter_AllowsWithinLimit(t *testing.T) {
	client, _ := setupTestRedis(t)

	limiter := NewRedisLimiter(client, testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Check(ctx, "client:10.0.0.1", 5, time.Minute)
		assert.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, 5-(i+1), result.Remaining)
	}
}

func TestRedisLimiter_BlocksWhenExceeded(t *testing.T) {
	client, mr := setupTestRedis(t)

	limiter := NewRedisLimiter(client, testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Check(ctx, "client:10.0.0.2", 2, time.Minute)
		assert.NoError(t, err)
		if i < 2 {
			assert.True(t, result.Allowed)
		} else {
			assert.False(t, result.Allowed)
		}
	}

	assert.True(t, mr.Exists(keyPrefix+"client:10.0.0.2"))
}

func TestRedisLimiter_SlidingWindow(t *testing.T) {
	client, _ := setupTestRedis(t)

	limiter := NewRedisLimiter(client, testLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := limiter.Check(ctx, "client:window", 2, time.Second)
		assert.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	time.Sleep(1100 * time.Millisecond)

	result, err := limiter.Check(ctx, "client:window", 2, time.Second)
	assert.NoError(t, err)
	assert.True(t, result.Allowed)
}

type failingLimiter struct{}

func (failingLimiter) Check(context.Context, string, int, time.Duration) (*Result, error) {
	return nil, errors.New("redis: connection refused")
}

func TestAdaptiveLimiter_FallsBackToMemoryAtHalfBudget(t *testing.T) {
	limiter := NewAdaptiveLimiter(failingLimiter{}, NewMemoryLimiter(), testLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := limiter.Check(ctx, "client:a", 4, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	result, err := limiter.Check(ctx, "client:a", 4, time.Minute)
	require.ErrorIs(t, err, ErrLimitExceeded)
	assert.False(t, result.Allowed)
}

func TestAdaptiveLimiter_PrimaryRejection(t *testing.T) {
	client, _ := setupTestRedis(t)
	limiter := NewAdaptiveLimiter(NewRedisLimiter(client, testLogger()), NewMemoryLimiter(), testLogger())
	ctx := context.Background()

	_, err := limiter.Check(ctx, "client:b", 1, time.Minute)
	require.NoError(t, err)

	_, err = limiter.Check(ctx, "client:b", 1, time.Minute)
	require.ErrorIs(t, err, ErrLimitExceeded)
}

func TestMemoryLimiter_WindowAndCleanup(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter()
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := limiter.Check(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	_, err = limiter.Check(ctx, "k", 1, time.Minute)
	require.ErrorIs(t, err, ErrLimitExceeded)

	now = now.Add(time.Minute)
	result, err := limiter.Check(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Remaining)

	now = now.Add(10 * time.Minute)
	assert.Equal(t, 1, limiter.Cleanup(5*time.Minute))
}

func TestCleaner_RemovesIdleWindows(t *testing.T) {
	client, mr := setupTestRedis(t)

	stale := float64(time.Now().Add(-time.Hour).UnixMilli())
	require.NoError(t, client.ZAdd(context.Background(), keyPrefix+"client:old", redis.Z{Score: stale, Member: "x"}).Err())
	require.NoError(t, client.ZAdd(context.Background(), keyPrefix+"client:new", redis.Z{Score: float64(time.Now().UnixMilli()), Member: "y"}).Err())

	cleaner := NewCleaner(client, NewMemoryLimiter(), testLogger(), 5*time.Minute)
	assert.Equal(t, 1, cleaner.cleanup(context.Background()))

	assert.False(t, mr.Exists(keyPrefix+"client:old"))
	assert.True(t, mr.Exists(keyPrefix+"client:new"))
}

func TestRules(t *testing.T) {
	rules := NewRules(config.RateLimitConfig{
		Enabled:   true,
		PerClient: config.RateLimitRule{Limit: 20, Window: "1m"},
		Webhook:   config.RateLimitRule{Limit: 5},
		Whitelist: []string{"127.0.0.1/32"},
	})

	assert.True(t, rules.Enabled())
	assert.True(t, rules.IsWhitelisted("127.0.0.1"))
	assert.False(t, rules.IsWhitelisted("10.0.0.1"))

	limit, window, err := rules.GetPerClientLimit()
	require.NoError(t, err)
	assert.Equal(t, 20, limit)
	assert.Equal(t, time.Minute, window)

	_, _, err = rules.GetWebhookLimit()
	assert.Error(t, err)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResultRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 30*time.Second, (&Result{ResetAt: now.Add(30500 * time.Millisecond)}).RetryAfter(now))
	assert.Equal(t, time.Second, (&Result{ResetAt: now.Add(-time.Minute)}).RetryAfter(now))
	assert.Equal(t, time.Second, (*Result)(nil).RetryAfter(now))
	assert.Equal(t, "webhook:10.0.0.1", Key("webhook", "10.0.0.1"))
}
