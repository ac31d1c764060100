package reliability_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/wovenflow/engine/engine/reliability"
)

func TestRateLimiter_Acquire(t *testing.T) {
	t.Run("Should return immediately for an unconfigured service", func(t *testing.T) {
		rl := reliability.NewRateLimiter(nil)
		err := rl.Acquire(context.Background(), "no-such-service")
		assert.NoError(t, err)
	})

	t.Run("Should reject immediately when the bucket is empty and strategy is reject", func(t *testing.T) {
		rl := reliability.NewRateLimiter(map[string]reliability.RateLimitConfig{
			"flaky": {MaxRequests: 1, Window: time.Hour, Strategy: reliability.StrategyReject},
		})
		ctx := context.Background()
		assert.NoError(t, rl.Acquire(ctx, "flaky"))
		assert.Error(t, rl.Acquire(ctx, "flaky"))
	})

	t.Run("Should queue and eventually succeed once tokens refill", func(t *testing.T) {
		rl := reliability.NewRateLimiter(map[string]reliability.RateLimitConfig{
			"bursty": {MaxRequests: 1, Window: 20 * time.Millisecond, Strategy: reliability.StrategyQueue, MaxQueueSize: 5},
		})
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, rl.Acquire(ctx, "bursty"))
		start := time.Now()
		assert.NoError(t, rl.Acquire(ctx, "bursty"))
		assert.Greater(t, time.Since(start), time.Duration(0))
	})

	t.Run("Should fail when the queue is full", func(t *testing.T) {
		rl := reliability.NewRateLimiter(map[string]reliability.RateLimitConfig{
			"tiny": {MaxRequests: 1, Window: time.Hour, Strategy: reliability.StrategyQueue, MaxQueueSize: 0},
		})
		ctx := context.Background()
		assert.NoError(t, rl.Acquire(ctx, "tiny"))
		assert.Error(t, rl.Acquire(ctx, "tiny"))
	})
}

func TestRateLimiter_Stats(t *testing.T) {
	t.Run("Should list services lazily created by Acquire", func(t *testing.T) {
		rl := reliability.NewRateLimiter(map[string]reliability.RateLimitConfig{
			"svc-a": {MaxRequests: 10, Window: time.Second, Strategy: reliability.StrategyReject},
		})
		_ = rl.Acquire(context.Background(), "svc-a")
		assert.Equal(t, []string{"svc-a"}, rl.Stats())
	})
}
