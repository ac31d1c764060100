package reliability_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wovenflow/engine/engine/core"
	"github.com/wovenflow/engine/engine/reliability"
)

// headerResult satisfies reliability.HeaderCarrier so a test call can
// exercise the wrapper's header-feedback wiring (spec §4.6).
type headerResult struct {
	headers map[string]string
}

func (h headerResult) ResponseHeaders() map[string]string { return h.headers }

func fastCallConfig() reliability.CallConfig {
	return reliability.CallConfig{
		Timeout:           50 * time.Millisecond,
		MaxRetries:        2,
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		RetryableStatuses: []int{429, 503},
	}
}

func newWrapper(t *testing.T, cfg reliability.CallConfig) *reliability.Wrapper {
	t.Helper()
	breakers := reliability.NewCircuitRegistry(reliability.DefaultCircuitConfig(), nil)
	limiter := reliability.NewRateLimiter(nil)
	return reliability.NewWrapper(breakers, limiter, cfg)
}

func TestWrapper_Invoke(t *testing.T) {
	t.Run("Should return the function's result on success", func(t *testing.T) {
		w := newWrapper(t, fastCallConfig())
		out, err := w.Invoke(context.Background(), "svc", "svc.doThing", map[string]any{"x": 1}, func(ctx context.Context, input map[string]any) (any, error) {
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
	})

	t.Run("Should retry a retryable error and eventually succeed", func(t *testing.T) {
		w := newWrapper(t, fastCallConfig())
		attempts := 0
		out, err := w.Invoke(context.Background(), "svc", "svc.doThing", nil, func(ctx context.Context, input map[string]any) (any, error) {
			attempts++
			if attempts < 2 {
				return nil, core.Errorf(core.KindNetworkError, "transient")
			}
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
		assert.Equal(t, 2, attempts)
	})

	t.Run("Should stop retrying and return the error for a non-retryable failure", func(t *testing.T) {
		w := newWrapper(t, fastCallConfig())
		attempts := 0
		_, err := w.Invoke(context.Background(), "svc", "svc.doThing", nil, func(ctx context.Context, input map[string]any) (any, error) {
			attempts++
			return nil, core.Errorf(core.KindInvalidConfig, "bad input")
		})
		assert.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("Should exhaust retries and surface the last error", func(t *testing.T) {
		w := newWrapper(t, fastCallConfig())
		attempts := 0
		_, err := w.Invoke(context.Background(), "svc", "svc.doThing", nil, func(ctx context.Context, input map[string]any) (any, error) {
			attempts++
			return nil, core.Errorf(core.KindNetworkError, "always fails")
		})
		assert.Error(t, err)
		assert.Equal(t, fastCallConfig().MaxRetries+1, attempts)
	})

	t.Run("Should time out a call that exceeds the per-attempt deadline", func(t *testing.T) {
		cfg := fastCallConfig()
		cfg.MaxRetries = 0
		w := newWrapper(t, cfg)
		_, err := w.Invoke(context.Background(), "svc", "svc.slow", nil, func(ctx context.Context, input map[string]any) (any, error) {
			select {
			case <-time.After(time.Second):
				return "too slow", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})
		require.Error(t, err)
		coreErr, ok := core.AsCoreError(err)
		require.True(t, ok)
		assert.Equal(t, core.KindTimeout, coreErr.Kind)
	})

	t.Run("Should trip the circuit after repeated failures and reject further calls", func(t *testing.T) {
		breakers := reliability.NewCircuitRegistry(reliability.CircuitConfig{
			FailureThreshold: 1,
			FailureWindow:    time.Minute,
			ResetTimeout:     time.Minute,
			SuccessThreshold: 1,
		}, nil)
		limiter := reliability.NewRateLimiter(nil)
		cfg := fastCallConfig()
		cfg.MaxRetries = 0
		w := reliability.NewWrapper(breakers, limiter, cfg)

		_, err := w.Invoke(context.Background(), "flaky", "flaky.call", nil, func(ctx context.Context, input map[string]any) (any, error) {
			return nil, core.Errorf(core.KindInvalidConfig, "bad")
		})
		assert.Error(t, err)

		_, err = w.Invoke(context.Background(), "flaky", "flaky.call", nil, func(ctx context.Context, input map[string]any) (any, error) {
			return "should not run", nil
		})
		require.Error(t, err)
		coreErr, ok := core.AsCoreError(err)
		require.True(t, ok)
		assert.Equal(t, core.KindCircuitOpen, coreErr.Kind)
	})

	t.Run("Should clamp the rate limiter from a successful call's response headers", func(t *testing.T) {
		breakers := reliability.NewCircuitRegistry(reliability.DefaultCircuitConfig(), nil)
		limiter := reliability.NewRateLimiter(map[string]reliability.RateLimitConfig{
			"svc2": {MaxRequests: 5, Window: time.Second, Strategy: reliability.StrategyReject},
		})
		w := reliability.NewWrapper(breakers, limiter, fastCallConfig())

		out, err := w.Invoke(context.Background(), "svc2", "svc2.call", nil, func(ctx context.Context, input map[string]any) (any, error) {
			return headerResult{headers: map[string]string{"x-ratelimit-remaining": "0"}}, nil
		})
		require.NoError(t, err)
		assert.NotNil(t, out)

		_, err = w.Invoke(context.Background(), "svc2", "svc2.call", nil, func(ctx context.Context, input map[string]any) (any, error) {
			return "should not run", nil
		})
		require.Error(t, err)
		coreErr, ok := core.AsCoreError(err)
		require.True(t, ok)
		assert.Equal(t, core.KindRateLimited, coreErr.Kind)
	})
}
