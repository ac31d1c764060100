package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wovenflow/engine/pkg/config"
)

func TestDefault(t *testing.T) {
	t.Run("Should match the reliability defaults spec names", func(t *testing.T) {
		cfg := config.Default()
		assert.Equal(t, 30*time.Second, cfg.Reliability.Timeout)
		assert.Equal(t, 3, cfg.Reliability.MaxRetries)
		assert.Equal(t, time.Second, cfg.Reliability.InitialDelay)
		assert.Equal(t, 30*time.Second, cfg.Reliability.MaxDelay)
		assert.Equal(t, []int{429, 500, 502, 503, 504}, cfg.Reliability.RetryableStatuses)
	})

	t.Run("Should match the circuit breaker defaults", func(t *testing.T) {
		cfg := config.Default()
		assert.Equal(t, 5, cfg.Circuit.FailureThreshold)
		assert.Equal(t, 60*time.Second, cfg.Circuit.FailureWindow)
		assert.Equal(t, 30*time.Second, cfg.Circuit.ResetTimeout)
		assert.Equal(t, 2, cfg.Circuit.SuccessThreshold)
	})

	t.Run("Should match the secret manager defaults", func(t *testing.T) {
		cfg := config.Default()
		assert.Equal(t, 5*time.Minute, cfg.Secret.CacheTTL)
		assert.False(t, cfg.Secret.ThrowOnNotFound)
		assert.Equal(t, 0, cfg.Secret.VisiblePrefix)
	})
}

func TestLoad(t *testing.T) {
	t.Run("Should return the defaults unchanged when no environment overrides are set", func(t *testing.T) {
		cfg, err := config.Load()
		require.NoError(t, err)
		assert.Equal(t, config.Default(), cfg)
	})
}
