package reliability_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/wovenflow/engine/engine/reliability"
)

func TestCircuitBreaker_Transitions(t *testing.T) {
	t.Run("Should open after failureThreshold failures within the window", func(t *testing.T) {
		cfg := reliability.CircuitConfig{
			FailureThreshold: 3,
			FailureWindow:    time.Minute,
			ResetTimeout:     50 * time.Millisecond,
			SuccessThreshold: 1,
		}
		var transitions []reliability.CircuitState
		cb := reliability.NewCircuitBreaker(cfg, func(_ string, _, to reliability.CircuitState) {
			transitions = append(transitions, to)
		})
		for i := 0; i < 3; i++ {
			cb.RecordFailure("svc")
		}
		assert.Equal(t, reliability.StateOpen, cb.State())
		assert.Contains(t, transitions, reliability.StateOpen)
	})

	t.Run("Should reject calls while open and before resetTimeout elapses", func(t *testing.T) {
		cfg := reliability.CircuitConfig{FailureThreshold: 1, FailureWindow: time.Minute, ResetTimeout: time.Hour, SuccessThreshold: 1}
		cb := reliability.NewCircuitBreaker(cfg, nil)
		cb.RecordFailure("svc")
		err := cb.Allow("svc")
		assert.Error(t, err)
	})

	t.Run("Should move to half_open once resetTimeout elapses and allow a probe", func(t *testing.T) {
		cfg := reliability.CircuitConfig{FailureThreshold: 1, FailureWindow: time.Minute, ResetTimeout: 10 * time.Millisecond, SuccessThreshold: 1}
		cb := reliability.NewCircuitBreaker(cfg, nil)
		cb.RecordFailure("svc")
		time.Sleep(20 * time.Millisecond)
		assert.NoError(t, cb.Allow("svc"))
	})

	t.Run("Should close after successThreshold consecutive successes in half_open", func(t *testing.T) {
		cfg := reliability.CircuitConfig{FailureThreshold: 1, FailureWindow: time.Minute, ResetTimeout: 10 * time.Millisecond, SuccessThreshold: 2}
		cb := reliability.NewCircuitBreaker(cfg, nil)
		cb.RecordFailure("svc")
		time.Sleep(20 * time.Millisecond)
		require := assert.New(t)
		require.NoError(cb.Allow("svc"))
		cb.RecordSuccess("svc")
		require.Equal(reliability.StateHalfOpen, cb.State())
		cb.RecordSuccess("svc")
		require.Equal(reliability.StateClosed, cb.State())
	})

	t.Run("Should reopen on any failure while half_open", func(t *testing.T) {
		cfg := reliability.CircuitConfig{FailureThreshold: 1, FailureWindow: time.Minute, ResetTimeout: 10 * time.Millisecond, SuccessThreshold: 2}
		cb := reliability.NewCircuitBreaker(cfg, nil)
		cb.RecordFailure("svc")
		time.Sleep(20 * time.Millisecond)
		_ = cb.Allow("svc")
		cb.RecordFailure("svc")
		assert.Equal(t, reliability.StateOpen, cb.State())
	})

	t.Run("Should prune failure timestamps outside the window", func(t *testing.T) {
		cfg := reliability.CircuitConfig{FailureThreshold: 2, FailureWindow: 20 * time.Millisecond, ResetTimeout: time.Hour, SuccessThreshold: 1}
		cb := reliability.NewCircuitBreaker(cfg, nil)
		cb.RecordFailure("svc")
		time.Sleep(30 * time.Millisecond)
		cb.RecordFailure("svc")
		assert.Equal(t, reliability.StateClosed, cb.State(), "the first failure should have aged out of the window")
	})
}

func TestCircuitRegistry_For(t *testing.T) {
	t.Run("Should return a distinct breaker per service", func(t *testing.T) {
		reg := reliability.NewCircuitRegistry(reliability.DefaultCircuitConfig(), nil)
		a := reg.For("slack")
		b := reg.For("github")
		assert.NotSame(t, a, b)
		assert.Same(t, a, reg.For("slack"))
	})
}
