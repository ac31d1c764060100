package reliability

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kaptinlin/jsonschema"
	"github.com/slok/goresilience"
	"github.com/slok/goresilience/timeout"

	"github.com/wovenflow/engine/engine/core"
	"github.com/wovenflow/engine/pkg/logger"
)

// CallConfig tunes the attempt loop for one action (spec §4.4 defaults).
type CallConfig struct {
	Timeout          time.Duration
	MaxRetries       int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	RetryableStatuses []int
}

func DefaultCallConfig() CallConfig {
	return CallConfig{
		Timeout:           30 * time.Second,
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		RetryableStatuses: []int{429, 500, 502, 503, 504},
	}
}

// Func is the underlying tool call the Wrapper protects: the resolved
// inputs map in, the tool's return value (or error) out.
type Func func(ctx context.Context, input map[string]any) (any, error)

// HeaderCarrier is implemented by a tool's successful return value when
// it exposes the response headers the call arrived with. Failed calls
// carry the same metadata on the normalized core.Error via WithHeaders.
// Either path lets Invoke feed the rate limiter's header-sync step
// (spec §4.6 "header feedback") after every attempt.
type HeaderCarrier interface {
	ResponseHeaders() map[string]string
}

func responseHeaders(result any, err error) map[string]string {
	if hc, ok := result.(HeaderCarrier); ok {
		return hc.ResponseHeaders()
	}
	if ce, ok := core.AsCoreError(err); ok {
		return ce.Headers
	}
	return nil
}

// Wrapper composes circuit breaking, schema validation, rate limiting,
// and retry/backoff around a Func, per the per-call pipeline spec §4.4
// defines step by step.
type Wrapper struct {
	breakers *CircuitRegistry
	limiter  *RateLimiter
	schemas  map[string]*jsonschema.Schema
	call     CallConfig
}

func NewWrapper(breakers *CircuitRegistry, limiter *RateLimiter, call CallConfig) *Wrapper {
	return &Wrapper{
		breakers: breakers,
		limiter:  limiter,
		schemas:  map[string]*jsonschema.Schema{},
		call:     call,
	}
}

// RegisterSchema attaches a validation schema to an exact action path
// (e.g. "slack.chat.postMessage"); calls to that path validate their
// first positional argument after the circuit check and before rate
// limiting and the call itself.
func (w *Wrapper) RegisterSchema(actionPath string, schema *jsonschema.Schema) {
	w.schemas[actionPath] = schema
}

// Invoke runs fn through the full pipeline for the given service and
// action path.
func (w *Wrapper) Invoke(ctx context.Context, service, actionPath string, input map[string]any, fn Func) (any, error) {
	cb := w.breakers.For(service)
	if err := cb.Allow(service); err != nil {
		return nil, err
	}

	if schema, ok := w.schemas[actionPath]; ok {
		if result := schema.Validate(input); !result.IsValid() {
			return nil, core.NewError(nil, core.KindInvalidConfig, map[string]any{
				"action": actionPath,
				"errors": result.Errors,
			})
		}
	}

	if err := w.limiter.Acquire(ctx, service); err != nil {
		return nil, err
	}

	return w.attemptLoop(ctx, service, cb, input, fn)
}

func (w *Wrapper) attemptLoop(
	ctx context.Context,
	service string,
	cb *CircuitBreaker,
	input map[string]any,
	fn Func,
) (any, error) {
	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = w.call.InitialDelay
	boff.MaxInterval = w.call.MaxDelay
	boff.Multiplier = 2
	boff.RandomizationFactor = 0.25

	attempts := w.call.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := w.attemptOnce(ctx, input, fn)
		if headers := responseHeaders(result, err); headers != nil {
			w.limiter.UpdateFromHeaders(ctx, service, headers)
		}
		if err == nil {
			cb.RecordSuccess(service)
			return result, nil
		}
		lastErr = err
		shouldRetry := w.shouldRetry(err)
		if !shouldRetry || attempt == attempts-1 {
			cb.RecordFailure(service)
			logger.FromContext(ctx).Warn("tool call failed",
				"service", service, "attempt", attempt+1, "error", core.RedactError(err))
			return nil, err
		}
		delay := retryAfterDelay(err)
		if delay == 0 {
			delay = boff.NextBackOff()
		}
		logger.FromContext(ctx).Debug("retrying tool call",
			"service", service, "attempt", attempt+1, "delay", delay, "error", core.RedactError(err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, core.Errorf(core.KindTimeout, "call to %q canceled while backing off", service)
		}
	}
	return nil, lastErr
}

// attemptOnce enforces the per-attempt timeout via goresilience's
// timeout middleware, wrapping fn so a blown deadline surfaces as a
// retryable TIMEOUT rather than a bare context error.
func (w *Wrapper) attemptOnce(ctx context.Context, input map[string]any, fn Func) (any, error) {
	var result any
	var callErr error
	runner := timeout.NewMiddleware(timeout.Config{Timeout: w.call.Timeout})(goresilience.NewDefaultRunner())
	err := runner.Run(ctx, func(ctx context.Context) error {
		result, callErr = fn(ctx, input)
		return callErr
	})
	if err != nil {
		if err == goresilience.ErrTimeout || err == context.DeadlineExceeded {
			return nil, core.Errorf(core.KindTimeout, "tool call timed out after %s", w.call.Timeout)
		}
		return nil, err
	}
	return result, nil
}

func (w *Wrapper) shouldRetry(err error) bool {
	if coreErr, ok := core.AsCoreError(err); ok {
		if coreErr.StatusCode != 0 {
			for _, s := range w.call.RetryableStatuses {
				if s == coreErr.StatusCode {
					return true
				}
			}
			return false
		}
		return coreErr.Retryable()
	}
	return false
}

func retryAfterDelay(err error) time.Duration {
	if coreErr, ok := core.AsCoreError(err); ok && coreErr.RetryAfter > 0 {
		return time.Duration(coreErr.RetryAfter * float64(time.Second))
	}
	return 0
}
