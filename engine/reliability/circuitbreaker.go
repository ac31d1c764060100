package reliability

import (
	"sync"
	"time"

	"github.com/wovenflow/engine/engine/core"
)

// CircuitState is one of the three states spec §4.5 defines.
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half_open"
)

// CircuitConfig tunes one service's breaker; the zero value is invalid,
// use DefaultCircuitConfig.
type CircuitConfig struct {
	FailureThreshold int
	FailureWindow    time.Duration
	ResetTimeout     time.Duration
	SuccessThreshold int
}

func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{
		FailureThreshold: 5,
		FailureWindow:    60 * time.Second,
		ResetTimeout:     30 * time.Second,
		SuccessThreshold: 2,
	}
}

// StateChangeFunc is invoked whenever a breaker transitions, for
// observability (spec §4.5: "A state-change callback is invoked").
type StateChangeFunc func(service string, from, to CircuitState)

// CircuitBreaker implements the exact failure-timestamp sliding-window
// state machine spec §4.5 specifies. It does not reuse sony/gobreaker
// (see DESIGN.md) because that library's consecutive-failure/request
// ratio model cannot express a timestamp-windowed threshold.
type CircuitBreaker struct {
	mu       sync.Mutex
	cfg      CircuitConfig
	state    CircuitState
	failures []time.Time
	successes int
	openedAt time.Time
	onChange StateChangeFunc
}

func NewCircuitBreaker(cfg CircuitConfig, onChange StateChangeFunc) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:      cfg,
		state:    StateClosed,
		onChange: onChange,
	}
}

// Allow reports whether a call may proceed right now, transitioning
// open→half_open as a side effect when resetTimeout has elapsed.
func (cb *CircuitBreaker) Allow(service string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		return nil
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.cfg.ResetTimeout {
			cb.transition(service, StateHalfOpen)
			return nil
		}
		return core.Errorf(core.KindCircuitOpen, "circuit open for service %q", service).
			WithRetryAfter(cb.cfg.ResetTimeout.Seconds() - time.Since(cb.openedAt).Seconds())
	default:
		return nil
	}
}

// RecordSuccess implements the half_open→closed and closed→closed
// success transitions.
func (cb *CircuitBreaker) RecordSuccess(service string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.transition(service, StateClosed)
		}
	case StateClosed:
		// closed→closed: a success leaves the failure window as it is;
		// recorded failures leave it only by aging out of FailureWindow.
	}
}

// RecordFailure implements closed→open (threshold reached within the
// window) and half_open→open (any failure).
func (cb *CircuitBreaker) RecordFailure(service string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	now := time.Now()
	switch cb.state {
	case StateHalfOpen:
		cb.openedAt = now
		cb.transition(service, StateOpen)
	case StateClosed:
		cb.failures = append(cb.failures, now)
		cb.failures = pruneWindow(cb.failures, now, cb.cfg.FailureWindow)
		if len(cb.failures) >= cb.cfg.FailureThreshold {
			cb.openedAt = now
			cb.transition(service, StateOpen)
		}
	}
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(service string, to CircuitState) {
	from := cb.state
	cb.state = to
	switch to {
	case StateOpen:
		cb.successes = 0
	case StateClosed:
		cb.failures = nil
		cb.successes = 0
	case StateHalfOpen:
		cb.successes = 0
	}
	if cb.onChange != nil && from != to {
		cb.onChange(service, from, to)
	}
}

func pruneWindow(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// State returns the breaker's current state, for stats/diagnostics.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// CircuitRegistry owns one breaker per service, created lazily.
type CircuitRegistry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	cfg      CircuitConfig
	onChange StateChangeFunc
}

func NewCircuitRegistry(cfg CircuitConfig, onChange StateChangeFunc) *CircuitRegistry {
	return &CircuitRegistry{
		breakers: map[string]*CircuitBreaker{},
		cfg:      cfg,
		onChange: onChange,
	}
}

func (r *CircuitRegistry) For(service string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[service]; ok {
		return cb
	}
	cb := NewCircuitBreaker(r.cfg, r.onChange)
	r.breakers[service] = cb
	return cb
}
