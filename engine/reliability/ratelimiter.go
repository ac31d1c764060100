// Package reliability implements the transparent call-pipeline the
// spec describes in §4.4-§4.6: a per-service circuit breaker, a
// per-service token-bucket rate limiter, and a Wrapper that composes
// both around a tool invocation together with retry/backoff.
package reliability

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/wovenflow/engine/engine/core"
	"github.com/wovenflow/engine/pkg/logger"
	"golang.org/x/time/rate"
)

// RateLimitStrategy selects what happens when a service has no token
// available at acquire time.
type RateLimitStrategy string

const (
	StrategyReject RateLimitStrategy = "reject"
	StrategyQueue  RateLimitStrategy = "queue"
)

// RateLimitConfig is the per-service configuration spec §4.6 describes:
// a token bucket sized by maxRequests/windowMs, a behavior when
// exhausted, and a cap on how many callers may queue.
type RateLimitConfig struct {
	MaxRequests  int
	Window       time.Duration
	Strategy     RateLimitStrategy
	MaxQueueSize int
}

// wellKnownDefaults pre-seeds the per-service limits spec §4.6 calls
// out by name; a user-supplied RateLimitConfig for the same service
// name replaces these entirely.
var wellKnownDefaults = map[string]RateLimitConfig{
	"slack":    {MaxRequests: 1, Window: time.Second, Strategy: StrategyQueue, MaxQueueSize: 100},
	"github":   {MaxRequests: 5000, Window: time.Hour, Strategy: StrategyQueue, MaxQueueSize: 200},
	"gmail":    {MaxRequests: 250, Window: time.Second, Strategy: StrategyReject, MaxQueueSize: 0},
	"discord":  {MaxRequests: 50, Window: time.Second, Strategy: StrategyQueue, MaxQueueSize: 100},
	"notion":   {MaxRequests: 3, Window: time.Second, Strategy: StrategyQueue, MaxQueueSize: 50},
	"linear":   {MaxRequests: 120, Window: time.Minute, Strategy: StrategyQueue, MaxQueueSize: 50},
	"stripe":   {MaxRequests: 100, Window: time.Second, Strategy: StrategyReject, MaxQueueSize: 0},
	"openai":   {MaxRequests: 500, Window: time.Minute, Strategy: StrategyQueue, MaxQueueSize: 100},
	"anthropic": {MaxRequests: 50, Window: time.Minute, Strategy: StrategyQueue, MaxQueueSize: 100},
}

// waiter is a single queued acquire call.
type waiter struct {
	ready chan struct{}
	abort <-chan struct{}
}

// bucketEntry owns one service's token bucket plus its FIFO queue.
type bucketEntry struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	cfg     RateLimitConfig
	queue   []*waiter
}

// RateLimiter is the process-wide, per-service token-bucket limiter
// described in spec §4.6, grounded on the teacher's per-key
// golang.org/x/time/rate service (engine/auth/ratelimit/service.go)
// but generalized to per-service buckets, a queueing strategy, and
// server-header feedback.
type RateLimiter struct {
	mu       sync.RWMutex
	services map[string]*bucketEntry
	overrides map[string]RateLimitConfig
}

// NewRateLimiter builds a limiter seeded with the well-known service
// defaults; overrides replace a named service's config wholesale.
func NewRateLimiter(overrides map[string]RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		services:  map[string]*bucketEntry{},
		overrides: overrides,
	}
}

func (rl *RateLimiter) configFor(service string) (RateLimitConfig, bool) {
	if cfg, ok := rl.overrides[service]; ok {
		return cfg, true
	}
	if cfg, ok := wellKnownDefaults[service]; ok {
		return cfg, true
	}
	return RateLimitConfig{}, false
}

func (rl *RateLimiter) entry(service string) (*bucketEntry, bool) {
	rl.mu.RLock()
	e, ok := rl.services[service]
	rl.mu.RUnlock()
	if ok {
		return e, true
	}
	cfg, configured := rl.configFor(service)
	if !configured {
		return nil, false
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if e, ok := rl.services[service]; ok {
		return e, true
	}
	perSec := float64(cfg.MaxRequests) / cfg.Window.Seconds()
	e = &bucketEntry{
		limiter: rate.NewLimiter(rate.Limit(perSec), cfg.MaxRequests),
		cfg:     cfg,
	}
	rl.services[service] = e
	return e, true
}

// Acquire blocks (for the queue strategy) or fails fast (for the
// reject strategy) until a token for service is available, or returns
// immediately if the service carries no configuration at all.
func (rl *RateLimiter) Acquire(ctx context.Context, service string) error {
	e, configured := rl.entry(service)
	if !configured {
		return nil
	}
	e.mu.Lock()
	if e.limiter.Allow() {
		e.mu.Unlock()
		return nil
	}
	if e.cfg.Strategy == StrategyReject {
		e.mu.Unlock()
		return core.Errorf(core.KindRateLimited, "rate limit exceeded for service %q", service)
	}
	if len(e.queue) >= e.cfg.MaxQueueSize {
		e.mu.Unlock()
		return core.Errorf(core.KindRateLimited, "rate limit queue full for service %q", service)
	}
	w := &waiter{ready: make(chan struct{}), abort: ctx.Done()}
	e.queue = append(e.queue, w)
	e.mu.Unlock()

	go rl.drainLoop(e)

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		return core.Errorf(core.KindTimeout, "rate limit wait canceled for service %q", service)
	}
}

// drainLoop wakes queued waiters in FIFO order as tokens arrive. It is
// safe to invoke redundantly; only one goroutine ever finds non-empty
// queue work at a time because of the lock below.
func (rl *RateLimiter) drainLoop(e *bucketEntry) {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		if !e.limiter.Allow() {
			e.mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			continue
		}
		w := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()
		select {
		case <-w.abort:
			continue
		default:
			close(w.ready)
		}
	}
}

// UpdateFromHeaders implements spec §4.6's header feedback: a
// recognized x-ratelimit-remaining header clamps the bucket's available
// tokens downward to the server's own view of its limit. A reset header
// is not read; refill continues at the configured rate.
func (rl *RateLimiter) UpdateFromHeaders(ctx context.Context, service string, headers map[string]string) {
	e, configured := rl.entry(service)
	if !configured {
		return
	}
	remaining, ok := parseIntHeader(headers, "x-ratelimit-remaining")
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	current := e.limiter.Tokens()
	if float64(remaining) < current {
		e.limiter.SetBurst(e.cfg.MaxRequests)
		e.limiter.ReserveN(time.Now(), int(current)-remaining)
		logger.FromContext(ctx).Debug("clamped rate limit bucket from response headers",
			"service", service, "remaining", remaining)
	}
}

func parseIntHeader(headers map[string]string, key string) (int, bool) {
	for k, v := range headers {
		if equalsFold(k, key) {
			n, err := strconv.Atoi(v)
			if err != nil {
				return 0, false
			}
			return n, true
		}
	}
	return 0, false
}

func equalsFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Stats reports the configured services in sorted order, handy for
// diagnostics endpoints and tests.
func (rl *RateLimiter) Stats() []string {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	names := make([]string, 0, len(rl.services))
	for name := range rl.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
