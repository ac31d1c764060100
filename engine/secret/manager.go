package secret

import (
	"context"
	"sync"
	"time"

	"github.com/wovenflow/engine/engine/core"
	"github.com/wovenflow/engine/pkg/logger"
)

// cacheEntry pairs a resolved value with the instant it expires.
type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// Manager is the process-wide secret resolver described in spec §4.7:
// pluggable providers keyed by name, a per-reference TTL cache, and a
// throwOnNotFound policy governing missing-secret behavior.
type Manager struct {
	mu              sync.RWMutex
	providers       map[string]Provider
	cache           map[string]cacheEntry
	ttl             time.Duration
	throwOnNotFound bool
	visiblePrefix   int
}

// ManagerOption configures a Manager at construction time.
type ManagerOption func(*Manager)

func WithTTL(d time.Duration) ManagerOption {
	return func(m *Manager) { m.ttl = d }
}

func WithThrowOnNotFound(b bool) ManagerOption {
	return func(m *Manager) { m.throwOnNotFound = b }
}

func WithVisiblePrefix(n int) ManagerOption {
	return func(m *Manager) { m.visiblePrefix = n }
}

// NewManager builds a Manager seeded with the built-in environment
// provider; additional providers register via Register.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		providers:       map[string]Provider{},
		cache:           map[string]cacheEntry{},
		ttl:             5 * time.Minute,
		throwOnNotFound: false,
		visiblePrefix:   0,
	}
	m.Register(NewEnvProvider())
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds or replaces a provider under its own Name().
func (m *Manager) Register(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.Name()] = p
}

// Resolve fetches the value for a single reference string, consulting
// the cache first. Non-reference strings are returned unchanged.
func (m *Manager) Resolve(ctx context.Context, s string) (string, error) {
	ref, ok := ParseReference(s)
	if !ok {
		return s, nil
	}
	cacheKey := s
	m.mu.RLock()
	entry, cached := m.cache[cacheKey]
	m.mu.RUnlock()
	if cached && time.Now().Before(entry.expiresAt) {
		return entry.value, nil
	}

	m.mu.RLock()
	provider, known := m.providers[ref.Provider]
	m.mu.RUnlock()
	if !known {
		return "", core.Errorf(core.KindInvalidConfig, "unknown secret provider %q", ref.Provider)
	}

	val, err := provider.Fetch(ctx, ref)
	if err != nil {
		if m.throwOnNotFound {
			return "", err
		}
		logger.FromContext(ctx).Warn("secret not found, returning empty value",
			"provider", ref.Provider, "path", ref.Path)
		return "", nil
	}

	m.mu.Lock()
	m.cache[cacheKey] = cacheEntry{value: val, expiresAt: time.Now().Add(m.ttl)}
	m.mu.Unlock()
	return val, nil
}

// ResolveAuth resolves every value in a tool's auth map into a new map
// (the caller's map is not modified), copying non-reference values
// unchanged, per spec §4.7: "The rest of
// the config is never rewritten."
func (m *Manager) ResolveAuth(ctx context.Context, auth map[string]string) (map[string]string, error) {
	if len(auth) == 0 {
		return auth, nil
	}
	out := make(map[string]string, len(auth))
	for k, v := range auth {
		resolved, err := m.Resolve(ctx, v)
		if err != nil {
			return nil, core.NewError(err, core.KindInvalidConfig, map[string]any{"field": k})
		}
		out[k] = resolved
	}
	return out, nil
}

// Redacted returns auth with every value masked for logging, using the
// manager's configured visiblePrefix.
func (m *Manager) Redacted(auth map[string]string) map[string]string {
	return core.SanitizeAuthForLogging(auth, m.visiblePrefix)
}

// InvalidateCache drops every cached entry, forcing the next Resolve
// call for each reference to hit its provider again.
func (m *Manager) InvalidateCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = map[string]cacheEntry{}
}
