package eventsource

import (
	"context"
	"sync"
	"time"

	"github.com/wovenflow/engine/engine/core"
)

// sourceState tracks one running source and its lifecycle handle;
// queued/undelivered events live on Manager's global pending list so
// WaitForEvent can match across sources when no source id is given.
type sourceState struct {
	source Source
	cancel context.CancelFunc
}

// waiter is a single pending WaitForEvent call, woken the moment a
// matching event is appended to the global queue.
type waiter struct {
	match func(Event) bool
	ch    chan Event
}

// Manager owns every running Source and the global FIFO event queue
// spec §4.8 describes ("add/remove/stopAll/waitForEvent/stats"). Events
// from every source are appended to a single arrival-ordered queue so
// WaitForEvent can filter by source and/or type (spec §4.8 manager
// contract: "waitForEvent({ source?, type?, timeout })").
type Manager struct {
	mu      sync.Mutex
	sources map[string]*sourceState
	factory Factory

	pending []Event
	waiters []*waiter

	stats map[string]*sourceStats
}

// sourceStats accumulates the counters spec's `stats()` is expected to
// surface per source.
type sourceStats struct {
	Emitted   int
	LastError string
}

// Factory builds a Source from its declarative Config; production
// wiring registers one constructor per kind (websocket/cron/rss).
type Factory interface {
	Build(cfg Config) (Source, error)
}

func NewManager(factory Factory) *Manager {
	return &Manager{
		sources: map[string]*sourceState{},
		factory: factory,
		stats:   map[string]*sourceStats{},
	}
}

// Add starts a new source and begins queuing its events.
func (m *Manager) Add(ctx context.Context, cfg Config) error {
	m.mu.Lock()
	if _, exists := m.sources[cfg.ID]; exists {
		m.mu.Unlock()
		return core.Errorf(core.KindProviderConflict, "event source %q already registered", cfg.ID)
	}
	m.mu.Unlock()

	src, err := m.factory.Build(cfg)
	if err != nil {
		return core.NewError(err, core.KindInvalidConfig, map[string]any{"source": cfg.ID})
	}

	runCtx, cancel := context.WithCancel(ctx)
	state := &sourceState{source: src, cancel: cancel}

	m.mu.Lock()
	m.sources[cfg.ID] = state
	m.stats[cfg.ID] = &sourceStats{}
	m.mu.Unlock()

	events := make(chan Event, 64)
	go m.drain(cfg, events)
	go func() {
		if err := src.Start(runCtx, events); err != nil {
			m.mu.Lock()
			if st, ok := m.stats[cfg.ID]; ok {
				st.LastError = err.Error()
			}
			m.mu.Unlock()
		}
		close(events)
	}()
	return nil
}

// drain appends every event a source's Start loop emits to the global
// pending queue, waking the first matching waiter if one is parked.
func (m *Manager) drain(cfg Config, events <-chan Event) {
	for ev := range events {
		if !matchesFilter(cfg.Filter, ev.Type) {
			continue
		}
		if ev.ID == "" {
			ev.ID = newEventID()
		}
		m.mu.Lock()
		if st, ok := m.stats[cfg.ID]; ok {
			st.Emitted++
		}
		delivered := false
		for i, w := range m.waiters {
			if w.match(ev) {
				m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
				w.ch <- ev // buffered, never blocks
				delivered = true
				break
			}
		}
		if !delivered {
			m.pending = append(m.pending, ev)
		}
		m.mu.Unlock()
	}
}

// Remove stops and forgets a source.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	state, ok := m.sources[id]
	if ok {
		delete(m.sources, id)
		delete(m.stats, id)
	}
	m.mu.Unlock()
	if !ok {
		return core.Errorf(core.KindProviderNotFound, "no event source %q", id)
	}
	state.cancel()
	return state.source.Stop()
}

// StopAll tears down every running source, used at engine shutdown. Any
// WaitForEvent call still parked is woken with a cancellation error.
func (m *Manager) StopAll() {
	m.mu.Lock()
	sources := m.sources
	m.sources = map[string]*sourceState{}
	waiters := m.waiters
	m.waiters = nil
	m.mu.Unlock()
	for _, state := range sources {
		state.cancel()
		state.source.Stop()
	}
	for _, w := range waiters {
		close(w.ch)
	}
}

// WaitOptions filters which event WaitForEvent resolves to (spec §4.8:
// "waitForEvent({ source?, type?, timeout })").
type WaitOptions struct {
	Source  string
	Type    string
	Timeout time.Duration
}

// WaitForEvent implements `event.wait`: returns the oldest queued event
// matching Source/Type, or blocks until one arrives or Timeout elapses.
func (m *Manager) WaitForEvent(ctx context.Context, opts WaitOptions) (map[string]any, error) {
	match := func(ev Event) bool {
		if opts.Source != "" && ev.SourceID != opts.Source {
			return false
		}
		if opts.Type != "" && ev.Type != opts.Type {
			return false
		}
		return true
	}

	m.mu.Lock()
	if opts.Source != "" {
		if _, ok := m.sources[opts.Source]; !ok {
			m.mu.Unlock()
			return nil, core.Errorf(core.KindProviderNotFound, "no event source %q", opts.Source)
		}
	}
	for i, ev := range m.pending {
		if match(ev) {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			m.mu.Unlock()
			return ev.Payload, nil
		}
	}
	w := &waiter{match: match, ch: make(chan Event, 1)}
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case ev, ok := <-w.ch:
		if !ok {
			return nil, core.Errorf(core.KindTimeout, "event source manager stopped while waiting")
		}
		return ev.Payload, nil
	case <-waitCtx.Done():
		m.removeWaiter(w)
		return nil, core.NewError(waitCtx.Err(), core.KindTimeout, map[string]any{"source": opts.Source, "type": opts.Type})
	}
}

func (m *Manager) removeWaiter(target *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, w := range m.waiters {
		if w == target {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			return
		}
	}
}

// Send implements outbound delivery for duplex sources (WebSocket).
func (m *Manager) Send(ctx context.Context, id string, payload map[string]any) error {
	m.mu.Lock()
	state, ok := m.sources[id]
	m.mu.Unlock()
	if !ok {
		return core.Errorf(core.KindProviderNotFound, "no event source %q", id)
	}
	return state.source.Send(ctx, payload)
}

// Stats reports per-source status: whether it's running, events
// emitted so far, and the last error observed (spec §4.8 "stats()").
type Stats struct {
	Running   bool
	Emitted   int
	LastError string
}

func (m *Manager) Stats() map[string]Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Stats, len(m.sources))
	for id := range m.sources {
		st := m.stats[id]
		s := Stats{Running: true}
		if st != nil {
			s.Emitted = st.Emitted
			s.LastError = st.LastError
		}
		out[id] = s
	}
	return out
}
