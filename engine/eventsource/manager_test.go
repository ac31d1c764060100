package eventsource_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wovenflow/engine/engine/eventsource"
)

// fakeSource is a Source a test controls directly: it emits whatever is
// sent on feed until closed or stopped.
type fakeSource struct {
	id      string
	feed    chan eventsource.Event
	stopped chan struct{}
	sent    []map[string]any
}

func newFakeSource(id string) *fakeSource {
	return &fakeSource{id: id, feed: make(chan eventsource.Event, 16), stopped: make(chan struct{})}
}

func (s *fakeSource) ID() string { return s.id }

func (s *fakeSource) Start(ctx context.Context, out chan<- eventsource.Event) error {
	for {
		select {
		case ev, ok := <-s.feed:
			if !ok {
				return nil
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-s.stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *fakeSource) Send(_ context.Context, payload map[string]any) error {
	s.sent = append(s.sent, payload)
	return nil
}

func (s *fakeSource) Stop() error {
	close(s.stopped)
	return nil
}

type fakeFactory struct {
	sources map[string]*fakeSource
}

func (f fakeFactory) Build(cfg eventsource.Config) (eventsource.Source, error) {
	return f.sources[cfg.ID], nil
}

func TestManager_WaitForEvent(t *testing.T) {
	t.Run("Should deliver an event already queued before the wait call", func(t *testing.T) {
		src := newFakeSource("feed1")
		mgr := eventsource.NewManager(fakeFactory{sources: map[string]*fakeSource{"feed1": src}})
		ctx := context.Background()
		require.NoError(t, mgr.Add(ctx, eventsource.Config{ID: "feed1", Kind: "fake"}))

		src.feed <- eventsource.Event{SourceID: "feed1", Type: "tick", Payload: map[string]any{"n": 1.0}}
		time.Sleep(20 * time.Millisecond)

		got, err := mgr.WaitForEvent(ctx, eventsource.WaitOptions{Source: "feed1", Timeout: time.Second})
		require.NoError(t, err)
		assert.Equal(t, 1.0, got["n"])
	})

	t.Run("Should wake a parked waiter the moment a matching event arrives", func(t *testing.T) {
		src := newFakeSource("feed2")
		mgr := eventsource.NewManager(fakeFactory{sources: map[string]*fakeSource{"feed2": src}})
		ctx := context.Background()
		require.NoError(t, mgr.Add(ctx, eventsource.Config{ID: "feed2", Kind: "fake"}))

		done := make(chan map[string]any, 1)
		go func() {
			got, err := mgr.WaitForEvent(ctx, eventsource.WaitOptions{Source: "feed2", Timeout: time.Second})
			require.NoError(t, err)
			done <- got
		}()
		time.Sleep(20 * time.Millisecond)
		src.feed <- eventsource.Event{SourceID: "feed2", Type: "tick", Payload: map[string]any{"n": 2.0}}

		select {
		case got := <-done:
			assert.Equal(t, 2.0, got["n"])
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event delivery")
		}
	})

	t.Run("Should filter by event type when specified", func(t *testing.T) {
		src := newFakeSource("feed3")
		mgr := eventsource.NewManager(fakeFactory{sources: map[string]*fakeSource{"feed3": src}})
		ctx := context.Background()
		require.NoError(t, mgr.Add(ctx, eventsource.Config{ID: "feed3", Kind: "fake"}))

		src.feed <- eventsource.Event{SourceID: "feed3", Type: "other", Payload: map[string]any{"kind": "other"}}
		src.feed <- eventsource.Event{SourceID: "feed3", Type: "wanted", Payload: map[string]any{"kind": "wanted"}}
		time.Sleep(20 * time.Millisecond)

		got, err := mgr.WaitForEvent(ctx, eventsource.WaitOptions{Source: "feed3", Type: "wanted", Timeout: time.Second})
		require.NoError(t, err)
		assert.Equal(t, "wanted", got["kind"])
	})

	t.Run("Should match across sources when no source filter is given", func(t *testing.T) {
		srcA := newFakeSource("a")
		srcB := newFakeSource("b")
		mgr := eventsource.NewManager(fakeFactory{sources: map[string]*fakeSource{"a": srcA, "b": srcB}})
		ctx := context.Background()
		require.NoError(t, mgr.Add(ctx, eventsource.Config{ID: "a", Kind: "fake"}))
		require.NoError(t, mgr.Add(ctx, eventsource.Config{ID: "b", Kind: "fake"}))

		srcB.feed <- eventsource.Event{SourceID: "b", Type: "tick", Payload: map[string]any{"from": "b"}}
		time.Sleep(20 * time.Millisecond)

		got, err := mgr.WaitForEvent(ctx, eventsource.WaitOptions{Timeout: time.Second})
		require.NoError(t, err)
		assert.Equal(t, "b", got["from"])
	})

	t.Run("Should time out when nothing matches in time", func(t *testing.T) {
		src := newFakeSource("feed4")
		mgr := eventsource.NewManager(fakeFactory{sources: map[string]*fakeSource{"feed4": src}})
		ctx := context.Background()
		require.NoError(t, mgr.Add(ctx, eventsource.Config{ID: "feed4", Kind: "fake"}))

		_, err := mgr.WaitForEvent(ctx, eventsource.WaitOptions{Source: "feed4", Timeout: 30 * time.Millisecond})
		assert.Error(t, err)
	})

	t.Run("Should error when waiting on a source that was never added", func(t *testing.T) {
		mgr := eventsource.NewManager(fakeFactory{sources: map[string]*fakeSource{}})
		_, err := mgr.WaitForEvent(context.Background(), eventsource.WaitOptions{Source: "missing", Timeout: time.Second})
		assert.Error(t, err)
	})

	t.Run("Should reject adding the same source id twice", func(t *testing.T) {
		src := newFakeSource("dup")
		mgr := eventsource.NewManager(fakeFactory{sources: map[string]*fakeSource{"dup": src}})
		ctx := context.Background()
		require.NoError(t, mgr.Add(ctx, eventsource.Config{ID: "dup", Kind: "fake"}))
		err := mgr.Add(ctx, eventsource.Config{ID: "dup", Kind: "fake"})
		assert.Error(t, err)
	})
}

func TestManager_Stats(t *testing.T) {
	t.Run("Should count emitted events per source", func(t *testing.T) {
		src := newFakeSource("stats1")
		mgr := eventsource.NewManager(fakeFactory{sources: map[string]*fakeSource{"stats1": src}})
		ctx := context.Background()
		require.NoError(t, mgr.Add(ctx, eventsource.Config{ID: "stats1", Kind: "fake"}))

		src.feed <- eventsource.Event{SourceID: "stats1", Type: "tick", Payload: map[string]any{}}
		src.feed <- eventsource.Event{SourceID: "stats1", Type: "tick", Payload: map[string]any{}}
		time.Sleep(20 * time.Millisecond)

		stats := mgr.Stats()
		assert.True(t, stats["stats1"].Running)
		assert.Equal(t, 2, stats["stats1"].Emitted)
	})
}

func TestManager_Send(t *testing.T) {
	t.Run("Should forward outbound payloads to the named source", func(t *testing.T) {
		src := newFakeSource("duplex")
		mgr := eventsource.NewManager(fakeFactory{sources: map[string]*fakeSource{"duplex": src}})
		ctx := context.Background()
		require.NoError(t, mgr.Add(ctx, eventsource.Config{ID: "duplex", Kind: "fake"}))

		require.NoError(t, mgr.Send(ctx, "duplex", map[string]any{"hello": "world"}))
		require.Len(t, src.sent, 1)
		assert.Equal(t, "world", src.sent[0]["hello"])
	})

	t.Run("Should error when sending to an unknown source", func(t *testing.T) {
		mgr := eventsource.NewManager(fakeFactory{sources: map[string]*fakeSource{}})
		err := mgr.Send(context.Background(), "nope", map[string]any{})
		assert.Error(t, err)
	})
}

func TestManager_RemoveAndStopAll(t *testing.T) {
	t.Run("Should stop and forget a removed source", func(t *testing.T) {
		src := newFakeSource("removable")
		mgr := eventsource.NewManager(fakeFactory{sources: map[string]*fakeSource{"removable": src}})
		ctx := context.Background()
		require.NoError(t, mgr.Add(ctx, eventsource.Config{ID: "removable", Kind: "fake"}))
		require.NoError(t, mgr.Remove("removable"))

		err := mgr.Send(ctx, "removable", map[string]any{})
		assert.Error(t, err)
	})

	t.Run("Should error removing a source that isn't registered", func(t *testing.T) {
		mgr := eventsource.NewManager(fakeFactory{sources: map[string]*fakeSource{}})
		assert.Error(t, mgr.Remove("ghost"))
	})

	t.Run("Should wake parked waiters when StopAll is called", func(t *testing.T) {
		src := newFakeSource("stopall")
		mgr := eventsource.NewManager(fakeFactory{sources: map[string]*fakeSource{"stopall": src}})
		ctx := context.Background()
		require.NoError(t, mgr.Add(ctx, eventsource.Config{ID: "stopall", Kind: "fake"}))

		errCh := make(chan error, 1)
		go func() {
			_, err := mgr.WaitForEvent(ctx, eventsource.WaitOptions{Source: "stopall", Timeout: 5 * time.Second})
			errCh <- err
		}()
		time.Sleep(20 * time.Millisecond)
		mgr.StopAll()

		select {
		case err := <-errCh:
			assert.Error(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("StopAll did not wake the parked waiter")
		}
	})
}
