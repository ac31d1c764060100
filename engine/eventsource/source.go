// Package eventsource implements the Event Source Manager (spec §4.8):
// a pluggable set of long-lived listeners (WebSocket, Cron, RSS) that
// feed normalized events into a single arrival-ordered queue, shared by
// all sources, that a workflow's `event.wait` action can drain.
package eventsource

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is the normalized record every Source emits, regardless of
// transport. ID is a random instance identifier (not a KSUID — nothing
// here needs the sortable-by-time property; it only needs to be unique
// enough for dedup/tracing a single emitted event) assigned once the
// event reaches the manager.
type Event struct {
	ID        string
	SourceID  string
	Type      string
	Payload   map[string]any
	ReceivedAt time.Time
}

// newEventID mints a new random event instance id.
func newEventID() string {
	return uuid.NewString()
}

// Source is a single running connection; Start blocks until ctx is
// canceled or the source fails permanently, emitting events onto out.
type Source interface {
	ID() string
	Start(ctx context.Context, out chan<- Event) error
	Send(ctx context.Context, payload map[string]any) error
	Stop() error
}

// Config is the declarative shape spec §3's EventSourceConfig takes at
// the manager boundary: kind selects the Source implementation,
// Options carries kind-specific settings, Filter restricts which event
// types reach the queue.
type Config struct {
	ID      string
	Kind    string
	Options map[string]any
	Filter  []string
}

func matchesFilter(filter []string, eventType string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == eventType {
			return true
		}
	}
	return false
}
