package eventsource

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/wovenflow/engine/engine/core"
	"github.com/wovenflow/engine/pkg/logger"
)

// WebSocketConfig is the Options shape a `Kind: "websocket"` Config
// decodes into.
type WebSocketConfig struct {
	URL             string
	Headers         map[string]string
	ReconnectDelay  time.Duration
	ReconnectMax    time.Duration
	MaxReconnects   uint64
}

// WebSocketSource maintains a single duplex connection, reconnecting
// with jittered exponential backoff on drop (spec §4.8 "reconnection
// policy"), decoding each inbound frame as JSON or wrapping it as a
// raw string event when it isn't.
type WebSocketSource struct {
	id     string
	cfg    WebSocketConfig
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func NewWebSocketSource(id string, cfg WebSocketConfig) *WebSocketSource {
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 500 * time.Millisecond
	}
	if cfg.ReconnectMax == 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	return &WebSocketSource{id: id, cfg: cfg}
}

func (s *WebSocketSource) ID() string { return s.id }

func (s *WebSocketSource) Start(ctx context.Context, out chan<- Event) error {
	log := logger.FromContext(ctx)
	backoff := retry.NewExponential(s.cfg.ReconnectDelay)
	backoff = retry.WithCappedDuration(s.cfg.ReconnectMax, backoff)
	backoff = retry.WithJitter(100*time.Millisecond, backoff)
	if s.cfg.MaxReconnects > 0 {
		backoff = retry.WithMaxRetries(s.cfg.MaxReconnects, backoff)
	}

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if s.isClosed() {
			return nil
		}
		header := make(map[string][]string, len(s.cfg.Headers))
		for k, v := range s.cfg.Headers {
			header[k] = []string{v}
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.URL, header)
		if err != nil {
			log.With("source", s.id, "error", err).Warn("websocket dial failed, will retry")
			return retry.RetryableError(err)
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()

		err = s.readLoop(ctx, conn, out)
		if s.isClosed() {
			return nil
		}
		log.With("source", s.id, "error", err).Warn("websocket connection lost, will reconnect")
		return retry.RetryableError(err)
	})
}

func (s *WebSocketSource) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- Event) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var payload map[string]any
		eventType := "message"
		if err := json.Unmarshal(data, &payload); err != nil {
			payload = map[string]any{"raw": string(data)}
		} else if t, ok := payload["type"].(string); ok {
			eventType = t
		}
		select {
		case out <- Event{SourceID: s.id, Type: eventType, Payload: payload, ReceivedAt: time.Now()}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *WebSocketSource) Send(_ context.Context, payload map[string]any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return core.Errorf(core.KindNetworkError, "websocket source %q is not connected", s.id)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return core.NewError(err, core.KindInvalidConfig, nil)
	}
	return conn.WriteMessage(websocket.TextMessage, body)
}

func (s *WebSocketSource) Stop() error {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (s *WebSocketSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
