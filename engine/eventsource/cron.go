package eventsource

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wovenflow/engine/engine/core"
)

// CronConfig is the Options shape a `Kind: "cron"` Config decodes
// into. Spec accepts either a standard five-field cron expression or a
// plain Go duration string ("100ms", "1h") for sub-minute polling
// intervals cron.Cron cannot express.
type CronConfig struct {
	Spec      string
	Immediate bool
}

// CronSource emits a "tick" event on every scheduled firing.
type CronSource struct {
	id      string
	cfg     CronConfig
	stop    chan struct{}
	stopped bool
}

func NewCronSource(id string, cfg CronConfig) *CronSource {
	return &CronSource{id: id, cfg: cfg, stop: make(chan struct{})}
}

func (s *CronSource) ID() string { return s.id }

func (s *CronSource) Start(ctx context.Context, out chan<- Event) error {
	emit := func() {
		select {
		case out <- Event{SourceID: s.id, Type: "tick", Payload: map[string]any{"firedAt": time.Now()}, ReceivedAt: time.Now()}:
		case <-ctx.Done():
		}
	}
	if s.cfg.Immediate {
		emit()
	}

	if d, err := time.ParseDuration(s.cfg.Spec); err == nil {
		return s.runTicker(ctx, d, emit)
	}
	return s.runCron(ctx, emit)
}

func (s *CronSource) runTicker(ctx context.Context, interval time.Duration, emit func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			emit()
		case <-s.stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *CronSource) runCron(ctx context.Context, emit func()) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(s.cfg.Spec); err != nil {
		return core.NewError(err, core.KindInvalidConfig, map[string]any{"spec": s.cfg.Spec})
	}
	c := cron.New(cron.WithParser(parser))
	if _, err := c.AddFunc(s.cfg.Spec, emit); err != nil {
		return core.NewError(err, core.KindInvalidConfig, map[string]any{"spec": s.cfg.Spec})
	}
	c.Start()
	select {
	case <-s.stop:
	case <-ctx.Done():
	}
	stopCtx := c.Stop()
	<-stopCtx.Done()
	return ctx.Err()
}

func (s *CronSource) Send(_ context.Context, _ map[string]any) error {
	return core.Errorf(core.KindUnsupportedCapability, "cron source %q does not accept outbound sends", s.id)
}

func (s *CronSource) Stop() error {
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.stop)
	return nil
}
