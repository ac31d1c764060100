package eventsource

import (
	"github.com/go-viper/mapstructure/v2"

	"github.com/wovenflow/engine/engine/core"
)

// DefaultFactory builds the three source kinds spec §4.8 ships with
// out of the box. Options decoding reuses the same
// mapstructure decode-hook composition pkg/config uses for its own
// env-to-struct binding.
type DefaultFactory struct{}

func decodeOptions(options map[string]any, into any) error {
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       decodeHook,
		Result:           into,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(options)
}

func (DefaultFactory) Build(cfg Config) (Source, error) {
	switch cfg.Kind {
	case "websocket":
		var wsCfg WebSocketConfig
		if err := decodeOptions(cfg.Options, &wsCfg); err != nil {
			return nil, core.NewError(err, core.KindInvalidConfig, map[string]any{"source": cfg.ID})
		}
		return NewWebSocketSource(cfg.ID, wsCfg), nil
	case "cron":
		var cronCfg CronConfig
		if err := decodeOptions(cfg.Options, &cronCfg); err != nil {
			return nil, core.NewError(err, core.KindInvalidConfig, map[string]any{"source": cfg.ID})
		}
		return NewCronSource(cfg.ID, cronCfg), nil
	case "rss":
		var rssCfg RSSConfig
		if err := decodeOptions(cfg.Options, &rssCfg); err != nil {
			return nil, core.NewError(err, core.KindInvalidConfig, map[string]any{"source": cfg.ID})
		}
		return NewRSSSource(cfg.ID, rssCfg), nil
	default:
		return nil, core.Errorf(core.KindProviderNotFound, "unknown event source kind %q", cfg.Kind)
	}
}
