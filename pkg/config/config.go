// Package config loads the engine-wide defaults — reliability timeouts,
// circuit breaker parameters, secret cache TTLs — the way the teacher
// layers configuration: environment variables over struct defaults,
// merged through koanf.
package config

import (
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ReliabilityDefaults are the fallback values the reliability wrapper
// uses for a step/action that declares no explicit retry policy or
// timeout (spec §4.4 "Defaults").
type ReliabilityDefaults struct {
	Timeout            time.Duration `koanf:"timeout"`
	MaxRetries         int           `koanf:"max_retries"`
	InitialDelay       time.Duration `koanf:"initial_delay"`
	MaxDelay           time.Duration `koanf:"max_delay"`
	RetryableStatuses  []int         `koanf:"retryable_statuses"`
}

// CircuitDefaults are the fallback circuit breaker parameters (spec §4.5).
type CircuitDefaults struct {
	FailureThreshold int           `koanf:"failure_threshold"`
	FailureWindow    time.Duration `koanf:"failure_window"`
	ResetTimeout     time.Duration `koanf:"reset_timeout"`
	SuccessThreshold int           `koanf:"success_threshold"`
}

// SecretDefaults controls the Secret Manager's cache behavior.
type SecretDefaults struct {
	CacheTTL        time.Duration `koanf:"cache_ttl"`
	ThrowOnNotFound bool          `koanf:"throw_on_not_found"`
	VisiblePrefix   int           `koanf:"visible_prefix"`
}

// Config is the engine-wide configuration root, one instance per
// process, constructed once at engine init and passed by reference
// into the reliability wrapper, registry and secret manager.
type Config struct {
	Reliability ReliabilityDefaults `koanf:"reliability"`
	Circuit     CircuitDefaults     `koanf:"circuit"`
	Secret      SecretDefaults      `koanf:"secret"`
}

// Default matches spec §4.4/§4.5/§4.7's stated defaults.
func Default() *Config {
	return &Config{
		Reliability: ReliabilityDefaults{
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			InitialDelay:      time.Second,
			MaxDelay:          30 * time.Second,
			RetryableStatuses: []int{429, 500, 502, 503, 504},
		},
		Circuit: CircuitDefaults{
			FailureThreshold: 5,
			FailureWindow:    60 * time.Second,
			ResetTimeout:     30 * time.Second,
			SuccessThreshold: 2,
		},
		Secret: SecretDefaults{
			CacheTTL:        5 * time.Minute,
			ThrowOnNotFound: false,
			VisiblePrefix:   0,
		},
	}
}

// Load builds a Config from Default(), overridden by any
// WORKFLOWENGINE_-prefixed environment variables (e.g.
// WORKFLOWENGINE_RELIABILITY_MAX_RETRIES=5), following the same
// koanf env+structs layering the rest of the pack uses for config.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, err
	}
	envProvider := env.Provider(".", env.Opt{
		Prefix: "WORKFLOWENGINE_",
		TransformFunc: func(k, v string) (string, any) {
			// WORKFLOWENGINE_RELIABILITY_MAX_RETRIES → reliability.max_retries
			k = strings.ToLower(strings.TrimPrefix(k, "WORKFLOWENGINE_"))
			return strings.Replace(k, "_", ".", 1), v
		},
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, err
	}
	cfg := Default()
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook:       decodeHook,
			Result:           cfg,
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}
