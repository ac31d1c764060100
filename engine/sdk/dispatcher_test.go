package sdk_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wovenflow/engine/engine/reliability"
	"github.com/wovenflow/engine/engine/sdk"
	"github.com/wovenflow/engine/engine/secret"
)

// chatAPI and slackClient exercise the parent-object binding rule: the
// dispatcher must bind `this` to Chat, not to the top-level client.
type chatAPI struct {
	lastInput map[string]any
}

func (c *chatAPI) PostMessage(_ context.Context, input map[string]any) (any, error) {
	c.lastInput = input
	return map[string]any{"ok": true, "channel": input["channel"]}, nil
}

type slackClient struct {
	Chat *chatAPI
}

func newRegistry(t *testing.T) (*sdk.Registry, *sdk.StaticModuleLoader) {
	t.Helper()
	loader := sdk.NewStaticModuleLoader()
	secrets := secret.NewManager()
	registry := sdk.NewRegistry(loader, secrets, nil)
	return registry, loader
}

func newDispatcher(registry *sdk.Registry) *sdk.Dispatcher {
	breakers := reliability.NewCircuitRegistry(reliability.DefaultCircuitConfig(), nil)
	limiter := reliability.NewRateLimiter(nil)
	wrapper := reliability.NewWrapper(breakers, limiter, reliability.DefaultCallConfig())
	return sdk.NewDispatcher(registry, wrapper)
}

func TestDispatcher_Execute(t *testing.T) {
	t.Run("Should dispatch to a built-in SDK method", func(t *testing.T) {
		registry, _ := newRegistry(t)
		dispatcher := newDispatcher(registry)
		out, err := dispatcher.Execute(context.Background(), "core.set", map[string]any{"value": "hi"})
		require.NoError(t, err)
		assert.Equal(t, "hi", out)
	})

	t.Run("Should bind the receiver to the parent object on a nested path", func(t *testing.T) {
		registry, _ := newRegistry(t)
		client := &slackClient{Chat: &chatAPI{}}
		registry.RegisterBuiltinClient("slack", client)
		dispatcher := newDispatcher(registry)

		out, err := dispatcher.Execute(context.Background(), "slack.chat.postMessage", map[string]any{"channel": "#general"})
		require.NoError(t, err)
		asMap := out.(map[string]any)
		assert.Equal(t, "#general", asMap["channel"])
		assert.Equal(t, "#general", client.Chat.lastInput["channel"])
	})

	t.Run("Should fail with an unsupported-capability error for an unknown member", func(t *testing.T) {
		registry, _ := newRegistry(t)
		dispatcher := newDispatcher(registry)
		_, err := dispatcher.Execute(context.Background(), "core.doesNotExist", map[string]any{})
		assert.Error(t, err)
	})

	t.Run("Should fail with provider-not-found when the SDK was never registered", func(t *testing.T) {
		registry, _ := newRegistry(t)
		dispatcher := newDispatcher(registry)
		_, err := dispatcher.Execute(context.Background(), "unknown.method", map[string]any{})
		assert.Error(t, err)
	})

	t.Run("Should lazily build a registered tool exactly once", func(t *testing.T) {
		registry, loader := newRegistry(t)
		builds := 0
		loader.Register("widgets", func(cfg map[string]any) (any, error) {
			builds++
			return &chatAPI{}, nil
		})
		require.NoError(t, registry.Register("widgets", sdk.ToolConfig{SDK: "widgets"}))
		dispatcher := newDispatcher(registry)

		_, err := dispatcher.Execute(context.Background(), "widgets.postMessage", map[string]any{"channel": "x"})
		require.NoError(t, err)
		_, err = dispatcher.Execute(context.Background(), "widgets.postMessage", map[string]any{"channel": "y"})
		require.NoError(t, err)
		assert.Equal(t, 1, builds)
	})
}
