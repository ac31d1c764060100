package secret_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wovenflow/engine/engine/secret"
)

func TestManager_Resolve(t *testing.T) {
	t.Run("Should resolve an environment-backed reference", func(t *testing.T) {
		t.Setenv("WOVENFLOW_TEST_SECRET", "super-secret")
		m := secret.NewManager()
		val, err := m.Resolve(context.Background(), "${secret:env://WOVENFLOW_TEST_SECRET}")
		require.NoError(t, err)
		assert.Equal(t, "super-secret", val)
	})

	t.Run("Should pass through non-reference values unchanged", func(t *testing.T) {
		m := secret.NewManager()
		val, err := m.Resolve(context.Background(), "literal-value")
		require.NoError(t, err)
		assert.Equal(t, "literal-value", val)
	})

	t.Run("Should extract a keyed field from a flattened secret value", func(t *testing.T) {
		t.Setenv("WOVENFLOW_TEST_BLOB", "access_token=abc123,refresh_token=def456")
		m := secret.NewManager()
		val, err := m.Resolve(context.Background(), "${secret:env://WOVENFLOW_TEST_BLOB#refresh_token}")
		require.NoError(t, err)
		assert.Equal(t, "def456", val)
	})

	t.Run("Should return empty string on missing secret when throwOnNotFound is false", func(t *testing.T) {
		m := secret.NewManager()
		val, err := m.Resolve(context.Background(), "${secret:env://WOVENFLOW_DOES_NOT_EXIST}")
		require.NoError(t, err)
		assert.Empty(t, val)
	})

	t.Run("Should fail on missing secret when throwOnNotFound is true", func(t *testing.T) {
		m := secret.NewManager(secret.WithThrowOnNotFound(true))
		_, err := m.Resolve(context.Background(), "${secret:env://WOVENFLOW_DOES_NOT_EXIST}")
		assert.Error(t, err)
	})

	t.Run("Should fail for an unregistered provider", func(t *testing.T) {
		m := secret.NewManager()
		_, err := m.Resolve(context.Background(), "${secret:vault://some/path}")
		assert.Error(t, err)
	})

	t.Run("Should serve cached values until the TTL expires", func(t *testing.T) {
		t.Setenv("WOVENFLOW_TEST_TTL", "first")
		m := secret.NewManager(secret.WithTTL(20 * time.Millisecond))
		first, err := m.Resolve(context.Background(), "${secret:env://WOVENFLOW_TEST_TTL}")
		require.NoError(t, err)
		assert.Equal(t, "first", first)

		t.Setenv("WOVENFLOW_TEST_TTL", "second")
		cached, err := m.Resolve(context.Background(), "${secret:env://WOVENFLOW_TEST_TTL}")
		require.NoError(t, err)
		assert.Equal(t, "first", cached, "cache should still serve the stale value before TTL expiry")

		time.Sleep(30 * time.Millisecond)
		refreshed, err := m.Resolve(context.Background(), "${secret:env://WOVENFLOW_TEST_TTL}")
		require.NoError(t, err)
		assert.Equal(t, "second", refreshed)
	})
}

func TestManager_ResolveAuth(t *testing.T) {
	t.Run("Should resolve reference values and pass through literals", func(t *testing.T) {
		t.Setenv("WOVENFLOW_TEST_AUTH_TOKEN", "token-value")
		m := secret.NewManager()
		resolved, err := m.ResolveAuth(context.Background(), map[string]string{
			"token":   "${secret:env://WOVENFLOW_TEST_AUTH_TOKEN}",
			"headers": "application/json",
		})
		require.NoError(t, err)
		assert.Equal(t, "token-value", resolved["token"])
		assert.Equal(t, "application/json", resolved["headers"])
	})
}

func TestManager_Redacted(t *testing.T) {
	t.Run("Should mask resolved auth values for logging", func(t *testing.T) {
		m := secret.NewManager(secret.WithVisiblePrefix(2))
		masked := m.Redacted(map[string]string{"token": "abcdefgh"})
		assert.Equal(t, "ab…[REDACTED]", masked["token"])
	})
}
