package sdk_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wovenflow/engine/engine/sdk"
)

func TestStaticModuleLoader(t *testing.T) {
	t.Run("Should load a previously registered module", func(t *testing.T) {
		loader := sdk.NewStaticModuleLoader()
		loader.Register("widgets", "widget-module")
		mod, err := loader.Load("widgets")
		require.NoError(t, err)
		assert.Equal(t, "widget-module", mod)
	})

	t.Run("Should error for a package that was never registered", func(t *testing.T) {
		loader := sdk.NewStaticModuleLoader()
		_, err := loader.Load("missing")
		assert.Error(t, err)
	})

	t.Run("Should let a later Register call overwrite an earlier one", func(t *testing.T) {
		loader := sdk.NewStaticModuleLoader()
		loader.Register("widgets", "v1")
		loader.Register("widgets", "v2")
		mod, err := loader.Load("widgets")
		require.NoError(t, err)
		assert.Equal(t, "v2", mod)
	})
}
