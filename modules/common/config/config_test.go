package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitting-studio-server/modules/common/model"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "  test-key-1234567890 ")
	t.Setenv("MODELS_TRY_ON", "m1, m2 ,,m3")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "test-key-1234567890", cfg.GeminiAPIKey)
	assert.Equal(t, []string{"m1", "m2", "m3"}, cfg.ModelLists().For(string(model.ModeTryOn)))
	assert.Equal(t, 2, cfg.MaxRetriesPerModel)
	assert.Equal(t, int64(120000), cfg.PerRequestTimeout().Milliseconds())
	assert.NotEmpty(t, cfg.ModelLists().For(model.ModelListCoordinator))
	assert.False(t, cfg.RedisEnabled())
}

func TestLoadConfigRejectsUnknownRasterizer(t *testing.T) {
	t.Setenv("RASTERIZER", "canvas")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RASTERIZER")
}

func TestLoadConfigVertexNeedsProject(t *testing.T) {
	t.Setenv("GEMINI_BACKEND", "vertex")
	t.Setenv("VERTEX_PROJECT", "")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigRejectsEmptyModelList(t *testing.T) {
	t.Setenv("MODELS_EDIT", " , ")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EDIT")
}
