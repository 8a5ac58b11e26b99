package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitting-studio-server/modules/common/gemini"
	"fitting-studio-server/modules/common/logger"
)

func stubbedBrowser(result string, err error, scripts *[]string) *BrowserRasterizer {
	b := NewBrowserRasterizer(time.Second, logger.Nop())
	b.eval = func(ctx context.Context, script string) (string, error) {
		if scripts != nil {
			*scripts = append(*scripts, script)
		}
		return result, err
	}
	return b
}

func TestBrowserRasterizeParsesCanvasDataURL(t *testing.T) {
	var scripts []string
	b := stubbedBrowser("data:image/png;base64,"+pixelPNG, nil, &scripts)

	payload, err := b.Rasterize(context.Background(), `https://cdn.example.com/a "b".jpg`)
	require.NoError(t, err)
	assert.Equal(t, "image/png", payload.MIMEType)
	assert.Equal(t, pixelPNG, payload.Data)

	require.Len(t, scripts, 1)
	assert.Contains(t, scripts[0], `img.src = "https://cdn.example.com/a \"b\".jpg"`)
	assert.Contains(t, scripts[0], `img.crossOrigin = "anonymous"`)
}

func TestBrowserRasterizeRejectsUnusableDataURL(t *testing.T) {
	for _, result := range []string{"", "data:,", "data:text/plain;base64,aGk=", "not a data url"} {
		t.Run(result, func(t *testing.T) {
			_, err := stubbedBrowser(result, nil, nil).Rasterize(context.Background(), "https://cdn.example.com/a.jpg")
			require.Error(t, err)
			assert.Equal(t, gemini.KindNetwork, gemini.KindOf(err))
			assert.True(t, strings.Contains(err.Error(), "unusable data URL"))
		})
	}
}

func TestBrowserRasterizeEvaluateFailure(t *testing.T) {
	_, err := stubbedBrowser("", errors.New("Uncaught SecurityError: tainted canvas"), nil).
		Rasterize(context.Background(), "https://cdn.example.com/a.jpg")
	require.Error(t, err)
	assert.Equal(t, gemini.KindNetwork, gemini.KindOf(err))
	assert.Contains(t, err.Error(), "tainted canvas")
}
