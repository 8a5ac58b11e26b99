package utils

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitting-studio-server/modules/common/gemini"
	"fitting-studio-server/modules/common/logger"
)

func sampleImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 40), G: uint8(y * 40), B: 200, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeWebP(t *testing.T, img image.Image) []byte {
	t.Helper()
	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, 90)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, webp.Encode(&buf, img, options))
	return buf.Bytes()
}

func decodePayload(t *testing.T, data string) image.Image {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(data)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	return img
}

func TestRasterizeKeepsNaturalSize(t *testing.T) {
	body := encodePNG(t, sampleImage(5, 3))
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	r := NewDecodeRasterizer(srv.Client(), logger.Nop())
	payload, err := r.Rasterize(context.Background(), srv.URL+"/a.png")

	require.NoError(t, err)
	assert.Equal(t, "image/png", payload.MIMEType)
	assert.NotContains(t, payload.Data, ",")
	img := decodePayload(t, payload.Data)
	assert.Equal(t, 5, img.Bounds().Dx())
	assert.Equal(t, 3, img.Bounds().Dy())
	assert.Contains(t, gotUA, "Mozilla")
}

func TestRasterizeDecodesWebP(t *testing.T) {
	body := encodeWebP(t, sampleImage(8, 6))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/webp")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	payload, err := NewDecodeRasterizer(srv.Client(), logger.Nop()).Rasterize(context.Background(), srv.URL)

	require.NoError(t, err)
	img := decodePayload(t, payload.Data)
	assert.Equal(t, image.Rect(0, 0, 8, 6), img.Bounds())
}

func TestRasterizeFailuresAreNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/forbidden" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("<html>not an image</html>"))
	}))
	defer srv.Close()

	r := NewDecodeRasterizer(srv.Client(), logger.Nop())

	_, err := r.Rasterize(context.Background(), srv.URL+"/forbidden")
	assert.Equal(t, gemini.KindNetwork, gemini.KindOf(err))

	_, err = r.Rasterize(context.Background(), srv.URL+"/page")
	assert.Equal(t, gemini.KindNetwork, gemini.KindOf(err))
}

func TestEncodePNGNormalizesOrigin(t *testing.T) {
	src := sampleImage(6, 6).SubImage(image.Rect(2, 2, 6, 5))

	out, err := EncodePNG(src)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 3), img.Bounds())
}

func TestDecodeImageEmpty(t *testing.T) {
	_, _, err := DecodeImage(nil)
	assert.Error(t, err)
}

func TestReadImageBodyLimit(t *testing.T) {
	data, err := ReadImageBody(bytes.NewReader(make([]byte, MaxImageBytes)))
	require.NoError(t, err)
	assert.Len(t, data, MaxImageBytes)

	_, err = ReadImageBody(bytes.NewReader(make([]byte, MaxImageBytes+1)))
	assert.Equal(t, gemini.KindMalformedInput, gemini.KindOf(err))
}

func TestRasterizeRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(make([]byte, MaxImageBytes+1024))
	}))
	defer srv.Close()

	_, err := NewDecodeRasterizer(srv.Client(), logger.Nop()).Rasterize(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, gemini.KindMalformedInput, gemini.KindOf(err))
	assert.Contains(t, err.Error(), "exceeds 20 MiB")
}
