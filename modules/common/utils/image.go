package utils

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"  // GIF 디코더 등록
	_ "image/jpeg" // JPEG 디코더 등록
	"image/png"
	"io"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/kolesa-team/go-webp/decoder"
	"github.com/kolesa-team/go-webp/webp"
	"github.com/rs/zerolog"

	"fitting-studio-server/modules/common/gemini"
	"fitting-studio-server/modules/common/model"
)

// BrowserUserAgent - 일부 CDN 은 기본 Go UA 를 거부
const BrowserUserAgent = "Mozilla/5.0 (Linux; Android 14) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Mobile Safari/537.36"

const browserAccept = "image/avif,image/webp,image/apng,image/*,*/*;q=0.8"

// MaxImageBytes - 이미지 본문 최대 크기 (20 MiB)
const MaxImageBytes = 20 << 20

// ReadImageBody - MaxImageBytes 를 넘으면 잘라내지 않고 MALFORMED_INPUT
func ReadImageBody(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxImageBytes {
		return nil, gemini.NewError(gemini.KindMalformedInput, "image exceeds 20 MiB", nil)
	}
	return data, nil
}

// DecodeRasterizer - 원격 이미지를 다시 받아 디코드 후 PNG 로 재인코딩
type DecodeRasterizer struct {
	client *http.Client
	log    zerolog.Logger
}

// NewDecodeRasterizer - client 가 nil 이면 30초 타임아웃 기본 클라이언트
func NewDecodeRasterizer(client *http.Client, log zerolog.Logger) *DecodeRasterizer {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &DecodeRasterizer{client: client, log: log}
}

// Rasterize - url 이미지를 원본 크기 그대로 PNG payload 로 변환
// 실패는 모두 NETWORK 로 분류
func (r *DecodeRasterizer) Rasterize(ctx context.Context, rawURL string) (model.ImagePayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return model.ImagePayload{}, gemini.NewError(gemini.KindNetwork, "invalid image url", err)
	}
	req.Header.Set("User-Agent", BrowserUserAgent)
	req.Header.Set("Accept", browserAccept)

	resp, err := r.client.Do(req)
	if err != nil {
		return model.ImagePayload{}, gemini.NewError(gemini.KindNetwork, "raster fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return model.ImagePayload{}, gemini.NewError(gemini.KindNetwork, fmt.Sprintf("raster fetch refused: status %d", resp.StatusCode), nil)
	}

	data, err := ReadImageBody(resp.Body)
	if err != nil {
		if gemini.KindOf(err) == gemini.KindMalformedInput {
			return model.ImagePayload{}, err
		}
		return model.ImagePayload{}, gemini.NewError(gemini.KindNetwork, "raster read failed", err)
	}

	img, format, err := DecodeImage(data)
	if err != nil {
		return model.ImagePayload{}, gemini.NewError(gemini.KindNetwork, "raster decode failed", err)
	}

	encoded, err := EncodePNG(img)
	if err != nil {
		return model.ImagePayload{}, gemini.NewError(gemini.KindNetwork, "raster encode failed", err)
	}

	b := img.Bounds()
	r.log.Info().
		Str("format", format).
		Int("width", b.Dx()).
		Int("height", b.Dy()).
		Int("bytes", len(encoded)).
		Msg("🔄 Image rasterized to PNG")

	return model.ImagePayload{MIMEType: "image/png", Data: ConvertImageToBase64(encoded)}, nil
}

// DecodeImage - PNG / JPEG / GIF / WebP 디코드 (WebP 는 go-webp 사용)
func DecodeImage(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty image data")
	}

	if mimetype.Detect(data).Is("image/webp") {
		img, err := webp.Decode(bytes.NewReader(data), &decoder.Options{})
		if err != nil {
			return nil, "", fmt.Errorf("failed to decode WebP: %w", err)
		}
		return img, "webp", nil
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// EncodePNG - RGBA 캔버스에 원본 크기로 그린 뒤 PNG 인코딩
func EncodePNG(src image.Image) ([]byte, error) {
	b := src.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(canvas, canvas.Bounds(), src, b.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// ConvertImageToBase64 - 이미지 바이너리를 base64로 변환
func ConvertImageToBase64(imageData []byte) string {
	return base64.StdEncoding.EncodeToString(imageData)
}
