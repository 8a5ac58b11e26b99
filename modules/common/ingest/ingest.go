package ingest

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"fitting-studio-server/modules/common/gemini"
	"fitting-studio-server/modules/common/model"
	"fitting-studio-server/modules/common/utils"
)

// Rasterizer - 직접 fetch 가 실패한 원격 이미지를 PNG payload 로 변환
type Rasterizer interface {
	Rasterize(ctx context.Context, rawURL string) (model.ImagePayload, error)
}

// Ingestor - 이미지 참조를 {mime, base64} payload 로 변환
type Ingestor struct {
	origin *url.URL
	client *http.Client
	raster Rasterizer
	log    zerolog.Logger
}

// NewIngestor - origin 은 "/..." 경로를 해석할 storefront 주소
// raster 가 nil 이면 utils.DecodeRasterizer 사용
func NewIngestor(origin string, client *http.Client, raster Rasterizer, log zerolog.Logger) (*Ingestor, error) {
	u, err := url.Parse(strings.TrimRight(origin, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid storefront origin %q", origin)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if raster == nil {
		raster = utils.NewDecodeRasterizer(client, log)
	}
	return &Ingestor{origin: u, client: client, raster: raster, log: log}, nil
}

// Ingest - Ref 종류별로 payload 생성
func (i *Ingestor) Ingest(ctx context.Context, ref Ref) (model.ImagePayload, error) {
	switch ref.Kind {
	case RefDataURI:
		return ParseDataURI(ref.Value)

	case RefPayload:
		p := ref.Payload
		// 'base64,' 헤더가 남아 있으면 제거
		if idx := strings.Index(p.Data, "base64,"); idx >= 0 {
			p.Data = p.Data[idx+len("base64,"):]
		}
		if err := validatePayload(p); err != nil {
			return model.ImagePayload{}, err
		}
		return p, nil

	case RefPath:
		rel, err := url.Parse(ref.Value)
		if err != nil {
			return model.ImagePayload{}, gemini.NewError(gemini.KindMalformedInput, "invalid image path", err)
		}
		target := i.origin.ResolveReference(rel)
		i.log.Debug().Str("url", target.String()).Msg("📥 Fetching same-origin image")
		return i.fetch(ctx, target.String())

	case RefURL:
		target := ref.Value
		if strings.HasPrefix(target, "//") {
			target = i.origin.Scheme + ":" + target
		}
		payload, err := i.fetch(ctx, target)
		if err == nil {
			return payload, nil
		}
		if gemini.KindOf(err) != gemini.KindNetwork || ctx.Err() != nil {
			return model.ImagePayload{}, err
		}

		i.log.Warn().Str("url", target).Err(err).Msg("⚠️ Direct fetch failed, falling back to rasterizer")
		payload, err = i.raster.Rasterize(ctx, target)
		if err != nil {
			if cerr := contextError(ctx); cerr != nil {
				return model.ImagePayload{}, cerr
			}
			if kind := gemini.KindOf(err); kind != gemini.KindNetwork && kind != gemini.KindMalformedInput {
				err = gemini.NewError(gemini.KindNetwork, "rasterizer failed", err)
			}
			return model.ImagePayload{}, err
		}
		return payload, nil
	}

	return model.ImagePayload{}, gemini.NewError(gemini.KindMalformedInput, "unknown image reference kind", nil)
}

// fetch - GET 후 base64 payload 로 변환
func (i *Ingestor) fetch(ctx context.Context, target string) (model.ImagePayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return model.ImagePayload{}, gemini.NewError(gemini.KindMalformedInput, "invalid image url", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := i.client.Do(req)
	if err != nil {
		if cerr := contextError(ctx); cerr != nil {
			return model.ImagePayload{}, cerr
		}
		return model.ImagePayload{}, gemini.NewError(gemini.KindNetwork, "image fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return model.ImagePayload{}, gemini.NewError(gemini.KindNetwork, fmt.Sprintf("image fetch returned status %d", resp.StatusCode), nil)
	}

	data, err := utils.ReadImageBody(resp.Body)
	if err != nil {
		if cerr := contextError(ctx); cerr != nil {
			return model.ImagePayload{}, cerr
		}
		if gemini.KindOf(err) == gemini.KindMalformedInput {
			return model.ImagePayload{}, err
		}
		return model.ImagePayload{}, gemini.NewError(gemini.KindNetwork, "image read failed", err)
	}
	if len(data) == 0 {
		return model.ImagePayload{}, gemini.NewError(gemini.KindMalformedInput, "image response is empty", nil)
	}

	mimeType, err := resolveMIME(resp.Header.Get("Content-Type"), data)
	if err != nil {
		return model.ImagePayload{}, err
	}

	i.log.Debug().Str("url", target).Str("mime", mimeType).Int("bytes", len(data)).Msg("✅ Image fetched")
	return model.ImagePayload{MIMEType: mimeType, Data: utils.ConvertImageToBase64(data)}, nil
}

// resolveMIME - Content-Type 우선, 없거나 octet-stream 이면 내용으로 추정, 그래도 아니면 image/png
func resolveMIME(contentType string, data []byte) (string, error) {
	mediaType := ""
	if contentType != "" {
		if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
			mediaType = strings.ToLower(parsed)
		}
	}

	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return mediaType, nil
	case mediaType == "" || mediaType == "application/octet-stream":
		detected := mimetype.Detect(data)
		for m := detected; m != nil; m = m.Parent() {
			if strings.HasPrefix(m.String(), "image/") {
				return m.String(), nil
			}
		}
		return "image/png", nil
	}

	return "", gemini.NewError(gemini.KindMalformedInput, fmt.Sprintf("content type %q is not an image", mediaType), nil)
}

// contextError - ctx 가 끝났으면 취소는 그대로, 타임아웃은 NETWORK
func contextError(ctx context.Context) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return gemini.NewError(gemini.KindNetwork, "image fetch timed out", err)
	}
	return err
}
