package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"fitting-studio-server/modules/common/gemini"
	"fitting-studio-server/modules/common/model"
	"fitting-studio-server/modules/common/utils"
)

// canvasScript - 익명 CORS 로 이미지를 로드해 원본 크기 캔버스에 그린 뒤 PNG data URL 반환
// CORS 헤더가 없으면 캔버스가 tainted 되어 toDataURL 이 throw
const canvasScript = `new Promise((resolve, reject) => {
  const img = new Image();
  img.crossOrigin = "anonymous";
  img.onload = () => {
    try {
      const canvas = document.createElement("canvas");
      canvas.width = img.naturalWidth;
      canvas.height = img.naturalHeight;
      canvas.getContext("2d").drawImage(img, 0, 0);
      resolve(canvas.toDataURL("image/png"));
    } catch (e) {
      reject(String(e));
    }
  };
  img.onerror = () => reject("image load failed");
  img.src = %s;
})`

// evalFunc - 스크립트를 실행하고 resolve 된 문자열 반환
type evalFunc func(ctx context.Context, script string) (string, error)

// BrowserRasterizer - headless Chrome 캔버스로 원격 이미지를 PNG 로 변환
type BrowserRasterizer struct {
	opts    []chromedp.ExecAllocatorOption
	timeout time.Duration
	eval    evalFunc
	log     zerolog.Logger
}

// NewBrowserRasterizer - 헤드리스 Chrome 옵션으로 생성
func NewBrowserRasterizer(timeout time.Duration, log zerolog.Logger) *BrowserRasterizer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.UserAgent(utils.BrowserUserAgent),
	)
	b := &BrowserRasterizer{opts: opts, timeout: timeout, log: log}
	b.eval = b.evaluateInChrome
	return b
}

// Rasterize - 요청마다 브라우저를 띄워 캔버스 변환 (실패는 NETWORK)
func (b *BrowserRasterizer) Rasterize(ctx context.Context, rawURL string) (model.ImagePayload, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	quoted, err := json.Marshal(rawURL)
	if err != nil {
		return model.ImagePayload{}, gemini.NewError(gemini.KindNetwork, "invalid image url", err)
	}

	dataURL, err := b.eval(ctx, fmt.Sprintf(canvasScript, quoted))
	if err != nil {
		b.log.Warn().Str("url", rawURL).Err(err).Msg("❌ Canvas rasterization failed")
		return model.ImagePayload{}, gemini.NewError(gemini.KindNetwork, "canvas rasterization failed (tainted canvas or load error)", err)
	}

	payload, err := ParseDataURI(dataURL)
	if err != nil {
		return model.ImagePayload{}, gemini.NewError(gemini.KindNetwork, "canvas returned an unusable data URL", err)
	}

	b.log.Info().Str("url", rawURL).Int("chars", len(payload.Data)).Msg("✅ Image rasterized via browser canvas")
	return payload, nil
}

func (b *BrowserRasterizer) evaluateInChrome(ctx context.Context, script string) (string, error) {
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, b.opts...)
	defer cancel()

	taskCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	var dataURL string
	err := chromedp.Run(taskCtx,
		chromedp.Navigate("about:blank"),
		chromedp.Evaluate(script, &dataURL, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
	)
	return dataURL, err
}
