package fallback

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"fitting-studio-server/modules/common/gemini"
	"fitting-studio-server/modules/common/model"
)

const (
	defaultMaxRetriesPerModel = 2
	defaultMaxWait            = 60 * time.Second
	defaultWait               = 2 * time.Second
)

// Invoker - 모델 1회 호출 인터페이스 (gemini.Invoker)
type Invoker interface {
	Invoke(ctx context.Context, modelID string, req *gemini.Request) gemini.Outcome
}

// RequestBuilder - 매 시도마다 새 요청을 만들어 반환
type RequestBuilder func() *gemini.Request

// Options - Scheduler 설정
type Options struct {
	// MaxRetriesPerModel - Run 1회당 같은 모델 대기 후 재시도 최대 횟수
	MaxRetriesPerModel int
	// MaxWait - retryAfter 가 이 값보다 크면 기다리지 않고 다음 모델로
	MaxWait time.Duration
	// DefaultWait - retryAfter 정보가 없을 때 사용하는 대기 시간
	DefaultWait time.Duration
	// Sleep - 테스트에서 교체 가능
	Sleep func(ctx context.Context, d time.Duration) error
}

// Scheduler - 모델 리스트를 순서대로 시도하는 fallback 스케줄러
type Scheduler struct {
	invoker Invoker
	opts    Options
	log     zerolog.Logger
}

// NewScheduler - Scheduler 생성 (MaxRetriesPerModel 음수, 나머지 0 값은 기본값으로)
func NewScheduler(invoker Invoker, opts Options, log zerolog.Logger) *Scheduler {
	if opts.MaxRetriesPerModel < 0 {
		opts.MaxRetriesPerModel = defaultMaxRetriesPerModel
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = defaultMaxWait
	}
	if opts.DefaultWait <= 0 {
		opts.DefaultWait = defaultWait
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	return &Scheduler{invoker: invoker, opts: opts, log: log}
}

// Run - 이미지가 나올 때까지 모델을 순서대로 시도
func (s *Scheduler) Run(ctx context.Context, models []string, build RequestBuilder) (model.ImagePayload, error) {
	out, err := s.run(ctx, models, build, gemini.OutcomeImage)
	if err != nil {
		return model.ImagePayload{}, err
	}
	return out.Image, nil
}

// RunText - 텍스트 응답이 성공인 버전 (structured output 호출용)
func (s *Scheduler) RunText(ctx context.Context, models []string, build RequestBuilder) (string, error) {
	out, err := s.run(ctx, models, build, gemini.OutcomeText)
	if err != nil {
		return "", err
	}
	return out.Text, nil
}

// failures - 모델별 실패 기록 (리스트 소진 시 노출할 에러 선택용)
type failures struct {
	quota    *gemini.Error
	failure  *gemini.Error
	refusal  *gemini.Error
	notFound *gemini.Error
	// lastRefused - 마지막 모델의 마지막 시도가 거부였는지
	lastRefused bool
}

// surface - 마지막 모델이 거부했으면 SAFETY_BLOCKED
// 그 외 우선순위: quota > network/unknown > safety > model not found
func (f failures) surface() *gemini.Error {
	switch {
	case f.lastRefused && f.refusal != nil:
		return f.refusal
	case f.quota != nil:
		return f.quota
	case f.failure != nil:
		return f.failure
	case f.refusal != nil:
		return f.refusal
	case f.notFound != nil:
		return f.notFound
	}
	return gemini.NewError(gemini.KindUnknown, "all models failed", nil)
}

func (s *Scheduler) run(ctx context.Context, models []string, build RequestBuilder, want gemini.OutcomeKind) (gemini.Outcome, error) {
	if len(models) == 0 {
		return gemini.Outcome{}, gemini.NewError(gemini.KindUnknown, "no models configured", nil)
	}

	var rec failures
	waitsLeft := s.opts.MaxRetriesPerModel

	for idx, modelID := range models {
		attempt := 0
		for {
			attempt++
			if err := ctx.Err(); err != nil {
				return gemini.Outcome{}, contextError(err)
			}

			s.log.Info().
				Str("model", modelID).
				Int("candidate", idx+1).
				Int("of", len(models)).
				Int("attempt", attempt).
				Msg("🎨 Trying model")

			out := s.invoker.Invoke(ctx, modelID, build())
			if err := ctx.Err(); err != nil {
				return gemini.Outcome{}, contextError(err)
			}

			if out.Kind == want {
				s.log.Info().Str("model", modelID).Msg("✅ Model succeeded")
				return out, nil
			}

			retrySame := false
			rec.lastRefused = false
			switch out.Kind {
			case gemini.OutcomeText:
				// 이미지 대신 텍스트 → 거부로 간주
				rec.refusal = gemini.NewError(gemini.KindSafetyBlocked, out.Text, nil)
				rec.lastRefused = true
				s.log.Warn().Str("model", modelID).Str("text", out.Text).Msg("⚠️ Model replied with text only")

			case gemini.OutcomeImage:
				rec.failure = gemini.NewError(gemini.KindUnknown, "model returned an image where text was expected", nil)

			case gemini.OutcomeError:
				gerr := out.Err
				switch gerr.Kind {
				case gemini.KindAuthInvalid, gemini.KindMalformedInput:
					s.log.Error().Str("model", modelID).Str("kind", string(gerr.Kind)).Msg("❌ Terminal error, stopping fallback")
					return gemini.Outcome{}, gerr

				case gemini.KindQuotaExceeded:
					rec.quota = gerr
					if wait, ok := s.quotaWait(ctx, gerr, waitsLeft); ok {
						waitsLeft--
						s.log.Warn().Str("model", modelID).Dur("wait", wait).Int("waits_left", waitsLeft).Msg("⏳ Quota hit, waiting before retry")
						if err := s.opts.Sleep(ctx, wait); err != nil {
							return gemini.Outcome{}, contextError(err)
						}
						retrySame = true
					} else {
						s.log.Warn().Str("model", modelID).Bool("structural", gerr.StructuralQuota()).Msg("⚠️ Quota hit, advancing to next model")
					}

				case gemini.KindModelNotFound:
					rec.notFound = gerr
					s.log.Warn().Str("model", modelID).Msg("⚠️ Model not found, advancing")

				case gemini.KindSafetyBlocked:
					rec.refusal = gerr
					rec.lastRefused = true
					s.log.Warn().Str("model", modelID).Str("reason", gerr.Message).Msg("⚠️ Model refused, advancing")

				default:
					rec.failure = gerr
					s.log.Warn().Str("model", modelID).Str("kind", string(gerr.Kind)).Msg("⚠️ Model failed, advancing")
				}
			}

			if !retrySame {
				break
			}
		}
	}

	gerr := rec.surface()
	s.log.Error().Str("kind", string(gerr.Kind)).Int("models", len(models)).Msg("❌ All models exhausted")
	return gemini.Outcome{}, gerr
}

// quotaWait - 같은 모델 재시도 전에 기다릴지 결정
// limit=0 이면 기다려도 소용없으므로 바로 다음 모델
func (s *Scheduler) quotaWait(ctx context.Context, gerr *gemini.Error, waitsLeft int) (time.Duration, bool) {
	if gerr.StructuralQuota() || waitsLeft <= 0 {
		return 0, false
	}

	wait := gerr.RetryAfter
	if wait <= 0 {
		wait = s.opts.DefaultWait
	}
	if wait > s.opts.MaxWait {
		return 0, false
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= wait {
		return 0, false
	}
	return wait, true
}

// contextError - 취소는 그대로, 타임아웃은 NETWORK 로
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return gemini.NewError(gemini.KindNetwork, "request timed out", err)
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
