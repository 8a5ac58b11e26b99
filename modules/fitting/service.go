package fitting

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fitting-studio-server/modules/common/fallback"
	"fitting-studio-server/modules/common/gemini"
	"fitting-studio-server/modules/common/ingest"
	"fitting-studio-server/modules/common/model"
)

// Ingester - 이미지 참조 변환 (ingest.Ingestor)
type Ingester interface {
	Ingest(ctx context.Context, ref ingest.Ref) (model.ImagePayload, error)
}

// Runner - 모델 리스트 fallback 실행 (fallback.Scheduler)
type Runner interface {
	Run(ctx context.Context, models []string, build fallback.RequestBuilder) (model.ImagePayload, error)
}

// Compositor - 세션 하나의 try-on / edit / generate 요청을 관리
// 한 번에 하나의 요청만 처리하고 나머지는 ErrBusy 로 거부
type Compositor struct {
	ingester Ingester
	runner   Runner
	models   model.ModelLists
	timeout  time.Duration
	log      zerolog.Logger

	mu        sync.Mutex
	state     State
	mode      model.Mode
	image     string
	lastErr   error
	cancel    context.CancelFunc
	cancelled bool
	updatedAt time.Time

	subs    map[int]func(Snapshot)
	nextSub int
}

// NewCompositor - Compositor 생성 (timeout 0 이면 타임아웃 없음)
func NewCompositor(ingester Ingester, runner Runner, models model.ModelLists, timeout time.Duration, log zerolog.Logger) *Compositor {
	return &Compositor{
		ingester:  ingester,
		runner:    runner,
		models:    models,
		timeout:   timeout,
		log:       log,
		state:     StateIdle,
		updatedAt: time.Now(),
		subs:      make(map[int]func(Snapshot)),
	}
}

// Compose - 사진 → 의류 → 프롬프트 → 스케줄러 순서로 실행하고 data URI 반환
func (c *Compositor) Compose(ctx context.Context, req ComposeRequest) (string, error) {
	c.mu.Lock()
	if state := c.state; state.Busy() {
		c.mu.Unlock()
		c.log.Warn().Str("state", string(state)).Msg("⚠️ Compose rejected, request already in progress")
		return "", ErrBusy
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if c.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	c.cancel = cancel
	c.cancelled = false
	c.state = StateIngesting
	c.mode = ""
	c.image = ""
	c.lastErr = nil
	c.updatedAt = time.Now()
	c.mu.Unlock()
	c.notify()

	defer cancel()

	started := time.Now()
	payload, err := c.run(runCtx, req)
	return c.finish(payload, err, time.Since(started))
}

func (c *Compositor) run(ctx context.Context, req ComposeRequest) (model.ImagePayload, error) {
	var photo, garment *model.ImagePayload

	if req.UserPhoto != nil {
		p, err := c.ingester.Ingest(ctx, *req.UserPhoto)
		if err != nil {
			c.log.Error().Err(err).Str("ref", req.UserPhoto.Kind.String()).Msg("❌ User photo ingestion failed")
			return model.ImagePayload{}, err
		}
		photo = &p
	}
	if req.Garment != nil {
		p, err := c.ingester.Ingest(ctx, *req.Garment)
		if err != nil {
			c.log.Error().Err(err).Str("ref", req.Garment.Kind.String()).Msg("❌ Garment ingestion failed")
			return model.ImagePayload{}, err
		}
		garment = &p
	}

	mode := model.DeriveMode(photo != nil, garment != nil)
	c.transition(StatePrompting, mode)
	prompt := BuildPrompt(mode, req.Instruction)

	models := c.models.For(string(mode))
	c.log.Info().
		Str("mode", string(mode)).
		Strs("models", models).
		Int("prompt_chars", len(prompt)).
		Msg("📝 Prompt ready")

	c.transition(StateRunning, mode)

	// 매 시도마다 새 요청: [사람 사진?, 의류?, 프롬프트]
	build := func() *gemini.Request {
		parts := make([]gemini.Part, 0, 3)
		if photo != nil {
			parts = append(parts, gemini.ImagePart(*photo))
		}
		if garment != nil {
			parts = append(parts, gemini.ImagePart(*garment))
		}
		parts = append(parts, gemini.TextPart(prompt))
		return gemini.NewImageRequest(parts...)
	}

	return c.runner.Run(ctx, models, build)
}

func (c *Compositor) finish(payload model.ImagePayload, err error, elapsed time.Duration) (string, error) {
	c.mu.Lock()
	c.cancel = nil
	c.updatedAt = time.Now()

	if c.cancelled || errors.Is(err, context.Canceled) {
		c.cancelled = false
		c.state = StateIdle
		c.mode = ""
		c.image = ""
		c.lastErr = nil
		c.mu.Unlock()
		c.notify()
		c.log.Info().Dur("elapsed", elapsed).Msg("🛑 Compose cancelled")
		return "", ErrCancelled
	}

	if err != nil {
		c.state = StateFailed
		c.lastErr = err
		c.image = ""
		c.mu.Unlock()
		c.notify()
		c.log.Error().Err(err).Str("kind", string(gemini.KindOf(err))).Dur("elapsed", elapsed).Msg("❌ Compose failed")
		return "", err
	}

	uri := payload.DataURI()
	c.state = StateDone
	c.image = uri
	c.mu.Unlock()
	c.notify()
	c.log.Info().Str("mime", payload.MIMEType).Dur("elapsed", elapsed).Msg("✅ Compose completed")
	return uri, nil
}

// Cancel - 진행 중인 요청 취소 (처리 중이 아니면 false)
func (c *Compositor) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Busy() || c.cancel == nil {
		return false
	}
	c.cancelled = true
	c.cancel()
	c.log.Info().Str("state", string(c.state)).Msg("🛑 Cancel requested")
	return true
}

// Acknowledge - Done / Failed 결과 확인 후 Idle 로 (처리 중이면 false)
func (c *Compositor) Acknowledge() bool {
	c.mu.Lock()
	if c.state != StateDone && c.state != StateFailed {
		c.mu.Unlock()
		return false
	}
	c.state = StateIdle
	c.mode = ""
	c.image = ""
	c.lastErr = nil
	c.updatedAt = time.Now()
	c.mu.Unlock()
	c.notify()
	return true
}

// Snapshot - 현재 상태 복사본
func (c *Compositor) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Compositor) snapshotLocked() Snapshot {
	return Snapshot{
		State:      c.state,
		InProgress: c.state.Busy(),
		Mode:       c.mode,
		Image:      c.image,
		Error:      NewErrorView(c.lastErr),
		UpdatedAt:  c.updatedAt,
	}
}

// Subscribe - 상태 변경 알림 등록, 반환된 함수로 해제
func (c *Compositor) Subscribe(fn func(Snapshot)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Subscribers - 등록된 구독자 수
func (c *Compositor) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (c *Compositor) transition(state State, mode model.Mode) {
	c.mu.Lock()
	c.state = state
	c.mode = mode
	c.updatedAt = time.Now()
	c.mu.Unlock()
	c.notify()
}

// notify - 락 밖에서 구독자 호출
func (c *Compositor) notify() {
	c.mu.Lock()
	snap := c.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
