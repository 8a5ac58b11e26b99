package fitting

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"fitting-studio-server/modules/common/fallback"
	"fitting-studio-server/modules/common/gemini"
	"fitting-studio-server/modules/common/ingest"
	"fitting-studio-server/modules/common/logger"
	"fitting-studio-server/modules/common/model"
)

// 1x1 PNG
const shirtPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

type generatorCall struct {
	model    string
	contents []*genai.Content
}

// scriptedGenerator - 모델 이름별 응답 함수
type scriptedGenerator struct {
	mu      sync.Mutex
	replies map[string]func(ctx context.Context) (*genai.GenerateContentResponse, error)
	calls   []generatorCall
}

func (g *scriptedGenerator) GenerateContent(ctx context.Context, modelID string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	g.mu.Lock()
	g.calls = append(g.calls, generatorCall{model: modelID, contents: contents})
	reply := g.replies[modelID]
	g.mu.Unlock()

	if reply == nil {
		return nil, genai.APIError{Code: http.StatusNotFound, Status: "NOT_FOUND", Message: "model not found"}
	}
	return reply(ctx)
}

func (g *scriptedGenerator) models() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.calls))
	for _, c := range g.calls {
		out = append(out, c.model)
	}
	return out
}

func inlineImage(t *testing.T, mime, b64 string) func(context.Context) (*genai.GenerateContentResponse, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	return func(context.Context) (*genai.GenerateContentResponse, error) {
		return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{InlineData: &genai.Blob{MIMEType: mime, Data: raw}}}},
		}}}, nil
	}
}

func textOnly(text string) func(context.Context) (*genai.GenerateContentResponse, error) {
	return func(context.Context) (*genai.GenerateContentResponse, error) {
		return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: text}}},
		}}}, nil
	}
}

type studio struct {
	compositor *Compositor
	generator  *scriptedGenerator
	waits      *[]time.Duration
}

func newStudio(t *testing.T, gen *scriptedGenerator, timeout time.Duration) studio {
	t.Helper()

	pixel, err := base64.StdEncoding.DecodeString(shirtPNG)
	require.NoError(t, err)
	storefront := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/assets/shirt.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pixel)
	}))
	t.Cleanup(storefront.Close)

	ing, err := ingest.NewIngestor(storefront.URL, storefront.Client(), nil, logger.Nop())
	require.NoError(t, err)

	waits := []time.Duration{}
	scheduler := fallback.NewScheduler(
		gemini.NewInvokerWithGenerator(gen, logger.Nop()),
		fallback.Options{
			MaxRetriesPerModel: 2,
			Sleep: func(ctx context.Context, d time.Duration) error {
				waits = append(waits, d)
				return ctx.Err()
			},
		},
		logger.Nop(),
	)

	lists := model.ModelLists{
		string(model.ModeTryOn):    {"M1", "M2"},
		string(model.ModeEdit):     {"M1", "M2"},
		string(model.ModeGenerate): {"M1", "M2"},
	}
	return studio{
		compositor: NewCompositor(ing, scheduler, lists, timeout, logger.Nop()),
		generator:  gen,
		waits:      &waits,
	}
}

func ref(t *testing.T, s string) *ingest.Ref {
	t.Helper()
	r, err := ingest.ParseRef(s)
	require.NoError(t, err)
	return &r
}

func tryOnRequest(t *testing.T) ComposeRequest {
	return ComposeRequest{
		UserPhoto:   ref(t, "data:image/jpeg;base64,AAAA"),
		Garment:     ref(t, "/assets/shirt.png"),
		Instruction: "앞모습으로 자연스럽게",
	}
}

func TestComposeTryOnFirstModel(t *testing.T) {
	gen := &scriptedGenerator{replies: map[string]func(context.Context) (*genai.GenerateContentResponse, error){
		"M1": inlineImage(t, "image/png", "ZZZZ"),
	}}
	s := newStudio(t, gen, time.Minute)

	var states []State
	s.compositor.Subscribe(func(snap Snapshot) { states = append(states, snap.State) })

	uri, err := s.compositor.Compose(context.Background(), tryOnRequest(t))

	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,ZZZZ", uri)
	assert.Equal(t, []string{"M1"}, gen.models())

	parts := gen.calls[0].contents[0].Parts
	require.Len(t, parts, 3)
	require.NotNil(t, parts[0].InlineData)
	assert.Equal(t, "image/jpeg", parts[0].InlineData.MIMEType)
	assert.Equal(t, []byte{0, 0, 0}, parts[0].InlineData.Data)
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, "image/png", parts[1].InlineData.MIMEType)
	assert.Equal(t, shirtPNG, base64.StdEncoding.EncodeToString(parts[1].InlineData.Data))
	assert.Contains(t, parts[2].Text, "앞모습으로 자연스럽게")
	assert.Contains(t, parts[2].Text, "identity")
	assert.Contains(t, parts[2].Text, "PERSON")

	snap := s.compositor.Snapshot()
	assert.Equal(t, StateDone, snap.State)
	assert.Equal(t, model.ModeTryOn, snap.Mode)
	assert.Equal(t, uri, snap.Image)
	assert.Nil(t, snap.Error)
	assert.Equal(t, []State{StateIngesting, StatePrompting, StateRunning, StateDone}, states)
}

func TestComposeQuotaCascadeDoesNotWait(t *testing.T) {
	gen := &scriptedGenerator{replies: map[string]func(context.Context) (*genai.GenerateContentResponse, error){
		"M1": func(context.Context) (*genai.GenerateContentResponse, error) {
			return nil, genai.APIError{
				Code:   http.StatusTooManyRequests,
				Status: "RESOURCE_EXHAUSTED",
				Details: []map[string]any{
					{"@type": "type.googleapis.com/google.rpc.QuotaFailure", "violations": []any{
						map[string]any{"quotaDimensions": map[string]any{"limit": float64(0)}},
					}},
					{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "5s"},
				},
			}
		},
		"M2": inlineImage(t, "image/png", "YYYY"),
	}}
	s := newStudio(t, gen, time.Minute)

	uri, err := s.compositor.Compose(context.Background(), tryOnRequest(t))

	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,YYYY", uri)
	assert.Equal(t, []string{"M1", "M2"}, gen.models())
	assert.Empty(t, *s.waits)
}

func TestComposeAllTextRefusal(t *testing.T) {
	gen := &scriptedGenerator{replies: map[string]func(context.Context) (*genai.GenerateContentResponse, error){
		"M1": textOnly("cannot depict identifiable person"),
		"M2": textOnly("cannot depict identifiable person"),
	}}
	s := newStudio(t, gen, time.Minute)

	_, err := s.compositor.Compose(context.Background(), tryOnRequest(t))

	require.Error(t, err)
	assert.Equal(t, gemini.KindSafetyBlocked, gemini.KindOf(err))

	snap := s.compositor.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.Empty(t, snap.Image)
	require.NotNil(t, snap.Error)
	assert.Equal(t, gemini.KindSafetyBlocked, snap.Error.Kind)
	assert.Contains(t, snap.Error.Message, "cannot depict identifiable person")
}

func TestComposeEditMode(t *testing.T) {
	gen := &scriptedGenerator{replies: map[string]func(context.Context) (*genai.GenerateContentResponse, error){
		"M1": inlineImage(t, "image/png", "ZZZZ"),
	}}
	s := newStudio(t, gen, time.Minute)

	_, err := s.compositor.Compose(context.Background(), ComposeRequest{
		UserPhoto:   ref(t, "data:image/png;base64,PPPP"),
		Instruction: "배경을 해변으로",
	})
	require.NoError(t, err)

	assert.Equal(t, model.ModeEdit, s.compositor.Snapshot().Mode)
	parts := gen.calls[0].contents[0].Parts
	require.Len(t, parts, 2)
	require.NotNil(t, parts[0].InlineData)
	assert.Equal(t, "image/png", parts[0].InlineData.MIMEType)
	assert.Contains(t, parts[1].Text, "EDIT")
	assert.Contains(t, parts[1].Text, "배경을 해변으로")
	assert.NotContains(t, parts[1].Text, "TRY-ON")
	assert.NotContains(t, parts[1].Text, "identity")
}

func TestComposeIngestFailureIsFailed(t *testing.T) {
	gen := &scriptedGenerator{}
	s := newStudio(t, gen, time.Minute)

	_, err := s.compositor.Compose(context.Background(), ComposeRequest{
		UserPhoto: ref(t, "data:image/jpeg;base64,AAAA"),
		Garment:   ref(t, "/assets/missing.png"),
	})

	assert.Equal(t, gemini.KindNetwork, gemini.KindOf(err))
	assert.Equal(t, StateFailed, s.compositor.Snapshot().State)
	assert.Empty(t, gen.models(), "no model call after ingestion failure")
}

func TestComposeTimeoutIsNetwork(t *testing.T) {
	gen := &scriptedGenerator{replies: map[string]func(context.Context) (*genai.GenerateContentResponse, error){
		"M1": func(ctx context.Context) (*genai.GenerateContentResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}}
	s := newStudio(t, gen, 30*time.Millisecond)

	_, err := s.compositor.Compose(context.Background(), tryOnRequest(t))

	assert.Equal(t, gemini.KindNetwork, gemini.KindOf(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, StateFailed, s.compositor.Snapshot().State)
}

// blockingRunner - release 가 닫히거나 ctx 가 끝날 때까지 대기
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
	calls   int
	mu      sync.Mutex
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan struct{}, 4), release: make(chan struct{})}
}

func (b *blockingRunner) Run(ctx context.Context, models []string, build fallback.RequestBuilder) (model.ImagePayload, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	b.started <- struct{}{}
	select {
	case <-ctx.Done():
		return model.ImagePayload{}, ctx.Err()
	case <-b.release:
		return model.ImagePayload{MIMEType: "image/png", Data: "QUJD"}, nil
	}
}

type passIngester struct{}

func (passIngester) Ingest(ctx context.Context, r ingest.Ref) (model.ImagePayload, error) {
	return model.ImagePayload{MIMEType: "image/png", Data: "AAAA"}, nil
}

func TestComposeRejectsConcurrentRequest(t *testing.T) {
	runner := newBlockingRunner()
	c := NewCompositor(passIngester{}, runner, model.ModelLists{}, time.Minute, logger.Nop())

	type result struct {
		uri string
		err error
	}
	done := make(chan result, 1)
	go func() {
		uri, err := c.Compose(context.Background(), ComposeRequest{Instruction: "first"})
		done <- result{uri, err}
	}()
	<-runner.started

	_, err := c.Compose(context.Background(), ComposeRequest{Instruction: "second"})
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, StateRunning, c.Snapshot().State)
	assert.True(t, c.Snapshot().InProgress)

	close(runner.release)
	first := <-done
	require.NoError(t, first.err)
	assert.Equal(t, "data:image/png;base64,QUJD", first.uri)
	assert.Equal(t, 1, runner.calls)
}

func TestCancelReturnsToIdleAndAllowsNextCompose(t *testing.T) {
	runner := newBlockingRunner()
	c := NewCompositor(passIngester{}, runner, model.ModelLists{}, time.Minute, logger.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := c.Compose(context.Background(), ComposeRequest{})
		done <- err
	}()
	<-runner.started

	assert.True(t, c.Cancel())
	assert.ErrorIs(t, <-done, ErrCancelled)

	snap := c.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.False(t, snap.InProgress)
	assert.Empty(t, snap.Image)
	assert.Nil(t, snap.Error)
	assert.False(t, c.Cancel(), "nothing left to cancel")

	close(runner.release)
	uri, err := c.Compose(context.Background(), ComposeRequest{})
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,QUJD", uri)
}

func TestAcknowledgeResetsResolvedState(t *testing.T) {
	runner := newBlockingRunner()
	close(runner.release)
	c := NewCompositor(passIngester{}, runner, model.ModelLists{}, time.Minute, logger.Nop())

	assert.False(t, c.Acknowledge(), "idle has nothing to acknowledge")

	_, err := c.Compose(context.Background(), ComposeRequest{})
	require.NoError(t, err)
	assert.Equal(t, StateDone, c.Snapshot().State)

	assert.True(t, c.Acknowledge())
	snap := c.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Empty(t, snap.Image)
}
