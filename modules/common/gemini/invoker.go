package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/auth"
	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"fitting-studio-server/modules/common/model"
)

const minAPIKeyLength = 10

// Generator - genai.Models 의 GenerateContent 시그니처
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Options - Invoker 생성 옵션
type Options struct {
	APIKey   string
	Backend  string // "gemini" | "vertex"
	Project  string
	Location string

	// Credentials - vertex 전용, nil 이면 ADC
	Credentials *auth.Credentials
}

// Invoker - 모델 1회 호출 (재시도 없음)
type Invoker struct {
	models Generator
	log    zerolog.Logger
}

// NewInvoker - genai 클라이언트로 Invoker 생성
// API 키가 없거나 너무 짧으면 AUTH_INVALID
func NewInvoker(ctx context.Context, opts Options, log zerolog.Logger) (*Invoker, error) {
	cc := &genai.ClientConfig{}
	switch opts.Backend {
	case "vertex":
		cc.Backend = genai.BackendVertexAI
		cc.Project = opts.Project
		cc.Location = opts.Location
		cc.Credentials = opts.Credentials
	default:
		key := strings.TrimSpace(opts.APIKey)
		if len(key) < minAPIKeyLength {
			return nil, NewError(KindAuthInvalid, "GEMINI_API_KEY is missing or too short", nil)
		}
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = key
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	log.Info().Str("backend", opts.Backend).Msg("✅ Genai client initialized")
	return NewInvokerWithGenerator(client.Models, log), nil
}

// NewInvokerWithGenerator - 임의의 Generator 로 Invoker 생성 (테스트용 포함)
func NewInvokerWithGenerator(g Generator, log zerolog.Logger) *Invoker {
	return &Invoker{models: g, log: log}
}

// Invoke - 모델 1회 호출 후 결과 분류
func (i *Invoker) Invoke(ctx context.Context, modelID string, req *Request) Outcome {
	content, err := buildContent(req)
	if err != nil {
		return ErrorOutcome(NewError(KindMalformedInput, "invalid request parts", err))
	}

	cfg := &genai.GenerateContentConfig{
		SafetySettings:     req.Safety,
		ResponseModalities: req.ResponseModalities,
		ResponseMIMEType:   req.ResponseMIMEType,
		ResponseSchema:     req.ResponseSchema,
	}

	started := time.Now()
	i.log.Debug().Str("model", modelID).Int("parts", len(req.Parts)).Msg("📤 Sending request to Gemini")

	resp, err := i.models.GenerateContent(ctx, modelID, []*genai.Content{content}, cfg)
	if err != nil {
		gerr := classifyError(ctx, err)
		i.log.Warn().
			Str("model", modelID).
			Str("kind", string(gerr.Kind)).
			Dur("retry_after", gerr.RetryAfter).
			Dur("elapsed", time.Since(started)).
			Err(err).
			Msg("❌ Gemini call failed")
		return ErrorOutcome(gerr)
	}

	out := classifyResponse(resp)
	i.log.Debug().
		Str("model", modelID).
		Str("outcome", out.Kind.String()).
		Dur("elapsed", time.Since(started)).
		Msg("📥 Gemini response received")
	return out
}

func buildContent(req *Request) (*genai.Content, error) {
	if req == nil || len(req.Parts) == 0 {
		return nil, errors.New("request has no parts")
	}

	parts := make([]*genai.Part, 0, len(req.Parts))
	for idx, p := range req.Parts {
		if p.Image == nil {
			parts = append(parts, genai.NewPartFromText(p.Text))
			continue
		}
		if strings.HasPrefix(p.Image.Data, "data:") || strings.Contains(p.Image.Data, ",") {
			return nil, fmt.Errorf("part %d: base64 payload still carries a data URI prefix", idx)
		}
		if !p.Image.IsImage() {
			return nil, fmt.Errorf("part %d: mime %q is not an image", idx, p.Image.MIMEType)
		}
		raw, err := base64.StdEncoding.DecodeString(p.Image.Data)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", idx, err)
		}
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: p.Image.MIMEType,
				Data:     raw,
			},
		})
	}

	return &genai.Content{Role: "user", Parts: parts}, nil
}

// classifyResponse - 응답에서 이미지 / 텍스트 추출
func classifyResponse(resp *genai.GenerateContentResponse) Outcome {
	if resp == nil {
		return ErrorOutcome(NewError(KindUnknown, "empty response", nil))
	}

	var texts []string
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				mime := part.InlineData.MIMEType
				if mime == "" {
					mime = "image/png"
				}
				return ImageOutcome(model.ImagePayload{
					MIMEType: mime,
					Data:     base64.StdEncoding.EncodeToString(part.InlineData.Data),
				})
			}
			if part.Text != "" && !part.Thought {
				texts = append(texts, part.Text)
			}
		}
	}

	if len(texts) > 0 {
		return TextOutcome(strings.Join(texts, "\n"))
	}

	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		reason := string(fb.BlockReason)
		if fb.BlockReasonMessage != "" {
			reason += ": " + fb.BlockReasonMessage
		}
		return ErrorOutcome(NewError(KindSafetyBlocked, "prompt blocked: "+reason, nil))
	}

	// 내용 없이 중단된 응답은 모델 텍스트가 아니므로 거부 에러로
	for _, candidate := range resp.Candidates {
		if candidate != nil && candidate.FinishReason != "" && candidate.FinishReason != genai.FinishReasonStop {
			return ErrorOutcome(NewError(KindSafetyBlocked, "generation stopped: "+string(candidate.FinishReason), nil))
		}
	}

	return ErrorOutcome(NewError(KindUnknown, "no image or text in response", nil))
}

// classifyError - transport 레벨 에러를 ErrorKind 로 분류
func classifyError(ctx context.Context, err error) *Error {
	if apiErr, ok := asAPIError(err); ok {
		return classifyAPIError(apiErr)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewError(KindNetwork, "request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewError(KindNetwork, "request cancelled", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewError(KindNetwork, "transport failure", err)
	}

	return NewError(KindUnknown, "unexpected error", err)
}

func asAPIError(err error) (genai.APIError, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return *apiErrPtr, true
	}
	return genai.APIError{}, false
}

func classifyAPIError(apiErr genai.APIError) *Error {
	status := strings.ToUpper(apiErr.Status)
	msg := apiErr.Message
	lower := strings.ToLower(msg)

	switch {
	case apiErr.Code == http.StatusTooManyRequests || status == "RESOURCE_EXHAUSTED":
		gerr := NewError(KindQuotaExceeded, msg, apiErr)
		gerr.RetryAfter = retryDelay(apiErr.Details)
		gerr.QuotaLimit = quotaLimit(apiErr.Details)
		return gerr

	case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden ||
		status == "UNAUTHENTICATED" || status == "PERMISSION_DENIED" ||
		errorInfoReason(apiErr.Details) == "API_KEY_INVALID":
		return NewError(KindAuthInvalid, msg, apiErr)

	case apiErr.Code == http.StatusNotFound || status == "NOT_FOUND":
		return NewError(KindModelNotFound, msg, apiErr)

	case apiErr.Code == http.StatusBadRequest &&
		(strings.Contains(lower, "not found") || strings.Contains(lower, "invalid model")):
		return NewError(KindModelNotFound, msg, apiErr)

	case apiErr.Code == http.StatusBadRequest || status == "INVALID_ARGUMENT":
		return NewError(KindMalformedInput, msg, apiErr)

	case apiErr.Code >= 500:
		return NewError(KindNetwork, msg, apiErr)
	}

	return NewError(KindUnknown, msg, apiErr)
}

// retryDelay - RetryInfo.retryDelay ("5s", "1.5s") 파싱
func retryDelay(details []map[string]any) time.Duration {
	for _, d := range details {
		if !detailIs(d, "google.rpc.RetryInfo") {
			continue
		}
		raw, ok := d["retryDelay"].(string)
		if !ok {
			continue
		}
		if dur, err := time.ParseDuration(raw); err == nil && dur > 0 {
			return dur
		}
	}
	return 0
}

// quotaLimit - QuotaFailure.violations[] 의 quotaValue 또는 quotaDimensions.limit
func quotaLimit(details []map[string]any) *int64 {
	for _, d := range details {
		if !detailIs(d, "google.rpc.QuotaFailure") {
			continue
		}
		violations, _ := d["violations"].([]any)
		for _, v := range violations {
			vm, ok := v.(map[string]any)
			if !ok {
				continue
			}
			if n, ok := toInt64(vm["quotaValue"]); ok {
				return &n
			}
			if dims, ok := vm["quotaDimensions"].(map[string]any); ok {
				if n, ok := toInt64(dims["limit"]); ok {
					return &n
				}
			}
		}
	}
	return nil
}

func errorInfoReason(details []map[string]any) string {
	for _, d := range details {
		if detailIs(d, "google.rpc.ErrorInfo") {
			if reason, ok := d["reason"].(string); ok {
				return reason
			}
		}
	}
	return ""
}

func detailIs(d map[string]any, typeName string) bool {
	t, _ := d["@type"].(string)
	return strings.HasSuffix(t, typeName)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return parsed, err == nil
	}
	return 0, false
}
