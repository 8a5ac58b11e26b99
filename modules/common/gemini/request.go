package gemini

import (
	"google.golang.org/genai"

	"fitting-studio-server/modules/common/model"
)

// Part - 요청 파트 (이미지 또는 텍스트 중 하나)
type Part struct {
	Image *model.ImagePayload
	Text  string
}

// ImagePart - 인라인 이미지 파트
func ImagePart(p model.ImagePayload) Part {
	return Part{Image: &p}
}

// TextPart - 텍스트 파트
func TextPart(text string) Part {
	return Part{Text: text}
}

// Request - 한 번의 생성 요청
type Request struct {
	Parts              []Part
	Safety             []*genai.SafetySetting
	ResponseModalities []string
	ResponseMIMEType   string
	ResponseSchema     *genai.Schema
}

// PermissiveSafety - 표준 4개 카테고리 모두 BLOCK_NONE
func PermissiveSafety() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	settings := make([]*genai.SafetySetting, 0, len(categories))
	for _, c := range categories {
		settings = append(settings, &genai.SafetySetting{
			Category:  c,
			Threshold: genai.HarmBlockThresholdBlockNone,
		})
	}
	return settings
}

// NewImageRequest - 이미지 우선(텍스트 허용) 요청 생성
// parts 는 이미지 먼저, 텍스트 마지막 순서로 전달
func NewImageRequest(parts ...Part) *Request {
	return &Request{
		Parts:              parts,
		Safety:             PermissiveSafety(),
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}
}

// NewJSONRequest - structured output (application/json + schema) 요청 생성
func NewJSONRequest(prompt string, schema *genai.Schema) *Request {
	return &Request{
		Parts:            []Part{TextPart(prompt)},
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	}
}

// NewTextRequest - 일반 텍스트 요청 생성
func NewTextRequest(prompt string) *Request {
	return &Request{Parts: []Part{TextPart(prompt)}}
}

// OutcomeKind - 생성 결과 종류
type OutcomeKind int

const (
	OutcomeImage OutcomeKind = iota
	OutcomeText
	OutcomeError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeImage:
		return "image"
	case OutcomeText:
		return "text"
	default:
		return "error"
	}
}

// Outcome - Invoke 결과 (Image / TextOnly / Error)
type Outcome struct {
	Kind  OutcomeKind
	Image model.ImagePayload
	Text  string
	Err   *Error
}

// ImageOutcome - 이미지 결과
func ImageOutcome(p model.ImagePayload) Outcome {
	return Outcome{Kind: OutcomeImage, Image: p}
}

// TextOutcome - 텍스트만 반환된 결과 (이미지 요청에서는 거부로 간주)
func TextOutcome(text string) Outcome {
	return Outcome{Kind: OutcomeText, Text: text}
}

// ErrorOutcome - 에러 결과
func ErrorOutcome(err *Error) Outcome {
	return Outcome{Kind: OutcomeError, Err: err}
}
