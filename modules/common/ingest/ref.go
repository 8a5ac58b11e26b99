package ingest

import (
	"fmt"
	"strings"

	"fitting-studio-server/modules/common/gemini"
	"fitting-studio-server/modules/common/model"
)

// RefKind - 이미지 참조 종류
type RefKind int

const (
	RefPath    RefKind = iota + 1 // "/assets/shirt.png" (storefront 기준 경로)
	RefURL                        // "https://cdn.example.com/a.jpg"
	RefDataURI                    // "data:image/png;base64,...."
	RefPayload                    // 이미 변환된 payload
)

func (k RefKind) String() string {
	switch k {
	case RefPath:
		return "path"
	case RefURL:
		return "url"
	case RefDataURI:
		return "data-uri"
	case RefPayload:
		return "payload"
	}
	return "invalid"
}

// Ref - 이미지 참조 (tagged value)
type Ref struct {
	Kind    RefKind
	Value   string
	Payload model.ImagePayload
}

// ParseRef - 문자열을 Ref 로 분류
func ParseRef(s string) (Ref, error) {
	v := strings.TrimSpace(s)
	lower := strings.ToLower(v)

	switch {
	case v == "":
		return Ref{}, gemini.NewError(gemini.KindMalformedInput, "empty image reference", nil)
	case strings.HasPrefix(lower, "data:"):
		return Ref{Kind: RefDataURI, Value: v}, nil
	case strings.HasPrefix(v, "//"), strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return Ref{Kind: RefURL, Value: v}, nil
	case strings.HasPrefix(v, "/"):
		return Ref{Kind: RefPath, Value: v}, nil
	}
	return Ref{}, gemini.NewError(gemini.KindMalformedInput, fmt.Sprintf("unsupported image reference %q", truncate(v, 40)), nil)
}

// PayloadRef - 이미 변환된 payload 를 Ref 로 감싸기
func PayloadRef(p model.ImagePayload) Ref {
	return Ref{Kind: RefPayload, Payload: p}
}

// ParseDataURI - "data:<mime>;base64,<data>" 를 첫 번째 콤마 기준으로 분리
func ParseDataURI(uri string) (model.ImagePayload, error) {
	header, data, ok := strings.Cut(strings.TrimSpace(uri), ",")
	if !ok {
		return model.ImagePayload{}, gemini.NewError(gemini.KindMalformedInput, "data URI has no payload", nil)
	}

	meta, found := strings.CutPrefix(header, "data:")
	if !found {
		return model.ImagePayload{}, gemini.NewError(gemini.KindMalformedInput, "data URI missing data: scheme", nil)
	}
	mimeType, encoding, _ := strings.Cut(meta, ";")
	if !strings.EqualFold(encoding, "base64") {
		return model.ImagePayload{}, gemini.NewError(gemini.KindMalformedInput, "data URI is not base64 encoded", nil)
	}

	payload := model.ImagePayload{MIMEType: strings.ToLower(mimeType), Data: data}
	if err := validatePayload(payload); err != nil {
		return model.ImagePayload{}, err
	}
	return payload, nil
}

func validatePayload(p model.ImagePayload) error {
	if !p.IsImage() {
		return gemini.NewError(gemini.KindMalformedInput, fmt.Sprintf("mime %q is not an image", p.MIMEType), nil)
	}
	if p.Data == "" {
		return gemini.NewError(gemini.KindMalformedInput, "image payload is empty", nil)
	}
	if strings.HasPrefix(p.Data, "data:") || strings.Contains(p.Data, ",") {
		return gemini.NewError(gemini.KindMalformedInput, "image payload still carries a data URI prefix", nil)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
