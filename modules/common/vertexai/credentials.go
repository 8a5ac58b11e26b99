package vertexai

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"cloud.google.com/go/auth"
	"cloud.google.com/go/auth/credentials"
	"github.com/rs/zerolog"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// Source - 서비스 계정 자격증명 위치
// JSON (배포 환경 변수) > Path (로컬 파일) > ADC 순으로 사용
type Source struct {
	JSON string
	Path string
}

// Credentials - Vertex 백엔드용 자격증명 생성
// JSON / Path 가 모두 비어 있으면 nil 을 반환하고 genai 가 ADC 를 사용
func Credentials(src Source, log zerolog.Logger) (*auth.Credentials, error) {
	var raw []byte
	switch {
	case src.JSON != "":
		log.Info().Msg("✅ [VertexAI] Using credentials JSON from environment")
		raw = []byte(src.JSON)
	case src.Path != "":
		log.Info().Str("path", src.Path).Msg("✅ [VertexAI] Using credentials file")
		data, err := os.ReadFile(src.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		raw = data
	default:
		log.Warn().Msg("⚠️ [VertexAI] No explicit credentials found, using Application Default Credentials")
		return nil, nil
	}

	if !json.Valid(raw) {
		return nil, errors.New("invalid JSON credentials")
	}

	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		Scopes:          []string{cloudPlatformScope},
		CredentialsJSON: raw,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load Vertex AI credentials: %w", err)
	}
	return creds, nil
}
