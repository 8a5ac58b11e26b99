package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"fitting-studio-server/modules/common/model"
)

// Config 구조체 - 모든 환경변수를 담음
type Config struct {
	AppEnv string `env:"APP_ENV" env-default:"development"`
	Port   string `env:"PORT" env-default:"8080"`

	// Gemini / Vertex
	GeminiAPIKey   string `env:"GEMINI_API_KEY"`
	GeminiBackend  string `env:"GEMINI_BACKEND" env-default:"gemini"`
	VertexProject  string `env:"VERTEX_PROJECT"`
	VertexLocation string `env:"VERTEX_LOCATION" env-default:"us-central1"`

	// 서비스 계정 JSON (Render 배포용) 또는 파일 경로 (로컬)
	VertexCredentialsJSON string `env:"VERTEXAI_CREDENTIALS_JSON"`
	VertexCredentialsPath string `env:"VERTEXAI_CREDENTIALS_PATH"`

	// 모드별 모델 우선순위 (앞쪽이 우선)
	ModelsGenerate    []string `env:"MODELS_GENERATE" env-separator:"," env-default:"gemini-2.5-flash-image,gemini-2.0-flash-preview-image-generation"`
	ModelsEdit        []string `env:"MODELS_EDIT" env-separator:"," env-default:"gemini-2.5-flash-image,gemini-2.0-flash-preview-image-generation"`
	ModelsTryOn       []string `env:"MODELS_TRY_ON" env-separator:"," env-default:"gemini-2.5-flash-image,gemini-2.0-flash-preview-image-generation"`
	ModelsCoordinator []string `env:"MODELS_COORDINATOR" env-separator:"," env-default:"gemini-2.5-flash,gemini-2.0-flash"`

	MaxRetriesPerModel  int `env:"MAX_RETRIES_PER_MODEL" env-default:"2"`
	PerRequestTimeoutMs int `env:"PER_REQUEST_TIMEOUT_MS" env-default:"120000"`

	// Image Ingestor
	StorefrontOrigin string `env:"STOREFRONT_ORIGIN" env-default:"http://localhost:5173"`
	Rasterizer       string `env:"RASTERIZER" env-default:"decode"`

	// Redis (선택 - 없으면 로컬 취소만 동작)
	RedisHost     string `env:"REDIS_HOST"`
	RedisPort     string `env:"REDIS_PORT" env-default:"6379"`
	RedisUsername string `env:"REDIS_USERNAME"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisUseTLS   bool   `env:"REDIS_USE_TLS" env-default:"true"`

	// Supabase (선택 - 카탈로그 조회)
	SupabaseURL        string `env:"SUPABASE_URL"`
	SupabaseServiceKey string `env:"SUPABASE_SERVICE_KEY"`
	CatalogTable       string `env:"CATALOG_TABLE" env-default:"products"`
}

// LoadConfig - 환경변수 로드 (.env 파일이 있으면 먼저 읽음)
func LoadConfig() (*Config, error) {
	// .env 파일은 없어도 됨
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalize - 모델 리스트 공백/빈 항목 정리
func (c *Config) normalize() {
	c.ModelsGenerate = cleanList(c.ModelsGenerate)
	c.ModelsEdit = cleanList(c.ModelsEdit)
	c.ModelsTryOn = cleanList(c.ModelsTryOn)
	c.ModelsCoordinator = cleanList(c.ModelsCoordinator)
	c.GeminiAPIKey = strings.TrimSpace(c.GeminiAPIKey)
	c.StorefrontOrigin = strings.TrimRight(c.StorefrontOrigin, "/")
}

// validate - 설정값 검증
func (c *Config) validate() error {
	if c.GeminiBackend != "gemini" && c.GeminiBackend != "vertex" {
		return fmt.Errorf("GEMINI_BACKEND must be gemini or vertex, got %q", c.GeminiBackend)
	}
	if c.GeminiBackend == "vertex" && c.VertexProject == "" {
		return fmt.Errorf("VERTEX_PROJECT is required for the vertex backend")
	}
	if c.Rasterizer != "decode" && c.Rasterizer != "browser" {
		return fmt.Errorf("RASTERIZER must be decode or browser, got %q", c.Rasterizer)
	}
	if c.MaxRetriesPerModel < 0 {
		return fmt.Errorf("MAX_RETRIES_PER_MODEL must be >= 0")
	}
	if c.PerRequestTimeoutMs <= 0 {
		return fmt.Errorf("PER_REQUEST_TIMEOUT_MS must be > 0")
	}
	for key, list := range c.ModelLists() {
		if len(list) == 0 {
			return fmt.Errorf("model list for %s is empty", key)
		}
	}
	return nil
}

// ModelLists - 모드별 모델 리스트 맵
func (c *Config) ModelLists() model.ModelLists {
	return model.ModelLists{
		string(model.ModeGenerate):  c.ModelsGenerate,
		string(model.ModeEdit):      c.ModelsEdit,
		string(model.ModeTryOn):     c.ModelsTryOn,
		model.ModelListCoordinator: c.ModelsCoordinator,
	}
}

// PerRequestTimeout - compose 요청 타임아웃
func (c *Config) PerRequestTimeout() time.Duration {
	return time.Duration(c.PerRequestTimeoutMs) * time.Millisecond
}

// GetRedisAddr - Redis 연결 문자열 생성
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// RedisEnabled - Redis 설정 여부
func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

// SupabaseEnabled - Supabase 카탈로그 사용 여부
func (c *Config) SupabaseEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
