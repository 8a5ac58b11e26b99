package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"fitting-studio-server/modules/common/cancel"
	"fitting-studio-server/modules/common/config"
	"fitting-studio-server/modules/common/database"
	"fitting-studio-server/modules/common/fallback"
	"fitting-studio-server/modules/common/gemini"
	"fitting-studio-server/modules/common/ingest"
	"fitting-studio-server/modules/common/logger"
	"fitting-studio-server/modules/common/model"
	"fitting-studio-server/modules/common/redis"
	"fitting-studio-server/modules/common/utils"
	"fitting-studio-server/modules/common/vertexai"
	"fitting-studio-server/modules/coordinator"
	"fitting-studio-server/modules/fitting"
)

const (
	cleanupInterval = 5 * time.Minute
	sessionMaxAge   = 24 * time.Hour
	sessionIdleTTL  = 30 * time.Minute
	fetchTimeout    = 30 * time.Second
)

// CORS 헤더 추가
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// 헬스 체크 엔드포인트
func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "fitting-studio",
	})
}

// 서버 메트릭 조회 엔드포인트
func metricsHandler(registry *fitting.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics := registry.Metrics()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"uptime":         time.Since(metrics.StartTime).String(),
			"startTime":      metrics.StartTime,
			"totalSessions":  metrics.TotalSessions,
			"activeSessions": metrics.ActiveSessions,
		})
	}
}

func newRasterizer(cfg *config.Config, client *http.Client, log zerolog.Logger) ingest.Rasterizer {
	if cfg.Rasterizer == "browser" {
		log.Info().Msg("🌐 Using headless browser rasterizer")
		return ingest.NewBrowserRasterizer(fetchTimeout, log)
	}
	return utils.NewDecodeRasterizer(client, log)
}

func main() {
	// 환경변수 로드
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.New("production").Fatal().Err(err).Msg("❌ Failed to load config")
	}
	log := logger.New(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := gemini.Options{
		APIKey:   cfg.GeminiAPIKey,
		Backend:  cfg.GeminiBackend,
		Project:  cfg.VertexProject,
		Location: cfg.VertexLocation,
	}
	if cfg.GeminiBackend == "vertex" {
		creds, err := vertexai.Credentials(vertexai.Source{
			JSON: cfg.VertexCredentialsJSON,
			Path: cfg.VertexCredentialsPath,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("❌ Failed to load Vertex AI credentials")
		}
		opts.Credentials = creds
	}

	invoker, err := gemini.NewInvoker(ctx, opts, log)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to initialize Gemini invoker")
	}

	scheduler := fallback.NewScheduler(invoker, fallback.Options{
		MaxRetriesPerModel: cfg.MaxRetriesPerModel,
	}, log)

	httpClient := &http.Client{Timeout: fetchTimeout}
	ingestor, err := ingest.NewIngestor(cfg.StorefrontOrigin, httpClient, newRasterizer(cfg, httpClient, log), log)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to initialize image ingestor")
	}

	models := cfg.ModelLists()
	registry := fitting.NewRegistry(func() *fitting.Compositor {
		return fitting.NewCompositor(ingestor, scheduler, models, cfg.PerRequestTimeout(), log)
	}, log)

	// 정리 루틴 시작
	registry.StartCleanupRoutine(ctx, cleanupInterval, sessionMaxAge, sessionIdleTTL)

	// Redis 취소 전파 (선택)
	var publisher fitting.CancelPublisher
	if cfg.RedisEnabled() {
		rdb, err := redis.Connect(ctx, cfg, log)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Redis unavailable, cancel stays local to this instance")
		} else {
			defer rdb.Close()
			bus := cancel.NewBus(rdb, log)
			publisher = bus
			go func() {
				err := bus.Listen(ctx, func(sessionID string) { registry.Cancel(sessionID) })
				if err != nil && !errors.Is(err, context.Canceled) {
					log.Error().Err(err).Msg("❌ Cancel listener stopped")
				}
			}()
		}
	}

	// 카탈로그 (Supabase 가 없으면 빈 카탈로그 - 요청 바디의 products 사용)
	var catalog coordinator.Catalog = database.StaticCatalog{}
	if cfg.SupabaseEnabled() {
		client, err := database.NewClient(cfg, log)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Supabase client unavailable, using request catalogs only")
		} else {
			catalog = client
		}
	}

	coordinatorService := coordinator.NewService(scheduler, models.For(model.ModelListCoordinator), log)

	// 라우터 설정
	r := mux.NewRouter()

	// CORS 미들웨어 적용
	r.Use(enableCORS)

	r.HandleFunc("/", healthCheck).Methods("GET")
	r.HandleFunc("/health", healthCheck).Methods("GET")
	r.HandleFunc("/metrics", metricsHandler(registry)).Methods("GET")

	fitting.NewHandler(registry, publisher, log).RegisterRoutes(r)
	coordinator.NewHandler(coordinatorService, catalog, log).RegisterRoutes(r)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("❌ Graceful shutdown failed")
		}
	}()

	log.Info().Str("port", cfg.Port).Msg("🚀 Fitting Studio Server starting")
	log.Info().Msgf("📡 WebSocket endpoint: ws://localhost:%s/ws/studio", cfg.Port)
	log.Info().Msgf("❤️  Health check: http://localhost:%s/health", cfg.Port)
	log.Info().Msgf("📊 Metrics: http://localhost:%s/metrics", cfg.Port)

	// 서버 시작
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed to start")
	}
	log.Info().Msg("👋 Server stopped")
}
