package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"fitting-studio-server/modules/common/model"
)

// Catalog - 상품 목록 소스 (database.Client, database.StaticCatalog)
type Catalog interface {
	ListProducts(ctx context.Context) ([]model.Product, error)
}

// Querier - Service.Query
type Querier interface {
	Query(ctx context.Context, text string, catalog []model.Product) (Result, error)
}

// Handler - 코디네이터 API 핸들러
type Handler struct {
	service  Querier
	catalog  Catalog
	validate *validator.Validate
	log      zerolog.Logger
}

// NewHandler - catalog 는 요청 바디에 products 가 없을 때 사용
func NewHandler(service Querier, catalog Catalog, log zerolog.Logger) *Handler {
	return &Handler{
		service:  service,
		catalog:  catalog,
		validate: validator.New(),
		log:      log,
	}
}

// RegisterRoutes - 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/coordinator/query", h.Query).Methods("POST", "OPTIONS")
	h.log.Info().Msg("✅ [Coordinator] Routes registered: /api/coordinator/query")
}

// Query - 자연어 검색 + 스타일링 추천
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	var body QueryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := h.validate.Struct(body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	catalog := body.Products
	if len(catalog) == 0 && h.catalog != nil {
		products, err := h.catalog.ListProducts(r.Context())
		if err != nil {
			h.log.Error().Err(err).Msg("❌ [Coordinator] Failed to load catalog")
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to load catalog"})
			return
		}
		catalog = products
	}

	h.log.Info().Str("query", body.Query).Int("catalog", len(catalog)).Msg("🔎 [Coordinator] Query received")

	result, err := h.service.Query(r.Context(), body.Query, catalog)
	switch {
	case errors.Is(err, ErrEmptyQuery):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, context.Canceled):
		h.log.Warn().Str("query", body.Query).Msg("🛑 [Coordinator] Query cancelled by client")
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
