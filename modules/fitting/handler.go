package fitting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"fitting-studio-server/modules/common/gemini"
	"fitting-studio-server/modules/common/ingest"
)

// StatusClientClosedRequest - 사용자가 취소한 요청 (nginx 499)
const StatusClientClosedRequest = 499

// CancelPublisher - 다른 인스턴스로 취소 전파 (cancel.Bus)
type CancelPublisher interface {
	PublishCancel(ctx context.Context, sessionID string) error
}

// Handler - Studio API 핸들러
type Handler struct {
	registry  *Registry
	publisher CancelPublisher
	validate  *validator.Validate
	log       zerolog.Logger
}

// NewHandler - publisher 는 nil 가능 (Redis 미설정)
func NewHandler(registry *Registry, publisher CancelPublisher, log zerolog.Logger) *Handler {
	return &Handler{
		registry:  registry,
		publisher: publisher,
		validate:  validator.New(),
		log:       log,
	}
}

// RegisterRoutes - 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/studio/sessions", h.CreateSession).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/studio/{sessionId}/compose", h.Compose).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/studio/{sessionId}/cancel", h.Cancel).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/studio/{sessionId}/acknowledge", h.Acknowledge).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/studio/{sessionId}", h.GetSnapshot).Methods("GET")
	r.HandleFunc("/ws/studio", h.HandleStream)
	h.log.Info().Msg("✅ [Studio] Routes registered: /api/studio/*, /ws/studio")
}

// CreateSession - 새 세션 ID 발급
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	session := h.registry.GetOrCreate(uuid.NewString())
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"sessionId": session.ID,
		"snapshot":  session.Compositor.Snapshot(),
	})
}

// Compose - try-on / edit / generate 실행 (동기)
func (h *Handler) Compose(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	sessionID, ok := h.sessionID(w, mux.Vars(r)["sessionId"])
	if !ok {
		return
	}

	var body ComposeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Kind: gemini.KindMalformedInput})
		return
	}
	if err := h.validate.Struct(body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: gemini.KindMalformedInput})
		return
	}

	req, err := toComposeRequest(body)
	if err != nil {
		h.writeError(w, err)
		return
	}

	session := h.registry.GetOrCreate(sessionID)
	h.log.Info().
		Str("session", sessionID).
		Bool("photo", req.UserPhoto != nil).
		Bool("garment", req.Garment != nil).
		Msg("🎨 [Studio] Compose requested")

	image, err := session.Compositor.Compose(r.Context(), req)
	session.touch()
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ComposeResponse{
		SessionID: sessionID,
		Mode:      session.Compositor.Snapshot().Mode,
		Image:     image,
	})
}

// Cancel - 진행 중인 요청 취소 (Redis 가 있으면 다른 인스턴스에도 전파)
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	sessionID, ok := h.sessionID(w, mux.Vars(r)["sessionId"])
	if !ok {
		return
	}

	h.log.Info().Str("session", sessionID).Msg("🛑 [Studio] Cancel requested")

	cancelled, published := h.cancelSession(r.Context(), sessionID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId": sessionID,
		"cancelled": cancelled,
		"published": published,
	})
}

// cancelSession - 로컬 취소 후 Redis 로 전파
func (h *Handler) cancelSession(ctx context.Context, sessionID string) (cancelled, published bool) {
	cancelled = h.registry.Cancel(sessionID)
	if h.publisher == nil {
		return cancelled, false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.publisher.PublishCancel(ctx, sessionID); err != nil {
		h.log.Error().Err(err).Str("session", sessionID).Msg("❌ [Studio] Failed to publish cancel")
		return cancelled, false
	}
	return cancelled, true
}

// Acknowledge - 결과 확인 후 Idle 로
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	sessionID, ok := h.sessionID(w, mux.Vars(r)["sessionId"])
	if !ok {
		return
	}

	session, exists := h.registry.Get(sessionID)
	if !exists {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "session not found"})
		return
	}

	acknowledged := session.Compositor.Acknowledge()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"acknowledged": acknowledged,
		"snapshot":     session.Compositor.Snapshot(),
	})
}

// GetSnapshot - 세션 상태 조회
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, mux.Vars(r)["sessionId"])
	if !ok {
		return
	}

	session, exists := h.registry.Get(sessionID)
	if !exists {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, session.Compositor.Snapshot())
}

func (h *Handler) sessionID(w http.ResponseWriter, raw string) (string, bool) {
	id := strings.TrimSpace(raw)
	if err := h.validate.Var(id, "required,printascii,max=128"); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid session id", Kind: gemini.KindMalformedInput})
		return "", false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBusy):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "이미 처리 중인 요청이 있습니다."})
		return
	case errors.Is(err, ErrCancelled):
		writeJSON(w, StatusClientClosedRequest, ErrorResponse{Error: "요청이 취소되었습니다.", Cancelled: true})
		return
	}

	view := NewErrorView(err)
	writeJSON(w, statusForKind(view.Kind), ErrorResponse{
		Error:             view.Message,
		Kind:              view.Kind,
		RetryAfterSeconds: view.RetryAfterSeconds,
	})
}

func statusForKind(kind gemini.ErrorKind) int {
	switch kind {
	case gemini.KindMalformedInput:
		return http.StatusBadRequest
	case gemini.KindSafetyBlocked:
		return http.StatusUnprocessableEntity
	case gemini.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case gemini.KindNetwork, gemini.KindModelNotFound:
		return http.StatusBadGateway
	case gemini.KindAuthInvalid:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func toComposeRequest(body ComposeBody) (ComposeRequest, error) {
	req := ComposeRequest{Instruction: body.Instruction}
	if strings.TrimSpace(body.UserPhoto) != "" {
		ref, err := ingest.ParseRef(body.UserPhoto)
		if err != nil {
			return ComposeRequest{}, err
		}
		req.UserPhoto = &ref
	}
	if strings.TrimSpace(body.Garment) != "" {
		ref, err := ingest.ParseRef(body.Garment)
		if err != nil {
			return ComposeRequest{}, err
		}
		req.Garment = &ref
	}
	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
