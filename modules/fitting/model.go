package fitting

import (
	"errors"
	"time"

	"fitting-studio-server/modules/common/gemini"
	"fitting-studio-server/modules/common/ingest"
	"fitting-studio-server/modules/common/model"
)

// State - Compositor 상태
type State string

const (
	StateIdle      State = "IDLE"
	StateIngesting State = "INGESTING"
	StatePrompting State = "PROMPTING"
	StateRunning   State = "RUNNING"
	StateDone      State = "DONE"
	StateFailed    State = "FAILED"
)

// Busy - 요청 처리 중인 상태인지
func (s State) Busy() bool {
	return s == StateIngesting || s == StatePrompting || s == StateRunning
}

var (
	// ErrBusy - 이미 처리 중인 요청이 있을 때
	ErrBusy = errors.New("compose already in progress")
	// ErrCancelled - 사용자가 취소한 요청
	ErrCancelled = errors.New("compose cancelled")
)

// ComposeRequest - compose 입력 (사진/의류는 선택)
type ComposeRequest struct {
	UserPhoto   *ingest.Ref
	Garment     *ingest.Ref
	Instruction string
}

// ErrorView - 클라이언트에 노출하는 에러
type ErrorView struct {
	Kind              gemini.ErrorKind `json:"kind"`
	Message           string           `json:"message"`
	RetryAfterSeconds int              `json:"retryAfterSeconds,omitempty"`
}

// NewErrorView - 에러를 ErrorView 로 변환
func NewErrorView(err error) *ErrorView {
	if err == nil {
		return nil
	}
	var gerr *gemini.Error
	if errors.As(err, &gerr) {
		return &ErrorView{
			Kind:              gerr.Kind,
			Message:           gerr.UserMessage(),
			RetryAfterSeconds: int(gerr.RetryAfter.Round(time.Second).Seconds()),
		}
	}
	return &ErrorView{Kind: gemini.KindUnknown, Message: err.Error()}
}

// Snapshot - Compositor 의 관찰 가능한 상태
type Snapshot struct {
	State      State      `json:"state"`
	InProgress bool       `json:"inProgress"`
	Mode       model.Mode `json:"mode,omitempty"`
	Image      string     `json:"image,omitempty"`
	Error      *ErrorView `json:"error,omitempty"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// ComposeBody - POST /api/studio/{sessionId}/compose 요청 바디
type ComposeBody struct {
	UserPhoto   string `json:"userPhoto,omitempty" validate:"omitempty,max=20971520"`
	Garment     string `json:"garment,omitempty" validate:"omitempty,max=20971520"`
	Instruction string `json:"instruction" validate:"max=2000"`
}

// ComposeResponse - compose 성공 응답
type ComposeResponse struct {
	SessionID string     `json:"sessionId"`
	Mode      model.Mode `json:"mode"`
	Image     string     `json:"image"`
}

// ErrorResponse - 실패 응답
type ErrorResponse struct {
	Error             string           `json:"error"`
	Kind              gemini.ErrorKind `json:"kind,omitempty"`
	RetryAfterSeconds int              `json:"retryAfterSeconds,omitempty"`
	Cancelled         bool             `json:"cancelled,omitempty"`
}
