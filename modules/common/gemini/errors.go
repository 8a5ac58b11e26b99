package gemini

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind - 생성 실패 분류
type ErrorKind string

const (
	KindQuotaExceeded  ErrorKind = "QUOTA_EXCEEDED"
	KindModelNotFound  ErrorKind = "MODEL_NOT_FOUND"
	KindAuthInvalid    ErrorKind = "AUTH_INVALID"
	KindSafetyBlocked  ErrorKind = "SAFETY_BLOCKED"
	KindMalformedInput ErrorKind = "MALFORMED_INPUT"
	KindNetwork        ErrorKind = "NETWORK"
	KindUnknown        ErrorKind = "UNKNOWN"
)

// Error - 분류된 생성 에러
type Error struct {
	Kind       ErrorKind
	RetryAfter time.Duration // 0 이면 정보 없음
	QuotaLimit *int64        // QuotaFailure 에 limit 이 있을 때만 설정
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// StructuralQuota - limit=0 (할당량 자체가 없음) 여부
func (e *Error) StructuralQuota() bool {
	return e.Kind == KindQuotaExceeded && e.QuotaLimit != nil && *e.QuotaLimit == 0
}

// UserMessage - UI 에 노출할 메시지
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindQuotaExceeded:
		if e.RetryAfter > 0 {
			return fmt.Sprintf("사용량 한도를 초과했습니다. %d초 후 다시 시도해주세요. (retry after %s)",
				int(e.RetryAfter.Round(time.Second).Seconds()), e.RetryAfter)
		}
		return "사용량 한도를 초과했습니다. 잠시 후 다시 시도해주세요."
	case KindAuthInvalid:
		return "API 키가 설정되지 않았거나 올바르지 않습니다. GEMINI_API_KEY 환경변수를 설정해주세요."
	case KindSafetyBlocked:
		return fmt.Sprintf("AI가 이미지 생성을 거부했습니다. (안전 정책) 상세: %s", e.detail())
	default:
		return fmt.Sprintf("이미지 생성에 실패했습니다. 상세: %s", e.detail())
	}
}

func (e *Error) detail() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%v)", e.Message, e.Cause)
	}
	return e.Message
}

// NewError - 분류된 에러 생성
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf - err 체인에서 ErrorKind 추출 (분류 안 된 에러는 UNKNOWN)
func KindOf(err error) ErrorKind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return KindUnknown
}
