package model

import (
	"fmt"
	"strings"
)

// ImagePayload - 인라인 이미지 데이터 (mime + base64)
// Data 는 항상 "data:...;base64," prefix 가 제거된 순수 base64 문자열
type ImagePayload struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// DataURI - data:<mime>;base64,<data> 형태로 변환
func (p ImagePayload) DataURI() string {
	return fmt.Sprintf("data:%s;base64,%s", p.MIMEType, p.Data)
}

// IsImage - mime 이 image/ 로 시작하는지 확인
func (p ImagePayload) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(p.MIMEType), "image/")
}

// Mode - 이미지 생성 모드
type Mode string

const (
	ModeGenerate Mode = "GENERATE"
	ModeEdit     Mode = "EDIT"
	ModeTryOn    Mode = "TRY_ON"
)

// ModelListCoordinator - 코디네이터(텍스트) 호출용 모델 리스트 키
const ModelListCoordinator = "COORDINATOR"

// DeriveMode - 입력 조합으로 모드 결정
// 사진 + 의류 → TRY_ON, 사진만 → EDIT, 그 외 → GENERATE
func DeriveMode(hasPhoto, hasGarment bool) Mode {
	switch {
	case hasPhoto && hasGarment:
		return ModeTryOn
	case hasPhoto:
		return ModeEdit
	default:
		return ModeGenerate
	}
}

// Product - 카탈로그 상품 (products 테이블 구조)
type Product struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Price       int     `json:"price"`
	Image       string  `json:"image"`
	Rating      float64 `json:"rating"`
	Reviews     int     `json:"reviews"`
	Description string  `json:"description"`
	IsNew       bool    `json:"isNew,omitempty"`
}

// ModelLists - 모드별 모델 우선순위 리스트
type ModelLists map[string][]string

// For - 모드(또는 COORDINATOR)에 해당하는 모델 리스트 반환
func (l ModelLists) For(key string) []string {
	return l[key]
}
