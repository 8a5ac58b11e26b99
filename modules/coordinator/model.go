package coordinator

import (
	"errors"

	"fitting-studio-server/modules/common/model"
)

// ErrEmptyQuery - 빈 검색어
var ErrEmptyQuery = errors.New("query is empty")

// StylingGroup - 함께 코디할 카테고리와 상품 (최대 2개)
type StylingGroup struct {
	Category string          `json:"category"`
	Products []model.Product `json:"products"`
}

// Result - 코디네이터 결과
// 일부 호출이 실패해도 얻은 값은 유지하고 Error 를 채움
type Result struct {
	MatchedIDs        []int          `json:"matchedIds"`
	Comment           *string        `json:"comment"`
	StylingCategories []StylingGroup `json:"stylingCategories"`
	SuggestedKeywords []string       `json:"suggestedKeywords"`
	Error             *string        `json:"error"`
}

func newResult() Result {
	return Result{
		MatchedIDs:        []int{},
		StylingCategories: []StylingGroup{},
		SuggestedKeywords: []string{},
	}
}

// QueryBody - POST /api/coordinator/query 요청 바디
type QueryBody struct {
	Query    string          `json:"query" validate:"required,max=500"`
	Products []model.Product `json:"products,omitempty" validate:"omitempty,max=2000,dive"`
}

// retrievalPayload - {matchedIds: integer[]}
type retrievalPayload struct {
	MatchedIDs []int `json:"matchedIds"`
}

// categoriesPayload - {categories: string[]}
type categoriesPayload struct {
	Categories []string `json:"categories"`
}

// keywordsPayload - {keywords: string[]}
type keywordsPayload struct {
	Keywords []string `json:"keywords"`
}
