package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fitting-studio-server/modules/common/fallback"
	"fitting-studio-server/modules/common/gemini"
	"fitting-studio-server/modules/common/model"
)

const (
	maxKeywords         = 5
	maxCategories       = 4
	productsPerCategory = 2
)

// TextRunner - 텍스트 응답용 fallback 실행 (fallback.Scheduler)
type TextRunner interface {
	RunText(ctx context.Context, models []string, build fallback.RequestBuilder) (string, error)
}

// Service - 코디네이터 검색 서비스
type Service struct {
	runner TextRunner
	models []string
	log    zerolog.Logger
}

// NewService - models 는 COORDINATOR 모델 리스트
func NewService(runner TextRunner, models []string, log zerolog.Logger) *Service {
	return &Service{runner: runner, models: models, log: log}
}

// Query - 검색 → (추천 코멘트 + 스타일링 카테고리) 또는 대체 키워드 → 스타일링 조립
func (s *Service) Query(ctx context.Context, text string, catalog []model.Product) (Result, error) {
	query := strings.TrimSpace(text)
	if query == "" {
		return Result{}, ErrEmptyQuery
	}

	result := newResult()

	ids, err := s.retrieve(ctx, query, catalog)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return result, err
		}
		setError(&result, err)
		if gemini.KindOf(err) == gemini.KindAuthInvalid {
			return result, nil
		}
	}
	result.MatchedIDs = ids

	if len(ids) == 0 {
		keywords, err := s.keywords(ctx, query)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return result, err
			}
			setError(&result, err)
		}
		result.SuggestedKeywords = keywords
		s.log.Info().Str("query", query).Int("keywords", len(keywords)).Msg("🔎 No matches, suggested keywords")
		return result, nil
	}

	matched := pickProducts(catalog, ids)
	allowed := stylingCandidates(catalog, dominantCategory(matched))

	var (
		comment       string
		categories    []string
		commentErr    error
		categoriesErr error
	)

	// fan-out / await: WithContext 를 쓰지 않으므로 한쪽 실패가 다른 호출을 취소하지 않음
	// 각 호출의 에러는 따로 보관하고 Wait 는 첫 에러만 돌려줌
	var g errgroup.Group
	g.Go(func() error {
		comment, commentErr = s.comment(ctx, query, matched)
		return commentErr
	})
	if len(allowed) > 0 {
		g.Go(func() error {
			categories, categoriesErr = s.categories(ctx, query, matched, allowed)
			return categoriesErr
		})
	}
	if err := g.Wait(); err != nil {
		s.log.Warn().Err(err).Msg("⚠️ Enrichment partially failed, returning degraded result")
	}

	if errors.Is(commentErr, context.Canceled) || errors.Is(categoriesErr, context.Canceled) {
		return result, context.Canceled
	}
	if commentErr != nil {
		setError(&result, commentErr)
	} else if comment != "" {
		result.Comment = &comment
	}
	if categoriesErr != nil {
		setError(&result, categoriesErr)
	}

	result.StylingCategories = assembleStyling(catalog, categories, ids)

	s.log.Info().
		Str("query", query).
		Ints("matched", ids).
		Strs("categories", categories).
		Bool("degraded", result.Error != nil).
		Msg("✅ Coordinator query completed")
	return result, nil
}

// retrieve - 카탈로그에 있는 id 만, 중복 제거, 순서 유지
// 파싱 실패는 매칭 없음으로 처리
func (s *Service) retrieve(ctx context.Context, query string, catalog []model.Product) ([]int, error) {
	raw, err := s.runner.RunText(ctx, s.models, func() *gemini.Request {
		return gemini.NewJSONRequest(retrievalPrompt(query, catalog), retrievalSchema())
	})
	if err != nil {
		s.log.Error().Err(err).Msg("❌ Retrieval call failed")
		return []int{}, err
	}

	payload, err := ParseJSON[retrievalPayload](raw)
	if err != nil {
		s.log.Warn().Err(err).Msg("⚠️ Retrieval response unparseable, treating as no match")
		return []int{}, nil
	}

	known := make(map[int]bool, len(catalog))
	for _, p := range catalog {
		known[p.ID] = true
	}
	seen := make(map[int]bool, len(payload.MatchedIDs))
	ids := make([]int, 0, len(payload.MatchedIDs))
	for _, id := range payload.MatchedIDs {
		if known[id] && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Service) comment(ctx context.Context, query string, matched []model.Product) (string, error) {
	raw, err := s.runner.RunText(ctx, s.models, func() *gemini.Request {
		return gemini.NewTextRequest(commentPrompt(query, matched))
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(trimCodeFence(raw)), nil
}

// categories - 허용 목록 안의 카테고리만, 최대 4개
func (s *Service) categories(ctx context.Context, query string, matched []model.Product, allowed []string) ([]string, error) {
	raw, err := s.runner.RunText(ctx, s.models, func() *gemini.Request {
		return gemini.NewJSONRequest(categoriesPrompt(query, matched, allowed), categoriesSchema(allowed))
	})
	if err != nil {
		return nil, err
	}

	payload, err := ParseJSON[categoriesPayload](raw)
	if err != nil {
		return nil, gemini.NewError(gemini.KindUnknown, "categories response is not valid JSON", err)
	}

	ok := make(map[string]bool, len(allowed))
	for _, c := range allowed {
		ok[c] = true
	}
	seen := make(map[string]bool)
	out := make([]string, 0, maxCategories)
	for _, c := range payload.Categories {
		c = strings.TrimSpace(c)
		if !ok[c] || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
		if len(out) == maxCategories {
			break
		}
	}
	return out, nil
}

// keywords - 공백 제거, 빈 값 제외, 최대 5개
func (s *Service) keywords(ctx context.Context, query string) ([]string, error) {
	raw, err := s.runner.RunText(ctx, s.models, func() *gemini.Request {
		return gemini.NewJSONRequest(keywordsPrompt(query), keywordsSchema())
	})
	if err != nil {
		return []string{}, err
	}

	payload, err := ParseJSON[keywordsPayload](raw)
	if err != nil {
		return []string{}, gemini.NewError(gemini.KindUnknown, "keywords response is not valid JSON", err)
	}

	out := make([]string, 0, maxKeywords)
	seen := make(map[string]bool)
	for _, k := range payload.Keywords {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
		if len(out) == maxKeywords {
			break
		}
	}
	return out, nil
}

// ParseJSON - ``` / ```json 펜스를 제거한 뒤 JSON 파싱
func ParseJSON[T any](raw string) (T, error) {
	var zero T
	cleaned := strings.TrimSpace(trimCodeFence(raw))
	if cleaned == "" {
		return zero, errors.New("empty payload")
	}
	var decoded T
	if err := json.Unmarshal([]byte(cleaned), &decoded); err == nil {
		return decoded, nil
	} else if fragment, ok := jsonFragment(cleaned); ok {
		// 설명 문장 사이에 JSON 이 끼어 있는 응답
		var retry T
		if json.Unmarshal([]byte(fragment), &retry) == nil {
			return retry, nil
		}
		return zero, err
	} else {
		return zero, err
	}
}

// jsonFragment - 첫 '{' 또는 '[' 부터 마지막 '}' 또는 ']' 까지
func jsonFragment(text string) (string, bool) {
	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "}]")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if nl := strings.IndexByte(trimmed, '\n'); nl >= 0 {
		// 첫 줄은 언어 태그 (json 등)
		if tag := strings.TrimSpace(trimmed[:nl]); !strings.ContainsAny(tag, "{[") {
			trimmed = trimmed[nl+1:]
		}
	} else {
		trimmed = strings.TrimPrefix(trimmed, "json")
	}
	trimmed = strings.TrimSpace(trimmed)
	return strings.TrimSpace(strings.TrimSuffix(trimmed, "```"))
}

func pickProducts(catalog []model.Product, ids []int) []model.Product {
	byID := make(map[int]model.Product, len(catalog))
	for _, p := range catalog {
		if _, exists := byID[p.ID]; !exists {
			byID[p.ID] = p
		}
	}
	out := make([]model.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// dominantCategory - 매칭 상품 중 가장 많은 카테고리 (동률이면 먼저 나온 것)
func dominantCategory(matched []model.Product) string {
	counts := make(map[string]int)
	best, bestCount := "", 0
	for _, p := range matched {
		counts[p.Category]++
		if counts[p.Category] > bestCount {
			best, bestCount = p.Category, counts[p.Category]
		}
	}
	return best
}

// stylingCandidates - 카탈로그의 고유 카테고리 (등장 순) 에서 dominant 제외
func stylingCandidates(catalog []model.Product, dominant string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, p := range catalog {
		c := p.Category
		if c == "" || c == dominant || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// assembleStyling - 카테고리별 최대 2개, 매칭 상품 제외, 빈 그룹은 버림
func assembleStyling(catalog []model.Product, categories []string, matchedIDs []int) []StylingGroup {
	excluded := make(map[int]bool, len(matchedIDs))
	for _, id := range matchedIDs {
		excluded[id] = true
	}

	groups := []StylingGroup{}
	for _, category := range categories {
		items := make([]model.Product, 0, productsPerCategory)
		for _, p := range catalog {
			if p.Category != category || excluded[p.ID] {
				continue
			}
			items = append(items, p)
			if len(items) == productsPerCategory {
				break
			}
		}
		if len(items) > 0 {
			groups = append(groups, StylingGroup{Category: category, Products: items})
		}
	}
	return groups
}

// setError - 첫 번째 에러만 노출
func setError(r *Result, err error) {
	if r.Error != nil || err == nil {
		return
	}
	msg := err.Error()
	var gerr *gemini.Error
	if errors.As(err, &gerr) {
		msg = gerr.UserMessage()
	}
	msg = fmt.Sprintf("코디 추천 중 오류가 발생했습니다: %s", msg)
	r.Error = &msg
}
