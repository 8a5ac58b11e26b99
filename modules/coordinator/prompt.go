package coordinator

import (
	"fmt"
	"strings"

	"google.golang.org/genai"

	"fitting-studio-server/modules/common/model"
)

func retrievalPrompt(query string, catalog []model.Product) string {
	var sb strings.Builder
	sb.WriteString("You are a smart fashion shopping assistant.\n")
	sb.WriteString("Select the product IDs from the catalog that best match the user query. ")
	sb.WriteString("Only use IDs that appear in the catalog. Return an empty list when nothing fits.\n\n")
	sb.WriteString("Product Catalog:\n")
	for _, p := range catalog {
		fmt.Fprintf(&sb, "ID: %d, Name: %s, Category: %s, Price: %d\n", p.ID, p.Name, p.Category, p.Price)
	}
	fmt.Fprintf(&sb, "\nUser Query: %q\n\n", query)
	sb.WriteString(`Return JSON: {"matchedIds": [1, 2, 3]}`)
	return sb.String()
}

func commentPrompt(query string, matched []model.Product) string {
	names := make([]string, 0, len(matched))
	for _, p := range matched {
		names = append(names, p.Name)
	}
	return fmt.Sprintf(
		"당신은 패션 코디네이터입니다. 사용자의 요청 \"%s\" 에 대해 다음 상품들을 추천했습니다: %s.\n"+
			"이 상품들이 왜 잘 어울리는지 한국어로 1~2문장의 친근한 추천 코멘트를 작성하세요. "+
			"코멘트 텍스트만 출력하세요.",
		query, strings.Join(names, ", "))
}

func categoriesPrompt(query string, matched []model.Product, allowed []string) string {
	names := make([]string, 0, len(matched))
	for _, p := range matched {
		names = append(names, fmt.Sprintf("%s (%s)", p.Name, p.Category))
	}
	return fmt.Sprintf(
		"User query: %q\nRecommended items: %s\n\n"+
			"Pick 3 to 4 complementary categories that complete the outfit, chosen only from this list: %s.\n"+
			`Return JSON: {"categories": ["..."]}`,
		query, strings.Join(names, ", "), strings.Join(allowed, ", "))
}

func keywordsPrompt(query string) string {
	return fmt.Sprintf(
		"No catalog products matched the fashion search %q.\n"+
			"Suggest up to 5 short alternative search keywords in Korean that capture the same fashion intent.\n"+
			`Return JSON: {"keywords": ["..."]}`,
		query)
}

func retrievalSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"matchedIds": {
				Type:        genai.TypeArray,
				Items:       &genai.Schema{Type: genai.TypeInteger},
				Description: "Array of matching product IDs",
			},
		},
		Required: []string{"matchedIds"},
	}
}

func categoriesSchema(allowed []string) *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"categories": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString, Enum: allowed},
			},
		},
		Required: []string{"categories"},
	}
}

func keywordsSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"keywords": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
		},
		Required: []string{"keywords"},
	}
}
