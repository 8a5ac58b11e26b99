package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/supabase-community/supabase-go"

	"fitting-studio-server/modules/common/config"
	"fitting-studio-server/modules/common/model"
)

// Client - Supabase 카탈로그 조회 클라이언트
type Client struct {
	supabase *supabase.Client
	table    string
	log      zerolog.Logger
}

// NewClient - Database 클라이언트 생성
func NewClient(cfg *config.Config, log zerolog.Logger) (*Client, error) {
	supabaseClient, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}

	return &Client{
		supabase: supabaseClient,
		table:    cfg.CatalogTable,
		log:      log,
	}, nil
}

// ListProducts - 카탈로그 전체 조회 (id 순)
func (c *Client) ListProducts(ctx context.Context) ([]model.Product, error) {
	c.log.Debug().Str("table", c.table).Msg("🔍 Fetching catalog from Supabase")

	data, _, err := c.supabase.From(c.table).
		Select("*", "exact", false).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", c.table, err)
	}

	var products []model.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w", c.table, err)
	}

	sort.SliceStable(products, func(i, j int) bool { return products[i].ID < products[j].ID })

	c.log.Info().Str("table", c.table).Int("products", len(products)).Msg("✅ Catalog fetched")
	return products, nil
}

// StaticCatalog - 고정 카탈로그 (Supabase 미설정 시 / 테스트)
type StaticCatalog []model.Product

// ListProducts - 복사본 반환
func (s StaticCatalog) ListProducts(ctx context.Context) ([]model.Product, error) {
	out := make([]model.Product, len(s))
	copy(out, s)
	return out, nil
}
