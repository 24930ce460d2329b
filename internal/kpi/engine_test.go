package kpi

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/hitoshi/listwatch/internal/model"
)

// mockListingRepo はメモリ上のListingRepositoryモック。
type mockListingRepo struct {
	listings []model.Listing
}

func (m *mockListingRepo) LoadAll(ctx context.Context) ([]model.Listing, error) {
	return m.listings, nil
}

func (m *mockListingRepo) ReplaceAll(ctx context.Context, tx *sql.Tx, listings []model.Listing) error {
	m.listings = listings
	return nil
}

func (m *mockListingRepo) ListFiltered(ctx context.Context, filter model.FilterCriteria) ([]model.Listing, error) {
	var out []model.Listing
	for i := range m.listings {
		if filter.MatchListing(&m.listings[i]) {
			out = append(out, m.listings[i])
		}
	}
	return out, nil
}

func (m *mockListingRepo) CountByStatus(ctx context.Context) (model.ListingCounts, error) {
	var c model.ListingCounts
	for _, l := range m.listings {
		switch l.Status {
		case model.StatusActive:
			c.Active++
		case model.StatusSold:
			c.Sold++
		}
		c.Total++
	}
	return c, nil
}

type mockEventRepo struct {
	solds  []model.SoldEvent
	prices []model.PriceChangeEvent
}

func (m *mockEventRepo) AppendPriceChanges(ctx context.Context, tx *sql.Tx, events []model.PriceChangeEvent) error {
	m.prices = append(m.prices, events...)
	return nil
}

func (m *mockEventRepo) AppendSoldEvents(ctx context.Context, tx *sql.Tx, events []model.SoldEvent) error {
	m.solds = append(m.solds, events...)
	return nil
}

func (m *mockEventRepo) ListSoldEvents(ctx context.Context, filter model.FilterCriteria, minConfidence float64) ([]model.SoldEvent, error) {
	var out []model.SoldEvent
	for i := range m.solds {
		if m.solds[i].SoldConfidence >= minConfidence && filter.MatchSoldEvent(&m.solds[i]) {
			out = append(out, m.solds[i])
		}
	}
	return out, nil
}

func (m *mockEventRepo) ListPriceChangesForItems(ctx context.Context, itemIDs []string) ([]model.PriceChangeEvent, error) {
	ids := make(map[string]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		ids[id] = struct{}{}
	}
	var out []model.PriceChangeEvent
	for _, e := range m.prices {
		if _, ok := ids[e.ItemID]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestEngineCalculate_FullBundle(t *testing.T) {
	listings := &mockListingRepo{listings: []model.Listing{
		{ItemID: "A", BrandNorm: "Zara", Price: 20, Status: model.StatusActive},
		{ItemID: "B", BrandNorm: "Zara", Price: 15, Status: model.StatusSold},
	}}
	events := &mockEventRepo{
		solds: []model.SoldEvent{
			{EventID: "SE_B_100", ItemID: "B", Brand: "Zara", DaysToSell: 5, SoldConfidence: 1.0},
		},
	}
	engine := NewEngine(listings, events, DefaultEngineOptions())

	bundle, err := engine.Calculate(context.Background(), model.FilterCriteria{Brands: []string{"Zara"}})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if bundle.PriceDistribution == nil || bundle.PriceDistribution.Count != 2 {
		t.Errorf("価格分布が誤り: %+v", bundle.PriceDistribution)
	}
	if bundle.DTS == nil || bundle.DTS.Count != 1 {
		t.Errorf("DTSが誤り: %+v", bundle.DTS)
	}
	if bundle.SellThrough30d == nil || bundle.SellThrough30d.TotalItems != 2 {
		t.Errorf("セルスルーが誤り: %+v", bundle.SellThrough30d)
	}
	if bundle.DiscountToSell == nil || bundle.DiscountToSell.TotalSoldItems != 1 {
		t.Errorf("値引き統計が誤り: %+v", bundle.DiscountToSell)
	}
	if bundle.Liquidity == nil {
		t.Error("流動性スコアがnil")
	}
	if bundle.Metadata.Counts.Total != 2 {
		t.Errorf("メタデータの件数が誤り: %+v", bundle.Metadata.Counts)
	}
}

func TestEngineCalculate_EmptySegment_AllNil(t *testing.T) {
	engine := NewEngine(&mockListingRepo{}, &mockEventRepo{}, DefaultEngineOptions())

	bundle, err := engine.Calculate(context.Background(), model.FilterCriteria{Brands: []string{"Nike"}})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if bundle.PriceDistribution != nil || bundle.DTS != nil ||
		bundle.SellThrough30d != nil || bundle.DiscountToSell != nil || bundle.Liquidity != nil {
		t.Errorf("空セグメントは全KPIがnilであるべき: %+v", bundle)
	}
}

func TestEngineCalculate_InvalidStatusFilter_APIError(t *testing.T) {
	engine := NewEngine(&mockListingRepo{}, &mockEventRepo{}, DefaultEngineOptions())

	_, err := engine.Calculate(context.Background(), model.FilterCriteria{
		Statuses: []model.ListingStatus{"pending"},
	})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("APIErrorを期待したが得られたのは: %v", err)
	}
	if apiErr.Code != model.ErrCodeInvalidStatusFilter {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeInvalidStatusFilter)
	}
}

func TestEngineCalculate_StatusFilterOnlyAffectsPriceDistribution(t *testing.T) {
	listings := &mockListingRepo{listings: []model.Listing{
		{ItemID: "A", Price: 20, Status: model.StatusActive},
		{ItemID: "B", Price: 10, Status: model.StatusSold},
	}}
	events := &mockEventRepo{
		solds: []model.SoldEvent{
			{EventID: "SE_B_100", ItemID: "B", DaysToSell: 5, SoldConfidence: 1.0},
		},
	}
	engine := NewEngine(listings, events, DefaultEngineOptions())

	bundle, err := engine.Calculate(context.Background(), model.FilterCriteria{
		Statuses: []model.ListingStatus{model.StatusActive},
	})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	// 価格分布はactiveのみ
	if bundle.PriceDistribution == nil || bundle.PriceDistribution.Count != 1 {
		t.Errorf("価格分布のステータス絞り込みが誤り: %+v", bundle.PriceDistribution)
	}
	// セルスルーの分母はステータス不問で2
	if bundle.SellThrough30d == nil || bundle.SellThrough30d.TotalItems != 2 {
		t.Errorf("セルスルーの分母が誤り: %+v", bundle.SellThrough30d)
	}
}
