package kpi

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/listwatch/internal/model"
	"github.com/hitoshi/listwatch/internal/repository"
)

// EngineOptions はKPIエンジンの計算パラメータを保持する。
type EngineOptions struct {
	MinSoldConfidence float64
	WindowDays        float64
	Refs              References
}

// DefaultEngineOptions は既定のエンジンパラメータを返す。
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		MinSoldConfidence: DefaultMinSoldConfidence,
		WindowDays:        DefaultSellThroughWindowDays,
		Refs:              DefaultReferences(),
	}
}

// Engine はスナップショットストアとイベントログを読み、KPIバンドルを組み立てる。
// 読み取り専用であり、ストアへの書き込みは一切行わない。
type Engine struct {
	listings repository.ListingRepository
	events   repository.EventRepository
	opts     EngineOptions
}

// NewEngine はEngineを生成する。
func NewEngine(listings repository.ListingRepository, events repository.EventRepository, opts EngineOptions) *Engine {
	if opts.MinSoldConfidence <= 0 {
		opts.MinSoldConfidence = DefaultMinSoldConfidence
	}
	if opts.WindowDays <= 0 {
		opts.WindowDays = DefaultSellThroughWindowDays
	}
	return &Engine{listings: listings, events: events, opts: opts}
}

// Calculate はフィルタ条件に対するKPIバンドルを計算する。
// これがダッシュボードが依存する唯一の照会エントリポイント。
// フィルタの検証はこの境界で一度だけ行う。
func (e *Engine) Calculate(ctx context.Context, filter model.FilterCriteria) (*Bundle, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	// ステータス条件は価格分布にのみ適用する。セルスルーの分母や
	// 値引き集計の母集団はステータス不問の同一セグメントでなければならない。
	segFilter := filter
	segFilter.Statuses = nil

	listings, err := e.listings.ListFiltered(ctx, segFilter)
	if err != nil {
		return nil, err
	}
	soldEvents, err := e.events.ListSoldEvents(ctx, segFilter, e.opts.MinSoldConfidence)
	if err != nil {
		return nil, err
	}

	var soldIDs []string
	for i := range listings {
		if listings[i].Status == model.StatusSold {
			soldIDs = append(soldIDs, listings[i].ItemID)
		}
	}
	priceChanges, err := e.events.ListPriceChangesForItems(ctx, soldIDs)
	if err != nil {
		return nil, err
	}

	counts, err := e.listings.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	stOpts := SellThroughOptions{
		WindowDays:    e.opts.WindowDays,
		MinConfidence: e.opts.MinSoldConfidence,
	}
	dts := DaysToSell(soldEvents, segFilter, e.opts.MinSoldConfidence)
	st := SellThrough(listings, soldEvents, segFilter, stOpts)

	bundle := &Bundle{
		PriceDistribution: PriceDistribution(listings, filter),
		DTS:               dts,
		SellThrough30d:    st,
		DiscountToSell:    DiscountToSell(listings, priceChanges, segFilter),
		Liquidity:         Liquidity(dts, st, e.opts.Refs),
		Metadata: Metadata{
			CalculatedAt: time.Now().UTC(),
			Counts:       counts,
			Filter:       filter,
		},
	}

	slog.Info("KPIを計算しました",
		"segment_listings", len(listings),
		"sold_events", len(soldEvents),
		"has_dts", dts != nil,
		"has_sell_through", st != nil,
	)
	return bundle, nil
}
