// Package reconcile は前回状態と今回スナップショットの突き合わせを行う。
// 出品の出現・継続・価格改定・消失を判定し、消失からの経過時間に基づいて
// 売却を推定する。全関数は純粋で、I/Oや時計への依存を持たない。
package reconcile

import (
	"fmt"
	"time"

	"github.com/hitoshi/listwatch/internal/model"
)

// Options はReconcilerの調整パラメータを保持する。
type Options struct {
	// SnapshotInterval はスクレイパーのスナップショット取得間隔。
	SnapshotInterval time.Duration
	// MissingThreshold は消失を売却と推定し始めるまでの猶予時間。
	// これ未満の消失は判定保留としてactiveのまま残す。
	MissingThreshold time.Duration
	// ConfirmedThreshold は確信度を1.0へ引き上げる消失時間。
	ConfirmedThreshold time.Duration
	// MaxListingAge はこれより古い出品の消失を売却ではなく
	// 取下げとみなすカットオフ。超過分はSoldEventを生成せずsoldへ遷移する。
	MaxListingAge time.Duration
}

// 既定パラメータ。スクレイパーの48時間間隔を前提とする。
const (
	DefaultSnapshotInterval = 48 * time.Hour
	DefaultMissingThreshold = 24 * time.Hour
	DefaultMaxListingAge    = 90 * 24 * time.Hour
)

// DefaultOptions は既定の調整パラメータを返す。
// ConfirmedThresholdはMissingThresholdの2倍。
func DefaultOptions() Options {
	return Options{
		SnapshotInterval:   DefaultSnapshotInterval,
		MissingThreshold:   DefaultMissingThreshold,
		ConfirmedThreshold: 2 * DefaultMissingThreshold,
		MaxListingAge:      DefaultMaxListingAge,
	}
}

// normalized は未設定のフィールドを既定値で埋めたOptionsを返す。
func (o Options) normalized() Options {
	if o.SnapshotInterval <= 0 {
		o.SnapshotInterval = DefaultSnapshotInterval
	}
	if o.MissingThreshold <= 0 {
		o.MissingThreshold = DefaultMissingThreshold
	}
	if o.ConfirmedThreshold <= 0 {
		o.ConfirmedThreshold = 2 * o.MissingThreshold
	}
	if o.MaxListingAge <= 0 {
		o.MaxListingAge = DefaultMaxListingAge
	}
	return o
}

// Stats は1回の照合処理の内訳を保持する。
type Stats struct {
	New          int // 初めて観測された出品
	StillActive  int // 前回から継続して観測された出品
	PriceChanged int // 継続かつ価格が変化した出品
	Deferred     int // 消失したが猶予時間内のため判定保留
	MarkedSold   int // 売却と推定されsoldへ遷移した出品
	Expired      int // 高齢のためイベント無しでsoldへ遷移した出品
	AlreadySold  int // 既にsoldで変化のない出品
	Counts       model.ListingCounts
}

// Result は照合処理の出力を保持する。
// Listingsは前回状態と今回スナップショットの和集合全体であり、
// 永続化層はこれでスナップショットストアを完全に置き換える。
type Result struct {
	Listings     []model.Listing
	PriceChanges []model.PriceChangeEvent
	SoldEvents   []model.SoldEvent
	Stats        Stats
}

// Reconcile は前回状態と今回スナップショットを突き合わせる。
// snapshotAtはファイル名由来のスナップショット時刻であり、
// 同じ入力に対して常に同じ出力を返す（イベントIDも決定的に導出される）。
// previousが空の場合は初回実行として全項目を新規登録する。
func Reconcile(previous []model.Listing, current []model.NormalizedItem, snapshotAt time.Time, opts Options) (*Result, error) {
	opts = opts.normalized()

	prevByID := make(map[string]*model.Listing, len(previous))
	for i := range previous {
		p := &previous[i]
		if _, dup := prevByID[p.ItemID]; dup {
			return nil, model.NewIntegrityError(p.ItemID, "前回状態内でitem_idが重複")
		}
		prevByID[p.ItemID] = p
	}

	res := &Result{}
	seenCurrent := make(map[string]struct{}, len(current))

	for _, item := range current {
		if item.ItemID == "" {
			return nil, model.NewIntegrityError("", "item_idが空のスナップショット項目")
		}
		if _, dup := seenCurrent[item.ItemID]; dup {
			return nil, model.NewIntegrityError(item.ItemID, "スナップショット内でitem_idが重複")
		}
		seenCurrent[item.ItemID] = struct{}{}

		prev, existed := prevByID[item.ItemID]
		if !existed {
			res.Listings = append(res.Listings, newListing(item, snapshotAt))
			res.Stats.New++
			continue
		}

		// sold済みの出品が再出現した場合、状態遷移の単調性が崩れている。
		// 原因究明なしに進めるとKPIが二重計上されるため即座に失敗する。
		if prev.Status == model.StatusSold {
			return nil, model.NewIntegrityError(item.ItemID, "sold済みの出品がスナップショットに再出現")
		}

		updated := refreshListing(*prev, item, snapshotAt)
		if prev.Price != item.Price {
			res.PriceChanges = append(res.PriceChanges, model.PriceChangeEvent{
				EventID:   priceEventID(item.ItemID, snapshotAt),
				ItemID:    item.ItemID,
				OldPrice:  prev.Price,
				NewPrice:  item.Price,
				ChangedAt: snapshotAt,
				Brand:     item.BrandNorm,
				Category:  item.CategoryNorm,
			})
			res.Stats.PriceChanged++
		}
		res.Listings = append(res.Listings, updated)
		res.Stats.StillActive++
	}

	// 消失した出品の処理
	for i := range previous {
		prev := previous[i]
		if _, present := seenCurrent[prev.ItemID]; present {
			continue
		}

		// sold済みはそのまま保持する（テーブルから消さない）
		if prev.Status == model.StatusSold {
			res.Listings = append(res.Listings, prev)
			res.Stats.AlreadySold++
			continue
		}

		timeMissing := snapshotAt.Sub(prev.LastSeenAt)
		if timeMissing < opts.MissingThreshold {
			// 猶予時間内: 一時的な非表示の可能性があるため判定を保留する
			res.Listings = append(res.Listings, prev)
			res.Stats.Deferred++
			continue
		}

		sold := prev
		sold.Status = model.StatusSold
		sold.UpdatedAt = snapshotAt
		res.Listings = append(res.Listings, sold)

		listingAge := snapshotAt.Sub(prev.FirstSeenAt)
		if listingAge > opts.MaxListingAge {
			// 高齢の出品は売却ではなく取下げの可能性が高い。
			// KPIを汚さないようSoldEventは生成しない。
			res.Stats.Expired++
			continue
		}

		ev, err := buildSoldEvent(prev, snapshotAt, timeMissing, opts)
		if err != nil {
			return nil, err
		}
		res.SoldEvents = append(res.SoldEvents, ev)
		res.Stats.MarkedSold++
	}

	res.Stats.Counts = countStatuses(res.Listings)
	if !res.Stats.Counts.Conserved() {
		return nil, model.NewIntegrityError("", fmt.Sprintf(
			"件数保存則の違反: active=%d sold=%d total=%d",
			res.Stats.Counts.Active, res.Stats.Counts.Sold, res.Stats.Counts.Total))
	}
	return res, nil
}

// newListing は初観測の項目からListingを構築する。
func newListing(item model.NormalizedItem, snapshotAt time.Time) model.Listing {
	return model.Listing{
		ItemID:          item.ItemID,
		BrandRaw:        item.BrandRaw,
		BrandNorm:       item.BrandNorm,
		CategoryRaw:     item.CategoryRaw,
		CategoryNorm:    item.CategoryNorm,
		Title:           item.Title,
		ConditionRaw:    item.ConditionRaw,
		ConditionBucket: item.ConditionBucket,
		Audience:        item.Audience,
		Season:          item.Season,
		Price:           item.Price,
		Currency:        item.Currency,
		Status:          model.StatusActive,
		PublishedAt:     item.PublishedAt,
		FirstSeenAt:     snapshotAt,
		LastSeenAt:      snapshotAt,
		CreatedAt:       snapshotAt,
		UpdatedAt:       snapshotAt,
	}
}

// refreshListing は継続観測された出品の状態を更新する。
// FirstSeenAtとCreatedAtは初観測時の値を保持する。
func refreshListing(prev model.Listing, item model.NormalizedItem, snapshotAt time.Time) model.Listing {
	next := prev
	next.BrandRaw = item.BrandRaw
	next.BrandNorm = item.BrandNorm
	next.CategoryRaw = item.CategoryRaw
	next.CategoryNorm = item.CategoryNorm
	next.Title = item.Title
	next.ConditionRaw = item.ConditionRaw
	next.ConditionBucket = item.ConditionBucket
	next.Audience = item.Audience
	next.Season = item.Season
	next.Price = item.Price
	next.Currency = item.Currency
	if item.PublishedAt != nil {
		next.PublishedAt = item.PublishedAt
	}
	next.LastSeenAt = snapshotAt
	next.UpdatedAt = snapshotAt
	return next
}

// buildSoldEvent は消失した出品からSoldEventを構築する。
func buildSoldEvent(prev model.Listing, snapshotAt time.Time, timeMissing time.Duration, opts Options) (model.SoldEvent, error) {
	confidence := model.ConfidenceLikely
	if timeMissing >= opts.ConfirmedThreshold {
		confidence = model.ConfidenceConfirmed
	}

	// 実売却は最終観測と検出の間のどこかで起きたため、中間点を期待値として採る
	estimatedSoldAt := prev.LastSeenAt.Add(opts.SnapshotInterval / 2)
	daysToSell := estimatedSoldAt.Sub(prev.FirstSeenAt).Hours() / 24
	if daysToSell < 0 {
		return model.SoldEvent{}, model.NewIntegrityError(prev.ItemID, fmt.Sprintf(
			"days_to_sellが負値 (%.2f): first_seen_at=%s estimated_sold_at=%s",
			daysToSell, prev.FirstSeenAt.Format(time.RFC3339), estimatedSoldAt.Format(time.RFC3339)))
	}

	return model.SoldEvent{
		EventID:          soldEventID(prev.ItemID, snapshotAt),
		ItemID:           prev.ItemID,
		Brand:            prev.BrandNorm,
		Category:         prev.CategoryNorm,
		Condition:        prev.ConditionBucket,
		Audience:         prev.Audience,
		Season:           prev.Season,
		FinalListedPrice: prev.Price,
		Currency:         prev.Currency,
		FirstSeenAt:      prev.FirstSeenAt,
		LastSeenAt:       prev.LastSeenAt,
		EstimatedSoldAt:  estimatedSoldAt,
		DaysToSell:       daysToSell,
		ListingAgeDays:   int(snapshotAt.Sub(prev.FirstSeenAt).Hours() / 24),
		SoldConfidence:   confidence,
	}, nil
}

// priceEventID は価格改定イベントの決定的IDを導出する。
// 同一スナップショットの再処理は同一IDを生み、追記層で重複排除される。
func priceEventID(itemID string, snapshotAt time.Time) string {
	return fmt.Sprintf("PE_%s_%d", itemID, snapshotAt.Unix())
}

// soldEventID は売却推定イベントの決定的IDを導出する。
func soldEventID(itemID string, snapshotAt time.Time) string {
	return fmt.Sprintf("SE_%s_%d", itemID, snapshotAt.Unix())
}

func countStatuses(listings []model.Listing) model.ListingCounts {
	var c model.ListingCounts
	for _, l := range listings {
		switch l.Status {
		case model.StatusActive:
			c.Active++
		case model.StatusSold:
			c.Sold++
		}
		c.Total++
	}
	return c
}
