// Package kpi はスナップショットストアとイベントログからKPIを導出する。
// 計算関数はすべて純粋で決定的。「データ無し」はnilで表現し、
// ゼロ値の結果（例: 売却0件の0%セルスルー）とは厳密に区別する。
package kpi

import (
	"math"
	"sort"
	"time"

	"github.com/hitoshi/listwatch/internal/model"
)

// 既定の計算パラメータ。
const (
	DefaultMinSoldConfidence     = 0.5
	DefaultSellThroughWindowDays = 30
	DefaultReferenceSellThrough  = 50.0
	DefaultReferenceDTSDays      = 30.0
)

// References は流動性スコアの基準値を保持する。
type References struct {
	// SellThroughPct はセルスルー成分が満点になる基準のパーセンテージ。
	SellThroughPct float64
	// DTSDays はDTS成分が0点になる日数。
	DTSDays float64
}

// DefaultReferences は既定の基準値を返す。
func DefaultReferences() References {
	return References{
		SellThroughPct: DefaultReferenceSellThrough,
		DTSDays:        DefaultReferenceDTSDays,
	}
}

// PriceStats は価格分布の要約統計を表す。
type PriceStats struct {
	P25   float64 `json:"p25"`
	P50   float64 `json:"p50"`
	P75   float64 `json:"p75"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

// DTSStats は売却日数（days-to-sell）の要約統計を表す。
type DTSStats struct {
	Median float64 `json:"median"`
	Mean   float64 `json:"mean"`
	P25    float64 `json:"p25"`
	P75    float64 `json:"p75"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Count  int     `json:"count"`
}

// SellThroughStats は30日セルスルー率を表す。
// 「売却0件」は有効な0%であり、nil（データ無し）とは異なる。
type SellThroughStats struct {
	Percentage   float64 `json:"percentage"`
	SoldInWindow int     `json:"sold_in_window"`
	TotalSold    int     `json:"total_sold"`
	TotalItems   int     `json:"total_items"`
}

// DiscountStats は売却までの値引き統計を表す。
// 価格改定履歴を持たない売却品は値引き0%として集計に含める。
type DiscountStats struct {
	AvgPct            float64 `json:"avg_discount_pct"`
	MedianPct         float64 `json:"median_discount_pct"`
	MinPct            float64 `json:"min_discount_pct"`
	MaxPct            float64 `json:"max_discount_pct"`
	ItemsWithDiscount int     `json:"items_with_discount"`
	TotalSoldItems    int     `json:"total_sold_items"`
}

// LiquidityStats は流動性の複合スコア（0〜100）を表す。
type LiquidityStats struct {
	Score            float64 `json:"score"`
	SellThroughScore float64 `json:"sell_through_score"`
	DTSScore         float64 `json:"dts_score"`
	Grade            string  `json:"grade"`
}

// PriceDistribution はフィルタに一致する出品の価格分布を計算する。
// 価格0以下の出品（取得失敗レコード）は除外する。一致が無い場合はnil。
func PriceDistribution(listings []model.Listing, filter model.FilterCriteria) *PriceStats {
	var prices []float64
	for i := range listings {
		if !filter.MatchListing(&listings[i]) {
			continue
		}
		if listings[i].Price > 0 {
			prices = append(prices, listings[i].Price)
		}
	}
	if len(prices) == 0 {
		return nil
	}
	sort.Float64s(prices)
	return &PriceStats{
		P25:   quantile(prices, 0.25),
		P50:   quantile(prices, 0.50),
		P75:   quantile(prices, 0.75),
		Mean:  mean(prices),
		Min:   prices[0],
		Max:   prices[len(prices)-1],
		Count: len(prices),
	}
}

// DaysToSell は確信度がminConfidence以上の売却イベントからDTS統計を計算する。
// 条件に合うイベントが無い場合はnil。
func DaysToSell(events []model.SoldEvent, filter model.FilterCriteria, minConfidence float64) *DTSStats {
	var days []float64
	for i := range events {
		e := &events[i]
		if e.SoldConfidence < minConfidence || !filter.MatchSoldEvent(e) {
			continue
		}
		days = append(days, e.DaysToSell)
	}
	if len(days) == 0 {
		return nil
	}
	sort.Float64s(days)
	return &DTSStats{
		Median: quantile(days, 0.50),
		Mean:   mean(days),
		P25:    quantile(days, 0.25),
		P75:    quantile(days, 0.75),
		Min:    days[0],
		Max:    days[len(days)-1],
		Count:  len(days),
	}
}

// SellThroughOptions はセルスルー計算のパラメータ。
type SellThroughOptions struct {
	WindowDays    float64
	MinConfidence float64
}

// DefaultSellThroughOptions は既定のセルスルーパラメータを返す。
func DefaultSellThroughOptions() SellThroughOptions {
	return SellThroughOptions{
		WindowDays:    DefaultSellThroughWindowDays,
		MinConfidence: DefaultMinSoldConfidence,
	}
}

// SellThrough はウィンドウ内セルスルー率を計算する。
// 分子はウィンドウ日数以内に売れた（確信度ゲート済みの）売却イベント数、
// 分母はフィルタに一致する全出品数（ステータス不問）。
// 分母が0の場合はnil（データ無し）を返し、0/0の発生を防ぐ。
// 率は100%を上限とする（分子と分母の出所が異なるため超過しうる）。
func SellThrough(listings []model.Listing, events []model.SoldEvent, filter model.FilterCriteria, opts SellThroughOptions) *SellThroughStats {
	denominator := 0
	for i := range listings {
		if filter.MatchListing(&listings[i]) {
			denominator++
		}
	}
	if denominator == 0 {
		return nil
	}

	soldInWindow, totalSold := 0, 0
	for i := range events {
		e := &events[i]
		if e.SoldConfidence < opts.MinConfidence || !filter.MatchSoldEvent(e) {
			continue
		}
		totalSold++
		if e.DaysToSell <= opts.WindowDays {
			soldInWindow++
		}
	}

	pct := math.Min(float64(soldInWindow)/float64(denominator)*100, 100)
	return &SellThroughStats{
		Percentage:   pct,
		SoldInWindow: soldInWindow,
		TotalSold:    totalSold,
		TotalItems:   denominator,
	}
}

// DiscountToSell は売却品ごとの「初回掲載価格に対する最終値引き率」を集計する。
// 値引き率は最古の価格改定のold_priceと最新の改定のnew_priceから求める。
// 価格改定履歴の無い売却品は値引き0%として母集団に含める。
// フィルタに一致する売却品が無い場合はnil。
func DiscountToSell(listings []model.Listing, priceEvents []model.PriceChangeEvent, filter model.FilterCriteria) *DiscountStats {
	soldIDs := make(map[string]struct{})
	for i := range listings {
		l := &listings[i]
		if l.Status == model.StatusSold && filter.MatchListing(l) {
			soldIDs[l.ItemID] = struct{}{}
		}
	}
	if len(soldIDs) == 0 {
		return nil
	}

	type span struct {
		firstChange model.PriceChangeEvent
		lastChange  model.PriceChangeEvent
		seen        bool
	}
	spans := make(map[string]*span)
	for _, pe := range priceEvents {
		if _, sold := soldIDs[pe.ItemID]; !sold {
			continue
		}
		s := spans[pe.ItemID]
		if s == nil {
			s = &span{}
			spans[pe.ItemID] = s
		}
		if !s.seen || pe.ChangedAt.Before(s.firstChange.ChangedAt) {
			s.firstChange = pe
		}
		if !s.seen || pe.ChangedAt.After(s.lastChange.ChangedAt) || pe.ChangedAt.Equal(s.lastChange.ChangedAt) {
			s.lastChange = pe
		}
		s.seen = true
	}

	discounts := make([]float64, 0, len(soldIDs))
	withDiscount := 0
	for id := range soldIDs {
		s := spans[id]
		if s == nil || s.firstChange.OldPrice <= 0 {
			discounts = append(discounts, 0)
			continue
		}
		pct := (s.firstChange.OldPrice - s.lastChange.NewPrice) / s.firstChange.OldPrice * 100
		discounts = append(discounts, pct)
		withDiscount++
	}
	sort.Float64s(discounts)
	return &DiscountStats{
		AvgPct:            mean(discounts),
		MedianPct:         quantile(discounts, 0.50),
		MinPct:            discounts[0],
		MaxPct:            discounts[len(discounts)-1],
		ItemsWithDiscount: withDiscount,
		TotalSoldItems:    len(soldIDs),
	}
}

// Liquidity はセルスルー率とDTS中央値から流動性スコアを合成する。
// 各成分は50点を上限にクランプし、合計も[0,100]に収める。
// 上流の分母破損などで成分が暴れても最終スコアが100を超えることはない。
// どちらかの入力がnilの場合はnil（データ無し）。
func Liquidity(dts *DTSStats, st *SellThroughStats, refs References) *LiquidityStats {
	if dts == nil || st == nil {
		return nil
	}
	if refs.SellThroughPct <= 0 {
		refs.SellThroughPct = DefaultReferenceSellThrough
	}
	if refs.DTSDays <= 0 {
		refs.DTSDays = DefaultReferenceDTSDays
	}

	stScore := math.Min(st.Percentage/refs.SellThroughPct, 1) * 50
	stScore = clamp(stScore, 0, 50)

	dtsScore := (1 - dts.Median/refs.DTSDays) * 50
	dtsScore = clamp(dtsScore, 0, 50)

	total := clamp(stScore+dtsScore, 0, 100)
	return &LiquidityStats{
		Score:            total,
		SellThroughScore: stScore,
		DTSScore:         dtsScore,
		Grade:            grade(total),
	}
}

// grade はスコアをA〜Dの等級へ写像する。
func grade(score float64) string {
	switch {
	case score >= 75:
		return "A"
	case score >= 50:
		return "B"
	case score >= 25:
		return "C"
	default:
		return "D"
	}
}

// quantile はソート済みスライスの分位点を線形補間で求める。
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(x, hi))
}

// Metadata はKPIバンドルの算出条件を記録する。
type Metadata struct {
	CalculatedAt time.Time            `json:"calculated_at"`
	Counts       model.ListingCounts  `json:"counts"`
	Filter       model.FilterCriteria `json:"filter"`
}

// Bundle はダッシュボードへ返すKPIの束。
// 各フィールドのnilはJSONのnullとして描画され、「データ無し」を意味する。
type Bundle struct {
	PriceDistribution *PriceStats       `json:"price_distribution"`
	DTS               *DTSStats         `json:"dts"`
	SellThrough30d    *SellThroughStats `json:"sell_through_30d"`
	DiscountToSell    *DiscountStats    `json:"discount_to_sell"`
	Liquidity         *LiquidityStats   `json:"liquidity"`
	Metadata          Metadata          `json:"metadata"`
}
