package model

import "time"

// 売却確信度の段階値。time_missing（最終観測からの経過時間）に対して単調増加する。
const (
	// ConfidenceConfirmed は消失期間が確定しきい値（既定: 閾値の2倍）以上の場合の確信度。
	ConfidenceConfirmed = 1.0
	// ConfidenceLikely は消失期間が判定しきい値ちょうどを超えた段階の確信度。
	ConfidenceLikely = 0.5
)

// PriceChangeEvent は価格改定イベントを表す。一度書き込んだら不変。
// 前回・今回両方のスナップショットに存在し、価格が異なる場合にのみ生成される。
// brand/categoryは照会の便宜のため正規化済みの値を非正規化して保持する。
type PriceChangeEvent struct {
	EventID   string // "PE_<item_id>_<スナップショットUnix秒>" 決定的に導出される
	ItemID    string
	OldPrice  float64
	NewPrice  float64
	ChangedAt time.Time
	Brand     string
	Category  string
}

// SoldEvent は売却推定イベントを表す。一度書き込んだら不変。
// 「売れた」の確証はなく、スナップショットからの消失に基づく推定である点に注意。
type SoldEvent struct {
	EventID          string // "SE_<item_id>_<スナップショットUnix秒>"
	ItemID           string
	Brand            string
	Category         string
	Condition        string
	Audience         string
	Season           string
	FinalListedPrice float64
	Currency         string
	FirstSeenAt      time.Time
	LastSeenAt       time.Time
	// EstimatedSoldAt は last_seen_at + スナップショット間隔の半分。
	// 実売却は最終観測と検出の間のどこかで起きたため、期待値として中間点を採る。
	EstimatedSoldAt time.Time
	// DaysToSell は first_seen_at から estimated_sold_at までの日数（小数）。
	// 負値はReconcilerのバグであり、検出時はIntegrityErrorとして実行を停止する。
	DaysToSell float64
	// ListingAgeDays は消失検出時点での出品経過日数。
	// 古すぎる出品（売却ではなく取下げの可能性が高い）のフィルタに使う。
	ListingAgeDays int
	SoldConfidence float64
}
