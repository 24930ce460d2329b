// Package model はドメインモデルを定義する。
package model

import "time"

// ListingStatus は出品のライフサイクル状態を表す。
// 遷移は active → sold の一方向のみで、sold から戻ることはない。
type ListingStatus string

const (
	// StatusActive は出品が直近のスナップショットで観測されていることを示す。
	StatusActive ListingStatus = "active"
	// StatusSold は出品がスナップショットから消失し、売却済みと推定されたことを示す。
	StatusSold ListingStatus = "sold"
)

// Valid はステータス値が定義済みのものかを返す。
func (s ListingStatus) Valid() bool {
	return s == StatusActive || s == StatusSold
}

// RawItem はスクレイピング層から受け取る生の出品レコードを表す。
// 正規化前のデータであり、NormalizerとReconcilerへの入力となる。
// Descriptionはシーズンタグのキーワードマッチにのみ使用し、永続化しない。
type RawItem struct {
	ItemID       string
	BrandRaw     string
	CategoryRaw  string
	Title        string
	ConditionRaw string
	Audience     string
	Price        float64
	Currency     string
	PublishedAt  *time.Time // スクレイパーが取得した出品日（取れない場合はnil）
	Description  string
}

// NormalizedItem は正規化済みのスナップショット項目を表す。
// Reconcilerへの入力単位。
type NormalizedItem struct {
	RawItem
	BrandNorm       string
	CategoryNorm    string
	ConditionBucket string
	Season          string // "summer" / "winter" / ""（判定不能）
}

// Listing は追跡中の一意な出品1件の現在状態を表す。
// item_idをキーにスナップショットストアで永続化され、
// パイプライン実行のたびに上書き更新される。sold後も削除されず照会可能なまま残る。
type Listing struct {
	ItemID          string        `json:"item_id"`
	BrandRaw        string        `json:"brand_raw"`
	BrandNorm       string        `json:"brand"`
	CategoryRaw     string        `json:"category_raw"`
	CategoryNorm    string        `json:"category"`
	Title           string        `json:"title"`
	ConditionRaw    string        `json:"condition_raw"`
	ConditionBucket string        `json:"condition"`
	Audience        string        `json:"audience"`
	Season          string        `json:"season"`
	Price           float64       `json:"price"`
	Currency        string        `json:"currency"`
	Status          ListingStatus `json:"status"`
	PublishedAt     *time.Time    `json:"published_at"`
	FirstSeenAt     time.Time     `json:"first_seen_at"` // 初回観測時刻。一度設定したら不変。
	LastSeenAt      time.Time     `json:"last_seen_at"`  // 最終観測時刻。sold後は最後に観測された値のまま凍結。
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// ListingCounts はステータス別の出品件数を表す。
// active + sold == total が常に成立しなければならない（保存則）。
type ListingCounts struct {
	Active int `json:"active"`
	Sold   int `json:"sold"`
	Total  int `json:"total"`
}

// Conserved は保存則（active+sold=total）が成立しているかを返す。
func (c ListingCounts) Conserved() bool {
	return c.Active+c.Sold == c.Total
}
