// Package normalize はスクレイピングされた生テキストを統制語彙へ写像する純粋関数群を提供する。
// 副作用・I/Oを持たず、すべての関数は冪等（正規化済みの値を再度通しても変化しない）。
package normalize

import (
	"strings"
	"time"

	"github.com/hitoshi/listwatch/internal/model"
)

// 状態バケットの統制語彙。
const (
	ConditionNewLikeNew   = "New/Like new"
	ConditionVeryGoodGood = "Very good/Good"
	ConditionAveragePoor  = "Average/Poor"
	ConditionUnknown      = "Unknown"
)

// brandMap はブランド表記ゆれの正規化テーブル。キーは小文字化済み。
var brandMap = map[string]string{
	"zara":          "Zara",
	"zara trafaluc": "Zara",
	"zara basic":    "Zara",
	"zara trf":      "Zara",
	"h&m":           "H&M",
	"hm":            "H&M",
	"h & m":         "H&M",
	"h&m divided":   "H&M",
	"mango":         "Mango",
	"mango suit":    "Mango",
	"nike":          "Nike",
	"nike sportswear": "Nike",
	"levi's":        "Levi's",
	"levis":         "Levi's",
	"levi strauss":  "Levi's",
}

// categoryKeywords はカテゴリ判定のキーワードテーブル。
// スペイン語・英語の両方を含む。先頭から順に評価される。
var categoryKeywords = []struct {
	norm     string
	keywords []string
}{
	{"Dress", []string{"vestido", "dress", "vestidos"}},
	{"Sneakers", []string{"zapatilla", "sneaker", "deportiva", "trainer"}},
	{"T-shirt", []string{"camiseta", "t-shirt", "tshirt", "tee", "top"}},
	{"Jeans", []string{"vaquero", "jean", "denim", "pantalón"}},
}

// conditionKeywords は状態バケット判定のキーワードテーブル。
var conditionKeywords = []struct {
	bucket   string
	keywords []string
}{
	{ConditionNewLikeNew, []string{
		"nuevo", "new", "etiqueta", "tag", "sin estrenar",
		"nunca usado", "never worn", "con etiqueta",
	}},
	{ConditionVeryGoodGood, []string{
		"muy bueno", "very good", "bueno", "good",
		"excelente", "excellent", "perfecto", "perfect",
	}},
	{ConditionAveragePoor, []string{
		"satisfactorio", "satisfactory", "aceptable", "acceptable",
		"usado", "used", "worn", "fair", "average", "poor",
	}},
}

// Brand はブランド名を正規形へ写像する。
// 未知のブランドは前後の空白を除去してそのまま通す。
func Brand(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return trimmed
	}
	if norm, ok := brandMap[strings.ToLower(trimmed)]; ok {
		return norm
	}
	return trimmed
}

// Category はカテゴリ生文字列とタイトルの両方からカテゴリ正規形を判定する。
// どのキーワードにも一致しない場合は生のラベルへフォールバックする。
func Category(raw, title string) string {
	text := strings.ToLower(raw + " " + title)
	for _, c := range categoryKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(text, kw) {
				return c.norm
			}
		}
	}
	return raw
}

// Condition は商品状態を3バケット+Unknownへ分類する。
// バケット名そのものが入力された場合はそのまま返す（冪等性の保証）。
// 空値はUnknown、どのキーワードにも一致しない値は最も確信度の低いバケットに落とす。
func Condition(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ConditionUnknown
	}

	// すでにバケット済みの値は固定点として扱う
	switch trimmed {
	case ConditionNewLikeNew, ConditionVeryGoodGood, ConditionAveragePoor, ConditionUnknown:
		return trimmed
	}

	lower := strings.ToLower(trimmed)
	for _, c := range conditionKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return c.bucket
			}
		}
	}
	return ConditionAveragePoor
}

// Item は生の出品レコードへ全正規化を適用し、照合可能なスナップショット項目を返す。
func Item(raw model.RawItem) model.NormalizedItem {
	season, _ := Season(raw.Title, raw.Description)
	return model.NormalizedItem{
		RawItem:         raw,
		BrandNorm:       Brand(raw.BrandRaw),
		CategoryNorm:    Category(raw.CategoryRaw, raw.Title),
		ConditionBucket: Condition(raw.ConditionRaw),
		Season:          season,
	}
}

// Items はスナップショット全体へItemを適用する。
func Items(raws []model.RawItem) []model.NormalizedItem {
	out := make([]model.NormalizedItem, 0, len(raws))
	for _, r := range raws {
		out = append(out, Item(r))
	}
	return out
}

// ParseTimestamp はスクレイパー由来のタイムスタンプ文字列を解釈する。
// RFC3339とその秒単位表記を受け付け、解釈できない場合はnilを返す。
func ParseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
