package normalize

import "strings"

// 季節ラベルの統制語彙。判定不能の場合は空文字を用いる。
const (
	SeasonSummer  = "summer"
	SeasonWinter  = "winter"
	SeasonUnknown = ""
)

// seasonKeywords はタイトル・説明文から季節性を推定するキーワードテーブル。
// キーは小文字化して照合する。
var seasonKeywords = []struct {
	season   string
	keywords []string
}{
	{SeasonSummer, []string{
		"ss24", "ss25", "spring/summer", "verano", "primavera/verano", "summer",
	}},
	{SeasonWinter, []string{
		"fw24", "fw25", "fall/winter", "invierno", "otoño/invierno", "winter",
	}},
}

// Season はタイトルと説明文から季節ラベルを推定する。
// 一致が見つかった場合は第二戻り値がtrueになる。
func Season(title, description string) (string, bool) {
	text := strings.ToLower(title + " " + description)
	for _, s := range seasonKeywords {
		for _, kw := range s.keywords {
			if strings.Contains(text, kw) {
				return s.season, true
			}
		}
	}
	return SeasonUnknown, false
}
