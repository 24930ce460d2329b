package model

// FilterCriteria はKPI照会の絞り込み条件を表す。
// 各フィールドは複数値のOR、フィールド間はANDで結合される。
// 空スライスは「絞り込みなし」を意味する。
// KPIエンジンの境界で一度だけValidateを通し、以降の層では検証しない。
type FilterCriteria struct {
	Brands     []string        `json:"brands,omitempty"`
	Categories []string        `json:"categories,omitempty"`
	Audiences  []string        `json:"audiences,omitempty"`
	Seasons    []string        `json:"seasons,omitempty"`
	Statuses   []ListingStatus `json:"statuses,omitempty"` // 価格分布・出品一覧のみが参照する
}

// Validate はフィルタ条件を検証する。不正なステータス値が含まれる場合はAPIErrorを返す。
func (f FilterCriteria) Validate() error {
	for _, s := range f.Statuses {
		if !s.Valid() {
			return NewInvalidStatusFilterError(string(s))
		}
	}
	return nil
}

// Empty は何の絞り込みも指定されていないかを返す。
func (f FilterCriteria) Empty() bool {
	return len(f.Brands) == 0 && len(f.Categories) == 0 &&
		len(f.Audiences) == 0 && len(f.Seasons) == 0 && len(f.Statuses) == 0
}

// MatchListing は出品がフィルタ条件（ステータス含む）に一致するかを返す。
func (f FilterCriteria) MatchListing(l *Listing) bool {
	if !contains(f.Brands, l.BrandNorm) {
		return false
	}
	if !contains(f.Categories, l.CategoryNorm) {
		return false
	}
	if !contains(f.Audiences, l.Audience) {
		return false
	}
	if !contains(f.Seasons, l.Season) {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if l.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// MatchSoldEvent は売却イベントがフィルタ条件に一致するかを返す。
// ステータス条件は売却イベントには適用されない。
func (f FilterCriteria) MatchSoldEvent(e *SoldEvent) bool {
	return contains(f.Brands, e.Brand) &&
		contains(f.Categories, e.Category) &&
		contains(f.Audiences, e.Audience) &&
		contains(f.Seasons, e.Season)
}

// contains は空スライスを「常に一致」として扱うメンバーシップ判定。
func contains(values []string, v string) bool {
	if len(values) == 0 {
		return true
	}
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
