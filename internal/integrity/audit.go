// Package integrity はスナップショットストアとイベントログの健全性監査を提供する。
// 過去に実際に発生した破損パターン（負のdays_to_sell、sold→activeの逆転、
// item_id重複）を定期的に検査し、KPIが静かに汚染されるのを防ぐ。
package integrity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/listwatch/internal/model"
	"github.com/hitoshi/listwatch/internal/repository"
)

// Finding は監査で検出された1件の異常を表す。
type Finding struct {
	Check  string // 検査名
	ItemID string
	Detail string
}

// Report は1回の監査の結果を保持する。
type Report struct {
	AuditedAt      time.Time
	ListingCount   int
	SoldEventCount int
	Findings       []Finding
}

// Clean は異常が1件も検出されなかったかを返す。
func (r *Report) Clean() bool {
	return len(r.Findings) == 0
}

// Auditor はストア全体を走査して整合性違反を検出する。
type Auditor struct {
	listings repository.ListingRepository
	events   repository.EventRepository
}

// NewAuditor はAuditorを生成する。
func NewAuditor(listings repository.ListingRepository, events repository.EventRepository) *Auditor {
	return &Auditor{listings: listings, events: events}
}

// Run は監査を実行する。異常が見つかった場合、Reportに全件を記録した上で
// IntegrityErrorを返す。I/Oエラーとデータ異常は区別される。
func (a *Auditor) Run(ctx context.Context) (*Report, error) {
	report := &Report{AuditedAt: time.Now().UTC()}

	listings, err := a.listings.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("監査用の出品読み込みに失敗しました: %w", err)
	}
	report.ListingCount = len(listings)

	// 確信度を問わず全売却イベントを走査する
	soldEvents, err := a.events.ListSoldEvents(ctx, model.FilterCriteria{}, 0)
	if err != nil {
		return nil, fmt.Errorf("監査用の売却イベント読み込みに失敗しました: %w", err)
	}
	report.SoldEventCount = len(soldEvents)

	report.Findings = append(report.Findings, checkDuplicateIDs(listings)...)
	report.Findings = append(report.Findings, checkObservationOrder(listings)...)
	report.Findings = append(report.Findings, checkSoldEvents(listings, soldEvents)...)
	report.Findings = append(report.Findings, checkConservation(ctx, a.listings, listings)...)

	for _, f := range report.Findings {
		slog.Warn("整合性違反を検出しました",
			"check", f.Check,
			"item_id", f.ItemID,
			"detail", f.Detail,
		)
	}

	if !report.Clean() {
		return report, model.NewIntegrityError("", fmt.Sprintf("監査で%d件の異常を検出", len(report.Findings)))
	}
	slog.Info("整合性監査が完了しました",
		"listings", report.ListingCount,
		"sold_events", report.SoldEventCount,
	)
	return report, nil
}

// checkDuplicateIDs は出品テーブル内のitem_id重複を検出する。
func checkDuplicateIDs(listings []model.Listing) []Finding {
	var findings []Finding
	seen := make(map[string]struct{}, len(listings))
	for i := range listings {
		id := listings[i].ItemID
		if _, dup := seen[id]; dup {
			findings = append(findings, Finding{
				Check:  "duplicate_item_id",
				ItemID: id,
				Detail: "出品テーブル内でitem_idが重複",
			})
		}
		seen[id] = struct{}{}
	}
	return findings
}

// checkObservationOrder はfirst_seen_at <= last_seen_atの順序を検証する。
func checkObservationOrder(listings []model.Listing) []Finding {
	var findings []Finding
	for i := range listings {
		l := &listings[i]
		if l.LastSeenAt.Before(l.FirstSeenAt) {
			findings = append(findings, Finding{
				Check:  "observation_order",
				ItemID: l.ItemID,
				Detail: fmt.Sprintf("last_seen_at (%s) がfirst_seen_at (%s) より前",
					l.LastSeenAt.Format(time.RFC3339), l.FirstSeenAt.Format(time.RFC3339)),
			})
		}
		if !l.Status.Valid() {
			findings = append(findings, Finding{
				Check:  "invalid_status",
				ItemID: l.ItemID,
				Detail: fmt.Sprintf("未定義のステータス値 %q", l.Status),
			})
		}
	}
	return findings
}

// checkSoldEvents は売却イベントの負のDTSと、イベントを持つ出品が
// まだactiveのままになっている逆転を検出する。
func checkSoldEvents(listings []model.Listing, events []model.SoldEvent) []Finding {
	statusByID := make(map[string]model.ListingStatus, len(listings))
	for i := range listings {
		statusByID[listings[i].ItemID] = listings[i].Status
	}

	var findings []Finding
	for i := range events {
		e := &events[i]
		if e.DaysToSell < 0 {
			findings = append(findings, Finding{
				Check:  "negative_days_to_sell",
				ItemID: e.ItemID,
				Detail: fmt.Sprintf("days_to_sell = %.2f (event_id=%s)", e.DaysToSell, e.EventID),
			})
		}
		if e.SoldConfidence < 0 || e.SoldConfidence > 1 {
			findings = append(findings, Finding{
				Check:  "confidence_out_of_range",
				ItemID: e.ItemID,
				Detail: fmt.Sprintf("sold_confidence = %.2f (event_id=%s)", e.SoldConfidence, e.EventID),
			})
		}
		if status, ok := statusByID[e.ItemID]; ok && status == model.StatusActive {
			findings = append(findings, Finding{
				Check:  "sold_event_for_active_listing",
				ItemID: e.ItemID,
				Detail: fmt.Sprintf("売却イベントが存在するのに出品はactiveのまま (event_id=%s)", e.EventID),
			})
		}
	}
	return findings
}

// checkConservation はストアの件数保存則（active+sold=total）と、
// 集計クエリと全件走査の結果が一致することを検証する。
func checkConservation(ctx context.Context, repo repository.ListingRepository, listings []model.Listing) []Finding {
	counts, err := repo.CountByStatus(ctx)
	if err != nil {
		return []Finding{{
			Check:  "conservation",
			Detail: fmt.Sprintf("件数集計に失敗: %v", err),
		}}
	}

	var findings []Finding
	if !counts.Conserved() {
		findings = append(findings, Finding{
			Check:  "conservation",
			Detail: fmt.Sprintf("active=%d + sold=%d != total=%d", counts.Active, counts.Sold, counts.Total),
		})
	}
	if counts.Total != len(listings) {
		findings = append(findings, Finding{
			Check:  "conservation",
			Detail: fmt.Sprintf("集計件数 %d と走査件数 %d が不一致", counts.Total, len(listings)),
		})
	}
	return findings
}
