// Package eventlog は追記専用イベント台帳のサービス層を提供する。
// イベントの更新・削除APIは存在せず、同一event_idの再追記だけが許される。
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hitoshi/listwatch/internal/model"
	"github.com/hitoshi/listwatch/internal/repository"
)

// Service はイベント台帳への追記と照会を提供する。
type Service struct {
	events repository.EventRepository
}

// NewService はServiceを生成する。
func NewService(events repository.EventRepository) *Service {
	return &Service{events: events}
}

// Append は価格改定イベントと売却イベントを同一トランザクションで追記する。
// バッチ内のevent_id重複は同一スナップショットからの二重生成を意味するため、
// 永続化前に検出して失敗させる。既存行との衝突（再処理）は後勝ちで上書きされる。
func (s *Service) Append(ctx context.Context, tx *sql.Tx, prices []model.PriceChangeEvent, solds []model.SoldEvent) error {
	seen := make(map[string]struct{}, len(prices)+len(solds))
	for i := range prices {
		if _, dup := seen[prices[i].EventID]; dup {
			return model.NewIntegrityError(prices[i].ItemID,
				fmt.Sprintf("バッチ内でevent_idが重複 (%s)", prices[i].EventID))
		}
		seen[prices[i].EventID] = struct{}{}
	}
	for i := range solds {
		if _, dup := seen[solds[i].EventID]; dup {
			return model.NewIntegrityError(solds[i].ItemID,
				fmt.Sprintf("バッチ内でevent_idが重複 (%s)", solds[i].EventID))
		}
		seen[solds[i].EventID] = struct{}{}
	}

	if len(prices) > 0 {
		if err := s.events.AppendPriceChanges(ctx, tx, prices); err != nil {
			return err
		}
	}
	if len(solds) > 0 {
		if err := s.events.AppendSoldEvents(ctx, tx, solds); err != nil {
			return err
		}
	}

	slog.Info("イベントを追記しました",
		"price_changes", len(prices),
		"sold_events", len(solds),
	)
	return nil
}

// SoldEvents は確信度下限とフィルタに一致する売却イベントを返す。
func (s *Service) SoldEvents(ctx context.Context, filter model.FilterCriteria, minConfidence float64) ([]model.SoldEvent, error) {
	return s.events.ListSoldEvents(ctx, filter, minConfidence)
}

// PriceChangesForItems は指定item_id群の価格改定イベントを時系列順で返す。
func (s *Service) PriceChangesForItems(ctx context.Context, itemIDs []string) ([]model.PriceChangeEvent, error) {
	return s.events.ListPriceChangesForItems(ctx, itemIDs)
}
