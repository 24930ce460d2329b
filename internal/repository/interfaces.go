// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/listwatch/internal/model"
)

// ListingRepository はスナップショットストア（出品テーブル）の永続化インターフェース。
type ListingRepository interface {
	// LoadAll は全出品を取得する。パイプラインの前回状態読み込みに使う。
	LoadAll(ctx context.Context) ([]model.Listing, error)

	// ReplaceAll はトランザクション内で出品テーブル全体を置き換える。
	// 照合結果は前回状態と今回スナップショットの和集合であり、部分更新はしない。
	ReplaceAll(ctx context.Context, tx *sql.Tx, listings []model.Listing) error

	// ListFiltered はフィルタ条件に一致する出品を取得する。
	ListFiltered(ctx context.Context, filter model.FilterCriteria) ([]model.Listing, error)

	// CountByStatus はステータス別の件数を返す。
	CountByStatus(ctx context.Context) (model.ListingCounts, error)
}

// EventRepository は追記専用イベントログの永続化インターフェース。
// 更新・削除APIは意図的に持たない。
type EventRepository interface {
	// AppendPriceChanges は価格改定イベントを追記する。
	// event_idの衝突は同一スナップショットの再処理を意味するため、後勝ちで上書きする。
	AppendPriceChanges(ctx context.Context, tx *sql.Tx, events []model.PriceChangeEvent) error

	// AppendSoldEvents は売却推定イベントを追記する。event_id衝突は後勝ち。
	AppendSoldEvents(ctx context.Context, tx *sql.Tx, events []model.SoldEvent) error

	// ListSoldEvents はフィルタ条件と確信度下限に一致する売却イベントを取得する。
	ListSoldEvents(ctx context.Context, filter model.FilterCriteria, minConfidence float64) ([]model.SoldEvent, error)

	// ListPriceChangesForItems は指定item_id群の価格改定イベントを時系列順で取得する。
	ListPriceChangesForItems(ctx context.Context, itemIDs []string) ([]model.PriceChangeEvent, error)
}

// RunRepository はパイプライン実行記録の永続化インターフェース。
type RunRepository interface {
	// Create は実行記録を作成する。成功時はReplaceAllと同一トランザクションで呼ぶ。
	Create(ctx context.Context, tx *sql.Tx, run *model.PipelineRun) error

	// LatestProcessedFile は最後に正常処理したスナップショットのファイル名を返す。
	// 実行記録が無い場合は空文字を返す。
	LatestProcessedFile(ctx context.Context) (string, error)
}
