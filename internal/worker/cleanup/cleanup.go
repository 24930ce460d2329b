// Package cleanup はパイプライン実行記録の自動削除ジョブを提供する。
// 出品ストアとイベントログは照会のために無期限に保持するが、
// 実行記録は運用テレメトリであり、保持期間（デフォルト180日）を超えたものを
// 日次バッチで削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// RunCleanupJob は保持期間を超過したパイプライン実行記録の自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type RunCleanupJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int // 実行記録の保持日数（デフォルト: 180）
}

// NewRunCleanupJob は新しいRunCleanupJobを生成する。
// デフォルトの保持日数は180日。
func NewRunCleanupJob(db Executor, logger *slog.Logger) *RunCleanupJob {
	return &RunCleanupJob{
		db:            db,
		logger:        logger,
		RetentionDays: 180,
	}
}

// Run は保持期間を超過した実行記録を削除する。
// started_atがRetentionDays日前より古いpipeline_runsをDELETEする。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *RunCleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d days", j.RetentionDays)

	query := `DELETE FROM pipeline_runs WHERE started_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("実行記録クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("実行記録クリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("実行記録クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
