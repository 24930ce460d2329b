package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/listwatch/internal/model"
)

// PostgresRunRepo はPostgreSQLを使用したパイプライン実行記録リポジトリ。
type PostgresRunRepo struct {
	db *sql.DB
}

// NewPostgresRunRepo はPostgresRunRepoを生成する。
func NewPostgresRunRepo(db *sql.DB) *PostgresRunRepo {
	return &PostgresRunRepo{db: db}
}

var _ RunRepository = (*PostgresRunRepo)(nil)

// Create は実行記録を作成する。
// txがnilの場合はトランザクション外で書き込む（失敗記録の保存用）。
func (r *PostgresRunRepo) Create(ctx context.Context, tx *sql.Tx, run *model.PipelineRun) error {
	const query = `INSERT INTO pipeline_runs
	        (run_id, snapshot_file, snapshot_at, started_at, finished_at, status,
	         new_count, active_count, sold_count, event_count, error_message)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query,
			run.RunID, run.SnapshotFile, run.SnapshotAt, run.StartedAt, run.FinishedAt,
			string(run.Status), run.NewCount, run.ActiveCount, run.SoldCount,
			run.EventCount, run.ErrorMessage)
	} else {
		_, err = r.db.ExecContext(ctx, query,
			run.RunID, run.SnapshotFile, run.SnapshotAt, run.StartedAt, run.FinishedAt,
			string(run.Status), run.NewCount, run.ActiveCount, run.SoldCount,
			run.EventCount, run.ErrorMessage)
	}
	if err != nil {
		return fmt.Errorf("実行記録の作成に失敗しました: %w", err)
	}
	return nil
}

// LatestProcessedFile は最後に正常処理したスナップショットのファイル名を返す。
func (r *PostgresRunRepo) LatestProcessedFile(ctx context.Context) (string, error) {
	var file string
	err := r.db.QueryRowContext(ctx,
		`SELECT snapshot_file FROM pipeline_runs
		 WHERE status = $1
		 ORDER BY snapshot_at DESC, finished_at DESC
		 LIMIT 1`,
		string(model.RunStatusSucceeded),
	).Scan(&file)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("処理済みスナップショットの取得に失敗しました: %w", err)
	}
	return file, nil
}
