// Package pipeline はスナップショット照合のバッチ実行を提供する。
// 発見→正規化→照合→永続化を単一トランザクションで行うランナーと、
// cron式によるスケジューラを含む。
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/listwatch/internal/eventlog"
	"github.com/hitoshi/listwatch/internal/metrics"
	"github.com/hitoshi/listwatch/internal/model"
	"github.com/hitoshi/listwatch/internal/normalize"
	"github.com/hitoshi/listwatch/internal/reconcile"
	"github.com/hitoshi/listwatch/internal/repository"
	"github.com/hitoshi/listwatch/internal/snapshot"
)

// Runner は1回分のパイプライン実行を担う。
// 処理は意図的に単一スレッドで行う。スナップショット全体が1つの整合単位であり、
// 書き込みは全件置き換えの1トランザクションに閉じる。
type Runner struct {
	db        *sql.DB
	listings  repository.ListingRepository
	runs      repository.RunRepository
	events    *eventlog.Service
	collector metrics.MetricsCollector
	logger    *slog.Logger

	scrapeDir string
	opts      reconcile.Options
}

// NewRunner はRunnerを生成する。
func NewRunner(
	db *sql.DB,
	listings repository.ListingRepository,
	runs repository.RunRepository,
	events *eventlog.Service,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	scrapeDir string,
	opts reconcile.Options,
) *Runner {
	return &Runner{
		db:        db,
		listings:  listings,
		runs:      runs,
		events:    events,
		collector: collector,
		logger:    logger,
		scrapeDir: scrapeDir,
		opts:      opts,
	}
}

// RunOnce は最新スナップショットを1回処理する。
// 処理済みスナップショットは冪等にスキップされる。
// スナップショットが存在しない場合は model.ErrNoSnapshot を返す。
func (r *Runner) RunOnce(ctx context.Context) error {
	start := time.Now()

	file, err := snapshot.LatestFile(r.scrapeDir)
	if err != nil {
		if errors.Is(err, model.ErrNoSnapshot) {
			r.collector.RecordRunFailure("no_snapshot")
			return err
		}
		r.collector.RecordRunFailure("io")
		return err
	}
	fileName := filepath.Base(file.Path)

	lastProcessed, err := r.runs.LatestProcessedFile(ctx)
	if err != nil {
		r.collector.RecordRunFailure("io")
		return err
	}
	if lastProcessed == fileName {
		r.logger.Info("スナップショットは処理済みのためスキップします",
			slog.String("file", fileName),
		)
		r.collector.RecordRunSkipped()
		return nil
	}

	res, err := r.process(ctx, file, fileName, start)
	if err != nil {
		r.recordFailure(ctx, file, fileName, start, err)
		return err
	}

	r.collector.RecordRunSuccess()
	r.collector.RecordRunDuration(time.Since(start))
	r.collector.RecordReconcileOutcome(
		res.Stats.New, res.Stats.PriceChanged, res.Stats.MarkedSold,
		res.Stats.Expired, res.Stats.Deferred)
	r.collector.RecordListingCounts(res.Stats.Counts)

	r.logSummary(fileName, res, time.Since(start))
	return nil
}

// process はスナップショットを読み込み、照合結果を1トランザクションで永続化する。
func (r *Runner) process(ctx context.Context, file *snapshot.File, fileName string, start time.Time) (*reconcile.Result, error) {
	raws, err := snapshot.Load(file.Path)
	if err != nil {
		return nil, err
	}
	items := normalize.Items(raws)

	previous, err := r.listings.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(previous) == 0 {
		r.logger.Info("前回状態が空のため初回実行として処理します",
			slog.String("file", fileName),
		)
	}

	res, err := reconcile.Reconcile(previous, items, file.TakenAt, r.opts)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	if err := r.listings.ReplaceAll(ctx, tx, res.Listings); err != nil {
		return nil, err
	}
	if err := r.events.Append(ctx, tx, res.PriceChanges, res.SoldEvents); err != nil {
		return nil, err
	}

	run := &model.PipelineRun{
		RunID:        uuid.NewString(),
		SnapshotFile: fileName,
		SnapshotAt:   file.TakenAt,
		StartedAt:    start.UTC(),
		FinishedAt:   time.Now().UTC(),
		Status:       model.RunStatusSucceeded,
		NewCount:     res.Stats.New,
		ActiveCount:  res.Stats.Counts.Active,
		SoldCount:    res.Stats.Counts.Sold,
		EventCount:   len(res.PriceChanges) + len(res.SoldEvents),
	}
	if err := r.runs.Create(ctx, tx, run); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return res, nil
}

// recordFailure は失敗した実行の記録を残す。記録自体の失敗はログに留める。
func (r *Runner) recordFailure(ctx context.Context, file *snapshot.File, fileName string, start time.Time, cause error) {
	r.collector.RecordRunFailure(failureReason(cause))
	r.logger.Error("パイプライン実行に失敗しました",
		slog.String("file", fileName),
		slog.String("error", cause.Error()),
	)

	run := &model.PipelineRun{
		RunID:        uuid.NewString(),
		SnapshotFile: fileName,
		SnapshotAt:   file.TakenAt,
		StartedAt:    start.UTC(),
		FinishedAt:   time.Now().UTC(),
		Status:       model.RunStatusFailed,
		ErrorMessage: cause.Error(),
	}
	if err := r.runs.Create(ctx, nil, run); err != nil {
		r.logger.Error("失敗記録の保存に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// failureReason はメトリクスのラベルに使う失敗理由を分類する。
func failureReason(err error) string {
	var ie *model.IntegrityError
	if errors.As(err, &ie) {
		return "integrity"
	}
	if errors.Is(err, model.ErrNoSnapshot) {
		return "no_snapshot"
	}
	return "io"
}

// logSummary は実行結果の要約を出力する。保存則の検証結果を含む。
func (r *Runner) logSummary(fileName string, res *reconcile.Result, elapsed time.Duration) {
	c := res.Stats.Counts
	r.logger.Info("パイプライン実行が完了しました",
		slog.String("file", fileName),
		slog.Int("new", res.Stats.New),
		slog.Int("still_active", res.Stats.StillActive),
		slog.Int("price_changed", res.Stats.PriceChanged),
		slog.Int("marked_sold", res.Stats.MarkedSold),
		slog.Int("expired", res.Stats.Expired),
		slog.Int("deferred", res.Stats.Deferred),
		slog.Int("active", c.Active),
		slog.Int("sold", c.Sold),
		slog.Int("total", c.Total),
		slog.Bool("conserved", c.Conserved()),
		slog.Duration("elapsed", elapsed),
	)
}
