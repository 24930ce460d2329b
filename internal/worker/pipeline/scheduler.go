package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/hitoshi/listwatch/internal/model"
)

// DefaultCronSpec はスクレイパーの取得間隔に合わせた既定のスケジュール。
const DefaultCronSpec = "@every 48h"

// Scheduler はcron式に従ってパイプラインを定期実行する。
type Scheduler struct {
	runner   *Runner
	logger   *slog.Logger
	cronSpec string
}

// NewScheduler はSchedulerを生成する。cronSpecが空の場合は既定値を使用する。
func NewScheduler(runner *Runner, logger *slog.Logger, cronSpec string) *Scheduler {
	if cronSpec == "" {
		cronSpec = DefaultCronSpec
	}
	return &Scheduler{runner: runner, logger: logger, cronSpec: cronSpec}
}

// Start はスケジューラを起動する。起動直後に1回実行し、
// 以降はcron式に従って繰り返す。コンテキストのキャンセルで停止する。
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("パイプラインスケジューラを開始しました",
		slog.String("cron", s.cronSpec),
	)

	// 起動直後に1回実行。スナップショット未到着は異常ではない。
	s.runOnce(ctx)

	c := cron.New()
	_, err := c.AddFunc(s.cronSpec, func() {
		s.runOnce(ctx)
	})
	if err != nil {
		return err
	}
	c.Start()

	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	s.logger.Info("パイプラインスケジューラを停止しました")
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context) {
	err := s.runner.RunOnce(ctx)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrNoSnapshot):
		s.logger.Warn("処理対象のスナップショットがありません")
	default:
		s.logger.Error("パイプライン実行サイクルに失敗しました",
			slog.String("error", err.Error()),
		)
	}
}
