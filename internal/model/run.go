package model

import "time"

// RunStatus はパイプライン実行の結果状態を表す。
type RunStatus string

const (
	// RunStatusSucceeded は実行が正常に完了したことを示す。
	RunStatusSucceeded RunStatus = "succeeded"
	// RunStatusFailed は実行がエラーで中断したことを示す。
	RunStatusFailed RunStatus = "failed"
)

// PipelineRun は1回のパイプライン実行の記録を表す。
// 処理済みスナップショットのスキップ判定と運用時の追跡に使う。
type PipelineRun struct {
	RunID        string
	SnapshotFile string    // 処理したスナップショットのファイル名
	SnapshotAt   time.Time // ファイル名由来のスナップショット時刻
	StartedAt    time.Time
	FinishedAt   time.Time
	Status       RunStatus
	NewCount     int
	ActiveCount  int
	SoldCount    int
	EventCount   int // 生成したイベント総数（価格改定+売却）
	ErrorMessage string
}
