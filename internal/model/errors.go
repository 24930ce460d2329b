package model

import (
	"errors"
	"fmt"
)

// ErrNoSnapshot は処理対象のスナップショットが1件も見つからない場合のエラー。
// 初回実行（前回状態が空）はエラーではないことに注意。入力ファイル自体の不在がこれに当たる。
var ErrNoSnapshot = errors.New("処理対象のスナップショットが見つかりません")

// IntegrityError はデータ整合性違反を表す。
// 負のdays_to_sell、sold→activeへの逆転、スナップショット内のitem_id重複など、
// 黙って握りつぶすと破損したKPIを生むため、検出時は実行を即座に失敗させる。
type IntegrityError struct {
	Reason string
	ItemID string
}

// Error はerrorインターフェースを実装する。
func (e *IntegrityError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("データ整合性違反 (item_id=%s): %s", e.ItemID, e.Reason)
	}
	return fmt.Sprintf("データ整合性違反: %s", e.Reason)
}

// NewIntegrityError はIntegrityErrorを生成する。
func NewIntegrityError(itemID, reason string) *IntegrityError {
	return &IntegrityError{ItemID: itemID, Reason: reason}
}

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, pipeline, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidStatusFilter = "INVALID_STATUS_FILTER"
	ErrCodeInvalidFilter       = "INVALID_FILTER"
	ErrCodeNoSnapshot          = "NO_SNAPSHOT"
	ErrCodeDataIntegrity       = "DATA_INTEGRITY"
)

// NewInvalidStatusFilterError は無効なステータスフィルタエラーを生成する。
func NewInvalidStatusFilterError(status string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStatusFilter,
		Message:  fmt.Sprintf("無効なステータスフィルタです: %s", status),
		Category: "validation",
		Action:   "statusには active または sold を指定してください。",
	}
}

// NewInvalidFilterError は無効なフィルタパラメータエラーを生成する。
func NewInvalidFilterError(param, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFilter,
		Message:  fmt.Sprintf("無効なフィルタパラメータ %s: %s", param, reason),
		Category: "validation",
		Action:   "クエリパラメータの形式を確認してください。",
	}
}
