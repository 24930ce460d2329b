package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/listwatch/internal/kpi"
	"github.com/hitoshi/listwatch/internal/metrics"
	"github.com/hitoshi/listwatch/internal/model"
)

// KPIServiceInterface はKPIハンドラーが必要とするサービスインターフェース。
type KPIServiceInterface interface {
	// Calculate はフィルタ条件に一致するセグメントのKPI一式を算出する。
	Calculate(ctx context.Context, filter model.FilterCriteria) (*kpi.Bundle, error)
}

// KPIHandler はKPI照会のHTTPハンドラー。
type KPIHandler struct {
	service   KPIServiceInterface
	collector metrics.MetricsCollector
}

// NewKPIHandler はKPIHandlerを生成する。
func NewKPIHandler(service KPIServiceInterface, collector metrics.MetricsCollector) *KPIHandler {
	return &KPIHandler{
		service:   service,
		collector: collector,
	}
}

// GetKPIs はKPI一式を返す。
// GET /api/kpis?brand=Nike&category=Sneakers&status=active
//
// データが無い統計はゼロではなくJSONのnullとして返す。
func (h *KPIHandler) GetKPIs(w http.ResponseWriter, r *http.Request) {
	filter := parseFilterCriteria(r)

	bundle, err := h.service.Calculate(r.Context(), filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if h.collector != nil {
		h.collector.RecordKPIQuery()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(bundle)
}

// parseFilterCriteria はクエリパラメータから絞り込み条件を組み立てる。
// 各パラメータは複数回指定でき、同一パラメータ内はOR結合となる。
// 値の検証はサービス層（KPIエンジンの境界）で行う。
func parseFilterCriteria(r *http.Request) model.FilterCriteria {
	q := r.URL.Query()

	filter := model.FilterCriteria{
		Brands:     q["brand"],
		Categories: q["category"],
		Audiences:  q["audience"],
		Seasons:    q["season"],
	}

	for _, s := range q["status"] {
		filter.Statuses = append(filter.Statuses, model.ListingStatus(s))
	}

	return filter
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	var integrityErr *model.IntegrityError
	if errors.As(err, &integrityErr) {
		slog.Error("data integrity violation", slog.String("error", integrityErr.Error()))
		writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
			Code:     model.ErrCodeDataIntegrity,
			Message:  "データ整合性違反が検出されました。",
			Category: "pipeline",
			Action:   "パイプラインのログを確認してください。",
		})
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidStatusFilter, model.ErrCodeInvalidFilter:
		return http.StatusBadRequest
	case model.ErrCodeNoSnapshot:
		return http.StatusNotFound
	case model.ErrCodeDataIntegrity:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
