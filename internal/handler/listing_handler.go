package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/listwatch/internal/model"
)

// ListingServiceInterface は出品ハンドラーが必要とするサービスインターフェース。
type ListingServiceInterface interface {
	// ListFiltered はフィルタ条件に一致する出品を取得する。
	ListFiltered(ctx context.Context, filter model.FilterCriteria) ([]model.Listing, error)
	// CountByStatus はステータス別の件数を返す。
	CountByStatus(ctx context.Context) (model.ListingCounts, error)
}

// ListingHandler は出品照会のHTTPハンドラー。
type ListingHandler struct {
	service ListingServiceInterface
}

// NewListingHandler はListingHandlerを生成する。
func NewListingHandler(service ListingServiceInterface) *ListingHandler {
	return &ListingHandler{service: service}
}

// listingsResponse は出品一覧のAPIレスポンス。
type listingsResponse struct {
	Counts   model.ListingCounts `json:"counts"`
	Listings []model.Listing     `json:"listings"`
}

// ListListings はフィルタ条件に一致する出品一覧とステータス別件数を返す。
// GET /api/listings?brand=Nike&status=sold
func (h *ListingHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	filter := parseFilterCriteria(r)

	if err := filter.Validate(); err != nil {
		handleServiceError(w, err)
		return
	}

	listings, err := h.service.ListFiltered(r.Context(), filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	counts, err := h.service.CountByStatus(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if listings == nil {
		listings = []model.Listing{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listingsResponse{
		Counts:   counts,
		Listings: listings,
	})
}
