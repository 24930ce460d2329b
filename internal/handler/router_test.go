package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/listwatch/internal/kpi"
	"github.com/hitoshi/listwatch/internal/middleware"
	"github.com/hitoshi/listwatch/internal/model"
)

// mockPinger はDBPingerのテスト用モック。
type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error {
	return m.err
}

func newTestRouter(t *testing.T, pinger DBPinger) http.Handler {
	t.Helper()

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	return NewRouter(&RouterDeps{
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		KPIService:        &mockKPIService{bundle: &kpi.Bundle{Metadata: kpi.Metadata{CalculatedAt: time.Now()}}},
		ListingService:    &mockListingService{counts: model.ListingCounts{}},
		DB:                pinger,
	})
}

func TestRouter_KPIRoute(t *testing.T) {
	router := newTestRouter(t, &mockPinger{})

	req := httptest.NewRequest(http.MethodGet, "/api/kpis", nil)
	req.RemoteAddr = "192.0.2.1:1000"
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("GET /api/kpis: status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestRouter_ListingsRoute(t *testing.T) {
	router := newTestRouter(t, &mockPinger{})

	req := httptest.NewRequest(http.MethodGet, "/api/listings", nil)
	req.RemoteAddr = "192.0.2.1:1000"
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("GET /api/listings: status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestRouter_HealthRoute_DatabaseOK(t *testing.T) {
	router := newTestRouter(t, &mockPinger{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("レスポンスボディのデコードに失敗: %v", err)
	}
	if body.Status != "ok" || body.Database != "ok" {
		t.Errorf("body = %+v, want status/database ok", body)
	}
}

func TestRouter_HealthRoute_DatabaseUnreachable(t *testing.T) {
	router := newTestRouter(t, &mockPinger{err: errors.New("connection refused")})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("レスポンスボディのデコードに失敗: %v", err)
	}
	if body.Database != "unreachable" {
		t.Errorf("database = %q, want unreachable", body.Database)
	}
}

func TestRouter_SecurityHeadersApplied(t *testing.T) {
	router := newTestRouter(t, &mockPinger{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if got := w.Result().Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := w.Result().Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q, want http://localhost:3000", got)
	}
}

func TestRouter_UnknownRoute_Returns404(t *testing.T) {
	router := newTestRouter(t, &mockPinger{})

	req := httptest.NewRequest(http.MethodGet, "/api/unknown", nil)
	req.RemoteAddr = "192.0.2.1:1000"
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNotFound)
	}
}
