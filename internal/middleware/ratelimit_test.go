package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     2, // 2 req/sec
		GeneralBurst:    5, // バースト5
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	mw := rl.Middleware()

	handlerCallCount := 0
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCallCount++
		w.WriteHeader(http.StatusOK)
	}))

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/kpis", nil)
		req.RemoteAddr = "192.0.2.1:54321"
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	if handlerCallCount != 5 {
		t.Errorf("handler call count = %d, want 5", handlerCallCount)
	}
}

func TestRateLimitMiddleware_Returns429WhenLimitExceeded(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     1, // 1 req/sec
		GeneralBurst:    2, // バースト2
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	mw := rl.Middleware()

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// バースト分（2回）は通る
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/kpis", nil)
		req.RemoteAddr = "192.0.2.2:54321"
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	// 3回目は429
	req := httptest.NewRequest(http.MethodGet, "/api/kpis", nil)
	req.RemoteAddr = "192.0.2.2:54321"
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}

	// Retry-Afterヘッダーの検証
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		t.Error("Retry-Afterヘッダーが設定されていない")
	} else if sec, err := strconv.Atoi(retryAfter); err != nil || sec < 1 {
		t.Errorf("Retry-After = %q, want 1以上の整数", retryAfter)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("レスポンスボディのデコードに失敗: %v", err)
	}
	if body["code"] != "rate_limit_exceeded" {
		t.Errorf("code = %q, want %q", body["code"], "rate_limit_exceeded")
	}
}

func TestRateLimitMiddleware_LimitsPerClientIP(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	mw := rl.Middleware()
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// IP Aがバーストを消費
	reqA := httptest.NewRequest(http.MethodGet, "/api/kpis", nil)
	reqA.RemoteAddr = "192.0.2.10:1000"
	wA := httptest.NewRecorder()
	handler.ServeHTTP(wA, reqA)
	if wA.Result().StatusCode != http.StatusOK {
		t.Fatalf("IP A 1回目: status = %d, want %d", wA.Result().StatusCode, http.StatusOK)
	}

	// IP Bは独立して制限を持つ
	reqB := httptest.NewRequest(http.MethodGet, "/api/kpis", nil)
	reqB.RemoteAddr = "192.0.2.20:1000"
	wB := httptest.NewRecorder()
	handler.ServeHTTP(wB, reqB)
	if wB.Result().StatusCode != http.StatusOK {
		t.Errorf("IP B 1回目: status = %d, want %d", wB.Result().StatusCode, http.StatusOK)
	}

	if rl.LimiterCount() != 2 {
		t.Errorf("limiter count = %d, want 2", rl.LimiterCount())
	}
}

func TestClientIP_XForwardedForTakesPrecedence(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:9999"
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")

	if got := ClientIP(req); got != "203.0.113.5" {
		t.Errorf("ClientIP = %q, want %q", got, "203.0.113.5")
	}
}

func TestClientIP_FallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:12345"

	if got := ClientIP(req); got != "198.51.100.7" {
		t.Errorf("ClientIP = %q, want %q", got, "198.51.100.7")
	}
}
