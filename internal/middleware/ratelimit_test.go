package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func testRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    2,
		AuthorizeRate:   1,
		AuthorizeBurst:  1,
		CleanupInterval: 1 * time.Minute,
	}
}

// tenantRequest はテナントIDをコンテキストに持つリクエストを生成する。
func tenantRequest(tenantID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	if tenantID == "" {
		return req
	}
	return req.WithContext(ContextWithTenantID(req.Context(), tenantID))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// --- GeneralMiddleware のテスト ---

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	cfg := testRateLimiterConfig()
	cfg.GeneralBurst = 5

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handlerCallCount := 0
	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCallCount++
		w.WriteHeader(http.StatusOK)
	}))

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, tenantRequest("tenant-1"))

		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	if handlerCallCount != 5 {
		t.Errorf("handler call count = %d, want 5", handlerCallCount)
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfterHeader(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	// バースト分（2回）は通る
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, tenantRequest("tenant-limited"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	// 3回目はレート制限に引っかかる
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, tenantRequest("tenant-limited"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	retryAfter := w.Header().Get("Retry-After")
	sec, err := strconv.Atoi(retryAfter)
	if err != nil || sec < 1 {
		t.Errorf("Retry-After = %q, want positive integer", retryAfter)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["code"] != "RATE_LIMITED" || body["category"] != "system" {
		t.Errorf("body = %v", body)
	}
}

func TestRateLimitMiddleware_IsolatesTenantRateLimits(t *testing.T) {
	cfg := testRateLimiterConfig()
	cfg.GeneralBurst = 1

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for _, tenant := range []string{"tenant-a", "tenant-b"} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, tenantRequest(tenant))
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want %d", tenant, w.Code, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, tenantRequest("tenant-a"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("tenant-a second request: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	if got := rl.GeneralLimiterCount(); got != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", got)
	}
}

func TestRateLimitMiddleware_NoTenantUsesOperatorKey(t *testing.T) {
	cfg := testRateLimiterConfig()
	cfg.GeneralBurst = 1

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, tenantRequest(""))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, tenantRequest(""))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
}

// --- AuthorizeMiddleware のテスト ---

func TestAuthorizeRateLimit_PerSlotAndIndependentFromGeneral(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	r := chi.NewRouter()
	r.Use(rl.GeneralMiddleware())
	r.With(rl.AuthorizeMiddleware()).Post("/api/credentials/{slot}/authorize", okHandler().ServeHTTP)

	do := func(slot string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/credentials/"+slot+"/authorize", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := do("1"); code != http.StatusOK {
		t.Fatalf("slot 1 first: status = %d", code)
	}
	if code := do("1"); code != http.StatusTooManyRequests {
		t.Errorf("slot 1 second: status = %d, want 429", code)
	}
	// 一般のバーストは2なので、スロット2の1回目は両方の制限を通る
	if code := do("2"); code != http.StatusOK {
		t.Errorf("slot 2 first: status = %d, want 200", code)
	}
	if got := rl.AuthorizeLimiterCount(); got != 2 {
		t.Errorf("AuthorizeLimiterCount = %d, want 2", got)
	}
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())
	handler.ServeHTTP(httptest.NewRecorder(), tenantRequest("tenant-old"))

	if rl.GeneralLimiterCount() != 1 {
		t.Fatalf("GeneralLimiterCount = %d, want 1", rl.GeneralLimiterCount())
	}

	// CleanupIntervalの2倍以内は残る
	rl.cleanup(time.Now().Add(90 * time.Second))
	if rl.GeneralLimiterCount() != 1 {
		t.Errorf("entry should be kept, count = %d", rl.GeneralLimiterCount())
	}

	rl.cleanup(time.Now().Add(3 * time.Minute))
	if rl.GeneralLimiterCount() != 0 {
		t.Errorf("entry should be removed, count = %d", rl.GeneralLimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

func TestNewRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if float64(cfg.GeneralRate) != 2.0 {
		t.Errorf("GeneralRate = %v, want 2", cfg.GeneralRate)
	}
	if cfg.AuthorizeBurst != 5 {
		t.Errorf("AuthorizeBurst = %d, want 5", cfg.AuthorizeBurst)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}

	clamped := NewRateLimiterConfig(0, -1)
	if clamped.GeneralBurst != 1 || clamped.AuthorizeBurst != 1 {
		t.Errorf("non-positive limits should clamp to 1, got %+v", clamped)
	}
}
