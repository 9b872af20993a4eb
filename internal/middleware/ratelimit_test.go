package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/hitoshi/servease-console/internal/model"
)

// sessionRequest はブラウザセッション付きのリクエストを生成する。
func sessionRequest(t *testing.T, method, path, userID string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	return req.WithContext(signedInContext(t, req.Context(), userID))
}

// --- GeneralMiddleware（画面全般）のテスト ---

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     2,  // 2 req/sec
		GeneralBurst:    5,  // バースト5
		AuthRate:        1,  // 未使用
		AuthBurst:       10, // 未使用
		CleanupInterval: 1 * time.Minute,
	}

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
		handler.ServeHTTP(w, sessionRequest(t, http.MethodGet, "/admin/users", "user-1"))

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	if handlerCallCount != 5 {
		t.Errorf("handler call count = %d, want 5", handlerCallCount)
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfter(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     0.5, // 2秒に1トークン
		GeneralBurst:    2,
		AuthRate:        1,
		AuthBurst:       10,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// バースト分（2回）は通る
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, sessionRequest(t, http.MethodGet, "/admin/users", "user-rate-limit"))
		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	// 3回目はレート制限に引っかかる
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, sessionRequest(t, http.MethodGet, "/admin/users", "user-rate-limit"))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
	retryAfter, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After should be an integer: %v", err)
	}
	if retryAfter != 2 {
		t.Errorf("Retry-After = %d, want 2", retryAfter)
	}
}

func TestRateLimitMiddleware_IsolatesSessions(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		AuthRate:        1,
		AuthBurst:       10,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// セッションAがバーストを使い切る
	handler.ServeHTTP(httptest.NewRecorder(), sessionRequest(t, http.MethodGet, "/admin/users", "user-a"))
	wA := httptest.NewRecorder()
	handler.ServeHTTP(wA, sessionRequest(t, http.MethodGet, "/admin/users", "user-a"))
	if wA.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("session A: status = %d, want %d", wA.Result().StatusCode, http.StatusTooManyRequests)
	}

	// セッションBは影響を受けない
	wB := httptest.NewRecorder()
	handler.ServeHTTP(wB, sessionRequest(t, http.MethodGet, "/admin/users", "user-b"))
	if wB.Result().StatusCode != http.StatusOK {
		t.Errorf("session B: status = %d, want %d", wB.Result().StatusCode, http.StatusOK)
	}
}

func TestRateLimitMiddleware_NoSession_LimitsByRemoteAddr(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		AuthRate:        1,
		AuthBurst:       10,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Result().StatusCode
	}

	if got := send("10.0.0.1:1234"); got != http.StatusOK {
		t.Errorf("first request: status = %d, want 200", got)
	}
	if got := send("10.0.0.1:5678"); got != http.StatusTooManyRequests {
		t.Errorf("same host, other port: status = %d, want 429", got)
	}
	if got := send("10.0.0.2:1234"); got != http.StatusOK {
		t.Errorf("other host: status = %d, want 200", got)
	}
}

// --- AuthMiddleware（認証フォーム送信）のテスト ---

func TestAuthRateLimit_Returns429WhenLimitExceeded(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     100,
		GeneralBurst:    100,
		AuthRate:        1, // 1 req/sec
		AuthBurst:       1, // バースト1
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.AuthMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusSeeOther)
	}))

	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, sessionRequest(t, http.MethodPost, "/auth/login", "anon-1"))
	if w1.Result().StatusCode != http.StatusSeeOther {
		t.Errorf("first POST: status = %d, want %d", w1.Result().StatusCode, http.StatusSeeOther)
	}

	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, sessionRequest(t, http.MethodPost, "/auth/login", "anon-1"))
	if w2.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("second POST: status = %d, want %d", w2.Result().StatusCode, http.StatusTooManyRequests)
	}
}

func TestAuthRateLimit_KeyedByAddressNotSession(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     100,
		GeneralBurst:    100,
		AuthRate:        1,
		AuthBurst:       1,
		CleanupInterval: time.Minute,
	})
	defer rl.Stop()

	handler := rl.AuthMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, sessionRequest(t, http.MethodPost, "/auth/verify-otp", "anon-a"))
	if w1.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want 200", w1.Code)
	}

	// 別のセッションでも同じアドレスなら制限される
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, sessionRequest(t, http.MethodPost, "/auth/verify-otp", "anon-b"))
	if w2.Code != http.StatusTooManyRequests {
		t.Errorf("second session from same address: status = %d, want 429", w2.Code)
	}
}

func TestRateLimitMiddleware_NewlyIssuedSessions_ShareAddressLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		AuthRate:        1,
		AuthBurst:       1,
		CleanupInterval: time.Minute,
	})
	defer rl.Stop()

	provider := &mockStoreProvider{repo: &memRepo{}}
	handler := NewSessionMiddleware(provider, testSessionConfig())(rl.GeneralMiddleware()(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})))

	codes := make([]int, 2)
	for i := range codes {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
		codes[i] = w.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("statuses = %v, want [200 429]", codes)
	}
	if rl.GeneralLimiterCount() != 1 {
		t.Errorf("GeneralLimiterCount = %d, want 1", rl.GeneralLimiterCount())
	}
}

func TestAuthRateLimit_SafeMethodsAreNotLimited(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     100,
		GeneralBurst:    100,
		AuthRate:        1,
		AuthBurst:       1,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.AuthMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, sessionRequest(t, http.MethodGet, "/auth/login", "anon-get"))
		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("GET %d: status = %d, want 200", i, w.Result().StatusCode)
		}
	}
	if rl.AuthLimiterCount() != 0 {
		t.Errorf("AuthLimiterCount = %d, GET should not create entries", rl.AuthLimiterCount())
	}
}

func TestAuthRateLimit_IndependentFromGeneralLimit(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		AuthRate:        1,
		AuthBurst:       1,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	generalHandler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	authHandler := rl.AuthMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// 画面全般のバーストを消費
	generalHandler.ServeHTTP(httptest.NewRecorder(), sessionRequest(t, http.MethodGet, "/admin/users", "user-indep"))

	// 認証フォーム送信は独立して許可される
	w := httptest.NewRecorder()
	authHandler.ServeHTTP(w, sessionRequest(t, http.MethodPost, "/auth/login", "user-indep"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("auth post should still be allowed: status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestRateLimitMiddleware_429ResponseIsJSON(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		AuthRate:        1,
		AuthBurst:       10,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// バースト消費
	handler.ServeHTTP(httptest.NewRecorder(), sessionRequest(t, http.MethodGet, "/admin/users", "user-json-test"))

	// 429レスポンス
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, sessionRequest(t, http.MethodGet, "/admin/users", "user-json-test"))

	resp := w2.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("Content-Type = %q, want %q", contentType, "application/json")
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if body["code"] != model.ErrCodeRateLimited {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeRateLimited)
	}
	if body["message"] == "" {
		t.Error("expected 'message' field in error response")
	}
	if body["category"] == "" {
		t.Error("expected 'category' field in error response")
	}
}

// --- クリーンアップのテスト ---

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     2,
		GeneralBurst:    5,
		AuthRate:        1,
		AuthBurst:       10,
		CleanupInterval: 50 * time.Millisecond, // テスト用に短く
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), sessionRequest(t, http.MethodGet, "/admin/users", "user-cleanup"))

	if rl.GeneralLimiterCount() == 0 {
		t.Fatal("expected at least one limiter entry")
	}

	// TTLはCleanupIntervalの2倍（100ms）。300ms待てば削除されている
	time.Sleep(300 * time.Millisecond)

	if count := rl.GeneralLimiterCount(); count != 0 {
		t.Errorf("expected 0 limiter entries after cleanup, got %d", count)
	}
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.GeneralRate != 2 {
		t.Errorf("GeneralRate = %v, want 2", cfg.GeneralRate)
	}
	if cfg.AuthRate == 0 {
		t.Error("AuthRate should not be 0")
	}
	if cfg.AuthBurst != 10 {
		t.Errorf("AuthBurst = %d, want 10", cfg.AuthBurst)
	}
	if cfg.CleanupInterval <= 0 {
		t.Error("CleanupInterval should be positive")
	}
}

func TestRateLimiterConfigPerMinute(t *testing.T) {
	cfg := RateLimiterConfigPerMinute(60, 6)

	if cfg.GeneralRate != 1 {
		t.Errorf("GeneralRate = %v, want 1", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 60 || cfg.AuthBurst != 6 {
		t.Errorf("bursts = %d/%d, want 60/6", cfg.GeneralBurst, cfg.AuthBurst)
	}
}
