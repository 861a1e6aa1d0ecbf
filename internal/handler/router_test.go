package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hifarrer/trialmatch/internal/middleware"
	"github.com/hifarrer/trialmatch/internal/model"
)

// pingChecker はDB疎通確認のテスト用実装。
type pingChecker struct {
	err error
}

func (p *pingChecker) PingContext(ctx context.Context) error {
	return p.err
}

func newTestRouter(t *testing.T, deps *RouterDeps) http.Handler {
	t.Helper()
	if deps.RateLimiter == nil {
		rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
		t.Cleanup(rl.Stop)
		deps.RateLimiter = rl
	}
	if deps.MatchService == nil {
		deps.MatchService = &mockMatchService{}
	}
	if deps.UserTrialsService == nil {
		deps.UserTrialsService = &mockUserTrialsService{}
	}
	return NewRouter(deps)
}

func TestRouter_HealthEndpoint(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{HealthChecker: &pingChecker{}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want ok", resp["status"])
	}
}

func TestRouter_HealthEndpoint_DatabaseDown(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{HealthChecker: &pingChecker{err: errors.New("connection refused")}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestRouter_HealthEndpoint_SkipsUserIDCheck(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{})

	// X-User-IDヘッダーなしでアクセスできる
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("# metrics"))
	})
	router := newTestRouter(t, &RouterDeps{MetricsHandler: metricsHandler})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_MetricsEndpoint_AbsentWhenNotConfigured(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRouter_TrialsRequireUserID(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{})

	tests := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/api/trials"},
		{http.MethodPost, "/api/trials/search"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(`{}`))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestRouter_SearchRoute(t *testing.T) {
	matchSvc := &mockMatchService{
		searchFn: func(ctx context.Context, userID string, criteria model.TrialMatchCriteria) ([]model.Trial, error) {
			return []model.Trial{{NCTID: "NCT01234567", Title: "Routed Study"}}, nil
		},
	}
	router := newTestRouter(t, &RouterDeps{MatchService: matchSvc})

	req := httptest.NewRequest(http.MethodPost, "/api/trials/search", strings.NewReader(`{"cancerType":"breast"}`))
	req.Header.Set("X-User-ID", "user-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if matchSvc.lastUserID != "user-1" {
		t.Errorf("ヘッダーのユーザーIDがサービスに届いていない: %q", matchSvc.lastUserID)
	}
}

func TestRouter_ListRoute(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{})

	req := httptest.NewRequest(http.MethodGet, "/api/trials", nil)
	req.Header.Set("X-User-ID", "user-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
}

func TestRouter_SearchRateLimit(t *testing.T) {
	// 検索専用のバーストを1にして、2回目のリクエストが429になることを確認する
	cfg := middleware.DefaultRateLimiterConfig()
	cfg.SearchBurst = 1
	rl := middleware.NewRateLimiter(cfg)
	t.Cleanup(rl.Stop)

	router := newTestRouter(t, &RouterDeps{RateLimiter: rl})

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/api/trials/search", strings.NewReader(`{}`))
		req.Header.Set("X-User-ID", "user-1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != want {
			t.Errorf("リクエスト%d: status = %d, want %d", i+1, w.Code, want)
		}
	}
}

func TestRouter_SecurityHeadersApplied(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}

func TestRouter_CORSPreflights(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{CORSAllowedOrigin: "http://localhost:3000"})

	req := httptest.NewRequest(http.MethodOptions, "/api/trials", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if w.Code != http.StatusNoContent {
		t.Errorf("プリフライトのstatus = %d, want %d", w.Code, http.StatusNoContent)
	}
}
