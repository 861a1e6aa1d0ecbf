package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hifarrer/trialmatch/internal/middleware"
)

// HealthChecker はDB疎通確認のインターフェース。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 治験検索・一覧
	MatchService      MatchServiceInterface
	UserTrialsService UserTrialsServiceInterface

	// 監視
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → UserContext → RateLimit(General)
//
// 監視ルート（/health、/metrics）はユーザーID・レート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	// 全ルートに効くミドルウェア
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	trialHandler := NewTrialHandler(deps.MatchService, deps.UserTrialsService)
	healthHandler := NewHealthHandler(deps.HealthChecker)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler.Check)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- ユーザーIDが必要なルート ---
	// ミドルウェアスタック: UserContext → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewUserContextMiddleware())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/trials", func(r chi.Router) {
			// POST /api/trials/search - 外部API照会（検索専用レート制限を追加）
			r.With(deps.RateLimiter.SearchMiddleware()).Post("/search", trialHandler.SearchTrials)

			// GET /api/trials - 保存済みマッチ一覧
			r.Get("/", trialHandler.GetUserTrials)
		})
	})

	return r
}
