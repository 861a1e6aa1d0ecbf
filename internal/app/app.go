// Package app はアプリケーションの初期化と起動を担当する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/hifarrer/trialmatch/internal/config"
	"github.com/hifarrer/trialmatch/internal/database"
	"github.com/hifarrer/trialmatch/internal/geocode"
	"github.com/hifarrer/trialmatch/internal/handler"
	"github.com/hifarrer/trialmatch/internal/logger"
	"github.com/hifarrer/trialmatch/internal/match"
	"github.com/hifarrer/trialmatch/internal/metrics"
	"github.com/hifarrer/trialmatch/internal/middleware"
	"github.com/hifarrer/trialmatch/internal/repository"
	"github.com/hifarrer/trialmatch/internal/security"
	"github.com/hifarrer/trialmatch/internal/trials"
	"github.com/hifarrer/trialmatch/internal/usertrials"

	"golang.org/x/time/rate"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーと
// マッチ永続化ワーカーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
// 永続化キューに残ったジョブはシャットダウン時に処理しきってから終了する。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	matchRepo := repository.NewPostgresMatchRepo(db, slog.Default())
	trialCacheRepo := repository.NewPostgresTrialCacheRepo(db)

	// 3. セキュリティサービスの初期化
	// 外部APIのベースURLは環境変数で差し替え可能なため、起動時に検証する
	ssrfGuard := security.NewSSRFGuard()
	for _, baseURL := range []string{cfg.TrialsAPIBaseURL, cfg.GeocoderBaseURL} {
		if err := ssrfGuard.ValidateURL(baseURL); err != nil {
			return fmt.Errorf("unsafe external API base URL: %w", err)
		}
	}
	sanitizer := security.NewTextSanitizer()

	// 4. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 5. 外部APIクライアントの初期化
	trialsClient := trials.NewClient(ssrfGuard.NewSafeClient(cfg.HTTPTimeout), slog.Default())
	trialsClient.SetEndpoint(cfg.TrialsAPIBaseURL)

	var geocodeCache geocode.CoordinateCache
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse redis URL: %w", err)
		}
		geocodeCache = geocode.NewRedisCache(redis.NewClient(opts), slog.Default(), cfg.GeocodeCacheTTL)
		slog.Info("geocode cache enabled")
	}

	// Nominatimの利用規約に従い1 req/secに制限する
	geocoder := geocode.NewClient(
		ssrfGuard.NewSafeClient(cfg.HTTPTimeout),
		rate.NewLimiter(rate.Every(time.Second), 1),
		geocodeCache,
		slog.Default(),
	)
	geocoder.SetEndpoint(cfg.GeocoderBaseURL)
	geocoder.SetUserAgent(cfg.GeocoderUserAgent)

	// 6. ドメインサービスの初期化
	normalizer := trials.NewNormalizer(sanitizer)

	persistQueue := match.NewPersistQueue(
		matchRepo, trialCacheRepo, slog.Default(), collector, cfg.PersistQueueSize,
	)

	matchService := match.NewService(
		geocoder, trialsClient, normalizer, persistQueue,
		slog.Default(), collector,
		match.ServiceConfig{
			PageSize:       cfg.SearchPageSize,
			GeoRadiusMiles: cfg.GeoRadiusMiles,
		},
	)

	userTrialsService := usertrials.NewService(
		matchRepo, trialCacheRepo, trialsClient, normalizer,
		slog.Default(), collector,
	)

	// 7. ルーターの構築
	// configのレート制限はreq/min単位なのでreq/secに変換する
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.SearchRate = rate.Limit(float64(cfg.RateLimitSearch) / 60.0)
	rateLimiterCfg.SearchBurst = cfg.RateLimitSearch

	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       middleware.NewRateLimiter(rateLimiterCfg),

		MatchService:      matchService,
		UserTrialsService: userTrialsService,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),
	})

	// 8. 永続化ワーカーの起動
	queueCtx, queueCancel := context.WithCancel(context.Background())
	queueDone := make(chan struct{})
	go func() {
		defer close(queueDone)
		persistQueue.Start(queueCtx)
	}()

	// 9. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		queueCancel()
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// 新規リクエストの受付を止めてからキューの残りを処理しきる
	queueCancel()
	<-queueDone

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
