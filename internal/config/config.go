package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Redis（ジオコーディング結果のキャッシュ。空の場合はキャッシュ無効）
	RedisURL string

	// 外部API
	TrialsAPIBaseURL  string
	GeocoderBaseURL   string
	GeocoderUserAgent string

	// 外部API呼び出し
	HTTPTimeout     time.Duration
	SearchPageSize  int
	GeoRadiusMiles  int
	GeocodeCacheTTL time.Duration

	// 永続化キュー
	PersistQueueSize int

	// Rate Limit
	RateLimitGeneral int
	RateLimitSearch  int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.TrialsAPIBaseURL = getEnvString("TRIALS_API_BASE_URL", "https://clinicaltrials.gov/api/v2")
	cfg.GeocoderBaseURL = getEnvString("GEOCODER_BASE_URL", "https://nominatim.openstreetmap.org")
	cfg.GeocoderUserAgent = getEnvString("GEOCODER_USER_AGENT", "TrialMatch/1.0 Clinical Trial Dashboard")
	cfg.HTTPTimeout = getEnvDuration("HTTP_TIMEOUT", 10*time.Second)
	cfg.SearchPageSize = getEnvInt("SEARCH_PAGE_SIZE", 10)
	cfg.GeoRadiusMiles = getEnvInt("GEO_RADIUS_MILES", 50)
	cfg.GeocodeCacheTTL = getEnvDuration("GEOCODE_CACHE_TTL", 30*24*time.Hour)
	cfg.PersistQueueSize = getEnvInt("PERSIST_QUEUE_SIZE", 64)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSearch = getEnvInt("RATE_LIMIT_SEARCH", 20)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
