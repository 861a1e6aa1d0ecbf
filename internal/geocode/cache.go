package geocode

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hifarrer/trialmatch/internal/model"
)

// cacheKeyPrefix はジオコーディング結果のRedisキーのプレフィックス。
const cacheKeyPrefix = "geocode:"

// RedisCache はRedisを使用したジオコーディング結果のキャッシュ。
// ベストエフォートのアクセラレータであり、Redis障害は
// ログに記録してキャッシュミスとして扱う（ライブ照会にフォールスルー）。
type RedisCache struct {
	rdb    *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

// NewRedisCache はRedisCacheの新しいインスタンスを生成する。
// ttlが0以下の場合は30日を使用する。
func NewRedisCache(rdb *redis.Client, logger *slog.Logger, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisCache{rdb: rdb, logger: logger, ttl: ttl}
}

// cachedCoordinates はRedisに保存する値のJSON表現。
type cachedCoordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Get はキャッシュから座標を取得する。
// キャッシュミス・パース失敗・Redis障害はすべて (nil, false) を返す。
func (c *RedisCache) Get(ctx context.Context, zipCode string) (*model.Coordinates, bool) {
	val, err := c.rdb.Get(ctx, cacheKeyPrefix+zipCode).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("ジオコーディングキャッシュの取得に失敗しました",
			slog.String("zip_code", zipCode),
			slog.String("error", err.Error()),
		)
		return nil, false
	}

	var cached cachedCoordinates
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		c.logger.Warn("ジオコーディングキャッシュ値のパースに失敗しました",
			slog.String("zip_code", zipCode),
			slog.String("error", err.Error()),
		)
		return nil, false
	}

	return &model.Coordinates{Lat: cached.Lat, Lon: cached.Lon}, true
}

// Set は座標をキャッシュに保存する。失敗はログに記録して無視する。
func (c *RedisCache) Set(ctx context.Context, zipCode string, coords model.Coordinates) {
	val, err := json.Marshal(cachedCoordinates{Lat: coords.Lat, Lon: coords.Lon})
	if err != nil {
		return
	}

	if err := c.rdb.Set(ctx, cacheKeyPrefix+zipCode, val, c.ttl).Err(); err != nil {
		c.logger.Warn("ジオコーディングキャッシュの保存に失敗しました",
			slog.String("zip_code", zipCode),
			slog.String("error", err.Error()),
		)
	}
}

// compile-time interface check
var _ CoordinateCache = (*RedisCache)(nil)
