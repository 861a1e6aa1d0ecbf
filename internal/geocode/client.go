// Package geocode は郵便番号から緯度経度への変換機能を提供する。
// Nominatim互換の外部ジオコーディングサービスの呼び出しと、
// レート制限・結果キャッシュを含む。
package geocode

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/hifarrer/trialmatch/internal/model"
)

const (
	// defaultEndpoint はNominatimの公開エンドポイント。
	defaultEndpoint = "https://nominatim.openstreetmap.org"
	// defaultUserAgent はジオコーディングサービスが要求する識別ヘッダー。
	// 匿名トラフィックは拒否されるため必須。
	defaultUserAgent = "TrialMatch/1.0 Clinical Trial Dashboard"
)

// CoordinateCache はジオコーディング結果のキャッシュインターフェース。
// キャッシュミスとキャッシュ障害はどちらも (nil, false) として扱い、
// 呼び出し元はライブ照会にフォールスルーする。
type CoordinateCache interface {
	Get(ctx context.Context, zipCode string) (*model.Coordinates, bool)
	Set(ctx context.Context, zipCode string, coords model.Coordinates)
}

// Client は外部ジオコーディングサービスのクライアント。
// 外部サービスのレート制限（1リクエスト/秒）を守るため、
// ライブ照会の前に注入されたレートリミッターの許可を待つ。
// キャッシュヒット時はリミッターを消費しない。
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      CoordinateCache
	logger     *slog.Logger
	endpoint   string // テスト用にエンドポイントを差し替え可能
	userAgent  string
}

// NewClient はClientの新しいインスタンスを生成する。
// cacheはnilを許容する（キャッシュ無効）。
// limiterがnilの場合は1リクエスト/秒・バースト1のリミッターを使用する。
func NewClient(httpClient *http.Client, limiter *rate.Limiter, cache CoordinateCache, logger *slog.Logger) *Client {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(time.Second), 1)
	}
	return &Client{
		httpClient: httpClient,
		limiter:    limiter,
		cache:      cache,
		logger:     logger,
		endpoint:   defaultEndpoint,
		userAgent:  defaultUserAgent,
	}
}

// SetEndpoint はサービスのベースURLを差し替える。設定値とテストで使用する。
func (c *Client) SetEndpoint(endpoint string) {
	if endpoint != "" {
		c.endpoint = endpoint
	}
}

// SetUserAgent は識別ヘッダーの値を差し替える。
func (c *Client) SetUserAgent(userAgent string) {
	if userAgent != "" {
		c.userAgent = userAgent
	}
}

// nominatimResult はジオコーディングAPIのレスポンス1件を表す。
// 緯度経度は文字列で返される。
type nominatimResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Lookup は米国の郵便番号を緯度経度に変換する。
// ネットワーク障害・非200レスポンス・空の結果のいずれの場合も
// エラーではなく (nil, nil) を返す。呼び出し元はnilを
// 「地理フィルタなしで続行」として扱い、致命的エラーにしない。
// リトライは行わない。
func (c *Client) Lookup(ctx context.Context, zipCode string) (*model.Coordinates, error) {
	if zipCode == "" {
		return nil, nil
	}

	// キャッシュヒット時はライブ照会もレート制限待ちもスキップする
	if c.cache != nil {
		if coords, ok := c.cache.Get(ctx, zipCode); ok {
			return coords, nil
		}
	}

	// 外部サービスのレート制限（1リクエスト/秒）を守る
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	coords := c.lookupLive(ctx, zipCode)
	if coords == nil {
		return nil, nil
	}

	if c.cache != nil {
		c.cache.Set(ctx, zipCode, *coords)
	}

	return coords, nil
}

// lookupLive は外部サービスへの1回の照会を実行する。
// 失敗はすべてログに記録してnilを返す。
func (c *Client) lookupLive(ctx context.Context, zipCode string) *model.Coordinates {
	reqURL, err := url.Parse(c.endpoint + "/search")
	if err != nil {
		c.logger.Error("ジオコーディングエンドポイントURLのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil
	}

	q := reqURL.Query()
	q.Set("postalcode", zipCode)
	q.Set("country", "US")
	q.Set("format", "json")
	q.Set("limit", "1")
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		c.logger.Error("ジオコーディングリクエストの作成に失敗しました",
			slog.String("error", err.Error()),
		)
		return nil
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("ジオコーディングサービスへのリクエストに失敗しました",
			slog.String("zip_code", zipCode),
			slog.String("error", err.Error()),
		)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("ジオコーディングサービスがエラーステータスを返しました",
			slog.String("zip_code", zipCode),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Warn("ジオコーディングレスポンスの読み取りに失敗しました",
			slog.String("zip_code", zipCode),
			slog.String("error", err.Error()),
		)
		return nil
	}

	var results []nominatimResult
	if err := json.Unmarshal(body, &results); err != nil {
		c.logger.Warn("ジオコーディングレスポンスのパースに失敗しました",
			slog.String("zip_code", zipCode),
			slog.String("error", err.Error()),
		)
		return nil
	}

	if len(results) == 0 {
		c.logger.Info("郵便番号のジオコーディング結果がありません",
			slog.String("zip_code", zipCode),
		)
		return nil
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		c.logger.Warn("緯度のパースに失敗しました",
			slog.String("zip_code", zipCode),
			slog.String("lat", results[0].Lat),
		)
		return nil
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		c.logger.Warn("経度のパースに失敗しました",
			slog.String("zip_code", zipCode),
			slog.String("lon", results[0].Lon),
		)
		return nil
	}

	return &model.Coordinates{Lat: lat, Lon: lon}
}
