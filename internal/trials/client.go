package trials

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// defaultEndpoint はClinicalTrials.gov v2のベースURL。
	defaultEndpoint = "https://clinicaltrials.gov/api/v2"
	// maxIDsPerRequest はID指定取得1リクエストあたりの最大NCT ID数。
	maxIDsPerRequest = 10
	// defaultRadiusMiles は地理フィルタのデフォルト半径（マイル）。
	defaultRadiusMiles = 50
)

// GeoFilter は検索の地理フィルタ条件を表す。
type GeoFilter struct {
	Lat         float64
	Lon         float64
	RadiusMiles int
}

// SearchParams は治験検索のクエリパラメータを表す。
type SearchParams struct {
	// QueryTerm は自由テキスト検索語。空の場合はquery.termを送信しない。
	QueryTerm string
	// Statuses は募集ステータスフィルタ。`|`で結合して1パラメータとして送信する。
	Statuses []string
	// Geo は地理フィルタ。nilの場合はfilter.geoを送信しない。
	Geo *GeoFilter
	// PageSize は1ページあたりの取得件数。
	PageSize int
	// PageToken は前回レスポンスのnextPageToken。空の場合は先頭ページ。
	PageToken string
}

// SearchResult は検索レスポンスを表す。
type SearchResult struct {
	Studies       []RawStudy `json:"studies"`
	NextPageToken string     `json:"nextPageToken"`
}

// Client はClinicalTrials.gov v2 APIのクライアント。
// 検索とNCT ID指定のバッチ取得を提供する。リトライは行わない。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   defaultEndpoint,
	}
}

// SetEndpoint はAPIのベースURLを差し替える。設定値とテストで使用する。
func (c *Client) SetEndpoint(endpoint string) {
	if endpoint != "" {
		c.endpoint = endpoint
	}
}

// Search は条件を指定して治験を検索する。
// 非200レスポンスとネットワーク障害はエラーとして返す（対話検索パスでは致命的）。
func (c *Client) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	q := url.Values{}
	q.Set("format", "json")

	if params.QueryTerm != "" {
		q.Set("query.term", params.QueryTerm)
	}
	if len(params.Statuses) > 0 {
		// ステータスは`|`（論理OR）で結合して1パラメータにする
		q.Set("filter.overallStatus", strings.Join(params.Statuses, "|"))
	}
	if params.Geo != nil {
		radius := params.Geo.RadiusMiles
		if radius <= 0 {
			radius = defaultRadiusMiles
		}
		q.Set("filter.geo", fmt.Sprintf("distance(%s,%s,%dmi)",
			strconv.FormatFloat(params.Geo.Lat, 'f', -1, 64),
			strconv.FormatFloat(params.Geo.Lon, 'f', -1, 64),
			radius,
		))
	}
	if params.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(params.PageSize))
	}
	if params.PageToken != "" {
		q.Set("pageToken", params.PageToken)
	}

	result, err := c.getStudies(ctx, q)
	if err != nil {
		c.logger.Error("治験検索APIの呼び出しに失敗しました",
			slog.String("query_term", params.QueryTerm),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return result, nil
}

// FetchByIDs はNCT IDのリストを指定して治験を一括取得する。
// IDは10件単位のチャンクに分割し、チャンクごとに1リクエストを発行する
// （IDは` OR `で結合して1つの自由テキスト検索語にする）。
// 失敗したチャンクはログに記録してスキップし、他のチャンクの結果を返す。
// 全チャンクが失敗した場合でもエラーではなく空スライスを返す。
func (c *Client) FetchByIDs(ctx context.Context, ids []string) ([]RawStudy, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var studies []RawStudy
	for i := 0; i < len(ids); i += maxIDsPerRequest {
		if ctx.Err() != nil {
			return studies, ctx.Err()
		}

		end := i + maxIDsPerRequest
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[i:end]

		q := url.Values{}
		q.Set("format", "json")
		q.Set("query.term", strings.Join(chunk, " OR "))
		q.Set("pageSize", strconv.Itoa(len(chunk)))

		result, err := c.getStudies(ctx, q)
		if err != nil {
			// 部分障害許容: 失敗チャンクはスキップし、取得済みの結果を維持する
			c.logger.Error("治験バッチ取得に失敗しました",
				slog.Int("chunk_size", len(chunk)),
				slog.Int("chunk_offset", i),
				slog.String("error", err.Error()),
			)
			continue
		}

		studies = append(studies, result.Studies...)
	}

	return studies, nil
}

// getStudies は/studiesエンドポイントへの1リクエストを実行する。
func (c *Client) getStudies(ctx context.Context, q url.Values) (*SearchResult, error) {
	reqURL, err := url.Parse(c.endpoint + "/studies")
	if err != nil {
		return nil, fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("治験検索APIへのリクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("治験検索APIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var result SearchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	return &result, nil
}
