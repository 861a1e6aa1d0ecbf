package match

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hifarrer/trialmatch/internal/model"
	"github.com/hifarrer/trialmatch/internal/trials"
)

// PersistLagHint はバックグラウンド永続化の完了を待つ目安時間（ミリ秒）。
// 検索レスポンスは永続化を待たずに返るため、依存するサマリビューの
// 再取得はこの時間だけ遅らせることをUIに示す。
const PersistLagHint = 2000

// Geocoder は郵便番号のジオコーディングインターフェース。
// 失敗時は (nil, nil) を返し、呼び出し元は地理フィルタなしで続行する。
type Geocoder interface {
	Lookup(ctx context.Context, zipCode string) (*model.Coordinates, error)
}

// TrialSearcher は治験検索APIのインターフェース。
type TrialSearcher interface {
	Search(ctx context.Context, params trials.SearchParams) (*trials.SearchResult, error)
}

// StudyNormalizer は生の治験レコードの正規化インターフェース。
type StudyNormalizer interface {
	Normalize(raw trials.RawStudy) *model.Trial
}

// PersistEnqueuer はマッチ永続化ジョブの投入インターフェース。
type PersistEnqueuer interface {
	Enqueue(job PersistJob) bool
}

// ServiceMetrics はマッチングサービスが記録するメトリクスのインターフェース。
type ServiceMetrics interface {
	RecordSearchSuccess()
	RecordSearchFailure()
	RecordGeocodeFallback()
}

// ServiceConfig はマッチングサービスの設定パラメータ。
type ServiceConfig struct {
	// PageSize は対話検索1回あたりの取得件数（デフォルト: 10）。
	PageSize int
	// GeoRadiusMiles は地理フィルタの半径（デフォルト: 50マイル）。
	GeoRadiusMiles int
}

// Service は治験マッチングのオーケストレーションを行う。
// クエリ構築 → ジオコーディング（任意）→ 検索 → 正規化 → レスポンス →
// バックグラウンド永続化の順に処理する。
// ジオコーディングは検索クエリ構築に結果が必要なため、検索と直列化される。
type Service struct {
	geocoder   Geocoder
	searcher   TrialSearcher
	normalizer StudyNormalizer
	queue      PersistEnqueuer
	logger     *slog.Logger
	metrics    ServiceMetrics
	config     ServiceConfig
}

// NewService はServiceの新しいインスタンスを生成する。
// metricsはnilを許容する。
func NewService(
	geocoder Geocoder,
	searcher TrialSearcher,
	normalizer StudyNormalizer,
	queue PersistEnqueuer,
	logger *slog.Logger,
	metrics ServiceMetrics,
	config ServiceConfig,
) *Service {
	if config.PageSize <= 0 {
		config.PageSize = 10
	}
	if config.GeoRadiusMiles <= 0 {
		config.GeoRadiusMiles = 50
	}
	return &Service{
		geocoder:   geocoder,
		searcher:   searcher,
		normalizer: normalizer,
		queue:      queue,
		logger:     logger,
		metrics:    metrics,
		config:     config,
	}
}

// Search は条件に合致する治験を検索し、正規化済みリストを返す。
// 検索APIの障害は呼び出し元にエラーとして伝播する（結果の部分返却はしない）。
// 成功時は有効なNCT IDをバックグラウンド永続化キューに投入してから返る。
// 永続化の失敗はレスポンスに影響しない。
func (s *Service) Search(ctx context.Context, userID string, criteria model.TrialMatchCriteria) ([]model.Trial, error) {
	queryTerm := buildQueryTerm(criteria)

	statuses := criteria.Statuses
	if len(statuses) == 0 {
		statuses = model.DefaultStatuses()
	}

	// 郵便番号が指定されている場合のみジオコーディングを行う。
	// 失敗時は地理フィルタを諦め、位置ヒントを失わないよう
	// 郵便番号文字列を検索語に追加してフォールバックする。
	var geo *trials.GeoFilter
	if criteria.ZipCode != "" {
		coords, err := s.geocoder.Lookup(ctx, criteria.ZipCode)
		if err != nil {
			return nil, err
		}
		if coords != nil {
			geo = &trials.GeoFilter{
				Lat:         coords.Lat,
				Lon:         coords.Lon,
				RadiusMiles: s.config.GeoRadiusMiles,
			}
		} else {
			s.logger.Info("ジオコーディングに失敗したため郵便番号を検索語に追加します",
				slog.String("zip_code", criteria.ZipCode),
			)
			if s.metrics != nil {
				s.metrics.RecordGeocodeFallback()
			}
			queryTerm = appendTerm(queryTerm, criteria.ZipCode)
		}
	}

	result, err := s.searcher.Search(ctx, trials.SearchParams{
		QueryTerm: queryTerm,
		Statuses:  statuses,
		Geo:       geo,
		PageSize:  s.config.PageSize,
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordSearchFailure()
		}
		s.logger.Error("治験検索APIの呼び出しに失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		// 対話検索パスの上流障害はAPIエラー分類に載せて伝播する
		return nil, model.NewUpstreamUnavailableError(err.Error())
	}

	normalized := make([]model.Trial, 0, len(result.Studies))
	for _, study := range result.Studies {
		trial := s.normalizer.Normalize(study)
		if trial == nil {
			continue
		}
		normalized = append(normalized, *trial)
	}

	s.enqueuePersist(userID, normalized, criteria.Refresh)

	if s.metrics != nil {
		s.metrics.RecordSearchSuccess()
	}

	s.logger.Info("治験検索が完了しました",
		slog.String("user_id", userID),
		slog.String("query_term", queryTerm),
		slog.Bool("geo_filter", geo != nil),
		slog.Int("trial_count", len(normalized)),
	)

	return normalized, nil
}

// enqueuePersist は有効なNCT IDをバックグラウンド永続化キューに投入する。
// "unknown"センチネルのIDは永続化候補から除外する（表示はされる）。
func (s *Service) enqueuePersist(userID string, normalized []model.Trial, replace bool) {
	nctIDs := make([]string, 0, len(normalized))
	conditions := make(map[string][]string, len(normalized))
	for _, trial := range normalized {
		if trial.NCTID == model.UnknownNCTID {
			continue
		}
		nctIDs = append(nctIDs, trial.NCTID)
		conditions[trial.NCTID] = trial.Conditions
	}

	if len(nctIDs) == 0 {
		return
	}

	s.queue.Enqueue(PersistJob{
		UserID:     userID,
		NCTIDs:     nctIDs,
		Conditions: conditions,
		Replace:    replace,
	})
}

// buildQueryTerm は検索条件から自由テキスト検索語を構築する。
// がん種は検索フレーズに変換し、変異の検索語をスペース区切りで連結する。
func buildQueryTerm(criteria model.TrialMatchCriteria) string {
	term := cancerPhrase(criteria.CancerType)
	for _, mutation := range criteria.Mutations {
		term = appendTerm(term, mutation)
	}
	return term
}

// cancerPhrase はがん種を人間が検索する形のフレーズに変換する。
// テキストに"cancer"が含まれない場合は" cancer"を付加する
// （例: "breast" → "breast cancer"）。
func cancerPhrase(cancerType string) string {
	trimmed := strings.TrimSpace(cancerType)
	if trimmed == "" {
		return ""
	}
	if strings.Contains(strings.ToLower(trimmed), "cancer") {
		return trimmed
	}
	return trimmed + " cancer"
}

// appendTerm は検索語の末尾にスペース区切りで語を追加する。
func appendTerm(term, addition string) string {
	addition = strings.TrimSpace(addition)
	if addition == "" {
		return term
	}
	if term == "" {
		return addition
	}
	return term + " " + addition
}
