// Package usertrials は保存済みマッチの再取得（リハイドレーション）を提供する。
// 保存されているのはNCT IDのみであるため、一覧表示のたびに外部APIから
// 最新の治験詳細をバッチで取り直し、クライアント側フィルタを適用する。
package usertrials

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hifarrer/trialmatch/internal/model"
	"github.com/hifarrer/trialmatch/internal/repository"
	"github.com/hifarrer/trialmatch/internal/trials"
)

// TrialFetcher はNCT ID指定のバッチ取得インターフェース。
// チャンク分割と部分障害許容はクライアント側で処理される。
type TrialFetcher interface {
	FetchByIDs(ctx context.Context, ids []string) ([]trials.RawStudy, error)
}

// StudyNormalizer は生の治験レコードの正規化インターフェース。
type StudyNormalizer interface {
	Normalize(raw trials.RawStudy) *model.Trial
}

// ServiceMetrics はリハイドレーションサービスが記録するメトリクスのインターフェース。
type ServiceMetrics interface {
	RecordRehydration(trialCount int)
}

// Result は保存済みマッチ一覧のページネーション付きレスポンス。
// TotalとTotalPagesはステータス・がん種の遅延フィルタ適用前のID件数から
// 算出するため、ページ内のフィルタ除外によりTrialsがlimit未満になることがある。
type Result struct {
	Trials     []model.Trial `json:"trials"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	TotalPages int           `json:"totalPages"`
}

// Service は保存済みマッチの再取得を行う。
type Service struct {
	matchRepo  repository.MatchRepository
	cacheRepo  repository.TrialCacheRepository
	fetcher    TrialFetcher
	normalizer StudyNormalizer
	logger     *slog.Logger
	metrics    ServiceMetrics
}

// NewService はServiceの新しいインスタンスを生成する。
// cacheRepoとmetricsはnilを許容する。
func NewService(
	matchRepo repository.MatchRepository,
	cacheRepo repository.TrialCacheRepository,
	fetcher TrialFetcher,
	normalizer StudyNormalizer,
	logger *slog.Logger,
	metrics ServiceMetrics,
) *Service {
	return &Service{
		matchRepo:  matchRepo,
		cacheRepo:  cacheRepo,
		fetcher:    fetcher,
		normalizer: normalizer,
		logger:     logger,
		metrics:    metrics,
	}
}

// GetUserTrials はユーザーの保存済みマッチをページネーション付きで返す。
//
// 処理手順:
//  1. 保存済みNCT IDをmatched_at降順で全件取得する（この順序と件数が正）。
//  2. がん種フィルタがある場合、二次キャッシュでID集合の絞り込みを試みる。
//     キャッシュが1件もヒットしない場合は絞り込みを諦め（コールドキャッシュとみなす）、
//     後段の治験単位のフィルタに委ねる。
//  3. （絞り込み後の）IDリストにページネーションを適用する。
//  4. ページ内のIDを外部APIからバッチ取得する。チャンク障害はそのチャンクの
//     治験が結果から欠けるだけで、ページ全体は失敗しない。
//  5. 正規化後、ステータスフィルタと（手順2で絞り込まなかった場合）がん種の
//     部分一致フィルタを適用する。
func (s *Service) GetUserTrials(ctx context.Context, userID string, page, limit int, cancerType, status string) (*Result, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	matches, err := s.matchRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		// 保存済みマッチのないユーザーは外部APIを呼ばずに即座に返す
		return &Result{
			Trials:     []model.Trial{},
			Total:      0,
			Page:       page,
			Limit:      limit,
			TotalPages: 0,
		}, nil
	}

	nctIDs := make([]string, 0, len(matches))
	for _, m := range matches {
		nctIDs = append(nctIDs, m.NCTID)
	}

	// がん種フィルタが指定されている場合は二次キャッシュで絞り込みを試みる。
	// キャッシュはベストエフォートであり、ヒットゼロは「キャッシュ未整備」として
	// 全IDで続行し、治験単位の遅延フィルタに切り替える。
	narrowed := false
	if cancerType != "" && s.cacheRepo != nil {
		cachedIDs, err := s.cacheRepo.FilterIDsByCondition(ctx, nctIDs, cancerType)
		if err != nil {
			s.logger.Warn("疾患キャッシュによる絞り込みに失敗しました",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		} else if len(cachedIDs) > 0 {
			nctIDs = intersectPreservingOrder(nctIDs, cachedIDs)
			narrowed = true
		}
	}

	total := len(nctIDs)
	totalPages := (total + limit - 1) / limit

	// ページネーションはフィルタ適用後の治験ではなくIDリストに対して行う。
	// そのためステータスフィルタで除外されるとページの件数はlimit未満になりうる。
	offset := (page - 1) * limit
	if offset >= total {
		return &Result{
			Trials:     []model.Trial{},
			Total:      total,
			Page:       page,
			Limit:      limit,
			TotalPages: totalPages,
		}, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	pageIDs := nctIDs[offset:end]

	studies, err := s.fetcher.FetchByIDs(ctx, pageIDs)
	if err != nil {
		return nil, err
	}

	result := make([]model.Trial, 0, len(studies))
	for _, study := range studies {
		trial := s.normalizer.Normalize(study)
		if trial == nil {
			continue
		}
		if status != "" && trial.Status != status {
			continue
		}
		if cancerType != "" && !narrowed && !matchesCondition(trial.Conditions, cancerType) {
			continue
		}
		result = append(result, *trial)
	}

	if s.metrics != nil {
		s.metrics.RecordRehydration(len(result))
	}

	s.logger.Info("保存済みマッチの再取得が完了しました",
		slog.String("user_id", userID),
		slog.Int("page", page),
		slog.Int("page_ids", len(pageIDs)),
		slog.Int("trial_count", len(result)),
	)

	return &Result{
		Trials:     result,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}, nil
}

// intersectPreservingOrder はorderedのうちallowedに含まれるIDを、
// orderedの順序を維持して返す。
func intersectPreservingOrder(ordered, allowed []string) []string {
	allowedSet := make(map[string]bool, len(allowed))
	for _, id := range allowed {
		allowedSet[id] = true
	}

	var result []string
	for _, id := range ordered {
		if allowedSet[id] {
			result = append(result, id)
		}
	}
	return result
}

// matchesCondition は疾患リストにcancerTypeが部分一致
// （大文字小文字を区別しない）で含まれるかを返す。
func matchesCondition(conditions []string, cancerType string) bool {
	needle := strings.ToLower(cancerType)
	for _, condition := range conditions {
		if strings.Contains(strings.ToLower(condition), needle) {
			return true
		}
	}
	return false
}
