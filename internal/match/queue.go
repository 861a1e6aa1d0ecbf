// Package match は治験マッチングのオーケストレーションと
// マッチ結果のバックグラウンド永続化を提供する。
package match

import (
	"context"
	"log/slog"
	"time"

	"github.com/hifarrer/trialmatch/internal/repository"
)

// persistTimeout は1ジョブあたりのDB書き込みタイムアウト。
// ジョブはHTTPリクエストから切り離されているため、専用のコンテキストを使用する。
const persistTimeout = 10 * time.Second

// PersistJob はバックグラウンド永続化の1ジョブを表す。
type PersistJob struct {
	UserID string
	// NCTIDs は永続化対象のNCT ID。"unknown"センチネルは投入前に除外済み。
	NCTIDs []string
	// Conditions はNCT IDごとの疾患リスト。二次キャッシュの更新に使用する。
	Conditions map[string][]string
	// Replace がtrueの場合は全置換（ReplaceAll）、falseの場合は冪等挿入（UpsertMany）。
	Replace bool
}

// QueueMetrics は永続化キューが記録するメトリクスのインターフェース。
type QueueMetrics interface {
	SetPersistQueueDepth(depth int)
	RecordPersistSuccess(count int)
	RecordPersistFailure()
	RecordPersistDropped()
}

// PersistQueue はマッチ永続化の有界キューとバックグラウンドワーカー。
// 検索レスポンスをブロックしないよう、投入は非ブロッキングで行い、
// キューが満杯の場合はジョブを破棄してログに記録する。
// ワーカーの失敗はログとメトリクスにのみ記録し、呼び出し元には伝播しない。
type PersistQueue struct {
	jobs      chan PersistJob
	matchRepo repository.MatchRepository
	cacheRepo repository.TrialCacheRepository
	logger    *slog.Logger
	metrics   QueueMetrics
}

// NewPersistQueue はPersistQueueの新しいインスタンスを生成する。
// sizeが0以下の場合はデフォルト値64を使用する。
// cacheRepoとmetricsはnilを許容する。
func NewPersistQueue(
	matchRepo repository.MatchRepository,
	cacheRepo repository.TrialCacheRepository,
	logger *slog.Logger,
	metrics QueueMetrics,
	size int,
) *PersistQueue {
	if size <= 0 {
		size = 64
	}
	return &PersistQueue{
		jobs:      make(chan PersistJob, size),
		matchRepo: matchRepo,
		cacheRepo: cacheRepo,
		logger:    logger,
		metrics:   metrics,
	}
}

// Enqueue はジョブを非ブロッキングでキューに投入する。
// キューが満杯の場合はジョブを破棄してfalseを返す（レスポンスを遅延させない）。
func (q *PersistQueue) Enqueue(job PersistJob) bool {
	select {
	case q.jobs <- job:
		if q.metrics != nil {
			q.metrics.SetPersistQueueDepth(len(q.jobs))
		}
		return true
	default:
		q.logger.Error("永続化キューが満杯のためジョブを破棄しました",
			slog.String("user_id", job.UserID),
			slog.Int("nct_id_count", len(job.NCTIDs)),
		)
		if q.metrics != nil {
			q.metrics.RecordPersistDropped()
		}
		return false
	}
}

// Start はワーカーループを起動する。コンテキストがキャンセルされるまで
// ジョブを逐次処理し、キャンセル後はキューに残ったジョブを処理しきってから返る。
func (q *PersistQueue) Start(ctx context.Context) {
	q.logger.Info("マッチ永続化ワーカーを開始しました",
		slog.Int("queue_capacity", cap(q.jobs)),
	)

	for {
		select {
		case <-ctx.Done():
			q.drain()
			q.logger.Info("マッチ永続化ワーカーを停止しました")
			return
		case job := <-q.jobs:
			q.process(job)
			if q.metrics != nil {
				q.metrics.SetPersistQueueDepth(len(q.jobs))
			}
		}
	}
}

// drain はシャットダウン時にキューに残ったジョブを処理する。
func (q *PersistQueue) drain() {
	for {
		select {
		case job := <-q.jobs:
			q.process(job)
		default:
			return
		}
	}
}

// process は1ジョブを処理する。失敗はログとメトリクスにのみ記録する。
func (q *PersistQueue) process(job PersistJob) {
	if len(job.NCTIDs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if job.Replace {
		inserted, err := q.matchRepo.ReplaceAll(ctx, job.UserID, job.NCTIDs)
		if err != nil {
			q.logger.Error("マッチの全置換に失敗しました",
				slog.String("user_id", job.UserID),
				slog.Int("nct_id_count", len(job.NCTIDs)),
				slog.String("error", err.Error()),
			)
			if q.metrics != nil {
				q.metrics.RecordPersistFailure()
			}
			return
		}
		q.logger.Info("マッチを全置換しました",
			slog.String("user_id", job.UserID),
			slog.Int("inserted", inserted),
		)
		if q.metrics != nil {
			q.metrics.RecordPersistSuccess(inserted)
		}
	} else {
		if err := q.matchRepo.UpsertMany(ctx, job.UserID, job.NCTIDs); err != nil {
			q.logger.Error("マッチの挿入に失敗しました",
				slog.String("user_id", job.UserID),
				slog.Int("nct_id_count", len(job.NCTIDs)),
				slog.String("error", err.Error()),
			)
			if q.metrics != nil {
				q.metrics.RecordPersistFailure()
			}
			return
		}
		if q.metrics != nil {
			q.metrics.RecordPersistSuccess(len(job.NCTIDs))
		}
	}

	// 疾患リストの二次キャッシュを更新する。
	// キャッシュはベストエフォートであり、失敗してもマッチ永続化の成否に影響しない。
	if q.cacheRepo != nil {
		for nctID, conditions := range job.Conditions {
			if err := q.cacheRepo.UpsertConditions(ctx, nctID, conditions); err != nil {
				q.logger.Warn("疾患キャッシュの更新に失敗しました",
					slog.String("nct_id", nctID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
