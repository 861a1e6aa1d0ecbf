// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hifarrer/trialmatch/internal/model"
)

// MatchRepository はユーザーと治験のマッチの永続化インターフェース。
// (user_id, nct_id) の一意制約を前提とし、重複は冪等に吸収する。
type MatchRepository interface {
	// UpsertMany は指定ユーザーのマッチを冪等に一括挿入する。
	// 既存の (userID, nctID) ペアは静かにスキップし、エラーにしない。
	UpsertMany(ctx context.Context, userID string, nctIDs []string) error

	// ReplaceAll はユーザーの既存マッチを全削除してから新しいセットを挿入する。
	// 実際に挿入された件数を返す。個別行の失敗はログに記録してスキップし、
	// バッチ全体を失敗させない。
	ReplaceAll(ctx context.Context, userID string, nctIDs []string) (int, error)

	// ListByUser はユーザーの保存済みマッチをmatched_at降順で返す。
	ListByUser(ctx context.Context, userID string) ([]*model.UserTrialMatch, error)
}

// TrialCacheRepository は治験の疾患リストの二次キャッシュインターフェース。
// 再取得時のがん種絞り込みを高速化するベストエフォートのアクセラレータであり、
// 正確性の依存先にしてはならない（キャッシュミス時は全件照会にフォールスルーする）。
type TrialCacheRepository interface {
	// FilterIDsByCondition は指定NCT IDのうち、キャッシュ上の疾患リストに
	// cancerTypeを部分一致（大文字小文字を区別しない）で含むIDを返す。
	// キャッシュに存在しないIDは結果に含まれない。
	FilterIDsByCondition(ctx context.Context, nctIDs []string, cancerType string) ([]string, error)

	// UpsertConditions は治験の疾患リストをキャッシュに冪等に保存する。
	UpsertConditions(ctx context.Context, nctID string, conditions []string) error
}
