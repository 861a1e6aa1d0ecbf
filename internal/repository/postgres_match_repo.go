package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hifarrer/trialmatch/internal/model"
)

// PostgresMatchRepo はPostgreSQLを使用したマッチリポジトリ。
type PostgresMatchRepo struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresMatchRepo はPostgresMatchRepoを生成する。
func NewPostgresMatchRepo(db *sql.DB, logger *slog.Logger) *PostgresMatchRepo {
	return &PostgresMatchRepo{db: db, logger: logger}
}

// UpsertMany は指定ユーザーのマッチを冪等に一括挿入する。
// (user_id, nct_id) の一意制約に対してON CONFLICT DO NOTHINGで
// 既存ペアを静かにスキップする。
func (r *PostgresMatchRepo) UpsertMany(ctx context.Context, userID string, nctIDs []string) error {
	if len(nctIDs) == 0 {
		return nil
	}

	now := time.Now()
	for _, nctID := range nctIDs {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO user_trial_matches (id, user_id, nct_id, matched_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (user_id, nct_id) DO NOTHING`,
			uuid.NewString(), userID, nctID, now,
		)
		if err != nil {
			return fmt.Errorf("マッチの挿入に失敗しました: %w", err)
		}
	}

	return nil
}

// ReplaceAll はユーザーの既存マッチを全削除してから新しいセットを挿入する。
// 削除と挿入は同一トランザクションで実行する。
// PostgreSQLは文のエラーでトランザクション全体を中断状態にするため、
// 各行をセーブポイントで囲み、失敗行だけを巻き戻してスキップする。
// 実際に挿入された件数を返す。
func (r *PostgresMatchRepo) ReplaceAll(ctx context.Context, userID string, nctIDs []string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM user_trial_matches WHERE user_id = $1`,
		userID,
	); err != nil {
		return 0, fmt.Errorf("既存マッチの削除に失敗しました: %w", err)
	}

	now := time.Now()
	inserted := 0
	for _, nctID := range nctIDs {
		if _, err := tx.ExecContext(ctx, "SAVEPOINT insert_row"); err != nil {
			return 0, fmt.Errorf("セーブポイントの作成に失敗しました: %w", err)
		}
		result, err := tx.ExecContext(ctx,
			`INSERT INTO user_trial_matches (id, user_id, nct_id, matched_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (user_id, nct_id) DO NOTHING`,
			uuid.NewString(), userID, nctID, now,
		)
		if err != nil {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT insert_row"); rbErr != nil {
				return 0, fmt.Errorf("セーブポイントへの巻き戻しに失敗しました: %w", rbErr)
			}
			r.logger.Error("マッチ行の挿入に失敗しました",
				slog.String("user_id", userID),
				slog.String("nct_id", nctID),
				slog.String("error", err.Error()),
			)
			continue
		}
		rows, err := result.RowsAffected()
		if err == nil && rows > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}

	return inserted, nil
}

// ListByUser はユーザーの保存済みマッチをmatched_at降順で返す。
func (r *PostgresMatchRepo) ListByUser(ctx context.Context, userID string) ([]*model.UserTrialMatch, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, nct_id, matched_at
		 FROM user_trial_matches
		 WHERE user_id = $1
		 ORDER BY matched_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("マッチ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var matches []*model.UserTrialMatch
	for rows.Next() {
		m := &model.UserTrialMatch{}
		if err := rows.Scan(&m.ID, &m.UserID, &m.NCTID, &m.MatchedAt); err != nil {
			return nil, fmt.Errorf("マッチ行の読み取りに失敗しました: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("マッチ一覧の走査に失敗しました: %w", err)
	}
	return matches, nil
}

// compile-time interface check
var _ MatchRepository = (*PostgresMatchRepo)(nil)
