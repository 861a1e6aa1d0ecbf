package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// PostgresTrialCacheRepo はPostgreSQLを使用した治験疾患リストの二次キャッシュ。
// conditionsはJSONB配列として保存し、GINインデックスで検索する。
type PostgresTrialCacheRepo struct {
	db *sql.DB
}

// NewPostgresTrialCacheRepo はPostgresTrialCacheRepoを生成する。
func NewPostgresTrialCacheRepo(db *sql.DB) *PostgresTrialCacheRepo {
	return &PostgresTrialCacheRepo{db: db}
}

// FilterIDsByCondition は指定NCT IDのうち、キャッシュ上の疾患リストに
// cancerTypeを部分一致（ILIKE）で含むIDを返す。
// 戻り値の順序は保証しない。呼び出し元が元のID順を維持する。
func (r *PostgresTrialCacheRepo) FilterIDsByCondition(ctx context.Context, nctIDs []string, cancerType string) ([]string, error) {
	if len(nctIDs) == 0 || cancerType == "" {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT nct_id
		 FROM clinical_trials
		 WHERE nct_id = ANY($1)
		   AND EXISTS (
		       SELECT 1 FROM jsonb_array_elements_text(conditions) AS c
		       WHERE c ILIKE '%' || $2 || '%'
		   )`,
		pq.Array(nctIDs), cancerType,
	)
	if err != nil {
		return nil, fmt.Errorf("疾患キャッシュの検索に失敗しました: %w", err)
	}
	defer rows.Close()

	var matched []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("疾患キャッシュ行の読み取りに失敗しました: %w", err)
		}
		matched = append(matched, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("疾患キャッシュの走査に失敗しました: %w", err)
	}
	return matched, nil
}

// UpsertConditions は治験の疾患リストをキャッシュに冪等に保存する。
func (r *PostgresTrialCacheRepo) UpsertConditions(ctx context.Context, nctID string, conditions []string) error {
	if nctID == "" {
		return nil
	}
	if conditions == nil {
		conditions = []string{}
	}

	data, err := json.Marshal(conditions)
	if err != nil {
		return fmt.Errorf("疾患リストのエンコードに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO clinical_trials (nct_id, conditions, updated_at)
		 VALUES ($1, $2::jsonb, NOW())
		 ON CONFLICT (nct_id) DO UPDATE SET
		   conditions = EXCLUDED.conditions,
		   updated_at = NOW()`,
		nctID, data,
	)
	if err != nil {
		return fmt.Errorf("疾患キャッシュの保存に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ TrialCacheRepository = (*PostgresTrialCacheRepo)(nil)
