package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrDimensionMismatch qa_cache 向量列维度与 embedding 模型输出不一致
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// pgvector 把 vector(n) 的 n 存在 atttypmod 中；表不存在时 to_regclass 返回 NULL，查询无结果
const vectorDimensionQuery = `SELECT a.atttypmod
FROM pg_attribute a
WHERE a.attrelid = to_regclass('qa_cache')
  AND a.attname = 'question_embedding'
  AND NOT a.attisdropped`

// queryVectorDimension 返回 qa_cache.question_embedding 的维度，表尚未创建时返回 0
func queryVectorDimension(ctx context.Context, db *sql.DB) (int, error) {
	var dim int
	err := db.QueryRowContext(ctx, vectorDimensionQuery).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read qa_cache vector dimension: %w", err)
	}
	return dim, nil
}

// checkVectorDimension want 为 0 或表尚未创建时不检查
func checkVectorDimension(got, want int) error {
	if want <= 0 || got <= 0 || got == want {
		return nil
	}
	return fmt.Errorf("%w: qa_cache.question_embedding is vector(%d) but the embedding model produces %d dimensions",
		ErrDimensionMismatch, got, want)
}
