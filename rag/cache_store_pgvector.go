package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PGVectorCacheStore 基于 PostgreSQL + pgvector 的语义缓存存储。
// 表结构由 internal/migration 的 qa_cache 迁移创建。
type PGVectorCacheStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewPGVectorCacheStore 创建 pgvector 缓存存储
func NewPGVectorCacheStore(db *gorm.DB, logger *zap.Logger) *PGVectorCacheStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PGVectorCacheStore{
		db:     db,
		logger: logger.With(zap.String("component", "pgvector_cache_store")),
	}
}

// qaCacheRow qa_cache 表的行
type qaCacheRow struct {
	ID                string    `gorm:"column:id"`
	Namespace         string    `gorm:"column:namespace"`
	CanonicalQuestion string    `gorm:"column:canonical_question"`
	EmbeddingModel    string    `gorm:"column:embedding_model"`
	Answer            string    `gorm:"column:answer"`
	ContextChunks     []byte    `gorm:"column:context_chunks"`
	HitCount          int       `gorm:"column:hit_count"`
	CreatedAt         time.Time `gorm:"column:created_at"`
	Similarity        float64   `gorm:"column:similarity"`
}

func (r *qaCacheRow) toEntry() (*CacheEntry, error) {
	entry := &CacheEntry{
		ID:                r.ID,
		Namespace:         r.Namespace,
		CanonicalQuestion: r.CanonicalQuestion,
		EmbeddingModel:    r.EmbeddingModel,
		Answer:            r.Answer,
		HitCount:          r.HitCount,
		CreatedAt:         r.CreatedAt,
	}
	if len(r.ContextChunks) > 0 {
		if err := json.Unmarshal(r.ContextChunks, &entry.ContextChunks); err != nil {
			return nil, fmt.Errorf("decode context_chunks of %s: %w", r.ID, err)
		}
	}
	return entry, nil
}

const selectColumns = `id, namespace, canonical_question, embedding_model, answer, context_chunks, hit_count, created_at`

// iterativeScan 让 HNSW 扫描在 namespace 过滤后继续取候选，直到凑够 LIMIT（pgvector >= 0.8.0）
const iterativeScan = `SET LOCAL hnsw.iterative_scan = strict_order`

// Nearest 同一 embedding 模型下余弦距离最近的一条（<=> 为 pgvector 余弦距离运算符）。
// SET LOCAL 只在本事务内生效，连接归还后不影响其他查询。
func (s *PGVectorCacheStore) Nearest(ctx context.Context, namespace, model string, embedding []float32) (*CacheEntry, float64, error) {
	vec := VectorLiteral(embedding)

	var rows []qaCacheRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(iterativeScan).Error; err != nil {
			return fmt.Errorf("enable hnsw iterative scan: %w", err)
		}
		err := tx.Raw(
			`SELECT `+selectColumns+`, 1 - (question_embedding <=> ?::vector) AS similarity
			 FROM qa_cache
			 WHERE namespace = ? AND embedding_model = ?
			 ORDER BY question_embedding <=> ?::vector
			 LIMIT 1`,
			vec, namespace, model, vec,
		).Scan(&rows).Error
		if err != nil {
			return fmt.Errorf("query nearest cache entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	if len(rows) == 0 {
		return nil, 0, nil
	}

	entry, err := rows[0].toEntry()
	if err != nil {
		return nil, 0, err
	}
	return entry, rows[0].Similarity, nil
}

// Insert 写入新条目
func (s *PGVectorCacheStore) Insert(ctx context.Context, entry *CacheEntry) error {
	chunks := entry.ContextChunks
	if chunks == nil {
		chunks = []ContextChunk{}
	}
	raw, err := json.Marshal(chunks)
	if err != nil {
		return fmt.Errorf("encode context_chunks: %w", err)
	}

	err = s.db.WithContext(ctx).Exec(
		`INSERT INTO qa_cache (id, namespace, canonical_question, question_embedding, embedding_model, answer, context_chunks, hit_count, created_at)
		 VALUES (?, ?, ?, ?::vector, ?, ?, ?::jsonb, ?, ?)`,
		entry.ID, entry.Namespace, entry.CanonicalQuestion, VectorLiteral(entry.Embedding),
		entry.EmbeddingModel, entry.Answer, string(raw), entry.HitCount, entry.CreatedAt,
	).Error
	if err != nil {
		return fmt.Errorf("insert cache entry: %w", err)
	}
	return nil
}

// IncrementHits 原子自增，RETURNING 取回新值
func (s *PGVectorCacheStore) IncrementHits(ctx context.Context, id string) (int, error) {
	var rows []struct {
		HitCount int `gorm:"column:hit_count"`
	}
	err := s.db.WithContext(ctx).Raw(
		`UPDATE qa_cache SET hit_count = hit_count + 1 WHERE id = ? RETURNING hit_count`, id,
	).Scan(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("increment hit_count: %w", err)
	}
	if len(rows) == 0 {
		return 0, ErrCacheEntryNotFound
	}
	return rows[0].HitCount, nil
}

// Evict 单条 DELETE 语句完成计数与删除，并发写入者最终收敛到 maxSize 以内
func (s *PGVectorCacheStore) Evict(ctx context.Context, namespace string, maxSize int) (int, error) {
	res := s.db.WithContext(ctx).Exec(
		`DELETE FROM qa_cache WHERE id IN (
		   SELECT id FROM qa_cache
		   WHERE namespace = ?
		   ORDER BY hit_count ASC, created_at ASC
		   LIMIT GREATEST((SELECT COUNT(*) FROM qa_cache WHERE namespace = ?) - ?, 0)
		 )`,
		namespace, namespace, maxSize,
	)
	if res.Error != nil {
		return 0, fmt.Errorf("evict cache entries: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// Top 高频条目
func (s *PGVectorCacheStore) Top(ctx context.Context, namespace string, limit int) ([]CacheEntry, error) {
	var rows []qaCacheRow
	err := s.db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+`
		 FROM qa_cache
		 WHERE namespace = ?
		 ORDER BY hit_count DESC, created_at DESC
		 LIMIT ?`,
		namespace, limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query top cache entries: %w", err)
	}

	out := make([]CacheEntry, 0, len(rows))
	for i := range rows {
		entry, err := rows[i].toEntry()
		if err != nil {
			s.logger.Warn("skipping undecodable cache entry", zap.String("id", rows[i].ID), zap.Error(err))
			continue
		}
		out = append(out, *entry)
	}
	return out, nil
}

// Count 条目数
func (s *PGVectorCacheStore) Count(ctx context.Context, namespace string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM qa_cache WHERE namespace = ?`, namespace,
	).Scan(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return int(count), nil
}
