package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ====== 内存向量索引（用于测试和本地开发）======

// InMemoryVectorIndex 按 namespace 分区的内存向量索引
type InMemoryVectorIndex struct {
	namespaces map[string][]VectorRecord
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewInMemoryVectorIndex 创建内存向量索引
func NewInMemoryVectorIndex(logger *zap.Logger) *InMemoryVectorIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryVectorIndex{
		namespaces: make(map[string][]VectorRecord),
		logger:     logger.With(zap.String("component", "memory_vector_index")),
	}
}

// Upsert 写入记录，同 id 覆盖
func (s *InMemoryVectorIndex) Upsert(ctx context.Context, namespace string, records []VectorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.namespaces[namespace]
	for i, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("record[%d] has empty id", i)
		}
		if len(rec.Values) == 0 {
			return fmt.Errorf("record %s has no vector", rec.ID)
		}

		replaced := false
		for j := range existing {
			if existing[j].ID == rec.ID {
				existing[j] = rec
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, rec)
		}
	}
	s.namespaces[namespace] = existing

	s.logger.Debug("records upserted",
		zap.String("namespace", namespace),
		zap.Int("count", len(records)),
		zap.Int("total", len(existing)))

	return nil
}

// Query 余弦相似度最近邻查询
func (s *InMemoryVectorIndex) Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]any) ([]VectorMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if topK <= 0 {
		return []VectorMatch{}, nil
	}

	records := s.namespaces[namespace]
	results := make([]VectorMatch, 0, len(records))
	for _, rec := range records {
		if !matchesFilter(rec.Metadata, filter) {
			continue
		}
		results = append(results, VectorMatch{
			ID:       rec.ID,
			Score:    cosineSimilarity(vector, rec.Values),
			Metadata: rec.Metadata,
		})
	}

	sortMatchesByScore(results)

	if topK > len(results) {
		topK = len(results)
	}
	return results[:topK], nil
}

// Delete 按 id 或元数据过滤删除
func (s *InMemoryVectorIndex) Delete(ctx context.Context, namespace string, ids []string, filter map[string]any) error {
	if len(ids) == 0 && len(filter) == 0 {
		return fmt.Errorf("delete requires ids or filter")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	records := s.namespaces[namespace]
	filtered := make([]VectorRecord, 0, len(records))
	for _, rec := range records {
		if idSet[rec.ID] || (len(filter) > 0 && matchesFilter(rec.Metadata, filter)) {
			continue
		}
		filtered = append(filtered, rec)
	}

	deleted := len(records) - len(filtered)
	s.namespaces[namespace] = filtered

	s.logger.Debug("records deleted",
		zap.String("namespace", namespace),
		zap.Int("deleted", deleted),
		zap.Int("remaining", len(filtered)))

	return nil
}

// Count 返回 namespace 内记录数
func (s *InMemoryVectorIndex) Count(namespace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.namespaces[namespace])
}

// matchesFilter 只支持等值过滤
func matchesFilter(meta map[string]any, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := meta[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// 功用函数

// cosineSimilarity 余弦相似度，维度不一致或零向量返回 0
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dotProduct += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sortMatchesByScore 按分数降序稳定排序
func sortMatchesByScore(results []VectorMatch) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}
