package rag

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CacheStore 语义缓存持久化。所有操作都限定在 namespace 内。
// 每个方法是一个独立的短事务，不跨外部服务调用持有锁。
type CacheStore interface {
	// Nearest 返回同一 embedding 模型写入的条目中与 embedding 最接近的一条及其相似度
	// （1 - 余弦距离），为空时返回 nil。不同模型的向量不在同一空间，互不比较。
	Nearest(ctx context.Context, namespace, model string, embedding []float32) (*CacheEntry, float64, error)

	// Insert 持久化新条目
	Insert(ctx context.Context, entry *CacheEntry) error

	// IncrementHits 原子地把 hit_count 加一并返回新值
	IncrementHits(ctx context.Context, id string) (int, error)

	// Evict 删除超出 maxSize 的条目（hit_count 升序、created_at 升序），返回删除数
	Evict(ctx context.Context, namespace string, maxSize int) (int, error)

	// Top 按 hit_count 降序、created_at 降序返回前 limit 条
	Top(ctx context.Context, namespace string, limit int) ([]CacheEntry, error)

	Count(ctx context.Context, namespace string) (int, error)
}

// ====== 内存缓存存储（用于测试和无数据库部署）======

// MemoryCacheStore 内存语义缓存存储
type MemoryCacheStore struct {
	entries map[string][]*CacheEntry
	mu      sync.RWMutex
	logger  *zap.Logger
	now     func() time.Time
}

// NewMemoryCacheStore 创建内存缓存存储
func NewMemoryCacheStore(logger *zap.Logger) *MemoryCacheStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryCacheStore{
		entries: make(map[string][]*CacheEntry),
		logger:  logger.With(zap.String("component", "memory_cache_store")),
		now:     time.Now,
	}
}

// Nearest 线性扫描 namespace 内同一模型的条目
func (s *MemoryCacheStore) Nearest(ctx context.Context, namespace, model string, embedding []float32) (*CacheEntry, float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best    *CacheEntry
		bestSim = -2.0
	)
	for _, e := range s.entries[namespace] {
		if e.EmbeddingModel != model {
			continue
		}
		sim := cosineSimilarity(embedding, e.Embedding)
		if sim > bestSim {
			best, bestSim = e, sim
		}
	}
	if best == nil {
		return nil, 0, nil
	}

	cp := *best
	return &cp, bestSim, nil
}

// Insert 写入条目
func (s *MemoryCacheStore) Insert(ctx context.Context, entry *CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *entry
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.entries[cp.Namespace] = append(s.entries[cp.Namespace], &cp)
	return nil
}

// IncrementHits 命中计数加一
func (s *MemoryCacheStore) IncrementHits(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, list := range s.entries {
		for _, e := range list {
			if e.ID == id {
				e.HitCount++
				return e.HitCount, nil
			}
		}
	}
	return 0, ErrCacheEntryNotFound
}

// Evict 按 (hit_count, created_at) 升序删除多余条目
func (s *MemoryCacheStore) Evict(ctx context.Context, namespace string, maxSize int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.entries[namespace]
	surplus := len(list) - maxSize
	if surplus <= 0 {
		return 0, nil
	}

	ordered := make([]*CacheEntry, len(list))
	copy(ordered, list)
	sort.SliceStable(ordered, func(i, j int) bool {
		return evictsBefore(ordered[i], ordered[j])
	})

	victims := make(map[*CacheEntry]struct{}, surplus)
	for _, e := range ordered[:surplus] {
		victims[e] = struct{}{}
	}

	kept := make([]*CacheEntry, 0, maxSize)
	for _, e := range list {
		if _, ok := victims[e]; !ok {
			kept = append(kept, e)
		}
	}
	s.entries[namespace] = kept

	return surplus, nil
}

// Top 高频条目
func (s *MemoryCacheStore) Top(ctx context.Context, namespace string, limit int) ([]CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.entries[namespace]
	out := make([]CacheEntry, 0, len(list))
	for _, e := range list {
		out = append(out, *e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].HitCount != out[j].HitCount {
			return out[i].HitCount > out[j].HitCount
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Count 条目数
func (s *MemoryCacheStore) Count(ctx context.Context, namespace string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries[namespace]), nil
}

// evictsBefore 淘汰顺序：hit_count 升序，再 created_at 升序
func evictsBefore(a, b *CacheEntry) bool {
	if a.HitCount != b.HitCount {
		return a.HitCount < b.HitCount
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
