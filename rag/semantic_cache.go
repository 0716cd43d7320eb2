package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ====== 语义缓存 ======

// ErrCacheEntryNotFound 缓存条目不存在（可能已被淘汰）
var ErrCacheEntryNotFound = errors.New("cache entry not found")

// SemanticCacheConfig 语义缓存配置
type SemanticCacheConfig struct {
	// similarity = 1 - 余弦距离，>= 阈值即命中
	SimilarityThreshold float64 `json:"similarity_threshold"`
	// 每个 namespace 的最大条目数
	MaxSize int `json:"max_size"`
	// 规范化问题使用的模型参数
	Canonical ModelOptions `json:"canonical"`
}

// DefaultSemanticCacheConfig 返回默认配置
func DefaultSemanticCacheConfig() SemanticCacheConfig {
	return SemanticCacheConfig{
		SimilarityThreshold: 0.85,
		MaxSize:             100,
		Canonical:           ModelOptions{Model: "gpt-4o", Temperature: 0},
	}
}

// CacheKey 规范化后的问题及其向量。Lookup 与 Store 共用同一个 key，
// 避免同一请求重复规范化和 embedding。
type CacheKey struct {
	Question  string
	Canonical string
	Embedding []float32
	Model     string
}

// SemanticCache 语义缓存（基于向量相似度）
type SemanticCache struct {
	store    CacheStore
	embedder EmbeddingService
	lm       LanguageModel
	config   SemanticCacheConfig
	metrics  MetricsRecorder
	logger   *zap.Logger
	now      func() time.Time
}

// NewSemanticCache 创建语义缓存。lm 为 nil 时跳过规范化。
func NewSemanticCache(store CacheStore, embedder EmbeddingService, lm LanguageModel, config SemanticCacheConfig, metrics MetricsRecorder, logger *zap.Logger) *SemanticCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if config.MaxSize <= 0 {
		config.MaxSize = DefaultSemanticCacheConfig().MaxSize
	}
	return &SemanticCache{
		store:    store,
		embedder: embedder,
		lm:       lm,
		config:   config,
		metrics:  metrics,
		logger:   logger.With(zap.String("component", "semantic_cache")),
		now:      time.Now,
	}
}

// Canonicalize 把问题改写为规范形式。失败时原样返回问题。
func (c *SemanticCache) Canonicalize(ctx context.Context, question string) string {
	question = strings.TrimSpace(question)
	if c.lm == nil {
		return question
	}

	out, err := complete(ctx, c.lm, c.config.Canonical, canonicalPrompt(question), nil)
	if err != nil {
		c.logger.Warn("question canonicalization failed, using raw question", zap.Error(err))
		return question
	}

	out = strings.Trim(strings.TrimSpace(out), `"`)
	if out == "" {
		return question
	}
	return out
}

// Prepare 规范化并 embedding 问题
func (c *SemanticCache) Prepare(ctx context.Context, question string) (*CacheKey, error) {
	canonical := c.Canonicalize(ctx, question)

	vec, err := c.embedder.EmbedQuery(ctx, canonical)
	if err != nil {
		return nil, fmt.Errorf("embed canonical question: %w", err)
	}

	return &CacheKey{
		Question:  question,
		Canonical: canonical,
		Embedding: vec,
		Model:     c.embedder.Model(),
	}, nil
}

// Lookup 查找语义相同的已缓存答案。任何错误都按未命中处理。
func (c *SemanticCache) Lookup(ctx context.Context, namespace, question string) (*CacheEntry, bool) {
	key, err := c.Prepare(ctx, question)
	if err != nil {
		c.logger.Warn("semantic cache lookup degraded to miss",
			zap.String("namespace", namespace), zap.Error(err))
		c.metrics.RecordCacheMiss("semantic")
		return nil, false
	}
	return c.LookupKey(ctx, namespace, key)
}

// LookupKey 用已准备好的 key 查找
func (c *SemanticCache) LookupKey(ctx context.Context, namespace string, key *CacheKey) (*CacheEntry, bool) {
	entry, similarity, err := c.store.Nearest(ctx, namespace, key.Model, key.Embedding)
	if err != nil {
		c.logger.Warn("semantic cache search failed",
			zap.String("namespace", namespace), zap.Error(err))
		c.metrics.RecordCacheMiss("semantic")
		return nil, false
	}

	// 检查相似度是否超过阈值
	if entry == nil || similarity < c.config.SimilarityThreshold {
		c.metrics.RecordCacheMiss("semantic")
		return nil, false
	}

	hits, err := c.store.IncrementHits(ctx, entry.ID)
	if err != nil {
		// 条目可能刚被并发淘汰；答案本身仍然有效
		c.logger.Warn("failed to increment hit_count",
			zap.String("id", entry.ID), zap.Error(err))
	} else {
		entry.HitCount = hits
	}

	c.metrics.RecordCacheHit("semantic")
	c.logger.Info("semantic cache hit",
		zap.String("namespace", namespace),
		zap.String("id", entry.ID),
		zap.Float64("similarity", similarity),
		zap.Int("hit_count", entry.HitCount))

	return entry, true
}

// Store 规范化、embedding 并写入新条目，随后按容量淘汰
func (c *SemanticCache) Store(ctx context.Context, namespace, question, answer string, chunks []ContextChunk) (*CacheEntry, error) {
	key, err := c.Prepare(ctx, question)
	if err != nil {
		return nil, err
	}
	return c.StoreKey(ctx, namespace, key, answer, chunks)
}

// StoreKey 用已准备好的 key 写入。淘汰失败只记录日志，下次写入时重试。
func (c *SemanticCache) StoreKey(ctx context.Context, namespace string, key *CacheKey, answer string, chunks []ContextChunk) (*CacheEntry, error) {
	entry := &CacheEntry{
		ID:                uuid.NewString(),
		Namespace:         namespace,
		CanonicalQuestion: key.Canonical,
		Embedding:         key.Embedding,
		EmbeddingModel:    key.Model,
		Answer:            answer,
		ContextChunks:     chunks,
		HitCount:          1,
		CreatedAt:         c.now().UTC(),
	}

	if err := c.store.Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("store cache entry: %w", err)
	}

	evicted, err := c.store.Evict(ctx, namespace, c.config.MaxSize)
	if err != nil {
		c.logger.Warn("semantic cache eviction failed",
			zap.String("namespace", namespace), zap.Error(err))
	} else if evicted > 0 {
		c.metrics.RecordCacheEviction(namespace, evicted)
		c.logger.Info("semantic cache entries evicted",
			zap.String("namespace", namespace), zap.Int("evicted", evicted))
	}

	return entry, nil
}

// Top 高频问题，附带第一个来源的 URL
func (c *SemanticCache) Top(ctx context.Context, namespace string, limit int) ([]FAQEntry, error) {
	if limit <= 0 {
		limit = 5
	}

	entries, err := c.store.Top(ctx, namespace, limit)
	if err != nil {
		return nil, err
	}

	out := make([]FAQEntry, 0, len(entries))
	for _, e := range entries {
		faq := FAQEntry{
			Question: e.CanonicalQuestion,
			Answer:   e.Answer,
			HitCount: e.HitCount,
		}
		for _, chunk := range e.ContextChunks {
			if chunk.SourceURL != "" {
				faq.SourceURL = chunk.SourceURL
				break
			}
		}
		out = append(out, faq)
	}
	return out, nil
}
