package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// VectorCache embedding 缓存后端。internal/cache.Manager 满足该接口。
// GetVectors 的结果与 keys 一一对应，未命中的位置为 nil。
type VectorCache interface {
	GetVectors(ctx context.Context, keys []string) ([][]float32, error)
	SetVectors(ctx context.Context, vectors map[string][]float32, ttl time.Duration) error
}

// CachedEmbedder 以 (模型, 文本哈希) 为键缓存 embedding 结果。
// 缓存读写失败只降级为直接调用，不影响结果。
type CachedEmbedder struct {
	inner   EmbeddingService
	cache   VectorCache
	ttl     time.Duration
	metrics MetricsRecorder
	logger  *zap.Logger
}

// NewCachedEmbedder 创建带缓存的 embedder，ttl 为 0 时使用缓存后端默认值
func NewCachedEmbedder(inner EmbeddingService, c VectorCache, ttl time.Duration, metrics MetricsRecorder, logger *zap.Logger) *CachedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &CachedEmbedder{
		inner:   inner,
		cache:   c,
		ttl:     ttl,
		metrics: metrics,
		logger:  logger.With(zap.String("component", "cached_embedder")),
	}
}

// Model 返回底层模型
func (e *CachedEmbedder) Model() string { return e.inner.Model() }

func (e *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("emb:%s:%s", e.inner.Model(), hex.EncodeToString(sum[:]))
}

// lookup 一次读取全部文本的缓存，读失败时整体按未命中处理
func (e *CachedEmbedder) lookup(ctx context.Context, texts []string) [][]float32 {
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = e.key(t)
	}

	vecs, err := e.cache.GetVectors(ctx, keys)
	if err != nil || len(vecs) != len(texts) {
		if err != nil {
			e.logger.Warn("embedding cache read failed", zap.Error(err))
		}
		vecs = make([][]float32, len(texts))
	}

	for _, v := range vecs {
		if len(v) > 0 {
			e.metrics.RecordCacheHit("embedding")
		} else {
			e.metrics.RecordCacheMiss("embedding")
		}
	}
	return vecs
}

func (e *CachedEmbedder) store(ctx context.Context, texts []string, vecs [][]float32) {
	entries := make(map[string][]float32, len(texts))
	for i, t := range texts {
		entries[e.key(t)] = vecs[i]
	}
	if err := e.cache.SetVectors(ctx, entries, e.ttl); err != nil {
		e.logger.Warn("embedding cache write failed", zap.Error(err))
	}
}

// EmbedQuery 先查缓存，未命中再调用底层服务
func (e *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if vec := e.lookup(ctx, []string{text})[0]; len(vec) > 0 {
		return vec, nil
	}

	vec, err := e.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	e.store(ctx, []string{text}, [][]float32{vec})
	return vec, nil
}

// EmbedDocuments 只把未命中的文本合并成一次批量调用
func (e *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	out := e.lookup(ctx, texts)

	missIdx := make([]int, 0, len(texts))
	missText := make([]string, 0, len(texts))
	for i, vec := range out {
		if len(vec) == 0 {
			missIdx = append(missIdx, i)
			missText = append(missText, texts[i])
		}
	}
	if len(missText) == 0 {
		return out, nil
	}

	vecs, err := e.inner.EmbedDocuments(ctx, missText)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missText) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vecs), len(missText))
	}

	for j, i := range missIdx {
		out[i] = vecs[j]
	}
	e.store(ctx, missText, vecs)
	return out, nil
}
