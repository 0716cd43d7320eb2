package rag

import (
	"context"
	"time"

	"github.com/aagudeloRN/RAGPruebas/llm"
	"github.com/aagudeloRN/RAGPruebas/llm/rerank"
	"github.com/aagudeloRN/RAGPruebas/llm/retry"
)

// 只读端口（embedding、向量查询、rerank、补全）的重试与计时装饰器。
// 写操作（Upsert / Delete）不重试。

// RetryingEmbedder 重试 embedding 调用
type RetryingEmbedder struct {
	inner   EmbeddingService
	retryer *retry.Retryer
	metrics MetricsRecorder
}

// NewRetryingEmbedder 包装 embedding 服务
func NewRetryingEmbedder(inner EmbeddingService, retryer *retry.Retryer, metrics MetricsRecorder) *RetryingEmbedder {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &RetryingEmbedder{inner: inner, retryer: retryer, metrics: metrics}
}

func (r *RetryingEmbedder) Model() string { return r.inner.Model() }

func (r *RetryingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return retry.Do(ctx, r.retryer, func(ctx context.Context) ([]float32, error) {
		start := time.Now()
		vec, err := r.inner.EmbedQuery(ctx, text)
		r.metrics.RecordExternalCall("embedding", err, time.Since(start))
		return vec, err
	})
}

func (r *RetryingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return retry.Do(ctx, r.retryer, func(ctx context.Context) ([][]float32, error) {
		start := time.Now()
		vecs, err := r.inner.EmbedDocuments(ctx, texts)
		r.metrics.RecordExternalCall("embedding", err, time.Since(start))
		return vecs, err
	})
}

// RetryingVectorIndex 只重试 Query
type RetryingVectorIndex struct {
	inner   VectorIndex
	retryer *retry.Retryer
	metrics MetricsRecorder
}

// NewRetryingVectorIndex 包装向量索引
func NewRetryingVectorIndex(inner VectorIndex, retryer *retry.Retryer, metrics MetricsRecorder) *RetryingVectorIndex {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &RetryingVectorIndex{inner: inner, retryer: retryer, metrics: metrics}
}

func (r *RetryingVectorIndex) Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]any) ([]VectorMatch, error) {
	return retry.Do(ctx, r.retryer, func(ctx context.Context) ([]VectorMatch, error) {
		start := time.Now()
		matches, err := r.inner.Query(ctx, namespace, vector, topK, filter)
		r.metrics.RecordExternalCall("vector_index", err, time.Since(start))
		return matches, err
	})
}

func (r *RetryingVectorIndex) Upsert(ctx context.Context, namespace string, records []VectorRecord) error {
	start := time.Now()
	err := r.inner.Upsert(ctx, namespace, records)
	r.metrics.RecordExternalCall("vector_index", err, time.Since(start))
	return err
}

func (r *RetryingVectorIndex) Delete(ctx context.Context, namespace string, ids []string, filter map[string]any) error {
	start := time.Now()
	err := r.inner.Delete(ctx, namespace, ids, filter)
	r.metrics.RecordExternalCall("vector_index", err, time.Since(start))
	return err
}

// RetryingReranker 重试 rerank 调用
type RetryingReranker struct {
	inner   RerankService
	retryer *retry.Retryer
	metrics MetricsRecorder
}

// NewRetryingReranker 包装 rerank 服务
func NewRetryingReranker(inner RerankService, retryer *retry.Retryer, metrics MetricsRecorder) *RetryingReranker {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &RetryingReranker{inner: inner, retryer: retryer, metrics: metrics}
}

func (r *RetryingReranker) RerankSimple(ctx context.Context, query string, documents []string, topN int) ([]rerank.RerankResult, error) {
	return retry.Do(ctx, r.retryer, func(ctx context.Context) ([]rerank.RerankResult, error) {
		start := time.Now()
		results, err := r.inner.RerankSimple(ctx, query, documents, topN)
		r.metrics.RecordExternalCall("rerank", err, time.Since(start))
		return results, err
	})
}

// RetryingLanguageModel 重试补全；流式调用已开始输出，不重试
type RetryingLanguageModel struct {
	inner   LanguageModel
	retryer *retry.Retryer
	metrics MetricsRecorder
}

// NewRetryingLanguageModel 包装语言模型
func NewRetryingLanguageModel(inner LanguageModel, retryer *retry.Retryer, metrics MetricsRecorder) *RetryingLanguageModel {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &RetryingLanguageModel{inner: inner, retryer: retryer, metrics: metrics}
}

func (r *RetryingLanguageModel) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return retry.Do(ctx, r.retryer, func(ctx context.Context) (*llm.ChatResponse, error) {
		start := time.Now()
		resp, err := r.inner.Completion(ctx, req)
		r.metrics.RecordExternalCall("llm", err, time.Since(start))
		return resp, err
	})
}

func (r *RetryingLanguageModel) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	start := time.Now()
	ch, err := r.inner.Stream(ctx, req)
	r.metrics.RecordExternalCall("llm", err, time.Since(start))
	return ch, err
}
