package rag

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aagudeloRN/RAGPruebas/llm"
	"github.com/aagudeloRN/RAGPruebas/llm/rerank"
	"github.com/aagudeloRN/RAGPruebas/llm/retry"
	"github.com/aagudeloRN/RAGPruebas/testutil/mocks"
	"github.com/aagudeloRN/RAGPruebas/types"
)

func fastRetryer(attempts int) *retry.Retryer {
	return retry.New(retry.Policy{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}, nil)
}

// flakyEmbedder 前 failures 次调用返回 err
type flakyEmbedder struct {
	*mocks.MockEmbedder
	failures int32
	err      error
	calls    atomic.Int32
}

func (f *flakyEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, f.err
	}
	return f.MockEmbedder.EmbedQuery(ctx, text)
}

func TestRetryingEmbedder_RetriesRetryableErrors(t *testing.T) {
	inner := &flakyEmbedder{
		MockEmbedder: mocks.NewMockEmbedder(),
		failures:     2,
		err:          types.FromHTTPStatus("embedding", 503, "overloaded"),
	}
	metrics := newRecordingMetrics()
	emb := NewRetryingEmbedder(inner, fastRetryer(3), metrics)

	vec, err := emb.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, mocks.HashVector("hello", 64), vec)
	assert.Equal(t, int32(3), inner.calls.Load())
	assert.Equal(t, 3, metrics.external["embedding"], "every attempt is recorded")
	assert.Equal(t, "mock-embedding", emb.Model())
}

func TestRetryingEmbedder_DoesNotRetryPermanentErrors(t *testing.T) {
	inner := &flakyEmbedder{
		MockEmbedder: mocks.NewMockEmbedder(),
		failures:     5,
		err:          types.FromHTTPStatus("embedding", 401, "bad key"),
	}
	emb := NewRetryingEmbedder(inner, fastRetryer(3), nil)

	_, err := emb.EmbedQuery(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, types.ErrUnauthorized, types.GetErrorCode(err))
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestRetryingEmbedder_GivesUpAfterMaxAttempts(t *testing.T) {
	inner := &flakyEmbedder{
		MockEmbedder: mocks.NewMockEmbedder(),
		failures:     10,
		err:          types.FromHTTPStatus("embedding", 429, "slow down"),
	}
	emb := NewRetryingEmbedder(inner, fastRetryer(2), nil)

	_, err := emb.EmbedQuery(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrRateLimit))
	assert.Equal(t, int32(2), inner.calls.Load())
}

// countingIndex 记录写操作次数，每次都失败
type countingIndex struct {
	*InMemoryVectorIndex
	upserts atomic.Int32
}

func (c *countingIndex) Upsert(ctx context.Context, namespace string, records []VectorRecord) error {
	c.upserts.Add(1)
	return types.NewUpstreamError("vector_index", "unavailable").WithRetryable(true)
}

func TestRetryingVectorIndex_WritesAreNotRetried(t *testing.T) {
	inner := &countingIndex{InMemoryVectorIndex: NewInMemoryVectorIndex(nil)}
	metrics := newRecordingMetrics()
	idx := NewRetryingVectorIndex(inner, fastRetryer(3), metrics)

	err := idx.Upsert(context.Background(), "ns", []VectorRecord{{ID: "a", Values: []float32{1}}})
	require.Error(t, err)
	assert.Equal(t, int32(1), inner.upserts.Load())

	matches, err := idx.Query(context.Background(), "ns", []float32{1}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Equal(t, 2, metrics.external["vector_index"])
}

type rerankFunc func(query string, docs []string, topN int) ([]rerank.RerankResult, error)

func (f rerankFunc) RerankSimple(_ context.Context, query string, docs []string, topN int) ([]rerank.RerankResult, error) {
	return f(query, docs, topN)
}

func TestRetryingReranker(t *testing.T) {
	var calls atomic.Int32
	inner := rerankFunc(func(query string, docs []string, topN int) ([]rerank.RerankResult, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("connection reset")
		}
		return []rerank.RerankResult{{Index: 0, RelevanceScore: 0.9}}, nil
	})
	metrics := newRecordingMetrics()
	rr := NewRetryingReranker(inner, fastRetryer(3), metrics)

	results, err := rr.RerankSimple(context.Background(), "q", []string{"d"}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, metrics.external["rerank"])
}

func TestRetryingLanguageModel(t *testing.T) {
	lm := mocks.NewMockLanguageModel().On("hello", "world")
	metrics := newRecordingMetrics()
	wrapped := NewRetryingLanguageModel(lm, fastRetryer(3), metrics)

	resp, err := wrapped.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{types.NewUserMessage("hello")},
	})
	require.NoError(t, err)
	content, err := llm.FirstContent(resp)
	require.NoError(t, err)
	assert.Equal(t, "world", content)

	ch, err := wrapped.Stream(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{types.NewUserMessage("hello")},
	})
	require.NoError(t, err)
	for range ch {
	}
	assert.Equal(t, 2, metrics.external["llm"])

	// 流式调用失败不重试
	failing := NewRetryingLanguageModel(
		mocks.NewMockLanguageModel().OnError("x", types.NewUpstreamError("llm", "down").WithRetryable(true)),
		fastRetryer(3), nil)
	_, err = failing.Stream(context.Background(), &llm.ChatRequest{Messages: []llm.Message{types.NewUserMessage("x")}})
	require.Error(t, err)
}
