package rag

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aagudeloRN/RAGPruebas/internal/cache"
	"github.com/aagudeloRN/RAGPruebas/testutil/mocks"
)

func setupCachedEmbedder(t *testing.T) (*CachedEmbedder, *mocks.MockEmbedder, *miniredis.Miniredis, *recordingMetrics) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := cache.DefaultConfig()
	cfg.Addr = mr.Addr()
	manager, err := cache.NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	inner := mocks.NewMockEmbedder()
	metrics := newRecordingMetrics()
	return NewCachedEmbedder(inner, manager, time.Hour, metrics, zap.NewNop()), inner, mr, metrics
}

func TestCachedEmbedder_EmbedQuery(t *testing.T) {
	emb, inner, mr, metrics := setupCachedEmbedder(t)
	ctx := context.Background()

	first, err := emb.EmbedQuery(ctx, "future of jobs")
	require.NoError(t, err)
	second, err := emb.EmbedQuery(ctx, "future of jobs")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.QueryCalls())
	assert.Equal(t, 1, metrics.hits["embedding"])
	assert.Equal(t, 1, metrics.misses["embedding"])

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], "emb:mock-embedding:")
	assert.Equal(t, time.Hour, mr.TTL(keys[0]))
}

func TestCachedEmbedder_EmbedDocumentsOnlySendsMisses(t *testing.T) {
	emb, inner, _, _ := setupCachedEmbedder(t)
	ctx := context.Background()

	_, err := emb.EmbedQuery(ctx, "b")
	require.NoError(t, err)

	vecs, err := emb.EmbedDocuments(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for i, text := range []string{"a", "b", "c"} {
		assert.Equal(t, mocks.HashVector(text, 64), vecs[i], text)
	}
	assert.Equal(t, 1, inner.DocumentCalls())

	// 全部命中时不调用底层服务
	_, err = emb.EmbedDocuments(ctx, []string{"c", "a"})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.DocumentCalls())
}

func TestCachedEmbedder_KeyIncludesModel(t *testing.T) {
	a := NewCachedEmbedder(mocks.NewMockEmbedder().WithModel("m1"), nil, 0, nil, nil)
	b := NewCachedEmbedder(mocks.NewMockEmbedder().WithModel("m2"), nil, 0, nil, nil)
	assert.NotEqual(t, a.key("same text"), b.key("same text"))
	assert.Equal(t, a.key("same text"), a.key("same text"))
}

// brokenCache 所有操作都失败
type brokenCache struct{}

func (brokenCache) GetVectors(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("redis: connection refused")
}

func (brokenCache) SetVectors(context.Context, map[string][]float32, time.Duration) error {
	return errors.New("redis: connection refused")
}

func TestCachedEmbedder_DegradesWhenCacheFails(t *testing.T) {
	inner := mocks.NewMockEmbedder()
	emb := NewCachedEmbedder(inner, brokenCache{}, time.Minute, nil, nil)

	vec, err := emb.EmbedQuery(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, mocks.HashVector("x", 64), vec)

	_, err = emb.EmbedDocuments(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.QueryCalls())
	assert.Equal(t, 1, inner.DocumentCalls())
}

func TestCachedEmbedder_PropagatesEmbeddingErrors(t *testing.T) {
	inner := mocks.NewMockEmbedder().WithError(errors.New("quota exceeded"))
	emb := NewCachedEmbedder(inner, brokenCache{}, time.Minute, nil, nil)

	_, err := emb.EmbedQuery(context.Background(), "x")
	assert.Error(t, err)
	_, err = emb.EmbedDocuments(context.Background(), []string{"x"})
	assert.Error(t, err)
}
