package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/aagudeloRN/RAGPruebas/config"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.DefaultTTL = time.Minute

	manager, err := NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	return mr, manager
}

func TestNewManager_ConnectFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.MaxRetries = -1
	cfg.DialTimeout = time.Second

	_, err := NewManager(cfg, nil)
	assert.Error(t, err)
}

func TestConfigFrom(t *testing.T) {
	c := ConfigFrom(config.RedisConfig{Addr: "r:6379", DB: 2, EmbeddingTTL: time.Hour})
	assert.Equal(t, "r:6379", c.Addr)
	assert.Equal(t, 2, c.DB)
	assert.Equal(t, time.Hour, c.DefaultTTL)
	assert.Equal(t, "rag:", c.KeyPrefix)
	assert.Equal(t, 10, c.PoolSize)
}

func TestManager_SetAndGetVectors(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.SetVectors(ctx, map[string][]float32{
		"emb:a": {0.1, 0.2, 0.3},
		"emb:b": {-1, 0, 1},
	}, 0))

	// 键带前缀，默认 TTL 生效
	assert.True(t, mr.Exists("rag:emb:a"))
	assert.Equal(t, time.Minute, mr.TTL("rag:emb:a"))

	got, err := manager.GetVectors(ctx, []string{"emb:b", "emb:missing", "emb:a"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []float32{-1, 0, 1}, got[0])
	assert.Nil(t, got[1])
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, got[2])

	single, err := manager.GetVector(ctx, "emb:a")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, single)

	assert.Equal(t, Stats{Hits: 3, Misses: 1}, manager.Stats())
}

func TestManager_GetVectorsEmpty(t *testing.T) {
	_, manager := setupTestRedis(t)

	got, err := manager.GetVectors(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, manager.SetVectors(context.Background(), nil, 0))
}

func TestManager_GetMiss(t *testing.T) {
	_, manager := setupTestRedis(t)

	_, err := manager.GetVector(context.Background(), "missing")
	assert.True(t, IsCacheMiss(err))
}

func TestManager_Expiry(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.SetVectors(ctx, map[string][]float32{"short": {1}}, time.Second))
	mr.FastForward(2 * time.Second)

	_, err := manager.GetVector(ctx, "short")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestManager_CorruptValues(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("rag:bad", "abc"))

	_, err := manager.GetVector(ctx, "bad")
	assert.ErrorIs(t, err, ErrCorruptVector)

	// 批量读取时损坏的值按未命中处理
	got, err := manager.GetVectors(ctx, []string{"bad"})
	require.NoError(t, err)
	assert.Nil(t, got[0])
	assert.Equal(t, int64(2), manager.Stats().Corrupt)
	assert.Zero(t, manager.Stats().Misses)
}

func TestManager_Delete(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.SetVectors(ctx, map[string][]float32{"a": {1}, "b": {2}}, 0))
	require.NoError(t, manager.Delete(ctx, "a", "b"))
	require.NoError(t, manager.Delete(ctx))

	_, err := manager.GetVector(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestManager_Closed(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Ping(ctx))
	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())

	assert.ErrorIs(t, manager.Ping(ctx), ErrClosed)
	assert.ErrorIs(t, manager.SetVectors(ctx, map[string][]float32{"k": {1}}, 0), ErrClosed)
	_, err := manager.GetVectors(ctx, []string{"k"})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = manager.GetVector(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDecodeVector_Invalid(t *testing.T) {
	for _, raw := range [][]byte{nil, {}, {1, 2, 3}, {1, 2, 3, 4, 5}} {
		_, err := DecodeVector(raw)
		assert.ErrorIs(t, err, ErrCorruptVector, "%v", raw)
	}
}

func TestEncodeVector_Property_Reversible(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := rapid.SliceOfN(rapid.Float32(), 1, 64).Draw(t, "v")

		got, err := DecodeVector(EncodeVector(v))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(got) != len(v) {
			t.Fatalf("length %d != %d", len(got), len(v))
		}
		for i := range v {
			// 按位比较，NaN 也必须原样保留
			if string(EncodeVector(got[i:i+1])) != string(EncodeVector(v[i:i+1])) {
				t.Fatalf("element %d changed: %v -> %v", i, v[i], got[i])
			}
		}
	})
}
