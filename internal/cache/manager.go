package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrCacheMiss = errors.New("cache miss")
	ErrClosed    = errors.New("cache manager is closed")
)

func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// Stats 自创建以来的读取计数，损坏的值计入 Corrupt 而不计入 Misses
type Stats struct {
	Hits    int64
	Misses  int64
	Corrupt int64
}

// Manager 以二进制编码在 Redis 中存取 embedding 向量
type Manager struct {
	client *redis.Client
	cfg    Config
	logger *zap.Logger
	closed atomic.Bool

	hits, misses, corrupt atomic.Int64
}

// NewManager 建连后立即 PING，失败时返回错误并释放连接
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		MaxRetries:  cfg.MaxRetries,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}

	m := &Manager{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "embedding_memo")),
	}
	m.logger.Info("embedding memo connected",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
		zap.Duration("ttl", cfg.DefaultTTL),
	)
	return m, nil
}

func (m *Manager) keys(ks []string) []string {
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = m.cfg.KeyPrefix + k
	}
	return out
}

func (m *Manager) checkOpen() error {
	if m.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (m *Manager) GetVector(ctx context.Context, key string) ([]float32, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	raw, err := m.client.Get(ctx, m.cfg.KeyPrefix+key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		m.misses.Add(1)
		return nil, ErrCacheMiss
	case err != nil:
		return nil, fmt.Errorf("redis get: %w", err)
	}
	vec, err := DecodeVector(raw)
	if err != nil {
		m.corrupt.Add(1)
		return nil, err
	}
	m.hits.Add(1)
	return vec, nil
}

// GetVectors 一次 MGET，结果与 keys 按位置对应。未命中与损坏的位置为 nil。
func (m *Manager) GetVectors(ctx context.Context, keys []string) ([][]float32, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	values, err := m.client.MGet(ctx, m.keys(keys)...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			m.misses.Add(1)
			continue
		}
		vec, err := DecodeVector([]byte(s))
		if err != nil {
			m.corrupt.Add(1)
			m.logger.Warn("ignoring corrupt cached vector", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		m.hits.Add(1)
		out[i] = vec
	}
	return out, nil
}

// SetVectors 一个 pipeline 写入全部向量；ttl 为 0 时用 DefaultTTL
func (m *Manager) SetVectors(ctx context.Context, vectors map[string][]float32, ttl time.Duration) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if len(vectors) == 0 {
		return nil
	}
	if ttl == 0 {
		ttl = m.cfg.DefaultTTL
	}

	pipe := m.client.Pipeline()
	for k, vec := range vectors {
		pipe.Set(ctx, m.cfg.KeyPrefix+k, EncodeVector(vec), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline set (%d keys): %w", len(vectors), err)
	}
	return nil
}

func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := m.client.Del(ctx, m.keys(keys)...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (m *Manager) Ping(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.client.Ping(ctx).Err()
}

func (m *Manager) Stats() Stats {
	return Stats{Hits: m.hits.Load(), Misses: m.misses.Load(), Corrupt: m.corrupt.Load()}
}

// Close 重复调用为空操作
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	st := m.Stats()
	m.logger.Info("closing embedding memo",
		zap.Int64("hits", st.Hits),
		zap.Int64("misses", st.Misses),
		zap.Int64("corrupt", st.Corrupt),
	)
	return m.client.Close()
}
