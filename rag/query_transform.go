package rag

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ExpanderConfig 查询扩展配置
type ExpanderConfig struct {
	// 返回的查询总数上限（含原始查询）
	MaxQueries int           `json:"max_queries"`
	Model      ModelOptions  `json:"model"`
	CacheTTL   time.Duration `json:"cache_ttl"` // 0 表示不缓存
}

// DefaultExpanderConfig 返回默认配置
func DefaultExpanderConfig() ExpanderConfig {
	return ExpanderConfig{
		MaxQueries: 4,
		Model:      ModelOptions{Model: "gpt-4o", Temperature: 0.3},
		CacheTTL:   30 * time.Minute,
	}
}

// Expander 把一个问题扩展为改写、关键词、数据导向等多个检索查询。
// 失败时退化为只包含原始查询。
type Expander struct {
	lm     LanguageModel
	config ExpanderConfig
	cache  *expansionCache
	logger *zap.Logger
}

// 扩展结果的进程内缓存
type expansionCache struct {
	entries map[string]expansionEntry
	mu      sync.RWMutex
	ttl     time.Duration
}

type expansionEntry struct {
	queries   []string
	expiresAt time.Time
}

func newExpansionCache(ttl time.Duration) *expansionCache {
	return &expansionCache{
		entries: make(map[string]expansionEntry),
		ttl:     ttl,
	}
}

func (c *expansionCache) get(key string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return append([]string(nil), entry.queries...), true
}

func (c *expansionCache) set(key string, queries []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 顺带清理过期项
	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = expansionEntry{
		queries:   append([]string(nil), queries...),
		expiresAt: now.Add(c.ttl),
	}
}

// NewExpander 创建查询扩展器
func NewExpander(lm LanguageModel, config ExpanderConfig, logger *zap.Logger) *Expander {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxQueries <= 0 {
		config.MaxQueries = DefaultExpanderConfig().MaxQueries
	}

	e := &Expander{
		lm:     lm,
		config: config,
		logger: logger.With(zap.String("component", "query_expander")),
	}
	if config.CacheTTL > 0 {
		e.cache = newExpansionCache(config.CacheTTL)
	}
	return e
}

// Expand 返回去重后的查询列表，原始查询总在第一位，长度不超过 MaxQueries
func (e *Expander) Expand(ctx context.Context, query string) []string {
	query = strings.TrimSpace(query)
	if e.config.MaxQueries <= 1 || e.lm == nil {
		return []string{query}
	}

	key := strings.ToLower(query)
	if e.cache != nil {
		if cached, ok := e.cache.get(key); ok {
			return cached
		}
	}

	var out struct {
		Queries []string `json:"queries"`
	}
	if err := completeJSON(ctx, e.lm, e.config.Model, expansionPrompt(query, e.config.MaxQueries-1), &out); err != nil {
		e.logger.Warn("query expansion failed, using original query", zap.Error(err))
		return []string{query}
	}

	queries := dedupQueries(append([]string{query}, out.Queries...), e.config.MaxQueries)

	e.logger.Debug("query expanded",
		zap.String("query", query),
		zap.Int("variants", len(queries)))

	if e.cache != nil {
		e.cache.set(key, queries)
	}
	return queries
}

// dedupQueries 忽略大小写与首尾空白去重，保持首次出现顺序
func dedupQueries(queries []string, limit int) []string {
	seen := make(map[string]struct{}, len(queries))
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		k := strings.ToLower(q)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, q)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
