package mocks

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/aagudeloRN/RAGPruebas/llm/rerank"
)

// MockReranker 按文档内容返回预设分数。
// 未设置分数的文档得到 DefaultScore。
type MockReranker struct {
	mu sync.Mutex

	scores       map[string]float64
	DefaultScore float64
	err          error

	queries []string
}

// NewMockReranker 创建模拟重排序服务
func NewMockReranker() *MockReranker {
	return &MockReranker{scores: make(map[string]float64)}
}

// WithScore 包含 substr 的文档得分为 score。多个子串匹配时取最高分。
func (m *MockReranker) WithScore(substr string, score float64) *MockReranker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[substr] = score
	return m
}

// WithDefaultScore 设置默认分数
func (m *MockReranker) WithDefaultScore(score float64) *MockReranker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DefaultScore = score
	return m
}

// WithError 所有调用返回 err
func (m *MockReranker) WithError(err error) *MockReranker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Queries 每次调用传入的 query
func (m *MockReranker) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}

// RerankSimple 返回按分数降序的前 topN 条
func (m *MockReranker) RerankSimple(ctx context.Context, query string, documents []string, topN int) ([]rerank.RerankResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, query)
	if m.err != nil {
		return nil, m.err
	}

	results := make([]rerank.RerankResult, len(documents))
	for i, doc := range documents {
		score, matched := 0.0, false
		for substr, s := range m.scores {
			if strings.Contains(doc, substr) && (!matched || s > score) {
				score, matched = s, true
			}
		}
		if !matched {
			score = m.DefaultScore
		}
		results[i] = rerank.RerankResult{Index: i, RelevanceScore: score}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})
	if topN > 0 && topN < len(results) {
		results = results[:topN]
	}
	return results, nil
}
