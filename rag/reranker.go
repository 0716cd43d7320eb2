package rag

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// RerankerConfig 重排序配置
type RerankerConfig struct {
	// 低于该分数的候选被丢弃
	Threshold float64 `json:"threshold"`
	TopN      int     `json:"top_n"`
}

// DefaultRerankerConfig 返回默认配置
func DefaultRerankerConfig() RerankerConfig {
	return RerankerConfig{Threshold: 0.55, TopN: 10}
}

// Reranker 用 RerankService 针对原始问题重新打分、过滤、排序
type Reranker struct {
	service RerankService
	config  RerankerConfig
	logger  *zap.Logger
}

// NewReranker 创建重排序器
func NewReranker(service RerankService, config RerankerConfig, logger *zap.Logger) *Reranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.TopN <= 0 {
		config.TopN = DefaultRerankerConfig().TopN
	}
	return &Reranker{
		service: service,
		config:  config,
		logger:  logger.With(zap.String("component", "reranker")),
	}
}

// Rerank 返回分数不低于阈值的候选，按分数降序；同分保持检索顺序
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []RetrievalCandidate) ([]RankedCandidate, error) {
	if len(candidates) == 0 {
		return []RankedCandidate{}, nil
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Passage.Text
	}

	topN := r.config.TopN
	if topN > len(docs) {
		topN = len(docs)
	}

	results, err := r.service.RerankSimple(ctx, query, docs, topN)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}

	// 先按检索下标排列，稳定排序后同分即保持检索顺序
	scores := make(map[int]float64, len(results))
	for _, res := range results {
		if res.Index < 0 || res.Index >= len(candidates) {
			r.logger.Warn("rerank result index out of range", zap.Int("index", res.Index))
			continue
		}
		if res.RelevanceScore < r.config.Threshold {
			continue
		}
		if prev, ok := scores[res.Index]; !ok || res.RelevanceScore > prev {
			scores[res.Index] = res.RelevanceScore
		}
	}

	ranked := make([]RankedCandidate, 0, len(scores))
	for i, c := range candidates {
		if score, ok := scores[i]; ok {
			ranked = append(ranked, RankedCandidate{Passage: c.Passage, RelevanceScore: score})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].RelevanceScore > ranked[j].RelevanceScore
	})

	r.logger.Debug("rerank completed",
		zap.Int("candidates", len(candidates)),
		zap.Int("kept", len(ranked)),
		zap.Float64("threshold", r.config.Threshold))

	return ranked, nil
}
