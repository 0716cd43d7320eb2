package rag

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Retriever 把一个或多个查询转换为去重后的候选段落
type Retriever struct {
	embedder EmbeddingService
	index    VectorIndex
	// 并发查询上限，0 表示不限制
	parallelism int
	logger      *zap.Logger
}

// NewRetriever 创建检索器
func NewRetriever(embedder EmbeddingService, index VectorIndex, parallelism int, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		embedder:    embedder,
		index:       index,
		parallelism: parallelism,
		logger:      logger.With(zap.String("component", "retriever")),
	}
}

// Retrieve 每个查询独立 embedding 并在 namespace 内检索 topK。
// 结果按 chunk id 去重：按 queries 顺序首次出现者保留。
func (r *Retriever) Retrieve(ctx context.Context, queries []string, namespace string, topK int) ([]RetrievalCandidate, error) {
	queries = dedupQueries(queries, 0)
	if len(queries) == 0 || topK <= 0 {
		return []RetrievalCandidate{}, nil
	}

	// 结果按查询下标落位，保证合并顺序与并发调度无关
	perQuery := make([][]VectorMatch, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	if r.parallelism > 0 {
		g.SetLimit(r.parallelism)
	}
	for i, q := range queries {
		g.Go(func() error {
			vec, err := r.embedder.EmbedQuery(gctx, q)
			if err != nil {
				return fmt.Errorf("embed query %d: %w", i, err)
			}
			matches, err := r.index.Query(gctx, namespace, vec, topK, nil)
			if err != nil {
				return fmt.Errorf("vector query %d: %w", i, err)
			}
			perQuery[i] = matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	candidates := dedupCandidates(perQuery)

	r.logger.Debug("retrieval completed",
		zap.String("namespace", namespace),
		zap.Int("queries", len(queries)),
		zap.Int("candidates", len(candidates)))

	return candidates, nil
}

// dedupCandidates 按 chunk id 去重，保持首次出现顺序
func dedupCandidates(perQuery [][]VectorMatch) []RetrievalCandidate {
	seen := make(map[string]struct{})
	out := make([]RetrievalCandidate, 0)
	for _, matches := range perQuery {
		for _, m := range matches {
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}
			out = append(out, RetrievalCandidate{
				Passage: passageFromMatch(m),
				Score:   m.Score,
			})
		}
	}
	return out
}
