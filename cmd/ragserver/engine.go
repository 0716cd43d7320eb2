package main

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aagudeloRN/RAGPruebas/config"
	"github.com/aagudeloRN/RAGPruebas/internal/cache"
	"github.com/aagudeloRN/RAGPruebas/llm/embedding"
	"github.com/aagudeloRN/RAGPruebas/llm/providers/openai"
	"github.com/aagudeloRN/RAGPruebas/llm/rerank"
	"github.com/aagudeloRN/RAGPruebas/llm/retry"
	"github.com/aagudeloRN/RAGPruebas/llm/tokenizer"
	"github.com/aagudeloRN/RAGPruebas/rag"
)

// =============================================================================
// 🔌 外部端口
// =============================================================================

// ports 问答引擎依赖的外部服务。生产环境由 newPorts 构造，测试替换为内存实现。
type ports struct {
	LM       rag.LanguageModel
	Embedder rag.EmbeddingService
	Index    rag.VectorIndex
	Reranker rag.RerankService

	// 以下均可为 nil
	CacheStore rag.CacheStore         // nil 时使用进程内存储
	Metadata   *rag.GormMetadataStore // nil 时来源只使用向量元数据，且不能入库
	Memo       rag.VectorCache        // nil 时不缓存 embedding
	Tokenizer  tokenizer.Tokenizer    // nil 时按对话模型选择

	// 健康检查使用
	llmProvider *openai.Provider
	pinecone    *rag.PineconeIndex
}

// newPorts 按配置创建 OpenAI、Cohere、Pinecone 客户端。
// db 与 memo 可以为 nil。
func newPorts(cfg *config.Config, db *gorm.DB, memo *cache.Manager, logger *zap.Logger) ports {
	llmProvider := openai.New(openai.ConfigFrom(cfg.LLM), logger)
	pinecone := rag.NewPineconeIndex(rag.PineconeConfigFrom(cfg.Pinecone), logger)

	p := ports{
		LM:          llmProvider,
		Embedder:    embedding.NewOpenAIProvider(embedding.OpenAIConfigFrom(cfg.Embedding)),
		Index:       pinecone,
		Reranker:    rerank.NewCohereProvider(rerank.CohereConfigFrom(cfg.Rerank)),
		llmProvider: llmProvider,
		pinecone:    pinecone,
	}
	if db != nil {
		p.CacheStore = rag.NewPGVectorCacheStore(db, logger)
		p.Metadata = rag.NewGormMetadataStore(db, logger)
	}
	if memo != nil {
		p.Memo = memo
	}
	return p
}

// =============================================================================
// ⚙️ 引擎组装
// =============================================================================

// engine 组装完成的问答引擎
type engine struct {
	orchestrator *rag.Orchestrator
	cache        *rag.SemanticCache // 缓存关闭时为 nil
	refiner      *rag.Refiner
	indexer      *rag.Indexer // 没有元数据库时为 nil
}

// buildEngine 用配置和外部端口组装全部组件。
// 补全与查询类调用经过重试装饰，写操作不重试。
func buildEngine(cfg *config.Config, p ports, metrics rag.MetricsRecorder, logger *zap.Logger) (*engine, error) {
	if p.LM == nil || p.Embedder == nil || p.Index == nil || p.Reranker == nil {
		return nil, fmt.Errorf("language model, embedder, vector index and reranker are required")
	}
	if metrics == nil {
		metrics = rag.NopMetrics{}
	}
	rc := cfg.RAG

	retryer := retry.New(retry.PolicyFrom(rc.Retry), logger)

	var embedder rag.EmbeddingService = rag.NewRetryingEmbedder(p.Embedder, retryer, metrics)
	if p.Memo != nil {
		embedder = rag.NewCachedEmbedder(embedder, p.Memo, cfg.Redis.EmbeddingTTL, metrics, logger)
	}
	lm := rag.NewRetryingLanguageModel(p.LM, retryer, metrics)
	index := rag.NewRetryingVectorIndex(p.Index, retryer, metrics)
	reranker := rag.NewRetryingReranker(p.Reranker, retryer, metrics)

	tok := p.Tokenizer
	if tok == nil {
		tok = tokenizer.ForModel(cfg.LLM.ChatModel, logger)
	}

	chat := rag.ModelOptions{
		Model:       cfg.LLM.ChatModel,
		Temperature: float32(cfg.LLM.Temperature),
		MaxTokens:   cfg.LLM.MaxTokens,
	}
	// 路由、分解、规范化需要确定性输出
	deterministic := rag.ModelOptions{Model: cfg.LLM.CanonicalModel}

	var metadata rag.MetadataStore
	if p.Metadata != nil {
		metadata = p.Metadata
	}

	var semanticCache *rag.SemanticCache
	if rc.CacheEnabled {
		store := p.CacheStore
		if store == nil {
			logger.Warn("no persistent cache store configured, using in-memory semantic cache")
			store = rag.NewMemoryCacheStore(logger)
		}
		semanticCache = rag.NewSemanticCache(store, embedder, lm, rag.SemanticCacheConfig{
			SimilarityThreshold: rc.CacheSimilarityThreshold,
			MaxSize:             rc.CacheMaxSize,
			Canonical:           deterministic,
		}, metrics, logger)
	}

	var expander *rag.Expander
	if rc.EnableExpansion {
		expCfg := rag.DefaultExpanderConfig()
		expCfg.MaxQueries = rc.ExpansionCount
		expCfg.Model.Model = cfg.LLM.ChatModel
		expander = rag.NewExpander(lm, expCfg, logger)
	}

	plannerCfg := rag.DefaultPlannerConfig()
	plannerCfg.Model = deterministic

	orchestrator, err := rag.NewOrchestrator(rag.Components{
		Cache:       semanticCache,
		Planner:     rag.NewPlanner(lm, plannerCfg, logger),
		Expander:    expander,
		Retriever:   rag.NewRetriever(embedder, index, 0, logger),
		Reranker:    rag.NewReranker(reranker, rag.RerankerConfig{Threshold: rc.RerankThreshold, TopN: rc.RerankTopN}, logger),
		Assembler:   rag.NewContextAssembler(metadata, tok, rc.MaxContextTokens, logger),
		Synthesizer: rag.NewSynthesizer(lm, rag.SynthesizerConfig{Model: chat}, logger),
		Metrics:     metrics,
	}, rag.OrchestratorConfig{
		RetrievalTopK:   rc.RetrievalTopK,
		ExpansionTopK:   rc.ExpansionTopK,
		EnableExpansion: rc.EnableExpansion,
		NotFoundAnswer:  rc.NotFoundAnswer,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	e := &engine{
		orchestrator: orchestrator,
		cache:        semanticCache,
		refiner:      rag.NewRefiner(lm, chat, logger),
	}
	if p.Metadata != nil {
		// 入库写操作不重试
		e.indexer = rag.NewIndexer(embedder, p.Index, p.Metadata, tok, rag.DefaultIndexerConfig(), logger)
	}
	return e, nil
}
