/*
# 概述

Package rag 实现检索编排引擎：语义缓存、查询规划、查询扩展、检索、
重排序、上下文组装、答案合成，以及把它们串起来的 Orchestrator。

外部能力（embedding、向量索引、rerank、语言模型、文档元数据）全部以
端口接口注入，生产实现位于 llm/ 子包与本包的 Pinecone / gorm 适配器，
测试使用 testutil/mocks 中的脚本化实现。

# 核心接口/类型

  - EmbeddingService / VectorIndex / RerankService / LanguageModel / MetadataStore — 外部端口
  - CacheStore — 语义缓存存储（内存实现与 pgvector 实现）
  - SemanticCache — 规范化问题 → 答案缓存，基于余弦相似度命中，按容量淘汰
  - Planner — 路由（知识库 / 对话历史）、问题压缩、查询分解
  - Retriever / Reranker / ContextAssembler / Synthesizer — 单步检索管线
  - Orchestrator — 请求生命周期状态机，支持阻塞与流式两种调用

# 状态机

	CACHE_CHECK → HIT → DONE
	            → MISS → ROUTE → HISTORY_ANSWER → DONE
	                           → PLAN → RETRIEVE_STEP* → SYNTHESIZE_FINAL → CACHE_WRITE → DONE

所有路径都产出 Response；检索为空、阈值过滤为空时返回固定的“未找到”答案，
不调用合成器。
*/
package rag
