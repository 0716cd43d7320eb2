package rag

import (
	"errors"
	"time"

	"github.com/aagudeloRN/RAGPruebas/llm"
)

// ErrInvalidQuery 问题或 namespace 为空
var ErrInvalidQuery = errors.New("query and namespace are required")

// Passage 知识库中的一个文本块，由入库流程写入，引擎只读
type Passage struct {
	ChunkID         string `json:"chunk_id"`
	DocumentID      string `json:"document_id"`
	Text            string `json:"text"`
	Publisher       string `json:"publisher,omitempty"`
	PublicationYear string `json:"publication_year,omitempty"`
	Title           string `json:"title,omitempty"`
	SourceURL       string `json:"source_url,omitempty"`
}

// RetrievalCandidate 向量检索候选
type RetrievalCandidate struct {
	Passage Passage `json:"passage"`
	Score   float64 `json:"similarity_score"`
}

// RankedCandidate 重排序后的候选
type RankedCandidate struct {
	Passage        Passage `json:"passage"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Source 答案引用的文档，按 DocumentID 去重
type Source struct {
	DocumentID      string `json:"id"`
	Title           string `json:"title"`
	Publisher       string `json:"publisher"`
	PublicationYear string `json:"publication_year"`
	SourceURL       string `json:"source_url,omitempty"`
}

// ContextChunk 写入缓存的上下文片段，命中时据此重建 sources
type ContextChunk struct {
	DocumentID      string `json:"document_id"`
	ChunkID         string `json:"chunk_id"`
	Text            string `json:"text"`
	Publisher       string `json:"publisher,omitempty"`
	PublicationYear string `json:"publication_year,omitempty"`
	Title           string `json:"title,omitempty"`
	SourceURL       string `json:"source_url,omitempty"`
}

// CacheEntry 语义缓存条目。除 HitCount 外创建后不可变。
type CacheEntry struct {
	ID                string         `json:"id"`
	Namespace         string         `json:"namespace"`
	CanonicalQuestion string         `json:"canonical_question"`
	Embedding         []float32      `json:"-"`
	EmbeddingModel    string         `json:"embedding_model,omitempty"`
	Answer            string         `json:"answer"`
	ContextChunks     []ContextChunk `json:"context_chunks"`
	HitCount          int            `json:"hit_count"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Sources 从缓存的上下文片段重建引用列表
func (e *CacheEntry) Sources() []Source {
	return sourcesFromChunks(e.ContextChunks)
}

// QueryPlan 查询分解结果。IsComplex 时最后一步是合成指令而不是检索问题。
type QueryPlan struct {
	IsComplex bool     `json:"is_complex"`
	Steps     []string `json:"steps"`
}

// RetrievalSteps 返回需要检索的步骤
func (p *QueryPlan) RetrievalSteps() []string {
	if !p.IsComplex || len(p.Steps) < 2 {
		return p.Steps
	}
	return p.Steps[:len(p.Steps)-1]
}

// SynthesisInstruction 返回复杂计划的最终合成指令
func (p *QueryPlan) SynthesisInstruction() string {
	if !p.IsComplex || len(p.Steps) == 0 {
		return ""
	}
	return p.Steps[len(p.Steps)-1]
}

// Route 路由目标
type Route string

const (
	RouteKnowledgeBase Route = "knowledge_base"
	RouteHistory       Route = "history"
)

// RouteDecision 路由结果
type RouteDecision struct {
	Route Route  `json:"route"`
	Query string `json:"query"`
}

// Request 一次问答请求。History 为空时是单轮查询。
type Request struct {
	Query     string        `json:"query"`
	Namespace string        `json:"namespace"`
	History   []llm.Message `json:"history,omitempty"`
}

// Response 返回给调用方的结构化答案
type Response struct {
	Answer   string   `json:"answer"`
	Sources  []Source `json:"sources"`
	CacheHit bool     `json:"cache_hit"`
}

// Fact 多步合成中一个中间步骤的结论
type Fact struct {
	Step    string   `json:"step"`
	Fact    string   `json:"fact"`
	Sources []Source `json:"sources"`
}

// Suggestion 查询改写建议
type Suggestion struct {
	Query       string `json:"query"`
	Description string `json:"description"`
}

// FAQEntry 高频问题
type FAQEntry struct {
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	HitCount  int    `json:"hit_count"`
	SourceURL string `json:"source_url,omitempty"`
}

// EventType 流式事件类型
type EventType string

const (
	EventStatus  EventType = "status"
	EventStep    EventType = "step"
	EventToken   EventType = "token"
	EventAnswer  EventType = "answer"
	EventSources EventType = "sources"
	EventError   EventType = "error"
	EventDone    EventType = "done"
)

// StreamEvent 流式事件，done 每个请求恰好一次
type StreamEvent struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

// StepEvent 多步计划中一个步骤完成
type StepEvent struct {
	Index    int      `json:"index"`
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Sources  []Source `json:"sources,omitempty"`
}

// DoneEvent 结束事件
type DoneEvent struct {
	CacheHit bool `json:"cache_hit"`
}

func sourcesFromChunks(chunks []ContextChunk) []Source {
	sources := make([]Source, 0, len(chunks))
	seen := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		if c.DocumentID == "" {
			continue
		}
		if _, ok := seen[c.DocumentID]; ok {
			continue
		}
		seen[c.DocumentID] = struct{}{}
		sources = append(sources, Source{
			DocumentID:      c.DocumentID,
			Title:           c.Title,
			Publisher:       c.Publisher,
			PublicationYear: c.PublicationYear,
			SourceURL:       c.SourceURL,
		})
	}
	return sources
}

// mergeSources 追加 more 中未出现过的文档，保持先到先得
func mergeSources(base []Source, more []Source) []Source {
	seen := make(map[string]struct{}, len(base))
	for _, s := range base {
		seen[s.DocumentID] = struct{}{}
	}
	for _, s := range more {
		if _, ok := seen[s.DocumentID]; ok {
			continue
		}
		seen[s.DocumentID] = struct{}{}
		base = append(base, s)
	}
	return base
}
