package rag

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/aagudeloRN/RAGPruebas/llm"
	"github.com/aagudeloRN/RAGPruebas/llm/rerank"
)

// =============================================================================
// 外部端口
// =============================================================================

// EmbeddingService 文本 → 定长向量。llm/embedding 的 Provider 直接满足该接口。
type EmbeddingService interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// VectorRecord 写入向量索引的记录
type VectorRecord struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

// VectorMatch 向量索引查询结果
type VectorMatch struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// VectorIndex 按 namespace 分区的最近邻索引
type VectorIndex interface {
	Upsert(ctx context.Context, namespace string, records []VectorRecord) error

	// Query 返回按相似度降序的 topK 条结果，filter 为 nil 表示不过滤
	Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]any) ([]VectorMatch, error)

	// Delete 按 id 或 filter 删除，二者至少提供一个
	Delete(ctx context.Context, namespace string, ids []string, filter map[string]any) error
}

// RerankService 对 (query, document) 打分。llm/rerank 的 Provider 直接满足该接口。
type RerankService interface {
	RerankSimple(ctx context.Context, query string, documents []string, topN int) ([]rerank.RerankResult, error)
}

// LanguageModel 语言模型端口。llm/providers/openai.Provider 直接满足该接口。
type LanguageModel interface {
	Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
	Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error)
}

// DocumentMetadata 文档的权威元数据
type DocumentMetadata struct {
	ID              string `json:"id"`
	Namespace       string `json:"namespace"`
	Title           string `json:"title"`
	Publisher       string `json:"publisher"`
	PublicationYear string `json:"publication_year"`
	SourceURL       string `json:"source_url"`
}

// MetadataStore 文档元数据查询。文档不存在时返回 (nil, nil)。
type MetadataStore interface {
	GetDocument(ctx context.Context, id, namespace string) (*DocumentMetadata, error)
}

// =============================================================================
// 向量元数据字段
// =============================================================================

const (
	MetaText            = "text"
	MetaDocumentID      = "document_id"
	MetaPublisher       = "publisher"
	MetaPublicationYear = "publication_year"
	MetaTitle           = "title"
	MetaSourceURL       = "source_url"
)

// PassageMetadata 把 Passage 编码为向量索引元数据
func PassageMetadata(p Passage) map[string]any {
	meta := map[string]any{
		MetaText:       p.Text,
		MetaDocumentID: p.DocumentID,
	}
	if p.Publisher != "" {
		meta[MetaPublisher] = p.Publisher
	}
	if p.PublicationYear != "" {
		meta[MetaPublicationYear] = p.PublicationYear
	}
	if p.Title != "" {
		meta[MetaTitle] = p.Title
	}
	if p.SourceURL != "" {
		meta[MetaSourceURL] = p.SourceURL
	}
	return meta
}

// passageFromMatch 从索引结果还原 Passage
func passageFromMatch(m VectorMatch) Passage {
	return Passage{
		ChunkID:         m.ID,
		DocumentID:      metaString(m.Metadata, MetaDocumentID),
		Text:            metaString(m.Metadata, MetaText),
		Publisher:       metaString(m.Metadata, MetaPublisher),
		PublicationYear: metaString(m.Metadata, MetaPublicationYear),
		Title:           metaString(m.Metadata, MetaTitle),
		SourceURL:       metaString(m.Metadata, MetaSourceURL),
	}
}

// metaString 读取字符串元数据。JSON 数字（如年份 2023）按整数格式化。
func metaString(meta map[string]any, key string) string {
	v, ok := meta[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}
