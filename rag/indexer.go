package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/aagudeloRN/RAGPruebas/llm/tokenizer"
)

// DocumentRegistry 可写的元数据存储。GormMetadataStore 满足该接口。
type DocumentRegistry interface {
	SaveDocument(ctx context.Context, doc DocumentMetadata) error
	DeleteDocument(ctx context.Context, id, namespace string) error
}

// IndexerConfig 入库配置
type IndexerConfig struct {
	ChunkSize int `json:"chunk_size"` // tokens
	// 每批 embedding 的文本数
	BatchSize int `json:"batch_size"`
}

// DefaultIndexerConfig 返回默认配置
func DefaultIndexerConfig() IndexerConfig {
	return IndexerConfig{ChunkSize: 512, BatchSize: 64}
}

// IndexResult 一次入库的结果
type IndexResult struct {
	DocumentID string   `json:"document_id"`
	ChunkIDs   []string `json:"chunk_ids"`
}

// Indexer 把文档切块、embedding 后写入向量索引，并登记元数据。
// 登记失败时删除已写入的向量。
type Indexer struct {
	embedder EmbeddingService
	index    VectorIndex
	registry DocumentRegistry
	splitter *TextSplitter
	config   IndexerConfig
	logger   *zap.Logger
}

// NewIndexer 创建 Indexer
func NewIndexer(embedder EmbeddingService, index VectorIndex, registry DocumentRegistry, tok tokenizer.Tokenizer, config IndexerConfig, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultIndexerConfig()
	if config.ChunkSize <= 0 {
		config.ChunkSize = defaults.ChunkSize
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	return &Indexer{
		embedder: embedder,
		index:    index,
		registry: registry,
		splitter: NewTextSplitter(tok, config.ChunkSize),
		config:   config,
		logger:   logger.With(zap.String("component", "indexer")),
	}
}

// ChunkID 文档第 i 个块的向量 id
func ChunkID(documentID string, i int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, i)
}

// IndexDocument 切块 → embedding → upsert → 登记元数据
func (x *Indexer) IndexDocument(ctx context.Context, doc DocumentMetadata, text string) (*IndexResult, error) {
	if doc.ID == "" || doc.Namespace == "" {
		return nil, fmt.Errorf("document id and namespace are required")
	}

	chunks := x.splitter.Split(text)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("document %s has no text", doc.ID)
	}

	records := make([]VectorRecord, 0, len(chunks))
	for start := 0; start < len(chunks); start += x.config.BatchSize {
		end := min(start+x.config.BatchSize, len(chunks))

		vectors, err := x.embedder.EmbedDocuments(ctx, chunks[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed document %s: %w", doc.ID, err)
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("embed document %s: got %d vectors for %d chunks", doc.ID, len(vectors), end-start)
		}

		for j, vec := range vectors {
			i := start + j
			records = append(records, VectorRecord{
				ID:     ChunkID(doc.ID, i),
				Values: vec,
				Metadata: PassageMetadata(Passage{
					ChunkID:         ChunkID(doc.ID, i),
					DocumentID:      doc.ID,
					Text:            chunks[i],
					Publisher:       doc.Publisher,
					PublicationYear: doc.PublicationYear,
					Title:           doc.Title,
					SourceURL:       doc.SourceURL,
				}),
			})
		}
	}

	if err := x.index.Upsert(ctx, doc.Namespace, records); err != nil {
		return nil, fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}

	if err := x.registry.SaveDocument(ctx, doc); err != nil {
		// 补偿：撤回已写入的向量
		if derr := x.index.Delete(ctx, doc.Namespace, ids, nil); derr != nil {
			x.logger.Error("compensating vector delete failed",
				zap.String("document_id", doc.ID),
				zap.String("namespace", doc.Namespace),
				zap.Error(derr))
			return nil, errors.Join(fmt.Errorf("register document %s: %w", doc.ID, err), derr)
		}
		return nil, fmt.Errorf("register document %s: %w", doc.ID, err)
	}

	x.logger.Info("document indexed",
		zap.String("document_id", doc.ID),
		zap.String("namespace", doc.Namespace),
		zap.Int("chunks", len(ids)))

	return &IndexResult{DocumentID: doc.ID, ChunkIDs: ids}, nil
}

// RemoveDocument 删除文档的全部向量与元数据
func (x *Indexer) RemoveDocument(ctx context.Context, namespace, documentID string) error {
	filter := map[string]any{MetaDocumentID: documentID}
	if err := x.index.Delete(ctx, namespace, nil, filter); err != nil {
		return fmt.Errorf("delete vectors of %s: %w", documentID, err)
	}
	if err := x.registry.DeleteDocument(ctx, documentID, namespace); err != nil {
		return fmt.Errorf("delete document %s: %w", documentID, err)
	}
	return nil
}

// =============================================================================
// 递归切块
// =============================================================================

// 分隔符优先级：段落 > 行 > 句子 > 单词
var splitSeparators = []string{"\n\n", "\n", ". ", "。", "? ", "! ", " "}

// TextSplitter 在自然边界处把文本切成不超过 maxTokens 的块
type TextSplitter struct {
	tok       tokenizer.Tokenizer
	maxTokens int
}

// NewTextSplitter 创建切块器。tok 为 nil 时按 4 字符/token 估算。
func NewTextSplitter(tok tokenizer.Tokenizer, maxTokens int) *TextSplitter {
	return &TextSplitter{tok: tok, maxTokens: maxTokens}
}

// Split 返回去除首尾空白后的非空块
func (s *TextSplitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return s.split(text, splitSeparators)
}

func (s *TextSplitter) split(text string, separators []string) []string {
	if s.count(text) <= s.maxTokens {
		if t := strings.TrimSpace(text); t != "" {
			return []string{t}
		}
		return nil
	}
	if len(separators) == 0 {
		return s.hardSplit(text)
	}

	sep := separators[0]
	parts := strings.SplitAfter(text, sep)

	var (
		out     []string
		current string
	)
	flush := func() {
		if t := strings.TrimSpace(current); t != "" {
			out = append(out, t)
		}
		current = ""
	}

	for _, part := range parts {
		if s.count(current+part) <= s.maxTokens {
			current += part
			continue
		}
		flush()
		// 单个片段仍然过长，用下一级分隔符继续切
		if s.count(part) > s.maxTokens {
			out = append(out, s.split(part, separators[1:])...)
			continue
		}
		current = part
	}
	flush()
	return out
}

// hardSplit 最后手段：按字符数切
func (s *TextSplitter) hardSplit(text string) []string {
	runes := []rune(text)
	size := max(s.maxTokens*4, 1)

	var out []string
	for i := 0; i < len(runes); i += size {
		end := min(i+size, len(runes))
		if t := strings.TrimSpace(string(runes[i:end])); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (s *TextSplitter) count(text string) int {
	if s.tok == nil {
		return len(text) / 4
	}
	n, err := s.tok.CountTokens(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}
