package rag

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/aagudeloRN/RAGPruebas/llm/tokenizer"
)

const (
	unknownPublisher = "N/A"
	unknownYear      = "n.d."
	chunkSeparator   = "\n\n"
)

// AssembledContext 组装结果
type AssembledContext struct {
	Text    string         `json:"text"`
	Sources []Source       `json:"sources"`
	Chunks  []ContextChunk `json:"chunks"`
}

// Empty 没有任何片段
func (a *AssembledContext) Empty() bool {
	return len(a.Chunks) == 0
}

// ContextAssembler 构建带引用标注的上下文文本与去重的来源列表
type ContextAssembler struct {
	metadata  MetadataStore
	tokenizer tokenizer.Tokenizer
	maxTokens int
	logger    *zap.Logger
}

// NewContextAssembler 创建组装器。metadata 为 nil 时只使用段落自带元数据；
// tok 为 nil 或 maxTokens <= 0 时不限制长度。
func NewContextAssembler(metadata MetadataStore, tok tokenizer.Tokenizer, maxTokens int, logger *zap.Logger) *ContextAssembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextAssembler{
		metadata:  metadata,
		tokenizer: tok,
		maxTokens: maxTokens,
		logger:    logger.With(zap.String("component", "context_assembler")),
	}
}

// CitationHeader "Source: (publisher, year)"
func CitationHeader(publisher, year string) string {
	if strings.TrimSpace(publisher) == "" {
		publisher = unknownPublisher
	}
	if strings.TrimSpace(year) == "" {
		year = unknownYear
	}
	return "Source: (" + publisher + ", " + year + ")"
}

// Assemble 按排名顺序拼接片段。超出 token 预算后停止追加（至少保留第一段）。
// 来源以元数据存储为准，缺失时回退到段落元数据。
func (a *ContextAssembler) Assemble(ctx context.Context, namespace string, ranked []RankedCandidate) *AssembledContext {
	out := &AssembledContext{
		Sources: []Source{},
		Chunks:  []ContextChunk{},
	}

	docs := make(map[string]*DocumentMetadata)
	var (
		b    strings.Builder
		used int
	)

	for i, rc := range ranked {
		p := rc.Passage
		block := CitationHeader(p.Publisher, p.PublicationYear) + "\n" + p.Text

		if a.tokenizer != nil && a.maxTokens > 0 {
			n, err := a.tokenizer.CountTokens(block)
			if err != nil {
				n = len(block) / 4
			}
			if i > 0 && used+n > a.maxTokens {
				a.logger.Debug("context token budget reached",
					zap.Int("used", used),
					zap.Int("kept", i),
					zap.Int("dropped", len(ranked)-i))
				break
			}
			used += n
		}

		if i > 0 {
			b.WriteString(chunkSeparator)
		}
		b.WriteString(block)

		source := a.resolveSource(ctx, namespace, p, docs)
		out.Chunks = append(out.Chunks, ContextChunk{
			DocumentID:      p.DocumentID,
			ChunkID:         p.ChunkID,
			Text:            p.Text,
			Publisher:       source.Publisher,
			PublicationYear: source.PublicationYear,
			Title:           source.Title,
			SourceURL:       source.SourceURL,
		})
	}

	out.Text = b.String()
	out.Sources = sourcesFromChunks(out.Chunks)
	return out
}

// resolveSource 每个文档只查询一次元数据存储
func (a *ContextAssembler) resolveSource(ctx context.Context, namespace string, p Passage, docs map[string]*DocumentMetadata) Source {
	src := Source{
		DocumentID:      p.DocumentID,
		Title:           p.Title,
		Publisher:       p.Publisher,
		PublicationYear: p.PublicationYear,
		SourceURL:       p.SourceURL,
	}
	if a.metadata == nil || p.DocumentID == "" {
		return src
	}

	meta, seen := docs[p.DocumentID]
	if !seen {
		var err error
		meta, err = a.metadata.GetDocument(ctx, p.DocumentID, namespace)
		if err != nil {
			a.logger.Warn("metadata lookup failed, using passage metadata",
				zap.String("document_id", p.DocumentID), zap.Error(err))
			meta = nil
		}
		docs[p.DocumentID] = meta
	}
	if meta == nil {
		return src
	}

	src.Title = firstNonEmpty(meta.Title, src.Title)
	src.Publisher = firstNonEmpty(meta.Publisher, src.Publisher)
	src.PublicationYear = firstNonEmpty(meta.PublicationYear, src.PublicationYear)
	src.SourceURL = firstNonEmpty(meta.SourceURL, src.SourceURL)
	return src
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
