package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/aagudeloRN/RAGPruebas/internal/tlsutil"
	"github.com/aagudeloRN/RAGPruebas/llm/tokenizer"
	"github.com/aagudeloRN/RAGPruebas/types"
)

const serviceName = "embedding"

// OpenAIProvider 调用 OpenAI /v1/embeddings。
//
// 超过 MaxInputTokens 的输入先截断再发送；EmbedDocuments 同时按条数与
// token 总数分批。返回的向量维度与配置不符时视为上游错误，
// 避免把错误维度的向量写进 pgvector 或 Pinecone。
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
	tok    tokenizer.Tokenizer
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	cfg = cfg.withDefaults()
	return &OpenAIProvider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(serviceName, cfg.Timeout),
		tok:    tokenizer.ForModel(cfg.Model, zap.L()),
	}
}

func (p *OpenAIProvider) Name() string    { return "openai-embedding" }
func (p *OpenAIProvider) Model() string   { return p.cfg.Model }
func (p *OpenAIProvider) Dimensions() int { return p.cfg.Dimensions }

// SetHTTPClient 替换 HTTP 客户端（测试中指向 httptest 服务器）
func (p *OpenAIProvider) SetHTTPClient(c *http.Client) {
	p.client = tlsutil.WrapClient(serviceName, c)
}

type openAIEmbedRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	Dimensions     int      `json:"dimensions,omitempty"`
	EncodingFormat string   `json:"encoding_format"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string         `json:"model"`
	Usage EmbeddingUsage `json:"usage"`
}

// Embed 单次请求，不分批
func (p *OpenAIProvider) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	if len(req.Input) == 0 {
		return nil, types.NewInvalidRequestError("embedding input is empty")
	}
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	dims := req.Dimensions
	if dims == 0 {
		dims = p.cfg.Dimensions
	}

	input := make([]string, len(req.Input))
	for i, text := range req.Input {
		input[i] = p.clip(text)
	}

	var out openAIEmbedResponse
	if err := p.post(ctx, openAIEmbedRequest{Input: input, Model: model, Dimensions: dims, EncodingFormat: "float"}, &out); err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(input))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(embeddings) {
			return nil, types.NewUpstreamError(serviceName, fmt.Sprintf("embedding index %d out of range", d.Index))
		}
		if dims > 0 && len(d.Embedding) != dims {
			return nil, types.NewUpstreamError(serviceName,
				fmt.Sprintf("embedding has %d dimensions, want %d", len(d.Embedding), dims))
		}
		embeddings[d.Index] = d.Embedding
	}
	for i, v := range embeddings {
		if v == nil {
			return nil, types.NewUpstreamError(serviceName, fmt.Sprintf("missing embedding for input %d", i))
		}
	}

	return &EmbeddingResponse{Provider: p.Name(), Model: out.Model, Embeddings: embeddings, Usage: out.Usage}, nil
}

func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.Embed(ctx, &EmbeddingRequest{Input: []string{text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error) {
	out := make([][]float32, 0, len(documents))
	for _, batch := range p.batches(documents) {
		resp, err := p.Embed(ctx, &EmbeddingRequest{Input: batch})
		if err != nil {
			return nil, err
		}
		out = append(out, resp.Embeddings...)
	}
	return out, nil
}

// batches 按顺序切分：每批不超过 MaxBatchSize 条，token 总数不超过 MaxBatchTokens
func (p *OpenAIProvider) batches(documents []string) [][]string {
	var (
		out    [][]string
		start  int
		tokens int
	)
	for i, doc := range documents {
		n := min(p.count(doc), p.cfg.MaxInputTokens)
		full := i-start >= p.cfg.MaxBatchSize || (i > start && tokens+n > p.cfg.MaxBatchTokens)
		if full {
			out = append(out, documents[start:i])
			start, tokens = i, 0
		}
		tokens += n
	}
	if start < len(documents) {
		out = append(out, documents[start:])
	}
	return out
}

func (p *OpenAIProvider) count(text string) int {
	n, err := p.tok.CountTokens(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

func (p *OpenAIProvider) clip(text string) string {
	out, err := tokenizer.Truncate(p.tok, text, p.cfg.MaxInputTokens)
	if err != nil {
		return text
	}
	return out
}

func (p *OpenAIProvider) post(ctx context.Context, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/v1/embeddings", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return types.NewUpstreamError(serviceName, "embedding request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return types.FromResponse(serviceName, resp, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewUpstreamError(serviceName, "invalid embedding response").WithCause(err)
	}
	return nil
}
