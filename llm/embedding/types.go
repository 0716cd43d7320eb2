package embedding

import "context"

// EmbeddingRequest 一次 /v1/embeddings 调用。Model 与 Dimensions 为空时使用提供者默认值。
type EmbeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model,omitempty"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// EmbeddingResponse Embeddings[i] 对应 Input[i]
type EmbeddingResponse struct {
	Provider   string         `json:"provider"`
	Model      string         `json:"model"`
	Embeddings [][]float32    `json:"embeddings"`
	Usage      EmbeddingUsage `json:"usage"`
}

type EmbeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Provider 文本向量化服务
type Provider interface {
	Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// EmbedDocuments 超出单次请求上限时自动分批，结果顺序与输入一致
	EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error)

	Name() string
	// Model 默认模型名，向量缓存键按模型区分
	Model() string
	Dimensions() int
}
