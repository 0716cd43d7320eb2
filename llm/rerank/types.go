package rerank

import "context"

type RerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
	// TopN 0 表示返回全部文档的分数
	TopN int `json:"top_n,omitempty"`
}

// RerankResponse Results 按 RelevanceScore 降序
type RerankResponse struct {
	ID       string         `json:"id,omitempty"`
	Provider string         `json:"provider"`
	Model    string         `json:"model"`
	Results  []RerankResult `json:"results"`
	Usage    RerankUsage    `json:"usage"`
}

// RerankResult Index 指向请求中的 Documents
type RerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type RerankUsage struct {
	SearchUnits int `json:"search_units,omitempty"`
}

// Provider 对 (query, 文档) 打相关性分数
type Provider interface {
	Rerank(ctx context.Context, req *RerankRequest) (*RerankResponse, error)
	RerankSimple(ctx context.Context, query string, documents []string, topN int) ([]RerankResult, error)
	Name() string
	// MaxDocuments 单次请求的文档数上限
	MaxDocuments() int
}
