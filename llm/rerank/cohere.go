package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/aagudeloRN/RAGPruebas/internal/tlsutil"
	"github.com/aagudeloRN/RAGPruebas/types"
)

const (
	serviceName = "rerank"
	// cohereMaxDocuments /v2/rerank 单次请求的文档数上限
	cohereMaxDocuments = 1000
)

// CohereProvider 调用 Cohere /v2/rerank
type CohereProvider struct {
	cfg    CohereConfig
	client *http.Client
}

func NewCohereProvider(cfg CohereConfig) *CohereProvider {
	def := DefaultCohereConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxTokensPerDoc <= 0 {
		cfg.MaxTokensPerDoc = def.MaxTokensPerDoc
	}
	return &CohereProvider{cfg: cfg, client: tlsutil.SecureHTTPClient(serviceName, cfg.Timeout)}
}

// WithHTTPClient 替换 HTTP 客户端（测试中指向 httptest 服务器）
func (p *CohereProvider) WithHTTPClient(c *http.Client) *CohereProvider {
	p.client = tlsutil.WrapClient(serviceName, c)
	return p
}

func (p *CohereProvider) Name() string      { return "cohere-rerank" }
func (p *CohereProvider) MaxDocuments() int { return cohereMaxDocuments }

type cohereRequest struct {
	Model           string   `json:"model"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	TopN            int      `json:"top_n,omitempty"`
	MaxTokensPerDoc int      `json:"max_tokens_per_doc,omitempty"`
}

type cohereResponse struct {
	ID      string         `json:"id"`
	Results []RerankResult `json:"results"`
	Meta    struct {
		BilledUnits RerankUsage `json:"billed_units"`
	} `json:"meta"`
}

// Rerank 空文档列表不发请求。返回结果按分数降序；
// 上游返回越界或重复的 index 视为上游错误。
func (p *CohereProvider) Rerank(ctx context.Context, req *RerankRequest) (*RerankResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	if len(req.Documents) == 0 {
		return &RerankResponse{Provider: p.Name(), Model: model}, nil
	}
	if len(req.Documents) > cohereMaxDocuments {
		return nil, types.NewInvalidRequestError(
			fmt.Sprintf("rerank accepts at most %d documents, got %d", cohereMaxDocuments, len(req.Documents)))
	}

	topN := req.TopN
	if topN > len(req.Documents) {
		topN = len(req.Documents)
	}

	var out cohereResponse
	err := p.post(ctx, cohereRequest{
		Model:           model,
		Query:           req.Query,
		Documents:       req.Documents,
		TopN:            topN,
		MaxTokensPerDoc: p.cfg.MaxTokensPerDoc,
	}, &out)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]bool, len(out.Results))
	for _, r := range out.Results {
		if r.Index < 0 || r.Index >= len(req.Documents) {
			return nil, types.NewUpstreamError(serviceName, fmt.Sprintf("cohere returned out-of-range index %d", r.Index))
		}
		if seen[r.Index] {
			return nil, types.NewUpstreamError(serviceName, fmt.Sprintf("cohere returned index %d twice", r.Index))
		}
		seen[r.Index] = true
	}
	sort.SliceStable(out.Results, func(i, j int) bool {
		return out.Results[i].RelevanceScore > out.Results[j].RelevanceScore
	})

	return &RerankResponse{
		ID:       out.ID,
		Provider: p.Name(),
		Model:    model,
		Results:  out.Results,
		Usage:    out.Meta.BilledUnits,
	}, nil
}

func (p *CohereProvider) RerankSimple(ctx context.Context, query string, documents []string, topN int) ([]RerankResult, error) {
	resp, err := p.Rerank(ctx, &RerankRequest{Query: query, Documents: documents, TopN: topN})
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (p *CohereProvider) post(ctx context.Context, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/v2/rerank", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return types.NewUpstreamError(serviceName, "cohere rerank request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return types.FromResponse(serviceName, resp, "cohere rerank error: "+strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewUpstreamError(serviceName, "failed to decode cohere response").WithCause(err)
	}
	return nil
}
