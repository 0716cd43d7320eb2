package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/aagudeloRN/RAGPruebas/config"
	"github.com/aagudeloRN/RAGPruebas/internal/tlsutil"
	"github.com/aagudeloRN/RAGPruebas/types"
)

const (
	pineconeService       = "vector_index"
	pineconeAPIVersion    = "2025-01"
	defaultPineconeBatch  = 100
	pineconeMaxDeleteIDs  = 1000
	defaultPineconeCtlURL = "https://api.pinecone.io"
)

// PineconeConfig BaseURL 为索引的数据面地址；为空时用 Index 通过控制面解析
type PineconeConfig struct {
	APIKey  string
	Index   string
	BaseURL string
	Timeout time.Duration
	// UpsertBatchSize 单个 upsert 请求的向量数，默认 100
	UpsertBatchSize int

	ControllerBaseURL string
}

func PineconeConfigFrom(cfg config.PineconeConfig) PineconeConfig {
	return PineconeConfig{
		APIKey:  cfg.APIKey,
		Index:   cfg.IndexName,
		BaseURL: cfg.IndexHost,
		Timeout: cfg.Timeout,
	}
}

// PineconeIndex 基于 Pinecone 数据面 REST API 的 VectorIndex。
// namespace 按调用传入，一个客户端服务所有知识库。
type PineconeIndex struct {
	cfg    PineconeConfig
	logger *zap.Logger
	client *http.Client

	host    atomic.Pointer[string]
	resolve singleflight.Group
}

func NewPineconeIndex(cfg PineconeConfig, logger *zap.Logger) *PineconeIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UpsertBatchSize <= 0 {
		cfg.UpsertBatchSize = defaultPineconeBatch
	}
	if cfg.ControllerBaseURL == "" {
		cfg.ControllerBaseURL = defaultPineconeCtlURL
	}

	p := &PineconeIndex{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "pinecone_index")),
		client: tlsutil.SecureHTTPClient(pineconeService, cfg.Timeout),
	}
	if h := normalizeHost(cfg.BaseURL); h != "" {
		p.host.Store(&h)
	}
	return p
}

// WithHTTPClient 测试中替换为 httptest 客户端
func (s *PineconeIndex) WithHTTPClient(c *http.Client) *PineconeIndex {
	s.client = tlsutil.WrapClient(pineconeService, c)
	return s
}

func normalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	return strings.TrimRight(host, "/")
}

// dataHost 返回数据面地址。首次调用时经控制面 GET /indexes/{name} 解析，
// 并发调用只发一次请求；解析失败不缓存。
func (s *PineconeIndex) dataHost(ctx context.Context) (string, error) {
	if h := s.host.Load(); h != nil {
		return *h, nil
	}
	if strings.TrimSpace(s.cfg.Index) == "" {
		return "", types.NewInvalidRequestError("pinecone index host or index name is required").WithService(pineconeService)
	}

	v, err, _ := s.resolve.Do(s.cfg.Index, func() (any, error) {
		endpoint := strings.TrimRight(s.cfg.ControllerBaseURL, "/") + "/indexes/" + url.PathEscape(s.cfg.Index)
		var desc struct {
			Host string `json:"host"`
		}
		if err := s.call(ctx, http.MethodGet, endpoint, nil, &desc); err != nil {
			return "", err
		}
		host := normalizeHost(desc.Host)
		if host == "" {
			return "", types.NewUpstreamError(pineconeService, fmt.Sprintf("controller returned empty host for index %q", s.cfg.Index))
		}
		s.host.Store(&host)
		s.logger.Info("pinecone host resolved", zap.String("index", s.cfg.Index), zap.String("host", host))
		return host, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *PineconeIndex) post(ctx context.Context, path string, in, out any) error {
	host, err := s.dataHost(ctx)
	if err != nil {
		return err
	}
	return s.call(ctx, http.MethodPost, host+path, in, out)
}

func (s *PineconeIndex) call(ctx context.Context, method, endpoint string, in, out any) error {
	if strings.TrimSpace(s.cfg.APIKey) == "" {
		return types.NewError(types.ErrUnauthorized, "pinecone api_key is required").WithService(pineconeService)
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("pinecone: marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Api-Key", s.cfg.APIKey)
	req.Header.Set("X-Pinecone-API-Version", pineconeAPIVersion)

	resp, err := s.client.Do(req)
	if err != nil {
		return types.NewError(types.ErrUpstreamTimeout, "pinecone request failed").
			WithCause(err).WithRetryable(true).WithService(pineconeService)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return types.FromResponse(pineconeService, resp, pineconeErrorMessage(resp.Body))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewUpstreamError(pineconeService, "decode response").WithCause(err)
	}
	return nil
}

type pineconeVector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type pineconeUpsert struct {
	Vectors   []pineconeVector `json:"vectors"`
	Namespace string           `json:"namespace,omitempty"`
}

type pineconeQuery struct {
	Vector          []float32      `json:"vector"`
	TopK            int            `json:"topK"`
	Namespace       string         `json:"namespace,omitempty"`
	Filter          map[string]any `json:"filter,omitempty"`
	IncludeMetadata bool           `json:"includeMetadata"`
}

type pineconeMatches struct {
	Matches []struct {
		ID       string         `json:"id"`
		Score    float64        `json:"score"`
		Metadata map[string]any `json:"metadata,omitempty"`
	} `json:"matches"`
}

type pineconeDelete struct {
	IDs       []string       `json:"ids,omitempty"`
	Filter    map[string]any `json:"filter,omitempty"`
	Namespace string         `json:"namespace,omitempty"`
}

// Upsert 按 UpsertBatchSize 分批写入；某一批失败时返回错误，之前的批次已写入
func (s *PineconeIndex) Upsert(ctx context.Context, namespace string, records []VectorRecord) error {
	vectors := make([]pineconeVector, len(records))
	for i, rec := range records {
		if rec.ID == "" {
			return types.NewInvalidRequestError(fmt.Sprintf("record[%d] has empty id", i)).WithService(pineconeService)
		}
		if len(rec.Values) == 0 {
			return types.NewInvalidRequestError(fmt.Sprintf("record %s has no vector", rec.ID)).WithService(pineconeService)
		}
		vectors[i] = pineconeVector{ID: rec.ID, Values: rec.Values, Metadata: rec.Metadata}
	}

	for start := 0; start < len(vectors); start += s.cfg.UpsertBatchSize {
		end := min(start+s.cfg.UpsertBatchSize, len(vectors))
		batch := pineconeUpsert{Vectors: vectors[start:end], Namespace: namespace}
		if err := s.post(ctx, "/vectors/upsert", batch, nil); err != nil {
			return fmt.Errorf("upsert vectors %d-%d of %d: %w", start, end, len(vectors), err)
		}
	}
	return nil
}

// Query topK <= 0 时不发请求
func (s *PineconeIndex) Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]any) ([]VectorMatch, error) {
	if topK <= 0 {
		return []VectorMatch{}, nil
	}
	if len(vector) == 0 {
		return nil, types.NewInvalidRequestError("query vector is required").WithService(pineconeService)
	}

	var resp pineconeMatches
	err := s.post(ctx, "/query", pineconeQuery{
		Vector:          vector,
		TopK:            topK,
		Namespace:       namespace,
		Filter:          pineconeFilter(filter),
		IncludeMetadata: true,
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]VectorMatch, len(resp.Matches))
	for i, m := range resp.Matches {
		out[i] = VectorMatch{ID: m.ID, Score: m.Score, Metadata: m.Metadata}
	}
	return out, nil
}

// Delete 按 id 删除时每请求最多 1000 个；ids 为空时按 filter 删除
func (s *PineconeIndex) Delete(ctx context.Context, namespace string, ids []string, filter map[string]any) error {
	if len(ids) == 0 {
		if len(filter) == 0 {
			return types.NewInvalidRequestError("delete requires ids or filter").WithService(pineconeService)
		}
		return s.post(ctx, "/vectors/delete", pineconeDelete{Filter: pineconeFilter(filter), Namespace: namespace}, nil)
	}
	for start := 0; start < len(ids); start += pineconeMaxDeleteIDs {
		end := min(start+pineconeMaxDeleteIDs, len(ids))
		if err := s.post(ctx, "/vectors/delete", pineconeDelete{IDs: ids[start:end], Namespace: namespace}, nil); err != nil {
			return err
		}
	}
	return nil
}

// Count namespace 为空时返回整个索引的向量数
func (s *PineconeIndex) Count(ctx context.Context, namespace string) (int, error) {
	var stats struct {
		TotalVectorCount int `json:"totalVectorCount"`
		Namespaces       map[string]struct {
			VectorCount int `json:"vectorCount"`
		} `json:"namespaces"`
	}
	if err := s.post(ctx, "/describe_index_stats", struct{}{}, &stats); err != nil {
		return 0, err
	}
	if namespace == "" {
		return stats.TotalVectorCount, nil
	}
	return stats.Namespaces[namespace].VectorCount, nil
}

// pineconeErrorMessage 优先取 {"message": ...}，否则返回原始响应体
func pineconeErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}
	var e struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &e) == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error.Message != "" {
			return e.Error.Message
		}
	}
	return strings.TrimSpace(string(data))
}

// pineconeFilter 等值条件转为 {"field": {"$eq": v}}；已是操作符的条件原样保留
func pineconeFilter(filter map[string]any) map[string]any {
	if len(filter) == 0 {
		return nil
	}
	out := make(map[string]any, len(filter))
	for k, v := range filter {
		if op, ok := v.(map[string]any); ok {
			out[k] = op
		} else {
			out[k] = map[string]any{"$eq": v}
		}
	}
	return out
}
