package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aagudeloRN/RAGPruebas/config"
	"github.com/aagudeloRN/RAGPruebas/internal/tlsutil"
	"github.com/aagudeloRN/RAGPruebas/llm"
	"github.com/aagudeloRN/RAGPruebas/types"
)

const (
	serviceName  = "llm"
	providerName = "openai"
)

type Config struct {
	APIKey string
	// BaseURL 兼容 OpenAI 协议的网关同样可用
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	// Organization 非空时发送 OpenAI-Organization 头
	Organization string

	ChatPath   string
	ModelsPath string
}

func ConfigFrom(cfg config.LLMConfig) Config {
	return Config{
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		DefaultModel: cfg.ChatModel,
		Timeout:      cfg.Timeout,
	}
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.DefaultModel == "" {
		c.DefaultModel = "gpt-4o"
	}
	if c.ChatPath == "" {
		c.ChatPath = "/v1/chat/completions"
	}
	if c.ModelsPath == "" {
		c.ModelsPath = "/v1/models"
	}
}

// Provider chat completions 的 llm.Provider 实现
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

var _ llm.Provider = (*Provider)(nil)

func New(cfg Config, logger *zap.Logger) *Provider {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(serviceName, cfg.Timeout),
		logger: logger.With(zap.String("component", "openai_chat")),
	}
}

func (p *Provider) WithHTTPClient(c *http.Client) *Provider {
	p.client = tlsutil.WrapClient(serviceName, c)
	return p
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var req *http.Request
	var err error
	if body == nil {
		req, err = http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	if p.cfg.Organization != "" {
		req.Header.Set("OpenAI-Organization", p.cfg.Organization)
	}
	return req, nil
}

// post 非 2xx 响应在这里转换为 *types.Error 并关闭响应体
func (p *Provider) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}
	req, err := p.newRequest(ctx, http.MethodPost, p.cfg.ChatPath, payload)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, types.NewUpstreamError(serviceName, "chat completion request failed").WithCause(err)
	}
	if resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	e := types.FromResponse(serviceName, resp, errorMessage(resp.Body))
	p.logger.Warn("chat completion rejected",
		zap.Int("status", resp.StatusCode),
		zap.String("model", body.Model),
		zap.String("upstream_request_id", resp.Header.Get("X-Request-Id")),
		zap.Bool("retryable", e.Retryable),
	)
	return nil, e
}

func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := p.post(ctx, p.toWire(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var wr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, types.NewUpstreamError(serviceName, "invalid chat completion response").WithCause(err)
	}
	var fn string
	if req.Function != nil {
		fn = req.Function.Name
	}
	out := wr.toLLM(providerName, fn)

	p.logger.Debug("chat completion",
		zap.String("model", out.Model),
		zap.Int("prompt_tokens", out.Usage.PromptTokens),
		zap.Int("completion_tokens", out.Usage.CompletionTokens),
	)
	return out, nil
}

// Stream 上游拒绝请求时直接返回错误；流建立后的错误通过最后一个块的 Err 返回
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	resp, err := p.post(ctx, p.toWire(req, true))
	if err != nil {
		return nil, err
	}
	return streamChunks(ctx, resp.Body, providerName), nil
}

// HealthCheck 列出模型，只看状态码
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	req, err := p.newRequest(ctx, http.MethodGet, p.cfg.ModelsPath, nil)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	status := &llm.HealthStatus{Latency: time.Since(start)}
	if err != nil {
		return status, types.NewUpstreamError(serviceName, "models request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return status, types.FromHTTPStatus(serviceName, resp.StatusCode, errorMessage(resp.Body))
	}
	status.Healthy = true
	return status, nil
}
