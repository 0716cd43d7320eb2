package rerank

import (
	"time"

	"github.com/aagudeloRN/RAGPruebas/config"
)

type CohereConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// MaxTokensPerDoc 每个文档参与打分的 token 上限，超出部分由服务端截断
	MaxTokensPerDoc int
}

func DefaultCohereConfig() CohereConfig {
	return CohereConfig{
		BaseURL:         "https://api.cohere.com",
		Model:           "rerank-v3.5",
		Timeout:         30 * time.Second,
		MaxTokensPerDoc: 4096,
	}
}

// CohereConfigFrom rerank 配置中的非零值覆盖默认值
func CohereConfigFrom(cfg config.RerankConfig) CohereConfig {
	c := DefaultCohereConfig()
	c.APIKey = cfg.APIKey
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	if cfg.Model != "" {
		c.Model = cfg.Model
	}
	if cfg.Timeout > 0 {
		c.Timeout = cfg.Timeout
	}
	return c
}
