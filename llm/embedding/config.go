package embedding

import (
	"time"

	"github.com/aagudeloRN/RAGPruebas/config"
)

// OpenAIConfig OpenAI embedding 客户端配置
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// Dimensions 必须与 qa_cache.question_embedding 列及 Pinecone 索引一致
	Dimensions int
	Timeout    time.Duration

	// 单条输入的 token 上限，超出部分截断
	MaxInputTokens int
	// 单次请求的条数与 token 总数上限
	MaxBatchSize   int
	MaxBatchTokens int
}

func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		BaseURL:        "https://api.openai.com",
		Model:          "text-embedding-3-small",
		Dimensions:     1536,
		Timeout:        30 * time.Second,
		MaxInputTokens: 8191,
		MaxBatchSize:   2048,
		MaxBatchTokens: 300000,
	}
}

// OpenAIConfigFrom embedding 配置中的非零值覆盖默认值
func OpenAIConfigFrom(cfg config.EmbeddingConfig) OpenAIConfig {
	c := DefaultOpenAIConfig()
	c.APIKey = cfg.APIKey
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	if cfg.Model != "" {
		c.Model = cfg.Model
	}
	if cfg.Dimensions > 0 {
		c.Dimensions = cfg.Dimensions
	}
	if cfg.Timeout > 0 {
		c.Timeout = cfg.Timeout
	}
	return c
}

func (c OpenAIConfig) withDefaults() OpenAIConfig {
	def := DefaultOpenAIConfig()
	if c.BaseURL == "" {
		c.BaseURL = def.BaseURL
	}
	if c.Model == "" {
		c.Model = def.Model
	}
	if c.Dimensions <= 0 {
		c.Dimensions = def.Dimensions
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.MaxInputTokens <= 0 {
		c.MaxInputTokens = def.MaxInputTokens
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = def.MaxBatchSize
	}
	if c.MaxBatchTokens <= 0 {
		c.MaxBatchTokens = def.MaxBatchTokens
	}
	return c
}
