package config

import "time"

// DefaultNotFoundAnswer 知识库中没有相关内容时的固定回答
const DefaultNotFoundAnswer = "The information is not available in the knowledge base."

// DefaultConfig 本地开发可直接使用的配置：Postgres 与 Redis 指向 localhost，
// 遥测与 Redis 关闭，API 密钥需通过文件或 RAG_ 环境变量提供
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9091,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second, // 流式回答可能持续较久
			ShutdownTimeout: 15 * time.Second,
			RateLimitRPS:    20,
			RateLimitBurst:  40,
			JWT:             JWTConfig{Issuer: "ragserver"},
		},
		Log: LogConfig{
			Level:            "info",
			Format:           "json",
			OutputPaths:      []string{"stdout"},
			ErrorOutputPaths: []string{"stderr"},
			EnableCaller:     true,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "ragserver",
			SampleRate:   0.1,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Name:            "rag",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			EmbeddingTTL: 24 * time.Hour,
		},
		LLM: LLMConfig{
			BaseURL:        "https://api.openai.com",
			ChatModel:      "gpt-4o",
			CanonicalModel: "gpt-4o",
			Temperature:    0.1,
			MaxTokens:      2048,
			Timeout:        60 * time.Second,
		},
		Embedding: EmbeddingConfig{
			BaseURL:    "https://api.openai.com",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			Timeout:    30 * time.Second,
		},
		Rerank: RerankConfig{
			BaseURL: "https://api.cohere.com",
			Model:   "rerank-v3.5",
			Timeout: 30 * time.Second,
		},
		Pinecone: PineconeConfig{Timeout: 30 * time.Second},
		RAG: RAGConfig{
			DefaultNamespace:         "default",
			CacheEnabled:             true,
			CacheSimilarityThreshold: 0.85,
			CacheMaxSize:             100,
			RetrievalTopK:            20,
			EnableExpansion:          true,
			ExpansionCount:           4,
			ExpansionTopK:            10,
			RerankTopN:               10,
			RerankThreshold:          0.55,
			MaxContextTokens:         6000,
			NotFoundAnswer:           DefaultNotFoundAnswer,
			Retry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 500 * time.Millisecond,
				MaxDelay:     5 * time.Second,
				Multiplier:   2,
			},
		},
	}
}
