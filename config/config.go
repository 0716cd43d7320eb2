package config

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Config 服务的完整配置。yaml 标签对应配置文件，env 标签逐级拼接为环境变量名，
// 例如 RAG_RAG_RETRY_MAX_ATTEMPTS
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`

	// 外部能力
	LLM       LLMConfig       `yaml:"llm" env:"LLM"`
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`
	Rerank    RerankConfig    `yaml:"rerank" env:"RERANK"`
	Pinecone  PineconeConfig  `yaml:"pinecone" env:"PINECONE"`

	// RAG 引擎参数
	RAG RAGConfig `yaml:"rag" env:"RAG"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// CORS 允许的来源，空表示不允许跨域
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// 每个客户端 IP 的限流
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// API Key 列表，为空则跳过 API Key 认证
	APIKeys []string  `yaml:"api_keys" env:"API_KEYS"`
	JWT     JWTConfig `yaml:"jwt" env:"JWT"`
}

// JWTConfig Bearer Token 认证；Secret 为空则禁用
type JWTConfig struct {
	Secret string `yaml:"secret" env:"SECRET"`
	Issuer string `yaml:"issuer" env:"ISSUER"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	ErrorOutputPaths []string `yaml:"error_output_paths" env:"ERROR_OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// DatabaseConfig 数据库配置（语义缓存表与文档元数据表）
type DatabaseConfig struct {
	// 驱动类型: postgres（语义缓存依赖 pgvector）
	Driver          string        `yaml:"driver" env:"DRIVER"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// RedisConfig Redis 配置，用于 embedding 记忆缓存
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	PoolSize int    `yaml:"pool_size" env:"POOL_SIZE"`
	// 向量缓存过期时间
	EmbeddingTTL time.Duration `yaml:"embedding_ttl" env:"EMBEDDING_TTL"`
}

// LLMConfig 语言模型配置
type LLMConfig struct {
	APIKey  string `yaml:"api_key" env:"API_KEY"`
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 答案合成、路由、分解使用的模型
	ChatModel string `yaml:"chat_model" env:"CHAT_MODEL"`
	// 缓存问题规范化使用的模型
	CanonicalModel string        `yaml:"canonical_model" env:"CANONICAL_MODEL"`
	Temperature    float64       `yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens      int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// EmbeddingConfig 向量化服务配置
type EmbeddingConfig struct {
	APIKey     string        `yaml:"api_key" env:"API_KEY"`
	BaseURL    string        `yaml:"base_url" env:"BASE_URL"`
	Model      string        `yaml:"model" env:"MODEL"`
	Dimensions int           `yaml:"dimensions" env:"DIMENSIONS"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RerankConfig 重排序服务配置
type RerankConfig struct {
	APIKey  string        `yaml:"api_key" env:"API_KEY"`
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	Model   string        `yaml:"model" env:"MODEL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// PineconeConfig 向量索引配置
type PineconeConfig struct {
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 索引数据面地址，例如 https://my-index-xxxx.svc.region.pinecone.io
	IndexHost string `yaml:"index_host" env:"INDEX_HOST"`
	// IndexHost 为空时通过控制面 API 按索引名解析
	IndexName string        `yaml:"index_name" env:"INDEX_NAME"`
	Timeout   time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RAGConfig 检索编排引擎参数
type RAGConfig struct {
	// 未指定 namespace 时使用的知识库
	DefaultNamespace string `yaml:"default_namespace" env:"DEFAULT_NAMESPACE"`

	// 语义缓存：similarity >= 阈值命中（0.85 对应余弦距离 0.15）
	CacheEnabled             bool    `yaml:"cache_enabled" env:"CACHE_ENABLED"`
	CacheSimilarityThreshold float64 `yaml:"cache_similarity_threshold" env:"CACHE_SIMILARITY_THRESHOLD"`
	CacheMaxSize             int     `yaml:"cache_max_size" env:"CACHE_MAX_SIZE"`

	// 检索
	RetrievalTopK   int  `yaml:"retrieval_top_k" env:"RETRIEVAL_TOP_K"`
	EnableExpansion bool `yaml:"enable_expansion" env:"ENABLE_EXPANSION"`
	ExpansionCount  int  `yaml:"expansion_count" env:"EXPANSION_COUNT"`
	ExpansionTopK   int  `yaml:"expansion_top_k" env:"EXPANSION_TOP_K"`

	// 重排序
	RerankTopN      int     `yaml:"rerank_top_n" env:"RERANK_TOP_N"`
	RerankThreshold float64 `yaml:"rerank_threshold" env:"RERANK_THRESHOLD"`

	// 上下文 token 上限，0 表示不限制
	MaxContextTokens int `yaml:"max_context_tokens" env:"MAX_CONTEXT_TOKENS"`

	NotFoundAnswer string      `yaml:"not_found_answer" env:"NOT_FOUND_ANSWER"`
	Retry          RetryConfig `yaml:"retry" env:"RETRY"`
}

// RetryConfig 外部读操作的重试策略
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	Multiplier   float64       `yaml:"multiplier" env:"MULTIPLIER"`
}

// DSN gorm postgres 驱动使用的 key=value 连接串；非 postgres 驱动返回空串
func (d *DatabaseConfig) DSN() string {
	if d.Driver != "postgres" {
		return ""
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// URL golang-migrate 使用的 postgres:// 地址，用户名与密码会被转义
func (d *DatabaseConfig) URL() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + strconv.Itoa(d.Port),
		Path:     "/" + d.Name,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return u.String()
}
