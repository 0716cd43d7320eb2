package config

import (
	"errors"
	"fmt"
)

// Validate 检查跨字段约束，返回全部问题而不是第一个
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	s := c.Server
	check(validPort(s.HTTPPort), "server.http_port %d out of range", s.HTTPPort)
	check(s.MetricsPort == 0 || validPort(s.MetricsPort), "server.metrics_port %d out of range", s.MetricsPort)
	check(s.MetricsPort != s.HTTPPort, "server.metrics_port must differ from server.http_port")
	check(s.RateLimitRPS > 0 && s.RateLimitBurst > 0, "server rate limit must be positive")

	check(c.LLM.Temperature >= 0 && c.LLM.Temperature <= 2, "llm.temperature must be between 0 and 2")
	check(c.Embedding.Dimensions > 0, "embedding.dimensions must be positive")
	check(c.Telemetry.SampleRate >= 0 && c.Telemetry.SampleRate <= 1, "telemetry.sample_rate must be in [0, 1]")

	r := c.RAG
	check(inUnitInterval(r.CacheSimilarityThreshold), "rag.cache_similarity_threshold must be in (0, 1]")
	check(inUnitInterval(r.RerankThreshold), "rag.rerank_threshold must be in (0, 1]")
	check(r.CacheMaxSize >= 1, "rag.cache_max_size must be positive")
	check(r.RetrievalTopK >= 1, "rag.retrieval_top_k must be positive")
	check(r.ExpansionTopK >= 1, "rag.expansion_top_k must be positive")
	check(r.RerankTopN >= 1, "rag.rerank_top_n must be positive")
	check(r.MaxContextTokens >= 0, "rag.max_context_tokens must not be negative")
	check(r.Retry.MaxAttempts >= 1, "rag.retry.max_attempts must be positive")
	check(r.Retry.MaxDelay == 0 || r.Retry.MaxDelay >= r.Retry.InitialDelay,
		"rag.retry.max_delay must not be shorter than initial_delay")

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func validPort(p int) bool { return p > 0 && p <= 65535 }

func inUnitInterval(v float64) bool { return v > 0 && v <= 1 }
