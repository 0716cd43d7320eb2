package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/aagudeloRN/RAGPruebas/types"
)

var (
	queryBuckets    = []float64{0.1, 0.5, 1, 2, 5, 10, 20, 40, 80}
	stageBuckets    = []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30}
	candidateBucket = []float64{0, 1, 2, 5, 10, 20, 40, 80}
	externalBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}
)

// Collector 服务的 Prometheus 指标。方法满足 rag.MetricsRecorder。
type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	queriesTotal   *prometheus.CounterVec
	queryDuration  *prometheus.HistogramVec
	stageDuration  *prometheus.HistogramVec
	candidateCount *prometheus.HistogramVec

	externalRequestsTotal   *prometheus.CounterVec
	externalRequestDuration *prometheus.HistogramVec

	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec

	dbConnections *prometheus.GaugeVec
}

// NewCollector 在默认 registry 上注册，同一 namespace 只能调用一次
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer, namespace, logger)
}

// NewCollectorWith 在 reg 上注册全部指标
func NewCollectorWith(reg prometheus.Registerer, namespace string, logger *zap.Logger) *Collector {
	f := promauto.With(reg)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}, labels)
	}

	c := &Collector{
		httpRequestsTotal:   counter("http_requests_total", "Total number of HTTP requests", "method", "path", "status"),
		httpRequestDuration: histogram("http_request_duration_seconds", "HTTP request duration in seconds", prometheus.DefBuckets, "method", "path"),

		// path: cache_hit, history, knowledge_base, not_found, error
		queriesTotal:   counter("rag_queries_total", "Total number of answered queries by terminal path", "path"),
		queryDuration:  histogram("rag_query_duration_seconds", "End-to-end query duration in seconds", queryBuckets, "path"),
		stageDuration:  histogram("rag_stage_duration_seconds", "Duration of each orchestrator stage in seconds", stageBuckets, "stage"),
		candidateCount: histogram("rag_candidates", "Number of passages after retrieval and after reranking", candidateBucket, "phase"),

		externalRequestsTotal:   counter("external_requests_total", "Total number of calls to external services", "service", "status"),
		externalRequestDuration: histogram("external_request_duration_seconds", "External service call duration in seconds", externalBuckets, "service"),

		cacheHits:      counter("cache_hits_total", "Total number of cache hits", "cache_type"),
		cacheMisses:    counter("cache_misses_total", "Total number of cache misses", "cache_type"),
		cacheEvictions: counter("cache_evictions_total", "Total number of semantic cache entries evicted", "namespace"),

		dbConnections: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections",
			Help:      "Database pool connections by state",
		}, []string{"state"}),
	}

	if logger != nil {
		logger.Debug("metrics collector registered", zap.String("namespace", namespace))
	}
	return c
}

func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordQuery 一次查询的终止路径与端到端耗时
func (c *Collector) RecordQuery(path string, duration time.Duration) {
	c.queriesTotal.WithLabelValues(path).Inc()
	c.queryDuration.WithLabelValues(path).Observe(duration.Seconds())
}

func (c *Collector) RecordStage(stage string, duration time.Duration) {
	c.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordCandidates phase: retrieved, reranked
func (c *Collector) RecordCandidates(phase string, n int) {
	c.candidateCount.WithLabelValues(phase).Observe(float64(n))
}

// RecordExternalCall status 标签为 success 或错误分类，见 outcome
func (c *Collector) RecordExternalCall(service string, err error, duration time.Duration) {
	c.externalRequestsTotal.WithLabelValues(service, outcome(err)).Inc()
	c.externalRequestDuration.WithLabelValues(service).Observe(duration.Seconds())
}

func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

func (c *Collector) RecordCacheEviction(namespace string, n int) {
	if n > 0 {
		c.cacheEvictions.WithLabelValues(namespace).Add(float64(n))
	}
}

// RecordDBConnections 连接池快照；in_use = open - idle
func (c *Collector) RecordDBConnections(open, idle int) {
	c.dbConnections.WithLabelValues("open").Set(float64(open))
	c.dbConnections.WithLabelValues("idle").Set(float64(idle))
	c.dbConnections.WithLabelValues("in_use").Set(float64(open - idle))
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "unknown"
	}
}

// outcome 把错误归到有限的几类，控制标签基数
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	if code := types.GetErrorCode(err); code != "" {
		return strings.ToLower(string(code))
	}
	return "error"
}
