package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// 就绪状态
const (
	StatusOK          = "ok"
	StatusDegraded    = "degraded"
	StatusUnavailable = "unavailable"
)

// defaultProbeTimeout 单次 /ready 中所有依赖探测共享的超时
const defaultProbeTimeout = 5 * time.Second

// Dependency 一个外部依赖的探测。
//
// Critical 依赖（向量索引、语言模型）失败时服务无法回答问题，/ready 返回 503；
// 非关键依赖（Postgres 语义缓存、Redis embedding 缓存）失败时引擎仍能降级工作，
// /ready 返回 200 且状态为 degraded。
type Dependency struct {
	Name     string
	Critical bool
	Ping     func(ctx context.Context) error
}

// ProbeResult 单个依赖的探测结果
type ProbeResult struct {
	OK        bool   `json:"ok"`
	Critical  bool   `json:"critical"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// HealthReport /health 与 /ready 的响应体
type HealthReport struct {
	Status       string                 `json:"status"`
	Timestamp    time.Time              `json:"timestamp"`
	Dependencies map[string]ProbeResult `json:"dependencies,omitempty"`
}

// HealthHandler 存活与就绪探针
type HealthHandler struct {
	logger  *zap.Logger
	timeout time.Duration

	mu   sync.RWMutex
	deps []Dependency
}

func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{logger: logger, timeout: defaultProbeTimeout}
}

// Register 添加依赖；同名依赖会被替换
func (h *HealthHandler) Register(dep Dependency) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.deps {
		if h.deps[i].Name == dep.Name {
			h.deps[i] = dep
			return
		}
	}
	h.deps = append(h.deps, dep)
}

func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux, version, buildTime, gitCommit string) {
	mux.HandleFunc("GET /health", h.HandleLive)
	mux.HandleFunc("GET /healthz", h.HandleLive)
	mux.HandleFunc("GET /ready", h.HandleReady)
	mux.HandleFunc("GET /readyz", h.HandleReady)
	mux.HandleFunc("GET /version", h.HandleVersion(version, buildTime, gitCommit))
}

// HandleLive 存活探针，不访问任何依赖
func (h *HealthHandler) HandleLive(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthReport{Status: StatusOK, Timestamp: time.Now()})
}

// HandleReady 并发探测全部依赖，只有关键依赖失败才返回 503
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	report := h.Probe(r.Context())
	code := http.StatusOK
	if report.Status == StatusUnavailable {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, report)
}

// Probe 执行一轮探测，总耗时不超过 timeout
func (h *HealthHandler) Probe(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	h.mu.RLock()
	deps := append([]Dependency(nil), h.deps...)
	h.mu.RUnlock()

	results := make([]ProbeResult, len(deps))
	var g errgroup.Group
	for i, dep := range deps {
		g.Go(func() error {
			results[i] = h.probe(ctx, dep)
			return nil
		})
	}
	_ = g.Wait()

	report := HealthReport{
		Status:       StatusOK,
		Timestamp:    time.Now(),
		Dependencies: make(map[string]ProbeResult, len(deps)),
	}
	for i, dep := range deps {
		res := results[i]
		report.Dependencies[dep.Name] = res
		switch {
		case res.OK:
		case dep.Critical:
			report.Status = StatusUnavailable
		case report.Status == StatusOK:
			report.Status = StatusDegraded
		}
	}
	return report
}

func (h *HealthHandler) probe(ctx context.Context, dep Dependency) ProbeResult {
	start := time.Now()
	err := dep.Ping(ctx)
	elapsed := time.Since(start)

	res := ProbeResult{OK: err == nil, Critical: dep.Critical, LatencyMS: elapsed.Milliseconds()}
	if err != nil {
		res.Error = err.Error()
		h.logger.Warn("dependency probe failed",
			zap.String("dependency", dep.Name),
			zap.Bool("critical", dep.Critical),
			zap.Duration("latency", elapsed),
			zap.Error(err),
		)
	}
	return res
}

// HandleVersion 构建信息
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	info := map[string]string{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, r, info)
	}
}
