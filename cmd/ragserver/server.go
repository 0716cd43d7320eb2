package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aagudeloRN/RAGPruebas/api/handlers"
	"github.com/aagudeloRN/RAGPruebas/config"
	"github.com/aagudeloRN/RAGPruebas/internal/cache"
	"github.com/aagudeloRN/RAGPruebas/internal/database"
	"github.com/aagudeloRN/RAGPruebas/internal/metrics"
	"github.com/aagudeloRN/RAGPruebas/internal/server"
	"github.com/aagudeloRN/RAGPruebas/internal/telemetry"
	"github.com/aagudeloRN/RAGPruebas/rag"
)

const (
	dbStatsInterval  = 15 * time.Second
	pgvectorTimeout  = 5 * time.Second
	maxRequestHeader = 1 << 20
)

// publicPaths 探针与版本信息不需要认证
var publicPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

// Server 组装存储、问答引擎与 HTTP 端口。Postgres 与 Redis 可选，
// 其余外部服务（模型、向量索引、重排）缺失时就绪检查失败。
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	telemetry *telemetry.Providers
	collector *metrics.Collector
	db        *database.PoolManager
	redis     *cache.Manager
	ports     ports
	engine    *engine

	healthHandler *handlers.HealthHandler
	ragHandler    *handlers.RAGHandler
	servers       *server.Group

	stopBackground context.CancelFunc
	background     sync.WaitGroup
}

func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// Start 非阻塞；返回错误时调用方仍需 Shutdown 释放已打开的资源
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.stopBackground = cancel

	providers, err := telemetry.Init(s.cfg.Telemetry, Version, s.logger)
	if err != nil {
		// 导出失败不影响问答
		s.logger.Warn("telemetry unavailable", zap.Error(err))
	}
	s.telemetry = providers
	s.collector = metrics.NewCollector("rag", s.logger)

	s.openDatabase(ctx)
	s.openRedis()

	var gormDB *gorm.DB
	if s.db != nil {
		gormDB = s.db.DB()
	}
	s.ports = newPorts(s.cfg, gormDB, s.redis, s.logger)

	s.engine, err = buildEngine(s.cfg, s.ports, s.engineMetrics(), s.logger)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	s.initHandlers()

	if err := s.listen(ctx); err != nil {
		return err
	}
	s.logger.Info("ragserver ready",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("semantic_cache", s.engine.cache != nil),
		zap.Bool("persistent_cache", s.db != nil),
		zap.Bool("embedding_memo", s.redis != nil),
		zap.Bool("indexer", s.engine.indexer != nil),
	)
	return nil
}

// engineMetrics 遥测开启时同时写 Prometheus 与 OTLP
func (s *Server) engineMetrics() rag.MetricsRecorder {
	inst, err := s.telemetry.Instruments()
	switch {
	case err != nil:
		s.logger.Warn("otel instruments unavailable", zap.Error(err))
		return s.collector
	case inst == nil:
		return s.collector
	default:
		return rag.TeeMetrics(s.collector, inst)
	}
}

// openDatabase 失败时语义缓存退化为进程内存储，入库功能关闭
func (s *Server) openDatabase(ctx context.Context) {
	pm, err := database.Open(s.cfg.Database, s.logger)
	if err == nil {
		err = s.requirePGVector(ctx, pm)
		if err != nil {
			_ = pm.Close()
		}
	}
	if err != nil {
		s.logger.Warn("postgres unavailable, falling back to in-memory semantic cache", zap.Error(err))
		return
	}
	s.db = pm

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		s.sampleDBStats(ctx)
	}()
}

func (s *Server) requirePGVector(ctx context.Context, pm *database.PoolManager) error {
	ctx, cancel := context.WithTimeout(ctx, pgvectorTimeout)
	defer cancel()

	version, err := pm.VectorExtension(ctx)
	switch {
	case errors.Is(err, database.ErrVectorExtensionMissing):
		return fmt.Errorf("%w (run `ragserver migrate up`)", err)
	case errors.Is(err, database.ErrVectorExtensionOutdated):
		return fmt.Errorf("%w (run `ALTER EXTENSION vector UPDATE`)", err)
	}
	if err != nil {
		return err
	}
	s.logger.Info("pgvector available", zap.String("version", version))
	return nil
}

// openRedis 失败时不缓存 embedding
func (s *Server) openRedis() {
	if !s.cfg.Redis.Enabled {
		return
	}
	rm, err := cache.NewManager(cache.ConfigFrom(s.cfg.Redis), s.logger)
	if err != nil {
		s.logger.Warn("redis unavailable, embedding memo disabled", zap.Error(err))
		return
	}
	s.redis = rm
}

func (s *Server) sampleDBStats(ctx context.Context) {
	ticker := time.NewTicker(dbStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.db.Stats()
			s.collector.RecordDBConnections(st.OpenConnections, st.Idle)
		}
	}
}

// dependencies 就绪检查项。Postgres 与 Redis 不可用只算降级。
func (s *Server) dependencies() []handlers.Dependency {
	var deps []handlers.Dependency
	if s.db != nil {
		deps = append(deps, handlers.Dependency{Name: "postgres", Ping: s.db.Ping})
	}
	if s.redis != nil {
		deps = append(deps, handlers.Dependency{Name: "redis", Ping: s.redis.Ping})
	}
	if idx := s.ports.pinecone; idx != nil {
		ns := s.cfg.RAG.DefaultNamespace
		deps = append(deps, handlers.Dependency{Name: "pinecone", Critical: true, Ping: func(ctx context.Context) error {
			_, err := idx.Count(ctx, ns)
			return err
		}})
	}
	if lm := s.ports.llmProvider; lm != nil {
		deps = append(deps, handlers.Dependency{Name: "openai", Critical: true, Ping: func(ctx context.Context) error {
			st, err := lm.HealthCheck(ctx)
			if err == nil && !st.Healthy {
				err = errors.New("provider reported unhealthy")
			}
			return err
		}})
	}
	return deps
}

func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	for _, d := range s.dependencies() {
		s.healthHandler.Register(d)
	}

	// 缓存关闭时 FAQ 端点返回 503
	var faq handlers.FAQSource
	if s.engine.cache != nil {
		faq = s.engine.cache
	}
	s.ragHandler = handlers.NewRAGHandler(s.engine.orchestrator, s.engine.refiner, faq, s.cfg.RAG.DefaultNamespace, s.logger)
}

// routes 中间件由外到内：恢复、请求 ID、追踪、安全头、日志、指标、CORS、限流、认证
func (s *Server) routes(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	s.healthHandler.RegisterRoutes(mux, Version, BuildTime, GitCommit)
	s.ragHandler.RegisterRoutes(mux)

	sc := s.cfg.Server
	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		CORS(sc.CORSAllowedOrigins),
		RateLimiter(ctx, sc.RateLimitRPS, sc.RateLimitBurst, s.logger),
		Authenticate(sc.APIKeys, sc.JWT, publicPaths, s.logger),
	)
}

func (s *Server) listen(ctx context.Context) error {
	sc := s.cfg.Server

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	api := server.NewManager("api", s.routes(ctx), server.Config{
		Addr:            fmt.Sprintf(":%d", sc.HTTPPort),
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		MaxHeaderBytes:  maxRequestHeader,
		ShutdownTimeout: sc.ShutdownTimeout,
	}, s.logger)
	scrape := server.NewManager("metrics", metricsMux, server.Config{
		Addr:            fmt.Sprintf(":%d", sc.MetricsPort),
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.ReadTimeout,
		ShutdownTimeout: sc.ShutdownTimeout,
	}, s.logger)

	s.servers = server.NewGroup(api, scrape)
	return s.servers.Start()
}

// WaitForShutdown 阻塞到 SIGINT/SIGTERM 或任一端口异常退出
func (s *Server) WaitForShutdown() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-s.servers.Errors():
		s.logger.Error("server failed", zap.Error(err))
	}
	s.Shutdown()
}

// Shutdown 先停端口，再停后台任务，最后关闭存储并刷新遥测
func (s *Server) Shutdown() {
	s.logger.Info("shutting down")
	ctx := context.Background()

	if s.servers != nil {
		if err := s.servers.Shutdown(ctx); err != nil {
			s.logger.Error("server shutdown", zap.Error(err))
		}
	}
	if s.stopBackground != nil {
		s.stopBackground()
	}
	s.background.Wait()

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("close failed", zap.String("resource", "redis"), zap.Error(err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("close failed", zap.String("resource", "postgres"), zap.Error(err))
		}
	}

	if s.telemetry != nil {
		flushCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := s.telemetry.Shutdown(flushCtx); err != nil {
			s.logger.Error("telemetry flush", zap.Error(err))
		}
	}
	s.logger.Info("shutdown complete")
}
