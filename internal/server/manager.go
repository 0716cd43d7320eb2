package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrClosed Shutdown 之后不能再 Start
var ErrClosed = errors.New("server is closed")

type Config struct {
	Addr         string        `yaml:"addr" json:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	// IdleTimeout 为 0 时取 ReadTimeout 的两倍
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" json:"max_header_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig WriteTimeout 要覆盖 /v1/query/stream 的整个生成过程
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 15 * time.Second,
	}
}

type state int

const (
	stateNew state = iota
	stateServing
	stateClosed
)

// Manager 一个监听端口的生命周期。请求 context 派生自 Manager 自己的
// base context，Shutdown 开始时先取消它，SSE 流与挂起的模型调用随之结束。
type Manager struct {
	name   string
	cfg    Config
	srv    *http.Server
	logger *zap.Logger

	stopRequests context.CancelFunc
	failed       chan error

	mu    sync.Mutex
	state state
	addr  net.Addr
}

func NewManager(name string, handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * cfg.ReadTimeout
	}
	base, cancel := context.WithCancel(context.Background())
	return &Manager{
		name:   name,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "http_server"), zap.String("server", name)),
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
			BaseContext:       func(net.Listener) context.Context { return base },
		},
		stopRequests: cancel,
		failed:       make(chan error, 1),
	}
}

func (m *Manager) Name() string { return m.name }

// Start 同步绑定端口（端口占用在这里返回），随后在后台 Serve
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case stateClosed:
		return ErrClosed
	case stateServing:
		return fmt.Errorf("server %s already started", m.name)
	}

	ln, err := net.Listen("tcp", m.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server %s: listen on %s: %w", m.name, m.cfg.Addr, err)
	}
	m.state = stateServing
	m.addr = ln.Addr()
	m.logger.Info("HTTP server listening", zap.Stringer("addr", m.addr))

	go m.serve(ln)
	return nil
}

func (m *Manager) serve(ln net.Listener) {
	defer close(m.failed)
	err := m.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return
	}
	m.logger.Error("HTTP server stopped unexpectedly", zap.Error(err))
	select {
	case m.failed <- fmt.Errorf("server %s: %w", m.name, err):
	default:
	}
}

// Shutdown 重复调用为空操作；未启动时只标记为关闭
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	prev := m.state
	m.state = stateClosed
	m.mu.Unlock()

	if prev == stateClosed {
		return nil
	}
	m.stopRequests()
	if prev == stateNew {
		return nil
	}

	if m.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
		defer cancel()
	}
	start := time.Now()
	if err := m.srv.Shutdown(ctx); err != nil {
		m.logger.Error("HTTP server shutdown incomplete", zap.Error(err), zap.Duration("waited", time.Since(start)))
		return fmt.Errorf("server %s: %w", m.name, err)
	}
	m.logger.Info("HTTP server stopped", zap.Duration("drain", time.Since(start)))
	return nil
}

// Errors Serve 异步失败时收到一个错误；正常关闭后通道关闭
func (m *Manager) Errors() <-chan error {
	return m.failed
}

// Addr 启动后为实际监听地址（端口 0 时由系统分配），之前为配置值
func (m *Manager) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addr == nil {
		return m.cfg.Addr
	}
	return m.addr.String()
}
