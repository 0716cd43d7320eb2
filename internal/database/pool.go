package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/aagudeloRN/RAGPruebas/config"
)

var (
	// ErrPoolClosed Close 之后继续使用
	ErrPoolClosed = errors.New("database pool is closed")
	// ErrVectorExtensionMissing 数据库未安装 pgvector，需要先执行 ragserver migrate up
	ErrVectorExtensionMissing = errors.New("pgvector extension is not installed")
	// ErrVectorExtensionOutdated pgvector 低于 MinVectorVersion，不支持 hnsw.iterative_scan
	ErrVectorExtensionOutdated = errors.New("pgvector extension is too old")
)

// MinVectorVersion 语义缓存按 namespace 过滤的 HNSW 查询依赖 iterative_scan
const MinVectorVersion = "0.8.0"

// PoolConfig database/sql 连接池参数
type PoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// SlowQueryThreshold 超过该耗时的 SQL 以 Warn 记录，0 表示不记录
	SlowQueryThreshold time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:       5,
		MaxOpenConns:       25,
		ConnMaxLifetime:    5 * time.Minute,
		ConnMaxIdleTime:    time.Minute,
		SlowQueryThreshold: 200 * time.Millisecond,
	}
}

// PoolConfigFrom database 配置中的非零值覆盖默认值
func PoolConfigFrom(cfg config.DatabaseConfig) PoolConfig {
	pc := DefaultPoolConfig()
	if cfg.MaxIdleConns > 0 {
		pc.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.MaxOpenConns > 0 {
		pc.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.ConnMaxLifetime > 0 {
		pc.ConnMaxLifetime = cfg.ConnMaxLifetime
	}
	return pc
}

// PoolManager qa_cache 与 documents 共用的 Postgres 连接池
type PoolManager struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// Open 连接 Postgres。只支持 postgres 驱动，语义缓存的向量列依赖 pgvector。
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*PoolManager, error) {
	if cfg.Driver != "postgres" {
		return nil, fmt.Errorf("unsupported database driver %q: semantic cache requires postgres with pgvector", cfg.Driver)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pc := PoolConfigFrom(cfg)

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: NewGormLogger(logger, pc.SlowQueryThreshold),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewPoolManager(db, pc, logger)
}

func NewPoolManager(db *gorm.DB, cfg PoolConfig, logger *zap.Logger) (*PoolManager, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pm := &PoolManager{db: db, sqlDB: sqlDB, logger: logger.With(zap.String("component", "db_pool"))}
	pm.logger.Info("database pool initialized",
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Duration("conn_max_lifetime", cfg.ConnMaxLifetime),
	)
	return pm, nil
}

func (pm *PoolManager) DB() *gorm.DB {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.db
}

func (pm *PoolManager) Ping(ctx context.Context) error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	if pm.closed {
		return ErrPoolClosed
	}
	return pm.sqlDB.PingContext(ctx)
}

// VectorExtension 返回已安装的 pgvector 版本；未安装时返回 ErrVectorExtensionMissing
func (pm *PoolManager) VectorExtension(ctx context.Context) (string, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	if pm.closed {
		return "", ErrPoolClosed
	}

	var version string
	err := pm.sqlDB.QueryRowContext(ctx, `SELECT extversion FROM pg_extension WHERE extname = 'vector'`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", ErrVectorExtensionMissing
	case err != nil:
		return "", fmt.Errorf("query pg_extension: %w", err)
	}
	if !versionAtLeast(version, MinVectorVersion) {
		return version, fmt.Errorf("%w: %s < %s", ErrVectorExtensionOutdated, version, MinVectorVersion)
	}
	return version, nil
}

// versionAtLeast 逐段比较点分版本号，非数字段按 0 处理
func versionAtLeast(version, min string) bool {
	got, want := strings.Split(version, "."), strings.Split(min, ".")
	for i := range want {
		var g int
		if i < len(got) {
			g, _ = strconv.Atoi(got[i])
		}
		w, _ := strconv.Atoi(want[i])
		if g != w {
			return g > w
		}
	}
	return true
}

// Stats 连接池统计，供 db_connections 指标采样
func (pm *PoolManager) Stats() sql.DBStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.sqlDB.Stats()
}

// Close 关闭连接池，重复调用为空操作
func (pm *PoolManager) Close() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.closed {
		return nil
	}
	pm.closed = true
	pm.logger.Info("closing database pool")
	return pm.sqlDB.Close()
}
