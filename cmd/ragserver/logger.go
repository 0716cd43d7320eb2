package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aagudeloRN/RAGPruebas/config"
)

// newLogger 按 log 配置构建 zap logger；console 格式用于本地开发，其余一律 JSON。
// 配置无法构建时退回 zap.NewProduction。
func newLogger(cfg config.LogConfig) *zap.Logger {
	zc, err := loggerConfig(cfg)
	if err == nil {
		var logger *zap.Logger
		if logger, err = zc.Build(); err == nil {
			return logger.With(zap.String("version", Version))
		}
	}
	logger, _ := zap.NewProduction()
	logger.Warn("invalid log config, using production defaults", zap.Error(err))
	return logger
}

func loggerConfig(cfg config.LogConfig) (zap.Config, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		var err error
		if level, err = zapcore.ParseLevel(cfg.Level); err != nil {
			return zap.Config{}, err
		}
	}

	zc := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Encoding:          "json",
		EncoderConfig:     zap.NewProductionEncoderConfig(),
		OutputPaths:       orDefault(cfg.OutputPaths, "stdout"),
		ErrorOutputPaths:  orDefault(cfg.ErrorOutputPaths, "stderr"),
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}
	if cfg.Format == "console" {
		zc.Encoding = "console"
		zc.Development = true
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	return zc, nil
}

func orDefault(paths []string, def string) []string {
	if len(paths) == 0 {
		return []string{def}
	}
	return paths
}
