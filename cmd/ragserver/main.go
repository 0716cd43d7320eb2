// ragserver 知识库问答服务：HTTP API、健康检查、Prometheus 指标、
// 数据库迁移与文档入库。
//
//	ragserver serve --config config.yaml
//	ragserver ingest --file report.txt --id fojr-2023 --namespace reports
//	ragserver migrate up
//	ragserver health --ready

// @title RAG Query API
// @version 1.0.0
// @description Question answering over a curated document knowledge base.

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key

package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/aagudeloRN/RAGPruebas/config"
)

// 构建时通过 -ldflags 注入
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

type command struct {
	name    string
	summary string
	run     func(args []string)
}

func commands() []command {
	return []command{
		{"serve", "Start the API and metrics servers", runServe},
		{"ingest", "Chunk, embed and index a plain-text document", runIngest},
		{"migrate", "Database migration commands", runMigrate},
		{"health", "Check server health", runHealthCheck},
		{"version", "Show version information", func([]string) { printVersion(os.Stdout) }},
	}
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}
	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		printUsage(os.Stdout)
		return
	}
	for _, c := range commands() {
		if c.name == name {
			c.run(os.Args[2:])
			return
		}
	}
	fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
	printUsage(os.Stderr)
	os.Exit(1)
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg := mustLoadConfig(*configPath)
	logger := newLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting ragserver",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	srv := NewServer(cfg, logger)
	if err := srv.Start(); err != nil {
		srv.Shutdown()
		logger.Fatal("Failed to start server", zap.Error(err))
	}
	srv.WaitForShutdown()
	logger.Info("ragserver stopped")
}

// mustLoadConfig 依次读取 .env、配置文件与 RAG_ 环境变量，失败时退出
func mustLoadConfig(path string) *config.Config {
	l := config.NewLoader().WithDotEnv(".env")
	if path != "" {
		l = l.WithConfigPath(path)
	}
	cfg, err := l.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "ragserver %s\n  Build Time: %s\n  Git Commit: %s\n", Version, BuildTime, GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, "ragserver - knowledge base question answering service\n\nUsage:\n  ragserver <command> [options]\n\nCommands:\n")
	for _, c := range commands() {
		fmt.Fprintf(w, "  %-9s %s\n", c.name, c.summary)
	}
	fmt.Fprint(w, `  help      Show this help message

Environment:
  Settings are read from .env, then the config file, then RAG_* variables,
  e.g. RAG_LLM_API_KEY, RAG_PINECONE_INDEX_HOST, RAG_DATABASE_HOST.

Examples:
  ragserver serve --config /etc/ragserver/config.yaml
  ragserver ingest --file fojr-2023.txt --id fojr-2023 --namespace reports \
      --title "Future of Jobs Report 2023" --publisher "World Economic Forum" --year 2023
  ragserver migrate up
  ragserver health --addr http://localhost:8080 --ready
`)
}
