package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/aagudeloRN/RAGPruebas/internal/cache"
	"github.com/aagudeloRN/RAGPruebas/internal/database"
	"github.com/aagudeloRN/RAGPruebas/rag"
	"github.com/aagudeloRN/RAGPruebas/rag/loader"
)

// =============================================================================
// 📥 ingest 命令
// =============================================================================

// ingestOptions 一次入库或删除操作的参数
type ingestOptions struct {
	File   string
	Remove bool
	Doc    rag.DocumentMetadata
}

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	var opts ingestOptions
	fs.StringVar(&opts.File, "file", "", "Text (.txt) or Markdown (.md) file to index")
	fs.BoolVar(&opts.Remove, "remove", false, "Remove the document instead of indexing it")
	fs.StringVar(&opts.Doc.ID, "id", "", "Document id (default: front matter id, then file name)")
	fs.StringVar(&opts.Doc.Namespace, "namespace", "", "Knowledge base namespace (default: rag.default_namespace)")
	fs.StringVar(&opts.Doc.Title, "title", "", "Document title")
	fs.StringVar(&opts.Doc.Publisher, "publisher", "", "Publishing organization")
	fs.StringVar(&opts.Doc.PublicationYear, "year", "", "Publication year")
	fs.StringVar(&opts.Doc.SourceURL, "url", "", "Source URL")
	fs.Parse(args)

	cfg := mustLoadConfig(*configPath)
	logger := newLogger(cfg.Log)
	defer logger.Sync()

	if opts.Doc.Namespace == "" {
		opts.Doc.Namespace = cfg.RAG.DefaultNamespace
	}

	// 元数据登记需要 Postgres
	pm, err := database.Open(cfg.Database, logger)
	if err != nil {
		logger.Fatal("ingest requires a database", zap.Error(err))
	}
	defer pm.Close()

	var memo *cache.Manager
	if cfg.Redis.Enabled {
		if memo, err = cache.NewManager(cache.ConfigFrom(cfg.Redis), logger); err != nil {
			logger.Warn("redis not available, embedding memo disabled", zap.Error(err))
			memo = nil
		} else {
			defer memo.Close()
		}
	}

	eng, err := buildEngine(cfg, newPorts(cfg, pm.DB(), memo, logger), nil, logger)
	if err != nil {
		logger.Fatal("failed to build engine", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	msg, err := ingest(ctx, eng.indexer, opts)
	if err != nil {
		logger.Error("ingest failed", zap.Error(err))
		stop()
		pm.Close()
		os.Exit(1)
	}
	fmt.Println(msg)
}

// ingest 按 opts 索引或删除一个文档，返回可读的结果描述。
// 命令行参数优先于文件 front matter 中的元数据。
func ingest(ctx context.Context, indexer *rag.Indexer, opts ingestOptions) (string, error) {
	if indexer == nil {
		return "", fmt.Errorf("indexer is not available")
	}
	doc := opts.Doc

	if opts.Remove {
		if doc.ID == "" {
			return "", fmt.Errorf("--id is required with --remove")
		}
		if err := indexer.RemoveDocument(ctx, doc.Namespace, doc.ID); err != nil {
			return "", err
		}
		return fmt.Sprintf("removed %s from %s", doc.ID, doc.Namespace), nil
	}

	if opts.File == "" {
		return "", fmt.Errorf("--file is required")
	}
	loaded, err := loader.NewRegistry().Load(ctx, opts.File)
	if err != nil {
		return "", err
	}

	base := filepath.Base(opts.File)
	doc.ID = firstNonEmpty(doc.ID, loaded.Meta.ID, strings.TrimSuffix(base, filepath.Ext(base)))
	doc.Title = firstNonEmpty(doc.Title, loaded.Meta.Title, doc.ID)
	doc.Publisher = firstNonEmpty(doc.Publisher, loaded.Meta.Publisher)
	doc.PublicationYear = firstNonEmpty(doc.PublicationYear, loaded.Meta.PublicationYear)
	doc.SourceURL = firstNonEmpty(doc.SourceURL, loaded.Meta.SourceURL)

	res, err := indexer.IndexDocument(ctx, doc, loaded.Text)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("indexed %s into %s: %d chunks", res.DocumentID, doc.Namespace, len(res.ChunkIDs)), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
