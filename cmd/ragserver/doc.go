/*
Package main 提供知识库问答服务 ragserver 的程序入口。

# 概述

cmd/ragserver 组装语义缓存、查询规划、检索、重排序、上下文组装与答案合成，
对外提供 HTTP API。配置依次来自 .env、YAML 文件与 RAG_* 环境变量。

# 核心类型

  - Server      — 管理 API 与 Metrics 两个端口、存储连接及优雅关闭
  - Middleware  — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - ports       — 问答引擎的外部依赖（OpenAI、Cohere、Pinecone、Postgres、Redis）

# 主要能力

  - 子命令：serve、ingest（文档切块入库）、migrate、version、health
  - 中间件链：Recovery、RequestID、OTelTracing、SecurityHeaders、RequestLogger、
    Metrics、CORS、RateLimiter（基于 IP）、Authenticate（X-API-Key 或 JWT）
  - 降级：没有 Postgres 时语义缓存使用进程内存储，没有 Redis 时不缓存 embedding
  - 优雅关闭：信号监听 → 关闭 HTTP → 关闭 Metrics → 释放存储 → 刷新 trace
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
