/*
包 migration 管理 PostgreSQL Schema 迁移，基于 golang-migrate 实现。

迁移文件以 embed.FS 内嵌：

  - 000001 启用 pgvector 扩展
  - 000002 documents 文档元数据表（标题、出版方、年份、来源链接）
  - 000003 qa_cache 语义缓存表，含 vector(1536) 列、HNSW 余弦索引
    与 (namespace, hit_count, created_at) 淘汰索引

PostgresMigrator 提供 Up/Down/Steps/Force/Version/Status/Info，
CLI 为 `ragserver migrate` 子命令输出格式化结果。
*/
package migration
