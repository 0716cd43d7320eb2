/*
Package database 管理语义缓存（qa_cache）与文档元数据（documents）共用的 Postgres 连接池。

Open 只接受 postgres 驱动，并用 [GormLogger] 把 GORM 的 SQL 日志接入 zap：
失败的语句记 Error，超过 SlowQueryThreshold 的语句记 Warn。

服务启动时用 VectorExtension 确认 pgvector 已安装且不低于 [MinVectorVersion]；
否则语义缓存退回进程内存储，直到执行 ragserver migrate up 或升级扩展。
*/
package database
