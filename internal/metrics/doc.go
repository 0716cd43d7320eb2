/*
包 metrics 基于 Prometheus client_golang 采集服务运行指标。

Collector 通过 promauto 注册到指定 registry，指标均带统一 namespace 前缀：

  - HTTP：请求总数（按状态码段）与耗时
  - 查询：按终止路径（cache_hit / history / knowledge_base / not_found / error）统计次数与耗时
  - 阶段：编排各阶段耗时，检索与重排后的候选数量
  - 外部服务：embedding、vector、rerank、llm 调用次数（按错误分类）与耗时
  - 缓存：命中 / 未命中，语义缓存淘汰条数
  - 数据库：连接池 open / idle / in_use 连接数
*/
package metrics
