/*
包 cache 是 embedding 记忆缓存的 Redis 后端。

同一段文本在查询扩展、语义缓存与入库之间会被反复向量化，
[Manager] 把 (模型, 文本哈希) → 向量 的结果存进 Redis，
让重复的 embedding 调用只发生一次。

# 存储格式

向量按 little-endian float32 编码成二进制值（见 [EncodeVector]），
1536 维向量占 6KB，比 JSON 小一半以上且无需解析浮点文本。
所有键统一加上 Config.KeyPrefix，默认 "rag:"。

# 批量读写

  - GetVectors：一次 MGET 读取多个键，未命中的位置为 nil。
  - SetVectors：通过 pipeline 一次写入多个向量并设置 TTL。

Redis 不可用时调用方降级为直接调用 embedding 服务，
[ErrCacheMiss] 与其他错误需区分处理。命中、未命中与损坏计数见 [Manager.Stats]。
*/
package cache
