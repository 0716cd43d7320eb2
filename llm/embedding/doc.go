// Package embedding 提供文本向量化服务：统一的 [Provider] 接口与
// OpenAI /v1/embeddings 实现。向量统一使用 float32，与 pgvector 和
// Pinecone 的存储精度一致。
package embedding
