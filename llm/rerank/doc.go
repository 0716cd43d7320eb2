// Package rerank 提供重排序服务：对 (query, 文档) 打相关性分数。
// 当前实现为 Cohere /v2/rerank。
package rerank
