// Package tlsutil 构造访问外部服务（embedding、向量索引、rerank、LLM）的
// HTTP 客户端：TLS 1.2+ 只用 AEAD 套件，每次调用一个 client span 并注入
// W3C traceparent 头。
package tlsutil
