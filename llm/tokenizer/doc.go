// Package tokenizer 提供 token 计数，用于限制拼装上下文的 token 预算。
// 优先使用 tiktoken 精确计数，编码表不可用时降级为估算器。
package tokenizer
