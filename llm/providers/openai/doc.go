// Package openai 实现基于 chat completions REST 接口的 llm.Provider：
// JSON 输出约束、强制调用指定函数（tool_choice），以及 SSE 流式输出，
// 流末尾附带 token 用量。
package openai
