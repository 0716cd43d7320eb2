/*
Package types 提供跨包共享的基础类型定义。

types 不依赖任何内部包，为 llm、rag、api 提供统一的类型契约：

  - Message / Role：对话消息，Transcript 渲染对话历史
  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码、Retryable、Service 标记

错误工具链：AsError / IsRetryable / GetErrorCode / IsErrorCode / FromHTTPStatus。
*/
package types
