/*
包 llm 定义语言模型接入层的线协议：[ChatRequest]、[ChatResponse]、
[StreamChunk] 与 [Provider] 接口。

具体实现位于子包：

  - providers/openai：OpenAI chat completions，含 SSE 流式输出。
  - embedding：文本向量化服务（OpenAI /v1/embeddings）。
  - rerank：重排序服务（Cohere /v2/rerank）。
  - retry：指数退避重试器，供只读外部调用使用。
  - tokenizer：基于 tiktoken 的 token 计数。

上游 HTTP 错误统一映射为 *types.Error，Retryable 字段决定是否重试。
*/
package llm
