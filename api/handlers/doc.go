/*
Package handlers 提供问答服务 HTTP API 的请求处理器实现。

# 核心类型

  - RAGHandler     — 问答、流式问答（SSE 与 websocket）、查询改写建议、FAQ
  - HealthHandler  — 存活与就绪探针；非关键依赖失败时 /ready 报告 degraded 而非 503
  - Response       — 统一 JSON 响应结构（success + data + error + timestamp）
  - ResponseWriter — 包装 http.ResponseWriter 以捕获状态码，保留 Flush 能力

# 流式协议

/v1/chat/stream 以 text/event-stream 输出，每个事件形如

	event: token
	data: "44% "

事件类型为 status、step、token、answer、sources、error、done，
done 每个请求恰好出现一次且最后出现。/v1/chat/ws 发送相同事件的 JSON 形式，
done 之后以 1000 正常关闭。
*/
package handlers
