// Package api holds the request and response shapes of the RAG HTTP API.
//
// # Endpoints
//
//   - POST /v1/query              单轮问答
//   - POST /v1/chat               多轮问答（携带 history）
//   - POST /v1/chat/stream        SSE 事件流
//   - GET  /v1/chat/ws            websocket 事件流
//   - POST /v1/query/suggestions  查询改写建议
//   - GET  /v1/faq/top            高频问题
//   - GET  /health, /healthz, /ready
//
// Every JSON response is wrapped as
//
//	{"success": true, "data": {...}, "timestamp": "...", "request_id": "..."}
//
// # Authentication
//
// When API keys are configured, requests carry the X-API-Key header.
// When a JWT secret is configured, requests carry "Authorization: Bearer <token>".
package api
