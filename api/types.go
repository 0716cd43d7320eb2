package api

// =============================================================================
// 📨 请求类型
// =============================================================================

// QueryRequest 单轮问答请求
// @Description POST /v1/query
type QueryRequest struct {
	Query string `json:"query"`
	// 为空时使用服务默认知识库
	Namespace string `json:"namespace,omitempty"`
}

// ChatRequest 多轮对话请求
// @Description POST /v1/chat, POST /v1/chat/stream, GET /v1/chat/ws（首条消息）
type ChatRequest struct {
	Query     string    `json:"query"`
	Namespace string    `json:"namespace,omitempty"`
	History   []Message `json:"history,omitempty"`
}

// Message 对话历史中的一条消息
type Message struct {
	// user 或 assistant
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SuggestionsRequest 查询改写建议请求
// @Description POST /v1/query/suggestions
type SuggestionsRequest struct {
	Query string `json:"query"`
}

// =============================================================================
// 📤 响应类型
// =============================================================================

// SuggestionsResponse 改写建议
type SuggestionsResponse struct {
	Suggestions any `json:"suggestions"`
}

// FAQResponse 高频问题列表
type FAQResponse struct {
	Namespace string `json:"namespace"`
	Items     any    `json:"items"`
}
