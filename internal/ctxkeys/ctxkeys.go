// Package ctxkeys holds the request-scoped values shared between the HTTP
// middleware, the orchestrator and the logs.
package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	traceIDKey   contextKey = "trace_id"
	namespaceKey contextKey = "namespace"
	apiKeyIDKey  contextKey = "api_key_id"
	subjectKey   contextKey = "subject"
)

func withString(ctx context.Context, key contextKey, v string) context.Context {
	return context.WithValue(ctx, key, v)
}

func getString(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRequestID 设置请求 ID（由 RequestID 中间件写入）
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}

// RequestID 获取请求 ID
func RequestID(ctx context.Context) (string, bool) {
	return getString(ctx, requestIDKey)
}

// WithTraceID 设置 TraceID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return withString(ctx, traceIDKey, traceID)
}

// TraceID 获取 TraceID
func TraceID(ctx context.Context) (string, bool) {
	return getString(ctx, traceIDKey)
}

// WithNamespace 设置知识库命名空间
func WithNamespace(ctx context.Context, ns string) context.Context {
	return withString(ctx, namespaceKey, ns)
}

// Namespace 获取知识库命名空间
func Namespace(ctx context.Context) (string, bool) {
	return getString(ctx, namespaceKey)
}

// WithAPIKeyID 记录通过认证的 API key 标识（脱敏后）
func WithAPIKeyID(ctx context.Context, id string) context.Context {
	return withString(ctx, apiKeyIDKey, id)
}

// APIKeyID 获取 API key 标识
func APIKeyID(ctx context.Context) (string, bool) {
	return getString(ctx, apiKeyIDKey)
}

// WithSubject 记录 JWT 的 sub 声明
func WithSubject(ctx context.Context, sub string) context.Context {
	return withString(ctx, subjectKey, sub)
}

// Subject 获取调用方身份
func Subject(ctx context.Context) (string, bool) {
	return getString(ctx, subjectKey)
}
