package llm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aagudeloRN/RAGPruebas/types"
)

// 消息类型定义在 types 包，这里只做别名
type (
	Message = types.Message
	Role    = types.Role
)

const (
	RoleSystem    = types.RoleSystem
	RoleUser      = types.RoleUser
	RoleAssistant = types.RoleAssistant
)

// ResponseFormat 约束模型输出格式，Type 为 text 或 json_object
type ResponseFormat struct {
	Type string `json:"type"`
}

// JSONObject 要求模型只输出一个 JSON 对象。路由、规划、改写都用它拿结构化结果。
var JSONObject = &ResponseFormat{Type: "json_object"}

// Function 强制模型调用的函数，参数为 JSON Schema
type Function struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ChatRequest Temperature 为 0 时照常发送；Seed 非空时请求确定性采样。
// Function 非空时模型必须以该函数的参数作答，结果见 ChatChoice.Arguments。
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float32         `json:"temperature"`
	Seed           *int64          `json:"seed,omitempty"`
	Stop           []string        `json:"stop,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	Function       *Function       `json:"function,omitempty"`
	// User 透传给上游用于滥用监控，通常为调用方主体
	User string `json:"user,omitempty"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

type ChatChoice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason,omitempty"`
	Message      Message `json:"message"`
	// Arguments 请求带 Function 时模型给出的函数参数
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type ChatResponse struct {
	ID        string       `json:"id,omitempty"`
	Provider  string       `json:"provider,omitempty"`
	Model     string       `json:"model"`
	Choices   []ChatChoice `json:"choices"`
	Usage     ChatUsage    `json:"usage,omitempty"`
	CreatedAt time.Time    `json:"created_at,omitempty"`
}

// StreamChunk 流中的一个增量。Usage 只出现在最后一个块上，该块的 Delta 为空。
type StreamChunk struct {
	ID           string       `json:"id,omitempty"`
	Provider     string       `json:"provider,omitempty"`
	Model        string       `json:"model,omitempty"`
	Index        int          `json:"index,omitempty"`
	Delta        Message      `json:"delta"`
	FinishReason string       `json:"finish_reason,omitempty"`
	Usage        *ChatUsage   `json:"usage,omitempty"`
	Err          *types.Error `json:"error,omitempty"`
}

type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
}

// Provider 语言模型适配接口
type Provider interface {
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Stream 返回增量通道，结束、出错或 ctx 取消后关闭。出错时最后一个块携带 Err。
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)

	HealthCheck(ctx context.Context) (*HealthStatus, error)

	Name() string
}
