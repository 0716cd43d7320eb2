package openai

import (
	"encoding/json"
	"time"

	"github.com/aagudeloRN/RAGPruebas/llm"
)

type chatMessage struct {
	Role      string     `json:"role,omitempty"`
	Content   string     `json:"content"`
	Name      string     `json:"name,omitempty"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

// toolCall arguments 在线上是 JSON 字符串
type toolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type tool struct {
	Type     string        `json:"type"`
	Function *llm.Function `json:"function"`
}

type namedToolChoice struct {
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
	} `json:"function"`
}

func forceFunction(fn *llm.Function) ([]tool, *namedToolChoice) {
	choice := &namedToolChoice{Type: "function"}
	choice.Function.Name = fn.Name
	return []tool{{Type: "function", Function: fn}}, choice
}

// arguments 取名为 name 的第一个调用
func (m *chatMessage) arguments(name string) json.RawMessage {
	for _, c := range m.ToolCalls {
		if c.Function.Name == name && c.Function.Arguments != "" {
			return json.RawMessage(c.Function.Arguments)
		}
	}
	return nil
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatRequest struct {
	Model          string              `json:"model"`
	Messages       []chatMessage       `json:"messages"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	Temperature    float32             `json:"temperature"`
	Seed           *int64              `json:"seed,omitempty"`
	Stop           []string            `json:"stop,omitempty"`
	ResponseFormat *llm.ResponseFormat `json:"response_format,omitempty"`
	Tools          []tool              `json:"tools,omitempty"`
	ToolChoice     *namedToolChoice    `json:"tool_choice,omitempty"`
	User           string              `json:"user,omitempty"`
	Stream         bool                `json:"stream,omitempty"`
	StreamOptions  *streamOptions      `json:"stream_options,omitempty"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *usage) toLLM() llm.ChatUsage {
	if u == nil {
		return llm.ChatUsage{}
	}
	return llm.ChatUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// choice 同步响应填 Message，流式响应填 Delta
type choice struct {
	Index        int          `json:"index"`
	FinishReason string       `json:"finish_reason"`
	Message      chatMessage  `json:"message"`
	Delta        *chatMessage `json:"delta,omitempty"`
}

type chatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Created int64    `json:"created"`
	Choices []choice `json:"choices"`
	Usage   *usage   `json:"usage,omitempty"`
}

func (p *Provider) toWire(req *llm.ChatRequest, stream bool) chatRequest {
	out := chatRequest{
		Model:          req.Model,
		Messages:       make([]chatMessage, len(req.Messages)),
		MaxTokens:      req.MaxTokens,
		Temperature:    req.Temperature,
		Seed:           req.Seed,
		Stop:           req.Stop,
		ResponseFormat: req.ResponseFormat,
		User:           req.User,
	}
	if out.Model == "" {
		out.Model = p.cfg.DefaultModel
	}
	for i, m := range req.Messages {
		out.Messages[i] = chatMessage{Role: string(m.Role), Content: m.Content, Name: m.Name}
	}
	if req.Function != nil {
		out.Tools, out.ToolChoice = forceFunction(req.Function)
	}
	if stream {
		out.Stream = true
		out.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return out
}

// toLLM fn 为请求强制的函数名，为空时不提取参数
func (r *chatResponse) toLLM(provider, fn string) *llm.ChatResponse {
	out := &llm.ChatResponse{
		ID:       r.ID,
		Provider: provider,
		Model:    r.Model,
		Choices:  make([]llm.ChatChoice, len(r.Choices)),
		Usage:    r.Usage.toLLM(),
	}
	for i, c := range r.Choices {
		out.Choices[i] = llm.ChatChoice{
			Index:        c.Index,
			FinishReason: c.FinishReason,
			Message:      llm.Message{Role: llm.RoleAssistant, Content: c.Message.Content, Name: c.Message.Name},
		}
		if fn != "" {
			out.Choices[i].Arguments = c.Message.arguments(fn)
		}
	}
	if r.Created > 0 {
		out.CreatedAt = time.Unix(r.Created, 0)
	}
	return out
}
