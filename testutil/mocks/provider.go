// MockLanguageModel 语言模型的脚本化模拟实现。
//
// 按提示词子串匹配规则返回固定内容，支持流式输出与错误注入。
package mocks

import (
	"context"
	"strings"
	"sync"

	"github.com/aagudeloRN/RAGPruebas/llm"
	"github.com/aagudeloRN/RAGPruebas/types"
)

// --- 规则 ---

type lmRule struct {
	match    string
	response string
	chunks   []string
	err      error
	// 流中途失败
	streamErr *types.Error
}

// MockLanguageModel 满足 rag.LanguageModel 与 llm.Provider 的补全部分
type MockLanguageModel struct {
	mu sync.Mutex

	rules    []lmRule
	fallback string

	calls []*llm.ChatRequest
}

// NewMockLanguageModel 创建模拟模型。未匹配任何规则时返回 fallback 内容。
func NewMockLanguageModel() *MockLanguageModel {
	return &MockLanguageModel{fallback: "Mock response"}
}

// --- Builder 方法 ---

// On 提示词包含 match 时返回 response。先注册的规则优先。
func (m *MockLanguageModel) On(match, response string) *MockLanguageModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, lmRule{match: match, response: response})
	return m
}

// OnStream 提示词包含 match 时按 chunks 流式输出，Completion 返回拼接结果
func (m *MockLanguageModel) OnStream(match string, chunks ...string) *MockLanguageModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, lmRule{match: match, response: strings.Join(chunks, ""), chunks: chunks})
	return m
}

// OnError 提示词包含 match 时返回 err
func (m *MockLanguageModel) OnError(match string, err error) *MockLanguageModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, lmRule{match: match, err: err})
	return m
}

// OnStreamError 流式输出 chunks 后发送一个错误块
func (m *MockLanguageModel) OnStreamError(match string, err *types.Error, chunks ...string) *MockLanguageModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, lmRule{match: match, chunks: chunks, streamErr: err})
	return m
}

// WithFallback 设置默认响应
func (m *MockLanguageModel) WithFallback(response string) *MockLanguageModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = response
	return m
}

// --- 调用记录 ---

// Calls 返回全部请求
func (m *MockLanguageModel) Calls() []*llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*llm.ChatRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount 提示词包含 match 的请求数；match 为空时返回总数
func (m *MockLanguageModel) CallCount(match string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, req := range m.calls {
		if match == "" || strings.Contains(PromptText(req), match) {
			n++
		}
	}
	return n
}

// PromptText 拼接请求中全部消息内容
func PromptText(req *llm.ChatRequest) string {
	var b strings.Builder
	for _, msg := range req.Messages {
		b.WriteString(msg.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

func (m *MockLanguageModel) record(req *llm.ChatRequest) lmRule {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)

	prompt := PromptText(req)
	for _, r := range m.rules {
		if strings.Contains(prompt, r.match) {
			return r
		}
	}
	return lmRule{response: m.fallback}
}

// --- LanguageModel 实现 ---

// Completion 返回匹配规则的内容
func (m *MockLanguageModel) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rule := m.record(req)
	if rule.err != nil {
		return nil, rule.err
	}
	if rule.streamErr != nil {
		return nil, rule.streamErr
	}
	return &llm.ChatResponse{
		Provider: "mock",
		Model:    req.Model,
		Choices: []llm.ChatChoice{{
			Index:        0,
			FinishReason: "stop",
			Message:      types.NewAssistantMessage(rule.response),
		}},
	}, nil
}

// Stream 逐块输出。未配置 chunks 时按空格切分响应。
func (m *MockLanguageModel) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rule := m.record(req)
	if rule.err != nil {
		return nil, rule.err
	}

	chunks := rule.chunks
	if chunks == nil {
		chunks = splitWords(rule.response)
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		for i, c := range chunks {
			select {
			case ch <- llm.StreamChunk{Provider: "mock", Index: i, Delta: types.NewAssistantMessage(c)}:
			case <-ctx.Done():
				return
			}
		}
		if rule.streamErr != nil {
			select {
			case ch <- llm.StreamChunk{Provider: "mock", Err: rule.streamErr}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

// splitWords 保留空格，拼接后与原文一致
func splitWords(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.SplitAfter(s, " ")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
