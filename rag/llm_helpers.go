package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aagudeloRN/RAGPruebas/llm"
	"github.com/aagudeloRN/RAGPruebas/types"
)

// ModelOptions 一次补全调用使用的模型参数
type ModelOptions struct {
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// complete 以单条 system 消息发起补全并返回文本内容
func complete(ctx context.Context, lm LanguageModel, opts ModelOptions, prompt string, format *llm.ResponseFormat) (string, error) {
	resp, err := lm.Completion(ctx, &llm.ChatRequest{
		Model:          opts.Model,
		Messages:       []llm.Message{types.NewSystemMessage(prompt)},
		MaxTokens:      opts.MaxTokens,
		Temperature:    opts.Temperature,
		ResponseFormat: format,
	})
	if err != nil {
		return "", err
	}
	return llm.FirstContent(resp)
}

// callFunction 强制模型以 fn 的参数作答并解码到 out
func callFunction(ctx context.Context, lm LanguageModel, opts ModelOptions, prompt string, fn *llm.Function, out any) error {
	resp, err := lm.Completion(ctx, &llm.ChatRequest{
		Model:       opts.Model,
		Messages:    []llm.Message{types.NewSystemMessage(prompt)},
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Function:    fn,
	})
	if err != nil {
		return err
	}
	content, err := llm.FirstContent(resp)
	if err != nil {
		return err
	}
	return decodeJSONObject(content, out)
}

// completeJSON 要求模型输出 JSON 对象并解码到 out
func completeJSON(ctx context.Context, lm LanguageModel, opts ModelOptions, prompt string, out any) error {
	content, err := complete(ctx, lm, opts, prompt, llm.JSONObject)
	if err != nil {
		return err
	}
	return decodeJSONObject(content, out)
}

// decodeJSONObject 截取第一个 '{' 到最后一个 '}' 之间的内容再解码，
// 兼容模型在 JSON 外包裹说明文字或代码块的情况
func decodeJSONObject(content string, out any) error {
	content = strings.TrimSpace(llm.StripCodeFence(content))
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in model output")
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), out); err != nil {
		return fmt.Errorf("decode model output: %w", err)
	}
	return nil
}
