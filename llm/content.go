package llm

import (
	"errors"
	"strings"
)

// ErrNoChoices 响应为空或没有任何候选
var ErrNoChoices = errors.New("llm: response has no choices")

func FirstChoice(resp *ChatResponse) (ChatChoice, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return ChatChoice{}, ErrNoChoices
	}
	return resp.Choices[0], nil
}

// ErrContentFiltered 上游因内容策略截断了输出
var ErrContentFiltered = errors.New("llm: response blocked by content filter")

// FirstContent 第一个候选的函数参数，没有时为去掉首尾空白后的文本
func FirstContent(resp *ChatResponse) (string, error) {
	choice, err := FirstChoice(resp)
	if err != nil {
		return "", err
	}
	if len(choice.Arguments) > 0 {
		return string(choice.Arguments), nil
	}
	if choice.FinishReason == "content_filter" && strings.TrimSpace(choice.Message.Content) == "" {
		return "", ErrContentFiltered
	}
	return strings.TrimSpace(choice.Message.Content), nil
}

// StripCodeFence 去掉 ```json ... ``` 包裹，语言标记所在的首行一并去掉
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	body, ok := strings.CutPrefix(s, "```")
	if !ok {
		return s
	}
	if _, rest, found := strings.Cut(body, "\n"); found {
		body = rest
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(body), "```"))
}
