package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// encodingInfo 模型使用的 BPE 编码与上下文长度
type encodingInfo struct {
	encoding  string
	maxTokens int
}

var (
	defaultEncoding = encodingInfo{encoding: "cl100k_base", maxTokens: 8192}

	modelEncodings = map[string]encodingInfo{
		"gpt-4o":                 {"o200k_base", 128000},
		"gpt-4o-mini":            {"o200k_base", 128000},
		"gpt-4.1":                {"o200k_base", 1047576},
		"gpt-4-turbo":            {"cl100k_base", 128000},
		"gpt-4":                  {"cl100k_base", 8192},
		"gpt-3.5-turbo":          {"cl100k_base", 16385},
		"text-embedding-3-large": {"cl100k_base", 8191},
		"text-embedding-3-small": {"cl100k_base", 8191},
		"text-embedding-ada-002": {"cl100k_base", 8191},
	}
)

// lookupEncoding 先精确匹配，再取最长前缀（gpt-4o-mini-2024-07-18 → gpt-4o-mini）
func lookupEncoding(model string) encodingInfo {
	if info, ok := modelEncodings[model]; ok {
		return info
	}
	best, bestLen := defaultEncoding, 0
	for prefix, info := range modelEncodings {
		if len(prefix) > bestLen && strings.HasPrefix(model, prefix) {
			best, bestLen = info, len(prefix)
		}
	}
	return best
}

// TiktokenTokenizer OpenAI 模型的精确 token 计数。编码表在第一次使用时加载。
type TiktokenTokenizer struct {
	info encodingInfo

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

func NewTiktokenTokenizer(model string) *TiktokenTokenizer {
	return &TiktokenTokenizer{info: lookupEncoding(model)}
}

func (t *TiktokenTokenizer) encoding() (*tiktoken.Tiktoken, error) {
	t.once.Do(func() {
		t.enc, t.err = tiktoken.GetEncoding(t.info.encoding)
		if t.err != nil {
			t.err = fmt.Errorf("load tiktoken encoding %s: %w", t.info.encoding, t.err)
		}
	})
	return t.enc, t.err
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	enc, err := t.encoding()
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// Truncate 保留前 maxTokens 个 token 并解码回文本
func (t *TiktokenTokenizer) Truncate(text string, maxTokens int) (string, error) {
	enc, err := t.encoding()
	if err != nil {
		return "", err
	}
	ids := enc.Encode(text, nil, nil)
	if len(ids) <= maxTokens {
		return text, nil
	}
	return enc.Decode(ids[:maxTokens]), nil
}

func (t *TiktokenTokenizer) MaxTokens() int { return t.info.maxTokens }
func (t *TiktokenTokenizer) Name() string   { return "tiktoken[" + t.info.encoding + "]" }
