package tokenizer

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Tokenizer token 计数，用于上下文预算、文档切块与 embedding 输入截断
type Tokenizer interface {
	CountTokens(text string) (int, error)
	// MaxTokens 模型的上下文长度
	MaxTokens() int
	Name() string
}

// Truncater 能直接按 token 截断的分词器（tiktoken 按编码截断）
type Truncater interface {
	Truncate(text string, maxTokens int) (string, error)
}

// Truncate 把 text 截断到不超过 maxTokens 个 token。
// 分词器实现了 Truncater 时直接使用，否则在 rune 边界上二分查找最长前缀。
func Truncate(t Tokenizer, text string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		return "", nil
	}
	if tr, ok := t.(Truncater); ok {
		return tr.Truncate(text, maxTokens)
	}

	n, err := t.CountTokens(text)
	if err != nil || n <= maxTokens {
		return text, err
	}
	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		c, err := t.CountTokens(string(runes[:mid]))
		if err != nil {
			return "", err
		}
		if c <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo]), nil
}

// ForModel 返回模型对应的 tiktoken 分词器；编码表加载失败时
// （例如离线环境无法下载 BPE 文件）改用估算，预算始终可计算
func ForModel(model string, logger *zap.Logger) Tokenizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	tk := NewTiktokenTokenizer(model)
	return &fallbackTokenizer{
		primary:  tk,
		estimate: NewEstimatorTokenizer(model, tk.MaxTokens()),
		logger:   logger.With(zap.String("component", "tokenizer"), zap.String("model", model)),
	}
}

type fallbackTokenizer struct {
	primary  Tokenizer
	estimate Tokenizer
	logger   *zap.Logger
	once     sync.Once
}

func (f *fallbackTokenizer) CountTokens(text string) (int, error) {
	n, err := f.primary.CountTokens(text)
	if err == nil {
		return n, nil
	}
	f.degraded(err)
	return f.estimate.CountTokens(text)
}

func (f *fallbackTokenizer) Truncate(text string, maxTokens int) (string, error) {
	out, err := Truncate(f.primary, text, maxTokens)
	if err == nil {
		return out, nil
	}
	f.degraded(err)
	return Truncate(f.estimate, text, maxTokens)
}

func (f *fallbackTokenizer) degraded(err error) {
	f.once.Do(func() {
		f.logger.Warn("tiktoken unavailable, estimating token counts", zap.Error(err))
	})
}

func (f *fallbackTokenizer) MaxTokens() int { return f.primary.MaxTokens() }
func (f *fallbackTokenizer) Name() string   { return f.primary.Name() }

// EstimatorTokenizer 不依赖编码表的近似计数。
// 英文按词切分后，长词每 4 个字符多算一个 token，标点各算一个；
// CJK 字符逐字计数。对报告类英文文本误差通常在 15% 以内。
type EstimatorTokenizer struct {
	model     string
	maxTokens int
}

func NewEstimatorTokenizer(model string, maxTokens int) *EstimatorTokenizer {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &EstimatorTokenizer{model: model, maxTokens: maxTokens}
}

func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	n := 0
	for _, field := range strings.Fields(text) {
		n += estimateWord(field)
	}
	return n, nil
}

func estimateWord(w string) int {
	n, letters := 0, 0
	flush := func() {
		if letters > 0 {
			n += (letters + 3) / 4
			letters = 0
		}
	}
	for _, r := range w {
		switch {
		case unicode.Is(unicode.Han, r), unicode.Is(unicode.Hiragana, r), unicode.Is(unicode.Katakana, r), unicode.Is(unicode.Hangul, r):
			flush()
			n++
		case unicode.IsLetter(r), unicode.IsDigit(r):
			letters++
		default:
			flush()
			n++
		}
	}
	flush()
	if n == 0 && utf8.RuneCountInString(w) > 0 {
		n = 1
	}
	return n
}

func (e *EstimatorTokenizer) MaxTokens() int { return e.maxTokens }
func (e *EstimatorTokenizer) Name() string   { return "estimator" }
