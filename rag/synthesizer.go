package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/aagudeloRN/RAGPruebas/llm"
	"github.com/aagudeloRN/RAGPruebas/types"
)

// SynthesizerConfig 合成器配置
type SynthesizerConfig struct {
	Model ModelOptions `json:"model"`
}

// DefaultSynthesizerConfig 返回默认配置
func DefaultSynthesizerConfig() SynthesizerConfig {
	return SynthesizerConfig{Model: ModelOptions{Model: "gpt-4o", Temperature: 0.1}}
}

// Synthesizer 驱动语言模型生成最终答案
type Synthesizer struct {
	lm     LanguageModel
	config SynthesizerConfig
	logger *zap.Logger
}

// NewSynthesizer 创建合成器
func NewSynthesizer(lm LanguageModel, config SynthesizerConfig, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{
		lm:     lm,
		config: config,
		logger: logger.With(zap.String("component", "synthesizer")),
	}
}

// Synthesize 单步合成：只依据 contextText 回答 query
func (s *Synthesizer) Synthesize(ctx context.Context, query, contextText string) (string, error) {
	answer, err := s.generate(ctx, analystPrompt(contextText, query))
	if err != nil {
		return "", fmt.Errorf("synthesize answer: %w", err)
	}
	return answer, nil
}

// SynthesizeStream 流式单步合成，每个增量通过 onToken 回调，返回完整答案
func (s *Synthesizer) SynthesizeStream(ctx context.Context, query, contextText string, onToken func(string)) (string, error) {
	answer, err := s.stream(ctx, analystPrompt(contextText, query), onToken)
	if err != nil {
		return "", fmt.Errorf("synthesize answer: %w", err)
	}
	return answer, nil
}

// SynthesizeFinal 多步计划的最终合成。facts 以 JSON 结构化传入。
func (s *Synthesizer) SynthesizeFinal(ctx context.Context, originalQuery, instruction string, facts []Fact, onToken func(string)) (string, error) {
	raw, err := json.MarshalIndent(factsPayload(facts), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode facts: %w", err)
	}

	prompt := finalSynthesisPrompt(originalQuery, instruction, string(raw))

	var answer string
	if onToken != nil {
		answer, err = s.stream(ctx, prompt, onToken)
	} else {
		answer, err = s.generate(ctx, prompt)
	}
	if err != nil {
		return "", fmt.Errorf("synthesize final answer: %w", err)
	}
	return answer, nil
}

// AnswerFromHistory 仅依据对话历史回答
func (s *Synthesizer) AnswerFromHistory(ctx context.Context, history []llm.Message, query string) (string, error) {
	answer, err := s.generate(ctx, historyAnswerPrompt(history, query))
	if err != nil {
		return "", fmt.Errorf("answer from history: %w", err)
	}
	return answer, nil
}

func (s *Synthesizer) generate(ctx context.Context, prompt string) (string, error) {
	answer, err := complete(ctx, s.lm, s.config.Model, prompt, nil)
	if err != nil {
		return "", err
	}
	if answer == "" {
		return "", types.NewUpstreamError("llm", "empty completion")
	}
	return answer, nil
}

func (s *Synthesizer) stream(ctx context.Context, prompt string, onToken func(string)) (string, error) {
	ch, err := s.lm.Stream(ctx, &llm.ChatRequest{
		Model:       s.config.Model.Model,
		Messages:    []llm.Message{types.NewSystemMessage(prompt)},
		MaxTokens:   s.config.Model.MaxTokens,
		Temperature: s.config.Model.Temperature,
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		if chunk.Delta.Content == "" {
			continue
		}
		b.WriteString(chunk.Delta.Content)
		if onToken != nil {
			onToken(chunk.Delta.Content)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	answer := strings.TrimSpace(b.String())
	if answer == "" {
		return "", types.NewUpstreamError("llm", "empty completion")
	}
	return answer, nil
}

// factsPayload 交给模型的结构化事实，每条附带出版方与年份
func factsPayload(facts []Fact) []map[string]any {
	out := make([]map[string]any, 0, len(facts))
	for _, f := range facts {
		cites := make([]map[string]string, 0, len(f.Sources))
		for _, s := range f.Sources {
			cites = append(cites, map[string]string{
				"publisher": firstNonEmpty(s.Publisher, unknownPublisher),
				"year":      firstNonEmpty(s.PublicationYear, unknownYear),
				"title":     s.Title,
			})
		}
		out = append(out, map[string]any{
			"step":    f.Step,
			"fact":    f.Fact,
			"sources": cites,
		})
	}
	return out
}

// =============================================================================
// 引用校验
// =============================================================================

var (
	// 括号内可用分号合并多处引用：(WEF, 2023; OECD, 2022)
	parenthetical   = regexp.MustCompile(`\(([^()]+)\)`)
	citationPattern = regexp.MustCompile(`^(.+?),\s*(\d{4}|n\.d\.|s\.f\.)$`)
)

// CitationReport 答案中引用与已知来源的比对结果
type CitationReport struct {
	Citations int      `json:"citations"`
	Unknown   []string `json:"unknown,omitempty"`
}

// Grounded 至少有一处引用且所有引用都能对应到来源
func (r CitationReport) Grounded() bool {
	return r.Citations > 0 && len(r.Unknown) == 0
}

// CheckCitations 提取答案中的 (Publisher, Year) 引用并与来源比对
func CheckCitations(answer string, sources []Source) CitationReport {
	known := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		known[citationKey(s.Publisher, s.PublicationYear)] = struct{}{}
	}

	var report CitationReport
	for _, group := range parenthetical.FindAllStringSubmatch(answer, -1) {
		for _, part := range strings.Split(group[1], ";") {
			m := citationPattern.FindStringSubmatch(strings.TrimSpace(part))
			if m == nil {
				continue
			}
			report.Citations++
			if _, ok := known[citationKey(m[1], m[2])]; !ok {
				report.Unknown = append(report.Unknown, "("+m[0]+")")
			}
		}
	}
	return report
}

func citationKey(publisher, year string) string {
	return strings.ToLower(strings.TrimSpace(publisher)) + "|" + strings.TrimSpace(year)
}
