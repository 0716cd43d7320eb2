package rag

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

const defaultSuggestionCount = 4

// Refiner 为模糊的问题生成更具体的改写建议
type Refiner struct {
	lm     LanguageModel
	model  ModelOptions
	logger *zap.Logger
}

// NewRefiner 创建改写建议生成器
func NewRefiner(lm LanguageModel, model ModelOptions, logger *zap.Logger) *Refiner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refiner{
		lm:     lm,
		model:  model,
		logger: logger.With(zap.String("component", "refiner")),
	}
}

// Suggest 返回最多四条建议。失败时返回空列表。
func (r *Refiner) Suggest(ctx context.Context, query string) []Suggestion {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Suggestion{}
	}

	var out struct {
		Suggestions []Suggestion `json:"suggestions"`
	}
	if err := completeJSON(ctx, r.lm, r.model, refinementPrompt(query), &out); err != nil {
		r.logger.Warn("query refinement failed", zap.Error(err))
		return []Suggestion{}
	}

	suggestions := make([]Suggestion, 0, defaultSuggestionCount)
	for _, s := range out.Suggestions {
		s.Query = strings.TrimSpace(s.Query)
		if s.Query == "" {
			continue
		}
		s.Description = strings.TrimSpace(s.Description)
		suggestions = append(suggestions, s)
		if len(suggestions) == defaultSuggestionCount {
			break
		}
	}
	return suggestions
}
