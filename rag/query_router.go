package rag

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/aagudeloRN/RAGPruebas/llm"
)

// 路由器输出的工具名
const (
	toolQueryKnowledgeBase = "query_knowledge_base"
	toolAnswerFromHistory  = "answer_from_history"
)

// routeFunction 路由器必须调用的函数，tool 限定为两个取值
var routeFunction = &llm.Function{
	Name:        "route_query",
	Description: "Choose the tool that should answer the user's latest question.",
	Parameters: json.RawMessage(`{
  "type": "object",
  "properties": {
    "tool": {"type": "string", "enum": ["query_knowledge_base", "answer_from_history"]},
    "query": {"type": "string", "description": "Question to pass to the tool"}
  },
  "required": ["tool", "query"]
}`),
}

// PlannerConfig 规划器配置
type PlannerConfig struct {
	Model ModelOptions `json:"model"`
	// 复杂计划的最大步骤数（含最终合成指令）
	MaxSteps int `json:"max_steps"`
}

// DefaultPlannerConfig 返回默认配置
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Model:    ModelOptions{Model: "gpt-4o", Temperature: 0},
		MaxSteps: 5,
	}
}

// Planner 路由、问题压缩与查询分解。所有操作失败时都有确定的回退结果。
type Planner struct {
	lm     LanguageModel
	config PlannerConfig
	logger *zap.Logger
}

// NewPlanner 创建规划器
func NewPlanner(lm LanguageModel, config PlannerConfig, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxSteps < 2 {
		config.MaxSteps = DefaultPlannerConfig().MaxSteps
	}
	return &Planner{
		lm:     lm,
		config: config,
		logger: logger.With(zap.String("component", "query_planner")),
	}
}

// Route 判断问题应由知识库还是对话历史回答。
// 没有历史时直接走知识库；解析失败回退到知识库。
func (p *Planner) Route(ctx context.Context, history []llm.Message, query string) RouteDecision {
	fallback := RouteDecision{Route: RouteKnowledgeBase, Query: query}
	if len(history) == 0 {
		return fallback
	}

	var out struct {
		Tool  string `json:"tool"`
		Query string `json:"query"`
	}
	if err := callFunction(ctx, p.lm, p.config.Model, routerPrompt(history, query), routeFunction, &out); err != nil {
		p.logger.Warn("query routing failed, defaulting to knowledge base", zap.Error(err))
		return fallback
	}

	decision := fallback
	if strings.TrimSpace(out.Tool) == toolAnswerFromHistory {
		decision.Route = RouteHistory
	}
	if q := strings.TrimSpace(out.Query); q != "" {
		decision.Query = q
	}

	p.logger.Debug("query routed",
		zap.String("route", string(decision.Route)),
		zap.String("query", decision.Query))

	return decision
}

// Condense 结合历史把追问改写为独立问题。没有历史或失败时返回原问题。
func (p *Planner) Condense(ctx context.Context, history []llm.Message, query string) string {
	if len(history) == 0 {
		return query
	}

	out, err := complete(ctx, p.lm, p.config.Model, condensePrompt(history, query), nil)
	if err != nil {
		p.logger.Warn("question condensation failed, using raw question", zap.Error(err))
		return query
	}

	out = strings.Trim(strings.TrimSpace(out), `"`)
	if out == "" {
		return query
	}
	return out
}

// Decompose 判断问题是否需要多步检索。失败时返回只含原问题的单步计划。
func (p *Planner) Decompose(ctx context.Context, query string) *QueryPlan {
	simple := &QueryPlan{IsComplex: false, Steps: []string{query}}

	var out QueryPlan
	if err := completeJSON(ctx, p.lm, p.config.Model, decompositionPrompt(query), &out); err != nil {
		p.logger.Warn("query decomposition failed, using single-step plan", zap.Error(err))
		return simple
	}

	steps := make([]string, 0, len(out.Steps))
	for _, s := range out.Steps {
		if s = strings.TrimSpace(s); s != "" {
			steps = append(steps, s)
		}
	}

	// 复杂计划至少需要一个检索步骤加一个合成指令
	if !out.IsComplex || len(steps) < 2 {
		return simple
	}

	if len(steps) > p.config.MaxSteps {
		last := steps[len(steps)-1]
		steps = append(steps[:p.config.MaxSteps-1], last)
	}

	p.logger.Info("query decomposed", zap.Int("steps", len(steps)))
	return &QueryPlan{IsComplex: true, Steps: steps}
}
