package rag

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aagudeloRN/RAGPruebas/llm"
	"github.com/aagudeloRN/RAGPruebas/testutil"
	"github.com/aagudeloRN/RAGPruebas/testutil/mocks"
)

func TestPlanner_Route(t *testing.T) {
	history := testutil.Conversation("What are stablecoins?", "Stablecoins are tokens pegged to fiat.")

	tests := []struct {
		name      string
		history   []llm.Message
		response  string
		err       error
		wantRoute Route
		wantQuery string
		wantCalls int
	}{
		{
			name:      "no history skips the model",
			wantRoute: RouteKnowledgeBase,
			wantQuery: "summarize that",
			wantCalls: 0,
		},
		{
			name:      "history tool",
			history:   history,
			response:  `{"tool":"answer_from_history","query":"Summarize the answer about stablecoins"}`,
			wantRoute: RouteHistory,
			wantQuery: "Summarize the answer about stablecoins",
			wantCalls: 1,
		},
		{
			name:      "knowledge base tool",
			history:   history,
			response:  `{"tool":"query_knowledge_base","query":"stablecoin regulation"}`,
			wantRoute: RouteKnowledgeBase,
			wantQuery: "stablecoin regulation",
			wantCalls: 1,
		},
		{
			name:      "unknown tool falls back",
			history:   history,
			response:  `{"tool":"web_search","query":""}`,
			wantRoute: RouteKnowledgeBase,
			wantQuery: "summarize that",
			wantCalls: 1,
		},
		{
			name:      "malformed output falls back",
			history:   history,
			response:  "I think history",
			wantRoute: RouteKnowledgeBase,
			wantQuery: "summarize that",
			wantCalls: 1,
		},
		{
			name:      "model error falls back",
			history:   history,
			err:       errors.New("boom"),
			wantRoute: RouteKnowledgeBase,
			wantQuery: "summarize that",
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lm := mocks.NewMockLanguageModel()
			if tt.err != nil {
				lm.OnError(markRouter, tt.err)
			} else {
				lm.On(markRouter, tt.response)
			}
			p := NewPlanner(lm, DefaultPlannerConfig(), zap.NewNop())

			got := p.Route(context.Background(), tt.history, "summarize that")
			assert.Equal(t, tt.wantRoute, got.Route)
			assert.Equal(t, tt.wantQuery, got.Query)
			assert.Equal(t, tt.wantCalls, lm.CallCount(""))
		})
	}
}

func TestPlanner_RouteForcesRouteFunctionAtZeroTemperature(t *testing.T) {
	lm := mocks.NewMockLanguageModel().On(markRouter, `{"tool":"query_knowledge_base"}`)
	p := NewPlanner(lm, DefaultPlannerConfig(), nil)

	p.Route(context.Background(), testutil.Conversation("hi", "hello"), "what is AI?")

	calls := lm.Calls()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].Function)
	assert.Equal(t, "route_query", calls[0].Function.Name)
	assert.True(t, json.Valid(calls[0].Function.Parameters))
	assert.Zero(t, calls[0].Temperature)
}

func TestPlanner_Condense(t *testing.T) {
	history := testutil.Conversation("Tell me about the Future of Jobs report", "It is published by the WEF.")

	t.Run("rewrites follow-up", func(t *testing.T) {
		lm := mocks.NewMockLanguageModel().On(markCondense, `"Who published the Future of Jobs report 2023?"`)
		p := NewPlanner(lm, DefaultPlannerConfig(), nil)

		got := p.Condense(context.Background(), history, "who published it?")
		assert.Equal(t, "Who published the Future of Jobs report 2023?", got)
	})

	t.Run("no history is a no-op", func(t *testing.T) {
		lm := mocks.NewMockLanguageModel()
		p := NewPlanner(lm, DefaultPlannerConfig(), nil)

		assert.Equal(t, "who published it?", p.Condense(context.Background(), nil, "who published it?"))
		assert.Zero(t, lm.CallCount(""))
	})

	t.Run("failure returns raw query", func(t *testing.T) {
		lm := mocks.NewMockLanguageModel().OnError(markCondense, errors.New("timeout"))
		p := NewPlanner(lm, DefaultPlannerConfig(), nil)

		assert.Equal(t, "who published it?", p.Condense(context.Background(), history, "who published it?"))
	})

	t.Run("empty output returns raw query", func(t *testing.T) {
		lm := mocks.NewMockLanguageModel().On(markCondense, "  ")
		p := NewPlanner(lm, DefaultPlannerConfig(), nil)

		assert.Equal(t, "who published it?", p.Condense(context.Background(), history, "who published it?"))
	})
}

func TestPlanner_Decompose(t *testing.T) {
	const q = "What was the first public office of the author of the 2025 Future of Jobs report?"

	tests := []struct {
		name        string
		response    string
		err         error
		maxSteps    int
		wantComplex bool
		wantSteps   []string
	}{
		{
			name:        "simple",
			response:    `{"is_complex": false, "steps": ["` + q + `"]}`,
			wantComplex: false,
			wantSteps:   []string{q},
		},
		{
			name:        "complex",
			response:    "```json\n{\"is_complex\": true, \"steps\": [\"Who wrote the report?\", \"What was their first public office?\", \"Combine the findings.\"]}\n```",
			wantComplex: true,
			wantSteps:   []string{"Who wrote the report?", "What was their first public office?", "Combine the findings."},
		},
		{
			name:        "complex with a single step degrades to simple",
			response:    `{"is_complex": true, "steps": ["Combine."]}`,
			wantComplex: false,
			wantSteps:   []string{q},
		},
		{
			name:        "capped keeps the synthesis instruction",
			response:    `{"is_complex": true, "steps": ["a", "b", "c", "d", "Synthesize."]}`,
			maxSteps:    3,
			wantComplex: true,
			wantSteps:   []string{"a", "b", "Synthesize."},
		},
		{
			name:        "malformed output",
			response:    "not json",
			wantComplex: false,
			wantSteps:   []string{q},
		},
		{
			name:        "model error",
			err:         errors.New("503"),
			wantComplex: false,
			wantSteps:   []string{q},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lm := mocks.NewMockLanguageModel()
			if tt.err != nil {
				lm.OnError(markDecompose, tt.err)
			} else {
				lm.On(markDecompose, tt.response)
			}
			cfg := DefaultPlannerConfig()
			if tt.maxSteps > 0 {
				cfg.MaxSteps = tt.maxSteps
			}
			p := NewPlanner(lm, cfg, nil)

			plan := p.Decompose(context.Background(), q)
			assert.Equal(t, tt.wantComplex, plan.IsComplex)
			assert.Equal(t, tt.wantSteps, plan.Steps)
		})
	}
}

func TestQueryPlan_Steps(t *testing.T) {
	simple := &QueryPlan{Steps: []string{"q"}}
	assert.Equal(t, []string{"q"}, simple.RetrievalSteps())
	assert.Empty(t, simple.SynthesisInstruction())

	complexPlan := &QueryPlan{IsComplex: true, Steps: []string{"a", "b", "combine"}}
	assert.Equal(t, []string{"a", "b"}, complexPlan.RetrievalSteps())
	assert.Equal(t, "combine", complexPlan.SynthesisInstruction())
}
