package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aagudeloRN/RAGPruebas/testutil"
	"github.com/aagudeloRN/RAGPruebas/testutil/mocks"
)

const (
	wefAnswer   = "44% of workers' skills will be disrupted in the next five years (World Economic Forum, 2023)."
	skillsQuery = "How will AI change workers' skills?"
)

var (
	wefSkills = Passage{
		ChunkID: "fojr-2023_chunk_0", DocumentID: "fojr-2023",
		Text:      "Employers expect 44% of workers' skills to be disrupted in the next five years.",
		Publisher: "WEF", PublicationYear: "2023",
	}
	wefThinking = Passage{
		ChunkID: "fojr-2023_chunk_1", DocumentID: "fojr-2023",
		Text:      "Analytical thinking remains the most important skill for workers.",
		Publisher: "WEF", PublicationYear: "2023",
	}
	bisStablecoins = Passage{
		ChunkID: "bis-2024_chunk_0", DocumentID: "bis-2024",
		Text:      "Stablecoins are crypto assets pegged to fiat currencies.",
		Publisher: "BIS", PublicationYear: "2024",
	}
)

// pipeline 用内存实现组装的完整编排器
type pipeline struct {
	orch    *Orchestrator
	lm      *mocks.MockLanguageModel
	emb     *mocks.MockEmbedder
	rr      *mocks.MockReranker
	store   *MemoryCacheStore
	metrics *recordingMetrics
}

type pipelineOption func(*Components, *OrchestratorConfig)

func withoutCache() pipelineOption {
	return func(c *Components, _ *OrchestratorConfig) { c.Cache = nil }
}

func withExpander(lm LanguageModel) pipelineOption {
	return func(c *Components, _ *OrchestratorConfig) {
		cfg := DefaultExpanderConfig()
		cfg.CacheTTL = 0
		c.Expander = NewExpander(lm, cfg, nil)
	}
}

func newPipeline(t *testing.T, lm *mocks.MockLanguageModel, rr *mocks.MockReranker, opts ...pipelineOption) *pipeline {
	t.Helper()
	ctx := context.Background()

	emb := mocks.NewMockEmbedder()
	idx := NewInMemoryVectorIndex(nil)
	require.NoError(t, seedPassages(ctx, idx, emb, "reports", wefSkills, wefThinking, bisStablecoins))

	meta := newFakeMetadataStore(DocumentMetadata{
		ID: "fojr-2023", Namespace: "reports", Title: "Future of Jobs Report 2023",
		Publisher: "World Economic Forum", PublicationYear: "2023",
		SourceURL: "https://www.weforum.org/publications/the-future-of-jobs-report-2023/",
	})

	metrics := newRecordingMetrics()
	store := NewMemoryCacheStore(zap.NewNop())

	c := Components{
		Cache:       NewSemanticCache(store, emb, nil, DefaultSemanticCacheConfig(), metrics, nil),
		Planner:     NewPlanner(lm, DefaultPlannerConfig(), nil),
		Retriever:   NewRetriever(emb, idx, 0, nil),
		Reranker:    NewReranker(rr, DefaultRerankerConfig(), nil),
		Assembler:   NewContextAssembler(meta, nil, 0, nil),
		Synthesizer: NewSynthesizer(lm, DefaultSynthesizerConfig(), nil),
		Metrics:     metrics,
	}
	cfg := DefaultOrchestratorConfig()
	for _, opt := range opts {
		opt(&c, &cfg)
	}

	orch, err := NewOrchestrator(c, cfg, zap.NewNop())
	require.NoError(t, err)

	return &pipeline{orch: orch, lm: lm, emb: emb, rr: rr, store: store, metrics: metrics}
}

func skillsReranker() *mocks.MockReranker {
	return mocks.NewMockReranker().
		WithScore("44%", 0.92).
		WithScore("Analytical thinking", 0.81)
}

func simplePlanLM() *mocks.MockLanguageModel {
	return mocks.NewMockLanguageModel().
		On(markDecompose, `{"is_complex": false, "steps": ["`+skillsQuery+`"]}`).
		On(markAnalyst, wefAnswer)
}

func TestNewOrchestrator_RequiresComponents(t *testing.T) {
	_, err := NewOrchestrator(Components{}, DefaultOrchestratorConfig(), nil)
	assert.Error(t, err)
}

func TestOrchestrator_AnswerFromKnowledgeBase(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, simplePlanLM(), skillsReranker())

	resp, err := p.orch.Answer(ctx, Request{Query: skillsQuery, Namespace: "reports"})
	require.NoError(t, err)
	assert.Equal(t, wefAnswer, resp.Answer)
	assert.False(t, resp.CacheHit)
	require.Len(t, resp.Sources, 1, "both chunks come from the same report")
	assert.Equal(t, Source{
		DocumentID: "fojr-2023", Title: "Future of Jobs Report 2023",
		Publisher: "World Economic Forum", PublicationYear: "2023",
		SourceURL: "https://www.weforum.org/publications/the-future-of-jobs-report-2023/",
	}, resp.Sources[0])

	// 分析提示词只包含通过重排序阈值的段落
	prompt := mocks.PromptText(p.lm.Calls()[len(p.lm.Calls())-1])
	assert.Contains(t, prompt, "Source: (WEF, 2023)\n"+wefSkills.Text)
	assert.Contains(t, prompt, wefThinking.Text)
	assert.NotContains(t, prompt, bisStablecoins.Text)
	assert.Equal(t, []string{skillsQuery}, p.rr.Queries())

	n, err := p.store.Count(ctx, "reports")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, []string{PathKnowledgeBase}, p.metrics.paths)
	assert.Equal(t, []int{3}, p.metrics.candidates["retrieved"])
	assert.Equal(t, []int{2}, p.metrics.candidates["reranked"])
}

func TestOrchestrator_CacheHitOnRepeat(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, simplePlanLM(), skillsReranker())

	first, err := p.orch.Answer(ctx, Request{Query: skillsQuery, Namespace: "reports"})
	require.NoError(t, err)
	calls := p.lm.CallCount("")

	second, err := p.orch.Answer(ctx, Request{Query: "  " + skillsQuery + " ", Namespace: "reports"})
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, first.Sources, second.Sources)
	assert.Equal(t, calls, p.lm.CallCount(""), "cache hit makes no model calls")

	// 其他 namespace 不共享缓存
	other, err := p.orch.Answer(ctx, Request{Query: skillsQuery, Namespace: "other"})
	require.NoError(t, err)
	assert.False(t, other.CacheHit)

	assert.Equal(t, []string{PathKnowledgeBase, PathCacheHit, PathNotFound}, p.metrics.paths)
}

func TestOrchestrator_NotFound(t *testing.T) {
	ctx := context.Background()

	t.Run("empty namespace index", func(t *testing.T) {
		p := newPipeline(t, simplePlanLM(), skillsReranker())

		resp, err := p.orch.Answer(ctx, Request{Query: skillsQuery, Namespace: "empty"})
		require.NoError(t, err)
		assert.Equal(t, DefaultNotFoundAnswer, resp.Answer)
		assert.NotNil(t, resp.Sources)
		assert.Empty(t, resp.Sources)
		assert.Zero(t, p.lm.CallCount(markAnalyst))
		assert.Empty(t, p.rr.Queries(), "nothing to rerank")

		n, _ := p.store.Count(ctx, "empty")
		assert.Zero(t, n, "not-found answers are not cached")
	})

	t.Run("everything below threshold", func(t *testing.T) {
		p := newPipeline(t, simplePlanLM(), mocks.NewMockReranker().WithDefaultScore(0.2))

		resp, err := p.orch.Answer(ctx, Request{Query: skillsQuery, Namespace: "reports"})
		require.NoError(t, err)
		assert.Equal(t, DefaultNotFoundAnswer, resp.Answer)
		assert.Zero(t, p.lm.CallCount(markAnalyst))
		assert.Equal(t, []string{PathNotFound}, p.metrics.paths)
	})
}

func TestOrchestrator_HistoryRoute(t *testing.T) {
	ctx := context.Background()
	lm := simplePlanLM().
		On(markRouter, `{"tool": "answer_from_history", "query": "summarize the previous answer"}`).
		On(markHistory, "Stablecoins are tokens pegged to fiat currencies (BIS, 2024).")
	p := newPipeline(t, lm, skillsReranker())

	resp, err := p.orch.Answer(ctx, Request{
		Query:     "Can you summarize that?",
		Namespace: "reports",
		History:   testutil.Conversation("What are stablecoins?", "Stablecoins are crypto assets pegged to fiat (BIS, 2024)."),
	})
	require.NoError(t, err)
	assert.Equal(t, "Stablecoins are tokens pegged to fiat currencies (BIS, 2024).", resp.Answer)
	assert.Empty(t, resp.Sources)
	assert.False(t, resp.CacheHit)

	assert.Zero(t, lm.CallCount(markAnalyst))
	assert.Zero(t, lm.CallCount(markDecompose))
	assert.Empty(t, p.rr.Queries())

	n, _ := p.store.Count(ctx, "reports")
	assert.Zero(t, n, "history answers are not cached")
	assert.Equal(t, []string{PathHistory}, p.metrics.paths)
}

func TestOrchestrator_ConversationalFollowUpUsesStandaloneQuestion(t *testing.T) {
	ctx := context.Background()
	lm := simplePlanLM().
		On(markRouter, `{"tool": "query_knowledge_base", "query": "skills"}`).
		On(markCondense, skillsQuery)
	p := newPipeline(t, lm, skillsReranker())

	resp, err := p.orch.Answer(ctx, Request{
		Query:     "and what about skills?",
		Namespace: "reports",
		History:   testutil.Conversation("What does the Future of Jobs report cover?", "Jobs and skills (World Economic Forum, 2023)."),
	})
	require.NoError(t, err)
	assert.Equal(t, wefAnswer, resp.Answer)
	assert.Equal(t, []string{skillsQuery}, p.rr.Queries(), "retrieval uses the condensed question")

	// 独立问题写入缓存，后续单轮提问直接命中
	again, err := p.orch.Answer(ctx, Request{Query: skillsQuery, Namespace: "reports"})
	require.NoError(t, err)
	assert.True(t, again.CacheHit)
}

func TestOrchestrator_ComplexPlan(t *testing.T) {
	ctx := context.Background()
	lm := mocks.NewMockLanguageModel().
		On(markDecompose, `{"is_complex": true, "steps": [
			"Who published the Future of Jobs report?",
			"Which share of skills will be disrupted?",
			"Combine both findings into one answer."
		]}`).
		On(markFinal, "The World Economic Forum expects 44% of skills to be disrupted (World Economic Forum, 2023).").
		On(markAnalyst, wefAnswer)
	p := newPipeline(t, lm, skillsReranker(), withoutCache())

	resp, err := p.orch.Answer(ctx, Request{Query: "What does the publisher of the Future of Jobs report expect for skills?", Namespace: "reports"})
	require.NoError(t, err)
	assert.Equal(t, "The World Economic Forum expects 44% of skills to be disrupted (World Economic Forum, 2023).", resp.Answer)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "fojr-2023", resp.Sources[0].DocumentID)

	assert.Equal(t, 2, lm.CallCount(markAnalyst), "one analyst call per retrieval step")
	assert.Equal(t, 1, lm.CallCount(markFinal))
	assert.Equal(t, []string{
		"Who published the Future of Jobs report?",
		"Which share of skills will be disrupted?",
	}, p.rr.Queries(), "each step is reranked against its own question")

	var final string
	for _, call := range lm.Calls() {
		if text := mocks.PromptText(call); strings.Contains(text, markFinal) {
			final = text
		}
	}
	assert.Contains(t, final, "Instruction: Combine both findings into one answer.")
	assert.Contains(t, final, "Who published the Future of Jobs report?")
}

func TestOrchestrator_ExpansionWidensRetrieval(t *testing.T) {
	ctx := context.Background()
	lm := simplePlanLM().On(markExpansion, `{"queries": ["AI skills disruption", "share of skills disrupted"]}`)
	p := newPipeline(t, lm, skillsReranker(), withoutCache(), withExpander(lm))

	resp, err := p.orch.Answer(ctx, Request{Query: skillsQuery, Namespace: "reports"})
	require.NoError(t, err)
	assert.Equal(t, wefAnswer, resp.Answer)
	assert.Equal(t, 1, lm.CallCount(markExpansion))
	assert.Equal(t, 3, p.emb.QueryCalls(), "one embedding per query variant")
	assert.Equal(t, []string{skillsQuery}, p.rr.Queries(), "rerank against the original question")
	assert.Equal(t, []int{3}, p.metrics.candidates["retrieved"], "variants are merged without duplicates")
}

func TestOrchestrator_InternalErrorBecomesFixedAnswer(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, simplePlanLM(), mocks.NewMockReranker().WithError(errors.New("cohere: 500")))

	resp, err := p.orch.Answer(ctx, Request{Query: skillsQuery, Namespace: "reports"})
	require.NoError(t, err)
	assert.Equal(t, InternalErrorAnswer, resp.Answer)
	assert.Empty(t, resp.Sources)
	assert.False(t, resp.CacheHit)

	n, _ := p.store.Count(ctx, "reports")
	assert.Zero(t, n)
	assert.Equal(t, []string{PathError}, p.metrics.paths)
}

func TestOrchestrator_InvalidQuery(t *testing.T) {
	p := newPipeline(t, simplePlanLM(), skillsReranker())

	_, err := p.orch.Answer(context.Background(), Request{Query: "   ", Namespace: "reports"})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = p.orch.Answer(context.Background(), Request{Query: "q", Namespace: ""})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = p.orch.Stream(context.Background(), Request{Query: "", Namespace: "reports"})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	assert.Zero(t, p.lm.CallCount(""))
}

// =============================================================================
// Stream
// =============================================================================

func eventTypes(events []StreamEvent) []EventType {
	out := make([]EventType, 0, len(events))
	for _, ev := range events {
		if ev.Type == EventStatus {
			continue
		}
		out = append(out, ev.Type)
	}
	return out
}

func countType(events []StreamEvent, typ EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestOrchestrator_Stream(t *testing.T) {
	ctx := context.Background()
	lm := mocks.NewMockLanguageModel().
		On(markDecompose, `{"is_complex": false, "steps": ["q"]}`).
		OnStream(markAnalyst, "44% of skills ", "will be disrupted ", "(World Economic Forum, 2023).")
	p := newPipeline(t, lm, skillsReranker())

	ch, err := p.orch.Stream(ctx, Request{Query: skillsQuery, Namespace: "reports"})
	require.NoError(t, err)
	events := testutil.Drain(t, ch, 5*time.Second)

	assert.Equal(t, []EventType{EventToken, EventToken, EventToken, EventAnswer, EventSources, EventDone}, eventTypes(events))
	assert.Equal(t, EventStatus, events[0].Type)
	assert.Equal(t, "cache_check", events[0].Data)

	var tokens strings.Builder
	for _, ev := range events {
		if ev.Type == EventToken {
			tokens.WriteString(ev.Data.(string))
		}
	}
	answer := events[len(events)-3]
	assert.Equal(t, "44% of skills will be disrupted (World Economic Forum, 2023).", answer.Data)
	assert.Equal(t, answer.Data, strings.TrimSpace(tokens.String()))

	sources, ok := events[len(events)-2].Data.([]Source)
	require.True(t, ok)
	require.Len(t, sources, 1)
	assert.Equal(t, DoneEvent{CacheHit: false}, events[len(events)-1].Data)

	// 第二次命中缓存：没有 token，done 标记 cache_hit
	ch, err = p.orch.Stream(ctx, Request{Query: skillsQuery, Namespace: "reports"})
	require.NoError(t, err)
	events = testutil.Drain(t, ch, 5*time.Second)

	assert.Equal(t, []EventType{EventAnswer, EventSources, EventDone}, eventTypes(events))
	assert.Equal(t, DoneEvent{CacheHit: true}, events[len(events)-1].Data)
	assert.Equal(t, 1, lm.CallCount(markAnalyst))
}

func TestOrchestrator_StreamComplexPlanEmitsSteps(t *testing.T) {
	lm := mocks.NewMockLanguageModel().
		On(markDecompose, `{"is_complex": true, "steps": ["step one?", "step two?", "combine"]}`).
		On(markFinal, "final (World Economic Forum, 2023).").
		On(markAnalyst, wefAnswer)
	p := newPipeline(t, lm, skillsReranker(), withoutCache())

	ch, err := p.orch.Stream(context.Background(), Request{Query: "complex question", Namespace: "reports"})
	require.NoError(t, err)
	events := testutil.Drain(t, ch, 5*time.Second)

	var steps []StepEvent
	for _, ev := range events {
		if ev.Type == EventStep {
			steps = append(steps, ev.Data.(StepEvent))
		}
	}
	require.Len(t, steps, 2)
	assert.Equal(t, 0, steps[0].Index)
	assert.Equal(t, "step one?", steps[0].Question)
	assert.Equal(t, wefAnswer, steps[0].Answer)
	assert.Equal(t, 1, steps[1].Index)

	assert.Equal(t, 1, countType(events, EventDone))
	assert.Equal(t, EventDone, events[len(events)-1].Type)
	assert.Equal(t, "final (World Economic Forum, 2023).", events[len(events)-3].Data)
}

func TestOrchestrator_StreamErrorEndsWithDone(t *testing.T) {
	p := newPipeline(t, simplePlanLM(), mocks.NewMockReranker().WithError(errors.New("boom")))

	ch, err := p.orch.Stream(context.Background(), Request{Query: skillsQuery, Namespace: "reports"})
	require.NoError(t, err)
	events := testutil.Drain(t, ch, 5*time.Second)

	assert.Equal(t, []EventType{EventError, EventDone}, eventTypes(events))
	assert.Equal(t, map[string]string{"message": InternalErrorAnswer}, events[len(events)-2].Data)
	assert.Zero(t, countType(events, EventAnswer))
}

func TestOrchestrator_StreamNotFound(t *testing.T) {
	p := newPipeline(t, simplePlanLM(), skillsReranker())

	ch, err := p.orch.Stream(context.Background(), Request{Query: skillsQuery, Namespace: "nothing-here"})
	require.NoError(t, err)
	events := testutil.Drain(t, ch, 5*time.Second)

	assert.Equal(t, []EventType{EventAnswer, EventDone}, eventTypes(events))
	assert.Equal(t, DefaultNotFoundAnswer, events[len(events)-2].Data)
}

func TestOrchestrator_StreamStopsWhenConsumerLeaves(t *testing.T) {
	p := newPipeline(t, simplePlanLM(), skillsReranker())
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := p.orch.Stream(ctx, Request{Query: skillsQuery, Namespace: "reports"})
	require.NoError(t, err)
	cancel()

	// 取消后生产者不会阻塞，通道最终关闭
	testutil.Drain(t, ch, 5*time.Second)
}
