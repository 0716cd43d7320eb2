package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// 固定回答
const (
	DefaultNotFoundAnswer = "The information is not available in the knowledge base."
	InternalErrorAnswer   = "internal error processing your query"
	stepNotFoundFact      = "No relevant information was found for this step."
)

const tracerName = "github.com/aagudeloRN/RAGPruebas/rag"

// OrchestratorConfig 编排器配置
type OrchestratorConfig struct {
	RetrievalTopK int `json:"retrieval_top_k"`
	// 启用查询扩展时每个变体的 topK
	ExpansionTopK   int    `json:"expansion_top_k"`
	EnableExpansion bool   `json:"enable_expansion"`
	NotFoundAnswer  string `json:"not_found_answer"`
}

// DefaultOrchestratorConfig 返回默认配置
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		RetrievalTopK:   20,
		ExpansionTopK:   10,
		EnableExpansion: true,
		NotFoundAnswer:  DefaultNotFoundAnswer,
	}
}

// Components 编排器依赖。Cache 与 Expander 可以为 nil（禁用）。
type Components struct {
	Cache       *SemanticCache
	Planner     *Planner
	Expander    *Expander
	Retriever   *Retriever
	Reranker    *Reranker
	Assembler   *ContextAssembler
	Synthesizer *Synthesizer
	Metrics     MetricsRecorder
}

// Orchestrator 请求生命周期状态机：
// CACHE_CHECK → ROUTE → {HISTORY_ANSWER | PLAN → RETRIEVE_STEP* → SYNTHESIZE_FINAL → CACHE_WRITE} → DONE
type Orchestrator struct {
	c      Components
	config OrchestratorConfig
	tracer trace.Tracer
	logger *zap.Logger
}

// NewOrchestrator 创建编排器
func NewOrchestrator(c Components, config OrchestratorConfig, logger *zap.Logger) (*Orchestrator, error) {
	if c.Planner == nil || c.Retriever == nil || c.Reranker == nil || c.Assembler == nil || c.Synthesizer == nil {
		return nil, fmt.Errorf("planner, retriever, reranker, assembler and synthesizer are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
	defaults := DefaultOrchestratorConfig()
	if config.RetrievalTopK <= 0 {
		config.RetrievalTopK = defaults.RetrievalTopK
	}
	if config.ExpansionTopK <= 0 {
		config.ExpansionTopK = defaults.ExpansionTopK
	}
	if config.NotFoundAnswer == "" {
		config.NotFoundAnswer = defaults.NotFoundAnswer
	}

	return &Orchestrator{
		c:      c,
		config: config,
		tracer: otel.Tracer(tracerName),
		logger: logger.With(zap.String("component", "orchestrator")),
	}, nil
}

// Cache 返回语义缓存（可能为 nil）
func (o *Orchestrator) Cache() *SemanticCache { return o.c.Cache }

// Answer 阻塞式问答。只有输入无效时返回错误；内部失败转换为固定回答。
func (o *Orchestrator) Answer(ctx context.Context, req Request) (*Response, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}
	out := o.run(ctx, req, nopSink{})
	return out.resp, nil
}

// Stream 流式问答。通道以 done 事件结束后关闭，done 恰好出现一次。
func (o *Orchestrator) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent, 64)
	go func() {
		defer close(ch)
		sink := &chanSink{ctx: ctx, ch: ch}

		out := outcome{resp: o.internalError(), path: PathError}
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("panic in streaming query", zap.Any("panic", r))
				out = outcome{resp: o.internalError(), path: PathError}
			}
			sink.finish(out)
		}()

		out = o.run(ctx, req, sink)
	}()
	return ch, nil
}

func validateRequest(req *Request) error {
	req.Query = strings.TrimSpace(req.Query)
	req.Namespace = strings.TrimSpace(req.Namespace)
	if req.Query == "" || req.Namespace == "" {
		return ErrInvalidQuery
	}
	return nil
}

// outcome 一次请求的终止状态
type outcome struct {
	resp *Response
	path string
}

func (o *Orchestrator) run(ctx context.Context, req Request, sink eventSink) outcome {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "rag.query", trace.WithAttributes(
		attribute.String("rag.namespace", req.Namespace),
		attribute.Int("rag.history_turns", len(req.History)),
	))
	defer span.End()

	out := o.runStates(ctx, req, sink)

	span.SetAttributes(
		attribute.String("rag.path", out.path),
		attribute.Bool("rag.cache_hit", out.resp.CacheHit),
	)
	if out.path == PathError {
		span.SetStatus(codes.Error, InternalErrorAnswer)
	}
	o.c.Metrics.RecordQuery(out.path, time.Since(start))

	o.logger.Info("query answered",
		zap.String("namespace", req.Namespace),
		zap.String("path", out.path),
		zap.Bool("cache_hit", out.resp.CacheHit),
		zap.Int("sources", len(out.resp.Sources)),
		zap.Duration("duration", time.Since(start)))

	return out
}

func (o *Orchestrator) runStates(ctx context.Context, req Request, sink eventSink) outcome {
	ns := req.Namespace
	question := req.Query
	conversational := len(req.History) > 0

	// CACHE_CHECK：单轮问题直接查缓存；多轮对话需先压缩为独立问题再查
	var key *CacheKey
	if !conversational {
		sink.status("cache_check")
		var hit *Response
		if hit, key = o.cacheCheck(ctx, ns, question); hit != nil {
			return outcome{resp: hit, path: PathCacheHit}
		}
	}

	// ROUTE
	sink.status("route")
	decision := o.route(ctx, req)
	if decision.Route == RouteHistory {
		return o.historyAnswer(ctx, req, sink)
	}

	standalone := question
	if conversational {
		standalone = o.condense(ctx, req)
		sink.status("cache_check")
		var hit *Response
		if hit, key = o.cacheCheck(ctx, ns, standalone); hit != nil {
			return outcome{resp: hit, path: PathCacheHit}
		}
	}

	// PLAN
	sink.status("plan")
	plan := o.plan(ctx, standalone)

	var (
		answer string
		asm    *AssembledContext
		err    error
	)
	if plan.IsComplex {
		answer, asm, err = o.runPlan(ctx, ns, standalone, plan, sink)
	} else {
		answer, asm, err = o.runSingle(ctx, ns, standalone, sink)
	}
	if err != nil {
		o.logger.Error("query pipeline failed",
			zap.String("namespace", ns), zap.Error(err))
		return outcome{resp: o.internalError(), path: PathError}
	}
	if asm.Empty() {
		return outcome{resp: o.notFound(), path: PathNotFound}
	}

	if report := CheckCitations(answer, asm.Sources); !report.Grounded() {
		o.logger.Warn("answer citations do not match retrieved sources",
			zap.String("namespace", ns),
			zap.Int("citations", report.Citations),
			zap.Strings("unknown", report.Unknown))
	}

	// CACHE_WRITE
	o.cacheWrite(ctx, ns, standalone, key, answer, asm.Chunks)

	return outcome{
		resp: &Response{Answer: answer, Sources: asm.Sources, CacheHit: false},
		path: PathKnowledgeBase,
	}
}

// =============================================================================
// 状态实现
// =============================================================================

// stage 为一个状态开启 span 并在结束时记录耗时
func (o *Orchestrator) stage(ctx context.Context, name string) (context.Context, func(error)) {
	ctx, span := o.tracer.Start(ctx, "rag."+name)
	start := time.Now()
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		o.c.Metrics.RecordStage(name, time.Since(start))
	}
}

func (o *Orchestrator) cacheCheck(ctx context.Context, ns, question string) (*Response, *CacheKey) {
	if o.c.Cache == nil {
		return nil, nil
	}
	ctx, done := o.stage(ctx, "cache_check")
	defer done(nil)

	key, err := o.c.Cache.Prepare(ctx, question)
	if err != nil {
		o.logger.Warn("cache check degraded to miss",
			zap.String("namespace", ns), zap.Error(err))
		return nil, nil
	}

	entry, ok := o.c.Cache.LookupKey(ctx, ns, key)
	if !ok {
		return nil, key
	}
	return &Response{Answer: entry.Answer, Sources: entry.Sources(), CacheHit: true}, key
}

func (o *Orchestrator) route(ctx context.Context, req Request) RouteDecision {
	ctx, done := o.stage(ctx, "route")
	defer done(nil)
	return o.c.Planner.Route(ctx, req.History, req.Query)
}

func (o *Orchestrator) condense(ctx context.Context, req Request) string {
	ctx, done := o.stage(ctx, "condense")
	defer done(nil)
	return o.c.Planner.Condense(ctx, req.History, req.Query)
}

func (o *Orchestrator) plan(ctx context.Context, query string) *QueryPlan {
	ctx, done := o.stage(ctx, "plan")
	defer done(nil)
	return o.c.Planner.Decompose(ctx, query)
}

func (o *Orchestrator) historyAnswer(ctx context.Context, req Request, sink eventSink) outcome {
	ctx, done := o.stage(ctx, "history_answer")
	answer, err := o.c.Synthesizer.AnswerFromHistory(ctx, req.History, req.Query)
	done(err)
	if err != nil {
		o.logger.Error("history answer failed", zap.String("namespace", req.Namespace), zap.Error(err))
		return outcome{resp: o.internalError(), path: PathError}
	}
	return outcome{resp: &Response{Answer: answer, Sources: []Source{}}, path: PathHistory}
}

// retrieveStep 单个问题的检索管线：扩展 → 检索 → 重排序 → 组装
func (o *Orchestrator) retrieveStep(ctx context.Context, ns, query string) (asm *AssembledContext, err error) {
	ctx, done := o.stage(ctx, "retrieve_step")
	defer func() { done(err) }()

	queries := []string{query}
	topK := o.config.RetrievalTopK
	if o.config.EnableExpansion && o.c.Expander != nil {
		queries = o.c.Expander.Expand(ctx, query)
		if len(queries) > 1 {
			topK = o.config.ExpansionTopK
		}
	}

	candidates, err := o.c.Retriever.Retrieve(ctx, queries, ns, topK)
	if err != nil {
		return nil, err
	}
	o.c.Metrics.RecordCandidates("retrieved", len(candidates))
	if len(candidates) == 0 {
		return &AssembledContext{Sources: []Source{}, Chunks: []ContextChunk{}}, nil
	}

	// 始终针对原问题重排序
	ranked, err := o.c.Reranker.Rerank(ctx, query, candidates)
	if err != nil {
		return nil, err
	}
	o.c.Metrics.RecordCandidates("reranked", len(ranked))

	return o.c.Assembler.Assemble(ctx, ns, ranked), nil
}

func (o *Orchestrator) runSingle(ctx context.Context, ns, query string, sink eventSink) (string, *AssembledContext, error) {
	sink.status("retrieve")
	asm, err := o.retrieveStep(ctx, ns, query)
	if err != nil || asm.Empty() {
		return "", asm, err
	}

	sink.status("synthesize")
	ctx, done := o.stage(ctx, "synthesize_final")
	var answer string
	if sink.streaming() {
		answer, err = o.c.Synthesizer.SynthesizeStream(ctx, query, asm.Text, sink.token)
	} else {
		answer, err = o.c.Synthesizer.Synthesize(ctx, query, asm.Text)
	}
	done(err)
	return answer, asm, err
}

// runPlan 依次执行每个检索步骤（严格串行），累积事实与来源后做最终合成
func (o *Orchestrator) runPlan(ctx context.Context, ns, query string, plan *QueryPlan, sink eventSink) (string, *AssembledContext, error) {
	steps := plan.RetrievalSteps()
	facts := make([]Fact, 0, len(steps))
	total := &AssembledContext{Sources: []Source{}, Chunks: []ContextChunk{}}
	seenChunks := make(map[string]struct{})

	for i, step := range steps {
		sink.status(fmt.Sprintf("step %d/%d", i+1, len(steps)))

		asm, err := o.retrieveStep(ctx, ns, step)
		if err != nil {
			return "", nil, fmt.Errorf("step %d: %w", i+1, err)
		}

		fact := Fact{Step: step, Fact: stepNotFoundFact, Sources: []Source{}}
		if !asm.Empty() {
			answer, err := o.c.Synthesizer.Synthesize(ctx, step, asm.Text)
			if err != nil {
				return "", nil, fmt.Errorf("step %d: %w", i+1, err)
			}
			fact.Fact = answer
			fact.Sources = asm.Sources

			total.Sources = mergeSources(total.Sources, asm.Sources)
			for _, c := range asm.Chunks {
				if _, ok := seenChunks[c.ChunkID]; ok {
					continue
				}
				seenChunks[c.ChunkID] = struct{}{}
				total.Chunks = append(total.Chunks, c)
			}
		}
		facts = append(facts, fact)

		sink.step(StepEvent{Index: i, Question: step, Answer: fact.Fact, Sources: fact.Sources})
	}

	if total.Empty() {
		return "", total, nil
	}

	sink.status("synthesize")
	ctx, done := o.stage(ctx, "synthesize_final")
	var onToken func(string)
	if sink.streaming() {
		onToken = sink.token
	}
	answer, err := o.c.Synthesizer.SynthesizeFinal(ctx, query, plan.SynthesisInstruction(), facts, onToken)
	done(err)
	if err != nil {
		return "", nil, err
	}
	return answer, total, nil
}

// cacheWrite 写入失败只记录日志
func (o *Orchestrator) cacheWrite(ctx context.Context, ns, question string, key *CacheKey, answer string, chunks []ContextChunk) {
	if o.c.Cache == nil {
		return
	}
	ctx, done := o.stage(ctx, "cache_write")

	var err error
	if key == nil || key.Question != question {
		key, err = o.c.Cache.Prepare(ctx, question)
	}
	if err == nil {
		_, err = o.c.Cache.StoreKey(ctx, ns, key, answer, chunks)
	}
	done(err)

	if err != nil {
		o.logger.Warn("semantic cache write failed",
			zap.String("namespace", ns), zap.Error(err))
	}
}

func (o *Orchestrator) notFound() *Response {
	return &Response{Answer: o.config.NotFoundAnswer, Sources: []Source{}}
}

func (o *Orchestrator) internalError() *Response {
	return &Response{Answer: InternalErrorAnswer, Sources: []Source{}}
}

// =============================================================================
// 事件输出
// =============================================================================

type eventSink interface {
	streaming() bool
	status(stage string)
	step(ev StepEvent)
	token(delta string)
}

type nopSink struct{}

func (nopSink) streaming() bool { return false }
func (nopSink) status(string)   {}
func (nopSink) step(StepEvent)  {}
func (nopSink) token(string)    {}

// chanSink 把事件写入通道；消费者离开（ctx 取消）后丢弃事件
type chanSink struct {
	ctx context.Context
	ch  chan<- StreamEvent
}

func (s *chanSink) emit(ev StreamEvent) {
	select {
	case s.ch <- ev:
	case <-s.ctx.Done():
	}
}

func (s *chanSink) streaming() bool     { return true }
func (s *chanSink) status(stage string) { s.emit(StreamEvent{Type: EventStatus, Data: stage}) }
func (s *chanSink) step(ev StepEvent)   { s.emit(StreamEvent{Type: EventStep, Data: ev}) }
func (s *chanSink) token(delta string)  { s.emit(StreamEvent{Type: EventToken, Data: delta}) }

// finish 输出终止事件，最后总是 done
func (s *chanSink) finish(out outcome) {
	switch out.path {
	case PathError:
		s.emit(StreamEvent{Type: EventError, Data: map[string]string{"message": out.resp.Answer}})
	case PathNotFound:
		s.emit(StreamEvent{Type: EventAnswer, Data: out.resp.Answer})
	default:
		s.emit(StreamEvent{Type: EventAnswer, Data: out.resp.Answer})
		s.emit(StreamEvent{Type: EventSources, Data: out.resp.Sources})
	}
	s.emit(StreamEvent{Type: EventDone, Data: DoneEvent{CacheHit: out.resp.CacheHit}})
}
