package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/aagudeloRN/RAGPruebas/api"
	"github.com/aagudeloRN/RAGPruebas/internal/ctxkeys"
	"github.com/aagudeloRN/RAGPruebas/llm"
	"github.com/aagudeloRN/RAGPruebas/rag"
	"github.com/aagudeloRN/RAGPruebas/types"
)

// =============================================================================
// 🔌 依赖接口
// =============================================================================

// QueryEngine 问答编排。*rag.Orchestrator 满足该接口。
type QueryEngine interface {
	Answer(ctx context.Context, req rag.Request) (*rag.Response, error)
	Stream(ctx context.Context, req rag.Request) (<-chan rag.StreamEvent, error)
}

// Suggester 查询改写建议。*rag.Refiner 满足该接口。
type Suggester interface {
	Suggest(ctx context.Context, query string) []rag.Suggestion
}

// FAQSource 高频问题。*rag.SemanticCache 满足该接口。
type FAQSource interface {
	Top(ctx context.Context, namespace string, limit int) ([]rag.FAQEntry, error)
}

const (
	defaultFAQLimit = 5
	maxFAQLimit     = 50
	// 允许的最长历史轮数，超出部分只保留最近的
	maxHistoryMessages = 20
)

// RAGHandler 问答相关端点
type RAGHandler struct {
	engine           QueryEngine
	suggester        Suggester
	faq              FAQSource
	defaultNamespace string
	logger           *zap.Logger
}

// NewRAGHandler 创建处理器。suggester 与 faq 为 nil 时对应端点返回 503。
func NewRAGHandler(engine QueryEngine, suggester Suggester, faq FAQSource, defaultNamespace string, logger *zap.Logger) *RAGHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RAGHandler{
		engine:           engine,
		suggester:        suggester,
		faq:              faq,
		defaultNamespace: defaultNamespace,
		logger:           logger.With(zap.String("handler", "rag")),
	}
}

// RegisterRoutes 注册路由（Go 1.22 方法路由）
func (h *RAGHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/query", h.HandleQuery)
	mux.HandleFunc("POST /v1/chat", h.HandleChat)
	mux.HandleFunc("POST /v1/chat/stream", h.HandleStream)
	mux.HandleFunc("GET /v1/chat/ws", h.HandleWebSocket)
	mux.HandleFunc("POST /v1/query/suggestions", h.HandleSuggestions)
	mux.HandleFunc("GET /v1/faq/top", h.HandleFAQ)
}

// =============================================================================
// 🎯 同步问答
// =============================================================================

// HandleQuery 单轮问答
// @Summary 知识库问答
// @Tags 问答
// @Accept json
// @Produce json
// @Param request body api.QueryRequest true "问题"
// @Success 200 {object} Response
// @Failure 400 {object} Response "无效请求"
// @Router /v1/query [post]
func (h *RAGHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var req api.QueryRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	h.answer(w, r, h.toRequest(api.ChatRequest{Query: req.Query, Namespace: req.Namespace}))
}

// HandleChat 多轮问答
// @Summary 带历史的问答
// @Tags 问答
// @Accept json
// @Produce json
// @Param request body api.ChatRequest true "问题与历史"
// @Success 200 {object} Response
// @Failure 400 {object} Response "无效请求"
// @Router /v1/chat [post]
func (h *RAGHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req api.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := validateHistory(req.History); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	h.answer(w, r, h.toRequest(req))
}

func (h *RAGHandler) answer(w http.ResponseWriter, r *http.Request, req rag.Request) {
	ctx := ctxkeys.WithNamespace(r.Context(), req.Namespace)
	resp, err := h.engine.Answer(ctx, req)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	WriteSuccess(w, r, resp)
}

// =============================================================================
// 📡 流式问答
// =============================================================================

// HandleStream SSE 事件流：每个事件以 "event: <type>" 与 JSON data 行输出，以 done 结束
// @Summary 流式问答
// @Tags 问答
// @Accept json
// @Produce text/event-stream
// @Param request body api.ChatRequest true "问题与历史"
// @Success 200 {string} string "SSE 流"
// @Router /v1/chat/stream [post]
func (h *RAGHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	var req api.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := validateHistory(req.History); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, r, types.NewError(types.ErrInternalError, "streaming not supported"), h.logger)
		return
	}

	rr := h.toRequest(req)
	events, err := h.engine.Stream(ctxkeys.WithNamespace(r.Context(), rr.Namespace), rr)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // 禁用 nginx 缓冲
	w.WriteHeader(http.StatusOK)

	for ev := range events {
		if err := writeSSE(w, ev); err != nil {
			// 客户端断开；继续排空通道直到编排器退出
			h.logger.Debug("sse write failed", zap.Error(err))
			for range events {
			}
			return
		}
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, ev rag.StreamEvent) error {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(string(ev.Type))
	b.WriteString("\ndata: ")
	b.Write(payload)
	b.WriteString("\n\n")
	_, err = w.Write([]byte(b.String()))
	return err
}

// HandleWebSocket websocket 事件流。客户端首条消息为 api.ChatRequest，
// 之后服务端逐条发送 rag.StreamEvent，done 之后正常关闭。
// @Summary websocket 流式问答
// @Tags 问答
// @Router /v1/chat/ws [get]
func (h *RAGHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	var req api.ChatRequest
	err = wsjson.Read(readCtx, conn, &req)
	cancel()
	if err != nil {
		conn.Close(websocket.StatusUnsupportedData, "expected a chat request")
		return
	}
	if verr := validateHistory(req.History); verr != nil {
		conn.Close(websocket.StatusPolicyViolation, verr.Message)
		return
	}

	rr := h.toRequest(req)
	events, err := h.engine.Stream(ctxkeys.WithNamespace(ctx, rr.Namespace), rr)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}

	for ev := range events {
		if err := wsjson.Write(ctx, conn, ev); err != nil {
			h.logger.Debug("websocket write failed", zap.Error(err))
			for range events {
			}
			return
		}
	}
	conn.Close(websocket.StatusNormalClosure, "done")
}

// =============================================================================
// 💡 建议与 FAQ
// =============================================================================

// HandleSuggestions 返回 4 条改写建议；失败时为空列表
// @Summary 查询改写建议
// @Tags 问答
// @Accept json
// @Produce json
// @Param request body api.SuggestionsRequest true "原问题"
// @Success 200 {object} Response
// @Router /v1/query/suggestions [post]
func (h *RAGHandler) HandleSuggestions(w http.ResponseWriter, r *http.Request) {
	if h.suggester == nil {
		WriteErrorMessage(w, r, http.StatusServiceUnavailable, types.ErrServiceUnavailable, "suggestions are disabled", h.logger)
		return
	}
	var req api.SuggestionsRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	WriteSuccess(w, r, api.SuggestionsResponse{Suggestions: h.suggester.Suggest(r.Context(), req.Query)})
}

// HandleFAQ 按命中次数返回高频问题
// @Summary 高频问题
// @Tags 问答
// @Produce json
// @Param namespace query string false "知识库"
// @Param limit query int false "数量，默认 5"
// @Success 200 {object} Response
// @Router /v1/faq/top [get]
func (h *RAGHandler) HandleFAQ(w http.ResponseWriter, r *http.Request) {
	if h.faq == nil {
		WriteErrorMessage(w, r, http.StatusServiceUnavailable, types.ErrServiceUnavailable, "semantic cache is disabled", h.logger)
		return
	}

	ns := h.namespace(r.URL.Query().Get("namespace"))
	if ns == "" {
		WriteError(w, r, types.NewInvalidRequestError("namespace is required"), h.logger)
		return
	}

	limit := defaultFAQLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxFAQLimit {
			WriteError(w, r, types.NewInvalidRequestError("limit must be between 1 and 50"), h.logger)
			return
		}
		limit = n
	}

	items, err := h.faq.Top(r.Context(), ns, limit)
	if err != nil {
		WriteError(w, r, types.NewError(types.ErrStorageError, "failed to load FAQ").WithCause(err), h.logger)
		return
	}
	WriteSuccess(w, r, api.FAQResponse{Namespace: ns, Items: items})
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func (h *RAGHandler) namespace(ns string) string {
	if ns = strings.TrimSpace(ns); ns != "" {
		return ns
	}
	return h.defaultNamespace
}

func (h *RAGHandler) toRequest(req api.ChatRequest) rag.Request {
	history := req.History
	if len(history) > maxHistoryMessages {
		history = history[len(history)-maxHistoryMessages:]
	}
	msgs := make([]llm.Message, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, types.NewMessage(types.Role(m.Role), m.Content))
	}
	return rag.Request{
		Query:     req.Query,
		Namespace: h.namespace(req.Namespace),
		History:   msgs,
	}
}

func validateHistory(history []api.Message) *types.Error {
	for i, m := range history {
		if !types.Role(m.Role).IsTurn() {
			return types.NewInvalidRequestError("history[" + strconv.Itoa(i) + "].role must be user or assistant")
		}
	}
	return nil
}

func (h *RAGHandler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, rag.ErrInvalidQuery) {
		WriteError(w, r, types.NewInvalidRequestError(err.Error()), h.logger)
		return
	}
	if typed, ok := types.AsError(err); ok {
		WriteError(w, r, typed, h.logger)
		return
	}
	WriteError(w, r, types.NewInternalError("query failed").WithCause(err), h.logger)
}
