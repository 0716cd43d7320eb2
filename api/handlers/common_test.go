package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aagudeloRN/RAGPruebas/internal/ctxkeys"
	"github.com/aagudeloRN/RAGPruebas/types"
)

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestWriteJSON_Headers(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusAccepted, []int{1, 2, 3})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.JSONEq(t, `[1,2,3]`, w.Body.String())
}

func TestWriteSuccess_Envelope(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/faq/top", nil)
	r = r.WithContext(ctxkeys.WithRequestID(r.Context(), "req-42"))

	WriteSuccess(w, r, map[string]string{"answer": "44%"})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeEnvelope(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, map[string]any{"answer": "44%"}, resp.Data)
	assert.Nil(t, resp.Error)
	assert.False(t, resp.Timestamp.IsZero())
	assert.Equal(t, "req-42", resp.RequestID)
}

func TestWriteError_Status(t *testing.T) {
	tests := []struct {
		name   string
		err    *types.Error
		status int
	}{
		{"invalid request", types.NewInvalidRequestError("query is required"), http.StatusBadRequest},
		{"unauthorized", types.NewError(types.ErrUnauthorized, "missing credentials"), http.StatusUnauthorized},
		{"forbidden", types.NewError(types.ErrForbidden, "namespace denied"), http.StatusForbidden},
		{"not found", types.NewError(types.ErrNotFound, "namespace not found"), http.StatusNotFound},
		{"rate limit", types.NewError(types.ErrRateLimit, "slow down"), http.StatusTooManyRequests},
		{"upstream timeout", types.NewError(types.ErrUpstreamTimeout, "embedding timed out"), http.StatusGatewayTimeout},
		{"upstream error", types.NewUpstreamError("pinecone", "bad gateway"), http.StatusBadGateway},
		{"unavailable", types.NewError(types.ErrServiceUnavailable, "cache disabled"), http.StatusServiceUnavailable},
		{"internal", types.NewInternalError("boom"), http.StatusInternalServerError},
		{"unknown code", types.NewError("SOMETHING_NEW", "?"), http.StatusInternalServerError},
		{
			"explicit status wins",
			types.NewUpstreamError("pinecone", "index unavailable").WithHTTPStatus(http.StatusServiceUnavailable),
			http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, httptest.NewRequest(http.MethodPost, "/v1/query", nil), tt.err, nil)

			assert.Equal(t, tt.status, w.Code)
			resp := decodeEnvelope(t, w)
			assert.False(t, resp.Success)
			assert.Nil(t, resp.Data)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.err.Code), resp.Error.Code)
			assert.Equal(t, tt.err.Message, resp.Error.Message)
		})
	}
}

func TestWriteError_RetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, nil, types.NewError(types.ErrRateLimit, "slow down").WithRetryable(true), nil)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.True(t, decodeEnvelope(t, w).Error.Retryable)

	w = httptest.NewRecorder()
	WriteError(w, nil, types.NewError(types.ErrRateLimit, "quota exhausted"), nil)
	assert.Empty(t, w.Header().Get("Retry-After"))
}

func TestWriteError_LogLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	r := httptest.NewRequest(http.MethodPost, "/v1/query", nil)

	WriteError(httptest.NewRecorder(), r, types.NewInvalidRequestError("query is required"), logger)
	WriteError(httptest.NewRecorder(), r,
		types.NewUpstreamError("openai", "completion failed").WithCause(errors.New("EOF")), logger)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	fields := entries[1].ContextMap()
	assert.Equal(t, "openai", fields["service"])
	assert.Equal(t, "EOF", fields["error"])
}

func TestWriteErrorMessage(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorMessage(w, httptest.NewRequest(http.MethodGet, "/v1/faq/top", nil),
		http.StatusServiceUnavailable, types.ErrServiceUnavailable, "semantic cache is disabled", nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "semantic cache is disabled", decodeEnvelope(t, w).Error.Message)
}

func TestDecodeJSONBody(t *testing.T) {
	type query struct {
		Query     string `json:"query"`
		Namespace string `json:"namespace"`
		TopK      int    `json:"top_k"`
	}

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{name: "valid", body: `{"query":"top skills","namespace":"reports","top_k":5}`},
		{name: "trailing comma", body: `{"query":"test",}`, wantMsg: "malformed JSON at offset"},
		{name: "truncated", body: `{"query":"te`, wantMsg: "unexpected end of body"},
		{name: "unknown field", body: `{"query":"test","unknown":"field"}`, wantMsg: "unknown field"},
		{name: "wrong type", body: `{"query":"test","top_k":"five"}`, wantMsg: `field "top_k" must be int`},
		{name: "two documents", body: `{"query":"a"} {"query":"b"}`, wantMsg: "unexpected data after JSON body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewBufferString(tt.body))

			var got query
			err := DecodeJSONBody(w, r, &got, zap.NewNop())
			if tt.wantMsg == "" {
				require.NoError(t, err)
				assert.Equal(t, query{Query: "top skills", Namespace: "reports", TopK: 5}, got)
				return
			}
			require.Error(t, err)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, decodeEnvelope(t, w).Error.Message, tt.wantMsg)
		})
	}
}

func TestDecodeJSONBody_EmptyBody(t *testing.T) {
	w := httptest.NewRecorder()
	var dst map[string]any
	err := DecodeJSONBody(w, httptest.NewRequest(http.MethodPost, "/v1/query", http.NoBody), &dst, nil)

	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "request body is empty")
}

func TestDecodeJSONBody_TooLarge(t *testing.T) {
	oversized := `{"query":"` + strings.Repeat("x", 2<<20) + `"}`
	w := httptest.NewRecorder()

	var dst struct {
		Query string `json:"query"`
	}
	err := DecodeJSONBody(w, httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(oversized)), &dst, nil)

	assert.Error(t, err)
	assert.Contains(t, w.Body.String(), "request body too large")
}

func TestResponseWriter_Captures(t *testing.T) {
	w := httptest.NewRecorder()
	rw := NewResponseWriter(w)
	assert.Equal(t, http.StatusOK, rw.StatusCode)
	assert.False(t, rw.Written)

	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusBadRequest)
	assert.Equal(t, http.StatusCreated, rw.StatusCode)
	assert.Equal(t, http.StatusCreated, w.Code)

	_, err := rw.Write([]byte("data: "))
	require.NoError(t, err)
	_, err = rw.Write([]byte("\"44%\"\n\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(13), rw.Bytes)

	rw.Flush()
	assert.True(t, w.Flushed)
	assert.Same(t, w, rw.Unwrap())
}

func TestResponseWriter_ImplicitOK(t *testing.T) {
	rw := NewResponseWriter(httptest.NewRecorder())
	_, _ = rw.Write([]byte("ok"))
	assert.True(t, rw.Written)
	assert.Equal(t, http.StatusOK, rw.StatusCode)
}
