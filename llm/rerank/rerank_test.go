package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aagudeloRN/RAGPruebas/config"
	"github.com/aagudeloRN/RAGPruebas/types"
)

func newCohere(t *testing.T, handler http.HandlerFunc) *CohereProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewCohereProvider(CohereConfig{APIKey: "co", BaseURL: srv.URL}).WithHTTPClient(srv.Client())
}

func TestCohereConfigFrom(t *testing.T) {
	c := CohereConfigFrom(config.RerankConfig{APIKey: "k", Model: "rerank-english-v3.0"})
	assert.Equal(t, "k", c.APIKey)
	assert.Equal(t, "rerank-english-v3.0", c.Model)
	assert.Equal(t, "https://api.cohere.com", c.BaseURL)
	assert.Equal(t, 4096, c.MaxTokensPerDoc)
}

func TestCohereProvider_Rerank(t *testing.T) {
	var got cohereRequest
	p := newCohere(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/rerank", r.URL.Path)
		assert.Equal(t, "Bearer co", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		// 故意乱序返回
		fmt.Fprint(w, `{"id":"r1","results":[
			{"index":0,"relevance_score":0.12},
			{"index":2,"relevance_score":0.55},
			{"index":1,"relevance_score":0.91}],
			"meta":{"billed_units":{"search_units":1}}}`)
	})

	resp, err := p.Rerank(context.Background(), &RerankRequest{
		Query:     "risk X trend",
		Documents: []string{"unrelated", "Global risk X is rising", "risk Y"},
		TopN:      10,
	})
	require.NoError(t, err)

	assert.Equal(t, "rerank-v3.5", got.Model)
	assert.Equal(t, 3, got.TopN, "top_n is clamped to the number of documents")
	assert.Equal(t, 4096, got.MaxTokensPerDoc)
	assert.Equal(t, "risk X trend", got.Query)

	assert.Equal(t, "r1", resp.ID)
	assert.Equal(t, 1, resp.Usage.SearchUnits)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, []int{1, 2, 0}, []int{resp.Results[0].Index, resp.Results[1].Index, resp.Results[2].Index})
	assert.InDelta(t, 0.91, resp.Results[0].RelevanceScore, 1e-9)
}

func TestCohereProvider_EmptyDocumentsSkipsRequest(t *testing.T) {
	var calls atomic.Int32
	p := newCohere(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })

	resp, err := p.Rerank(context.Background(), &RerankRequest{Query: "q"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Zero(t, calls.Load())
}

func TestCohereProvider_TooManyDocuments(t *testing.T) {
	p := NewCohereProvider(CohereConfig{})
	_, err := p.Rerank(context.Background(), &RerankRequest{Query: "q", Documents: make([]string, 1001)})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestCohereProvider_BadIndices(t *testing.T) {
	for name, body := range map[string]string{
		"out of range": `{"results":[{"index":5,"relevance_score":0.9}]}`,
		"duplicate":    `{"results":[{"index":0,"relevance_score":0.9},{"index":0,"relevance_score":0.8}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			p := newCohere(t, func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, body) })
			_, err := p.RerankSimple(context.Background(), "q", []string{"a", "b"}, 2)
			assert.True(t, types.IsErrorCode(err, types.ErrUpstreamError))
		})
	}
}

func TestCohereProvider_HTTPError(t *testing.T) {
	p := newCohere(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
	})
	_, err := p.RerankSimple(context.Background(), "q", []string{"a"}, 1)
	assert.True(t, types.IsErrorCode(err, types.ErrUpstreamTimeout))
	assert.True(t, types.IsRetryable(err))

	e, _ := types.AsError(err)
	assert.Equal(t, "rerank", e.Service)
}
