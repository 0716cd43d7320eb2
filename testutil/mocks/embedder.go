package mocks

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
)

// DefaultMockDimensions MockEmbedder 默认维度
const DefaultMockDimensions = 64

// MockEmbedder 确定性 embedding：词袋哈希后归一化，
// 共享词越多的文本余弦相似度越高。可为指定文本固定向量。
type MockEmbedder struct {
	mu sync.Mutex

	dims    int
	model   string
	vectors map[string][]float32
	err     error

	queryCalls int
	docCalls   int
}

// NewMockEmbedder 创建模拟 embedding 服务
func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{
		dims:    DefaultMockDimensions,
		model:   "mock-embedding",
		vectors: make(map[string][]float32),
	}
}

// WithVector 为 text 固定返回 vec
func (m *MockEmbedder) WithVector(text string, vec []float32) *MockEmbedder {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors[text] = vec
	return m
}

// WithError 所有调用返回 err
func (m *MockEmbedder) WithError(err error) *MockEmbedder {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithModel 设置模型名
func (m *MockEmbedder) WithModel(model string) *MockEmbedder {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model = model
	return m
}

// QueryCalls EmbedQuery 调用次数
func (m *MockEmbedder) QueryCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queryCalls
}

// DocumentCalls EmbedDocuments 调用次数
func (m *MockEmbedder) DocumentCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docCalls
}

// EmbedQuery 返回 text 的向量
func (m *MockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCalls++
	if m.err != nil {
		return nil, m.err
	}
	return m.vector(text), nil
}

// EmbedDocuments 逐条返回向量
func (m *MockEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docCalls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.vector(t)
	}
	return out, nil
}

// Model 模型名
func (m *MockEmbedder) Model() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model
}

// Dimensions 向量维度
func (m *MockEmbedder) Dimensions() int { return m.dims }

func (m *MockEmbedder) vector(text string) []float32 {
	if v, ok := m.vectors[text]; ok {
		out := make([]float32, len(v))
		copy(out, v)
		return out
	}
	return HashVector(text, m.dims)
}

// HashVector 词袋哈希向量（L2 归一化）。空文本返回第 0 维为 1 的单位向量。
func HashVector(text string, dims int) []float32 {
	vec := make([]float32, dims)
	words := strings.Fields(strings.ToLower(text))
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?¿¡\"'()")
		if w == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%uint32(dims)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
