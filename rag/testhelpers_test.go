package rag

import (
	"context"
	"sync"
	"time"

	"github.com/aagudeloRN/RAGPruebas/testutil/mocks"
)

// 各提示词中的特征子串，用于给 MockLanguageModel 编排响应
const (
	markCanonical = "canonical form"
	markExpansion = "alternative search queries"
	markCondense  = "standalone question that can be understood"
	markRouter    = "query router"
	markDecompose = "query decomposition"
	markAnalyst   = "ONLY the information in the context"
	markFinal     = "Several research steps"
	markHistory   = "ONLY the conversation below"
	markRefine    = "propose exactly 4 improved queries"
)

// fakeMetadataStore 内存版 MetadataStore，记录查询次数
type fakeMetadataStore struct {
	mu    sync.Mutex
	docs  map[string]DocumentMetadata
	err   error
	calls int
}

func newFakeMetadataStore(docs ...DocumentMetadata) *fakeMetadataStore {
	s := &fakeMetadataStore{docs: make(map[string]DocumentMetadata)}
	for _, d := range docs {
		s.docs[d.Namespace+"/"+d.ID] = d
	}
	return s
}

func (s *fakeMetadataStore) GetDocument(ctx context.Context, id, namespace string) (*DocumentMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	d, ok := s.docs[namespace+"/"+id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *fakeMetadataStore) SaveDocument(ctx context.Context, doc DocumentMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.docs[doc.Namespace+"/"+doc.ID] = doc
	return nil
}

func (s *fakeMetadataStore) DeleteDocument(ctx context.Context, id, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, namespace+"/"+id)
	return nil
}

// recordingMetrics 记录指标调用
type recordingMetrics struct {
	mu         sync.Mutex
	paths      []string
	stages     map[string]int
	candidates map[string][]int
	external   map[string]int
	hits       map[string]int
	misses     map[string]int
	evictions  int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		stages:     make(map[string]int),
		candidates: make(map[string][]int),
		external:   make(map[string]int),
		hits:       make(map[string]int),
		misses:     make(map[string]int),
	}
}

func (m *recordingMetrics) RecordQuery(path string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paths = append(m.paths, path)
}

func (m *recordingMetrics) RecordStage(stage string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages[stage]++
}

func (m *recordingMetrics) RecordCandidates(phase string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates[phase] = append(m.candidates[phase], n)
}

func (m *recordingMetrics) RecordExternalCall(service string, _ error, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.external[service]++
}

func (m *recordingMetrics) RecordCacheHit(cacheType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits[cacheType]++
}

func (m *recordingMetrics) RecordCacheMiss(cacheType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses[cacheType]++
}

func (m *recordingMetrics) RecordCacheEviction(_ string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictions += n
}

// seedPassages 用 MockEmbedder 的向量写入索引
func seedPassages(ctx context.Context, idx *InMemoryVectorIndex, emb *mocks.MockEmbedder, namespace string, passages ...Passage) error {
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}
	vecs, err := emb.EmbedDocuments(ctx, texts)
	if err != nil {
		return err
	}
	records := make([]VectorRecord, len(passages))
	for i, p := range passages {
		records[i] = VectorRecord{ID: p.ChunkID, Values: vecs[i], Metadata: PassageMetadata(p)}
	}
	return idx.Upsert(ctx, namespace, records)
}

func candidate(chunkID, docID, text string, score float64) RetrievalCandidate {
	return RetrievalCandidate{
		Passage: Passage{ChunkID: chunkID, DocumentID: docID, Text: text},
		Score:   score,
	}
}
