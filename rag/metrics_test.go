package rag

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTeeMetrics(t *testing.T) {
	a, b := newRecordingMetrics(), newRecordingMetrics()
	m := TeeMetrics(a, nil, b)

	m.RecordQuery(PathKnowledgeBase, time.Second)
	m.RecordStage("retrieve", time.Millisecond)
	m.RecordCandidates("retrieved", 20)
	m.RecordExternalCall("llm", errors.New("boom"), time.Millisecond)
	m.RecordCacheHit("semantic")
	m.RecordCacheMiss("embedding")
	m.RecordCacheEviction("reports", 2)

	for _, r := range []*recordingMetrics{a, b} {
		assert.Equal(t, []string{PathKnowledgeBase}, r.paths)
		assert.Equal(t, 1, r.stages["retrieve"])
		assert.Equal(t, []int{20}, r.candidates["retrieved"])
		assert.Equal(t, 1, r.external["llm"])
		assert.Equal(t, 1, r.hits["semantic"])
		assert.Equal(t, 1, r.misses["embedding"])
		assert.Equal(t, 2, r.evictions)
	}
}

func TestTeeMetrics_Collapses(t *testing.T) {
	assert.Equal(t, NopMetrics{}, TeeMetrics())
	assert.Equal(t, NopMetrics{}, TeeMetrics(nil, nil))

	only := newRecordingMetrics()
	assert.Same(t, only, TeeMetrics(nil, only))
}
