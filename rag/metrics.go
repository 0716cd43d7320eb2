package rag

import "time"

// MetricsRecorder 引擎上报的指标。internal/metrics.Collector 满足该接口。
type MetricsRecorder interface {
	RecordQuery(path string, duration time.Duration)
	RecordStage(stage string, duration time.Duration)
	RecordCandidates(phase string, n int)
	RecordExternalCall(service string, err error, duration time.Duration)
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
	RecordCacheEviction(namespace string, n int)
}

// NopMetrics 丢弃所有指标
type NopMetrics struct{}

func (NopMetrics) RecordQuery(string, time.Duration)              {}
func (NopMetrics) RecordStage(string, time.Duration)              {}
func (NopMetrics) RecordCandidates(string, int)                   {}
func (NopMetrics) RecordExternalCall(string, error, time.Duration) {}
func (NopMetrics) RecordCacheHit(string)                          {}
func (NopMetrics) RecordCacheMiss(string)                         {}
func (NopMetrics) RecordCacheEviction(string, int)                {}

// 查询终止路径
const (
	PathCacheHit      = "cache_hit"
	PathHistory       = "history"
	PathKnowledgeBase = "knowledge_base"
	PathNotFound      = "not_found"
	PathError         = "error"
)

// TeeMetrics 把指标同时写入多个后端，nil 项被忽略
func TeeMetrics(recorders ...MetricsRecorder) MetricsRecorder {
	out := make(teeMetrics, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	switch len(out) {
	case 0:
		return NopMetrics{}
	case 1:
		return out[0]
	}
	return out
}

type teeMetrics []MetricsRecorder

func (t teeMetrics) RecordQuery(path string, d time.Duration) {
	for _, r := range t {
		r.RecordQuery(path, d)
	}
}

func (t teeMetrics) RecordStage(stage string, d time.Duration) {
	for _, r := range t {
		r.RecordStage(stage, d)
	}
}

func (t teeMetrics) RecordCandidates(phase string, n int) {
	for _, r := range t {
		r.RecordCandidates(phase, n)
	}
}

func (t teeMetrics) RecordExternalCall(service string, err error, d time.Duration) {
	for _, r := range t {
		r.RecordExternalCall(service, err, d)
	}
}

func (t teeMetrics) RecordCacheHit(cacheType string) {
	for _, r := range t {
		r.RecordCacheHit(cacheType)
	}
}

func (t teeMetrics) RecordCacheMiss(cacheType string) {
	for _, r := range t {
		r.RecordCacheMiss(cacheType)
	}
}

func (t teeMetrics) RecordCacheEviction(namespace string, n int) {
	for _, r := range t {
		r.RecordCacheEviction(namespace, n)
	}
}
