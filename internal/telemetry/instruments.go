package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName 问答引擎指标的 instrumentation scope
const MeterName = "ragserver/rag"

// Instruments 通过 OTLP 导出问答引擎指标，方法集与 Prometheus Collector 一致，
// 可与之并行挂到引擎上。
type Instruments struct {
	queryDuration metric.Float64Histogram
	stageDuration metric.Float64Histogram
	candidates    metric.Int64Histogram
	externalCalls metric.Int64Counter
	externalDur   metric.Float64Histogram
	cacheLookups  metric.Int64Counter
	evictions     metric.Int64Counter
}

// NewInstruments 在 meter 上注册全部 instrument
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	var (
		in   Instruments
		err  error
		errs []error
	)

	in.queryDuration, err = meter.Float64Histogram("rag.query.duration",
		metric.WithDescription("End-to-end answer latency by terminal path"),
		metric.WithUnit("s"))
	errs = append(errs, err)

	in.stageDuration, err = meter.Float64Histogram("rag.stage.duration",
		metric.WithDescription("Latency of each orchestrator state"),
		metric.WithUnit("s"))
	errs = append(errs, err)

	in.candidates, err = meter.Int64Histogram("rag.candidates",
		metric.WithDescription("Passages surviving each retrieval phase"))
	errs = append(errs, err)

	in.externalCalls, err = meter.Int64Counter("rag.external.calls",
		metric.WithDescription("Calls to embedding, vector index, rerank and language model services"))
	errs = append(errs, err)

	in.externalDur, err = meter.Float64Histogram("rag.external.duration",
		metric.WithDescription("External service call latency"),
		metric.WithUnit("s"))
	errs = append(errs, err)

	in.cacheLookups, err = meter.Int64Counter("rag.cache.lookups",
		metric.WithDescription("Semantic cache and embedding memo lookups by outcome"))
	errs = append(errs, err)

	in.evictions, err = meter.Int64Counter("rag.cache.evictions",
		metric.WithDescription("Semantic cache entries evicted"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &in, nil
}

func attrs(kv ...attribute.KeyValue) metric.MeasurementOption {
	return metric.WithAttributes(kv...)
}

// RecordQuery 记录一次回答的总耗时
func (in *Instruments) RecordQuery(path string, d time.Duration) {
	in.queryDuration.Record(context.Background(), d.Seconds(), attrs(attribute.String("path", path)))
}

// RecordStage 记录单个状态的耗时
func (in *Instruments) RecordStage(stage string, d time.Duration) {
	in.stageDuration.Record(context.Background(), d.Seconds(), attrs(attribute.String("stage", stage)))
}

// RecordCandidates 记录检索或重排后的候选数量
func (in *Instruments) RecordCandidates(phase string, n int) {
	in.candidates.Record(context.Background(), int64(n), attrs(attribute.String("phase", phase)))
}

// RecordExternalCall 记录外部服务调用
func (in *Instruments) RecordExternalCall(service string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	opt := attrs(attribute.String("service", service), attribute.String("status", status))
	in.externalCalls.Add(context.Background(), 1, opt)
	in.externalDur.Record(context.Background(), d.Seconds(), opt)
}

// RecordCacheHit 缓存命中
func (in *Instruments) RecordCacheHit(cacheType string) {
	in.cacheLookups.Add(context.Background(), 1,
		attrs(attribute.String("cache", cacheType), attribute.String("result", "hit")))
}

// RecordCacheMiss 缓存未命中
func (in *Instruments) RecordCacheMiss(cacheType string) {
	in.cacheLookups.Add(context.Background(), 1,
		attrs(attribute.String("cache", cacheType), attribute.String("result", "miss")))
}

// RecordCacheEviction 记录淘汰条目数
func (in *Instruments) RecordCacheEviction(namespace string, n int) {
	if n <= 0 {
		return
	}
	in.evictions.Add(context.Background(), int64(n), attrs(attribute.String("namespace", namespace)))
}
