// Package telemetry 初始化 OpenTelemetry：OTLP gRPC 导出的 trace 与 metric，
// 以及问答引擎的 OTel 指标 [Instruments]。
//
// 编排器的每个状态（cache_check, route, plan, retrieve, rerank, synthesize,
// cache_write）各开一个 span；引擎指标与 Prometheus 的 /metrics 并存。
// 遥测关闭时只注册传播器，全局 provider 保持 noop，不连接任何外部服务。
package telemetry
