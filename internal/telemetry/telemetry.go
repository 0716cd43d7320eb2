package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"github.com/aagudeloRN/RAGPruebas/config"
)

// Providers 遥测关闭时两个 provider 均为 nil，Shutdown 为空操作
type Providers struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Init 注册 W3C 传播器；启用时再以 OTLP gRPC 导出 trace 与 metric 并设为全局 provider。
// version 作为 service.version 上报。
func Init(cfg config.TelemetryConfig, version string, logger *zap.Logger) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	// 关闭时也注册，上游的 traceparent 照常透传
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	if !cfg.Enabled {
		logger.Info("otel export disabled")
		return &Providers{}, nil
	}

	ctx := context.Background()
	spanExp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp trace exporter: %w", err)
	}
	metricExp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		_ = spanExp.Shutdown(ctx)
		return nil, fmt.Errorf("otlp metric exporter: %w", err)
	}

	p, err := newProviders(ctx, cfg, version, sdktrace.WithBatcher(spanExp), sdkmetric.NewPeriodicReader(metricExp))
	if err != nil {
		_ = spanExp.Shutdown(ctx)
		_ = metricExp.Shutdown(ctx)
		return nil, err
	}
	otel.SetTracerProvider(p.tp)
	otel.SetMeterProvider(p.mp)

	logger.Info("otel export enabled",
		zap.String("otlp_endpoint", cfg.OTLPEndpoint),
		zap.String("service", cfg.ServiceName),
		zap.Float64("trace_ratio", cfg.SampleRate),
	)
	return p, nil
}

// newProviders 用给定的 span processor 与 metric reader 组装 SDK provider，不修改全局状态
func newProviders(ctx context.Context, cfg config.TelemetryConfig, version string,
	spans sdktrace.TracerProviderOption, reader sdkmetric.Reader) (*Providers, error) {
	if version == "" {
		version = "dev"
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}
	return &Providers{
		tp: sdktrace.NewTracerProvider(spans, sdktrace.WithResource(res), sdktrace.WithSampler(sampler(cfg.SampleRate))),
		mp: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res)),
	}, nil
}

// sampler 跟随上游采样决策；根 span 按 rate 采样，rate 超出 [0,1] 时取边界
func sampler(rate float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case rate >= 1:
		root = sdktrace.AlwaysSample()
	case rate <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}

// Enabled 是否接入了 SDK
func (p *Providers) Enabled() bool {
	return p != nil && p.mp != nil
}

// Instruments 在 SDK MeterProvider 上创建引擎指标；遥测关闭时返回 nil, nil
func (p *Providers) Instruments() (*Instruments, error) {
	if !p.Enabled() {
		return nil, nil
	}
	return NewInstruments(p.mp.Meter(MeterName))
}

// Shutdown 刷新未导出的 span 与指标
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return errors.Join(
		wrap("trace provider", p.tp.Shutdown(ctx)),
		wrap("meter provider", p.mp.Shutdown(ctx)),
	)
}

func wrap(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s shutdown: %w", what, err)
}
