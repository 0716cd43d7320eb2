package tlsutil

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "github.com/aagudeloRN/RAGPruebas/internal/tlsutil"
	userAgent  = "ragserver"
)

// SecureHTTPClient 加固 TLS 的客户端，每次请求一个以 service 命名的 client span
func SecureHTTPClient(service string, timeout time.Duration) *http.Client {
	return WrapClient(service, &http.Client{Timeout: timeout, Transport: SecureTransport()})
}

// WrapClient 给已有客户端加追踪，已包装过的原样返回。测试中包装 httptest 的客户端。
func WrapClient(service string, client *http.Client) *http.Client {
	if client == nil {
		client = &http.Client{}
	}
	if _, ok := client.Transport.(*tracedTransport); ok {
		return client
	}
	next := client.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	c := *client
	c.Transport = &tracedTransport{service: service, next: next}
	return &c
}

// tracedTransport 在请求头注入 traceparent；span 只记录路径，不记录查询串
type tracedTransport struct {
	service string
	next    http.RoundTripper
}

func (t *tracedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, span := otel.Tracer(tracerName).Start(req.Context(), t.service+" "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("peer.service", t.service),
			attribute.String("http.request.method", req.Method),
			attribute.String("server.address", req.URL.Hostname()),
			attribute.String("url.path", req.URL.Path),
		),
	)
	defer span.End()

	out := req.Clone(ctx)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(out.Header))
	if out.Header.Get("User-Agent") == "" {
		out.Header.Set("User-Agent", userAgent)
	}

	resp, err := t.next.RoundTrip(out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, resp.Status)
	}
	return resp, nil
}
