package tracing

import (
	"context"
	"fmt"
	"io"

	"github.com/antiprophet/studio/internal/config"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/uber/jaeger-client-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// InitTracer initializes the Jaeger tracer. When tracing is disabled the
// global no-op tracer stays in place and a no-op closer is returned.
func InitTracer(cfg config.TracingConfig) (io.Closer, error) {
	if !cfg.Enabled {
		return nopCloser{}, nil
	}

	tcfg := &jaegercfg.Configuration{
		ServiceName: cfg.ServiceName,
		Sampler: &jaegercfg.SamplerConfig{
			Type:  jaeger.SamplerTypeConst,
			Param: 1,
		},
		Reporter: &jaegercfg.ReporterConfig{
			LogSpans:          false,
			CollectorEndpoint: cfg.Endpoint,
		},
	}

	tracer, closer, err := tcfg.NewTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	opentracing.SetGlobalTracer(tracer)
	return closer, nil
}

// StartSpan starts a new span with the given operation name
func StartSpan(ctx context.Context, operationName string) (opentracing.Span, context.Context) {
	span, ctx := opentracing.StartSpanFromContext(ctx, operationName)
	return span, ctx
}

// StartClientSpan starts a span for an outgoing HTTP call
func StartClientSpan(ctx context.Context, operationName, method, url string) (opentracing.Span, context.Context) {
	span, ctx := opentracing.StartSpanFromContext(ctx, operationName)
	ext.SpanKindRPCClient.Set(span)
	ext.HTTPMethod.Set(span, method)
	ext.HTTPUrl.Set(span, url)
	return span, ctx
}

// FinishSpan finishes a span
func FinishSpan(span opentracing.Span) {
	if span != nil {
		span.Finish()
	}
}

// LogError logs an error to the span
func LogError(span opentracing.Span, err error) {
	if span != nil && err != nil {
		ext.Error.Set(span, true)
		span.LogKV("error", err.Error())
	}
}

// SetTag sets a tag on the span
func SetTag(span opentracing.Span, key string, value interface{}) {
	if span != nil {
		span.SetTag(key, value)
	}
}
