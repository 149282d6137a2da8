package tracing

import (
    "context"
    "io"
    "os"
    "sync/atomic"

    "go.opentelemetry.io/otel"
    "go.opentelemetry.io/otel/attribute"
    "go.opentelemetry.io/otel/codes"
    "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
    sdktrace "go.opentelemetry.io/otel/sdk/trace"
    "go.opentelemetry.io/otel/trace"
)

var enabled atomic.Bool

// Options configures the stdout exporter.
type Options struct {
    Enable bool
    // Writer receives exported spans; defaults to stdout.
    Writer io.Writer
    Pretty bool
}

// Setup installs a global tracer provider when opts.Enable is set. The
// returned shutdown flushes pending spans and should be deferred.
func Setup(opts Options) (func(context.Context) error, error) {
    enabled.Store(opts.Enable)
    if !opts.Enable {
        return func(context.Context) error { return nil }, nil
    }
    w := opts.Writer
    if w == nil { w = os.Stdout }
    exOpts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
    if opts.Pretty { exOpts = append(exOpts, stdouttrace.WithPrettyPrint()) }
    exp, err := stdouttrace.New(exOpts...)
    if err != nil {
        enabled.Store(false)
        return nil, err
    }
    tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
    otel.SetTracerProvider(tp)
    return tp.Shutdown, nil
}

// StartSpan starts a span when tracing is enabled. The returned func ends it.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func()) {
    if !enabled.Load() {
        return ctx, func() {}
    }
    ctx, span := otel.Tracer("go-coord").Start(ctx, name, trace.WithAttributes(attrs...))
    return ctx, func() { span.End() }
}

// RecordError marks the span in ctx as failed.
func RecordError(ctx context.Context, err error) {
    if err == nil || !enabled.Load() { return }
    span := trace.SpanFromContext(ctx)
    span.RecordError(err)
    span.SetStatus(codes.Error, err.Error())
}
