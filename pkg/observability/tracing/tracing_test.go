package tracing

import (
    "bytes"
    "context"
    "errors"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "go.opentelemetry.io/otel/attribute"
)

func TestDisabledIsNoop(t *testing.T) {
    shutdown, err := Setup(Options{})
    require.NoError(t, err)
    ctx, end := StartSpan(context.Background(), "noop")
    RecordError(ctx, errors.New("ignored"))
    end()
    assert.NoError(t, shutdown(context.Background()))
}

func TestSpansAreExported(t *testing.T) {
    var buf bytes.Buffer
    shutdown, err := Setup(Options{Enable: true, Writer: &buf})
    require.NoError(t, err)
    defer Setup(Options{})

    ctx, end := StartSpan(context.Background(), "node.create", attribute.String("path", "/svc/a"))
    RecordError(ctx, errors.New("no parent"))
    end()
    require.NoError(t, shutdown(context.Background()))

    out := buf.String()
    assert.Contains(t, out, "node.create")
    assert.Contains(t, out, "/svc/a")
    assert.Contains(t, out, "no parent")
}
