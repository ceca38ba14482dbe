package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTracerExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracer("ide-worker-test", &buf)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "manager.GetWorker")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	require.Contains(t, buf.String(), "manager.GetWorker")
	require.Contains(t, buf.String(), "ide-worker-test")
}

func TestInitTracerWithoutWriter(t *testing.T) {
	shutdown, err := InitTracer("ide-worker-test", nil)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
