package tracing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace/noop"
)

func resetGlobalProvider(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })
}

func TestSetup_FileExporterWritesSpans(t *testing.T) {
	resetGlobalProvider(t)
	path := filepath.Join(t.TempDir(), "nested", "traces.jsonl")

	p, err := Setup(context.Background(), Config{
		ServiceName:    "codexmcp-test",
		ServiceVersion: "0.0.1",
		Exporter:       ExporterFile,
		File:           path,
	})
	require.NoError(t, err)

	ctx, span := StartSpan(context.Background(), "codex.dispatch", attribute.String("session_id", "s-1"))
	traceID := GetTraceID(ctx)
	require.NotEmpty(t, traceID)
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "codex.dispatch")
	assert.Contains(t, string(data), traceID)
	assert.Contains(t, string(data), "codexmcp-test")
}

func TestSetup_FileExporterRequiresPath(t *testing.T) {
	resetGlobalProvider(t)
	_, err := Setup(context.Background(), Config{ServiceName: "x", Exporter: ExporterFile})
	assert.Error(t, err)
}

func TestSetup_UnknownExporter(t *testing.T) {
	resetGlobalProvider(t)
	_, err := Setup(context.Background(), Config{ServiceName: "x", Exporter: "zipkin"})
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "zipkin")
	}
}

func TestProviderShutdown_Nil(t *testing.T) {
	var p *Provider
	assert.NoError(t, p.Shutdown(context.Background()))
}
