package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func logOneRecord(t *testing.T, ctx context.Context) map[string]any {
	t.Helper()

	var buf bytes.Buffer

	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil)))
	logger.InfoContext(ctx, "test message", "key", "value")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	return entry
}

func TestTraceHandlerWithoutSpan(t *testing.T) {
	entry := logOneRecord(t, context.Background())

	assert.Equal(t, "test message", entry["msg"])
	assert.Equal(t, "value", entry["key"])
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
}

func TestTraceHandlerWithSpan(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("0123456789abcdef")
	require.NoError(t, err)

	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	})

	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	entry := logOneRecord(t, ctx)

	assert.Equal(t, traceID.String(), entry["trace_id"])
	assert.Equal(t, spanID.String(), entry["span_id"])
}

func TestTraceHandlerNilInner(t *testing.T) {
	assert.Panics(t, func() { NewTraceHandler(nil) })
}

func TestTraceHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer

	base := NewTraceHandler(slog.NewJSONHandler(&buf, nil))
	logger := slog.New(base.WithAttrs([]slog.Attr{slog.String("service", "fetchd")}).WithGroup("req"))
	logger.Info("hit", "path", "/downloads")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "fetchd", entry["service"])

	group, ok := entry["req"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/downloads", group["path"])
}

func TestLoggerFromContextFallsBackToDefault(t *testing.T) {
	assert.Same(t, slog.Default(), LoggerFromContext(context.Background()))

	custom := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	ctx := WithLogger(context.Background(), custom)
	assert.Same(t, custom, LoggerFromContext(ctx))
}
