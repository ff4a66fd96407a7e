package observability_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/dshills/qa-orchestrator/internal/observability"
)

func TestTracingEmitterCreatesAndEndsSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	emitter := observability.NewTracingEmitter("test")
	emitter.Emit(observability.Event{Type: observability.EventNodeStart, ThreadID: "t1", Name: "analyze"})
	emitter.Emit(observability.Event{Type: observability.EventNodeEnd, ThreadID: "t1", Name: "analyze"})

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "analyze", spans[0].Name)
	assert.True(t, spans[0].EndTime.After(spans[0].StartTime))
}

func TestTracingEmitterAttachesErrorEventToOpenSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	emitter := observability.NewTracingEmitter("test")
	emitter.Emit(observability.Event{Type: observability.EventNodeStart, ThreadID: "t1", Name: "schedule"})
	emitter.Emit(observability.Event{Type: observability.EventError, ThreadID: "t1", Content: "worker timed out"})
	emitter.Emit(observability.Event{Type: observability.EventNodeEnd, ThreadID: "t1", Name: "schedule"})

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.NotEmpty(t, spans[0].Events)
	assert.Equal(t, "error", spans[0].Events[0].Name)
}

func TestTracingEmitterIgnoresEndForUnknownSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	emitter := observability.NewTracingEmitter("test")
	assert.NotPanics(t, func() {
		emitter.Emit(observability.Event{Type: observability.EventNodeEnd, ThreadID: "t1", Name: "ghost"})
	})
	assert.Empty(t, exporter.GetSpans())
}
