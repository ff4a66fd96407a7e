package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TracingEmitter converts node_start/node_end events into OpenTelemetry
// spans. Spans are kept in a per-thread map keyed by node name since
// node_start and node_end arrive as separate Emit calls rather than a
// single bracketed call.
type TracingEmitter struct {
	tracer trace.Tracer
	spans  map[string]map[string]trace.Span
}

// NewTracingEmitter builds a TracingEmitter using the named tracer from
// the global otel TracerProvider.
func NewTracingEmitter(tracerName string) *TracingEmitter {
	return &TracingEmitter{
		tracer: otel.Tracer(tracerName),
		spans:  make(map[string]map[string]trace.Span),
	}
}

func (t *TracingEmitter) Emit(e Event) {
	switch e.Type {
	case EventNodeStart:
		_, span := t.tracer.Start(context.Background(), e.Name,
			trace.WithAttributes(attribute.String("thread_id", e.ThreadID)))
		if t.spans[e.ThreadID] == nil {
			t.spans[e.ThreadID] = make(map[string]trace.Span)
		}
		t.spans[e.ThreadID][e.Name] = span
	case EventNodeEnd:
		if byName, ok := t.spans[e.ThreadID]; ok {
			if span, ok := byName[e.Name]; ok {
				span.End()
				delete(byName, e.Name)
			}
		}
	case EventError:
		if byName, ok := t.spans[e.ThreadID]; ok {
			for _, span := range byName {
				span.AddEvent("error", trace.WithAttributes(attribute.String("message", e.Content)))
			}
		}
	}
}
