// Package observability emits the event stream consumed by StreamEvents, a
// fixed tagged union of six event types rather than a free-form
// metadata-keyed event.
package observability

import (
	"log/slog"
	"time"
)

// EventType is the tagged-union discriminator for StreamEvents items.
type EventType string

const (
	EventNodeStart EventType = "node_start"
	EventNodeEnd   EventType = "node_end"
	EventToken     EventType = "token"
	EventToolStart EventType = "tool_start"
	EventToolEnd   EventType = "tool_end"
	EventError     EventType = "error"
)

// Event is one item in a run's StreamEvents sequence.
type Event struct {
	Type      EventType      `json:"type"`
	ThreadID  string         `json:"thread_id"`
	Name      string         `json:"name,omitempty"`
	Content   string         `json:"content,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Emitter receives observability events during a run. Implementations
// must not block the run loop and must not panic, mirroring the
// teacher's emit.Emitter contract.
type Emitter interface {
	Emit(e Event)
}

// LogEmitter writes events as structured log lines via slog, the
// ambient-stack default when no streaming transport or tracer is
// configured.
type LogEmitter struct {
	Logger *slog.Logger
}

// NewLogEmitter builds a LogEmitter writing to logger, or slog.Default()
// if logger is nil.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{Logger: logger}
}

func (l *LogEmitter) Emit(e Event) {
	l.Logger.Info("event",
		"type", e.Type,
		"thread_id", e.ThreadID,
		"name", e.Name,
		"content", e.Content,
	)
}

// MultiEmitter fans an event out to every configured Emitter.
type MultiEmitter struct {
	Emitters []Emitter
}

func (m *MultiEmitter) Emit(e Event) {
	for _, em := range m.Emitters {
		em.Emit(e)
	}
}

// ChannelEmitter buffers events onto a channel for StreamEvents consumers.
// Non-blocking: if the channel is full, the event is dropped rather than
// stalling the run.
type ChannelEmitter struct {
	Ch chan Event
}

// NewChannelEmitter creates a ChannelEmitter with the given buffer size.
func NewChannelEmitter(buffer int) *ChannelEmitter {
	return &ChannelEmitter{Ch: make(chan Event, buffer)}
}

func (c *ChannelEmitter) Emit(e Event) {
	select {
	case c.Ch <- e:
	default:
	}
}

func (c *ChannelEmitter) Close() { close(c.Ch) }
