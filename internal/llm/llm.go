// Package llm abstracts structured calls to a backing language model,
// generalized from the teacher's graph/model.ChatModel (Chat(messages,
// tools) -> ChatOut) into the spec's narrower contract: a system prompt, a
// user prompt, a JSON response schema, and call parameters, returning a
// schema-validated object. Every caller must keep working with Client set
// to nil or returning ErrUnavailable, falling back to deterministic
// rule-based logic — grounded on the original's repeated
// "if settings.openai_api_key: ... else: logger.warning(...)" pattern.
package llm

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned by a Client when no backing model is
// configured or reachable; callers must treat this as a signal to fall
// back, not as a fatal error.
var ErrUnavailable = errors.New("llm: no client available")

// Params carries per-call generation parameters.
type Params struct {
	Temperature float64
	MaxTokens   int
	Model       string
	Timeout     time.Duration
}

// Usage reports token accounting for a single call, fed into the cost
// tracker the same way graph/cost.go accumulates Usage across node calls.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Result is the outcome of a structured Call.
type Result struct {
	// Parsed holds the JSON-decoded, schema-validated response object.
	Parsed map[string]any
	Raw    string
	Usage  Usage
	Model  string
}

// Client performs a single structured call against a backing model and
// validates the response against responseSchema (a JSON Schema document,
// draft 2020-12, validated with santhosh-tekuri/jsonschema).
type Client interface {
	Call(ctx context.Context, systemPrompt, userPrompt string, responseSchema map[string]any, params Params) (Result, error)
	// Name identifies the provider, used in metrics labels and logs.
	Name() string
}

// CostPerMillion describes a model's list price, used by the Tracker to
// convert Usage into an estimated dollar cost, grounded on graph/cost.go's
// per-model pricing table.
type CostPerMillion struct {
	Prompt     float64
	Completion float64
}

// Tracker accumulates Usage and estimated cost across a run, adapted from
// graph/cost.go's CostTracker but keyed by worker/step name instead of
// node ID, since here the caller is always a worker or the
// analyzer/evaluator/synthesizer node rather than an arbitrary graph node.
type Tracker struct {
	pricing map[string]CostPerMillion
	entries []Entry
}

// Entry is one recorded call's cost.
type Entry struct {
	Step         string
	Model        string
	Usage        Usage
	EstimatedUSD float64
}

// NewTracker creates a Tracker seeded with a pricing table; callers may
// pass nil and rely on Record returning a zero EstimatedUSD for unknown
// models.
func NewTracker(pricing map[string]CostPerMillion) *Tracker {
	if pricing == nil {
		pricing = make(map[string]CostPerMillion)
	}
	return &Tracker{pricing: pricing}
}

// Record appends a cost entry for step/model and returns the estimated
// dollar cost of this call.
func (t *Tracker) Record(step, model string, usage Usage) float64 {
	price := t.pricing[model]
	cost := float64(usage.PromptTokens)/1_000_000*price.Prompt +
		float64(usage.CompletionTokens)/1_000_000*price.Completion
	t.entries = append(t.entries, Entry{Step: step, Model: model, Usage: usage, EstimatedUSD: cost})
	return cost
}

// Total returns the accumulated estimated dollar cost across all recorded
// calls.
func (t *Tracker) Total() float64 {
	var sum float64
	for _, e := range t.entries {
		sum += e.EstimatedUSD
	}
	return sum
}

// Entries returns a copy of the recorded cost entries.
func (t *Tracker) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}
