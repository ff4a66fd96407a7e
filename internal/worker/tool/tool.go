// Package tool defines a callable sub-capability workers can invoke, the
// same role graph/tool.Tool plays for graph nodes: a named, schema-free
// function over a map-shaped argument and result, suitable for exposing to
// an LLM's function-calling interface as well as calling directly.
package tool

import "context"

// Tool is a single named capability (price lookup, loan calculation,
// regulation search, ...) that a worker can call either directly or
// through an LLMClient's tool-use loop.
type Tool interface {
	Name() string
	Description() string
	Call(ctx context.Context, input map[string]any) (map[string]any, error)
}

// Func adapts a plain function into a Tool.
type Func struct {
	NameV        string
	DescriptionV string
	Fn           func(ctx context.Context, input map[string]any) (map[string]any, error)
}

func (f Func) Name() string        { return f.NameV }
func (f Func) Description() string { return f.DescriptionV }
func (f Func) Call(ctx context.Context, input map[string]any) (map[string]any, error) {
	return f.Fn(ctx, input)
}
