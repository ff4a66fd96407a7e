package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ExtractJSONObject strips a leading/trailing markdown code fence from
// raw, the common shape a chat model wraps JSON output in despite being
// told not to.
func ExtractJSONObject(raw string) string {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}

// AppendSchemaInstruction appends a JSON-response instruction describing
// responseSchema to systemPrompt. Providers without native structured-
// output modes (Anthropic, Gemini) use this to steer the model into
// emitting schema-conformant JSON before ValidateAndParse checks it.
func AppendSchemaInstruction(systemPrompt string, responseSchema map[string]any) string {
	if len(responseSchema) == 0 {
		return systemPrompt
	}
	schemaJSON, err := json.Marshal(responseSchema)
	if err != nil {
		return systemPrompt
	}
	instruction := "\n\nRespond with a single JSON object only, no surrounding text, conforming exactly to this JSON Schema:\n" + string(schemaJSON)
	return systemPrompt + instruction
}

// ValidateAndParse compiles responseSchema and validates raw (a JSON
// object the model returned) against it, grounded on the pack's
// jsonschema.NewCompiler/AddResource/Compile/Validate sequence
// (goa-ai/registry/service.go's validatePayloadJSONAgainstSchema). An
// empty schema skips validation, matching that function's "no schema to
// validate against" short-circuit.
func ValidateAndParse(raw string, responseSchema map[string]any) (map[string]any, error) {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("llm: response is not a JSON object: %w", err)
	}

	if len(responseSchema) == 0 {
		return parsed, nil
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("response.json", responseSchema); err != nil {
		return nil, fmt.Errorf("llm: add schema resource: %w", err)
	}
	schema, err := c.Compile("response.json")
	if err != nil {
		return nil, fmt.Errorf("llm: compile schema: %w", err)
	}
	if err := schema.Validate(parsed); err != nil {
		return nil, fmt.Errorf("llm: response failed schema validation: %w", err)
	}
	return parsed, nil
}
