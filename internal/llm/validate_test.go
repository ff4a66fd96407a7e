package llm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/qa-orchestrator/internal/llm"
)

func TestExtractJSONObjectStripsFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, llm.ExtractJSONObject("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, llm.ExtractJSONObject("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, llm.ExtractJSONObject(`{"a":1}`))
}

func TestAppendSchemaInstructionNoopOnEmptySchema(t *testing.T) {
	prompt := "base prompt"
	assert.Equal(t, prompt, llm.AppendSchemaInstruction(prompt, nil))
}

func TestAppendSchemaInstructionAppendsJSON(t *testing.T) {
	schema := map[string]any{"type": "object"}
	out := llm.AppendSchemaInstruction("base", schema)
	assert.Contains(t, out, "base")
	assert.Contains(t, out, `"type"`)
}

func TestValidateAndParseSkipsValidationOnEmptySchema(t *testing.T) {
	parsed, err := llm.ValidateAndParse(`{"kind":"search"}`, nil)
	require.NoError(t, err)
	assert.Equal(t, "search", parsed["kind"])
}

func TestValidateAndParseRejectsMalformedJSON(t *testing.T) {
	_, err := llm.ValidateAndParse("not json", nil)
	assert.Error(t, err)
}

func TestValidateAndParseEnforcesSchema(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"kind": map[string]any{"type": "string"}},
		"required":   []string{"kind"},
	}

	_, err := llm.ValidateAndParse(`{"confidence":0.5}`, schema)
	assert.Error(t, err)

	parsed, err := llm.ValidateAndParse(`{"kind":"search","confidence":0.9}`, schema)
	require.NoError(t, err)
	assert.Equal(t, "search", parsed["kind"])
}
