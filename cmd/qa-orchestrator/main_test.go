package main

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/qa-orchestrator/internal/config"
	"github.com/dshills/qa-orchestrator/internal/domain"
	"github.com/dshills/qa-orchestrator/internal/llm"
	"github.com/dshills/qa-orchestrator/internal/statestore/memory"
)

func TestBuildRegistryRegistersAllFourWorkers(t *testing.T) {
	reg := buildRegistry()
	assert.Equal(t, []string{"finance", "legal", "location", "price_search"}, reg.Names())
}

func TestBuildStoreDefaultsToMemory(t *testing.T) {
	store, err := buildStore(config.StateStoreConfig{})
	require.NoError(t, err)
	_, ok := store.(*memory.Store)
	assert.True(t, ok)
}

func TestBuildStoreSQLiteInMemory(t *testing.T) {
	store, err := buildStore(config.StateStoreConfig{Backend: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	assert.NotNil(t, store)
}

func TestModelForReturnsConfiguredModel(t *testing.T) {
	cfg := config.LLMConfig{ModelPerPurpose: map[string]string{"anthropic": "claude-sonnet-4-5"}}
	assert.Equal(t, "claude-sonnet-4-5", modelFor(cfg, "anthropic"))
	assert.Equal(t, "", modelFor(cfg, "openai"))
}

func TestModelForNilMapReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", modelFor(config.LLMConfig{}, "anthropic"))
}

func TestBuildLLMClientUnknownProviderFallsBackToUnavailableAnthropic(t *testing.T) {
	c := buildLLMClient(config.LLMConfig{Provider: "unknown"})
	assert.Equal(t, "anthropic", c.Name())

	_, err := c.Call(context.Background(), "", "", nil, llm.Params{})
	assert.ErrorIs(t, err, llm.ErrUnavailable)
}

func TestBuildLLMClientAnthropicWithoutEnvKeyIsUnavailable(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	c := buildLLMClient(config.LLMConfig{Provider: "anthropic"})
	assert.Equal(t, "anthropic", c.Name())

	_, err := c.Call(context.Background(), "", "", nil, llm.Params{})
	assert.ErrorIs(t, err, llm.ErrUnavailable)
}

func TestPrintResultPlainTextIncludesAnswerAndSources(t *testing.T) {
	state := domain.RunState{
		FinalAnswer: "강남구 평균 시세는 12억원입니다",
		Sources: []domain.Source{
			{Title: "price_search", URL: "https://example.com"},
			{Title: "legal"},
		},
	}

	out := captureStdout(t, func() { printResult(state, false) })
	assert.Contains(t, out, "강남구 평균 시세는 12억원입니다")
	assert.Contains(t, out, "price_search (https://example.com)")
	assert.Contains(t, out, "- legal")
}

func TestPrintResultJSONIncludesFinalAnswerField(t *testing.T) {
	state := domain.RunState{FinalAnswer: "answer text"}
	out := captureStdout(t, func() { printResult(state, true) })
	assert.Contains(t, out, `"final_answer"`)
	assert.Contains(t, out, "answer text")
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	require.NoError(t, w.Close())
	os.Stdout = old

	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	return buf.String()
}
