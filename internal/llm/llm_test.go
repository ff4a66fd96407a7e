package llm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/qa-orchestrator/internal/llm"
)

func TestTrackerRecordsEstimatedCost(t *testing.T) {
	tr := llm.NewTracker(map[string]llm.CostPerMillion{
		"claude-3-5-sonnet": {Prompt: 3.0, Completion: 15.0},
	})

	cost := tr.Record("analyze", "claude-3-5-sonnet", llm.Usage{PromptTokens: 1_000_000, CompletionTokens: 500_000})

	assert.InDelta(t, 3.0+7.5, cost, 0.0001)
	assert.InDelta(t, 10.5, tr.Total(), 0.0001)
	require.Len(t, tr.Entries(), 1)
	assert.Equal(t, "analyze", tr.Entries()[0].Step)
}

func TestTrackerUnknownModelCostsZero(t *testing.T) {
	tr := llm.NewTracker(nil)
	cost := tr.Record("plan", "unknown-model", llm.Usage{PromptTokens: 1000, CompletionTokens: 1000})
	assert.Zero(t, cost)
	assert.Zero(t, tr.Total())
}

func TestTrackerAccumulatesAcrossMultipleCalls(t *testing.T) {
	tr := llm.NewTracker(map[string]llm.CostPerMillion{
		"gpt-4o": {Prompt: 2.5, Completion: 10.0},
	})

	tr.Record("analyze", "gpt-4o", llm.Usage{PromptTokens: 1_000_000})
	tr.Record("synthesize", "gpt-4o", llm.Usage{CompletionTokens: 1_000_000})

	assert.InDelta(t, 12.5, tr.Total(), 0.0001)
	assert.Len(t, tr.Entries(), 2)
}
