package synthesizer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dshills/qa-orchestrator/internal/domain"
	"github.com/dshills/qa-orchestrator/internal/synthesizer"
)

func TestSynthesizeIrrelevantReturnsGuidance(t *testing.T) {
	s := synthesizer.New()
	out := s.Synthesize(context.Background(), domain.IntentRecord{Kind: domain.IntentIrrelevant}, nil)
	assert.Equal(t, domain.ResponseGuidance, out.ResponseType)
	assert.Contains(t, out.FinalAnswer, "부동산")
}

func TestSynthesizeUnclearReturnsGuidance(t *testing.T) {
	s := synthesizer.New()
	out := s.Synthesize(context.Background(), domain.IntentRecord{Kind: domain.IntentUnclear}, nil)
	assert.Equal(t, domain.ResponseGuidance, out.ResponseType)
}

func TestSynthesizeNoSuccessfulResultsIsError(t *testing.T) {
	s := synthesizer.New()
	results := map[string]domain.WorkerResult{
		"price_search": {Status: domain.WorkerFailed},
	}
	out := s.Synthesize(context.Background(), domain.IntentRecord{Kind: domain.IntentSearch}, results)
	assert.Equal(t, domain.ResponseError, out.ResponseType)
}

func TestSynthesizeDeterministicFallback(t *testing.T) {
	s := synthesizer.New()
	results := map[string]domain.WorkerResult{
		"price_search": {Status: domain.WorkerSuccess, Confidence: 0.9, Payload: map[string]any{"location": "강남구"}},
		"finance":      {Status: domain.WorkerSuccess, Confidence: 0.8, Payload: map[string]any{}},
	}
	out := s.Synthesize(context.Background(), domain.IntentRecord{Kind: domain.IntentSearch}, results)

	assert.Equal(t, domain.ResponseAnswer, out.ResponseType)
	assert.Contains(t, out.FinalAnswer, "price_search")
	assert.Contains(t, out.FinalAnswer, "finance")
	assert.Contains(t, out.FinalAnswer, "90%")

	assert.Len(t, out.Sources, 2)
	assert.Equal(t, "finance", out.Sources[0].Title)
	assert.Equal(t, "price_search: 강남구", out.Sources[1].Title)
}
