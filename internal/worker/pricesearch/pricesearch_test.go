package pricesearch_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/qa-orchestrator/internal/worker"
	"github.com/dshills/qa-orchestrator/internal/worker/pricesearch"
)

func TestExecuteMissingLocationFails(t *testing.T) {
	w := pricesearch.New(nil)
	out, err := w.Execute(context.Background(), worker.Input{Parameters: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, worker.StatusFailed, out.Status)
}

func TestExecuteWithLocationSucceeds(t *testing.T) {
	w := pricesearch.New(nil)
	out, err := w.Execute(context.Background(), worker.Input{
		Parameters: map[string]any{"location": "강남구", "property_type": "아파트", "transaction_type": "매매"},
	})
	require.NoError(t, err)
	assert.Equal(t, worker.StatusSuccess, out.Status)
	assert.Greater(t, out.Confidence, 0.5)
	assert.Equal(t, "강남구", out.Payload["location"])
	assert.NotNil(t, out.Payload["trend"])
	assert.NotNil(t, out.Payload["market_statistics"])
}

func TestDummySourceIsDeterministic(t *testing.T) {
	s := pricesearch.DummySource{}
	txns1, err := s.Search(context.Background(), "강남구", "아파트", "매매", 10)
	require.NoError(t, err)
	txns2, err := s.Search(context.Background(), "강남구", "아파트", "매매", 10)
	require.NoError(t, err)

	assert.Equal(t, txns1, txns2)
	assert.NotEmpty(t, txns1)
}

func TestDummySourceVariesByInput(t *testing.T) {
	s := pricesearch.DummySource{}
	a, err := s.Search(context.Background(), "강남구", "아파트", "매매", 10)
	require.NoError(t, err)
	b, err := s.Search(context.Background(), "서초구", "아파트", "매매", 10)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}
