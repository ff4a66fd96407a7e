package location_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/qa-orchestrator/internal/worker"
	"github.com/dshills/qa-orchestrator/internal/worker/location"
)

func TestExecuteMissingLocationFails(t *testing.T) {
	w := location.New(nil)
	out, err := w.Execute(context.Background(), worker.Input{})
	require.NoError(t, err)
	assert.Equal(t, worker.StatusFailed, out.Status)
}

func TestExecuteWithLocationSucceeds(t *testing.T) {
	w := location.New(nil)
	out, err := w.Execute(context.Background(), worker.Input{Parameters: map[string]any{"location": "강남구"}})
	require.NoError(t, err)
	assert.Equal(t, worker.StatusSuccess, out.Status)
	assert.Contains(t, out.Payload, "convenience_score")
	assert.Contains(t, out.Payload, "grade")
}

func TestDummyFinderDeterministic(t *testing.T) {
	f := location.DummyFinder{}
	a, err := f.Nearby(context.Background(), "강남구", []string{"지하철역", "학교"})
	require.NoError(t, err)
	b, err := f.Nearby(context.Background(), "강남구", []string{"지하철역", "학교"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
