package worker_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/qa-orchestrator/internal/worker"
)

func noop() worker.Worker {
	return worker.Func(func(_ context.Context, _ worker.Input) (worker.Output, error) {
		return worker.Output{Status: worker.StatusSuccess}, nil
	})
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := worker.NewRegistry()
	r.Register("price_search", noop())

	w, ok := r.Get("price_search")
	require.True(t, ok)
	require.NotNil(t, w)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistryNamesSortedAndEnabledOnly(t *testing.T) {
	r := worker.NewRegistry()
	r.Register("location", noop())
	r.Register("finance", noop())
	r.Register("price_search", noop())

	require.NoError(t, r.SetEnabled("finance", false))

	assert.Equal(t, []string{"location", "price_search"}, r.Names())
}

func TestRegistrySetEnabledUnknownWorkerErrors(t *testing.T) {
	r := worker.NewRegistry()
	err := r.SetEnabled("ghost", false)
	assert.Error(t, err)
}

func TestRegistryDisabledWorkerNotReturnedByGet(t *testing.T) {
	r := worker.NewRegistry()
	r.Register("legal", noop())
	require.NoError(t, r.SetEnabled("legal", false))

	_, ok := r.Get("legal")
	assert.False(t, ok)
	assert.False(t, r.IsEnabled("legal"))
}
