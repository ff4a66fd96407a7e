package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/qa-orchestrator/internal/domain"
	"github.com/dshills/qa-orchestrator/internal/scheduler"
	"github.com/dshills/qa-orchestrator/internal/worker"
)

func succeedingWorker(payload string) worker.Worker {
	return worker.Func(func(_ context.Context, _ worker.Input) (worker.Output, error) {
		return worker.Output{Status: worker.StatusSuccess, Payload: map[string]any{"value": payload}, Confidence: 0.8}, nil
	})
}

func failingWorker() worker.Worker {
	return worker.Func(func(_ context.Context, _ worker.Input) (worker.Output, error) {
		return worker.Output{Status: worker.StatusFailed, Error: "boom"}, nil
	})
}

func slowWorker(d time.Duration) worker.Worker {
	return worker.Func(func(ctx context.Context, _ worker.Input) (worker.Output, error) {
		select {
		case <-time.After(d):
			return worker.Output{Status: worker.StatusSuccess, Confidence: 1}, nil
		case <-ctx.Done():
			return worker.Output{}, ctx.Err()
		}
	})
}

func panickingWorker() worker.Worker {
	return worker.Func(func(_ context.Context, _ worker.Input) (worker.Output, error) {
		panic("worker exploded")
	})
}

func TestRunSequentialAbortsOnFailure(t *testing.T) {
	reg := worker.NewRegistry()
	reg.Register("price_search", failingWorker())
	reg.Register("finance", succeedingWorker("should not run"))

	s := scheduler.New(reg, 3)
	plan := domain.ExecutionPlan{
		Strategy: domain.StrategySequential,
		Steps: []domain.PlanStep{
			{StepID: "step_price_search", Order: 0, WorkerName: "price_search"},
			{StepID: "step_finance", Order: 1, WorkerName: "finance"},
		},
	}

	batch, err := s.Run(context.Background(), plan, "q", "q", nil)
	require.NoError(t, err)

	require.Len(t, batch.Results, 2)
	assert.Equal(t, domain.WorkerFailed, batch.Results[0].Status)
	assert.Equal(t, domain.WorkerSkipped, batch.Results[1].Status)
	assert.Equal(t, "upstream_failure", batch.Results[1].Reason)
	assert.True(t, batch.FailedWorkers["price_search"])
}

func TestRunParallelRunsAllSteps(t *testing.T) {
	reg := worker.NewRegistry()
	reg.Register("price_search", succeedingWorker("a"))
	reg.Register("location", succeedingWorker("b"))

	s := scheduler.New(reg, 3)
	plan := domain.ExecutionPlan{
		Strategy: domain.StrategyParallel,
		Steps: []domain.PlanStep{
			{StepID: "step_price_search", WorkerName: "price_search"},
			{StepID: "step_location", WorkerName: "location"},
		},
	}

	batch, err := s.Run(context.Background(), plan, "q", "q", nil)
	require.NoError(t, err)
	require.Len(t, batch.Results, 2)
	for _, r := range batch.Results {
		assert.Equal(t, domain.WorkerSuccess, r.Status)
	}
	assert.Empty(t, batch.FailedWorkers)
}

func TestRunDAGSkipsDependentsOfFailedStep(t *testing.T) {
	reg := worker.NewRegistry()
	reg.Register("price_search", failingWorker())
	reg.Register("finance", succeedingWorker("should be skipped"))

	s := scheduler.New(reg, 3)
	plan := domain.ExecutionPlan{
		Strategy: domain.StrategyDAG,
		Steps: []domain.PlanStep{
			{StepID: "step_price_search", WorkerName: "price_search"},
			{StepID: "step_finance", WorkerName: "finance", Dependencies: []string{"step_price_search"}},
		},
	}

	batch, err := s.Run(context.Background(), plan, "q", "q", nil)
	require.NoError(t, err)
	require.Len(t, batch.Results, 2)

	var financeResult domain.WorkerStatus
	for _, r := range batch.Results {
		if r.WorkerName == "finance" {
			financeResult = r.Status
		}
	}
	assert.Equal(t, domain.WorkerSkipped, financeResult)
}

func TestRunStepTimesOut(t *testing.T) {
	reg := worker.NewRegistry()
	reg.Register("price_search", slowWorker(50*time.Millisecond))

	s := scheduler.New(reg, 3)
	plan := domain.ExecutionPlan{
		Strategy: domain.StrategySequential,
		Steps: []domain.PlanStep{
			{StepID: "step_price_search", WorkerName: "price_search", Timeout: 5 * time.Millisecond},
		},
	}

	batch, err := s.Run(context.Background(), plan, "q", "q", nil)
	require.NoError(t, err)
	require.Len(t, batch.Results, 1)
	assert.Equal(t, domain.WorkerTimeout, batch.Results[0].Status)
}

func TestRunStepRecoversFromPanic(t *testing.T) {
	reg := worker.NewRegistry()
	reg.Register("price_search", panickingWorker())

	s := scheduler.New(reg, 3)
	plan := domain.ExecutionPlan{
		Strategy: domain.StrategySequential,
		Steps: []domain.PlanStep{
			{StepID: "step_price_search", WorkerName: "price_search"},
		},
	}

	batch, err := s.Run(context.Background(), plan, "q", "q", nil)
	require.NoError(t, err)
	require.Len(t, batch.Results, 1)
	assert.Equal(t, domain.WorkerFailed, batch.Results[0].Status)
	assert.Contains(t, batch.Results[0].Error, "panicked")
}

func TestRunUnknownWorkerFails(t *testing.T) {
	reg := worker.NewRegistry()
	s := scheduler.New(reg, 3)
	plan := domain.ExecutionPlan{
		Strategy: domain.StrategySequential,
		Steps: []domain.PlanStep{
			{StepID: "step_ghost", WorkerName: "ghost"},
		},
	}

	batch, err := s.Run(context.Background(), plan, "q", "q", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerFailed, batch.Results[0].Status)
}
