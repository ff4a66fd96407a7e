package planner_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/qa-orchestrator/internal/domain"
	"github.com/dshills/qa-orchestrator/internal/planner"
)

func TestPlanSingleCandidateIsSequential(t *testing.T) {
	p := planner.New(planner.DefaultOptions())

	intent := domain.IntentRecord{Kind: domain.IntentSearch, Entities: map[string]any{}}
	plan, err := p.Plan(context.Background(), intent, []string{"price_search"})
	require.NoError(t, err)

	assert.Equal(t, domain.StrategySequential, plan.Strategy)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "price_search", plan.Steps[0].WorkerName)
}

func TestPlanNoPairwiseDependencyIsParallel(t *testing.T) {
	p := planner.New(planner.DefaultOptions())

	intent := domain.IntentRecord{
		Kind: domain.IntentSearch,
		Entities: map[string]any{
			"property_type": "아파트",
			"location":      "강남",
		},
	}
	plan, err := p.Plan(context.Background(), intent, []string{"price_search", "location"})
	require.NoError(t, err)

	assert.Equal(t, domain.StrategyParallel, plan.Strategy)
	assert.Len(t, plan.Steps, 2)
}

func TestPlanPairwiseDependencyIsDAG(t *testing.T) {
	p := planner.New(planner.DefaultOptions())

	intent := domain.IntentRecord{
		Kind: domain.IntentCalculation,
		Entities: map[string]any{
			"property_type":   "아파트",
			"finance_related": true,
		},
	}
	plan, err := p.Plan(context.Background(), intent, []string{"price_search", "finance"})
	require.NoError(t, err)

	require.Equal(t, domain.StrategyDAG, plan.Strategy)
	financeStep, ok := plan.StepByID("step_finance")
	require.True(t, ok)
	assert.Contains(t, financeStep.Dependencies, "step_price_search")
}

func TestPlanNoCandidatesErrors(t *testing.T) {
	p := planner.New(planner.DefaultOptions())

	intent := domain.IntentRecord{Kind: domain.IntentUnclear}
	_, err := p.Plan(context.Background(), intent, []string{"price_search", "finance", "legal", "location"})
	require.Error(t, err)
}

func TestPlanCapsAtMaxWorkersPerPlan(t *testing.T) {
	opts := planner.DefaultOptions()
	opts.MaxWorkersPerPlan = 2
	p := planner.New(opts)

	intent := domain.IntentRecord{
		Kind: domain.IntentSearch,
		Entities: map[string]any{
			"property_type":   "아파트",
			"finance_related": true,
			"legal_related":   true,
			"location":        "강남",
		},
	}
	plan, err := p.Plan(context.Background(), intent, []string{"price_search", "finance", "legal", "location"})
	require.NoError(t, err)
	assert.Len(t, plan.Steps, 2)
}

func TestPlanUnavailableWorkerIsExcluded(t *testing.T) {
	p := planner.New(planner.DefaultOptions())

	intent := domain.IntentRecord{
		Kind:     domain.IntentSearch,
		Entities: map[string]any{"location": "강남"},
	}
	plan, err := p.Plan(context.Background(), intent, []string{"price_search"})
	require.NoError(t, err)

	for _, s := range plan.Steps {
		assert.NotEqual(t, "location", s.WorkerName)
	}
}
