// Package planner builds an ExecutionPlan from an IntentRecord: a
// candidate worker set, a scheduling strategy, and (for DAG) a validated
// dependency graph.
package planner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dshills/qa-orchestrator/internal/domain"
)

// rule is one entry in the declarative candidate-worker table, evaluated
// in priority order (lower Priority wins ties).
type rule struct {
	WorkerName string
	Priority   int
	Matches    func(domain.IntentRecord) bool
}

var rules = []rule{
	{WorkerName: "price_search", Priority: 1, Matches: func(r domain.IntentRecord) bool {
		_, hasPrice := r.Entities["price_won"]
		_, hasPropertyType := r.Entities["property_type"]
		return r.Kind == domain.IntentSearch || hasPrice || hasPropertyType
	}},
	{WorkerName: "finance", Priority: 2, Matches: func(r domain.IntentRecord) bool {
		financeRelated, _ := r.Entities["finance_related"].(bool)
		return financeRelated || r.Kind == domain.IntentCalculation
	}},
	{WorkerName: "legal", Priority: 3, Matches: func(r domain.IntentRecord) bool {
		legalRelated, _ := r.Entities["legal_related"].(bool)
		return legalRelated
	}},
	{WorkerName: "location", Priority: 4, Matches: func(r domain.IntentRecord) bool {
		_, hasLocation := r.Entities["location"]
		return hasLocation
	}},
}

// dependencies encodes which candidate workers must see another's output
// before running (finance consumes price-search; legal consumes
// price-search and finance).
var dependencies = map[string][]string{
	"finance": {"price_search"},
	"legal":   {"price_search", "finance"},
}

const defaultWorkerTimeout = 20 * time.Second

// Options configures plan construction.
type Options struct {
	MaxWorkersPerPlan int
	MaxConcurrent     int
	TotalRunBudget    time.Duration
	RetryPolicy       domain.RetryPolicy
}

// DefaultOptions returns the planner's built-in default options.
func DefaultOptions() Options {
	return Options{
		MaxWorkersPerPlan: 3,
		MaxConcurrent:     3,
		TotalRunBudget:    60 * time.Second,
		RetryPolicy: domain.RetryPolicy{
			MaxRetries:   2,
			Backoff:      domain.BackoffExponential,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
		},
	}
}

// Planner builds ExecutionPlans from IntentRecords.
type Planner struct {
	opts Options
}

// New builds a Planner with the given options.
func New(opts Options) *Planner {
	if opts.MaxWorkersPerPlan <= 0 {
		opts.MaxWorkersPerPlan = 3
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 3
	}
	return &Planner{opts: opts}
}

// Plan selects a candidate worker set for intent, picks a scheduling
// strategy, and (for a DAG strategy) validates the dependency graph,
// falling back to Sequential if it contains a cycle.
func (p *Planner) Plan(_ context.Context, intent domain.IntentRecord, available []string) (domain.ExecutionPlan, error) {
	availableSet := make(map[string]bool, len(available))
	for _, name := range available {
		availableSet[name] = true
	}

	candidates := candidateWorkers(intent, availableSet, p.opts.MaxWorkersPerPlan)
	if len(candidates) == 0 {
		return domain.ExecutionPlan{}, domain.NewEngineError(domain.ErrPlanError, "planner", "no candidate workers matched the query", nil)
	}

	strategy := decideStrategy(intent, candidates)

	steps := buildSteps(candidates, strategy, intent.Entities, p.opts)

	if strategy == domain.StrategyDAG {
		if _, err := topologicalOrder(steps); err != nil {
			strategy = domain.StrategySequential
			steps = stripDependencies(steps)
		}
	}

	return domain.ExecutionPlan{Steps: steps, Strategy: strategy}, nil
}

// candidateWorkers evaluates the rule table in priority order, keeping
// only workers present in availableSet, capped at maxWorkers.
func candidateWorkers(intent domain.IntentRecord, availableSet map[string]bool, maxWorkers int) []string {
	sortedRules := append([]rule{}, rules...)
	sort.SliceStable(sortedRules, func(i, j int) bool { return sortedRules[i].Priority < sortedRules[j].Priority })

	var out []string
	for _, r := range sortedRules {
		if len(out) >= maxWorkers {
			break
		}
		if !availableSet[r.WorkerName] {
			continue
		}
		if r.Matches(intent) {
			out = append(out, r.WorkerName)
		}
	}
	return out
}

// decideStrategy picks Sequential for a singleton candidate set, Parallel
// when there are no pairwise dependencies among the candidates, and DAG
// otherwise.
func decideStrategy(intent domain.IntentRecord, candidates []string) domain.Strategy {
	if len(candidates) <= 1 {
		return domain.StrategySequential
	}
	if !hasPairwiseDependency(candidates) {
		return domain.StrategyParallel
	}
	return domain.StrategyDAG
}

func hasPairwiseDependency(candidates []string) bool {
	set := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		set[c] = true
	}
	for _, c := range candidates {
		for _, dep := range dependencies[c] {
			if set[dep] {
				return true
			}
		}
	}
	return false
}

// buildSteps assigns step ids, timeouts (scaled x1.2 under Parallel,
// compressed proportionally under Sequential when the sum would exceed
// the total run budget), dependency edges (DAG only), parameters (the
// analyzer's entities, renamed onto the keys each worker reads), and
// retry policy.
func buildSteps(candidates []string, strategy domain.Strategy, entities map[string]any, opts Options) []domain.PlanStep {
	steps := make([]domain.PlanStep, 0, len(candidates))
	baseTimeout := defaultWorkerTimeout

	scaledTimeout := baseTimeout
	if strategy == domain.StrategyParallel || strategy == domain.StrategyDAG {
		scaledTimeout = time.Duration(float64(baseTimeout) * 1.2)
	}

	if strategy == domain.StrategySequential && opts.TotalRunBudget > 0 {
		sum := scaledTimeout * time.Duration(len(candidates))
		if sum > opts.TotalRunBudget {
			ratio := float64(opts.TotalRunBudget) / float64(sum)
			scaledTimeout = time.Duration(float64(scaledTimeout) * ratio)
		}
	}

	for i, name := range candidates {
		var deps []string
		if strategy == domain.StrategyDAG {
			for _, dep := range dependencies[name] {
				if contains(candidates, dep) {
					deps = append(deps, stepIDFor(dep))
				}
			}
		}
		steps = append(steps, domain.PlanStep{
			StepID:       stepIDFor(name),
			Order:        i,
			WorkerName:   name,
			Parameters:   parametersFromEntities(entities),
			Dependencies: deps,
			Timeout:      scaledTimeout,
			Retry:        opts.RetryPolicy,
		})
	}
	return steps
}

// parametersFromEntities renames the analyzer's extracted entity keys
// onto the parameter names finance/legal/price_search/location actually
// read (the analyzer extracts "price_won"; the workers read
// "property_price"), per spec.md section 6's worker-facing input
// contract. Workers that don't recognize a key simply ignore it.
func parametersFromEntities(entities map[string]any) map[string]any {
	params := map[string]any{}
	if v, ok := entities["location"]; ok {
		params["location"] = v
	}
	if v, ok := entities["property_type"]; ok {
		params["property_type"] = v
	}
	if v, ok := entities["transaction_type"]; ok {
		params["transaction_type"] = v
	}
	if v, ok := entities["price_won"]; ok {
		params["property_price"] = v
	}
	if v, ok := entities["area_sqm"]; ok {
		params["area_sqm"] = v
	}
	return params
}

func stepIDFor(workerName string) string { return "step_" + workerName }

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func stripDependencies(steps []domain.PlanStep) []domain.PlanStep {
	out := make([]domain.PlanStep, len(steps))
	for i, s := range steps {
		s.Dependencies = nil
		out[i] = s
	}
	return out
}

// topologicalOrder runs Kahn's algorithm over steps' dependency edges,
// returning an error if a cycle is detected.
func topologicalOrder(steps []domain.PlanStep) ([]string, error) {
	inDegree := make(map[string]int, len(steps))
	adjacency := make(map[string][]string, len(steps))
	for _, s := range steps {
		if _, ok := inDegree[s.StepID]; !ok {
			inDegree[s.StepID] = 0
		}
		for _, dep := range s.Dependencies {
			adjacency[dep] = append(adjacency[dep], s.StepID)
			inDegree[s.StepID]++
		}
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		var next []string
		for _, succ := range adjacency[id] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				next = append(next, succ)
			}
		}
		sort.Strings(next)
		queue = append(queue, next...)
	}

	if len(order) != len(steps) {
		return nil, fmt.Errorf("dependency cycle detected among %d steps", len(steps))
	}
	return order, nil
}
