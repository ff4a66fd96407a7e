// Package scheduler executes an ExecutionPlan's steps against the
// Registry, producing worker results, failed-worker names, and per-step
// states — the core of the pipeline, grounded on the teacher's
// graph/scheduler.go (Frontier/OrderKey wave machinery) and
// graph/engine.go (runConcurrent/executeParallel/mergeDeltas), and on
// graph/timeout.go's timeout-precedence logic (getNodeTimeout,
// executeNodeWithTimeout).
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dshills/qa-orchestrator/internal/domain"
	"github.com/dshills/qa-orchestrator/internal/worker"
)

// Result is one step's terminal outcome, ready to be folded into a
// statestore.Patch by the caller.
type Result struct {
	StepID     string
	WorkerName string
	Status     domain.WorkerStatus
	Payload    map[string]any
	Confidence float64
	Error      string
	Reason     string
	Elapsed    time.Duration
}

// Batch is the outcome of running an entire ExecutionPlan: per-step
// results plus the aggregate failed-worker set, ready to be merged into
// RunState via a single StateStore.Commit at the caller's discretion.
type Batch struct {
	Results       []Result
	FailedWorkers map[string]bool
}

// Scheduler runs ExecutionPlans against a worker.Registry.
type Scheduler struct {
	registry      *worker.Registry
	maxConcurrent int
}

// New builds a Scheduler bound to registry, with maxConcurrent bounding
// concurrent worker invocations under Parallel/DAG (config's
// max_concurrent, default 3).
func New(registry *worker.Registry, maxConcurrent int) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	return &Scheduler{registry: registry, maxConcurrent: maxConcurrent}
}

// Run executes plan, respecting ctx's cancellation/deadline as the
// run-wide budget. query/originalQuery and sharedContext feed every step's
// worker.Input.
func (s *Scheduler) Run(ctx context.Context, plan domain.ExecutionPlan, query, originalQuery string, sharedContext map[string]any) (Batch, error) {
	switch plan.Strategy {
	case domain.StrategySequential:
		return s.runSequential(ctx, plan, query, originalQuery, sharedContext)
	case domain.StrategyParallel:
		return s.runParallel(ctx, plan, query, originalQuery, sharedContext)
	case domain.StrategyDAG:
		return s.runDAG(ctx, plan, query, originalQuery, sharedContext)
	default:
		return Batch{}, fmt.Errorf("unknown strategy %q", plan.Strategy)
	}
}

// runSequential walks the ordered step list; a non-success step aborts
// the remaining tail (marking it skipped/upstream_failure) per spec.md
// section 4.5.
func (s *Scheduler) runSequential(ctx context.Context, plan domain.ExecutionPlan, query, originalQuery string, sharedContext map[string]any) (Batch, error) {
	steps := orderedSteps(plan.Steps)
	batch := Batch{FailedWorkers: map[string]bool{}}
	collected := map[string]map[string]any{}

	aborted := false
	for _, step := range steps {
		if aborted {
			batch.Results = append(batch.Results, Result{
				StepID: step.StepID, WorkerName: step.WorkerName,
				Status: domain.WorkerSkipped, Reason: "upstream_failure",
			})
			continue
		}

		res := s.runStep(ctx, step, query, originalQuery, sharedContext, collected)
		batch.Results = append(batch.Results, res)
		if res.Status == domain.WorkerSuccess {
			collected[step.WorkerName] = res.Payload
		} else {
			batch.FailedWorkers[step.WorkerName] = true
			aborted = true
		}
	}
	return batch, nil
}

// runParallel launches every step concurrently bounded by maxConcurrent;
// no step sees a sibling's output.
func (s *Scheduler) runParallel(ctx context.Context, plan domain.ExecutionPlan, query, originalQuery string, sharedContext map[string]any) (Batch, error) {
	sem := semaphore.NewWeighted(int64(s.maxConcurrent))
	var mu sync.Mutex
	var wg sync.WaitGroup
	batch := Batch{FailedWorkers: map[string]bool{}}

	for _, step := range plan.Steps {
		step := step
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			batch.Results = append(batch.Results, Result{
				StepID: step.StepID, WorkerName: step.WorkerName,
				Status: domain.WorkerSkipped, Reason: "cancelled",
			})
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			res := s.runStep(ctx, step, query, originalQuery, sharedContext, nil)

			mu.Lock()
			batch.Results = append(batch.Results, res)
			if res.Status != domain.WorkerSuccess {
				batch.FailedWorkers[step.WorkerName] = true
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(batch.Results, func(i, j int) bool { return batch.Results[i].StepID < batch.Results[j].StepID })
	return batch, nil
}

// runDAG computes Kahn waves and executes each wave concurrently, bounded
// by maxConcurrent, decrementing in-degree on completion and marking
// un-runnable descendants of a failed step as skipped/dependency_failed.
func (s *Scheduler) runDAG(ctx context.Context, plan domain.ExecutionPlan, query, originalQuery string, sharedContext map[string]any) (Batch, error) {
	batch := Batch{FailedWorkers: map[string]bool{}}
	collected := map[string]map[string]any{}
	stepByID := make(map[string]domain.PlanStep, len(plan.Steps))
	inDegree := make(map[string]int, len(plan.Steps))
	successors := make(map[string][]string, len(plan.Steps))
	failedAncestor := make(map[string]bool, len(plan.Steps))

	for _, step := range plan.Steps {
		stepByID[step.StepID] = step
		inDegree[step.StepID] = len(step.Dependencies)
		for _, dep := range step.Dependencies {
			successors[dep] = append(successors[dep], step.StepID)
		}
	}

	remaining := len(plan.Steps)
	done := map[string]bool{}

	for remaining > 0 {
		var wave []string
		for id, deg := range inDegree {
			if deg == 0 && !done[id] {
				wave = append(wave, id)
			}
		}
		if len(wave) == 0 {
			// Planner guarantees acyclicity; reaching here means a cycle
			// slipped through validation.
			for id := range inDegree {
				if !done[id] {
					batch.Results = append(batch.Results, Result{
						StepID: id, WorkerName: stepByID[id].WorkerName,
						Status: domain.WorkerFailed, Error: "unresolvable dependency cycle",
					})
				}
			}
			break
		}
		sort.Strings(wave)

		sem := semaphore.NewWeighted(int64(s.maxConcurrent))
		var mu sync.Mutex
		var wg sync.WaitGroup

		for _, id := range wave {
			id := id
			step := stepByID[id]
			done[id] = true
			remaining--

			if failedAncestor[id] {
				mu.Lock()
				batch.Results = append(batch.Results, Result{
					StepID: id, WorkerName: step.WorkerName,
					Status: domain.WorkerSkipped, Reason: "dependency_failed",
				})
				for _, succ := range successors[id] {
					failedAncestor[succ] = true
				}
				mu.Unlock()
				for _, succ := range successors[id] {
					inDegree[succ]--
				}
				continue
			}

			if err := sem.Acquire(ctx, 1); err != nil {
				mu.Lock()
				batch.Results = append(batch.Results, Result{
					StepID: id, WorkerName: step.WorkerName,
					Status: domain.WorkerSkipped, Reason: "cancelled",
				})
				mu.Unlock()
				for _, succ := range successors[id] {
					inDegree[succ]--
				}
				continue
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer sem.Release(1)

				res := s.runStep(ctx, step, query, originalQuery, sharedContext, collected)

				mu.Lock()
				batch.Results = append(batch.Results, res)
				if res.Status == domain.WorkerSuccess {
					collected[step.WorkerName] = res.Payload
				} else {
					batch.FailedWorkers[step.WorkerName] = true
					for _, succ := range successors[id] {
						failedAncestor[succ] = true
					}
				}
				for _, succ := range successors[id] {
					inDegree[succ]--
				}
				mu.Unlock()
			}()
		}
		wg.Wait()
	}

	sort.Slice(batch.Results, func(i, j int) bool { return batch.Results[i].StepID < batch.Results[j].StepID })
	return batch, nil
}

// runStep executes one step under its deadline, recovering panics into a
// failed status per spec.md section 4.5's "Panics/unhandled exceptions"
// clause.
func (s *Scheduler) runStep(ctx context.Context, step domain.PlanStep, query, originalQuery string, sharedContext map[string]any, collected map[string]map[string]any) (result Result) {
	start := time.Now()
	result = Result{StepID: step.StepID, WorkerName: step.WorkerName}

	w, ok := s.registry.Get(step.WorkerName)
	if !ok {
		result.Status = domain.WorkerFailed
		result.Error = domain.ErrWorkerNotAvailable.Error()
		result.Elapsed = time.Since(start)
		return result
	}

	stepCtx := ctx
	var cancel context.CancelFunc
	if step.Timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	input := worker.Input{
		Query:         query,
		OriginalQuery: originalQuery,
		Context:       sharedContext,
		CollectedData: collected,
		Parameters:    step.Parameters,
	}

	out, err := func() (out worker.Output, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("worker %s panicked: %v", step.WorkerName, r)
			}
		}()
		return w.Execute(stepCtx, input)
	}()

	result.Elapsed = time.Since(start)

	if err != nil {
		if stepCtx.Err() == context.DeadlineExceeded {
			result.Status = domain.WorkerTimeout
			result.Error = fmt.Sprintf("step exceeded timeout of %v", step.Timeout)
			return result
		}
		result.Status = domain.WorkerFailed
		result.Error = err.Error()
		return result
	}

	result.Status = domain.WorkerStatus(out.Status)
	result.Payload = out.Payload
	result.Confidence = out.Confidence
	result.Error = out.Error
	return result
}

// orderedSteps returns plan steps stable-sorted by Order, tie-broken by
// StepID, per spec.md section 4.5's Sequential ordering rule.
func orderedSteps(steps []domain.PlanStep) []domain.PlanStep {
	out := append([]domain.PlanStep{}, steps...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].StepID < out[j].StepID
	})
	return out
}
