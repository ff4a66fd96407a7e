// Package engine (continued from context_carrier.go) implements the
// top-level WorkflowEngine: a fixed five-phase pipeline (analyze, plan,
// schedule, evaluate, synthesize) driven by RunStatus, with an
// evaluate/awaiting_retry loop folded in between scheduling and
// synthesis. It is grounded on the teacher's graph.Engine[S].Run loop
// (validate options, optional context.WithTimeout for the wall-clock
// budget, a step loop checking ctx.Done()/MaxSteps, emitNodeStart,
// execute, merge, persist, emitNodeEnd, route) generalized from an
// arbitrary user-authored graph into this engine's fixed phase order.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dshills/qa-orchestrator/internal/analyzer"
	"github.com/dshills/qa-orchestrator/internal/cache"
	"github.com/dshills/qa-orchestrator/internal/domain"
	"github.com/dshills/qa-orchestrator/internal/evaluator"
	"github.com/dshills/qa-orchestrator/internal/metrics"
	"github.com/dshills/qa-orchestrator/internal/observability"
	"github.com/dshills/qa-orchestrator/internal/planner"
	"github.com/dshills/qa-orchestrator/internal/scheduler"
	"github.com/dshills/qa-orchestrator/internal/statestore"
	"github.com/dshills/qa-orchestrator/internal/synthesizer"
)

// maxStepIterations bounds the phase-dispatch loop defensively, mirroring
// the teacher's Options.MaxSteps guard against a routing bug causing an
// infinite loop; a well-formed run never comes close to this.
const maxStepIterations = 200

// defaultMaxCommitAttempts bounds the optimistic-concurrency retry loop in
// commit before giving up with ErrStateStoreUnavailable.
const defaultMaxCommitAttempts = 5

// Config wires every collaborator the Engine needs. Store, Analyzer,
// Planner, Scheduler, Evaluator, and Synthesizer are required;
// Cache, Metrics, and Emitter are optional ambient instrumentation.
type Config struct {
	Store       statestore.Store
	Analyzer    *analyzer.Analyzer
	Planner     *planner.Planner
	Scheduler   *scheduler.Scheduler
	Evaluator   *evaluator.Evaluator
	Synthesizer *synthesizer.Synthesizer
	WorkerNames []string // names passed to Planner.Plan as the available set

	Cache   cache.Strategy
	Metrics *metrics.Metrics
	Emitter observability.Emitter

	// RunWallClockBudget bounds one Execute call's total duration
	// (config's total_run_timeout, section 6). Zero means no bound beyond
	// the caller's own context.
	RunWallClockBudget time.Duration

	// MaxCommitAttempts bounds retries on optimistic-concurrency conflicts
	// in commit. Zero uses defaultMaxCommitAttempts.
	MaxCommitAttempts int
}

// Engine is the top-level WorkflowEngine described by spec.md section 4.1:
// it threads one domain.RunState through analyze/plan/schedule/evaluate/
// synthesize, checkpointing every phase via statestore.Store.
type Engine struct {
	cfg Config

	streamsMu sync.Mutex
	streams   map[string][]*observability.ChannelEmitter
}

// New validates cfg and builds an Engine.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("engine: Store is required")
	case cfg.Analyzer == nil:
		return nil, errors.New("engine: Analyzer is required")
	case cfg.Planner == nil:
		return nil, errors.New("engine: Planner is required")
	case cfg.Scheduler == nil:
		return nil, errors.New("engine: Scheduler is required")
	case cfg.Evaluator == nil:
		return nil, errors.New("engine: Evaluator is required")
	case cfg.Synthesizer == nil:
		return nil, errors.New("engine: Synthesizer is required")
	}
	if cfg.MaxCommitAttempts <= 0 {
		cfg.MaxCommitAttempts = defaultMaxCommitAttempts
	}
	return &Engine{cfg: cfg, streams: make(map[string][]*observability.ChannelEmitter)}, nil
}

// Execute runs one thread's pipeline to completion (or failure), resuming
// from any checkpointed state already committed under carrier.ThreadID.
func (e *Engine) Execute(ctx context.Context, q domain.Query, carrier domain.ContextCarrier) (domain.RunState, error) {
	if err := Validate(carrier); err != nil {
		return domain.RunState{}, err
	}

	if e.cfg.RunWallClockBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RunWallClockBudget)
		defer cancel()
	}

	state, err := e.loadOrCreate(ctx, q, carrier)
	if err != nil {
		return domain.RunState{}, err
	}

	for i := 0; i < maxStepIterations; i++ {
		if state.Status == domain.StatusCompleted || state.Status == domain.StatusFailed || state.Status == domain.StatusCancelled {
			return state, nil
		}

		select {
		case <-ctx.Done():
			return e.failRun(ctx, carrier.ThreadID, state, domain.ErrRunTimeout, "engine", ctx.Err())
		default:
		}

		next, err := e.step(ctx, q, carrier, state)
		if err != nil {
			return e.failRun(ctx, carrier.ThreadID, state, classifyErr(err), "engine", err)
		}
		state = next
	}

	return e.failRun(ctx, carrier.ThreadID, state, domain.ErrRunTimeout, "engine", fmt.Errorf("exceeded %d phase iterations", maxStepIterations))
}

func classifyErr(err error) domain.ErrorKind {
	var ee *domain.EngineError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return domain.ErrWorkerFailed
}

// loadOrCreate returns the checkpointed RunState for carrier.ThreadID, or
// creates and commits a fresh one if none exists yet.
func (e *Engine) loadOrCreate(ctx context.Context, q domain.Query, carrier domain.ContextCarrier) (domain.RunState, error) {
	state, err := e.cfg.Store.Load(ctx, carrier.ThreadID)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.RunState{}, domain.NewEngineError(domain.ErrStateStoreUnavailable, "ingest", "failed to load thread state", err)
	}

	fresh := domain.NewRunState(carrier.ThreadID, carrier.SessionID, q)
	version, cerr := e.cfg.Store.Commit(ctx, carrier.ThreadID, 0, statestore.Patch{
		SessionID: &carrier.SessionID,
		Query:     &q.Text,
		Status:    statusPtr(fresh.Status),
	})
	if cerr != nil {
		return domain.RunState{}, domain.NewEngineError(domain.ErrStateStoreUnavailable, "ingest", "failed to create thread state", cerr)
	}
	fresh.Version = version
	return fresh, nil
}

// step executes the single phase named by state.Status and returns the
// resulting state after a successful commit.
func (e *Engine) step(ctx context.Context, q domain.Query, carrier domain.ContextCarrier, state domain.RunState) (domain.RunState, error) {
	switch state.Status {
	case domain.StatusInitialized:
		return e.commit(ctx, carrier.ThreadID, state, statestore.Patch{Status: statusPtr(domain.StatusAnalyzing)})

	case domain.StatusAnalyzing:
		return e.runAnalyze(ctx, q, carrier, state)

	case domain.StatusPlanning:
		return e.runPlan(ctx, carrier, state)

	case domain.StatusScheduling:
		return e.runSchedule(ctx, carrier, state)

	case domain.StatusEvaluating:
		return e.runEvaluate(ctx, carrier, state)

	case domain.StatusAwaitingRetry:
		return e.runRetry(ctx, carrier, state)

	case domain.StatusSynthesizing:
		return e.runSynthesize(ctx, carrier, state)

	default:
		return state, domain.NewEngineError(domain.ErrInvalidInput, "engine", fmt.Sprintf("unknown run status %q", state.Status), nil)
	}
}

// runAnalyze classifies the query, checks the result cache, and either
// short-circuits straight to completed (cache hit) or advances to
// planning.
func (e *Engine) runAnalyze(ctx context.Context, q domain.Query, carrier domain.ContextCarrier, state domain.RunState) (domain.RunState, error) {
	start := time.Now()
	e.emit(carrier.ThreadID, observability.EventNodeStart, "analyze", "")

	intent, err := e.cfg.Analyzer.Analyze(ctx, q, carrier)
	if err != nil {
		e.emit(carrier.ThreadID, observability.EventError, "analyze", err.Error())
		return state, domain.NewEngineError(domain.ErrIntentError, "analyze", "intent analysis failed", err)
	}

	if intent.Kind == domain.IntentUnclear || intent.Kind == domain.IntentIrrelevant {
		out := e.cfg.Synthesizer.Synthesize(ctx, intent, nil)
		patch := statestore.Patch{
			Intent:         &intent,
			Entities:       intent.Entities,
			FinalAnswer:    &out.FinalAnswer,
			Sources:        out.Sources,
			ResponseType:   &out.ResponseType,
			Status:         statusPtr(domain.StatusCompleted),
			EndedAt:        timePtr(time.Now()),
			PerNodeTimings: []domain.NodeTiming{{Node: "analyze", Elapsed: time.Since(start)}},
			AgentPath:      []string{"analyze"},
		}
		next, cerr := e.commit(ctx, carrier.ThreadID, state, patch)
		e.emit(carrier.ThreadID, observability.EventNodeEnd, "analyze", string(intent.Kind))
		return next, cerr
	}

	var cacheKey string
	if e.cfg.Cache != nil {
		cacheKey = cache.Fingerprint(q.Text, carrier.UserID, carrier.SessionID, intent.Entities)
		if entry, ok := e.cfg.Cache.Get(cacheKey); ok {
			e.incCacheHit()
			sources, _ := decodeSources(entry.Sources)
			rt := domain.ResponseType(entry.ResponseType)
			patch := statestore.Patch{
				Intent:         &intent,
				Entities:       intent.Entities,
				FinalAnswer:    &entry.FinalAnswer,
				Sources:        sources,
				ResponseType:   &rt,
				Status:         statusPtr(domain.StatusCompleted),
				EndedAt:        timePtr(time.Now()),
				PerNodeTimings: []domain.NodeTiming{{Node: "analyze", Elapsed: time.Since(start)}},
				AgentPath:      []string{"analyze", "cache_hit"},
			}
			next, cerr := e.commit(ctx, carrier.ThreadID, state, patch)
			e.emit(carrier.ThreadID, observability.EventNodeEnd, "analyze", "cache_hit")
			return next, cerr
		}
		e.incCacheMiss()
	}

	patch := statestore.Patch{
		Intent:         &intent,
		Entities:       intent.Entities,
		Status:         statusPtr(domain.StatusPlanning),
		PerNodeTimings: []domain.NodeTiming{{Node: "analyze", Elapsed: time.Since(start)}},
		AgentPath:      []string{"analyze"},
	}
	next, err := e.commit(ctx, carrier.ThreadID, state, patch)
	e.emit(carrier.ThreadID, observability.EventNodeEnd, "analyze", string(intent.Kind))
	return next, err
}

func (e *Engine) runPlan(ctx context.Context, carrier domain.ContextCarrier, state domain.RunState) (domain.RunState, error) {
	start := time.Now()
	e.emit(carrier.ThreadID, observability.EventNodeStart, "plan", "")

	plan, err := e.cfg.Planner.Plan(ctx, state.Intent, e.cfg.WorkerNames)
	if err != nil {
		e.emit(carrier.ThreadID, observability.EventError, "plan", err.Error())
		return state, err
	}

	patch := statestore.Patch{
		Plan:           &plan,
		Strategy:       &plan.Strategy,
		Status:         statusPtr(domain.StatusScheduling),
		PerNodeTimings: []domain.NodeTiming{{Node: "plan", Elapsed: time.Since(start)}},
		AgentPath:      []string{"plan"},
	}
	next, cerr := e.commit(ctx, carrier.ThreadID, state, patch)
	e.emit(carrier.ThreadID, observability.EventNodeEnd, "plan", string(plan.Strategy))
	return next, cerr
}

func (e *Engine) runSchedule(ctx context.Context, carrier domain.ContextCarrier, state domain.RunState) (domain.RunState, error) {
	start := time.Now()
	e.emit(carrier.ThreadID, observability.EventNodeStart, "schedule", "")

	batch, err := e.cfg.Scheduler.Run(ctx, state.Plan, state.Query, state.Query, state.Entities)
	if err != nil {
		e.emit(carrier.ThreadID, observability.EventError, "schedule", err.Error())
		return state, domain.NewEngineError(domain.ErrWorkerFailed, "schedule", "scheduler run failed", err)
	}

	patch := e.batchPatch(batch, "schedule", start)
	patch.Status = statusPtr(domain.StatusEvaluating)
	next, cerr := e.commit(ctx, carrier.ThreadID, state, patch)
	e.emit(carrier.ThreadID, observability.EventNodeEnd, "schedule", "")
	return next, cerr
}

// batchPatch folds a scheduler.Batch into a statestore.Patch, recording
// per-step metrics along the way.
func (e *Engine) batchPatch(batch scheduler.Batch, nodeName string, start time.Time) statestore.Patch {
	workerResults := make(map[string]domain.WorkerResult, len(batch.Results))
	stepStates := make(map[string]domain.WorkerStatus, len(batch.Results))
	var agentPath []string

	for _, r := range batch.Results {
		workerResults[r.WorkerName] = domain.WorkerResult{
			WorkerName: r.WorkerName,
			Status:     r.Status,
			Payload:    r.Payload,
			Confidence: r.Confidence,
			Elapsed:    r.Elapsed,
			Error:      r.Error,
			Metadata:   domain.ResultMetadata{StartedAt: start, Reason: r.Reason},
		}
		stepStates[r.StepID] = r.Status
		agentPath = append(agentPath, r.WorkerName)

		if e.cfg.Metrics != nil {
			e.cfg.Metrics.RecordStepLatency(r.WorkerName, string(r.Status), r.Elapsed)
			if r.Reason == "dependency_failed" {
				e.cfg.Metrics.IncDependencySkip(r.WorkerName)
			}
		}
	}

	failedWorkers := make(map[string]bool, len(batch.FailedWorkers))
	for name := range batch.FailedWorkers {
		failedWorkers[name] = true
	}

	return statestore.Patch{
		WorkerResults:  workerResults,
		FailedWorkers:  failedWorkers,
		StepStates:     stepStates,
		PerNodeTimings: []domain.NodeTiming{{Node: nodeName, Elapsed: time.Since(start)}},
		AgentPath:      agentPath,
	}
}

func (e *Engine) runEvaluate(ctx context.Context, carrier domain.ContextCarrier, state domain.RunState) (domain.RunState, error) {
	start := time.Now()
	e.emit(carrier.ThreadID, observability.EventNodeStart, "evaluate", "")

	failed := currentlyFailed(state.WorkerResults)
	outcome := e.cfg.Evaluator.Evaluate(state.WorkerResults, failed, state.RetryCount)

	if outcome.NeedsRetry {
		retryCount := state.RetryCount + 1
		if e.cfg.Metrics != nil {
			for name := range outcome.RetryWorkerSet {
				e.cfg.Metrics.IncRetry(name)
			}
		}
		patch := statestore.Patch{
			QualityScore:    &outcome.QualityScore,
			NeedsRetry:      &outcome.NeedsRetry,
			RetryWorkerSet:  outcome.RetryWorkerSet,
			RetryCount:      &retryCount,
			Status:          statusPtr(domain.StatusAwaitingRetry),
			PerNodeTimings:  []domain.NodeTiming{{Node: "evaluate", Elapsed: time.Since(start)}},
			AgentPath:       []string{"evaluate"},
		}
		next, cerr := e.commit(ctx, carrier.ThreadID, state, patch)
		e.emit(carrier.ThreadID, observability.EventNodeEnd, "evaluate", "needs_retry")
		return next, cerr
	}

	needsRetry := false
	patch := statestore.Patch{
		QualityScore:   &outcome.QualityScore,
		NeedsRetry:     &needsRetry,
		Status:         statusPtr(domain.StatusSynthesizing),
		PerNodeTimings: []domain.NodeTiming{{Node: "evaluate", Elapsed: time.Since(start)}},
		AgentPath:      []string{"evaluate"},
	}
	next, cerr := e.commit(ctx, carrier.ThreadID, state, patch)
	e.emit(carrier.ThreadID, observability.EventNodeEnd, "evaluate", "ok")
	return next, cerr
}

// runRetry backs off, re-runs the subset plan built from RetryWorkerSet,
// and loops back to evaluating.
func (e *Engine) runRetry(ctx context.Context, carrier domain.ContextCarrier, state domain.RunState) (domain.RunState, error) {
	start := time.Now()
	e.emit(carrier.ThreadID, observability.EventNodeStart, "retry", "")

	subset := retrySubsetPlan(state.Plan, state.RetryWorkerSet)
	if len(subset.Steps) == 0 {
		// Nothing left to retry; fall through to evaluation again so the
		// evaluator's own retryCount guard ends the loop.
		patch := statestore.Patch{Status: statusPtr(domain.StatusEvaluating)}
		return e.commit(ctx, carrier.ThreadID, state, patch)
	}

	delay := evaluator.Backoff(subset.Steps[0].Retry, state.RetryCount, nil)
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return state, ctx.Err()
	}

	batch, err := e.cfg.Scheduler.Run(ctx, subset, state.Query, state.Query, state.Entities)
	if err != nil {
		e.emit(carrier.ThreadID, observability.EventError, "retry", err.Error())
		return state, domain.NewEngineError(domain.ErrWorkerFailed, "retry", "retry scheduler run failed", err)
	}

	patch := e.batchPatch(batch, "retry", start)
	patch.Status = statusPtr(domain.StatusEvaluating)
	next, cerr := e.commit(ctx, carrier.ThreadID, state, patch)
	e.emit(carrier.ThreadID, observability.EventNodeEnd, "retry", "")
	return next, cerr
}

func (e *Engine) runSynthesize(ctx context.Context, carrier domain.ContextCarrier, state domain.RunState) (domain.RunState, error) {
	start := time.Now()
	e.emit(carrier.ThreadID, observability.EventNodeStart, "synthesize", "")

	out := e.cfg.Synthesizer.Synthesize(ctx, state.Intent, state.WorkerResults)

	status := domain.StatusCompleted
	if out.ResponseType == domain.ResponseError {
		status = domain.StatusFailed
	}

	if e.cfg.Cache != nil && out.ResponseType == domain.ResponseAnswer {
		key := cache.Fingerprint(state.Query, carrier.UserID, carrier.SessionID, state.Entities)
		if encoded, err := encodeSources(out.Sources); err == nil {
			e.cfg.Cache.Set(key, cache.Entry{
				FinalAnswer:  out.FinalAnswer,
				Sources:      encoded,
				ResponseType: string(out.ResponseType),
				CachedAt:     time.Now(),
			})
		}
	}

	patch := statestore.Patch{
		FinalAnswer:    &out.FinalAnswer,
		Sources:        out.Sources,
		ResponseType:   &out.ResponseType,
		Status:         &status,
		EndedAt:        timePtr(time.Now()),
		PerNodeTimings: []domain.NodeTiming{{Node: "synthesize", Elapsed: time.Since(start)}},
		AgentPath:      []string{"synthesize"},
	}
	if out.ResponseType == domain.ResponseError {
		// No worker produced a usable result: record error_kind=worker_failed
		// (spec.md section 7) and the per-worker detail behind it.
		errs := make(map[string]string, len(state.WorkerResults))
		for name, r := range state.WorkerResults {
			if r.Status == domain.WorkerSuccess {
				continue
			}
			if r.Error != "" {
				errs[name] = r.Error
			} else {
				errs[name] = string(r.Status)
			}
		}
		patch.Errors = errs
		patch.ErrorCounts = map[string]int{string(domain.ErrWorkerFailed): 1}
	}
	next, cerr := e.commit(ctx, carrier.ThreadID, state, patch)
	e.emit(carrier.ThreadID, observability.EventNodeEnd, "synthesize", string(status))
	return next, cerr
}

// failRun commits a terminal failed status carrying the triggering error,
// used both for phase errors and for run-wide timeout/cancellation.
func (e *Engine) failRun(ctx context.Context, threadID string, state domain.RunState, kind domain.ErrorKind, nodeID string, cause error) (domain.RunState, error) {
	msg := "run failed"
	if cause != nil {
		msg = cause.Error()
	}
	patch := statestore.Patch{
		Status:      statusPtr(domain.StatusFailed),
		Errors:      map[string]string{nodeID: msg},
		ErrorCounts: map[string]int{string(kind): 1},
		EndedAt:     timePtr(time.Now()),
	}
	// Use a background context for the terminal commit: ctx may already be
	// the one that just expired/cancelled.
	commitCtx := ctx
	if ctx.Err() != nil {
		commitCtx = context.Background()
	}
	next, cerr := e.commit(commitCtx, threadID, state, patch)
	if cerr != nil {
		return state, domain.NewEngineError(kind, nodeID, msg, cause)
	}
	e.emit(threadID, observability.EventError, nodeID, msg)
	return next, domain.NewEngineError(kind, nodeID, msg, cause)
}

// commit applies patch against the store with optimistic-concurrency
// conflict retry: on ErrVersionConflict it reloads the current document
// and retries the same patch against the fresh base version, bounded by
// MaxCommitAttempts.
func (e *Engine) commit(ctx context.Context, threadID string, state domain.RunState, patch statestore.Patch) (domain.RunState, error) {
	version := state.Version
	for attempt := 0; attempt < e.cfg.MaxCommitAttempts; attempt++ {
		newVersion, err := e.cfg.Store.Commit(ctx, threadID, version, patch)
		if err == nil {
			next := statestore.Apply(state, patch)
			next.ThreadID = threadID
			next.Version = newVersion
			return next, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return state, domain.NewEngineError(domain.ErrStateStoreUnavailable, "commit", "state store commit failed", err)
		}
		reloaded, loadErr := e.cfg.Store.Load(ctx, threadID)
		if loadErr != nil {
			return state, domain.NewEngineError(domain.ErrStateStoreUnavailable, "commit", "reload after version conflict failed", loadErr)
		}
		state = reloaded
		version = state.Version
	}
	return state, domain.NewEngineError(domain.ErrStateStoreUnavailable, "commit", "exhausted retries on version conflict", nil)
}

// GetState returns the checkpointed RunState for threadID.
func (e *Engine) GetState(ctx context.Context, threadID string) (domain.RunState, error) {
	return e.cfg.Store.Load(ctx, threadID)
}

// ListThreads proxies to the configured Store.
func (e *Engine) ListThreads(ctx context.Context, sessionID string, limit int) ([]domain.ThreadSummary, error) {
	return e.cfg.Store.ListThreads(ctx, sessionID, limit)
}

// DeleteThread removes a thread's checkpointed state and closes any open
// StreamEvents subscriptions for it.
func (e *Engine) DeleteThread(ctx context.Context, threadID string) error {
	e.streamsMu.Lock()
	for _, em := range e.streams[threadID] {
		em.Close()
	}
	delete(e.streams, threadID)
	e.streamsMu.Unlock()

	return e.cfg.Store.Delete(ctx, threadID)
}

// StreamEvents returns a channel of observability.Event for threadID. The
// channel is closed when the caller invokes Close or DeleteThread;
// consumers that stop reading simply miss subsequent events rather than
// blocking the run, per ChannelEmitter's non-blocking contract.
func (e *Engine) StreamEvents(threadID string) <-chan observability.Event {
	em := observability.NewChannelEmitter(64)
	e.streamsMu.Lock()
	e.streams[threadID] = append(e.streams[threadID], em)
	e.streamsMu.Unlock()
	return em.Ch
}

// Close releases every open StreamEvents subscription.
func (e *Engine) Close() error {
	e.streamsMu.Lock()
	defer e.streamsMu.Unlock()
	for _, emitters := range e.streams {
		for _, em := range emitters {
			em.Close()
		}
	}
	e.streams = make(map[string][]*observability.ChannelEmitter)
	return nil
}

func (e *Engine) emit(threadID string, typ observability.EventType, name, content string) {
	ev := observability.Event{Type: typ, ThreadID: threadID, Name: name, Content: content, Timestamp: time.Now()}
	if e.cfg.Emitter != nil {
		e.cfg.Emitter.Emit(ev)
	}
	e.streamsMu.Lock()
	subs := e.streams[threadID]
	e.streamsMu.Unlock()
	for _, em := range subs {
		em.Emit(ev)
	}
}

func (e *Engine) incCacheHit() {
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.IncCacheHit()
	}
}

func (e *Engine) incCacheMiss() {
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.IncCacheMiss()
	}
}

// currentlyFailed derives the live failed-worker set from the most recent
// merged WorkerResults, rather than relying on RunState's cumulative
// FailedWorkers ledger, so a worker that succeeds on retry is no longer
// considered failed even though the ledger (additive by Patch semantics)
// still lists its earlier attempt. Only WorkerFailed/WorkerTimeout count:
// a WorkerSkipped step was never run itself — it was skipped because an
// ancestor failed (reason dependency_failed) or an upstream sequential
// step failed (reason upstream_failure) — and spec.md section 7 is
// explicit that dependency_failed "is a terminal decision for that step;
// never retried in isolation (its ancestor is)", so it must not be fed
// into the Evaluator's failed-worker input or it would end up in
// RetryWorkerSet and get retried on its own.
func currentlyFailed(results map[string]domain.WorkerResult) map[string]bool {
	out := make(map[string]bool, len(results))
	for name, r := range results {
		if r.Status == domain.WorkerFailed || r.Status == domain.WorkerTimeout {
			out[name] = true
		}
	}
	return out
}

// retrySubsetPlan extracts the steps named by retrySet from plan,
// preserving their original StepID/Dependencies/Timeout/Retry policy so
// the scheduler runs them under the same per-step contract, grounded on
// planner.stepIDFor's "step_"+workerName convention.
//
// retrySet (built from currentlyFailed, above) never contains a
// dependency-skipped worker. But a descendant of a retried step may
// itself have been dependency-skipped in the first pass, and per
// spec.md's "never retried in isolation (its ancestor is)" clause such a
// descendant is neither retried on its own nor dropped from the subset:
// it is carried along with its original dependency edges intact, so the
// scheduler reruns it only if its ancestor actually succeeds this time,
// and otherwise reports it skipped/dependency_failed again.
func retrySubsetPlan(plan domain.ExecutionPlan, retrySet map[string]bool) domain.ExecutionPlan {
	byID := make(map[string]domain.PlanStep, len(plan.Steps))
	for _, s := range plan.Steps {
		byID[s.StepID] = s
	}

	included := make(map[string]bool, len(plan.Steps))
	var order []string
	for _, s := range plan.Steps {
		if retrySet[s.WorkerName] {
			included[s.StepID] = true
			order = append(order, s.StepID)
		}
	}
	for changed := true; changed; {
		changed = false
		for _, s := range plan.Steps {
			if included[s.StepID] {
				continue
			}
			for _, dep := range s.Dependencies {
				if included[dep] {
					included[s.StepID] = true
					order = append(order, s.StepID)
					changed = true
					break
				}
			}
		}
	}
	sort.Strings(order)

	var steps []domain.PlanStep
	hasDeps := false
	for _, id := range order {
		s := byID[id]
		if retrySet[s.WorkerName] {
			// This step's own ancestors already succeeded in the initial
			// pass (otherwise it would have been skipped, not failed), so
			// it is a root in the subset plan.
			s.Dependencies = nil
		} else {
			hasDeps = hasDeps || len(s.Dependencies) > 0
		}
		steps = append(steps, s)
	}

	strategy := domain.StrategySequential
	switch {
	case hasDeps:
		strategy = domain.StrategyDAG
	case len(steps) > 1:
		strategy = domain.StrategyParallel
	}
	return domain.ExecutionPlan{Steps: steps, Strategy: strategy}
}

func statusPtr(s domain.RunStatus) *domain.RunStatus { return &s }
func timePtr(t time.Time) *time.Time                 { return &t }

func encodeSources(sources []domain.Source) ([]byte, error) {
	return json.Marshal(sources)
}

func decodeSources(raw []byte) ([]domain.Source, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []domain.Source
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
