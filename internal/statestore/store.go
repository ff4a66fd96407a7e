// Package statestore gives every pipeline node a consistent read of
// domain.RunState and a way to atomically commit its partial update,
// indexed by thread_id. It generalizes the teacher's graph/store.Store[S]
// (step history + labeled checkpoints) into a thread-scoped document store
// with field-level reducer semantics, per spec section 4.1.
package statestore

import (
	"context"
	"time"

	"github.com/dshills/qa-orchestrator/internal/domain"
)

// Patch is a partial update to a RunState, produced by a pipeline node and
// applied by Store.Commit. Unset fields (zero value) are left untouched by
// whole-field-overwrite semantics; the accumulate-not-overwrite fields are
// merged according to the rules documented on each field below.
type Patch struct {
	SessionID  *string               `json:"session_id,omitempty"`
	Query      *string               `json:"query,omitempty"`
	Intent     *domain.IntentRecord  `json:"intent,omitempty"`
	Entities   map[string]any        `json:"entities,omitempty"`

	Plan       *domain.ExecutionPlan `json:"plan,omitempty"`
	Strategy   *domain.Strategy      `json:"strategy,omitempty"`
	StepCursor *int                  `json:"step_cursor,omitempty"`

	// WorkerResults is merged key-by-key into RunState.WorkerResults
	// (last write wins per worker name), never a whole-map overwrite.
	WorkerResults map[string]domain.WorkerResult `json:"worker_results,omitempty"`
	// FailedWorkers is merged (set union) into RunState.FailedWorkers.
	FailedWorkers map[string]bool `json:"failed_workers,omitempty"`
	RetryCount    *int            `json:"retry_count,omitempty"`
	StepStates    map[string]domain.WorkerStatus `json:"step_states,omitempty"`

	QualityScore    *float64        `json:"quality_score,omitempty"`
	NeedsRetry      *bool           `json:"needs_retry,omitempty"`
	RetryWorkerSet  map[string]bool `json:"retry_worker_set,omitempty"`
	EvaluationNotes *string         `json:"evaluation_notes,omitempty"`

	FinalAnswer  *string              `json:"final_answer,omitempty"`
	Sources      []domain.Source      `json:"sources,omitempty"`
	ResponseType *domain.ResponseType `json:"response_type,omitempty"`

	Status *domain.RunStatus `json:"status,omitempty"`
	// Errors is map-merged (last write wins per worker name).
	Errors map[string]string `json:"errors,omitempty"`
	// ErrorCounts is merged by integer addition per kind.
	ErrorCounts map[string]int `json:"error_counts,omitempty"`
	EndedAt     *time.Time     `json:"ended_at,omitempty"`
	// PerNodeTimings is appended.
	PerNodeTimings []domain.NodeTiming `json:"per_node_timings,omitempty"`
	// AgentPath is appended.
	AgentPath []string `json:"agent_path,omitempty"`
	// Insights is appended, preserving order, skipping duplicates already present.
	Insights []string `json:"insights,omitempty"`
}

// Apply merges patch into prev using the field-level reducer policy
// described on Patch's fields, and returns the resulting RunState. Apply
// never mutates prev's maps/slices in place — it copies on write so the
// caller's previous snapshot stays valid for comparison/logging.
func Apply(prev domain.RunState, p Patch) domain.RunState {
	next := prev
	next.WorkerResults = copyResults(prev.WorkerResults)
	next.FailedWorkers = copyBoolSet(prev.FailedWorkers)
	next.StepStates = copyStepStates(prev.StepStates)
	next.RetryWorkerSet = copyBoolSet(prev.RetryWorkerSet)
	next.Errors = copyStringMap(prev.Errors)
	next.ErrorCounts = copyIntMap(prev.ErrorCounts)
	next.PerNodeTimings = append([]domain.NodeTiming{}, prev.PerNodeTimings...)
	next.AgentPath = append([]string{}, prev.AgentPath...)
	next.Insights = append([]string{}, prev.Insights...)
	next.Sources = append([]domain.Source{}, prev.Sources...)

	if p.SessionID != nil {
		next.SessionID = *p.SessionID
	}
	if p.Query != nil {
		next.Query = *p.Query
	}
	if p.Intent != nil {
		next.Intent = *p.Intent
	}
	if p.Entities != nil {
		next.Entities = p.Entities
	}
	if p.Plan != nil {
		next.Plan = *p.Plan
	}
	if p.Strategy != nil {
		next.Strategy = *p.Strategy
	}
	if p.StepCursor != nil {
		next.StepCursor = *p.StepCursor
	}
	for k, v := range p.WorkerResults {
		next.WorkerResults[k] = v
	}
	for k, v := range p.FailedWorkers {
		next.FailedWorkers[k] = v
	}
	if p.RetryCount != nil {
		next.RetryCount = *p.RetryCount
	}
	for k, v := range p.StepStates {
		next.StepStates[k] = v
	}
	if p.QualityScore != nil {
		next.QualityScore = *p.QualityScore
	}
	if p.NeedsRetry != nil {
		next.NeedsRetry = *p.NeedsRetry
	}
	for k, v := range p.RetryWorkerSet {
		next.RetryWorkerSet[k] = v
	}
	if p.EvaluationNotes != nil {
		next.EvaluationNotes = *p.EvaluationNotes
	}
	if p.FinalAnswer != nil {
		next.FinalAnswer = *p.FinalAnswer
	}
	if p.Sources != nil {
		next.Sources = append(next.Sources, p.Sources...)
	}
	if p.ResponseType != nil {
		next.ResponseType = *p.ResponseType
	}
	if p.Status != nil {
		next.Status = *p.Status
	}
	for k, v := range p.Errors {
		next.Errors[k] = v
	}
	for k, v := range p.ErrorCounts {
		next.ErrorCounts[k] += v
	}
	if p.EndedAt != nil {
		next.EndedAt = *p.EndedAt
	}
	next.PerNodeTimings = append(next.PerNodeTimings, p.PerNodeTimings...)
	next.AgentPath = append(next.AgentPath, p.AgentPath...)
	next.Insights = appendUnique(next.Insights, p.Insights)

	return next
}

func appendUnique(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, v := range existing {
		seen[v] = true
	}
	for _, v := range add {
		if !seen[v] {
			existing = append(existing, v)
			seen[v] = true
		}
	}
	return existing
}

func copyResults(m map[string]domain.WorkerResult) map[string]domain.WorkerResult {
	out := make(map[string]domain.WorkerResult, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyBoolSet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyStepStates(m map[string]domain.WorkerStatus) map[string]domain.WorkerStatus {
	out := make(map[string]domain.WorkerStatus, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyIntMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Store provides persistence for RunState, indexed by thread_id, with
// single-writer-per-thread commit semantics. Implementations: memory
// (testing), sqlite (single-process production default), mysql (optional,
// for multi-process deployments) — see the statestore/{memory,sqlite,mysql}
// subpackages, grounded on the teacher's graph/store backends.
type Store interface {
	// Load returns the current RunState for thread_id, or ErrNotFound.
	Load(ctx context.Context, threadID string) (domain.RunState, error)

	// Commit applies patch to the state committed under threadID, checking
	// baseVersion for optimistic concurrency. Returns the new version number
	// on success, or ErrVersionConflict if baseVersion is stale. If no prior
	// state exists (baseVersion == 0), Commit creates the thread's first
	// version of the document.
	Commit(ctx context.Context, threadID string, baseVersion int, patch Patch) (newVersion int, err error)

	// ListThreads returns up to limit ThreadSummary rows for session_id,
	// ordered by most recent update first.
	ListThreads(ctx context.Context, sessionID string, limit int) ([]domain.ThreadSummary, error)

	// Delete removes a thread's state entirely. Subsequent Load calls
	// return ErrNotFound.
	Delete(ctx context.Context, threadID string) error
}
