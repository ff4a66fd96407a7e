// Package domain defines the shared data model for the QA orchestration
// engine: queries, intents, execution plans, worker results, and the
// checkpointable RunState that threads through every node of the pipeline.
package domain

import "time"

// Query is the immutable user input plus a request id and arrival timestamp.
type Query struct {
	RequestID string    `json:"request_id"`
	Text      string    `json:"text"`
	ArrivedAt time.Time `json:"arrived_at"`
}

// ContextCarrier holds per-run metadata that is read-only during execution.
// It is threaded separately to every node rather than merged into RunState.
type ContextCarrier struct {
	UserID            string            `json:"user_id"`
	SessionID         string            `json:"session_id"`
	ThreadID          string            `json:"thread_id"`
	RequestID         string            `json:"request_id"`
	Language          string            `json:"language"`
	Debug             bool              `json:"debug"`
	CredentialHandles map[string]string `json:"credential_handles"`
	InitialQuery      string            `json:"initial_query"`
}

// IntentKind enumerates the recognized query intents.
type IntentKind string

const (
	IntentSearch         IntentKind = "search"
	IntentCalculation    IntentKind = "calculation"
	IntentRecommendation IntentKind = "recommendation"
	IntentConsultation   IntentKind = "consultation"
	IntentUnclear        IntentKind = "unclear"
	IntentIrrelevant     IntentKind = "irrelevant"
	IntentError          IntentKind = "error"
)

// IntentRecord is the Analyzer's output: classified intent, extracted
// entities, and a confidence score.
type IntentRecord struct {
	Kind       IntentKind     `json:"kind"`
	Entities   map[string]any `json:"entities"`
	Confidence float64        `json:"confidence"`
	Keywords   []string       `json:"keywords"`
	Reasoning  string         `json:"reasoning"`
}

// Strategy names the scheduling strategy assigned to an ExecutionPlan.
type Strategy string

const (
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
	StrategyDAG        Strategy = "dag"
)

// BackoffKind names the retry backoff curve for a PlanStep.
type BackoffKind string

const (
	BackoffConstant    BackoffKind = "constant"
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

// RetryPolicy configures how many times, and with what backoff, a failed
// step may be retried.
type RetryPolicy struct {
	MaxRetries   int           `json:"max_retries"`
	Backoff      BackoffKind   `json:"backoff"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
}

// PlanStep is one worker invocation within an ExecutionPlan.
type PlanStep struct {
	StepID       string         `json:"step_id"`
	Order        int            `json:"order"`
	WorkerName   string         `json:"worker_name"`
	Parameters   map[string]any `json:"parameters"`
	Dependencies []string       `json:"dependencies"`
	Timeout      time.Duration  `json:"timeout"`
	Retry        RetryPolicy    `json:"retry"`
}

// ExecutionPlan is the Planner's output: an ordered or dependency-graphed
// list of worker invocations, frozen once produced.
type ExecutionPlan struct {
	Steps    []PlanStep `json:"steps"`
	Strategy Strategy   `json:"strategy"`
}

// StepByID returns the step with the given id, or ok=false if absent.
func (p ExecutionPlan) StepByID(id string) (PlanStep, bool) {
	for _, s := range p.Steps {
		if s.StepID == id {
			return s, true
		}
	}
	return PlanStep{}, false
}

// WorkerStatus enumerates the terminal states of a worker invocation.
type WorkerStatus string

const (
	WorkerSuccess WorkerStatus = "success"
	WorkerFailed  WorkerStatus = "failed"
	WorkerSkipped WorkerStatus = "skipped"
	WorkerTimeout WorkerStatus = "timeout"
)

// WorkerResult is the outcome of one worker attempt.
type WorkerResult struct {
	WorkerName string         `json:"worker_name"`
	Status     WorkerStatus   `json:"status"`
	Payload    map[string]any `json:"payload"`
	Confidence float64        `json:"confidence"`
	Elapsed    time.Duration  `json:"elapsed"`
	Error      string         `json:"error,omitempty"`
	Metadata   ResultMetadata `json:"metadata"`
}

// ResultMetadata carries bookkeeping for a WorkerResult.
type ResultMetadata struct {
	Attempt   int       `json:"attempt"`
	StartedAt time.Time `json:"started_at"`
	Reason    string    `json:"reason,omitempty"` // e.g. "dependency_failed", "upstream_failure"
}

// RunStatus enumerates the lifecycle states of a RunState.
type RunStatus string

const (
	StatusInitialized   RunStatus = "initialized"
	StatusAnalyzing     RunStatus = "analyzing"
	StatusPlanning      RunStatus = "planning"
	StatusScheduling    RunStatus = "scheduling"
	StatusEvaluating    RunStatus = "evaluating"
	StatusAwaitingRetry RunStatus = "awaiting_retry"
	StatusSynthesizing  RunStatus = "synthesizing"
	StatusCompleted     RunStatus = "completed"
	StatusFailed        RunStatus = "failed"
	StatusCancelled     RunStatus = "cancelled"
)

// ResponseType enumerates the final answer's presentation kind.
type ResponseType string

const (
	ResponseAnswer    ResponseType = "answer"
	ResponseGuidance  ResponseType = "guidance"
	ResponseError     ResponseType = "error"
	ResponseProcessed ResponseType = "processed"
)

// Source is a citation-like reference surfaced by the Synthesizer.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
	Note  string `json:"note,omitempty"`
}

// RunState is the checkpointable document for one thread. Every node in
// the pipeline reads a consistent copy and returns a partial update that
// the StateStore commits atomically; see statestore.Patch for the
// field-level merge policy.
type RunState struct {
	// identifiers
	ThreadID  string `json:"thread_id"`
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`

	// inputs
	Query    string         `json:"query"`
	Intent   IntentRecord   `json:"intent"`
	Entities map[string]any `json:"entities"`

	// plan
	Plan        ExecutionPlan `json:"plan"`
	Strategy    Strategy      `json:"strategy"`
	StepCursor  int           `json:"step_cursor"`

	// execution
	WorkerResults map[string]WorkerResult `json:"worker_results"`
	FailedWorkers map[string]bool         `json:"failed_workers"`
	RetryCount    int                     `json:"retry_count"`
	StepStates    map[string]WorkerStatus `json:"step_states"`

	// evaluation
	QualityScore     float64         `json:"quality_score"`
	NeedsRetry       bool            `json:"needs_retry"`
	RetryWorkerSet   map[string]bool `json:"retry_worker_set"`
	EvaluationNotes  string          `json:"evaluation_notes"`

	// output
	FinalAnswer  string       `json:"final_answer"`
	Sources      []Source     `json:"sources"`
	ResponseType ResponseType `json:"response_type"`

	// lifecycle
	Status          RunStatus      `json:"status"`
	Errors          map[string]string `json:"errors"`
	ErrorCounts     map[string]int    `json:"error_counts"`
	StartedAt       time.Time         `json:"started_at"`
	EndedAt         time.Time         `json:"ended_at"`
	PerNodeTimings  []NodeTiming      `json:"per_node_timings"`
	AgentPath       []string          `json:"agent_path"`
	Insights        []string          `json:"insights"`

	// Version is the optimistic-concurrency counter used by
	// statestore.Store.Commit; incremented on every successful commit.
	Version int `json:"version"`
}

// NodeTiming records how long one pipeline phase took, for observability.
type NodeTiming struct {
	Node    string        `json:"node"`
	Elapsed time.Duration `json:"elapsed"`
}

// NewRunState creates the zero-value RunState for a freshly ingested query.
func NewRunState(threadID, sessionID string, q Query) RunState {
	return RunState{
		ThreadID:       threadID,
		SessionID:      sessionID,
		RequestID:      q.RequestID,
		Query:          q.Text,
		WorkerResults:  make(map[string]WorkerResult),
		FailedWorkers:  make(map[string]bool),
		StepStates:     make(map[string]WorkerStatus),
		RetryWorkerSet: make(map[string]bool),
		Errors:         make(map[string]string),
		ErrorCounts:    make(map[string]int),
		Status:         StatusInitialized,
		StartedAt:      q.ArrivedAt,
	}
}

// ThreadSummary is a lightweight projection of a RunState used by
// ListThreads, indexed by (session_id, last_update).
type ThreadSummary struct {
	ThreadID   string    `json:"thread_id"`
	SessionID  string    `json:"session_id"`
	Status     RunStatus `json:"status"`
	LastUpdate time.Time `json:"last_update"`
}
