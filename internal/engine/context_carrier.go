// Package engine wires statestore, worker registry, analyzer, planner,
// scheduler, evaluator, synthesizer, cache, metrics, and observability
// into the top-level WorkflowEngine, grounded on the teacher's
// graph.Engine[S] (Run/RunWithCheckpoint/emitNodeStart/emitNodeEnd),
// generalized into a fixed five-phase pipeline instead of an arbitrary
// user-authored graph.
package engine

import (
	"github.com/dshills/qa-orchestrator/internal/domain"
)

// NewContextCarrier builds the immutable per-run metadata value threaded
// explicitly to every phase of a run, grounded on the teacher's
// contextKey-based run metadata (graph/engine.go's RunIDKey/StepIDKey)
// but made a first-class queryable struct instead of ambient
// context.Context values, since callers need to inspect and test it as
// plain data.
func NewContextCarrier(userID, sessionID, threadID, requestID, language string, debug bool, credentialHandles map[string]string, initialQuery string) domain.ContextCarrier {
	if credentialHandles == nil {
		credentialHandles = make(map[string]string)
	}
	if language == "" {
		language = "ko"
	}
	return domain.ContextCarrier{
		UserID:            userID,
		SessionID:         sessionID,
		ThreadID:          threadID,
		RequestID:         requestID,
		Language:          language,
		Debug:             debug,
		CredentialHandles: credentialHandles,
		InitialQuery:      initialQuery,
	}
}

// Validate reports whether a ContextCarrier has the minimum fields a run
// requires: a thread id to index its checkpointed state by.
func Validate(c domain.ContextCarrier) error {
	if c.ThreadID == "" {
		return domain.NewEngineError(domain.ErrInvalidInput, "context_carrier", "thread_id is required", nil)
	}
	return nil
}
