// Package evaluator scores a completed scheduling batch and decides
// whether the run needs a retry pass, computing a retry delay curve that
// supports constant, linear, and exponential backoff kinds selected via
// configuration.
package evaluator

import (
	"math/rand"
	"time"

	"github.com/dshills/qa-orchestrator/internal/domain"
)

// Options configures evaluation thresholds.
type Options struct {
	MaxRetries           int
	MinQualityThreshold  float64
	LowConfidenceThreshold float64
}

// DefaultOptions returns the evaluator's built-in default thresholds.
func DefaultOptions() Options {
	return Options{
		MaxRetries:             2,
		MinQualityThreshold:    0.6,
		LowConfidenceThreshold: 0.4,
	}
}

// Outcome is the Evaluator's decision for one pass.
type Outcome struct {
	QualityScore   float64
	NeedsRetry     bool
	RetryWorkerSet map[string]bool
	Notes          string
}

// Evaluator scores worker_results and decides retry eligibility.
type Evaluator struct {
	opts Options
}

// New builds an Evaluator.
func New(opts Options) *Evaluator {
	if opts.MaxRetries == 0 && opts.MinQualityThreshold == 0 && opts.LowConfidenceThreshold == 0 {
		opts = DefaultOptions()
	}
	return &Evaluator{opts: opts}
}

// priority mirrors the planner's rule-table priority order, used as the
// weighted-mean's weight when scoring a batch. Workers with no declared
// priority default to 1 (equal weight).
var priority = map[string]float64{
	"price_search": 3,
	"finance":      2,
	"legal":        2,
	"location":     1,
}

// Evaluate scores a batch's results and decides whether a retry pass is
// warranted, based on overall quality and any individual low-confidence
// successes.
func (e *Evaluator) Evaluate(results map[string]domain.WorkerResult, failedWorkers map[string]bool, retryCount int) Outcome {
	qualityScore := weightedMean(results)

	anyFailed := len(failedWorkers) > 0
	belowThreshold := qualityScore < e.opts.MinQualityThreshold
	anyLowConfidence := false
	for _, r := range results {
		if r.Status == domain.WorkerSuccess && r.Confidence < e.opts.LowConfidenceThreshold {
			anyLowConfidence = true
			break
		}
	}

	needsRetry := (anyFailed && retryCount < e.opts.MaxRetries) ||
		(belowThreshold && anyLowConfidence && retryCount < e.opts.MaxRetries)

	retrySet := map[string]bool{}
	for name := range failedWorkers {
		retrySet[name] = true
	}
	for name, r := range results {
		if r.Status == domain.WorkerSuccess && r.Confidence < e.opts.LowConfidenceThreshold {
			retrySet[name] = true
		}
	}
	if !needsRetry {
		retrySet = map[string]bool{}
	}

	return Outcome{
		QualityScore:   qualityScore,
		NeedsRetry:     needsRetry,
		RetryWorkerSet: retrySet,
	}
}

// weightedMean computes weighted_mean(confidence, weight=priority) over
// successful workers only; an empty successful set scores 0.
func weightedMean(results map[string]domain.WorkerResult) float64 {
	var sumWeighted, sumWeights float64
	for name, r := range results {
		if r.Status != domain.WorkerSuccess {
			continue
		}
		w := priority[name]
		if w == 0 {
			w = 1
		}
		sumWeighted += r.Confidence * w
		sumWeights += w
	}
	if sumWeights == 0 {
		return 0
	}
	return sumWeighted / sumWeights
}

// Backoff computes the delay before relaunching a subset plan, supporting
// constant, linear, and exponential curves with jitter and a max-delay
// clamp.
func Backoff(policy domain.RetryPolicy, retryCount int, rng *rand.Rand) time.Duration {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	var delay time.Duration
	switch policy.Backoff {
	case domain.BackoffLinear:
		delay = policy.InitialDelay * time.Duration(retryCount+1)
	case domain.BackoffExponential:
		delay = policy.InitialDelay * time.Duration(1<<uint(retryCount))
	default: // BackoffConstant
		delay = policy.InitialDelay
	}
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	if policy.InitialDelay > 0 {
		delay += time.Duration(rng.Int63n(int64(policy.InitialDelay)))
	}
	return delay
}
