package worker

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps next with a token-bucket call limiter, grounded on the
// teacher corpus's AdaptiveRateLimiter pattern for wrapping a provider
// client. Workers here are rate-limited per call rather than per token,
// since a specialist's cost is dominated by the downstream source it
// queries (a price API, a facility lookup) rather than LLM token volume.
//
// callsPerSecond <= 0 disables limiting and returns next unchanged.
func RateLimited(next Worker, callsPerSecond float64, burst int) Worker {
	if callsPerSecond <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimitedWorker{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(callsPerSecond), burst),
	}
}

type rateLimitedWorker struct {
	next    Worker
	limiter *rate.Limiter
}

func (w *rateLimitedWorker) Execute(ctx context.Context, in Input) (Output, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return Output{
			Status: StatusFailed,
			Error:  "rate limit wait: " + err.Error(),
		}, nil
	}
	return w.next.Execute(ctx, in)
}
