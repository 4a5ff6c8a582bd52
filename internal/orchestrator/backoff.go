package orchestrator

import (
	"context"
	"math"
	"time"
)

// maxIterationBackoff caps the nudge-iteration delay computed by
// iterationBackoff.
const maxIterationBackoff = 30 * time.Second

// iterationBackoff returns the delay applied between tool-calling
// iterations that triggered a self-direction nudge: 0.5s, 1.0s, 2.0s,
// then 2*2^(n-2)s, capped. This is distinct from the jittered
// exponential backoff the LLM adapters apply internally for transient
// errors; the orchestrator never retries LLM calls itself.
func iterationBackoff(n int) time.Duration {
	switch {
	case n <= 1:
		return 500 * time.Millisecond
	case n == 2:
		return 1 * time.Second
	case n == 3:
		return 2 * time.Second
	default:
		seconds := 2 * math.Pow(2, float64(n-2))
		d := time.Duration(seconds * float64(time.Second))
		if d > maxIterationBackoff {
			return maxIterationBackoff
		}
		return d
	}
}

// sleepOrDone waits out d, or returns early with ctx.Err() if ctx is
// cancelled first.
func sleepOrDone(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
