package store

import (
	"math/rand/v2"
	"time"

	"github.com/sethvargo/go-retry"
)

// DefaultBaseDelay is the base of the exponential retry schedule.
const DefaultBaseDelay = 500 * time.Millisecond

// jitterFunc returns a delay in [0, limit).
type jitterFunc func(limit time.Duration) time.Duration

func uniformJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return rand.N(limit)
}

// newBackoff returns the schedule base*2^n + jitter(base) for n = 0, 1, ...,
// allowing attempts-1 retries.
func newBackoff(attempts int, base time.Duration, jitter jitterFunc) retry.Backoff {
	if jitter == nil {
		jitter = uniformJitter
	}
	var n uint
	b := retry.BackoffFunc(func() (time.Duration, bool) {
		d := base<<n + jitter(base)
		n++
		return d, false
	})
	if attempts < 1 {
		attempts = 1
	}
	return retry.WithMaxRetries(uint64(attempts-1), b)
}
