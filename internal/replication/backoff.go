package replication

import (
	"math/rand/v2"
	"time"
)

// backoffDelay returns the wait before retry number attempt (0-based):
// base doubled per attempt, capped at maxDelay, with ±25% jitter.
func backoffDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < attempt && delay < maxDelay; i++ {
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}

	jitter := time.Duration(float64(delay) * 0.25 * (rand.Float64()*2 - 1))
	delay += jitter
	if delay < 0 {
		delay = base
	}
	return delay
}
