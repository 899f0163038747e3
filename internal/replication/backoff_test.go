package replication

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	base, maxDelay := 100*time.Millisecond, time.Second

	for attempt, want := range []time.Duration{100, 200, 400, 800, 1000, 1000} {
		want *= time.Millisecond
		for range 20 {
			got := backoffDelay(attempt, base, maxDelay)
			assert.GreaterOrEqual(t, got, want*3/4, "attempt %d", attempt)
			assert.LessOrEqual(t, got, want*5/4, "attempt %d", attempt)
		}
	}

	assert.Zero(t, backoffDelay(3, 0, maxDelay))
}
