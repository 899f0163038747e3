package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/doc"
)

var _ doc.Clock = (*DeterministicClock)(nil)

func TestDeterministicClock_StartsAtStart(t *testing.T) {
	clock := NewDeterministicClock(1000)
	assert.Equal(t, int64(1000), clock.Current())
	assert.Equal(t, int64(1001), clock.Now())
}

func TestDeterministicClock_NowIncrementsMonotonically(t *testing.T) {
	clock := NewDeterministicClock(0)

	assert.Equal(t, int64(1), clock.Now())
	assert.Equal(t, int64(2), clock.Now())
	assert.Equal(t, int64(3), clock.Now())
	assert.Equal(t, int64(3), clock.Current())
}

func TestDeterministicClock_Advance(t *testing.T) {
	clock := NewDeterministicClock(10)
	clock.Advance(500)
	assert.Equal(t, int64(510), clock.Current())
	assert.Equal(t, int64(511), clock.Now())
}

func TestDeterministicClock_Reset(t *testing.T) {
	clock := NewDeterministicClock(0)
	clock.Now()
	clock.Now()

	clock.Reset(0)
	assert.Equal(t, int64(0), clock.Current())
	assert.Equal(t, int64(1), clock.Now())
}

func TestDeterministicClock_ThreadSafe(t *testing.T) {
	clock := NewDeterministicClock(0)
	const numGoroutines = 50
	const callsPerGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	results := make([][]int64, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		results[i] = make([]int64, callsPerGoroutine)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				results[idx][j] = clock.Now()
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, row := range results {
		for _, v := range row {
			require.False(t, seen[v], "duplicate value %d", v)
			seen[v] = true
		}
	}
	assert.Len(t, seen, numGoroutines*callsPerGoroutine)
}

func TestDeterministicClock_Deterministic(t *testing.T) {
	clock1 := NewDeterministicClock(0)
	clock2 := NewDeterministicClock(0)

	for i := 0; i < 100; i++ {
		assert.Equal(t, clock1.Now(), clock2.Now())
	}
}
