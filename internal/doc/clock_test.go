package doc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLWTClockStrictlyIncreasing(t *testing.T) {
	frozen := time.UnixMilli(1000)
	c := &LWTClock{wall: func() time.Time { return frozen }}

	assert.Equal(t, int64(1000), c.Now())
	assert.Equal(t, int64(1001), c.Now())
	assert.Equal(t, int64(1002), c.Now())
}

func TestLWTClockNeverGoesBackwards(t *testing.T) {
	now := time.UnixMilli(5000)
	c := &LWTClock{wall: func() time.Time { return now }}

	assert.Equal(t, int64(5000), c.Now())
	now = time.UnixMilli(4000)
	assert.Equal(t, int64(5001), c.Now())
	now = time.UnixMilli(9000)
	assert.Equal(t, int64(9000), c.Now())
}

func TestLWTClockConcurrent(t *testing.T) {
	c := NewLWTClock()
	const goroutines, perG = 8, 200

	var mu sync.Mutex
	seen := make(map[int64]bool, goroutines*perG)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perG)
			for i := 0; i < perG; i++ {
				local = append(local, c.Now())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, v := range local {
				seen[v] = true
			}
		}()
	}
	wg.Wait()
	require.Len(t, seen, goroutines*perG)
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", g.Generate())
	assert.Equal(t, "b", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

func TestUUIDv7Generator(t *testing.T) {
	var g UUIDv7Generator
	a, b := g.Generate(), g.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
