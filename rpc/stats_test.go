package rpc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsObserve(t *testing.T) {
	s := newStats()

	s.observe("math.add", 10*time.Millisecond, false)
	s.observe("math.add", 30*time.Millisecond, false)
	s.observe("math.add", 20*time.Millisecond, true)

	snap := s.snapshot()
	require.Contains(t, snap, "math.add")

	m := snap["math.add"]
	assert.Equal(t, int64(3), m.Calls)
	assert.Equal(t, int64(1), m.Errors)
	assert.Equal(t, int64(10), m.MinMs)
	assert.Equal(t, int64(30), m.MaxMs)
	assert.Equal(t, int64(20), m.AvgMs)
}

func TestStatsEmptySnapshot(t *testing.T) {
	s := newStats()
	assert.Empty(t, s.snapshot())
}

func TestStatsConcurrentObserve(t *testing.T) {
	s := newStats()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.observe("math.add", time.Millisecond, j%10 == 0)
			}
		}()
	}
	wg.Wait()

	m := s.snapshot()["math.add"]
	assert.Equal(t, int64(1000), m.Calls)
	assert.Equal(t, int64(100), m.Errors)
}
