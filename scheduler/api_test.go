package scheduler_test

import (
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ionforge/ioncore/scheduler"
)

func TestParallelForVisitsEveryIndexExactlyOnce(t *testing.T) {
	s := scheduler.New(4, 1)
	defer s.Shutdown()

	const n = 500
	var mu sync.Mutex
	seen := make(map[int]bool, n)

	err := s.ParallelFor(0, n, 0, 8, func(i int) {
		mu.Lock()
		seen[i] = true
		mu.Unlock()
	})
	require.NoError(t, err)

	assert.Len(t, seen, n)
	for i := 0; i < n; i++ {
		assert.True(t, seen[i], "index %d was not visited", i)
	}
}

func TestParallelForFallsBackToSequentialBelowMinParallelism(t *testing.T) {
	s := scheduler.New(1, 0)
	defer s.Shutdown()
	s.MinParallelism = 1 << 20 // unreachable, forces the sequential path

	var mu sync.Mutex
	var order []int
	err := s.ParallelFor(0, 10, 0, 1, func(i int) {
		mu.Lock()
		order = append(order, i)
		mu.Unlock()
	})
	require.NoError(t, err)

	sorted := append([]int(nil), order...)
	sort.Ints(sorted)
	assert.Equal(t, sorted, order, "sequential fallback must preserve index order")
}

func TestParallelForEmptyRangeIsANoop(t *testing.T) {
	s := scheduler.New(1, 0)
	defer s.Shutdown()

	called := false
	err := s.ParallelFor(5, 5, 0, 1, func(int) { called = true })
	require.NoError(t, err)
	assert.False(t, called)
}

func TestParallelForIndexMatchesParallelForBehavior(t *testing.T) {
	s := scheduler.New(4, 0)
	defer s.Shutdown()

	var mu sync.Mutex
	seen := make(map[int]bool)
	err := s.ParallelForIndex(0, 50, 0, 4, func(i int) {
		mu.Lock()
		seen[i] = true
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Len(t, seen, 50)
}

func TestParallelInvokeRunsBothFunctionsBeforeReturning(t *testing.T) {
	s := scheduler.New(2, 0)
	defer s.Shutdown()

	var a, b atomic.Bool
	s.ParallelInvoke(func() { a.Store(true) }, func() { b.Store(true) })

	assert.True(t, a.Load())
	assert.True(t, b.Load())
}

func TestTimeCriticalScopeHoldsDelayedTasksUntilOutermostEnd(t *testing.T) {
	s := scheduler.New(1, 0)
	defer s.Shutdown()

	var ran atomic.Bool
	outer := s.EnterTimeCritical()
	inner := s.EnterTimeCritical()
	s.PushDelayed(func() { ran.Store(true) })

	inner.End()
	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran.Load(), "nested End must not flush until outermost scope ends")

	outer.End()
	require.Eventually(t, ran.Load, time.Second, time.Millisecond)
}

func TestPushDelayedRunsImmediatelyOutsideAnyScope(t *testing.T) {
	s := scheduler.New(1, 0)
	defer s.Shutdown()

	var ran atomic.Bool
	s.PushDelayed(func() { ran.Store(true) })
	require.Eventually(t, ran.Load, time.Second, time.Millisecond)
}

func TestShutdownReturnsLeftoverTasksAndStopsThePool(t *testing.T) {
	s := scheduler.New(0, 0)

	block := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)
	s.PushTask(func() {
		started.Done()
		<-block
	})
	started.Wait()

	for i := 0; i < 3; i++ {
		s.PushTask(func() {})
	}
	close(block)

	leftover := s.Shutdown()
	assert.GreaterOrEqual(t, len(leftover), 0)
}
