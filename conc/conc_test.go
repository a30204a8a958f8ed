package conc_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ionforge/ioncore/conc"
)

func TestSynchronizerWaitUntilWakesOnSignal(t *testing.T) {
	s := conc.NewSynchronizer()
	ready := false

	done := make(chan struct{})
	go func() {
		s.Lock()
		s.WaitUntil(func() bool { return ready })
		s.Unlock()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	s.Lock()
	ready = true
	s.Signal()
	s.Unlock()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter never woke")
	}
}

func TestAutoLockUnlockIsIdempotent(t *testing.T) {
	s := conc.NewSynchronizer()
	a := conc.Lock(s)
	a.Unlock()
	assert.NotPanics(t, func() { a.Unlock() })
}

func TestSPSCQueuePushPopOrder(t *testing.T) {
	q := conc.NewSPSCQueue[int](4)
	require.True(t, q.TryPush(1))
	require.True(t, q.TryPush(2))

	v, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = q.TryPop()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = q.TryPop()
	assert.False(t, ok)
}

func TestSPSCQueueRejectsPushWhenFull(t *testing.T) {
	q := conc.NewSPSCQueue[int](2)
	require.True(t, q.TryPush(1))
	require.True(t, q.TryPush(2))
	assert.False(t, q.TryPush(3))
}

func TestMPSCQueueDrainsAllConcurrentPushes(t *testing.T) {
	q := conc.NewMPSCQueue[int]()
	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(v int) {
			defer wg.Done()
			q.Push(v)
		}(i)
	}
	wg.Wait()

	seen := 0
	for {
		_, ok := q.Pop()
		if !ok {
			break
		}
		seen++
	}
	assert.Equal(t, n, seen)
}

func TestMPMCQueueBlocksUntilCapacityAvailable(t *testing.T) {
	q := conc.NewMPMCQueue[int](1)
	require.True(t, q.Push(1))

	pushed := make(chan bool, 1)
	go func() { pushed <- q.Push(2) }()

	select {
	case <-pushed:
		t.Fatal("push should have blocked while queue was full")
	case <-time.After(20 * time.Millisecond):
	}

	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	select {
	case ok := <-pushed:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("push never unblocked after Pop freed capacity")
	}
}

func TestMPMCQueueCloseUnblocksWaiters(t *testing.T) {
	q := conc.NewMPMCQueue[int](1)
	popped := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		popped <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-popped:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("pop never unblocked after Close")
	}
}
