package scheduler_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ionforge/ioncore/scheduler"
)

func TestDelegateDeliversItemsInOrder(t *testing.T) {
	var mu sync.Mutex
	var received []int

	d := scheduler.NewDelegate(func(item int) {
		mu.Lock()
		received = append(received, item)
		mu.Unlock()
	})
	defer d.Stop()

	for i := 0; i < 10; i++ {
		d.Post(i)
	}
	d.Stop()

	require.Len(t, received, 10)
	for i, v := range received {
		assert.Equal(t, i, v)
	}
}

func TestDelegateStopDrainsPendingItemsBeforeReturning(t *testing.T) {
	delivered := make(chan int, 3)
	d := scheduler.NewDelegate(func(item int) { delivered <- item })

	d.Post(1)
	d.Post(2)
	d.Post(3)
	d.Stop()

	close(delivered)
	var got []int
	for v := range delivered {
		got = append(got, v)
	}
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestDelegatePostAfterStopDoesNotDeadlock(t *testing.T) {
	d := scheduler.NewDelegate(func(int) {})
	d.Stop()

	done := make(chan struct{})
	go func() {
		d.Post(99)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Post after Stop blocked forever")
	}
}
