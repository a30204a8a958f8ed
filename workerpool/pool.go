package workerpool

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// stealRetryInterval bounds how long an idle worker parks on its own queue
// before giving TrySteal another pass at sibling queues, keeping §4.5's
// steal protocol live during normal operation rather than only at shutdown.
const stealRetryInterval = 2 * time.Millisecond

// MainQueueIndex is the reserved index of the main-thread queue.
const MainQueueIndex = 0

// Pool owns one queue per worker plus the main-thread queue at index 0,
// a companion pool for long tasks, and the steal protocol between queues.
// Grounded on src/ion/jobs/ThreadPool.cpp.
type Pool struct {
	queues []*Queue
	wg     sync.WaitGroup

	joblessHint atomic.Int32 // most recently reported empty queue index, or -1

	longTasks *Queue
	// companionSem gates each long task a companion worker runs. It is
	// sized to companionN, the number of companion goroutines, so every
	// companion can hold a permit at once.
	companionSem *semaphore.Weighted
	companionWG  sync.WaitGroup
	companionN   int

	closed atomic.Bool
}

// New constructs a Pool with numWorkers worker queues (in addition to the
// main-thread queue at index 0) and numCompanions long-task workers. Values
// below 1 are raised to 1, so every Pool has at least one worker and one
// companion.
func New(numWorkers, numCompanions int) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	p := &Pool{
		longTasks:    NewQueue(),
		companionSem: semaphore.NewWeighted(int64(max(numCompanions, 1))),
		companionN:   max(numCompanions, 1),
	}
	p.joblessHint.Store(-1)

	// queue 0 is the main-thread queue: no goroutine services it here, the
	// caller's own goroutine drains it via WorkOnMainThread[NoBlock].
	p.queues = append(p.queues, NewQueue())

	for i := 0; i < numWorkers; i++ {
		q := NewQueue()
		p.queues = append(p.queues, q)
		idx := i + 1
		p.wg.Add(1)
		go p.workerLoop(idx, q)
	}

	for i := 0; i < p.companionN; i++ {
		p.companionWG.Add(1)
		go p.companionLoop()
	}

	return p
}

// NumQueues reports the total queue count, including the main-thread queue.
func (p *Pool) NumQueues() int {
	return len(p.queues)
}

// QueueLen reports the pending task count of queue idx, for parallel-for's
// available-parallelism probe.
func (p *Pool) QueueLen(idx int) int {
	if idx < 0 || idx >= len(p.queues) {
		return 0
	}
	return p.queues[idx].Len()
}

// PushTask appends a task to queueHint if valid, else to the queue most
// recently reported jobless, else to a random non-main queue, matching the
// submission policy in §4.5.
func (p *Pool) PushTask(t Task, queueHint int) {
	if queueHint > 0 && queueHint < len(p.queues) {
		p.queues[queueHint].Push(t)
		return
	}
	if hint := int(p.joblessHint.Load()); hint > 0 && hint < len(p.queues) {
		p.queues[hint].Push(t)
		return
	}
	n := len(p.queues)
	if n <= 1 {
		p.queues[0].Push(t)
		return
	}
	idx := 1 + rand.Intn(n-1)
	p.queues[idx].Push(t)
}

// PushMainThreadTask appends a task to the main-thread queue (index 0).
func (p *Pool) PushMainThreadTask(t Task) {
	p.queues[MainQueueIndex].Push(t)
}

// PushLongTask appends a task to the companion (I/O) queue.
func (p *Pool) PushLongTask(t Task) {
	p.longTasks.Push(t)
}

// WorkOnMainThread drains the main-thread queue until stopped, blocking
// between tasks. Intended for a dedicated main-thread run loop.
func (p *Pool) WorkOnMainThread() {
	q := p.queues[MainQueueIndex]
	for {
		t, ok := q.WaitForTask()
		if !ok {
			return
		}
		t.Invoke()
	}
}

// WorkOnMainThreadNoBlock runs whatever is currently queued on the main
// thread without blocking for more.
func (p *Pool) WorkOnMainThreadNoBlock() {
	q := p.queues[MainQueueIndex]
	for {
		t, ok := q.PopFront()
		if !ok {
			return
		}
		t.Invoke()
	}
}

// TrySteal attempts, in turn, each sibling queue of excludeIdx, matching
// §4.5's steal protocol.
func (p *Pool) TrySteal(excludeIdx int) (Task, bool) {
	n := len(p.queues)
	start := rand.Intn(n)
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if idx == excludeIdx {
			continue
		}
		if t, ok := p.queues[idx].TryStealBack(); ok {
			return t, true
		}
	}
	return Task{}, false
}

func (p *Pool) workerLoop(idx int, q *Queue) {
	defer p.wg.Done()
	for {
		if t, ok := q.PopFront(); ok {
			t.Invoke()
			if q.Len() == 0 {
				p.joblessHint.Store(int32(idx))
			}
			continue
		}
		if stolen, ok := p.TrySteal(idx); ok {
			stolen.Invoke()
			continue
		}
		if t, ok := q.WaitForTaskTimeout(stealRetryInterval); ok {
			t.Invoke()
			if q.Len() == 0 {
				p.joblessHint.Store(int32(idx))
			}
			continue
		}
		if !q.Running() {
			return
		}
	}
}

func (p *Pool) companionLoop() {
	defer p.companionWG.Done()
	ctx := context.Background()
	for {
		t, ok := p.longTasks.WaitForTask()
		if !ok {
			return
		}
		// Hold a companionSem permit for the task's duration; with the
		// semaphore sized to companionN this never blocks a companion.
		if err := p.companionSem.Acquire(ctx, 1); err != nil {
			return
		}
		t.Invoke()
		p.companionSem.Release(1)
	}
}

// Shutdown stops every queue (main, workers, companions), broadcasts, and
// joins all worker goroutines, returning any tasks that were still queued
// so the caller can report or discard them (§4.5, §7 clean-exit path).
func (p *Pool) Shutdown() []Task {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	var leftover []Task
	for _, q := range p.queues {
		q.Stop()
	}
	p.longTasks.Stop()
	p.wg.Wait()
	p.companionWG.Wait()
	for _, q := range p.queues {
		leftover = append(leftover, q.Drain()...)
	}
	leftover = append(leftover, p.longTasks.Drain()...)
	return leftover
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
