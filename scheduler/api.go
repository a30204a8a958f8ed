package scheduler

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ionforge/ioncore/workerpool"
)

// Scheduler is the public entry point for ioncore's job scheduler API
// (§6). It wraps a workerpool.Pool and adds parallel-for partitioning,
// delayed tasks behind a time-critical scope, and a minimum-parallelism
// threshold below which ParallelFor runs sequentially.
type Scheduler struct {
	pool *workerpool.Pool

	// MinParallelism is the number of free queues below which ParallelFor
	// falls back to sequential execution (§4.7).
	MinParallelism int

	delayedMu  sync.Mutex
	delayed    []workerpool.Task
	nestDepth  atomic.Int32
}

// New constructs a Scheduler over a freshly built worker pool.
func New(numWorkers, numCompanions int) *Scheduler {
	return &Scheduler{pool: workerpool.New(numWorkers, numCompanions), MinParallelism: 2}
}

// Pool exposes the underlying worker pool, e.g. for the dispatcher (C3) and
// node hierarchy (G1) to push tasks directly.
func (s *Scheduler) Pool() *workerpool.Pool { return s.pool }

// PushTask submits fn to a worker queue (no affinity hint).
func (s *Scheduler) PushTask(fn func()) {
	s.pool.PushTask(workerpool.Task{Run: fn}, 0)
}

// PushIOTask submits fn to the companion (long-task) pool.
func (s *Scheduler) PushIOTask(fn func()) {
	s.pool.PushLongTask(workerpool.Task{Run: fn})
}

// PushBackgroundTask is an alias for PushIOTask: background work is modeled
// identically to I/O work (both must not block a short-task queue).
func (s *Scheduler) PushBackgroundTask(fn func()) {
	s.PushIOTask(fn)
}

// PushMainThreadTask submits fn to the main-thread queue.
func (s *Scheduler) PushMainThreadTask(fn func()) {
	s.pool.PushMainThreadTask(workerpool.Task{Run: fn})
}

// WorkOnMainThread drains the main-thread queue, blocking between tasks.
func (s *Scheduler) WorkOnMainThread() { s.pool.WorkOnMainThread() }

// WorkOnMainThreadNoBlock runs whatever is currently queued on the main
// thread without waiting for more.
func (s *Scheduler) WorkOnMainThreadNoBlock() { s.pool.WorkOnMainThreadNoBlock() }

// freeQueues is a coarse proxy for "available parallelism reported by free
// queues" (§4.7): queues with zero pending tasks right now.
func (s *Scheduler) freeQueues() int {
	n := 0
	for i := 1; i < s.pool.NumQueues(); i++ {
		// count every non-main queue with no queued work right now as free.
		if s.pool.QueueLen(i) == 0 {
			n++
		}
	}
	return n
}

// ParallelFor runs fn once per index in [first, last). It starts up to
// clamp(ceil(N/batch), 1, numQueues) errgroup goroutines, each claiming
// batch-sized ranges from one shared atomic cursor until the range is used
// up; the partition argument is not used. If fewer than MinParallelism
// queues are free, it runs sequentially in index order instead. The
// goroutines are not worker-pool tasks, and the calling goroutine runs no
// indices itself: it only waits for the goroutines to finish. fn has no
// error result and its panics are not recovered, so the returned error is
// always nil.
func (s *Scheduler) ParallelFor(first, last, partition, batch int, fn func(i int)) error {
	n := last - first
	if n <= 0 {
		return nil
	}
	if batch <= 0 {
		batch = 1
	}
	if s.freeQueues() < s.MinParallelism {
		for i := first; i < last; i++ {
			fn(i)
		}
		return nil
	}

	numTasks := ceilDiv(n, batch)
	if numTasks < 1 {
		numTasks = 1
	}
	if maxQ := s.pool.NumQueues(); numTasks > maxQ {
		numTasks = maxQ
	}

	var cursor atomic.Int64
	cursor.Store(int64(first))

	var g errgroup.Group
	for t := 0; t < numTasks; t++ {
		g.Go(func() error {
			for {
				start := cursor.Add(int64(batch)) - int64(batch)
				if start >= int64(last) {
					return nil
				}
				end := start + int64(batch)
				if end > int64(last) {
					end = int64(last)
				}
				for i := start; i < end; i++ {
					fn(int(i))
				}
			}
		})
	}
	return g.Wait()
}

// ParallelForIndex is ParallelFor with begin/end named to match §6's
// parallel_for_index entry point; behavior is identical.
func (s *Scheduler) ParallelForIndex(begin, end, partition, batch int, fn func(i int)) error {
	return s.ParallelFor(begin, end, partition, batch, fn)
}

// ParallelInvoke dispatches fn2 as a one-task job on another queue, runs
// fn1 on the calling goroutine, then waits for fn2.
func (s *Scheduler) ParallelInvoke(fn1, fn2 func()) {
	job := NewJob(s.pool, fn2)
	job.Execute(0)
	fn1()
	job.Wait(0)
}

// TimeCriticalScope marks entry into a nested time-critical section; tasks
// pushed via PushDelayed during any such section are held until the
// outermost scope's End is called, at which point they are flushed
// atomically (§4.7).
type TimeCriticalScope struct {
	s *Scheduler
}

// EnterTimeCritical begins (possibly nested) a time-critical section.
func (s *Scheduler) EnterTimeCritical() *TimeCriticalScope {
	s.nestDepth.Add(1)
	return &TimeCriticalScope{s: s}
}

// End exits the time-critical section; when the last nesting level exits,
// every delayed task is flushed to the pool.
func (sc *TimeCriticalScope) End() {
	if sc.s.nestDepth.Add(-1) == 0 {
		sc.s.delayedMu.Lock()
		pending := sc.s.delayed
		sc.s.delayed = nil
		sc.s.delayedMu.Unlock()
		for _, t := range pending {
			sc.s.pool.PushTask(t, 0)
		}
	}
}

// PushDelayed defers fn's enqueue until the currently entered time-critical
// section(s) end; if no section is entered, fn is pushed immediately.
func (s *Scheduler) PushDelayed(fn func()) {
	if s.nestDepth.Load() == 0 {
		s.PushTask(fn)
		return
	}
	s.delayedMu.Lock()
	s.delayed = append(s.delayed, workerpool.Task{Run: fn})
	s.delayedMu.Unlock()
}

// Shutdown stops the underlying pool, draining and returning any leftover
// tasks.
func (s *Scheduler) Shutdown() []workerpool.Task {
	return s.pool.Shutdown()
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
