// Package scheduler implements the job scheduler API (C4): Job lifecycle
// with work-donating Wait, ParallelFor/ParallelInvoke, delayed tasks behind
// a time-critical scope, and an in-order Delegate. Grounded on
// src/ion/jobs/{Job.h,JobScheduler.h,ParallelForJob.h}.
package scheduler

import (
	"fmt"
	"sync/atomic"

	"github.com/ionforge/ioncore/conc"
	"github.com/ionforge/ioncore/ionerr"
	"github.com/ionforge/ioncore/workerpool"
)

// Job is immutable after construction; it may be executed any number of
// times (each Execute call enqueues one task) and must be Wait()ed before
// going out of scope. Mirrors ion::Job (src/ion/jobs/Job.h).
type Job struct {
	pool *workerpool.Pool
	fn   func()

	sync              *conc.Synchronizer
	numTasksInProgress atomic.Int32
	tasksAvailable     atomic.Int32
}

// NewJob constructs a Job bound to pool that runs fn once per Execute call.
func NewJob(pool *workerpool.Pool, fn func()) *Job {
	return &Job{pool: pool, fn: fn, sync: conc.NewSynchronizer()}
}

// Execute enqueues one task running fn on queueHint (or the pool's default
// placement policy if queueHint <= 0).
func (j *Job) Execute(queueHint int) {
	j.numTasksInProgress.Add(1)
	j.tasksAvailable.Add(1)
	j.pool.PushTask(workerpool.Task{Run: j.fn, Completer: j}, queueHint)
}

// ExecuteMain enqueues one task on the main-thread queue.
func (j *Job) ExecuteMain() {
	j.numTasksInProgress.Add(1)
	j.tasksAvailable.Add(1)
	j.pool.PushMainThreadTask(workerpool.Task{Run: j.fn, Completer: j})
}

// TaskDone implements workerpool.Completer: it is called by the worker
// pool once the task's Run function returns, decrementing the available and
// in-flight counters and waking any waiter once the in-flight count reaches
// zero.
func (j *Job) TaskDone() {
	j.sync.Lock()
	j.tasksAvailable.Add(-1)
	j.numTasksInProgress.Add(-1)
	if j.numTasksInProgress.Load() == 0 {
		j.sync.Broadcast()
	}
	j.sync.Unlock()
}

// NumTasksInProgress reports the live task count, per the invariant
// tasks_available <= num_tasks_in_progress (§3).
func (j *Job) NumTasksInProgress() int32 {
	return j.numTasksInProgress.Load()
}

// Wait blocks until every task of this job has completed. While tasks are
// in flight, the calling thread first donates work: it steals tasks from
// queues other than selfQueue (TrySteal skips selfQueue) and runs them,
// whichever job they belong to. Once a steal attempt finds nothing, it
// blocks on the job's synchronizer until the in-flight count reaches zero;
// tasks still queued on selfQueue are left to that queue's worker or to
// stealing siblings.
func (j *Job) Wait(selfQueue int) {
	for j.numTasksInProgress.Load() > 0 {
		if t, ok := j.pool.TrySteal(selfQueue); ok {
			t.Invoke()
			continue
		}
		j.sync.Lock()
		j.sync.WaitUntil(func() bool { return j.numTasksInProgress.Load() == 0 })
		j.sync.Unlock()
		return
	}
}

// Destroy verifies the invariant that no tasks remain in progress before
// the Job is discarded, matching Job::~Job's assertion.
func (j *Job) Destroy() error {
	if j.numTasksInProgress.Load() != 0 {
		return fmt.Errorf("scheduler: job destroyed with tasks in progress: %w", ionerr.ErrInvalidState)
	}
	return nil
}
